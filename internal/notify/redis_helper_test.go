package notify

import (
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/cache"
)

// newTestRedisService starts an in-memory miniredis instance and wires a
// cache.RedisService against it, the same way the teacher's tests stand up a
// disposable Redis for integration-shaped unit tests without a real server.
func newTestRedisService(t *testing.T) *cache.RedisService {
	t.Helper()
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("invalid miniredis port: %v", err)
	}

	svc, err := cache.NewRedisService(&cache.RedisConfig{
		Host:     mr.Host(),
		Port:     port,
		PoolSize: 5,
	})
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}
