package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/cache"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// dedupKeyPrefix matches the wire pattern named in spec §6:
// dedup:{user}:{kind}:{sourceId}
const dedupKeyPrefix = "dedup"

// DedupResult is the outcome of CheckAndRegister.
type DedupResult struct {
	Duplicate            bool
	OriginalNotificationID string
}

// DedupStore implements the Dedup Store: an atomic check-and-register over a
// (user, kind, sourceID) key with a per-kind TTL window.
type DedupStore interface {
	CheckAndRegister(ctx context.Context, userID string, kind Kind, sourceID, notificationID string, window time.Duration) (DedupResult, error)
	Close() error
}

// dedupCheckAndRegisterScript is a single Lua round trip: if the key is
// unset, set it to notificationID with the window TTL and report "not a
// duplicate"; if set, report the original id without touching the TTL. This
// is the same single-round-trip discipline as the teacher's lock-release
// script in queue.go — two independent GET-then-SET calls would race.
const dedupCheckAndRegisterScript = `
local existing = redis.call("GET", KEYS[1])
if existing then
  return existing
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return false
`

// RedisDedupStore is the production DedupStore, grounded on the teacher's
// queue.go Lua-script pattern for atomic Redis operations.
type RedisDedupStore struct {
	redis *cache.RedisService
}

// NewRedisDedupStore wires a dedup store against a shared Redis instance.
func NewRedisDedupStore(redis *cache.RedisService) *RedisDedupStore {
	return &RedisDedupStore{redis: redis}
}

func dedupKey(userID string, kind Kind, sourceID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", dedupKeyPrefix, userID, kind, sourceID)
}

// CheckAndRegister performs the atomic dedup gate. sourceID == "none" means
// "dedupe by kind+user only in window, no per-event-id dedup" — this is a
// plain sentinel string baked into the key, not a special-cased branch.
func (s *RedisDedupStore) CheckAndRegister(ctx context.Context, userID string, kind Kind, sourceID, notificationID string, window time.Duration) (DedupResult, error) {
	key := dedupKey(userID, kind, sourceID)
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	result, err := s.redis.Eval(ctx, dedupCheckAndRegisterScript, []string{key}, notificationID, windowMs)
	if errors.Is(err, redis.Nil) {
		// The script's `return false` for a fresh registration arrives as a
		// nil reply: the key was just registered, not a duplicate.
		return DedupResult{Duplicate: false}, nil
	}
	if err != nil {
		// Dedup-store unavailability fails open: log a warning and let the
		// request proceed as if it were not a duplicate.
		telemetry.GetContextualLogger(ctx).WithError(err).
			WithField("user_id", userID).Warn("dedup store unavailable, failing open")
		return DedupResult{Duplicate: false}, nil
	}

	switch v := result.(type) {
	case nil:
		return DedupResult{Duplicate: false}, nil
	case string:
		return DedupResult{Duplicate: true, OriginalNotificationID: v}, nil
	case bool:
		return DedupResult{Duplicate: false}, nil
	default:
		return DedupResult{Duplicate: false}, nil
	}
}

func (s *RedisDedupStore) Close() error {
	return nil
}
