package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// RedisClientInterface defines the Redis client interface for testing
type RedisClientInterface interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Info(ctx context.Context, section ...string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
	Close() error
}

// RedisService provides Redis operations used by the notification stores.
// It wraps go-redis with the same correlation-logged, telemetry-aware shape
// the rest of this module uses for external calls.
type RedisService struct {
	client RedisClientInterface
	config *RedisConfig
	ctx    context.Context
}

// CacheEntry represents a cached item with metadata
type CacheEntry struct {
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	TTL       int         `json:"ttl"`
	Version   string      `json:"version"`
}

var (
	// Global Redis service instance
	redisService *RedisService

	// DefaultTTL is used whenever a caller passes a zero TTL to Set.
	DefaultTTL = 3600 // 1 hour
)

// NewRedisService creates a new Redis service instance
func NewRedisService(config *RedisConfig) (*RedisService, error) {
	ctx := telemetry.WithCorrelationID(context.Background(), telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_connection",
		"service":   "cache",
	})

	if config == nil {
		config = getConfigFromEnv()
	}

	logger = logger.WithFields(map[string]interface{}{
		"host":      config.Host,
		"port":      config.Port,
		"db":        config.DB,
		"pool_size": config.PoolSize,
	})

	logger.Info("Establishing Redis connection")

	rdb := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: 3,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	service := &RedisService{
		client: rdb,
		config: config,
		ctx:    ctx,
	}

	logger.Info("Redis connected successfully")
	return service, nil
}

// NewInstrumentedRedisService creates a new Redis service instance with OpenTelemetry instrumentation
func NewInstrumentedRedisService(config *RedisConfig) (*RedisService, error) {
	ctx := telemetry.WithCorrelationID(context.Background(), telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation":       "instrumented_redis_connection",
		"service":         "cache",
		"instrumentation": "opentelemetry",
	})

	if config == nil {
		config = getConfigFromEnv()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.WithError(err).Warn("Failed to attach Redis tracing instrumentation")
	}

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Failed to connect to instrumented Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Instrumented Redis connected successfully")
	return &RedisService{
		client: client,
		config: config,
		ctx:    ctx,
	}, nil
}

// InitializeGlobalRedis initializes the global Redis service
func InitializeGlobalRedis() error {
	service, err := NewRedisService(nil)
	if err != nil {
		return err
	}
	redisService = service
	return nil
}

// GetRedisService returns the global Redis service instance
func GetRedisService() *RedisService {
	if redisService == nil {
		logger := telemetry.GetContextualLogger(context.Background())
		logger.WithFields(map[string]interface{}{
			"operation": "get_redis_service",
			"service":   "cache",
			"error":     "service_not_initialized",
		}).Fatal("Redis service not initialized. Call InitializeGlobalRedis() first.")
	}
	return redisService
}

func getConfigFromEnv() *RedisConfig {
	port, _ := strconv.Atoi(getEnvOrDefault("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	poolSize, _ := strconv.Atoi(getEnvOrDefault("REDIS_POOL_SIZE", "10"))

	return &RedisConfig{
		Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		PoolSize: poolSize,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Set stores a value with TTL
func (r *RedisService) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	expiration := ttl
	if ttl == 0 {
		expiration = time.Duration(DefaultTTL) * time.Second
	}

	return r.client.Set(r.ctx, key, data, expiration).Err()
}

// Get retrieves a string value, undoing the JSON encoding Set applies; a
// stored value that is not a JSON string is returned as is.
func (r *RedisService) Get(key string) (string, error) {
	val, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", fmt.Errorf("key not found: %s", key)
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	var s string
	if err := json.Unmarshal([]byte(val), &s); err == nil {
		return s, nil
	}
	return val, nil
}

// GetWithUnmarshal retrieves a value and unmarshals it
func (r *RedisService) GetWithUnmarshal(key string, dest interface{}) error {
	val, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("key not found: %s", key)
		}
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return json.Unmarshal([]byte(val), dest)
}

// Delete removes a key
func (r *RedisService) Delete(key string) error {
	return r.client.Del(r.ctx, key).Err()
}

// Exists checks if a key exists
func (r *RedisService) Exists(key string) (bool, error) {
	result, err := r.client.Exists(r.ctx, key).Result()
	return result > 0, err
}

// Expire sets TTL for a key
func (r *RedisService) Expire(key string, ttl time.Duration) error {
	return r.client.Expire(r.ctx, key, ttl).Err()
}

// TTL gets remaining time to live
func (r *RedisService) TTL(key string) (time.Duration, error) {
	return r.client.TTL(r.ctx, key).Result()
}

// SetCache stores data with cache metadata
func (r *RedisService) SetCache(key string, data interface{}, ttl int) error {
	entry := CacheEntry{
		Data:      data,
		Timestamp: time.Now(),
		TTL:       ttl,
		Version:   "1.0",
	}
	return r.Set(fmt.Sprintf("cache:%s", key), entry, time.Duration(ttl)*time.Second)
}

// GetCache retrieves cached data
func (r *RedisService) GetCache(key string, dest interface{}) error {
	var entry CacheEntry
	if err := r.GetWithUnmarshal(fmt.Sprintf("cache:%s", key), &entry); err != nil {
		return err
	}

	if time.Since(entry.Timestamp) > time.Duration(entry.TTL)*time.Second {
		return fmt.Errorf("cache entry expired")
	}

	dataBytes, err := json.Marshal(entry.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(dataBytes, dest)
}

// DeleteCache removes cached data
func (r *RedisService) DeleteCache(key string) error {
	return r.Delete(fmt.Sprintf("cache:%s", key))
}

// DeletePattern removes keys matching a pattern
func (r *RedisService) DeletePattern(pattern string) (int64, error) {
	keys, err := r.client.Keys(r.ctx, pattern).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Del(r.ctx, keys...).Result()
}

// Eval runs a Lua script atomically against the keys given. Every atomic
// read-modify-write the notification stores need (dedup check-and-register,
// rate budget consume-and-check) goes through this single round trip rather
// than separate GET/SET calls.
func (r *RedisService) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return r.client.Eval(ctx, script, keys, args...).Result()
}

// HealthCheck verifies Redis connectivity
func (r *RedisService) HealthCheck() bool {
	err := r.client.Ping(r.ctx).Err()
	return err == nil
}

// GetStats returns cache performance statistics parsed out of Redis INFO.
func (r *RedisService) GetStats() map[string]interface{} {
	info, err := r.client.Info(r.ctx, "stats").Result()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	stats := map[string]interface{}{
		"hits":        int64(0),
		"misses":      int64(0),
		"connections": 0,
	}

	for _, line := range strings.Split(info, "\r\n") {
		if strings.Contains(line, "keyspace_hits:") {
			if parts := strings.Split(line, ":"); len(parts) == 2 {
				hits, _ := strconv.ParseInt(parts[1], 10, 64)
				stats["hits"] = hits
			}
		}
		if strings.Contains(line, "keyspace_misses:") {
			if parts := strings.Split(line, ":"); len(parts) == 2 {
				misses, _ := strconv.ParseInt(parts[1], 10, 64)
				stats["misses"] = misses
			}
		}
	}

	if clientInfo, err := r.client.Info(r.ctx, "clients").Result(); err == nil {
		for _, line := range strings.Split(clientInfo, "\r\n") {
			if strings.Contains(line, "connected_clients:") {
				if parts := strings.Split(line, ":"); len(parts) == 2 {
					connections, _ := strconv.Atoi(parts[1])
					stats["connections"] = connections
				}
			}
		}
	}

	return stats
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client
func (r *RedisService) GetClient() *redis.Client {
	if client, ok := r.client.(*redis.Client); ok {
		return client
	}
	return nil
}

// GetContext returns the service context
func (r *RedisService) GetContext() context.Context {
	return r.ctx
}
