package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clearNotifyEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"DEDUP_WINDOW_MS", "MAX_RETRY_ATTEMPTS", "DIGEST_ENABLED", "DIGEST_CHECK_INTERVAL_MS",
		"FIELD_ENCRYPTION_KEY", "SOCKET_GATEWAY_BASE_URL", "SOCKET_GATEWAY_API_KEY", "SOCKET_GATEWAY_ENABLED",
		"SMS_PROVIDER_API_KEY", "SMS_FROM_NUMBER", "SMS_PROVIDER_BASE_URL", "SMS_ENABLED",
		"EMAIL_PROVIDER_API_KEY", "EMAIL_FROM_ADDRESS", "EMAIL_PROVIDER_BASE_URL", "EMAIL_ENABLED",
		"PUSH_PROVIDER_API_KEY", "PUSH_PROVIDER_BASE_URL", "PUSH_ENABLED",
		"KAFKA_BROKERS", "KAFKA_CONSUMER_GROUP_ID", "KAFKA_AUDIT_TOPIC", "DATABASE_URL", "REDIS_ADDR",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearNotifyEnv(t)

	cfg := LoadConfig()
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow)
	assert.Equal(t, maxRetryAttempts, cfg.MaxRetryAttempts)
	assert.True(t, cfg.DigestEnabled)
	assert.Equal(t, 60*time.Second, cfg.DigestCheckInterval)
	assert.True(t, cfg.SocketEnabled)
	assert.True(t, cfg.SMSEnabled)
	assert.True(t, cfg.EmailEnabled)
	assert.True(t, cfg.PushEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "notification-service", cfg.ConsumerGroupID)
	assert.Equal(t, "notification-audit", cfg.AuditTopic)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	clearNotifyEnv(t)
	t.Setenv("DEDUP_WINDOW_MS", "1000")
	t.Setenv("MAX_RETRY_ATTEMPTS", "9")
	t.Setenv("DIGEST_ENABLED", "false")
	t.Setenv("SMS_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092,broker-b:9092")
	t.Setenv("KAFKA_CONSUMER_GROUP_ID", "custom-group")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")

	cfg := LoadConfig()
	assert.Equal(t, time.Second, cfg.DedupWindow)
	assert.Equal(t, 9, cfg.MaxRetryAttempts)
	assert.False(t, cfg.DigestEnabled)
	assert.False(t, cfg.SMSEnabled)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-group", cfg.ConsumerGroupID)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
}

func TestLoadConfigIgnoresMalformedNumericOverrides(t *testing.T) {
	clearNotifyEnv(t)
	t.Setenv("DEDUP_WINDOW_MS", "not-a-number")
	t.Setenv("MAX_RETRY_ATTEMPTS", "-3")

	cfg := LoadConfig()
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow)
	assert.Equal(t, maxRetryAttempts, cfg.MaxRetryAttempts)
}
