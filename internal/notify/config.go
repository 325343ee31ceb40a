package notify

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the service's environment-driven configuration surface, per
// spec §6: dedup window, retry cap, digest and retry scan cadence,
// field-encryption key, provider credentials/enable-flags, and bus
// broker/topic names. Grounded on the teacher's notification/config.go
// LoadConfig pattern (os.Getenv + typed defaults). The per-channel budget
// defaults (DefaultBudgets in ratelimit.go) and the retry-delay schedule
// (retrySchedule in retry.go) are fixed in code and are not part of Config.
type Config struct {
	DedupWindow            time.Duration
	MaxRetryAttempts       int
	DigestEnabled          bool
	DigestCheckInterval    time.Duration
	RetryCheckInterval     time.Duration

	FieldEncryptionKey []byte

	SocketBaseURL string
	SocketAPIKey  string
	SocketEnabled bool

	SMSAPIKey     string
	SMSFromNumber string
	SMSBaseURL    string
	SMSEnabled    bool

	EmailAPIKey   string
	EmailFromAddr string
	EmailBaseURL  string
	EmailEnabled  bool

	PushAPIKey  string
	PushBaseURL string
	PushEnabled bool

	KafkaBrokers     []string
	ConsumerGroupID  string
	IngressTopics    IngressTopics
	AuditTopic       string

	DatabaseURL string
	RedisAddr   string
}

// LoadConfig reads every recognized environment variable named in spec §6,
// falling back to documented defaults for anything unset or malformed.
func LoadConfig() Config {
	cfg := Config{
		DedupWindow:         5 * time.Minute,
		MaxRetryAttempts:    maxRetryAttempts,
		DigestEnabled:       true,
		DigestCheckInterval: 60 * time.Second,
		RetryCheckInterval:  30 * time.Second,
		IngressTopics:       DefaultIngressTopics(),
		AuditTopic:          "notification-audit",
		ConsumerGroupID:     "notification-service",
	}

	if v := os.Getenv("DEDUP_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DedupWindow = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetryAttempts = n
		}
	}
	if v := os.Getenv("DIGEST_ENABLED"); v != "" {
		cfg.DigestEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DIGEST_CHECK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DigestCheckInterval = time.Duration(n) * time.Millisecond
		}
	}

	cfg.FieldEncryptionKey = []byte(os.Getenv("FIELD_ENCRYPTION_KEY"))

	cfg.SocketBaseURL = os.Getenv("SOCKET_GATEWAY_BASE_URL")
	cfg.SocketAPIKey = os.Getenv("SOCKET_GATEWAY_API_KEY")
	cfg.SocketEnabled = os.Getenv("SOCKET_GATEWAY_ENABLED") != "false"

	cfg.SMSAPIKey = os.Getenv("SMS_PROVIDER_API_KEY")
	cfg.SMSFromNumber = os.Getenv("SMS_FROM_NUMBER")
	cfg.SMSBaseURL = os.Getenv("SMS_PROVIDER_BASE_URL")
	cfg.SMSEnabled = os.Getenv("SMS_ENABLED") != "false"

	cfg.EmailAPIKey = os.Getenv("EMAIL_PROVIDER_API_KEY")
	cfg.EmailFromAddr = os.Getenv("EMAIL_FROM_ADDRESS")
	cfg.EmailBaseURL = os.Getenv("EMAIL_PROVIDER_BASE_URL")
	cfg.EmailEnabled = os.Getenv("EMAIL_ENABLED") != "false"

	cfg.PushAPIKey = os.Getenv("PUSH_PROVIDER_API_KEY")
	cfg.PushBaseURL = os.Getenv("PUSH_PROVIDER_BASE_URL")
	cfg.PushEnabled = os.Getenv("PUSH_ENABLED") != "false"

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	} else {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if v := os.Getenv("KAFKA_CONSUMER_GROUP_ID"); v != "" {
		cfg.ConsumerGroupID = v
	}
	if v := os.Getenv("KAFKA_AUDIT_TOPIC"); v != "" {
		cfg.AuditTopic = v
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}

	return cfg
}
