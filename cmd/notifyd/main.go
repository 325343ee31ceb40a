// Command notifyd is the composition root for the notification service: it
// wires configuration, storage, provider adapters, and the Router/Retry/
// Digest/Ingestor workers, then runs until SIGTERM/SIGINT with a bounded
// grace window, grounded on the teacher's Worker.Stop() shutdown sequence.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/cache"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/database"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/monitoring"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/notify"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/notify/adapters"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

const shutdownGrace = 30 * time.Second

func main() {
	ctx := telemetry.WithCorrelationID(context.Background(), telemetry.NewCorrelationID())

	logConfig := telemetry.DefaultLogConfig()
	if err := telemetry.InitGlobalLogger(logConfig); err != nil {
		panic(err)
	}
	logger := telemetry.GetContextualLogger(ctx)

	otelShutdown, err := telemetry.InitializeOpenTelemetry(ctx, telemetry.LoadConfigFromEnv())
	if err != nil {
		logger.WithError(err).Warn("failed to initialize OpenTelemetry, continuing without it")
		otelShutdown = func() {}
	}
	defer otelShutdown()

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			logger.WithError(err).Warn("failed to initialize Sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	cfg := notify.LoadConfig()

	db, err := database.NewInstrumentedConnection(databaseConfigFromEnv())
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	redisSvc, err := cache.NewInstrumentedRedisService(redisConfigFromEnv())
	if err != nil {
		logger.WithError(err).Error("failed to connect to redis")
		os.Exit(1)
	}
	defer redisSvc.Close()

	cipher, err := notify.NewFieldCipher(cfg.FieldEncryptionKey)
	if err != nil {
		logger.WithError(err).Error("invalid FIELD_ENCRYPTION_KEY")
		os.Exit(1)
	}

	sqlDB := sqlDBOf(db)
	prefsStore := notify.NewPostgresPreferencesStore(sqlDB, cipher)
	historyStore := notify.NewPostgresHistoryStore(sqlDB)
	dlqStore := notify.NewPostgresDLQStore(sqlDB)
	dedupStore := notify.NewRedisDedupStore(redisSvc)
	budgetStore := notify.NewRedisRateBudgetStore(redisSvc)
	digestQueue := notify.NewRedisDigestQueue(redisSvc)
	userEnumerator := notify.NewPostgresUserEnumerator(sqlDB)

	senders := map[notify.Channel]notify.ChannelSender{
		notify.ChannelSocket: adapters.NewSocketSender(adapters.SocketSenderConfig{
			BaseURL: cfg.SocketBaseURL, APIKey: cfg.SocketAPIKey, Enabled: cfg.SocketEnabled,
		}),
		notify.ChannelSMS: adapters.NewSMSSender(adapters.SMSSenderConfig{
			APIKey: cfg.SMSAPIKey, FromNumber: cfg.SMSFromNumber, BaseURL: cfg.SMSBaseURL, Enabled: cfg.SMSEnabled,
		}),
		notify.ChannelEmail: adapters.NewEmailSender(adapters.EmailSenderConfig{
			APIKey: cfg.EmailAPIKey, FromAddr: cfg.EmailFromAddr, BaseURL: cfg.EmailBaseURL, Enabled: cfg.EmailEnabled,
		}),
		notify.ChannelPush: adapters.NewPushSender(adapters.PushSenderConfig{
			APIKey: cfg.PushAPIKey, BaseURL: cfg.PushBaseURL, Enabled: cfg.PushEnabled,
		}),
	}

	router := notify.NewRouter(dedupStore, prefsStore, budgetStore, digestQueue, historyStore, dlqStore, senders, cipher)
	retryEngine := notify.NewRetryEngine(historyStore, router, cfg.RetryCheckInterval)
	digestEngine := notify.NewDigestEngine(digestQueue, prefsStore, historyStore, senders[notify.ChannelEmail], userEnumerator, cfg.DigestCheckInterval)
	ingestor := notify.NewIngestor(cfg.KafkaBrokers, cfg.ConsumerGroupID, cfg.IngressTopics, router, dlqStore)
	auditPublisher := notify.NewAuditPublisher(cfg.KafkaBrokers, cfg.AuditTopic)
	defer auditPublisher.Close()

	runCtx, cancel := context.WithCancel(ctx)

	var scanners sync.WaitGroup
	scanners.Add(1)
	go func() {
		defer scanners.Done()
		retryEngine.Run(runCtx)
	}()
	if cfg.DigestEnabled {
		scanners.Add(1)
		go func() {
			defer scanners.Done()
			digestEngine.Run(runCtx)
		}()
	}
	go dlqHealthLoop(runCtx, dlqStore)

	ingestErrCh := make(chan error, 1)
	go func() {
		ingestErrCh <- ingestor.Run(runCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-ingestErrCh:
		if err != nil {
			logger.WithError(err).Error("ingestor halted, likely an unwritable DLQ — shutting down")
			monitoring.CaptureWorkerError(runCtx, "ingestor", err)
		}
	}

	cancel()

	done := make(chan struct{})
	go func() {
		_ = ingestor.Close()
		scanners.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete")
	case <-time.After(shutdownGrace):
		logger.Error("shutdown grace period expired, forcing exit")
		os.Exit(1)
	}
}

func dlqHealthLoop(ctx context.Context, dlq notify.DLQStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	thresholds := monitoring.DefaultDLQThresholds()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := dlq.Depth(ctx)
			if err != nil {
				continue
			}
			monitoring.CheckDLQHealth(ctx, depth, thresholds)
		}
	}
}

func databaseConfigFromEnv() database.Config {
	return database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "notify"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   getEnv("DB_NAME", "notifications"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func redisConfigFromEnv() *cache.RedisConfig {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	dbIndex, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	poolSize, _ := strconv.Atoi(getEnv("REDIS_POOL_SIZE", "10"))
	return &cache.RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       dbIndex,
		PoolSize: poolSize,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sqlDBOf(db *database.DB) *sql.DB {
	return db.DB
}
