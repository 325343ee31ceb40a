package notify

import (
	"context"
	"time"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/monitoring"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// retrySchedule is the fixed delay schedule per spec §4.3: attempt N's delay
// is retrySchedule[N-1], capped at the last entry for any attempt beyond.
// This replaces the teacher's exponential-multiplier formula (distilled spec
// calls for a fixed schedule, not a backoff curve).
var retrySchedule = []time.Duration{
	time.Second,
	5 * time.Second,
	30 * time.Second,
	5 * time.Minute,
	time.Hour,
}

const maxRetryAttempts = 5

// retryDelayFor returns the delay before the given attempt number (1-based).
func retryDelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retrySchedule) {
		attempt = len(retrySchedule)
	}
	return retrySchedule[attempt-1]
}

// retryBatchSize bounds a single scan tick per spec §4.3/§5.
const retryBatchSize = 100

// RetryEngine periodically re-attempts delivery for records in the
// "retrying" state whose next-attempt time has elapsed, re-entering through
// Router.Route so a retry is subject to the same do-not-contact check, rate
// budget, and precondition gate as the original attempt.
type RetryEngine struct {
	history  HistoryStore
	router   *Router
	interval time.Duration
	metrics  *monitoring.RetryMetrics
}

// NewRetryEngine wires a Retry Engine. interval is the scan cadence
// (default 30s per spec §4.3). router is the same Router the Event Ingestor
// routes through, so a retry re-entry shares its collaborators exactly.
func NewRetryEngine(history HistoryStore, router *Router, interval time.Duration) *RetryEngine {
	return &RetryEngine{
		history: history, router: router,
		interval: interval, metrics: &monitoring.RetryMetrics{},
	}
}

// Run ticks until ctx is cancelled.
func (e *RetryEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *RetryEngine) tick(ctx context.Context) {
	due, err := e.history.GetDueRetries(ctx, retryBatchSize)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithError(err).Warn("retry engine scan failed")
		return
	}
	e.metrics.ScannedPerTick.Set(int64(len(due)))

	for _, record := range due {
		e.attempt(ctx, record)
	}
}

// attempt rebuilds a Notification Request from the stored Delivery Record
// and re-enters it through Router.Route, so a retry is subject to the same
// do-not-contact check, rate budget, and precondition gate the original
// attempt was. OverrideChannels pins the re-entry to the single channel
// being retried; Route reuses the existing Record via its idempotency key
// rather than creating an orphaned second row.
func (e *RetryEngine) attempt(ctx context.Context, record *Record) {
	logger := telemetry.GetContextualLogger(ctx).
		WithField("record_id", record.ID).WithField("attempt", record.AttemptCount+1)

	req := &Request{
		UserID:           record.UserID,
		Kind:             record.Kind,
		SourceID:         record.SourceID,
		NotificationID:   record.NotificationID,
		Priority:         record.Priority,
		Data:             map[string]any{"title": record.Payload.Title, "body": record.Payload.Body},
		OverrideChannels: []Channel{record.Channel},
	}

	result, err := e.router.Route(ctx, req)
	if err != nil {
		logger.WithError(err).Warn("retry re-entry failed to route")
		return
	}
	if result.Skipped {
		logger.WithField("skip_reason", result.SkipReason).Info("retry re-entry skipped")
		return
	}
	if len(result.Outcomes) == 0 {
		return
	}

	switch result.Outcomes[0].Status {
	case StatusSent, StatusDelivered:
		e.metrics.Recovered.Inc()
	case StatusRetrying:
		e.metrics.Rescheduled.Inc()
	case StatusFailed:
		e.metrics.MovedToDLQ.Inc()
	}
}

// ManualRetry is the administrative override named in spec §6: force an
// immediate retry of one record regardless of its scheduled next-attempt
// time or current attempt count.
func (e *RetryEngine) ManualRetry(ctx context.Context, recordID string) error {
	record, err := e.history.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	e.attempt(ctx, record)
	return nil
}
