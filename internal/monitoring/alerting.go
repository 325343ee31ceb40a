package monitoring

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// DLQThresholds configures when DLQ depth triggers an alert, grounded on the
// teacher's CheckDLQHealth warning/critical staging.
type DLQThresholds struct {
	Warning  int
	Critical int
}

// DefaultDLQThresholds mirrors the teacher's defaults.
func DefaultDLQThresholds() DLQThresholds {
	return DLQThresholds{Warning: 10, Critical: 50}
}

// CaptureDLQMoved reports a single delivery record moving to the DLQ.
func CaptureDLQMoved(ctx context.Context, notificationID, userID, channel, reason string) {
	if !sentry.HasHubOnContext(ctx) {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTags(map[string]string{
				"notification_id": notificationID,
				"user_id":         userID,
				"channel":         channel,
			})
			sentry.CaptureMessage(fmt.Sprintf("notification moved to DLQ: %s", reason))
		})
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(map[string]string{
			"notification_id": notificationID,
			"user_id":         userID,
			"channel":         channel,
		})
		hub.CaptureMessage(fmt.Sprintf("notification moved to DLQ: %s", reason))
	})
}

// CheckDLQHealth alerts when DLQ depth crosses the configured thresholds.
// Called once a minute by dlqHealthLoop in cmd/notifyd, a loop separate from
// the Retry Engine's scan.
func CheckDLQHealth(ctx context.Context, depth int, thresholds DLQThresholds) {
	logger := telemetry.GetContextualLogger(ctx).WithField("dlq_depth", depth)

	switch {
	case depth >= thresholds.Critical:
		logger.Error("DLQ depth exceeds critical threshold")
		sentry.CaptureMessage(fmt.Sprintf("DLQ depth %d exceeds critical threshold %d", depth, thresholds.Critical))
	case depth >= thresholds.Warning:
		logger.Warn("DLQ depth exceeds warning threshold")
	default:
		logger.Debug("DLQ depth within bounds")
	}
}

// CaptureWorkerError reports an unexpected error from a background worker
// (ingestor partition loop, retry scanner, digest scanner) that does not
// itself halt the process but should be visible to on-call.
func CaptureWorkerError(ctx context.Context, worker string, err error) {
	logger := telemetry.GetContextualLogger(ctx).WithField("worker", worker)
	logger.WithError(err).Error("worker reported an error")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("worker", worker)
		sentry.CaptureException(err)
	})
}
