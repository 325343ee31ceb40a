package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/monitoring"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// maxFanOutConcurrency bounds the per-channel fan-out pool per spec §5. The
// bound is per routing pass: each fanOut call gets its own errgroup with this
// limit, so concurrent routing passes across users do not share it.
const maxFanOutConcurrency = 4

// Router implements the central Route algorithm (spec §4.1): assign id,
// dedup gate, preferences + do-not-contact check, channel resolution,
// quiet-hours gate, bounded concurrent per-channel fan-out, persistence.
type Router struct {
	dedup    DedupStore
	prefs    PreferencesStore
	budgets  RateBudgetStore
	digest   DigestQueue
	history  HistoryStore
	dlq      DLQStore
	senders  map[Channel]ChannelSender
	cipher   *FieldCipher
	metrics  *monitoring.RouterMetrics
	pool     *errgroup.Group
}

// NewRouter wires a Router from its collaborators. senders must have one
// entry per Channel that is ever returned by Preferences.ResolveChannels.
func NewRouter(dedup DedupStore, prefs PreferencesStore, budgets RateBudgetStore, digest DigestQueue, history HistoryStore, dlq DLQStore, senders map[Channel]ChannelSender, cipher *FieldCipher) *Router {
	return &Router{
		dedup: dedup, prefs: prefs, budgets: budgets, digest: digest,
		history: history, dlq: dlq, senders: senders, cipher: cipher,
		metrics: &monitoring.RouterMetrics{},
	}
}

// Route is the single entry point invoked by the Event Ingestor, the Retry
// Engine's re-entry path, and administrative replay tooling.
func (r *Router) Route(ctx context.Context, req *Request) (*RouteResult, error) {
	notificationID := req.NotificationID
	if notificationID == "" {
		notificationID = uuid.NewString()
	}
	logger := telemetry.GetContextualLogger(ctx).
		WithField("notification_id", notificationID).
		WithField("user_id", req.UserID).
		WithField("kind", string(req.Kind))

	defaults, ok := KindCatalog[req.Kind]
	if !ok {
		return nil, fmt.Errorf("notify: unknown event kind %q", req.Kind)
	}
	effectivePriority := defaults.Priority
	if req.Priority != "" {
		effectivePriority = req.Priority
	}

	// A retry re-entry (OverrideChannels set, NotificationID carried over from
	// the original Record) already passed the dedup gate on its first attempt;
	// re-registering it here would report it as a duplicate of itself.
	if req.OverrideChannels == nil {
		sourceID := req.SourceID
		if sourceID == "" {
			sourceID = "none"
		}
		dedupResult, err := r.dedup.CheckAndRegister(ctx, req.UserID, req.Kind, sourceID, notificationID, defaults.DedupWindow)
		if err != nil {
			logger.WithError(err).Warn("dedup check failed, proceeding")
		}
		if dedupResult.Duplicate {
			r.metrics.Deduplicated.Inc()
			return &RouteResult{NotificationID: dedupResult.OriginalNotificationID, Skipped: true, SkipReason: "duplicate"}, nil
		}
	}

	prefs, err := r.prefs.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if prefs.DoNotContact && !defaults.BypassQuietHours {
		r.metrics.DoNotContact.Inc()
		return &RouteResult{NotificationID: notificationID, Skipped: true, SkipReason: "do_not_contact"}, nil
	}

	channels := req.OverrideChannels
	if channels == nil {
		channels = prefs.ResolveChannels(req.Kind, defaults)
	}
	if len(channels) == 0 {
		return &RouteResult{NotificationID: notificationID, Skipped: true, SkipReason: "no_channels_resolved"}, nil
	}

	override, hasOverride := prefs.KindOverrides[req.Kind]
	perKindBypass := hasOverride && override.Enabled && override.BypassQuietHours

	now := time.Now().UTC()
	inQuiet := prefs.QuietHours.InQuietHours(now) &&
		!(defaults.BypassQuietHours || perKindBypass || (prefs.QuietHours.CriticalBypass && effectivePriority == PriorityCritical))

	if inQuiet {
		if defaults.DigestEligible {
			return r.queueForDigest(ctx, notificationID, req, prefs, effectivePriority, channels)
		}
		r.metrics.QuietHours.Inc()
		return &RouteResult{NotificationID: notificationID, Skipped: true, SkipReason: "quiet_hours"}, nil
	}

	outcomes := r.fanOut(ctx, notificationID, req, prefs, effectivePriority, channels)
	r.metrics.Routed.Inc()
	return &RouteResult{NotificationID: notificationID, Outcomes: outcomes}, nil
}

func (r *Router) queueForDigest(ctx context.Context, notificationID string, req *Request, prefs *Preferences, effectivePriority Priority, channels []Channel) (*RouteResult, error) {
	hasEmail := false
	for _, ch := range channels {
		if ch == ChannelEmail {
			hasEmail = true
		}
	}
	if !hasEmail || !prefs.DigestEnabled {
		r.metrics.QuietHours.Inc()
		return &RouteResult{NotificationID: notificationID, Skipped: true, SkipReason: "quiet_hours"}, nil
	}

	freq := prefs.DigestFrequency
	if freq == "" {
		freq = FrequencyDaily
	}

	title, _ := req.Data["title"].(string)
	body, _ := req.Data["body"].(string)
	record := &Record{
		ID: uuid.NewString(), NotificationID: notificationID, UserID: req.UserID,
		Kind: req.Kind, Channel: ChannelEmail, SourceID: req.SourceID,
		IdempotencyKey: fmt.Sprintf("%s:%s:%s:%s", req.UserID, req.Kind, req.SourceID, ChannelEmail),
		Status: StatusQueuedForDigest, Priority: effectivePriority,
		Payload: Payload{Title: title, Body: body, Data: req.Data}, MaxAttempts: 5,
	}
	if err := r.history.Create(ctx, record); err != nil && err != ErrConflict {
		return nil, err
	}

	if err := r.digest.Enqueue(ctx, req.UserID, freq, DigestEntry{
		NotificationID: notificationID, RecordID: record.ID, Kind: req.Kind,
		Title: title, Body: body, QueuedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	r.metrics.DigestQueued.Inc()
	return &RouteResult{NotificationID: notificationID, Outcomes: []ChannelOutcome{{Channel: ChannelEmail, Status: StatusQueuedForDigest}}}, nil
}

// fanOut sends to every resolved channel concurrently, bounded by
// maxFanOutConcurrency, and persists one Delivery Record per channel.
func (r *Router) fanOut(ctx context.Context, notificationID string, req *Request, prefs *Preferences, effectivePriority Priority, channels []Channel) []ChannelOutcome {
	outcomes := make([]ChannelOutcome, len(channels))
	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(maxFanOutConcurrency)

	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			outcomes[i] = r.deliverOne(gctx, notificationID, req, prefs, effectivePriority, ch)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// deliverOne implements the per-channel step: precondition check, budget
// consumption, provider call, persistence — in that order, per the resolved
// precondition-before-budget Open Question (an unreachable channel never
// consumes budget).
func (r *Router) deliverOne(ctx context.Context, notificationID string, req *Request, prefs *Preferences, effectivePriority Priority, ch Channel) ChannelOutcome {
	logger := telemetry.GetContextualLogger(ctx).WithField("channel", string(ch))

	if !r.preconditionMet(prefs, ch) {
		r.metrics.PreconditionSkipped.Inc()
		return ChannelOutcome{Channel: ch, Status: StatusFailed, Error: "precondition_not_met"}
	}

	title, _ := req.Data["title"].(string)
	body, _ := req.Data["body"].(string)
	idempotencyKey := fmt.Sprintf("%s:%s:%s:%s", req.UserID, req.Kind, req.SourceID, ch)
	record := &Record{
		ID: uuid.NewString(), NotificationID: notificationID, UserID: req.UserID,
		Kind: req.Kind, Channel: ch, SourceID: req.SourceID,
		IdempotencyKey: idempotencyKey,
		Status: StatusPending, Priority: effectivePriority,
		Payload: Payload{Title: title, Body: body, Data: req.Data}, MaxAttempts: 5,
	}
	if err := r.history.Create(ctx, record); err != nil {
		if err != ErrConflict {
			logger.WithError(err).Error("failed to persist delivery record")
			return ChannelOutcome{Channel: ch, Status: StatusFailed, Error: "persistence_failed"}
		}
		// A retry re-entry lands on the same idempotency key as the original
		// attempt — reuse that Record instead of orphaning a second one.
		existing, getErr := r.history.GetByIdempotencyKey(ctx, idempotencyKey)
		if getErr != nil {
			logger.WithError(getErr).Error("conflicting delivery record vanished before it could be reused")
			return ChannelOutcome{Channel: ch, Status: StatusFailed, Error: "persistence_failed"}
		}
		record = existing
	}

	if ch != ChannelSocket {
		budget := prefs.BudgetFor(ch, DefaultBudgets[ch])
		decision, err := r.budgets.ConsumeBudget(ctx, req.UserID, ch, budget)
		if err == nil && !decision.Allowed {
			_ = r.history.MarkRateLimited(ctx, record.ID)
			r.metrics.RateLimited.Inc()
			return ChannelOutcome{Channel: ch, Status: StatusRateLimited}
		}
	}

	sender, ok := r.senders[ch]
	if !ok {
		_ = r.history.MarkFailed(ctx, record.ID, "no_sender_configured")
		return ChannelOutcome{Channel: ch, Status: StatusFailed, Error: "no_sender_configured"}
	}

	sendReq := r.buildSendRequest(req, prefs, effectivePriority, ch)
	result := sender.Send(ctx, sendReq)
	if result.Err != nil {
		logger.WithError(result.Err).Error("provider adapter returned a programmer error")
	}

	switch result.Status {
	case StatusSent, StatusDelivered:
		_ = r.history.MarkSent(ctx, record.ID, result.ProviderMessageID)
		r.metrics.Delivered.Inc()
		return ChannelOutcome{Channel: ch, Status: StatusSent}
	default:
		r.metrics.Failed.Inc()
		nextAttempt := record.AttemptCount + 1
		if result.Retryable && nextAttempt < maxRetryAttempts {
			nextAttemptAt := time.Now().Add(retryDelayFor(nextAttempt + 1))
			_ = r.history.UpdateForRetry(ctx, record.ID, nextAttemptAt, nextAttempt, result.Reason)
			return ChannelOutcome{Channel: ch, Status: StatusRetrying, Error: result.Reason}
		}
		_ = r.history.MarkFailed(ctx, record.ID, result.Reason)
		r.moveToDLQOnTerminalFailure(ctx, record, result.Reason, nextAttempt)
		return ChannelOutcome{Channel: ch, Status: StatusFailed, Error: result.Reason}
	}
}

func (r *Router) preconditionMet(prefs *Preferences, ch Channel) bool {
	switch ch {
	case ChannelSMS:
		return prefs.HasVerifiedPhone()
	case ChannelEmail:
		return prefs.HasVerifiedEmail()
	case ChannelPush:
		return prefs.HasDevice()
	default:
		return true
	}
}

func (r *Router) buildSendRequest(req *Request, prefs *Preferences, effectivePriority Priority, ch Channel) *SendRequest {
	title, _ := req.Data["title"].(string)
	body, _ := req.Data["body"].(string)
	sr := &SendRequest{
		UserID: req.UserID, Kind: req.Kind, Priority: effectivePriority,
		Payload: Payload{Title: title, Body: body, Data: req.Data}, Channel: ch,
	}
	switch ch {
	case ChannelSMS:
		if phone, err := r.cipher.Decrypt(prefs.PhoneEncrypted); err == nil {
			sr.Phone = phone
		}
	case ChannelEmail:
		if email, err := r.cipher.Decrypt(prefs.EmailEncrypted); err == nil {
			sr.Email = email
		}
	case ChannelPush:
		sr.Devices = prefs.Devices
	}
	return sr
}

// moveToDLQOnTerminalFailure is a best-effort DLQ write for a failure that
// will not be retried again, whether on the first attempt or after a retry
// re-entry has exhausted the fixed schedule.
func (r *Router) moveToDLQOnTerminalFailure(ctx context.Context, record *Record, reason string, failureCount int) {
	firstFailedAt := record.CreatedAt
	if firstFailedAt.IsZero() {
		firstFailedAt = time.Now().UTC()
	}
	err := r.dlq.Move(ctx, DLQEntry{
		ID: uuid.NewString(), RecordID: record.ID, UserID: record.UserID,
		Kind: record.Kind, Channel: record.Channel, Payload: record.Payload,
		FailureReason: reason, FailureCount: failureCount,
		FirstFailedAt: firstFailedAt, DLQAt: time.Now().UTC(),
	})
	if err != nil {
		// A DLQ write failure here is logged at error level and not returned,
		// so it never reaches Route's caller: a single channel's DLQ failure
		// does not fail the whole fan-out. The Ingestor's halt on an
		// unwritable DLQ covers only its own dead-letter writes.
		telemetry.GetContextualLogger(ctx).WithError(err).
			WithField("record_id", record.ID).Error("dlq write failed, notification may be lost")
	}
}
