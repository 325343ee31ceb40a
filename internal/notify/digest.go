package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/cache"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/monitoring"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// Frequency is a digest cadence.
type Frequency string

const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

const digestEntryTTL = 7 * 24 * time.Hour

// DigestEntry is one queued item awaiting digest assembly.
type DigestEntry struct {
	NotificationID string    `json:"notification_id"`
	RecordID       string    `json:"record_id"`
	Kind           Kind      `json:"kind"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	QueuedAt       time.Time `json:"queued_at"`
}

// DigestQueue implements the Digest Queue: a per-(user,frequency) ordered
// list with a one-week TTL, drained atomically by the Digest Engine.
type DigestQueue interface {
	Enqueue(ctx context.Context, userID string, freq Frequency, entry DigestEntry) error
	Drain(ctx context.Context, userID string, freq Frequency) ([]DigestEntry, error)
	Close() error
}

// digestKey matches the wire pattern from spec §6:
// digest:{hourly|daily|weekly}:{user}
func digestKey(userID string, freq Frequency) string {
	return fmt.Sprintf("digest:%s:%s", freq, userID)
}

// RedisDigestQueue is the production DigestQueue, built on Redis lists via
// the same RedisService the dedup/rate stores share.
type RedisDigestQueue struct {
	redis *cache.RedisService
}

// NewRedisDigestQueue wires a digest queue against shared Redis.
func NewRedisDigestQueue(redis *cache.RedisService) *RedisDigestQueue {
	return &RedisDigestQueue{redis: redis}
}

// digestEnqueueScript appends to the list and (re)asserts the TTL in one
// round trip so the window never drifts indefinitely on repeated pushes.
const digestEnqueueScript = `
redis.call("RPUSH", KEYS[1], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return true
`

func (q *RedisDigestQueue) Enqueue(ctx context.Context, userID string, freq Frequency, entry DigestEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = q.redis.Eval(ctx, digestEnqueueScript, []string{digestKey(userID, freq)}, string(raw), digestEntryTTL.Milliseconds())
	return err
}

// digestDrainScript atomically reads and clears the list — drain must be
// atomic at the spec level, since a failed assembly/send must leave the
// queue untouched, which the caller implements by only calling Drain once
// the send has already succeeded (see DigestEngine.fire).
const digestDrainScript = `
local items = redis.call("LRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
return items
`

func (q *RedisDigestQueue) Drain(ctx context.Context, userID string, freq Frequency) ([]DigestEntry, error) {
	result, err := q.redis.Eval(ctx, digestDrainScript, []string{digestKey(userID, freq)})
	if err != nil {
		return nil, err
	}
	raw, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}
	entries := make([]DigestEntry, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		var entry DigestEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (q *RedisDigestQueue) Close() error {
	return nil
}

// digestPeekScript is the non-destructive counterpart to Drain, used by the engine
// to decide whether assembly is worth attempting before it commits to
// sending (so a failed send truly leaves the queue untouched, per the
// idempotence law in spec §8).
const digestPeekScript = `return redis.call("LRANGE", KEYS[1], 0, -1)`

func (q *RedisDigestQueue) peek(ctx context.Context, userID string, freq Frequency) ([]DigestEntry, error) {
	result, err := q.redis.Eval(ctx, digestPeekScript, []string{digestKey(userID, freq)})
	if err != nil {
		return nil, err
	}
	raw, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}
	entries := make([]DigestEntry, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		var entry DigestEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DigestEngine periodically assembles and sends digest emails per spec
// §4.4: hourly at minute 0, daily when the current hour matches the user's
// configured digest hour, weekly on Monday when the hour matches — all
// resolved in the user's own timezone, never process-local time.
type DigestEngine struct {
	queue    *RedisDigestQueue
	prefs    PreferencesStore
	history  HistoryStore
	email    ChannelSender
	users    UserEnumerator
	interval time.Duration
	metrics  *monitoring.DigestMetrics
	lastFireHour map[string]time.Time
}

// UserEnumerator lists users who have opted into digests (digest_enabled)
// so the scanner doesn't have to know about every user up front.
type UserEnumerator interface {
	ActiveUserIDs(ctx context.Context) ([]string, error)
}

// NewDigestEngine wires a Digest Engine. interval is the scan cadence
// (default 60s per spec §4.4).
func NewDigestEngine(queue *RedisDigestQueue, prefs PreferencesStore, history HistoryStore, email ChannelSender, users UserEnumerator, interval time.Duration) *DigestEngine {
	return &DigestEngine{
		queue: queue, prefs: prefs, history: history, email: email, users: users,
		interval: interval, metrics: &monitoring.DigestMetrics{},
		lastFireHour: make(map[string]time.Time),
	}
}

// Run ticks until ctx is cancelled, firing at most once per hour per the
// "skip if more than 5 minutes past the top of the hour" rule.
func (e *DigestEngine) Run(ctx context.Context) {
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

func (e *DigestEngine) tick(ctx context.Context) {
	now := time.Now().UTC()
	if now.Minute() > 5 {
		return
	}

	userIDs, err := e.users.ActiveUserIDs(ctx)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithError(err).Warn("digest engine failed to enumerate users")
		return
	}

	hour := now.Truncate(time.Hour)
	for _, userID := range userIDs {
		if last, ok := e.lastFireHour[userID]; ok && last.Equal(hour) {
			continue
		}
		e.lastFireHour[userID] = hour
		e.fireForUser(ctx, userID, now)
	}
}

func (e *DigestEngine) fireForUser(ctx context.Context, userID string, now time.Time) {
	prefs, err := e.prefs.GetOrCreate(ctx, userID)
	if err != nil {
		return
	}

	loc, err := time.LoadLocation(prefs.QuietHours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if local.Minute() == 0 {
		e.fire(ctx, userID, FrequencyHourly)
	}
	if local.Hour() == prefs.DigestHourUTC {
		e.fire(ctx, userID, FrequencyDaily)
		if local.Weekday() == time.Monday {
			e.fire(ctx, userID, FrequencyWeekly)
		}
	}
}

// fire implements the drain-assemble-send-clear-only-on-success algorithm.
// ForceDigest calls this directly for the admin override.
func (e *DigestEngine) fire(ctx context.Context, userID string, freq Frequency) {
	e.metrics.Fired.Inc()

	entries, err := e.queue.peek(ctx, userID, freq)
	if err != nil || len(entries) == 0 {
		return
	}

	subject, body := assembleDigest(freq, entries)
	result := e.email.Send(ctx, &SendRequest{
		UserID:  userID,
		Channel: ChannelEmail,
		Payload: Payload{Title: subject, Body: body},
	})

	if result.Status != StatusSent && result.Status != StatusDelivered {
		// Leave the queue untouched on failure — the digest is retried next tick.
		e.metrics.Failed.Inc()
		return
	}

	if _, err := e.queue.Drain(ctx, userID, freq); err != nil {
		telemetry.GetContextualLogger(ctx).WithError(err).Warn("digest sent but queue drain failed")
		return
	}

	e.metrics.Sent.Inc()
	e.metrics.Entries.Add(uint64(len(entries)))

	for _, entry := range entries {
		_ = e.history.MarkDelivered(ctx, entry.RecordID)
	}
}

// ForceDigest is the programmatic admin override named in spec §6: fire a
// digest for one user immediately regardless of cadence.
func (e *DigestEngine) ForceDigest(ctx context.Context, userID string) bool {
	for _, freq := range []Frequency{FrequencyHourly, FrequencyDaily, FrequencyWeekly} {
		e.fire(ctx, userID, freq)
	}
	return true
}

func assembleDigest(freq Frequency, entries []DigestEntry) (subject, body string) {
	subject = fmt.Sprintf("Your %s account summary", freq)
	body = fmt.Sprintf("Summary for period: %s\n\n", freq)
	for _, e := range entries {
		body += fmt.Sprintf("- %s: %s (%s)\n", e.Title, e.Body, e.QueuedAt.Format(time.RFC3339))
	}
	return subject, body
}
