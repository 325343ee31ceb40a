package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/cache"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// BudgetDecision is the outcome of ConsumeBudget.
type BudgetDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateBudgetStore implements the Rate Budget Store: an atomic
// consume-and-check over independent hour/day windows per (user, channel).
type RateBudgetStore interface {
	ConsumeBudget(ctx context.Context, userID string, channel Channel, limits BudgetOverride) (BudgetDecision, error)
	Reset(ctx context.Context, userID string, channel Channel) error
	Close() error
}

// DefaultBudgets are the service-wide defaults named in spec §4.6.
var DefaultBudgets = map[Channel]BudgetOverride{
	ChannelSMS:   {HourlyCap: 10, DailyCap: 50},
	ChannelEmail: {HourlyCap: 20, DailyCap: 100},
	ChannelPush:  {HourlyCap: 30, DailyCap: 200},
}

// rateConsumeScript atomically increments the hour and day counters and
// checks both against their caps in one round trip, re-asserting TTL only
// on first creation so a counter's window doesn't drift on every call. If
// either cap would be exceeded, neither counter is incremented — a refused
// attempt never partially consumes budget.
const rateConsumeScript = `
local hourKey = KEYS[1]
local dayKey = KEYS[2]
local hourCap = tonumber(ARGV[1])
local dayCap = tonumber(ARGV[2])
local hourTTL = tonumber(ARGV[3])
local dayTTL = tonumber(ARGV[4])

local hourVal = tonumber(redis.call("GET", hourKey) or "0")
local dayVal = tonumber(redis.call("GET", dayKey) or "0")

if hourVal >= hourCap or dayVal >= dayCap then
  local hourTtlLeft = redis.call("PTTL", hourKey)
  if hourTtlLeft < 0 then hourTtlLeft = hourTTL end
  return {0, hourCap - hourVal, hourTtlLeft}
end

local newHour = redis.call("INCR", hourKey)
if newHour == 1 then
  redis.call("PEXPIRE", hourKey, hourTTL)
end
local newDay = redis.call("INCR", dayKey)
if newDay == 1 then
  redis.call("PEXPIRE", dayKey, dayTTL)
end

local hourTtlLeft = redis.call("PTTL", hourKey)
return {1, hourCap - newHour, hourTtlLeft}
`

// RedisRateBudgetStore is the production RateBudgetStore.
type RedisRateBudgetStore struct {
	redis *cache.RedisService
}

// NewRedisRateBudgetStore wires a rate budget store against shared Redis.
func NewRedisRateBudgetStore(redis *cache.RedisService) *RedisRateBudgetStore {
	return &RedisRateBudgetStore{redis: redis}
}

func rateKeys(userID string, channel Channel) (hour, day string) {
	now := time.Now().UTC()
	hourBucket := now.Format("2006010215")
	dayBucket := now.Format("20060102")
	return fmt.Sprintf("ratelimit:%s:hour:%s:%s", channel, userID, hourBucket),
		fmt.Sprintf("ratelimit:%s:day:%s:%s", channel, userID, dayBucket)
}

// ConsumeBudget performs the atomic check-and-consume. Socket bypasses all
// budget logic entirely per spec §4.6 — callers should not invoke this for
// ChannelSocket, but it is defensively treated as always-allowed here too.
func (s *RedisRateBudgetStore) ConsumeBudget(ctx context.Context, userID string, channel Channel, limits BudgetOverride) (BudgetDecision, error) {
	if channel == ChannelSocket {
		return BudgetDecision{Allowed: true}, nil
	}

	hourKey, dayKey := rateKeys(userID, channel)
	hourTTLms := time.Hour.Milliseconds()
	dayTTLms := (24 * time.Hour).Milliseconds()

	result, err := s.redis.Eval(ctx, rateConsumeScript, []string{hourKey, dayKey},
		limits.HourlyCap, limits.DailyCap, hourTTLms, dayTTLms)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithError(err).
			WithField("user_id", userID).WithField("channel", string(channel)).
			Warn("rate budget store unavailable, failing open")
		return BudgetDecision{Allowed: true}, nil
	}

	vals, ok := result.([]interface{})
	if !ok || len(vals) != 3 {
		return BudgetDecision{Allowed: true}, nil
	}

	allowed := toInt64(vals[0]) == 1
	remaining := int(toInt64(vals[1]))
	ttlMs := toInt64(vals[2])
	resetAt := time.Now().Add(time.Duration(ttlMs) * time.Millisecond)

	return BudgetDecision{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

// Reset clears both counters for a user/channel, used by the ResetBudget
// admin operation.
func (s *RedisRateBudgetStore) Reset(ctx context.Context, userID string, channel Channel) error {
	hourKey, dayKey := rateKeys(userID, channel)
	if err := s.redis.Delete(hourKey); err != nil {
		return err
	}
	return s.redis.Delete(dayKey)
}

func (s *RedisRateBudgetStore) Close() error {
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
