package monitoring

import (
	"sync/atomic"
)

// Counter is a monotonically increasing metric, safe for concurrent use.
// Grounded on the teacher's hand-rolled atomic counter (the teacher never
// reaches for prometheus/client_golang even though two other repos in the
// corpus do; this module follows the teacher's own convention since nothing
// here needs a scrape endpoint — there is no admin HTTP surface to expose one
// on).
type Counter struct {
	value uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds a non-negative delta to the counter.
func (c *Counter) Add(delta uint64) {
	atomic.AddUint64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

// Gauge is a metric that can go up or down, safe for concurrent use.
type Gauge struct {
	value int64
}

// Set sets the gauge to an absolute value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// RouterMetrics tracks Router outcomes, one counter per terminal result.
type RouterMetrics struct {
	Routed        Counter
	Deduplicated  Counter
	DoNotContact  Counter
	QuietHours    Counter
	DigestQueued  Counter
	RateLimited   Counter
	Delivered     Counter
	Failed        Counter
	PreconditionSkipped Counter
}

// IngestorMetrics tracks Event Ingestor throughput.
type IngestorMetrics struct {
	Consumed   Counter
	Dropped    Counter
	Malformed  Counter
	DLQWrites  Counter
	Halted     Gauge
}

// RetryMetrics tracks Retry Engine scan outcomes.
type RetryMetrics struct {
	ScannedPerTick  Gauge
	Recovered       Counter
	Rescheduled     Counter
	MovedToDLQ      Counter
}

// DigestMetrics tracks Digest Engine firings.
type DigestMetrics struct {
	Fired     Counter
	Sent      Counter
	Failed    Counter
	Entries   Counter
}
