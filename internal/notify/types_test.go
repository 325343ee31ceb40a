package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusDelivered, false},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusPending, false},
		{StatusRetrying, StatusSent, true},
		{StatusRetrying, StatusRetrying, true},
		{StatusDelivered, StatusSent, false},
		{StatusFailed, StatusSent, false},
		{StatusRateLimited, StatusSent, false},
		{StatusQueuedForDigest, StatusDelivered, true},
		{StatusQueuedForDigest, StatusFailed, false},
		{StatusPending, StatusPending, true},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, ValidateTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestKindCatalogImmutableShape(t *testing.T) {
	// Every Kind referenced anywhere in the catalog must resolve to a
	// non-empty default channel set, else a bug in the table would silently
	// swallow notifications for that kind.
	for kind, defaults := range KindCatalog {
		assert.Equal(t, kind, defaults.Kind)
		assert.NotEmpty(t, defaults.DefaultChannels, "kind %s has no default channels", kind)
		assert.NotEmpty(t, defaults.Priority, "kind %s has no priority", kind)
	}
}

func TestKindCatalogCriticalKindsBypassQuietHours(t *testing.T) {
	assert.True(t, KindCatalog[KindFraudDetected].BypassQuietHours)
	assert.True(t, KindCatalog[KindAccountLocked].BypassQuietHours)
	assert.Equal(t, PriorityCritical, KindCatalog[KindFraudDetected].Priority)
	assert.Equal(t, PriorityCritical, KindCatalog[KindAccountLocked].Priority)
}

func TestPayloadValueScanRoundTrip(t *testing.T) {
	p := Payload{Title: "Transfer complete", Body: "Your transfer has completed.", Data: map[string]any{"amount": "100.00"}}

	raw, err := p.Value()
	assert.NoError(t, err)

	var out Payload
	assert.NoError(t, out.Scan(raw))
	assert.Equal(t, p.Title, out.Title)
	assert.Equal(t, p.Body, out.Body)
	assert.Equal(t, p.Data["amount"], out.Data["amount"])
}

func TestPayloadScanNilIsNoop(t *testing.T) {
	var p Payload
	assert.NoError(t, p.Scan(nil))
	assert.Equal(t, Payload{}, p)
}

func TestPayloadScanAcceptsStringAndBytes(t *testing.T) {
	var p1, p2 Payload
	assert.NoError(t, p1.Scan([]byte(`{"title":"a","body":"b"}`)))
	assert.NoError(t, p2.Scan(`{"title":"a","body":"b"}`))
	assert.Equal(t, p1, p2)
}

func TestPtrHelper(t *testing.T) {
	now := time.Now()
	p := Ptr(now)
	assert.Equal(t, now, *p)
}
