package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/notify"
)

func TestSMSSenderDisabledSkipsRequest(t *testing.T) {
	s := NewSMSSender(SMSSenderConfig{Enabled: false})
	result := s.Send(context.Background(), &notify.SendRequest{Phone: "+15551234567"})
	assert.Equal(t, notify.StatusFailed, result.Status)
}

func TestSMSSenderRejectsNonE164Phone(t *testing.T) {
	s := NewSMSSender(SMSSenderConfig{Enabled: true})
	result := s.Send(context.Background(), &notify.SendRequest{Phone: "555-1234"})
	assert.Equal(t, "invalid_phone_number", result.Reason)
}

func TestSMSSenderSuccessfulSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSSenderConfig{BaseURL: srv.URL, Enabled: true})
	result := s.Send(context.Background(), &notify.SendRequest{Phone: "+15551234567", Payload: notify.Payload{Title: "t", Body: "b"}})
	assert.Equal(t, notify.StatusSent, result.Status)
}

func TestSMSSenderRateLimitedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSSenderConfig{BaseURL: srv.URL, Enabled: true})
	result := s.Send(context.Background(), &notify.SendRequest{Phone: "+15551234567"})
	assert.True(t, result.Retryable)
}

func TestSMSSenderProviderUnavailableIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSSenderConfig{BaseURL: srv.URL, Enabled: true})
	result := s.Send(context.Background(), &notify.SendRequest{Phone: "+15551234567"})
	assert.True(t, result.Retryable)
}

func TestSMSSenderRejectedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSSenderConfig{BaseURL: srv.URL, Enabled: true})
	result := s.Send(context.Background(), &notify.SendRequest{Phone: "+15551234567"})
	assert.False(t, result.Retryable)
}

func TestComposeSMSBodyAppendsUnsubscribeSuffixWhenItFits(t *testing.T) {
	body := composeSMSBody("Alert", "short message")
	assert.True(t, strings.HasSuffix(body, smsUnsubscribeSuffix))
}

func TestComposeSMSBodyTruncatesLongBodyButKeepsSuffix(t *testing.T) {
	long := strings.Repeat("x", 200)
	body := composeSMSBody("", long)
	assert.LessOrEqual(t, len(body), smsMaxLen)
	assert.True(t, strings.HasSuffix(body, smsUnsubscribeSuffix), "truncation must not drop the unsubscribe suffix")
	assert.Contains(t, body, "…"+smsUnsubscribeSuffix)
}

func TestComposeSMSBodyJustFitsWithSuffixNeedsNoEllipsis(t *testing.T) {
	body := strings.Repeat("y", smsMaxLen-len(smsUnsubscribeSuffix))
	composed := composeSMSBody("", body)
	assert.Equal(t, body+smsUnsubscribeSuffix, composed)
	assert.False(t, strings.Contains(composed, "…"))
}

func TestSMSSenderThreadsPriorityIntoPayload(t *testing.T) {
	var captured string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		captured = string(buf)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSSenderConfig{BaseURL: srv.URL, Enabled: true})
	result := s.Send(context.Background(), &notify.SendRequest{
		Phone: "+15551234567", Priority: notify.PriorityCritical,
		Payload: notify.Payload{Title: "t", Body: "b"},
	})
	assert.Equal(t, notify.StatusSent, result.Status)
	assert.Contains(t, captured, `"priority":"high"`)
}
