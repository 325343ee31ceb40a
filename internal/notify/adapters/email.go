package adapters

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/notify"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// templatesByKind maps an event kind family to a provider-side template id.
// A kind with no entry falls back to inline subject/body composed from the
// payload, per spec §4.5's "template preference with inline fallback".
var templatesByKind = map[notify.Kind]string{
	notify.KindTransferCompleted: "tmpl-transaction-summary",
	notify.KindTransferFailed:    "tmpl-transaction-alert",
	notify.KindStatementReady:    "tmpl-statement-ready",
}

// EmailSenderConfig configures the email adapter.
type EmailSenderConfig struct {
	APIKey    string
	FromAddr  string
	BaseURL   string
	Timeout   time.Duration
	Enabled   bool
}

// EmailSender delivers via a third-party transactional email API, preferring
// a provider-side template keyed by event kind and falling back to inline
// subject/body when no template is registered.
type EmailSender struct {
	cfg        EmailSenderConfig
	httpClient *http.Client
}

// NewEmailSender constructs an email adapter.
func NewEmailSender(cfg EmailSenderConfig) *EmailSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &EmailSender{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

func (s *EmailSender) Channel() notify.Channel { return notify.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, req *notify.SendRequest) notify.SendResult {
	if !s.cfg.Enabled {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "channel not enabled"}
	}
	if !emailPattern.MatchString(req.Email) {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "invalid_email_address"}
	}

	var payloadJSON string
	if tmpl, ok := templatesByKind[req.Kind]; ok {
		payloadJSON = fmt.Sprintf(`{"to":%q,"from":%q,"template":%q,"data":%s,"tracking":{"clicks":true,"opens":true}}`,
			req.Email, s.cfg.FromAddr, tmpl, marshalDataOrEmpty(req.Payload.Data))
	} else {
		payloadJSON = fmt.Sprintf(`{"to":%q,"from":%q,"subject":%q,"body":%q,"tracking":{"clicks":true,"opens":true}}`,
			req.Email, s.cfg.FromAddr, req.Payload.Title, req.Payload.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/mail/send", strings.NewReader(payloadJSON))
	if err != nil {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "request_construction_failed", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "network_error", Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return notify.SendResult{Status: notify.StatusSent}
	case resp.StatusCode == http.StatusTooManyRequests:
		return notify.SendResult{Status: notify.StatusFailed, Reason: "provider_rate_limited", Retryable: true}
	case resp.StatusCode >= 500:
		return notify.SendResult{Status: notify.StatusFailed, Reason: "provider_unavailable", Retryable: true}
	default:
		return notify.SendResult{Status: notify.StatusFailed, Reason: fmt.Sprintf("provider_rejected:%d", resp.StatusCode)}
	}
}

func marshalDataOrEmpty(data map[string]any) string {
	if data == nil {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{")
	first := true
	for k, v := range data {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, "%q:%q", k, fmt.Sprint(v))
	}
	b.WriteString("}")
	return b.String()
}
