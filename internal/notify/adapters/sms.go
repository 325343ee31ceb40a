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

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

const smsMaxLen = 160
const smsUnsubscribeSuffix = " Reply STOP to opt out."

// SMSSenderConfig configures the SMS adapter.
type SMSSenderConfig struct {
	APIKey  string
	FromNumber string
	BaseURL string
	Timeout time.Duration
	Enabled bool
}

// SMSSender delivers via a third-party SMS gateway. The request shape is
// provider-defined per spec §6; this adapter composes a generic JSON POST,
// grounded on the teacher's TelegramSender HTTP call shape.
type SMSSender struct {
	cfg        SMSSenderConfig
	httpClient *http.Client
}

// NewSMSSender constructs an SMS adapter.
func NewSMSSender(cfg SMSSenderConfig) *SMSSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &SMSSender{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

func (s *SMSSender) Channel() notify.Channel { return notify.ChannelSMS }

// Send validates the phone number as E.164, composes the body under the
// 160-char limit (the unsubscribe suffix is always appended; the content is
// truncated with an ellipsis to make room for it), and posts to the provider.
// Critical priority is sent to the provider as high.
func (s *SMSSender) Send(ctx context.Context, req *notify.SendRequest) notify.SendResult {
	if !s.cfg.Enabled {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "channel not enabled"}
	}
	if !e164Pattern.MatchString(req.Phone) {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "invalid_phone_number"}
	}

	body := composeSMSBody(req.Payload.Title, req.Payload.Body)

	priority := req.Priority
	if priority == "" {
		priority = notify.PriorityNormal
	}
	if priority == notify.PriorityCritical {
		priority = notify.PriorityHigh
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/messages",
		strings.NewReader(fmt.Sprintf(`{"to":%q,"from":%q,"body":%q,"priority":%q}`, req.Phone, s.cfg.FromNumber, body, priority)))
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
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted:
		return notify.SendResult{Status: notify.StatusSent}
	case resp.StatusCode == http.StatusTooManyRequests:
		return notify.SendResult{Status: notify.StatusFailed, Reason: "provider_rate_limited", Retryable: true}
	case resp.StatusCode >= 500:
		return notify.SendResult{Status: notify.StatusFailed, Reason: "provider_unavailable", Retryable: true}
	default:
		return notify.SendResult{Status: notify.StatusFailed, Reason: fmt.Sprintf("provider_rejected:%d", resp.StatusCode)}
	}
}

// composeSMSBody applies the 160-char truncation rule: title + body joined,
// with the unsubscribe suffix always present. When the joined content plus
// suffix overflows the limit, content is truncated with an ellipsis to make
// room — the suffix itself is never dropped.
func composeSMSBody(title, body string) string {
	full := body
	if title != "" {
		full = title + ": " + body
	}

	withSuffix := full + smsUnsubscribeSuffix
	if len(withSuffix) <= smsMaxLen {
		return withSuffix
	}

	budget := smsMaxLen - len(smsUnsubscribeSuffix) - len("…")
	if budget < 0 {
		budget = 0
	}
	truncated := full
	if len(truncated) > budget {
		truncated = truncated[:budget]
	}
	return truncated + "…" + smsUnsubscribeSuffix
}
