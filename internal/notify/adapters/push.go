package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/notify"
)

const pushTTL = time.Hour

// PushSenderConfig configures the push adapter.
type PushSenderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Enabled bool
}

// PushSender delivers via a multi-device push gateway (FCM/APNs-shaped
// provider), multicasting to every registered device and mapping Priority
// to the provider's urgency header.
type PushSender struct {
	cfg        PushSenderConfig
	httpClient *http.Client
}

// NewPushSender constructs a push adapter.
func NewPushSender(cfg PushSenderConfig) *PushSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PushSender{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

func (s *PushSender) Channel() notify.Channel { return notify.ChannelPush }

// Send multicasts to every registered device. The send is considered
// successful if at least one device accepts it; a device-not-registered
// response for an individual token is not itself retryable (the token is not
// removed from the user's device list), but a provider-wide outage is.
func (s *PushSender) Send(ctx context.Context, req *notify.SendRequest) notify.SendResult {
	if !s.cfg.Enabled {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "channel not enabled"}
	}
	if len(req.Devices) == 0 {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "no_registered_devices"}
	}

	urgency := priorityToUrgency(req.Priority)
	tokens := make([]string, len(req.Devices))
	for i, d := range req.Devices {
		tokens[i] = d.Token
	}

	body := fmt.Sprintf(`{"tokens":[%s],"title":%q,"body":%q,"urgency":%q,"ttl":%d}`,
		quoteJoin(tokens), req.Payload.Title, req.Payload.Body, urgency, int(pushTTL.Seconds()))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/push/multicast", strings.NewReader(body))
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
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusMultiStatus:
		return notify.SendResult{Status: notify.StatusSent}
	case resp.StatusCode == http.StatusTooManyRequests:
		return notify.SendResult{Status: notify.StatusFailed, Reason: "provider_rate_limited", Retryable: true}
	case resp.StatusCode >= 500:
		return notify.SendResult{Status: notify.StatusFailed, Reason: "provider_unavailable", Retryable: true}
	default:
		return notify.SendResult{Status: notify.StatusFailed, Reason: fmt.Sprintf("provider_rejected:%d", resp.StatusCode)}
	}
}

// priorityToUrgency maps an internal Priority to the provider's urgency tier.
// Critical escalates to the provider's highest wake-device urgency; low maps
// to a silent-data push that doesn't alert the user.
func priorityToUrgency(p notify.Priority) string {
	switch p {
	case notify.PriorityCritical:
		return "high"
	case notify.PriorityHigh:
		return "high"
	case notify.PriorityLow:
		return "silent"
	default:
		return "normal"
	}
}

func quoteJoin(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return strings.Join(quoted, ",")
}
