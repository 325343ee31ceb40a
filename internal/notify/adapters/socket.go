// Package adapters implements the four Provider Adapters: socket gateway,
// SMS, email, and push, each satisfying notify.ChannelSender.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/notify"
)

// SocketSenderConfig configures the socket-gateway adapter.
type SocketSenderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Enabled bool
}

// SocketSender delivers real-time push via the internal socket gateway:
// POST {base}/api/notifications/send to deliver, GET
// {base}/api/connections/{userId} to check online status, per spec §6.
// Grounded on the teacher's TelegramSender (masked-credential storage,
// HTTP-status-driven error classification).
type SocketSender struct {
	baseURL        string
	apiKey         string
	maskedAPIKey   string
	httpClient     *http.Client
	enabled        bool
}

// NewSocketSender constructs a socket-gateway adapter.
func NewSocketSender(cfg SocketSenderConfig) *SocketSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	masked := "***"
	if len(cfg.APIKey) > 5 {
		masked = cfg.APIKey[:5] + "***"
	}
	return &SocketSender{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"), apiKey: cfg.APIKey, maskedAPIKey: masked,
		httpClient: &http.Client{Timeout: timeout}, enabled: cfg.Enabled,
	}
}

func (s *SocketSender) Channel() notify.Channel { return notify.ChannelSocket }

type connectionStatus struct {
	Online bool `json:"online"`
}

type socketSendResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Send checks online status first so the caller can distinguish "delivered
// to an active session" from "accepted but the user is offline" — both are
// a successful send from the adapter's point of view; only a hard failure
// is retryable.
func (s *SocketSender) Send(ctx context.Context, req *notify.SendRequest) notify.SendResult {
	if !s.enabled {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "channel not enabled"}
	}

	online, err := s.checkOnline(ctx, req.UserID)
	if err != nil {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "connection_check_failed", Retryable: true}
	}

	body, err := json.Marshal(map[string]interface{}{
		"userId": req.UserID, "title": req.Payload.Title, "body": req.Payload.Body, "data": req.Payload.Data,
	})
	if err != nil {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "encode_failed", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/notifications/send", bytes.NewReader(body))
	if err != nil {
		return notify.SendResult{Status: notify.StatusFailed, Reason: fmt.Sprintf("request construction failed for key %s", s.maskedAPIKey), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "network_error", Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "response_read_failed", Retryable: true}
	}

	if resp.StatusCode >= 500 {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "gateway_unavailable", Retryable: true}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "gateway_rate_limited", Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return notify.SendResult{Status: notify.StatusFailed, Reason: fmt.Sprintf("gateway_rejected:%d", resp.StatusCode)}
	}

	var parsed socketSendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || !parsed.OK {
		return notify.SendResult{Status: notify.StatusFailed, Reason: "malformed_gateway_response", Retryable: true}
	}

	status := notify.StatusSent
	if online {
		status = notify.StatusDelivered
	}
	return notify.SendResult{Status: status, ProviderMessageID: parsed.MessageID}
}

func (s *SocketSender) checkOnline(ctx context.Context, userID string) (bool, error) {
	url := fmt.Sprintf("%s/api/connections/%s", s.baseURL, userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var status connectionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, nil
	}
	return status.Online, nil
}
