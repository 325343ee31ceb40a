package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/HarshaReddyVardhan/banking-notification-service/internal/monitoring"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// busEventValidator enforces the struct tags on a decoded busEvent (required
// eventType/timestamp/payload) — the second half of the "strict per-topic
// decoder" named in spec §9's Design Notes: encoding/json gets the message
// off the wire, go-playground/validator rejects shapes that decoded but
// don't satisfy the schema.
var busEventValidator = validator.New()

// IngressTopics are the four fixed bus topics the Ingestor subscribes to.
type IngressTopics struct {
	Security    string
	Transaction string
	Fraud       string
	UserLifecycle string
}

// DefaultIngressTopics matches the literal topic names named in spec §6.
func DefaultIngressTopics() IngressTopics {
	return IngressTopics{Security: "security", Transaction: "transaction", Fraud: "fraud", UserLifecycle: "user"}
}

// busEvent is the schema-loose wire shape of every ingress message, decoded
// once via encoding/json before being routed through the static mapping
// table — the "strict per-topic decoder" named in spec §9's Design Notes.
type busEvent struct {
	EventType     string                 `json:"eventType" validate:"required"`
	Timestamp     string                 `json:"timestamp" validate:"required"`
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	CorrelationID string                 `json:"correlationId"`
	Payload       map[string]interface{} `json:"payload" validate:"required"`
}

// topicKindMap is the static (topic, eventType) -> Kind mapping table.
// Unrecognized (topic, eventType) pairs are dropped silently and debug-logged
// per spec §4.2 — they are not malformed, just not notification-worthy.
var topicKindMap = map[string]map[string]Kind{
	"transaction": {
		"transfer.completed": KindTransferCompleted,
		"transfer.failed":    KindTransferFailed,
		"card.declined":      KindCardDeclined,
		"balance.low":        KindLowBalance,
		"statement.ready":    KindStatementReady,
	},
	"security": {
		"login.failed":       KindLoginFailed,
		"login.new_device":   KindLoginNewDevice,
		"password.changed":   KindPasswordChanged,
	},
	"fraud": {
		"fraud.detected": KindFraudDetected,
	},
	"user": {
		"account.locked": KindAccountLocked,
	},
}

// sourceIDFields names the payload field carrying the upstream business
// identifier for each kind — a transaction id, session id, and so on —
// distinct from the message's correlationId. SourceID is what the Router's
// dedup gate keys on across retries; CorrelationID only identifies one
// ingress message.
var sourceIDFields = map[Kind]string{
	KindTransferCompleted: "transactionId",
	KindTransferFailed:    "transactionId",
	KindCardDeclined:      "transactionId",
	KindLowBalance:        "accountId",
	KindStatementReady:    "statementId",
	KindLoginFailed:       "sessionId",
	KindLoginNewDevice:    "deviceId",
	KindPasswordChanged:   "changeId",
	KindFraudDetected:     "alertId",
	KindAccountLocked:     "lockId",
}

// businessSourceID extracts the business identifier named in sourceIDFields
// for kind out of the decoded payload. A kind with no mapped field, or a
// payload missing it, falls back to "none" (dedup by kind+user only).
func businessSourceID(kind Kind, payload map[string]interface{}) string {
	field, ok := sourceIDFields[kind]
	if !ok {
		return "none"
	}
	id, _ := payload[field].(string)
	if id == "" {
		return "none"
	}
	return id
}

// Ingestor consumes the four ingress topics and hands mapped requests to a
// Router, per spec §4.2's batch-pull / per-message-concurrent / offset-
// after-each-finishes processing model.
type Ingestor struct {
	readers map[string]*kafka.Reader
	router  *Router
	dlq     DLQStore
	metrics *monitoring.IngestorMetrics
}

// NewIngestor constructs one kafka.Reader per topic, each in the same
// consumer group, session timeout 30s / heartbeat 3s per spec §6.
func NewIngestor(brokers []string, groupID string, topics IngressTopics, router *Router, dlq DLQStore) *Ingestor {
	mk := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			Topic:          topic,
			SessionTimeout: 30 * time.Second,
			HeartbeatInterval: 3 * time.Second,
			MinBytes:       1,
			MaxBytes:       10e6,
		})
	}
	return &Ingestor{
		readers: map[string]*kafka.Reader{
			topics.Security:      mk(topics.Security),
			topics.Transaction:   mk(topics.Transaction),
			topics.Fraud:         mk(topics.Fraud),
			topics.UserLifecycle: mk(topics.UserLifecycle),
		},
		router: router, dlq: dlq, metrics: &monitoring.IngestorMetrics{},
	}
}

// Run starts one consumption goroutine per ingress topic reader and blocks
// until ctx is cancelled or a topic's consumption halts on an unwritable DLQ.
func (ing *Ingestor) Run(ctx context.Context) error {
	errCh := make(chan error, len(ing.readers))
	for topic, reader := range ing.readers {
		topic, reader := topic, reader
		go func() {
			errCh <- ing.consumeTopic(ctx, topic, reader)
		}()
	}

	for range ing.readers {
		if err := <-errCh; err != nil {
			ing.metrics.Halted.Set(1)
			return err
		}
	}
	return nil
}

// consumeTopic pulls and processes messages for one topic until ctx is
// cancelled or a DLQ write fails, at which point the partition halts rather
// than advancing past the unrecorded failure — the banking-domain deviation
// from the grounding reference consumer's always-commit behavior.
func (ing *Ingestor) consumeTopic(ctx context.Context, topic string, reader *kafka.Reader) error {
	defer reader.Close()
	logger := telemetry.GetContextualLogger(ctx).WithField("topic", topic)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.WithError(err).Error("fetch failed")
			return err
		}

		ing.metrics.Consumed.Inc()
		if err := ing.handle(ctx, topic, msg); err != nil {
			logger.WithError(err).Error("dlq write failed, halting partition rather than advancing offset")
			return err
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.WithError(err).Warn("offset commit failed")
		}
	}
}

// handle decodes, maps, and routes one message. It returns a non-nil error
// only when a DLQ write itself failed — every other outcome (dropped,
// malformed-but-recorded, routed) returns nil so the offset advances.
func (ing *Ingestor) handle(ctx context.Context, topic string, msg kafka.Message) error {
	var event busEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return ing.deadLetterMalformed(ctx, topic, msg, "decode_failure")
	}
	if err := busEventValidator.Struct(event); err != nil {
		return ing.deadLetterMalformed(ctx, topic, msg, "schema_validation_failed")
	}

	userID, _ := event.Payload["userId"].(string)
	if userID == "" {
		return ing.deadLetterMalformed(ctx, topic, msg, "missing_user_id")
	}

	kinds, ok := topicKindMap[topic]
	if !ok {
		ing.metrics.Dropped.Inc()
		return nil
	}
	kind, ok := kinds[event.EventType]
	if !ok {
		ing.metrics.Dropped.Inc()
		return nil
	}

	correlationID := event.CorrelationID
	if correlationID == "" {
		correlationID = fmt.Sprintf("%s-%d-%d", topic, msg.Partition, msg.Offset)
	}

	req := &Request{
		UserID: userID, Kind: kind, SourceID: businessSourceID(kind, event.Payload),
		CorrelationID: correlationID, Data: event.Payload,
	}

	if _, err := ing.router.Route(ctx, req); err != nil {
		return ing.deadLetterRoutingFailure(ctx, req, correlationID, err)
	}
	return nil
}

func (ing *Ingestor) deadLetterMalformed(ctx context.Context, topic string, msg kafka.Message, reason string) error {
	ing.metrics.Malformed.Inc()
	entry := DLQEntry{
		ID: uuid.NewString(), RecordID: "",
		UserID: "", Kind: "", Channel: "",
		Payload:       Payload{Body: string(msg.Value)},
		FailureReason: "malformed:" + reason,
		FailureCount:  1, FirstFailedAt: time.Now().UTC(), DLQAt: time.Now().UTC(),
	}
	if err := ing.dlq.Move(ctx, entry); err != nil {
		return err
	}
	ing.metrics.DLQWrites.Inc()
	return nil
}

func (ing *Ingestor) deadLetterRoutingFailure(ctx context.Context, req *Request, correlationID string, cause error) error {
	entry := DLQEntry{
		ID: uuid.NewString(), RecordID: "", UserID: req.UserID, Kind: req.Kind,
		Payload:       Payload{Data: req.Data},
		FailureReason: "route_error:" + cause.Error(),
		FailureCount:  1, FirstFailedAt: time.Now().UTC(), DLQAt: time.Now().UTC(),
	}
	if err := ing.dlq.Move(ctx, entry); err != nil {
		return err
	}
	ing.metrics.DLQWrites.Inc()
	return nil
}

// Close releases all topic readers.
func (ing *Ingestor) Close() error {
	var firstErr error
	for _, r := range ing.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
