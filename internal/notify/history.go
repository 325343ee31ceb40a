package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/HarshaReddyVardhan/banking-notification-service/internal/errors"
	"github.com/HarshaReddyVardhan/banking-notification-service/internal/telemetry"
)

// ErrNotFound mirrors the teacher's repository sentinel error.
var ErrNotFound = errors.New("notify: record not found")

// ErrConflict mirrors the teacher's repository sentinel error for a unique
// idempotency-key violation.
var ErrConflict = errors.New("notify: idempotency conflict")

// HistoryStore implements the History Store: persistence for Delivery
// Records, grounded on the teacher's Repository interface and its
// database/sql + lib/pq implementation.
type HistoryStore interface {
	Create(ctx context.Context, r *Record) error
	GetByIdempotencyKey(ctx context.Context, key string) (*Record, error)
	GetByID(ctx context.Context, id string) (*Record, error)
	UpdateForRetry(ctx context.Context, id string, nextAttemptAt time.Time, attemptCount int, lastError string) error
	MarkSent(ctx context.Context, id, providerMsgID string) error
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkRateLimited(ctx context.Context, id string) error
	GetDueRetries(ctx context.Context, limit int) ([]*Record, error)
	Close() error
}

// PostgresHistoryStore is the production HistoryStore, grounded on the
// teacher's repository.go: raw parameterized SQL via database/sql, unique
// violation detection via lib/pq's error code.
type PostgresHistoryStore struct {
	db *sql.DB
}

// NewPostgresHistoryStore wires a Postgres-backed history store.
func NewPostgresHistoryStore(db *sql.DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *PostgresHistoryStore) Create(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (
			id, notification_id, user_id, kind, channel, source_id, idempotency_key,
			status, priority, payload, attempt_count, max_attempts, next_attempt_at,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
	`, r.ID, r.NotificationID, r.UserID, r.Kind, r.Channel, r.SourceID, r.IdempotencyKey,
		r.Status, r.Priority, r.Payload, r.AttemptCount, r.MaxAttempts, r.NextAttemptAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return apperrors.NewDatabaseError("create_delivery_record", err)
	}
	return nil
}

func (s *PostgresHistoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	return s.scanOne(ctx, `SELECT * FROM delivery_records WHERE idempotency_key = $1`, key)
}

func (s *PostgresHistoryStore) GetByID(ctx context.Context, id string) (*Record, error) {
	return s.scanOne(ctx, `SELECT * FROM delivery_records WHERE id = $1`, id)
}

func (s *PostgresHistoryStore) scanOne(ctx context.Context, query string, arg interface{}) (*Record, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	var r Record
	err := row.Scan(
		&r.ID, &r.NotificationID, &r.UserID, &r.Kind, &r.Channel, &r.SourceID, &r.IdempotencyKey,
		&r.Status, &r.Priority, &r.Payload, &r.AttemptCount, &r.MaxAttempts, &r.NextAttemptAt,
		&r.LastError, &r.ProviderMsgID, &r.CreatedAt, &r.UpdatedAt, &r.SentAt, &r.DeliveredAt, &r.DLQAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("scan_delivery_record", err)
	}
	return &r, nil
}

func (s *PostgresHistoryStore) transition(ctx context.Context, id string, to Status, query string, args ...interface{}) error {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !ValidateTransition(existing.Status, to) {
		return apperrors.NewInternalError(fmt.Sprintf("illegal transition %s -> %s", existing.Status, to), nil)
	}

	_, err = s.db.ExecContext(ctx, query, args...)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithError(err).WithField("record_id", id).Error("history store write failed")
		return apperrors.NewDatabaseError("transition", err)
	}
	return nil
}

func (s *PostgresHistoryStore) UpdateForRetry(ctx context.Context, id string, nextAttemptAt time.Time, attemptCount int, lastError string) error {
	return s.transition(ctx, id, StatusRetrying, `
		UPDATE delivery_records SET status = $1, next_attempt_at = $2, attempt_count = $3, last_error = $4, updated_at = now()
		WHERE id = $5
	`, StatusRetrying, nextAttemptAt, attemptCount, lastError, id)
}

func (s *PostgresHistoryStore) MarkSent(ctx context.Context, id, providerMsgID string) error {
	return s.transition(ctx, id, StatusSent, `
		UPDATE delivery_records SET status = $1, sent_at = now(), provider_msg_id = $2, updated_at = now()
		WHERE id = $3
	`, StatusSent, providerMsgID, id)
}

func (s *PostgresHistoryStore) MarkDelivered(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusDelivered, `
		UPDATE delivery_records SET status = $1, delivered_at = now(), updated_at = now()
		WHERE id = $2
	`, StatusDelivered, id)
}

func (s *PostgresHistoryStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, StatusFailed, `
		UPDATE delivery_records SET status = $1, last_error = $2, updated_at = now()
		WHERE id = $3
	`, StatusFailed, reason, id)
}

func (s *PostgresHistoryStore) MarkRateLimited(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusRateLimited, `
		UPDATE delivery_records SET status = $1, updated_at = now()
		WHERE id = $2
	`, StatusRateLimited, id)
}

// GetDueRetries returns up to `limit` retrying records whose next-attempt
// time has elapsed, ordered ascending — the Retry Engine's per-tick batch,
// capped per spec §4.3/§5 at 100.
func (s *PostgresHistoryStore) GetDueRetries(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM delivery_records
		WHERE status = $1 AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`, StatusRetrying, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_due_retries", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.NotificationID, &r.UserID, &r.Kind, &r.Channel, &r.SourceID, &r.IdempotencyKey,
			&r.Status, &r.Priority, &r.Payload, &r.AttemptCount, &r.MaxAttempts, &r.NextAttemptAt,
			&r.LastError, &r.ProviderMsgID, &r.CreatedAt, &r.UpdatedAt, &r.SentAt, &r.DeliveredAt, &r.DLQAt,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan_due_retry", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *PostgresHistoryStore) Close() error {
	return nil
}
