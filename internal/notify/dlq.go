package notify

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/HarshaReddyVardhan/banking-notification-service/internal/errors"
)

// DLQEntry is one dead-lettered Delivery Record: the record snapshot at the
// moment it exhausted retries, plus review state for the admin surface.
type DLQEntry struct {
	ID             string
	RecordID       string
	UserID         string
	Kind           Kind
	Channel        Channel
	Payload        Payload
	FailureReason  string
	FailureCount   int
	FirstFailedAt  time.Time
	DLQAt          time.Time
	Reviewed       bool
	ReviewedAt     *time.Time
	ReviewedBy     string
}

// DLQStore implements the Dead Letter Queue: a durable record of deliveries
// that exhausted retries or were rejected outright (malformed event,
// unknown kind), with enough detail for manual review or replay.
type DLQStore interface {
	Move(ctx context.Context, entry DLQEntry) error
	List(ctx context.Context, limit, offset int) ([]DLQEntry, error)
	MarkReviewed(ctx context.Context, id, reviewedBy string) error
	Depth(ctx context.Context) (int, error)
	Close() error
}

// PostgresDLQStore is the production DLQStore, grounded on the same
// database/sql + lib/pq pattern as HistoryStore and PreferencesStore.
type PostgresDLQStore struct {
	db *sql.DB
}

// NewPostgresDLQStore wires a Postgres-backed dead letter queue.
func NewPostgresDLQStore(db *sql.DB) *PostgresDLQStore {
	return &PostgresDLQStore{db: db}
}

// Move inserts a dead-letter entry and returns any write error. The Ingestor
// treats a non-nil error as fatal and halts that topic's consumption; the
// Router's terminal-failure path (also taken by Retry Engine re-entries)
// logs it and carries on.
func (s *PostgresDLQStore) Move(ctx context.Context, entry DLQEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, record_id, user_id, kind, channel, payload, failure_reason,
			failure_count, first_failed_at, dlq_at, reviewed
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false)
	`, entry.ID, entry.RecordID, entry.UserID, entry.Kind, entry.Channel, entry.Payload,
		entry.FailureReason, entry.FailureCount, entry.FirstFailedAt, entry.DLQAt)
	if err != nil {
		return apperrors.NewDatabaseError("dlq_move", err)
	}
	return nil
}

func (s *PostgresDLQStore) List(ctx context.Context, limit, offset int) ([]DLQEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, user_id, kind, channel, payload, failure_reason,
			failure_count, first_failed_at, dlq_at, reviewed, reviewed_at, reviewed_by
		FROM dead_letters
		ORDER BY dlq_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("dlq_list", err)
	}
	defer rows.Close()

	var entries []DLQEntry
	for rows.Next() {
		var e DLQEntry
		var reviewedBy sql.NullString
		if err := rows.Scan(
			&e.ID, &e.RecordID, &e.UserID, &e.Kind, &e.Channel, &e.Payload, &e.FailureReason,
			&e.FailureCount, &e.FirstFailedAt, &e.DLQAt, &e.Reviewed, &e.ReviewedAt, &reviewedBy,
		); err != nil {
			return nil, apperrors.NewDatabaseError("dlq_scan", err)
		}
		e.ReviewedBy = reviewedBy.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresDLQStore) MarkReviewed(ctx context.Context, id, reviewedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dead_letters SET reviewed = true, reviewed_at = now(), reviewed_by = $1
		WHERE id = $2
	`, reviewedBy, id)
	if err != nil {
		return apperrors.NewDatabaseError("dlq_mark_reviewed", err)
	}
	return nil
}

// Depth reports the count of unreviewed dead letters, used by the alerting
// thresholds in internal/monitoring.
func (s *PostgresDLQStore) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM dead_letters WHERE reviewed = false`).Scan(&n)
	if err != nil {
		return 0, apperrors.NewDatabaseError("dlq_depth", err)
	}
	return n, nil
}

func (s *PostgresDLQStore) Close() error {
	return nil
}
