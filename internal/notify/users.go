package notify

import (
	"context"
	"database/sql"

	apperrors "github.com/HarshaReddyVardhan/banking-notification-service/internal/errors"
)

// PostgresUserEnumerator implements UserEnumerator by listing every user
// whose stored preferences document has digest_enabled set, so the Digest
// Engine's scan only visits users who actually opted into digests
// (grounded on the teacher's repository.go read-path queries).
type PostgresUserEnumerator struct {
	db *sql.DB
}

// NewPostgresUserEnumerator wires a user enumerator against Postgres.
func NewPostgresUserEnumerator(db *sql.DB) *PostgresUserEnumerator {
	return &PostgresUserEnumerator{db: db}
}

func (e *PostgresUserEnumerator) ActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT user_id FROM preferences
		WHERE (document->>'digest_enabled')::boolean IS TRUE`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("enumerate_active_users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError("scan_active_user", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
