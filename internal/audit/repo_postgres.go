package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit events.
//
// Assumes an append-only table:
//
//	CREATE TABLE audit_events (
//	  id            text PRIMARY KEY,
//	  type          text NOT NULL,
//	  actor_subject text NOT NULL DEFAULT '',
//	  actor_role    text NOT NULL DEFAULT '',
//	  ip_address    text NOT NULL DEFAULT '',
//	  call_id       text NOT NULL DEFAULT '',
//	  caller_id     text NOT NULL DEFAULT '',
//	  pattern       text NOT NULL DEFAULT '',
//	  message       text NOT NULL DEFAULT '',
//	  metadata      text NOT NULL DEFAULT '',
//	  created_at    timestamptz NOT NULL
//	);

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_subject, actor_role, ip_address, call_id, caller_id, pattern, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.ActorSubject,
		e.ActorRole,
		e.IPAddress,
		e.CallID,
		e.CallerID,
		e.Pattern,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, type, actor_subject, actor_role, ip_address, call_id, caller_id, pattern, message, metadata, created_at
FROM audit_events
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.Type,
			&e.ActorSubject,
			&e.ActorRole,
			&e.IPAddress,
			&e.CallID,
			&e.CallerID,
			&e.Pattern,
			&e.Message,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
