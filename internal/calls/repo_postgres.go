package calls

import (
	"context"
	"database/sql"

	"doorgate/pkg/utils"
)

// PostgresRepo persists call history.
//
// Assumes:
//
//	CREATE TABLE call_records (
//	  id          text PRIMARY KEY,
//	  call_id     text NOT NULL,
//	  caller_id   text NOT NULL,
//	  normalized  text NOT NULL,
//	  outcome     text NOT NULL,
//	  allowed     boolean NOT NULL,
//	  pattern     text NOT NULL DEFAULT '',
//	  reason      text NOT NULL,
//	  started_at  timestamptz NOT NULL,
//	  duration    int NOT NULL
//	);

type PostgresRepo struct {
	db *sql.DB

	// Retention keeps the table bounded; 0 disables pruning.
	Retention int
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, Retention: 10000}
}

// Insert appends the record and prunes beyond retention in one transaction,
// so a burst of calls cannot race the prune past the bound.
func (r *PostgresRepo) Insert(ctx context.Context, rec Record) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO call_records (
  id, call_id, caller_id, normalized, outcome, allowed, pattern, reason, started_at, duration
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
		if _, err := tx.ExecContext(ctx, q,
			rec.ID,
			rec.CallID,
			rec.CallerID,
			rec.Normalized,
			rec.Outcome,
			rec.Allowed,
			rec.Pattern,
			rec.Reason,
			rec.StartedAt,
			rec.DurationSeconds,
		); err != nil {
			return err
		}

		if r.Retention <= 0 {
			return nil
		}
		const prune = `
DELETE FROM call_records
WHERE id IN (
  SELECT id FROM call_records
  ORDER BY started_at DESC
  OFFSET $1
)
`
		_, err := tx.ExecContext(ctx, prune, r.Retention)
		return err
	})
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, call_id, caller_id, normalized, outcome, allowed, pattern, reason, started_at, duration
FROM call_records
ORDER BY started_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.CallID,
			&rec.CallerID,
			&rec.Normalized,
			&rec.Outcome,
			&rec.Allowed,
			&rec.Pattern,
			&rec.Reason,
			&rec.StartedAt,
			&rec.DurationSeconds,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Summarize(ctx context.Context) (Summary, error) {
	const q = `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE allowed AND outcome <> 'canceled'),
  COUNT(*) FILTER (WHERE NOT allowed AND outcome <> 'canceled'),
  COUNT(*) FILTER (WHERE outcome = 'canceled'),
  COALESCE(MAX(started_at), 'epoch'::timestamptz)
FROM call_records
`
	var s Summary
	if err := r.db.QueryRowContext(ctx, q).Scan(
		&s.Total,
		&s.Allowed,
		&s.Denied,
		&s.Canceled,
		&s.LastCallAt,
	); err != nil {
		return Summary{}, err
	}
	return s, nil
}
