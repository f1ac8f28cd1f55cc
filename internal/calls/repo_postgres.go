package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callscript/internal/callflow"
	"callscript/pkg/utils"
)

// Migrations create the call_records table; applied at startup with utils.Migrate.
var Migrations = []utils.Migration{
	{Version: 1, Name: "call_records", Stmts: []string{
		`CREATE TABLE call_records (
		id               UUID PRIMARY KEY,
		call_sid         TEXT NOT NULL UNIQUE,
		direction        TEXT NOT NULL,
		from_number      TEXT NOT NULL,
		to_number        TEXT NOT NULL,
		status           TEXT NOT NULL,
		duration_seconds INT NOT NULL DEFAULT 0,
		answered_by      TEXT NOT NULL DEFAULT '',
		child_calls      INT NOT NULL DEFAULT 0,
		started_at       TIMESTAMPTZ NOT NULL,
		ended_at         TIMESTAMPTZ NOT NULL
	)`,
		`CREATE INDEX call_records_ended_at_idx ON call_records (ended_at DESC)`,
	}},
}

const recordColumns = `id, call_sid, direction, from_number, to_number, status,
	duration_seconds, answered_by, child_calls, started_at, ended_at`

// PostgresRepo stores records through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Insert(ctx context.Context, rec Record) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO call_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (call_sid) DO NOTHING`,
			rec.ID, rec.CallSID, string(rec.Direction), rec.From, rec.To, string(rec.Status),
			rec.DurationSeconds, rec.AnsweredBy, rec.ChildCalls, rec.StartedAt, rec.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("insert call record %s: %w", rec.CallSID, err)
		}
		return nil
	})
}

func (r *PostgresRepo) Get(ctx context.Context, callSID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM call_records WHERE call_sid = $1`, callSID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM call_records ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Between(ctx context.Context, from, to time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM call_records
		WHERE ended_at >= $1 AND ended_at < $2 ORDER BY ended_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var direction, status string
	err := s.Scan(
		&rec.ID, &rec.CallSID, &direction, &rec.From, &rec.To, &status,
		&rec.DurationSeconds, &rec.AnsweredBy, &rec.ChildCalls, &rec.StartedAt, &rec.EndedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Direction = callflow.Direction(direction)
	rec.Status = callflow.Status(status)
	return rec, nil
}
