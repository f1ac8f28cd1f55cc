package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"callscript/pkg/utils"
)

// Migrations creates the append-only audit table.
var Migrations = []utils.Migration{
	{Version: 1, Name: "audit_events", Stmts: []string{
		`CREATE TABLE audit_events (
			id            UUID PRIMARY KEY,
			type          TEXT NOT NULL,
			actor_user_id TEXT NOT NULL DEFAULT '',
			actor_role    TEXT NOT NULL DEFAULT '',
			ip_address    TEXT NOT NULL DEFAULT '',
			call_id       TEXT NOT NULL DEFAULT '',
			override_id   TEXT NOT NULL DEFAULT '',
			message       TEXT NOT NULL DEFAULT '',
			metadata      JSONB,
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX audit_events_created_at_idx ON audit_events (created_at DESC)`,
	}},
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address,
			call_id, override_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress,
		e.CallID, e.OverrideID, e.Message, meta, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", e.Type, err)
	}
	return nil
}

func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, actor_user_id, actor_role, ip_address, call_id, override_id,
			message, metadata, created_at
		FROM audit_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		var meta []byte
		if err := rows.Scan(&e.ID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress,
			&e.CallID, &e.OverrideID, &e.Message, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("audit event %s metadata: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
