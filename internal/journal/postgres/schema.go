package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS journal_sessions (
    id           UUID         PRIMARY KEY,
    device       TEXT         NOT NULL DEFAULT '',
    sample_rate  INTEGER      NOT NULL DEFAULT 0,
    started_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at     TIMESTAMPTZ
);`

const ddlEntries = `
CREATE TABLE IF NOT EXISTS journal_entries (
    seq          BIGSERIAL    PRIMARY KEY,
    id           UUID         NOT NULL UNIQUE,
    session_id   UUID         NOT NULL REFERENCES journal_sessions (id) ON DELETE CASCADE,
    turn_id      UUID         NOT NULL,
    kind         TEXT         NOT NULL,
    text         TEXT         NOT NULL DEFAULT '',
    detail       TEXT         NOT NULL DEFAULT '',
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    at           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    audio        BYTEA
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_session
    ON journal_entries (session_id, at);

CREATE INDEX IF NOT EXISTS idx_journal_entries_turn
    ON journal_entries (turn_id);`

// Migrate creates the journal tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlEntries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("journal migrate: %w", err)
		}
	}
	return nil
}
