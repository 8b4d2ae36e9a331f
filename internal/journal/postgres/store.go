// Package postgres stores the conversation journal in PostgreSQL.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	j, _ := journal.New(store, device, rate)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxturn/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// Store is a [journal.Store] backed by a pgx connection pool. Safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// StartSession implements [journal.Store].
func (s *Store) StartSession(ctx context.Context, sess journal.Session) error {
	const q = `
		INSERT INTO journal_sessions (id, device, sample_rate, started_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, sess.ID, sess.Device, sess.SampleRate, sess.StartedAt); err != nil {
		return fmt.Errorf("journal store: start session: %w", err)
	}
	return nil
}

// EndSession implements [journal.Store].
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE journal_sessions SET ended_at = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("journal store: end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("journal store: end session: unknown session %s", id)
	}
	return nil
}

// Append implements [journal.Store].
func (s *Store) Append(ctx context.Context, e journal.Entry) error {
	const q = `
		INSERT INTO journal_entries
		    (id, session_id, turn_id, kind, text, detail, duration_ns, at, audio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, q,
		e.ID,
		e.SessionID,
		e.TurnID,
		string(e.Kind),
		e.Text,
		e.Detail,
		e.Duration.Nanoseconds(),
		e.At,
		e.Audio,
	)
	if err != nil {
		return fmt.Errorf("journal store: append: %w", err)
	}
	return nil
}

// Entries implements [journal.Store]. Entries are returned in the order they
// were recorded.
func (s *Store) Entries(ctx context.Context, sessionID uuid.UUID) ([]journal.Entry, error) {
	const q = `
		SELECT id, session_id, turn_id, kind, text, detail, duration_ns, at, audio
		FROM   journal_entries
		WHERE  session_id = $1
		ORDER  BY at, seq`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal store: entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var (
			e          journal.Entry
			kind       string
			durationNS int64
		)
		if err := row.Scan(&e.ID, &e.SessionID, &e.TurnID, &kind, &e.Text, &e.Detail, &durationNS, &e.At, &e.Audio); err != nil {
			return e, err
		}
		e.Kind = journal.Kind(kind)
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal store: scan entries: %w", err)
	}
	return entries, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
