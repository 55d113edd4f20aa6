// Package postgres stores interview results in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/intervox/internal/behavior"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/store"
)

const ddl = `
CREATE TABLE IF NOT EXISTS interview_results (
    id          TEXT         PRIMARY KEY,
    status      TEXT         NOT NULL,
    score       INTEGER      NOT NULL,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ,
    session     JSONB        NOT NULL,
    report      JSONB,
    video       BYTEA,
    saved_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interview_results_saved_at
    ON interview_results (saved_at);
`

// Store is a PostgreSQL result store. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects to dsn, verifies the connection and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the schema if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres store: apply schema: %w", err)
	}
	return nil
}

// Save inserts the result. An existing result with the same id is left
// untouched and [store.ErrAlreadySaved] is returned.
func (s *Store) Save(ctx context.Context, video []byte, sess interview.Session, report *behavior.Report) error {
	sessJSON, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("postgres store: marshal session: %w", err)
	}
	var reportJSON []byte
	if report != nil {
		if reportJSON, err = json.Marshal(report); err != nil {
			return fmt.Errorf("postgres store: marshal report: %w", err)
		}
	}
	var ended *time.Time
	if !sess.EndTime.IsZero() {
		ended = &sess.EndTime
	}

	const q = `
		INSERT INTO interview_results (id, status, score, started_at, ended_at, session, report, video)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q, sess.ID, string(sess.Status), sess.Score, sess.StartTime, ended, sessJSON, reportJSON, video)
	if err != nil {
		return fmt.Errorf("postgres store: save %s: %w", sess.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrAlreadySaved, sess.ID)
	}
	return nil
}

// Get loads the result for id.
func (s *Store) Get(ctx context.Context, id string) (*store.Result, error) {
	const q = `SELECT session, report, video, saved_at FROM interview_results WHERE id = $1`
	var (
		sessJSON, reportJSON, video []byte
		r                           store.Result
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&sessJSON, &reportJSON, &video, &r.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	if err := json.Unmarshal(sessJSON, &r.Session); err != nil {
		return nil, fmt.Errorf("postgres store: decode session %s: %w", id, err)
	}
	if len(reportJSON) > 0 {
		r.Report = new(behavior.Report)
		if err := json.Unmarshal(reportJSON, r.Report); err != nil {
			return nil, fmt.Errorf("postgres store: decode report %s: %w", id, err)
		}
	}
	r.Video = video
	return &r, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
