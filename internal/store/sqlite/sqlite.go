// Package sqlite stores interview results in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/intervox/internal/behavior"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS interview_results (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	score      INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP,
	session    TEXT NOT NULL,
	report     TEXT,
	video      BLOB,
	saved_at   TIMESTAMP NOT NULL
)`

// Store is a SQLite result store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens the database at path in WAL mode and creates the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts the result; existing ids are never overwritten.
func (s *Store) Save(ctx context.Context, video []byte, sess interview.Session, report *behavior.Report) error {
	sessJSON, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal session: %w", err)
	}
	var reportJSON sql.NullString
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("sqlite store: marshal report: %w", err)
		}
		reportJSON = sql.NullString{String: string(b), Valid: true}
	}
	var ended sql.NullTime
	if !sess.EndTime.IsZero() {
		ended = sql.NullTime{Time: sess.EndTime.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO interview_results (id, status, score, started_at, ended_at, session, report, video, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		sess.ID, string(sess.Status), sess.Score, sess.StartTime.UTC(), ended, string(sessJSON), reportJSON, video, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: save %s: %w", sess.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrAlreadySaved, sess.ID)
	}
	return nil
}

// Get loads the result for id.
func (s *Store) Get(ctx context.Context, id string) (*store.Result, error) {
	var (
		sessJSON   string
		reportJSON sql.NullString
		video      []byte
		r          store.Result
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session, report, video, saved_at FROM interview_results WHERE id = ?`, id,
	).Scan(&sessJSON, &reportJSON, &video, &r.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(sessJSON), &r.Session); err != nil {
		return nil, fmt.Errorf("sqlite store: decode session %s: %w", id, err)
	}
	if reportJSON.Valid {
		r.Report = new(behavior.Report)
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, fmt.Errorf("sqlite store: decode report %s: %w", id, err)
		}
	}
	r.Video = video
	return &r, nil
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
