// Package store persists finished interviews.
//
// Each interview is saved exactly once, when it completes. A result holds the
// session with all responses, the behavioral report when one was available,
// and the FLAC recording when recording was enabled.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/intervox/internal/behavior"
	"github.com/MrWong99/intervox/internal/interview"
)

var (
	// ErrNotFound is returned by Get for an unknown interview id.
	ErrNotFound = errors.New("store: result not found")

	// ErrAlreadySaved is returned by Save when a result with the same id
	// exists. Results are never overwritten.
	ErrAlreadySaved = errors.New("store: result already saved")
)

// Result is a persisted interview.
type Result struct {
	Session interview.Session `json:"session"`
	Report  *behavior.Report  `json:"report,omitempty"`
	Video   []byte            `json:"-"`
	SavedAt time.Time         `json:"saved_at"`
}

// Store is a result backend. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, video []byte, s interview.Session, report *behavior.Report) error
	Get(ctx context.Context, id string) (*Result, error)
	Ping(ctx context.Context) error
	Close() error
}
