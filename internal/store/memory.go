package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/intervox/internal/behavior"
	"github.com/MrWong99/intervox/internal/interview"
)

// Memory keeps results in process memory. Results are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	results map[string]Result
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{results: make(map[string]Result)}
}

func (m *Memory) Save(_ context.Context, video []byte, s interview.Session, report *behavior.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySaved, s.ID)
	}
	m.results[s.ID] = Result{
		Session: s.Clone(),
		Report:  report,
		Video:   append([]byte(nil), video...),
		SavedAt: time.Now().UTC(),
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Session = r.Session.Clone()
	return &r, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
