// Package mock provides a test double for store.Store.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/intervox/internal/behavior"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/store"
)

// SaveCall records one Save invocation.
type SaveCall struct {
	Video   []byte
	Session interview.Session
	Report  *behavior.Report
}

// Store records saves and serves them back from Get.
type Store struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by Save. The call is still recorded.
	SaveErr error

	// PingErr is returned by Ping.
	PingErr error

	saves  []SaveCall
	closed bool
}

var _ store.Store = (*Store)(nil)

func (s *Store) Save(_ context.Context, video []byte, sess interview.Session, report *behavior.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, SaveCall{Video: video, Session: sess.Clone(), Report: report})
	return s.SaveErr
}

// Get returns the last successful save for id.
func (s *Store) Get(_ context.Context, id string) (*store.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr == nil {
		for i := len(s.saves) - 1; i >= 0; i-- {
			if c := s.saves[i]; c.Session.ID == id {
				return &store.Result{Session: c.Session.Clone(), Report: c.Report, Video: c.Video}, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Saves returns a copy of the recorded Save calls.
func (s *Store) Saves() []SaveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SaveCall(nil), s.saves...)
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
