// Package mock provides VAD doubles for capture tests.
//
// A [Session] reports whatever level its level function returns, so a test
// can walk the monitor from speaking to silent by swapping the function
// while frames flow:
//
//	sess := &mock.Session{}
//	sess.SetLevels(func() float64 { return 60 })
//	m := capture.NewMonitor(&mock.Engine{Session: sess})
package mock

import (
	"sync"

	"github.com/MrWong99/intervox/pkg/provider/vad"
)

// Engine hands out Session, or a fresh silent session when Session is nil.
type Engine struct {
	Session       vad.SessionHandle
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs returns the configs passed to NewSession so far.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// NewSessionCallCount returns how many sessions were requested.
func (e *Engine) NewSessionCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.configs)
}

// Session is safe for concurrent use, unlike a real session, so tests can
// retune it while the monitor's pump is running.
type Session struct {
	// Err fails every frame when set.
	Err error

	mu     sync.Mutex
	level  func() float64
	frames int
	resets int
	closes int
}

var _ vad.SessionHandle = (*Session)(nil)

// SetLevels makes every following frame report fn() on the 0 to 100 scale.
func (s *Session) SetLevels(fn func() float64) {
	s.mu.Lock()
	s.level = fn
	s.mu.Unlock()
}

// ProcessFrame reports the current level. Anything at or above 50 counts as
// speech; the monitor applies its own threshold to Level anyway.
func (s *Session) ProcessFrame([]byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.Err != nil {
		return vad.Event{}, s.Err
	}
	var lvl float64
	if s.level != nil {
		lvl = s.level()
	}
	ev := vad.Event{State: vad.Silent, Probability: lvl / 100}
	if lvl >= 50 {
		ev.State = vad.Speaking
	}
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// Frames returns the number of frames processed.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Resets returns the number of Reset calls.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
