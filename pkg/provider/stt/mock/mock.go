// Package mock provides test doubles for the stt package interfaces.
//
// Provider hands out a fresh Session for every StartStream call (or the fixed
// Session, if set) and keeps them in Started so tests can reach the live one:
//
//	p := &mock.Provider{}
//	handle, _ := p.StartStream(ctx, cfg)
//	p.Last().Emit(stt.Transcript{Text: "hello", IsFinal: true})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session, if non-nil, is returned by every StartStream call.
	Session *Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Started holds every session handed out, in order.
	Started []*Session
}

// StartStream records the call and returns a session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.Started = append(p.Started, s)
	return s, nil
}

// StartCount returns the number of successful StartStream calls. Thread-safe.
func (p *Provider) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Started)
}

// Last returns the most recently started session, or nil. Thread-safe.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Started) == 0 {
		return nil
	}
	return p.Started[len(p.Started)-1]
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle. Its channels are
// never closed; Close only marks the session done so late Emit calls are
// dropped instead of panicking.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript
	ErrorsCh   chan error
	done       chan struct{}
	closeOnce  sync.Once

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	SendAudioCount int
	CloseCallCount int
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
		ErrorsCh:   make(chan error, 4),
		done:       make(chan struct{}),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(_ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return errors.New("mock: session is closed")
	default:
	}
	s.SendAudioCount++
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }
func (s *Session) Finals() <-chan stt.Transcript   { return s.FinalsCh }
func (s *Session) Errors() <-chan error            { return s.ErrorsCh }

// Emit delivers t on the partials or finals channel depending on IsFinal.
// It is a no-op after Close.
func (s *Session) Emit(t stt.Transcript) {
	ch := s.PartialsCh
	if t.IsFinal {
		ch = s.FinalsCh
	}
	select {
	case ch <- t:
	case <-s.done:
	}
}

// Fail delivers err on the errors channel. It is a no-op after Close.
func (s *Session) Fail(err error) {
	select {
	case s.ErrorsCh <- err:
	case <-s.done:
	}
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close has been called. Thread-safe.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

var _ stt.SessionHandle = (*Session)(nil)
