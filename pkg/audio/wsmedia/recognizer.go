package wsmedia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// Recognizer relays the browser's own speech recognition as an
// [stt.Provider]. The browser already holds the microphone, so SendAudio is a
// no-op. Only one stream is live at a time; starting a new one detaches the
// previous one.
type Recognizer struct {
	conn *Conn
}

var _ stt.Provider = (*Recognizer)(nil)

// Recognizer returns the relay for this connection.
func (c *Conn) Recognizer() *Recognizer { return &Recognizer{conn: c} }

// StartStream asks the browser to start continuous recognition with interim
// results.
func (r *Recognizer) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	c := r.conn
	if !c.SpeechSupported() {
		return nil, fmt.Errorf("wsmedia: browser did not announce speech recognition")
	}
	s := &recSession{
		conn:     c,
		partials: make(chan stt.Transcript, 32),
		finals:   make(chan stt.Transcript, 32),
		errs:     make(chan error, 4),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	prev := c.rec
	c.rec = s
	c.mu.Unlock()
	if prev != nil {
		prev.detach()
	}

	keywords := make([]string, len(cfg.Keywords))
	for i, k := range cfg.Keywords {
		keywords[i] = k.Keyword
	}
	if err := c.writeJSON(ctx, recognitionControlMsg{Type: msgRecognitionStart, Language: cfg.Language, Keywords: keywords}); err != nil {
		c.mu.Lock()
		if c.rec == s {
			c.rec = nil
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("wsmedia: start recognition: %w", err)
	}
	return s, nil
}

func (c *Conn) deliverRecognition(m recognitionMsg) {
	c.mu.Lock()
	s := c.rec
	c.mu.Unlock()
	if s == nil {
		return
	}
	t := stt.Transcript{Text: m.Text, IsFinal: m.IsFinal, Confidence: m.Confidence, Timestamp: time.Now()}
	ch := s.partials
	if m.IsFinal {
		ch = s.finals
	}
	select {
	case ch <- t:
	case <-s.done:
	default:
	}
}

// deliverRecognitionError maps the browser's SpeechRecognitionErrorEvent codes
// onto the stt sentinels.
func (c *Conn) deliverRecognitionError(code string) {
	c.mu.Lock()
	s := c.rec
	c.mu.Unlock()
	if s == nil {
		return
	}
	var err error
	switch code {
	case "no-speech":
		err = stt.ErrNoSpeech
	case "not-allowed", "service-not-allowed":
		err = stt.ErrNotAllowed
	case "network":
		err = stt.ErrNetwork
	case "aborted":
		err = stt.ErrAborted
	default:
		err = fmt.Errorf("wsmedia: recognition error %q", code)
	}
	select {
	case s.errs <- err:
	case <-s.done:
	default:
	}
}

type recSession struct {
	conn     *Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan error
	done     chan struct{}
	once     sync.Once
}

func (s *recSession) SendAudio([]byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
		return nil
	}
}

func (s *recSession) Partials() <-chan stt.Transcript { return s.partials }
func (s *recSession) Finals() <-chan stt.Transcript   { return s.finals }
func (s *recSession) Errors() <-chan error            { return s.errs }

// Close asks the browser to stop recognizing and detaches the session.
func (s *recSession) Close() error {
	c := s.conn
	c.mu.Lock()
	current := c.rec == s
	if current {
		c.rec = nil
	}
	c.mu.Unlock()
	s.detach()
	if !current {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.writeJSON(ctx, recognitionControlMsg{Type: msgRecognitionStop}); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("wsmedia: stop recognition: %w", err)
	}
	return nil
}

func (s *recSession) detach() {
	s.once.Do(func() { close(s.done) })
}
