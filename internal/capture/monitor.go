// Package capture turns a candidate's microphone into answers. [Monitor]
// classifies the stream into speaking and silent intervals, and [Session]
// runs speech recognition, merges interim and final results into a live
// transcript, and decides when the candidate has finished answering.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/vad"
)

// AudioSetupError reports that voice activity analysis could not be started.
type AudioSetupError struct {
	Reason string
	Err    error
}

func (e *AudioSetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: audio setup: %s: %v", e.Reason, e.Err)
	}
	return "capture: audio setup: " + e.Reason
}

func (e *AudioSetupError) Unwrap() error { return e.Err }

// MonitorConfig tunes a [Monitor]. Zero fields take defaults.
type MonitorConfig struct {
	// Interval between level samples. Default: 100ms.
	Interval time.Duration

	// SpeechThreshold is the activity level (0 to 100) above which a sample
	// counts as speech. Default: 15.
	SpeechThreshold float64

	// Silence is how long the level must stay at or below the threshold before
	// the candidate counts as silent again. Default: 2.5s.
	Silence time.Duration

	// FrameSizeMs is passed to the VAD engine. Default: 20.
	FrameSizeMs int
}

func (c *MonitorConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 15
	}
	if c.Silence <= 0 {
		c.Silence = 2500 * time.Millisecond
	}
	if c.FrameSizeMs <= 0 {
		c.FrameSizeMs = 20
	}
}

// VoiceActivityState is a snapshot of a [Monitor].
type VoiceActivityState struct {
	Level        float64
	Speaking     bool
	LastSpeechAt time.Time
}

// Monitor samples the activity level of a shared media stream and classifies
// the candidate as speaking or silent. It is safe for concurrent use and may be
// started again after Stop.
type Monitor struct {
	engine   vad.Engine
	cfg      MonitorConfig
	onChange func(speaking bool)

	// lifecycle serializes Start and Stop so a run is fully torn down before
	// the next one takes its stream reference.
	lifecycle sync.Mutex

	mu      sync.Mutex
	run     *monitorRun
	current float64 // latest engine level
	state   VoiceActivityState
}

type monitorRun struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// MonitorOption configures a [Monitor].
type MonitorOption func(*Monitor)

// WithMonitorConfig overrides the tuning.
func WithMonitorConfig(cfg MonitorConfig) MonitorOption {
	return func(m *Monitor) { m.cfg = cfg }
}

// WithSpeakingObserver registers fn to be called on every change of the
// speaking flag. fn runs on the sampling goroutine and must not block.
func WithSpeakingObserver(fn func(speaking bool)) MonitorOption {
	return func(m *Monitor) { m.onChange = fn }
}

// NewMonitor creates a stopped monitor backed by engine.
func NewMonitor(engine vad.Engine, opts ...MonitorOption) *Monitor {
	m := &Monitor{engine: engine}
	for _, o := range opts {
		o(m)
	}
	m.cfg.defaults()
	return m
}

// Start takes a reference on stream and begins sampling. The stream is never
// opened a second time; a running monitor is stopped first.
func (m *Monitor) Start(ctx context.Context, stream *audio.MediaStream) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stop()

	if m.engine == nil {
		return &AudioSetupError{Reason: "no audio analysis capability"}
	}
	if stream == nil || !stream.HasAudio() {
		return &AudioSetupError{Reason: "stream has no audio track"}
	}
	sub, err := stream.Acquire()
	if err != nil {
		return &AudioSetupError{Reason: "acquire stream", Err: err}
	}
	threshold := m.cfg.SpeechThreshold / 100
	sess, err := m.engine.NewSession(vad.Config{
		SampleRate:       stream.Format().SampleRate,
		FrameSizeMs:      m.cfg.FrameSizeMs,
		SpeechThreshold:  threshold,
		SilenceThreshold: threshold,
	})
	if err != nil {
		sub.Release()
		return &AudioSetupError{Reason: "open vad session", Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &monitorRun{cancel: cancel}
	run.wg.Add(2)

	m.mu.Lock()
	m.run = run
	m.current = 0
	m.state = VoiceActivityState{}
	m.mu.Unlock()

	go func() {
		defer run.wg.Done()
		defer sub.Release()
		defer func() {
			if err := sess.Close(); err != nil {
				slog.Debug("capture: close vad session", "err", err)
			}
		}()
		m.analyse(runCtx, sub, sess)
	}()
	go func() {
		defer run.wg.Done()
		m.sample(runCtx)
	}()
	return nil
}

// analyse feeds every frame to the engine. It is the only goroutine that
// touches sess.
func (m *Monitor) analyse(ctx context.Context, sub *audio.Subscription, sess vad.SessionHandle) {
	var warned bool
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			ev, err := sess.ProcessFrame(frame.Data)
			if err != nil {
				if !warned {
					slog.Warn("capture: vad frame rejected", "err", err)
					warned = true
				}
				continue
			}
			m.mu.Lock()
			m.current = ev.Level()
			m.mu.Unlock()
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.classify(now)
		}
	}
}

func (m *Monitor) classify(now time.Time) {
	m.mu.Lock()
	level := m.current
	was := m.state.Speaking
	m.state.Level = level
	if level > m.cfg.SpeechThreshold {
		m.state.Speaking = true
		m.state.LastSpeechAt = now
	} else if now.Sub(m.state.LastSpeechAt) > m.cfg.Silence {
		m.state.Speaking = false
	}
	changed := was != m.state.Speaking
	speaking := m.state.Speaking
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(speaking)
	}
}

// Level returns the latest sampled activity level in [0, 100].
func (m *Monitor) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Level
}

// Speaking reports whether the candidate is currently speaking.
func (m *Monitor) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Speaking
}

// State returns the latest snapshot.
func (m *Monitor) State() VoiceActivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Running reports whether the monitor is sampling.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run != nil
}

// Stop releases the engine session and the stream reference and stops
// sampling. It is idempotent and may be called from any state; the speaking
// flag is cleared.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stop()
}

func (m *Monitor) stop() {
	m.mu.Lock()
	run := m.run
	m.run = nil
	m.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	run.wg.Wait()

	m.mu.Lock()
	m.current = 0
	m.state.Speaking = false
	m.state.Level = 0
	m.mu.Unlock()
}

// IsAudioSetup reports whether err is an [AudioSetupError].
func IsAudioSetup(err error) bool {
	var ae *AudioSetupError
	return errors.As(err, &ae)
}
