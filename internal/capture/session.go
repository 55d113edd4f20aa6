package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

var (
	// ErrUnsupportedPlatform is returned when a run starts without a speech
	// recognition provider.
	ErrUnsupportedPlatform = errors.New("capture: speech recognition is not available")

	// ErrAlreadyListening is returned by [Session.Start] and [Session.Resume]
	// while a run is live.
	ErrAlreadyListening = errors.New("capture: already listening")
)

// CaptureError is a recognition failure delivered to the error handler.
// Fatal errors end the run; the others leave it listening.
type CaptureError struct {
	Err   error
	Fatal bool
}

func (e *CaptureError) Error() string {
	if e.Fatal {
		return "capture: recognition stopped: " + e.Err.Error()
	}
	return "capture: recognition error: " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Phase is the lifecycle state of a [Session].
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseCompleting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseCompleting:
		return "completing"
	default:
		return "unknown"
	}
}

// VoiceActivity is the part of [Monitor] a [Session] depends on.
type VoiceActivity interface {
	Start(ctx context.Context, stream *audio.MediaStream) error
	Stop()
	Speaking() bool
}

var _ VoiceActivity = (*Monitor)(nil)

// Config tunes a [Session]. Zero fields take defaults.
type Config struct {
	// Debounce is the quiet period after the last recognition update before
	// completion is considered. Default: 3s.
	Debounce time.Duration

	// MaxListen forces completion regardless of content. Default: 45s.
	MaxListen time.Duration

	// MinTranscriptChars is the length the trimmed transcript must exceed
	// before the answer can complete. Default: 15.
	MinTranscriptChars int

	// Language is passed to the recognizer, e.g. "en-US".
	Language string

	// Keywords are vocabulary hints for the recognizer.
	Keywords []stt.KeywordBoost
}

func (c *Config) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = 3 * time.Second
	}
	if c.MaxListen <= 0 {
		c.MaxListen = 45 * time.Second
	}
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = 15
	}
}

// Option configures a [Session].
type Option func(*Session)

// WithConfig overrides the tuning.
func WithConfig(cfg Config) Option { return func(s *Session) { s.cfg = cfg } }

// WithCompletionHandler sets the function called exactly once per run with
// the trimmed transcript when the answer is complete.
func WithCompletionHandler(fn func(transcript string)) Option {
	return func(s *Session) { s.onComplete = fn }
}

// WithErrorHandler sets the function that receives recognition failures.
func WithErrorHandler(fn func(err *CaptureError)) Option {
	return func(s *Session) { s.onError = fn }
}

// WithTranscriptObserver sets the function that receives the live transcript
// after every recognition update.
func WithTranscriptObserver(fn func(transcript string)) Option {
	return func(s *Session) { s.onTranscript = fn }
}

// WithMetrics records engine restarts on m.
func WithMetrics(m *observe.Metrics) Option { return func(s *Session) { s.metrics = m } }

// Corrector rewrites misrecognized vocabulary in a finished transcript.
type Corrector interface {
	CorrectText(text string) string
}

// WithCorrector applies c to the transcript handed to the completion handler
// and returned by Stop.
func WithCorrector(c Corrector) Option { return func(s *Session) { s.corrector = c } }

// Session captures one spoken answer at a time. Each Start begins a run
// identified by a generation number; every callback checks that its run is
// still current and not stopping, so late events from a torn-down run are
// dropped. Session is safe for concurrent use.
type Session struct {
	provider stt.Provider
	vad      VoiceActivity
	cfg      Config

	onComplete   func(string)
	onError      func(*CaptureError)
	onTranscript func(string)
	metrics      *observe.Metrics
	corrector    Corrector

	mu       sync.Mutex
	phase    Phase
	gen      uint64
	stopping bool
	final    string
	interim  string

	noSpeechRestarts int
	networkRestarts  int

	runCtx     context.Context
	cancelRun  context.CancelFunc
	engine     *attempt
	sub        *audio.Subscription
	debounce   *time.Timer
	maxTimer   *time.Timer
	vadStarted bool
}

// attempt is one recognizer stream within a run. Restarts replace it.
type attempt struct {
	handle stt.SessionHandle
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates an idle session. provider may be nil, in which case Start
// fails with [ErrUnsupportedPlatform]; activity may be nil, in which case the
// candidate always counts as silent.
func NewSession(provider stt.Provider, activity VoiceActivity, opts ...Option) *Session {
	s := &Session{provider: provider, vad: activity}
	for _, o := range opts {
		o(s)
	}
	s.cfg.defaults()
	return s
}

// maxRestarts bounds recognizer restarts per run for each transient error
// kind. Further errors of that kind are reported without restarting.
const maxRestarts = 1

// Start begins a listening run on stream with an empty transcript.
func (s *Session) Start(ctx context.Context, stream *audio.MediaStream) error {
	return s.run(ctx, stream, false)
}

// Resume begins a listening run that keeps the transcript of the previous
// run, so an answer judged incomplete keeps growing instead of starting over.
// Interim text of the previous run is kept as final text.
func (s *Session) Resume(ctx context.Context, stream *audio.MediaStream) error {
	return s.run(ctx, stream, true)
}

func (s *Session) run(ctx context.Context, stream *audio.MediaStream, keep bool) error {
	s.mu.Lock()
	if s.provider == nil {
		s.mu.Unlock()
		return ErrUnsupportedPlatform
	}
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	s.gen++
	gen := s.gen
	s.phase = PhaseListening
	s.stopping = false
	if keep {
		s.final, s.interim = joinSegments(s.final, s.interim), ""
	} else {
		s.final, s.interim = "", ""
	}
	s.noSpeechRestarts, s.networkRestarts = 0, 0
	s.runCtx, s.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := s.runCtx
	s.vadStarted = s.vad != nil
	s.mu.Unlock()

	if s.vad != nil {
		go func() {
			if err := s.vad.Start(runCtx, stream); err != nil {
				slog.Warn("capture: voice activity unavailable, treating candidate as silent", "err", err)
				return
			}
			if !s.isCurrent(gen) {
				s.vad.Stop()
			}
		}()
	}

	a, err := s.openEngine(runCtx)
	if err != nil {
		s.abort(gen)
		if errors.Is(err, stt.ErrNotAllowed) {
			return &CaptureError{Err: err, Fatal: true}
		}
		return fmt.Errorf("capture: start recognition: %w", err)
	}

	var sub *audio.Subscription
	if stream != nil && stream.HasAudio() {
		if sub, err = stream.Acquire(); err != nil {
			slog.Debug("capture: no audio for recognizer", "err", err)
			sub = nil
		}
	}

	s.mu.Lock()
	if s.gen != gen || s.stopping {
		s.mu.Unlock()
		a.close()
		if sub != nil {
			sub.Release()
		}
		return nil
	}
	s.engine = a
	s.sub = sub
	s.maxTimer = time.AfterFunc(s.cfg.MaxListen, func() { s.complete(gen, "max listen") })
	s.mu.Unlock()

	go s.consume(gen, a)
	if sub != nil {
		go s.pump(gen, sub)
	}
	return nil
}

func (s *Session) openEngine(runCtx context.Context) (*attempt, error) {
	actx, cancel := context.WithCancel(runCtx)
	h, err := s.provider.StartStream(actx, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   s.cfg.Language,
		Keywords:   s.cfg.Keywords,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &attempt{handle: h, ctx: actx, cancel: cancel}, nil
}

func (a *attempt) close() {
	if a == nil {
		return
	}
	a.cancel()
	if err := a.handle.Close(); err != nil {
		slog.Debug("capture: close recognizer", "err", err)
	}
}

// pump forwards microphone audio to whichever recognizer attempt is current.
func (s *Session) pump(gen uint64, sub *audio.Subscription) {
	for frame := range sub.Frames() {
		s.mu.Lock()
		var h stt.SessionHandle
		if s.gen == gen && !s.stopping && s.engine != nil {
			h = s.engine.handle
		}
		s.mu.Unlock()
		if h == nil {
			continue
		}
		if err := h.SendAudio(frame.Data); err != nil {
			slog.Debug("capture: send audio", "err", err)
		}
	}
}

func (s *Session) consume(gen uint64, a *attempt) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case t, ok := <-a.handle.Partials():
			if !ok {
				return
			}
			s.update(gen, a, t)
		case t, ok := <-a.handle.Finals():
			if !ok {
				return
			}
			s.update(gen, a, t)
		case err, ok := <-a.handle.Errors():
			if !ok {
				return
			}
			s.engineError(gen, a, err)
		}
	}
}

// live reports whether the run gen with attempt a is still authoritative.
// s.mu must be held.
func (s *Session) live(gen uint64, a *attempt) bool {
	return s.gen == gen && !s.stopping && s.phase == PhaseListening && (a == nil || s.engine == a)
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && !s.stopping
}

func (s *Session) update(gen uint64, a *attempt, t stt.Transcript) {
	s.mu.Lock()
	if !s.live(gen, a) {
		s.mu.Unlock()
		return
	}
	if t.IsFinal {
		s.final = joinSegments(s.final, t.Text)
		s.interim = ""
	} else {
		s.interim = t.Text
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.Debounce, func() { s.debounced(gen) })
	text := s.transcriptLocked()
	observer := s.onTranscript
	s.mu.Unlock()

	if observer != nil {
		observer(text)
	}
}

// debounced completes the run only when the transcript is long enough and
// the candidate is silent. Otherwise the next update re-arms the timer.
func (s *Session) debounced(gen uint64) {
	s.mu.Lock()
	if !s.live(gen, nil) {
		s.mu.Unlock()
		return
	}
	enough := s.enoughLocked()
	s.mu.Unlock()

	if !enough || s.speaking() {
		return
	}
	s.complete(gen, "debounce")
}

func (s *Session) speaking() bool {
	return s.vad != nil && s.vad.Speaking()
}

func (s *Session) enoughLocked() bool {
	return utf8.RuneCountInString(s.transcriptLocked()) > s.cfg.MinTranscriptChars
}

func (s *Session) engineError(gen uint64, a *attempt, err error) {
	s.mu.Lock()
	if !s.live(gen, a) {
		s.mu.Unlock()
		return
	}
	var restart string
	switch {
	case errors.Is(err, stt.ErrNotAllowed):
		s.mu.Unlock()
		s.fail(gen, err)
		return
	case errors.Is(err, stt.ErrNoSpeech):
		if s.enoughLocked() {
			s.mu.Unlock()
			slog.Debug("capture: no speech after sufficient transcript")
			return
		}
		if s.noSpeechRestarts < maxRestarts {
			s.noSpeechRestarts++
			restart = "no_speech"
		}
	case errors.Is(err, stt.ErrNetwork):
		if s.networkRestarts < maxRestarts {
			s.networkRestarts++
			restart = "network"
		}
	}
	s.mu.Unlock()

	if restart == "" {
		s.report(&CaptureError{Err: err})
		return
	}
	s.restart(gen, a, restart)
}

// restart replaces the recognizer attempt a within run gen.
func (s *Session) restart(gen uint64, old *attempt, reason string) {
	s.mu.Lock()
	if !s.live(gen, old) {
		s.mu.Unlock()
		return
	}
	s.engine = nil
	runCtx := s.runCtx
	s.mu.Unlock()

	old.close()
	if s.metrics != nil {
		s.metrics.RecordCaptureRestart(runCtx, reason)
	}
	slog.Info("capture: restarting recognizer", "reason", reason)

	a, err := s.openEngine(runCtx)
	if err != nil {
		if errors.Is(err, stt.ErrNotAllowed) {
			s.fail(gen, err)
			return
		}
		s.report(&CaptureError{Err: fmt.Errorf("restart: %w", err)})
		return
	}

	s.mu.Lock()
	if !s.live(gen, nil) || s.engine != nil {
		s.mu.Unlock()
		a.close()
		return
	}
	s.engine = a
	s.mu.Unlock()
	go s.consume(gen, a)
}

// fail ends run gen after a fatal recognizer error. No completion is signalled.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.stopping {
		s.mu.Unlock()
		return
	}
	res := s.detachLocked()
	s.phase = PhaseIdle
	s.mu.Unlock()

	res.release(s.vad)
	s.report(&CaptureError{Err: err, Fatal: true})
}

func (s *Session) report(err *CaptureError) {
	slog.Warn("capture: recognition error", "err", err.Err, "fatal", err.Fatal)
	if s.onError != nil {
		s.onError(err)
	}
}

// complete signals completion for run gen exactly once, after teardown.
func (s *Session) complete(gen uint64, reason string) {
	s.mu.Lock()
	if !s.live(gen, nil) {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseCompleting
	text := s.transcriptLocked()
	res := s.detachLocked()
	s.mu.Unlock()

	res.release(s.vad)

	s.mu.Lock()
	if s.gen == gen {
		s.phase = PhaseIdle
	}
	s.mu.Unlock()

	slog.Debug("capture: answer complete", "reason", reason, "chars", utf8.RuneCountInString(text))
	if s.onComplete != nil {
		s.onComplete(s.correct(text))
	}
}

// abort tears down a run whose engine never opened.
func (s *Session) abort(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	res := s.detachLocked()
	s.phase = PhaseIdle
	s.mu.Unlock()
	res.release(s.vad)
}

// Stop ends the current run without signalling completion and returns the
// trimmed transcript. It is idempotent and may be called while idle.
func (s *Session) Stop() string {
	s.mu.Lock()
	text := s.transcriptLocked()
	if s.phase == PhaseIdle && s.cancelRun == nil {
		s.mu.Unlock()
		return s.correct(text)
	}
	s.gen++
	res := s.detachLocked()
	s.phase = PhaseIdle
	s.mu.Unlock()

	res.release(s.vad)
	return s.correct(text)
}

func (s *Session) correct(text string) string {
	if s.corrector == nil || text == "" {
		return text
	}
	return s.corrector.CorrectText(text)
}

// Reset clears the transcript and restart counters without stopping a run.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final, s.interim = "", ""
	s.noSpeechRestarts, s.networkRestarts = 0, 0
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
}

// Transcript returns the live transcript: final segments followed by the
// current interim segment.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

// Phase returns the current lifecycle state.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Listening reports whether a run is live.
func (s *Session) Listening() bool { return s.Phase() == PhaseListening }

func (s *Session) transcriptLocked() string {
	return strings.TrimSpace(joinSegments(s.final, s.interim))
}

type runResources struct {
	engine     *attempt
	sub        *audio.Subscription
	debounce   *time.Timer
	maxTimer   *time.Timer
	cancel     context.CancelFunc
	vadStarted bool
}

// detachLocked marks the run as stopping and hands its resources to the
// caller for release outside the lock.
func (s *Session) detachLocked() runResources {
	s.stopping = true
	res := runResources{
		engine:     s.engine,
		sub:        s.sub,
		debounce:   s.debounce,
		maxTimer:   s.maxTimer,
		cancel:     s.cancelRun,
		vadStarted: s.vadStarted,
	}
	s.engine, s.sub, s.debounce, s.maxTimer, s.cancelRun = nil, nil, nil, nil, nil
	s.vadStarted = false
	return res
}

func (r runResources) release(activity VoiceActivity) {
	if r.debounce != nil {
		r.debounce.Stop()
	}
	if r.maxTimer != nil {
		r.maxTimer.Stop()
	}
	r.engine.close()
	if r.vadStarted && activity != nil {
		activity.Stop()
	}
	if r.sub != nil {
		r.sub.Release()
	}
	if r.cancel != nil {
		r.cancel()
	}
}

func joinSegments(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
