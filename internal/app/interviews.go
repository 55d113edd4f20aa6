package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/intervox/internal/capture"
	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/narrate"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/proctor"
	"github.com/MrWong99/intervox/internal/recording"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/audio/wsmedia"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

// completedRetention is how long a finished interview stays addressable
// before only its persisted result remains.
const completedRetention = 10 * time.Minute

// eventBuffer is the number of events queued per interview while the media
// socket is slow or absent.
const eventBuffer = 64

var (
	// ErrNotFound is returned for an unknown interview id.
	ErrNotFound = errors.New("app: interview not found")

	// ErrMediaAttached is returned when a second media socket connects to an
	// interview.
	ErrMediaAttached = errors.New("app: media already attached")

	// ErrMediaNotAttached is returned by Start before the candidate's media
	// socket has announced its tracks.
	ErrMediaNotAttached = errors.New("app: media not attached")

	// ErrInvalidPhoto is returned for an empty photo upload.
	ErrInvalidPhoto = errors.New("app: invalid photo")
)

// Deps are the shared collaborators of every interview.
type Deps struct {
	Providers *Providers
	Evaluator evaluate.Evaluator
	Reporter  interview.Reporter
	Store     interview.Store
	Cache     narrate.Cache
	Metrics   *observe.Metrics

	// Corrector fixes misheard vocabulary in spoken answers. NewManager
	// builds one from the bank when nil.
	Corrector *transcript.Corrector
}

// Manager creates and tracks interviews. It is safe for concurrent use.
type Manager struct {
	deps Deps
	bank *interview.Bank

	mu         sync.Mutex
	cfg        *config.Config
	rng        *rand.Rand
	interviews map[string]*Interview
	closed     bool
}

// NewManager returns a manager drawing questions from bank.
func NewManager(cfg *config.Config, bank *interview.Bank, deps Deps) *Manager {
	if deps.Providers == nil {
		deps.Providers = &Providers{}
	}
	if deps.Cache == nil {
		deps.Cache = narrate.NewMemoryCache()
	}
	if deps.Corrector == nil {
		deps.Corrector = transcript.New(bank.Keywords())
	}
	return &Manager{
		deps:       deps,
		bank:       bank,
		cfg:        cfg,
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		interviews: make(map[string]*Interview),
	}
}

// SetConfig replaces the tunables used for interviews created from now on.
func (m *Manager) SetConfig(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Create registers a new interview in the waiting state with a freshly
// ordered copy of the question bank.
func (m *Manager) Create() (*Interview, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("app: shutting down")
	}
	cfg := *m.cfg
	questions := interview.Order(m.bank.Questions, m.rng)
	id := uuid.NewString()
	m.mu.Unlock()

	iv := newInterview(id, questions, cfg, m.deps, m.bank.Keywords())

	m.mu.Lock()
	m.interviews[id] = iv
	active := len(m.interviews)
	m.mu.Unlock()

	go m.reap(iv)
	slog.Info("interview created", "interview_id", id, "questions", len(questions), "tracked", active)
	return iv, nil
}

// reap forgets iv some time after it completes, or when it is closed.
func (m *Manager) reap(iv *Interview) {
	select {
	case <-iv.machine.Done():
		select {
		case <-time.After(completedRetention):
		case <-iv.closed:
		}
	case <-iv.closed:
	}
	m.mu.Lock()
	delete(m.interviews, iv.id)
	m.mu.Unlock()
	iv.close()
}

// Get returns the interview with id.
func (m *Manager) Get(id string) (*Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interviews[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return iv, nil
}

// Len returns the number of tracked interviews.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.interviews)
}

// EndAll ends every running interview and waits for their results to be
// saved. New interviews are refused afterwards.
func (m *Manager) EndAll(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.closed = true
	all := make([]*Interview, 0, len(m.interviews))
	for _, iv := range m.interviews {
		all = append(all, iv)
	}
	m.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, iv := range all {
		g.Go(func() error {
			err := iv.End(ctx, reason)
			if err != nil && !errors.Is(err, interview.ErrNotStarted) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			iv.close()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Interview bundles the state machine of one candidate with the components
// built around their media socket.
type Interview struct {
	id       string
	cfg      config.Config
	deps     Deps
	keywords []string

	machine *interview.Machine
	proctor *proctor.Counter
	events  chan interview.Event
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	conn     *wsmedia.Conn
	stream   *audio.MediaStream
	capture  *capture.Session
	monitor  *capture.Monitor
	narrator *narrate.Narrator
	photo    []byte
}

func newInterview(id string, questions []interview.Question, cfg config.Config, deps Deps, keywords []string) *Interview {
	iv := &Interview{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		keywords: keywords,
		events:   make(chan interview.Event, eventBuffer),
		closed:   make(chan struct{}),
	}

	opts := []interview.Option{
		interview.WithConfig(machineConfig(cfg.Interview)),
		interview.WithCapture(attachedCapture{iv}),
		interview.WithNarrator(attachedNarrator{iv}),
		interview.WithEventHandler(iv.publish),
	}
	if deps.Evaluator != nil {
		opts = append(opts, interview.WithEvaluator(deps.Evaluator))
	}
	if deps.Reporter != nil {
		opts = append(opts, interview.WithReporter(deps.Reporter))
	}
	if deps.Store != nil {
		opts = append(opts, interview.WithStore(deps.Store))
	}
	if deps.Metrics != nil {
		opts = append(opts, interview.WithMetrics(deps.Metrics))
	}
	if cfg.Interview.Record {
		opts = append(opts, interview.WithRecorder(recording.New()))
	}
	iv.machine = interview.New(id, questions, opts...)

	iv.proctor = proctor.NewCounter(cfg.Interview.MaxViolations, func(reason string) {
		go func() {
			if err := iv.machine.ForceComplete(context.Background(), reason); err != nil && !errors.Is(err, interview.ErrNotStarted) {
				slog.Warn("interview: force complete", "interview_id", id, "err", err)
			}
		}()
	})

	go iv.pumpEvents()
	return iv
}

func machineConfig(c config.InterviewConfig) interview.Config {
	return interview.Config{
		TickInterval:         c.TickInterval,
		NonSpokenDelay:       c.NonSpokenDelay,
		LastQuestionDelay:    c.LastQuestionDelay,
		UnblockDelay:         c.UnblockDelay,
		RecordingStopTimeout: c.RecordingStopTimeout,
		ReportTimeout:        c.ReportTimeout,
		RequireVideo:         c.RequireVideo,
		TimeoutFeedback:      c.TimeoutFeedback,
		FallbackFeedback:     c.FallbackFeedback,
	}
}

// ID returns the interview id.
func (iv *Interview) ID() string { return iv.id }

// Snapshot returns a deep copy of the session.
func (iv *Interview) Snapshot() interview.Session { return iv.machine.Snapshot() }

// Questions returns the ordered question set.
func (iv *Interview) Questions() []interview.Question { return iv.machine.Questions() }

// Current returns the active question and the time left on it.
func (iv *Interview) Current() (interview.Question, time.Duration, bool) {
	return iv.machine.Current()
}

// Done is closed once the interview has completed and its result was handed
// to the store.
func (iv *Interview) Done() <-chan struct{} { return iv.machine.Done() }

// Attached reports whether a media socket is connected.
func (iv *Interview) Attached() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.conn != nil
}

// RecordPhoto stores the candidate's live identity photo.
func (iv *Interview) RecordPhoto(data []byte) error {
	if len(data) == 0 {
		return ErrInvalidPhoto
	}
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.photo = append([]byte(nil), data...)
	return nil
}

// Start checks the candidate's setup and begins the interview.
func (iv *Interview) Start(ctx context.Context) (err error) {
	ctx, span := observe.StartSpan(observe.WithInterview(ctx, iv.id), "interview.start")
	defer func() { observe.EndSpan(span, err) }()

	iv.mu.Lock()
	conn, stream, photo := iv.conn, iv.stream, len(iv.photo) > 0
	iv.mu.Unlock()
	if conn == nil || stream == nil {
		return ErrMediaNotAttached
	}
	return iv.machine.Start(ctx, interview.Readiness{
		Speech:        iv.deps.Providers.STT != nil || conn.SpeechSupported(),
		Stream:        stream,
		PhotoCaptured: photo,
	})
}

// SubmitAnswer submits a typed answer for the current question.
func (iv *Interview) SubmitAnswer(ctx context.Context, text string) (err error) {
	ctx, span := observe.StartSpan(observe.WithInterview(ctx, iv.id), "interview.answer")
	defer func() { observe.EndSpan(span, err) }()
	return iv.machine.SubmitAnswer(ctx, text, false)
}

// SetDraft stores the typed answer used when the question times out.
func (iv *Interview) SetDraft(text string) error { return iv.machine.SetDraft(text) }

// ReportViolation counts a proctoring violation. forced reports whether it
// triggered the end of the interview.
func (iv *Interview) ReportViolation(v proctor.Violation) (count, remaining int, forced bool) {
	count, forced = iv.proctor.Report(v)
	slog.Info("interview: proctoring violation", "interview_id", iv.id, "kind", v.Kind, "count", count)
	return count, iv.proctor.Remaining(), forced
}

// End ends the interview. It blocks until the result was saved.
func (iv *Interview) End(ctx context.Context, reason string) (err error) {
	ctx, span := observe.StartSpan(observe.WithInterview(ctx, iv.id), "interview.end", attribute.String("reason", reason))
	defer func() { observe.EndSpan(span, err) }()
	return iv.machine.EndInterview(ctx, reason)
}

// Serve runs the candidate's media socket. It attaches the capture, voice
// activity and narration components once the browser announced its tracks
// and returns when the socket closes. Losing the socket ends a running
// interview.
func (iv *Interview) Serve(ctx context.Context, conn *wsmedia.Conn) error {
	iv.mu.Lock()
	if iv.conn != nil {
		iv.mu.Unlock()
		_ = conn.Close()
		return ErrMediaAttached
	}
	iv.conn = conn
	iv.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conn.Run(gctx) })
	g.Go(func() error {
		stream, err := conn.Stream(gctx)
		if err != nil {
			return nil
		}
		iv.attach(conn, stream)
		return nil
	})
	err := g.Wait()
	iv.detach(conn)
	return err
}

func (iv *Interview) attach(conn *wsmedia.Conn, stream *audio.MediaStream) {
	var recognizer stt.Provider = conn.Recognizer()
	if iv.deps.Providers.STT != nil {
		recognizer = iv.deps.Providers.STT
	}

	cc := iv.cfg.Capture
	monitor := capture.NewMonitor(iv.deps.Providers.VAD, capture.WithMonitorConfig(capture.MonitorConfig{
		Interval:        cc.SampleInterval,
		SpeechThreshold: cc.SpeechThreshold,
		Silence:         cc.Silence,
	}))

	keywords := make([]stt.KeywordBoost, 0, len(iv.keywords))
	for _, k := range iv.keywords {
		keywords = append(keywords, stt.KeywordBoost{Keyword: k, Boost: 1})
	}
	capOpts := []capture.Option{
		capture.WithConfig(capture.Config{
			Debounce:           cc.Debounce,
			MaxListen:          cc.MaxListen,
			MinTranscriptChars: cc.MinTranscriptChars,
			Language:           cc.Language,
			Keywords:           keywords,
		}),
		capture.WithCompletionHandler(iv.machine.OnCaptureComplete),
		capture.WithErrorHandler(iv.machine.OnCaptureError),
		capture.WithTranscriptObserver(iv.machine.OnTranscript),
	}
	if iv.deps.Metrics != nil {
		capOpts = append(capOpts, capture.WithMetrics(iv.deps.Metrics))
	}
	if c := iv.deps.Corrector; c != nil && c.Len() > 0 {
		capOpts = append(capOpts, capture.WithCorrector(c))
	}
	session := capture.NewSession(recognizer, monitor, capOpts...)

	nc := iv.cfg.Narration
	narrOpts := []narrate.Option{
		narrate.WithVoice(tts.VoiceProfile{ID: nc.VoiceID}),
		narrate.WithCache(iv.deps.Cache),
		narrate.WithCapture(session),
	}
	if nc.FallbackDelay > 0 {
		narrOpts = append(narrOpts, narrate.WithFallbackDelay(nc.FallbackDelay))
	}
	if nc.SynthesisTimeout > 0 {
		narrOpts = append(narrOpts, narrate.WithSynthesisTimeout(nc.SynthesisTimeout))
	}
	if iv.deps.Metrics != nil {
		narrOpts = append(narrOpts, narrate.WithMetrics(iv.deps.Metrics))
	}
	narrator := narrate.New(iv.deps.Providers.TTS, conn, narrOpts...)

	iv.mu.Lock()
	iv.stream, iv.capture, iv.monitor, iv.narrator = stream, session, monitor, narrator
	iv.mu.Unlock()
	slog.Info("interview: media attached", "interview_id", iv.id,
		"audio", stream.HasAudio(), "video", stream.HasVideo(), "browser_speech", conn.SpeechSupported())
}

func (iv *Interview) detach(conn *wsmedia.Conn) {
	if iv.machine.Snapshot().Status == interview.StatusActive {
		if err := iv.machine.EndInterview(context.Background(), "candidate disconnected"); err != nil {
			slog.Warn("interview: end after disconnect", "interview_id", iv.id, "err", err)
		}
	}

	iv.mu.Lock()
	if iv.conn != conn {
		iv.mu.Unlock()
		return
	}
	session, monitor, narrator := iv.capture, iv.monitor, iv.narrator
	iv.conn, iv.stream, iv.capture, iv.monitor, iv.narrator = nil, nil, nil, nil, nil
	iv.mu.Unlock()

	if narrator != nil {
		narrator.Stop()
	}
	if session != nil {
		session.Stop()
	}
	if monitor != nil {
		monitor.Stop()
	}
	slog.Info("interview: media detached", "interview_id", iv.id)
}

// publish queues e for the candidate. It never blocks the machine.
func (iv *Interview) publish(e interview.Event) {
	select {
	case iv.events <- e:
	default:
		slog.Warn("interview: event dropped, client too slow", "interview_id", iv.id, "type", e.Type)
	}
}

func (iv *Interview) pumpEvents() {
	for {
		select {
		case <-iv.closed:
			return
		case e := <-iv.events:
			iv.mu.Lock()
			conn := iv.conn
			iv.mu.Unlock()
			if conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := conn.Send(ctx, e); err != nil {
				slog.Debug("interview: event not delivered", "interview_id", iv.id, "type", e.Type, "err", err)
			}
			cancel()
		}
	}
}

// close stops the event pump and hangs up the media socket.
func (iv *Interview) close() {
	iv.once.Do(func() {
		close(iv.closed)
		iv.mu.Lock()
		conn := iv.conn
		iv.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// attachedCapture forwards to the capture session of the current media
// socket. Without one it does nothing.
type attachedCapture struct{ iv *Interview }

func (a attachedCapture) session() *capture.Session {
	a.iv.mu.Lock()
	defer a.iv.mu.Unlock()
	return a.iv.capture
}

func (a attachedCapture) Start(ctx context.Context, stream *audio.MediaStream) error {
	s := a.session()
	if s == nil {
		return ErrMediaNotAttached
	}
	return s.Start(ctx, stream)
}

func (a attachedCapture) Resume(ctx context.Context, stream *audio.MediaStream) error {
	s := a.session()
	if s == nil {
		return ErrMediaNotAttached
	}
	return s.Resume(ctx, stream)
}

func (a attachedCapture) Stop() string {
	if s := a.session(); s != nil {
		return s.Stop()
	}
	return ""
}

func (a attachedCapture) Reset() {
	if s := a.session(); s != nil {
		s.Reset()
	}
}

// attachedNarrator forwards to the narrator of the current media socket.
type attachedNarrator struct{ iv *Interview }

func (a attachedNarrator) narrator() *narrate.Narrator {
	a.iv.mu.Lock()
	defer a.iv.mu.Unlock()
	return a.iv.narrator
}

func (a attachedNarrator) Narrate(ctx context.Context, text string) error {
	if n := a.narrator(); n != nil {
		return n.Narrate(ctx, text)
	}
	return nil
}

func (a attachedNarrator) Stop() {
	if n := a.narrator(); n != nil {
		n.Stop()
	}
}
