package interview

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/intervox/internal/behavior"
	"github.com/MrWong99/intervox/internal/capture"
	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/pkg/audio"
)

// Minimum size of a free-form answer.
const (
	minAnswerChars = 10
	minAnswerWords = 3
)

// Capture is the speech capture session used for spoken questions.
type Capture interface {
	Start(ctx context.Context, stream *audio.MediaStream) error
	// Resume listens again without discarding the transcript so far.
	Resume(ctx context.Context, stream *audio.MediaStream) error
	Stop() string
	Reset()
}

// Narrator reads question and feedback text aloud.
type Narrator interface {
	Narrate(ctx context.Context, text string) error
	Stop()
}

// Recorder records the candidate's media while the interview is active.
type Recorder interface {
	Start(ctx context.Context, stream *audio.MediaStream) error
	Stop(ctx context.Context) ([]byte, error)
}

// Reporter fetches the behavioral report for a finished interview.
type Reporter interface {
	Fetch(ctx context.Context, id string) (*behavior.Report, error)
}

// Store persists a finished interview.
type Store interface {
	Save(ctx context.Context, video []byte, s Session, report *behavior.Report) error
}

// Config holds the timing and text tunables of a [Machine].
type Config struct {
	// TickInterval is the countdown period. Default: 1s.
	TickInterval time.Duration

	// NonSpokenDelay replaces feedback narration for non-communication
	// questions. Default: 1s. The three delays are disabled when negative.
	NonSpokenDelay time.Duration

	// LastQuestionDelay precedes the automatic end after the last answer.
	// Default: 1s.
	LastQuestionDelay time.Duration

	// UnblockDelay keeps submissions blocked after advancing. Default: 500ms.
	UnblockDelay time.Duration

	// RecordingStopTimeout bounds retrieval of the recording at the end.
	// Default: 10s.
	RecordingStopTimeout time.Duration

	// ReportTimeout bounds the behavioral report request. Default: 15s.
	ReportTimeout time.Duration

	// RequireVideo makes a camera track a start precondition.
	RequireVideo bool

	// TimeoutFeedback is recorded for questions whose deadline expired.
	TimeoutFeedback string

	// FallbackFeedback is recorded when the evaluator fails.
	FallbackFeedback string
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.NonSpokenDelay == 0 {
		c.NonSpokenDelay = time.Second
	}
	if c.LastQuestionDelay == 0 {
		c.LastQuestionDelay = time.Second
	}
	if c.UnblockDelay == 0 {
		c.UnblockDelay = 500 * time.Millisecond
	}
	if c.RecordingStopTimeout <= 0 {
		c.RecordingStopTimeout = 10 * time.Second
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = 15 * time.Second
	}
	if c.TimeoutFeedback == "" {
		c.TimeoutFeedback = "Time exceeded. No answer was recorded in time."
	}
	if c.FallbackFeedback == "" {
		c.FallbackFeedback = "Your answer was recorded, but automatic feedback is unavailable right now."
	}
}

// Readiness describes the candidate's setup at start.
type Readiness struct {
	// Speech reports that a speech recognizer is available.
	Speech bool

	// Stream is the candidate's shared media stream.
	Stream *audio.MediaStream

	// PhotoCaptured reports that the live identity photo was taken.
	PhotoCaptured bool
}

// EventType identifies an [Event].
type EventType string

const (
	EventQuestion     EventType = "question"
	EventCountdown    EventType = "countdown"
	EventTranscript   EventType = "transcript"
	EventResponse     EventType = "response"
	EventCompleted    EventType = "completed"
	EventSaveFailed   EventType = "save_failed"
	EventCaptureError EventType = "capture_error"
)

// Event is a state change published to the candidate's client.
type Event struct {
	Type  EventType `json:"type"`
	Index int       `json:"index"`

	Question *Question `json:"question,omitempty"`

	// Remaining is the whole seconds left on the current question.
	Remaining int `json:"remaining,omitempty"`

	Transcript string    `json:"transcript,omitempty"`
	Response   *Response `json:"response,omitempty"`
	Score      int       `json:"score,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Fatal      bool      `json:"fatal,omitempty"`
}

// Option configures a [Machine].
type Option func(*Machine)

// WithConfig sets the timing and text tunables.
func WithConfig(cfg Config) Option { return func(m *Machine) { m.cfg = cfg } }

func WithCapture(c Capture) Option { return func(m *Machine) { m.capture = c } }

func WithNarrator(n Narrator) Option { return func(m *Machine) { m.narrator = n } }

func WithEvaluator(e evaluate.Evaluator) Option { return func(m *Machine) { m.evaluator = e } }

// WithRecorder records the candidate's media for the whole interview.
func WithRecorder(r Recorder) Option { return func(m *Machine) { m.recorder = r } }

func WithReporter(r Reporter) Option { return func(m *Machine) { m.reporter = r } }

func WithStore(s Store) Option { return func(m *Machine) { m.store = s } }

func WithMetrics(mt *observe.Metrics) Option { return func(m *Machine) { m.metrics = mt } }

// WithEventHandler receives every [Event]. fn is called without internal
// locks held and must not block for long.
func WithEventHandler(fn func(Event)) Option { return func(m *Machine) { m.onEvent = fn } }

// Machine drives one interview. All methods are safe for concurrent use.
//
// Exactly one answer is recorded per question: submissions are single-flight
// and every timer checks the question generation and the permanent ended flag
// before acting.
type Machine struct {
	id        string
	questions []Question
	cfg       Config

	capture   Capture
	narrator  Narrator
	evaluator evaluate.Evaluator
	recorder  Recorder
	reporter  Reporter
	store     Store
	metrics   *observe.Metrics
	onEvent   func(Event)

	done chan struct{}

	mu            sync.Mutex
	session       *Session
	stream        *audio.MediaStream
	hold          *audio.Subscription
	runCtx        context.Context
	cancel        context.CancelFunc
	gen           uint64
	listenGen     uint64
	questionStart time.Time
	deadline      time.Time
	expiry        *time.Timer
	draft         string
	busy          bool
	ended         bool
	saveErr       error
}

// New creates a machine for the interview id over questions, which must
// already be in presentation order (see [Order]).
func New(id string, questions []Question, opts ...Option) *Machine {
	m := &Machine{
		id:        id,
		questions: append([]Question(nil), questions...),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.cfg.defaults()
	return m
}

// ID returns the interview id.
func (m *Machine) ID() string { return m.id }

// Questions returns the ordered question set.
func (m *Machine) Questions() []Question { return append([]Question(nil), m.questions...) }

// Done is closed once the interview has completed and the save attempt has
// finished.
func (m *Machine) Done() <-chan struct{} { return m.done }

// SaveErr returns the persistence failure of a completed interview, if any.
func (m *Machine) SaveErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveErr
}

// Start checks r and begins the interview at question 0.
func (m *Machine) Start(ctx context.Context, r Readiness) error {
	if len(m.questions) == 0 {
		return ErrNoQuestions
	}
	if err := m.check(r); err != nil {
		return err
	}

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	hold, err := r.Stream.Acquire()
	if err != nil {
		m.mu.Unlock()
		return &PreconditionError{Check: CheckMicrophone, Err: err}
	}
	now := time.Now()
	m.session = &Session{
		ID:        m.id,
		StartTime: now,
		Responses: []Response{},
		Status:    StatusActive,
	}
	m.stream = r.Stream
	m.hold = hold
	m.runCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := m.runCtx
	q, gen := m.enterLocked(now)
	m.mu.Unlock()

	slog.Info("interview: started", "interview_id", m.id, "questions", len(m.questions))
	if m.metrics != nil {
		m.metrics.ActiveInterviews.Add(ctx, 1)
	}
	if m.recorder != nil {
		if err := m.recorder.Start(runCtx, r.Stream); err != nil {
			slog.Warn("interview: recording not started", "interview_id", m.id, "err", err)
		}
	}
	go m.tick(runCtx)
	m.begin(0, q, gen)
	return nil
}

func (m *Machine) check(r Readiness) error {
	if !r.Speech {
		return &PreconditionError{Check: CheckSpeech, Err: errors.New("speech recognition unavailable")}
	}
	if r.Stream == nil || !r.Stream.HasAudio() {
		return &PreconditionError{Check: CheckMicrophone, Err: errors.New("no microphone track")}
	}
	if !r.PhotoCaptured {
		return &PreconditionError{Check: CheckPhoto, Err: errors.New("live photo not captured")}
	}
	if m.cfg.RequireVideo && !r.Stream.HasVideo() {
		return &PreconditionError{Check: CheckCamera, Err: errors.New("no camera track")}
	}
	return nil
}

// enterLocked makes the question at the current index active and arms its
// deadline.
func (m *Machine) enterLocked(now time.Time) (Question, uint64) {
	q := m.questions[m.session.CurrentIndex]
	m.gen++
	gen := m.gen
	m.draft = ""
	m.questionStart = now
	m.deadline = now.Add(q.Duration())
	if m.expiry != nil {
		m.expiry.Stop()
	}
	m.expiry = time.AfterFunc(q.Duration(), func() { m.expire(gen) })
	return q, gen
}

// begin publishes the question and, for spoken questions, narrates it and
// starts listening.
func (m *Machine) begin(index int, q Question, gen uint64) {
	if m.capture != nil {
		m.capture.Reset()
	}
	m.emit(Event{Type: EventQuestion, Index: index, Question: &q, Remaining: int(q.Duration() / time.Second)})
	if q.IsSpoken() {
		go m.narrateAndListen(gen, q)
	}
}

func (m *Machine) narrateAndListen(gen uint64, q Question) {
	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()
	if m.narrator != nil {
		if err := m.narrator.Narrate(ctx, q.Text); err != nil && ctx.Err() == nil {
			slog.Debug("interview: question narration failed", "interview_id", m.id, "err", err)
		}
	}
	m.listen(gen, false)
}

// listen starts capture for the question of generation gen if it is still
// current. With resume the transcript captured so far is kept.
func (m *Machine) listen(gen uint64, resume bool) {
	if m.capture == nil {
		return
	}
	m.mu.Lock()
	if !m.currentLocked(gen) {
		m.mu.Unlock()
		return
	}
	m.listenGen = gen
	ctx, stream, index := m.runCtx, m.stream, m.session.CurrentIndex
	m.mu.Unlock()

	start := m.capture.Start
	if resume {
		start = m.capture.Resume
	}
	err := start(ctx, stream)
	if err == nil || errors.Is(err, capture.ErrAlreadyListening) {
		return
	}
	slog.Warn("interview: capture not started", "interview_id", m.id, "err", err)
	var ce *capture.CaptureError
	m.emit(Event{Type: EventCaptureError, Index: index, Error: err.Error(), Fatal: !errors.As(err, &ce) || ce.Fatal})
}

func (m *Machine) currentLocked(gen uint64) bool {
	return m.session != nil && !m.ended && m.gen == gen
}

func (m *Machine) tick(ctx context.Context) {
	t := time.NewTicker(m.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.countdown(now)
		}
	}
}

func (m *Machine) countdown(now time.Time) {
	m.mu.Lock()
	if m.session == nil || m.ended || m.session.Status != StatusActive {
		m.mu.Unlock()
		return
	}
	remaining := m.deadline.Sub(now)
	gen, index := m.gen, m.session.CurrentIndex
	m.mu.Unlock()

	if remaining <= 0 {
		m.expire(gen)
		return
	}
	m.emit(Event{Type: EventCountdown, Index: index, Remaining: int(math.Ceil(remaining.Seconds()))})
}

// expire force-submits the current answer of generation gen: the capture
// transcript, else the typed draft, else an empty answer.
func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	if !m.currentLocked(gen) || m.busy {
		m.mu.Unlock()
		return
	}
	draft, ctx := m.draft, m.runCtx
	m.mu.Unlock()

	var answer string
	if m.capture != nil {
		answer = m.capture.Stop()
	}
	if answer == "" {
		answer = strings.TrimSpace(draft)
	}
	if err := m.submit(ctx, gen, answer, true); err != nil {
		slog.Debug("interview: timeout submission dropped", "interview_id", m.id, "err", err)
	}
}

// SubmitAnswer records text as the answer to the current question. With
// isTimeout the length rules are skipped and the answer scores 0.
//
// Rejections have no side effects: [ErrNoActiveQuestion],
// [ErrSubmissionInFlight] and [ErrAnswerTooShort].
func (m *Machine) SubmitAnswer(ctx context.Context, text string, isTimeout bool) error {
	return m.submit(ctx, 0, text, isTimeout)
}

// submit implements SubmitAnswer. A non-zero gen restricts the submission to
// that question generation.
func (m *Machine) submit(ctx context.Context, gen uint64, text string, isTimeout bool) error {
	answer := strings.TrimSpace(text)

	m.mu.Lock()
	if m.session == nil || m.ended || m.session.Status != StatusActive || m.session.CurrentIndex >= len(m.questions) {
		m.mu.Unlock()
		return ErrNoActiveQuestion
	}
	if gen != 0 && gen != m.gen {
		m.mu.Unlock()
		return ErrNoActiveQuestion
	}
	if m.busy {
		m.mu.Unlock()
		return ErrSubmissionInFlight
	}
	q := m.questions[m.session.CurrentIndex]
	if !isTimeout && !ready(q, answer) {
		m.mu.Unlock()
		return ErrAnswerTooShort
	}
	m.busy = true
	gen = m.gen
	responseTime := time.Since(m.questionStart).Seconds()
	if m.expiry != nil {
		m.expiry.Stop()
	}
	runCtx := m.runCtx
	m.mu.Unlock()

	// Scoring outlives the caller's request but not the interview.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	if m.capture != nil {
		m.capture.Stop()
	}
	// A typed answer may arrive while the question is still being read.
	if m.narrator != nil {
		m.narrator.Stop()
	}

	score, feedback, outcome := m.score(ctx, q, answer, isTimeout)
	if q.Type == TypeCommunication && m.narrator != nil && feedback != "" {
		if err := m.narrator.Narrate(ctx, feedback); err != nil && ctx.Err() == nil {
			slog.Debug("interview: feedback narration failed", "interview_id", m.id, "err", err)
		}
	} else {
		sleep(ctx, m.cfg.NonSpokenDelay)
	}

	m.mu.Lock()
	if m.ended || gen != m.gen {
		m.mu.Unlock()
		return ErrNoActiveQuestion
	}
	var endTime float64
	if n := len(m.session.Responses); n > 0 {
		endTime = m.session.Responses[n-1].EndTime
	}
	resp := Response{
		Question:     q.Text,
		QuestionID:   q.ID,
		UserAnswer:   answer,
		AIEvaluation: feedback,
		Score:        score,
		EndTime:      round(endTime + responseTime),
		ResponseTime: round(responseTime),
		TimedOut:     isTimeout,
	}
	index := m.session.CurrentIndex
	m.session.Responses = append(m.session.Responses, resp)
	m.session.CurrentIndex++
	m.session.Score += score
	total := m.session.Score
	last := m.session.CurrentIndex == len(m.questions)
	var next Question
	var nextGen uint64
	if last {
		m.gen++
	} else {
		next, nextGen = m.enterLocked(time.Now())
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordResponse(ctx, outcome)
	}
	slog.Info("interview: answer recorded", "interview_id", m.id, "index", index, "score", score, "outcome", outcome)
	m.emit(Event{Type: EventResponse, Index: index, Response: &resp, Score: total})

	if last {
		endCtx := context.WithoutCancel(ctx)
		m.after(m.cfg.LastQuestionDelay, func() {
			if err := m.EndInterview(endCtx, "all questions answered"); err != nil {
				slog.Error("interview: end after last question", "interview_id", m.id, "err", err)
			}
		})
		return nil
	}
	m.begin(index+1, next, nextGen)
	m.after(m.cfg.UnblockDelay, func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	})
	return nil
}

func ready(q Question, answer string) bool {
	if q.IsChoice() {
		return answer != ""
	}
	return utf8.RuneCountInString(answer) >= minAnswerChars && len(strings.Fields(answer)) >= minAnswerWords
}

// score grades one answer. It never fails: evaluator errors fall back to a
// neutral score.
func (m *Machine) score(ctx context.Context, q Question, answer string, isTimeout bool) (int, string, string) {
	switch {
	case isTimeout:
		return 0, m.cfg.TimeoutFeedback, observe.OutcomeTimeout
	case q.IsChoice():
		right := strings.TrimSpace(q.RightAnswer)
		switch {
		case right == "":
			return 5, "Answer recorded.", observe.OutcomeChoiceNeutral
		case answer == right:
			return evaluate.MaxScore, "Correct.", observe.OutcomeChoiceCorrect
		default:
			return 0, "Incorrect. The correct answer is " + right + ".", observe.OutcomeChoiceWrong
		}
	}

	if m.evaluator == nil {
		return 5, m.cfg.FallbackFeedback, observe.OutcomeFallback
	}
	begin := time.Now()
	ev, err := m.evaluator.Evaluate(ctx, q.Text, answer)
	if m.metrics != nil {
		m.metrics.RecordEvaluation(ctx, time.Since(begin), err == nil)
	}
	if err != nil {
		slog.Warn("interview: evaluation failed, using fallback score", "interview_id", m.id, "err", err)
		return 5, m.cfg.FallbackFeedback, observe.OutcomeFallback
	}
	return max(0, min(evaluate.MaxScore, ev.Score)), ev.Feedback, observe.OutcomeEvaluated
}

// after runs fn once d has elapsed unless the interview has ended.
func (m *Machine) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		m.mu.Lock()
		ended := m.ended
		m.mu.Unlock()
		if !ended {
			fn()
		}
	})
}

// OnCaptureComplete is the completion handler of the capture session. A
// non-empty transcript on the current spoken question is submitted; when it is
// empty or too short, capture resumes for the same question and the
// transcript keeps growing from where it stopped.
func (m *Machine) OnCaptureComplete(transcript string) {
	m.mu.Lock()
	if m.session == nil || m.ended || m.busy || m.listenGen != m.gen ||
		m.session.CurrentIndex >= len(m.questions) || !m.questions[m.session.CurrentIndex].IsSpoken() {
		m.mu.Unlock()
		return
	}
	gen, ctx := m.gen, m.runCtx
	m.mu.Unlock()

	go func() {
		if strings.TrimSpace(transcript) != "" {
			err := m.submit(ctx, gen, transcript, false)
			if !errors.Is(err, ErrAnswerTooShort) {
				return
			}
		}
		m.listen(gen, true)
	}()
}

// OnTranscript publishes a live transcript update.
func (m *Machine) OnTranscript(transcript string) {
	m.mu.Lock()
	if m.session == nil || m.ended {
		m.mu.Unlock()
		return
	}
	index := m.session.CurrentIndex
	m.mu.Unlock()
	m.emit(Event{Type: EventTranscript, Index: index, Transcript: transcript})
}

// OnCaptureError publishes a capture failure.
func (m *Machine) OnCaptureError(err *capture.CaptureError) {
	m.mu.Lock()
	if m.session == nil || m.ended {
		m.mu.Unlock()
		return
	}
	index := m.session.CurrentIndex
	m.mu.Unlock()
	m.emit(Event{Type: EventCaptureError, Index: index, Error: err.Error(), Fatal: err.Fatal})
}

// SetDraft stores the typed answer used when the deadline expires.
func (m *Machine) SetDraft(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.ended {
		return ErrNoActiveQuestion
	}
	m.draft = text
	return nil
}

// ForceComplete ends the interview on a proctoring signal.
func (m *Machine) ForceComplete(ctx context.Context, reason string) error {
	return m.EndInterview(ctx, reason)
}

// EndInterview stops everything, completes the session and saves it. Only the
// first call does any work; later calls return nil. Each teardown step is
// best-effort, and the session is completed even when all of them fail. A
// failed save is returned as a *[PersistenceError].
func (m *Machine) EndInterview(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.ended {
		m.mu.Unlock()
		return nil
	}
	m.ended = true
	m.gen++
	if m.expiry != nil {
		m.expiry.Stop()
	}
	hold, cancel := m.hold, m.cancel
	m.hold = nil
	m.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	log := slog.With("interview_id", m.id)
	log.Info("interview: ending", "reason", reason)

	if m.capture != nil {
		m.capture.Stop()
	}
	if m.narrator != nil {
		m.narrator.Stop()
	}

	var (
		video  []byte
		report *behavior.Report
		g      errgroup.Group
	)
	g.Go(func() error {
		if m.recorder == nil {
			return nil
		}
		rctx, done := context.WithTimeout(ctx, m.cfg.RecordingStopTimeout)
		defer done()
		v, err := m.recorder.Stop(rctx)
		if err != nil {
			log.Warn("interview: recording unavailable", "err", err)
			return nil
		}
		video = v
		return nil
	})
	g.Go(func() error {
		if m.reporter == nil {
			return nil
		}
		rctx, done := context.WithTimeout(ctx, m.cfg.ReportTimeout)
		defer done()
		r, err := m.reporter.Fetch(rctx, m.id)
		if err != nil {
			log.Warn("interview: behavioral report unavailable", "err", err)
			return nil
		}
		report = r
		return nil
	})
	_ = g.Wait()

	if hold != nil {
		hold.Release()
	}
	cancel()

	m.mu.Lock()
	m.session.Status = StatusCompleted
	m.session.EndTime = time.Now()
	snap := m.session.Clone()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveInterviews.Add(ctx, -1)
	}
	m.emit(Event{Type: EventCompleted, Index: snap.CurrentIndex, Score: snap.Score, Reason: reason})

	var err error
	if m.store != nil {
		if serr := m.store.Save(ctx, video, snap, report); serr != nil {
			err = &PersistenceError{SessionID: m.id, Err: serr}
			log.Error("interview: save failed", "err", serr)
			m.mu.Lock()
			m.saveErr = err
			m.mu.Unlock()
			m.emit(Event{Type: EventSaveFailed, Index: snap.CurrentIndex, Error: err.Error()})
		}
	}
	close(m.done)
	return err
}

// Snapshot returns a deep copy of the session. Before Start it reports a
// waiting session with no responses.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{ID: m.id, Status: StatusWaiting, Responses: []Response{}}
	}
	return m.session.Clone()
}

// Current returns the active question and the time left to answer it.
func (m *Machine) Current() (Question, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.ended || m.session.CurrentIndex >= len(m.questions) {
		return Question{}, 0, false
	}
	return m.questions[m.session.CurrentIndex], max(0, time.Until(m.deadline)), true
}

func (m *Machine) emit(e Event) {
	if m.onEvent != nil {
		m.onEvent(e)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// round keeps millisecond precision.
func round(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}
