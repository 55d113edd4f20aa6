package interview

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/intervox/internal/behavior"
	"github.com/MrWong99/intervox/internal/capture"
	"github.com/MrWong99/intervox/internal/evaluate"
	evalmock "github.com/MrWong99/intervox/internal/evaluate/mock"
	"github.com/MrWong99/intervox/pkg/audio"
	audiomock "github.com/MrWong99/intervox/pkg/audio/mock"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	sttmock "github.com/MrWong99/intervox/pkg/provider/stt/mock"
)

const goodAnswer = "I would profile first and then fix the slowest query."

// ---- fakes ----

type fakeCapture struct {
	mu         sync.Mutex
	starts     int
	resumes    int
	stops      int
	resets     int
	transcript string
	startErr   error
}

func (c *fakeCapture) Start(context.Context, *audio.MediaStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *fakeCapture) Resume(context.Context, *audio.MediaStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumes++
	return c.startErr
}

func (c *fakeCapture) Stop() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	t := c.transcript
	c.transcript = ""
	return t
}

func (c *fakeCapture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
}

func (c *fakeCapture) counts() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

func (c *fakeCapture) resumed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumes
}

type fakeNarrator struct {
	mu    sync.Mutex
	texts []string
	stops int
	err   error
}

func (n *fakeNarrator) Narrate(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}

func (n *fakeNarrator) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stops++
}

func (n *fakeNarrator) stopped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stops
}

func (n *fakeNarrator) spoken() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

type saveCall struct {
	video   []byte
	session Session
	report  *behavior.Report
}

type fakeStore struct {
	mu    sync.Mutex
	err   error
	saves []saveCall
}

func (s *fakeStore) Save(_ context.Context, video []byte, sess Session, report *behavior.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, saveCall{video: video, session: sess, report: report})
	return s.err
}

func (s *fakeStore) calls() []saveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]saveCall(nil), s.saves...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  bool
	stopWait time.Duration
	video    []byte
}

func (r *fakeRecorder) Start(context.Context, *audio.MediaStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context) ([]byte, error) {
	if r.stopWait > 0 {
		select {
		case <-time.After(r.stopWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.video, nil
}

type fakeReporter struct {
	report *behavior.Report
	err    error
}

func (r fakeReporter) Fetch(context.Context, string) (*behavior.Report, error) {
	return r.report, r.err
}

type events struct {
	mu  sync.Mutex
	all []Event
}

func (e *events) handle(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *events) of(t EventType) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, ev := range e.all {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// ---- helpers ----

var fast = Config{
	TickInterval:      10 * time.Millisecond,
	NonSpokenDelay:    -1,
	LastQuestionDelay: -1,
	UnblockDelay:      -1,
}

func written(n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = Question{ID: "s" + string(rune('a'+i)), Text: "Explain topic " + string(rune('A'+i)), Type: TypeSubjective}
	}
	return qs
}

func readiness(t *testing.T) Readiness {
	t.Helper()
	s := audiomock.NewStream(true)
	t.Cleanup(s.Close)
	return Readiness{Speech: true, Stream: s, PhotoCaptured: true}
}

func started(t *testing.T, qs []Question, opts ...Option) *Machine {
	t.Helper()
	m := New("interview-1", qs, append([]Option{WithConfig(fast)}, opts...)...)
	if err := m.Start(context.Background(), readiness(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.EndInterview(context.Background(), "test cleanup") })
	return m
}

// submit retries while the previous submission is still unblocking.
func submit(t *testing.T, m *Machine, text string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := m.SubmitAnswer(context.Background(), text, false)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrSubmissionInFlight) || time.Now().After(deadline) {
			t.Fatalf("SubmitAnswer(%q): %v", text, err)
		}
		time.Sleep(time.Millisecond)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, m *Machine) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("interview did not complete")
	}
}

// ---- tests ----

func TestStart_Preconditions(t *testing.T) {
	t.Parallel()
	audioOnly := audiomock.NewStream(false)
	t.Cleanup(audioOnly.Close)
	noAudio := audio.NewMediaStream(audio.StreamOptions{Video: true})
	t.Cleanup(noAudio.Close)
	closed := audiomock.NewStream(true)
	closed.Close()

	tests := []struct {
		name         string
		r            Readiness
		requireVideo bool
		check        string
	}{
		{name: "everything missing reports speech first", r: Readiness{}, check: CheckSpeech},
		{name: "no stream", r: Readiness{Speech: true, PhotoCaptured: true}, check: CheckMicrophone},
		{name: "no audio track", r: Readiness{Speech: true, Stream: noAudio, PhotoCaptured: true}, check: CheckMicrophone},
		{name: "no photo", r: Readiness{Speech: true, Stream: audioOnly}, check: CheckPhoto},
		{name: "camera required", r: Readiness{Speech: true, Stream: audioOnly, PhotoCaptured: true}, requireVideo: true, check: CheckCamera},
		{name: "stream closed", r: Readiness{Speech: true, Stream: closed, PhotoCaptured: true}, check: CheckMicrophone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := fast
			cfg.RequireVideo = tt.requireVideo
			m := New("id", written(1), WithConfig(cfg))
			err := m.Start(context.Background(), tt.r)
			var pe *PreconditionError
			if !errors.As(err, &pe) || pe.Check != tt.check {
				t.Fatalf("err = %v, want precondition %q", err, tt.check)
			}
			if s := m.Snapshot(); s.Status != StatusWaiting {
				t.Fatalf("status = %s, want waiting", s.Status)
			}
		})
	}
}

func TestStart_Errors(t *testing.T) {
	t.Parallel()
	if err := New("id", nil).Start(context.Background(), readiness(t)); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("err = %v, want ErrNoQuestions", err)
	}
	m := started(t, written(1))
	if err := m.Start(context.Background(), readiness(t)); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("err = %v, want ErrAlreadyStarted", err)
	}
	if s := m.Snapshot(); s.Status != StatusActive || s.CurrentIndex != 0 || s.StartTime.IsZero() {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestSubmit_MonotonicIndex(t *testing.T) {
	t.Parallel()
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 6, Feedback: "fine"}}
	m := started(t, written(4), WithEvaluator(eval))

	for i := range 3 {
		submit(t, m, goodAnswer)
		s := m.Snapshot()
		if s.CurrentIndex != i+1 || len(s.Responses) != i+1 {
			t.Fatalf("after %d submissions: index %d, responses %d", i+1, s.CurrentIndex, len(s.Responses))
		}
	}
	s := m.Snapshot()
	for i := 1; i < len(s.Responses); i++ {
		if s.Responses[i].EndTime < s.Responses[i-1].EndTime {
			t.Fatalf("end times not cumulative: %+v", s.Responses)
		}
	}
	if s.Responses[0].Question != "Explain topic A" || s.Responses[0].UserAnswer != goodAnswer {
		t.Fatalf("response = %+v", s.Responses[0])
	}
}

func TestSubmit_SingleFlight(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	eval := &evalmock.Evaluator{EvaluateFunc: func(ctx context.Context, _, _ string) (evaluate.Evaluation, error) {
		entered <- struct{}{}
		<-release
		return evaluate.Evaluation{Score: 7}, nil
	}}
	m := started(t, written(2), WithEvaluator(eval))

	first := make(chan error, 1)
	go func() { first <- m.SubmitAnswer(context.Background(), goodAnswer, false) }()
	<-entered

	if err := m.SubmitAnswer(context.Background(), goodAnswer, false); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("second submit err = %v, want ErrSubmissionInFlight", err)
	}
	if err := m.SubmitAnswer(context.Background(), "", true); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("timeout submit err = %v, want ErrSubmissionInFlight", err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if s := m.Snapshot(); len(s.Responses) != 1 || s.CurrentIndex != 1 {
		t.Fatalf("responses = %d, index = %d", len(s.Responses), s.CurrentIndex)
	}
	if len(eval.Calls()) != 1 {
		t.Fatalf("evaluator calls = %d", len(eval.Calls()))
	}
}

func TestSubmit_TimeoutBypassesValidation(t *testing.T) {
	t.Parallel()
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 9}}
	m := started(t, written(2), WithEvaluator(eval))

	if err := m.SubmitAnswer(context.Background(), "ok", true); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	r := m.Snapshot().Responses[0]
	if r.Score != 0 || r.AIEvaluation != m.cfg.TimeoutFeedback || !r.TimedOut || r.UserAnswer != "ok" {
		t.Fatalf("response = %+v", r)
	}
	if len(eval.Calls()) != 0 {
		t.Fatal("evaluator called for a timeout")
	}
}

func TestSubmit_Validation(t *testing.T) {
	t.Parallel()
	qs := []Question{
		{ID: "c", Text: "Pick one", Type: TypeReasoning, Options: []string{"A", "B"}, RightAnswer: "A"},
		{ID: "f", Text: "Explain", Type: TypeSubjective},
	}
	m := started(t, qs, WithEvaluator(&evalmock.Evaluator{}))

	if err := m.SubmitAnswer(context.Background(), "   ", false); !errors.Is(err, ErrAnswerTooShort) {
		t.Fatalf("empty choice err = %v", err)
	}
	submit(t, m, "B")

	for _, short := range []string{"too short", "abcdefghijklmnop", "two words!!!!"} {
		if err := m.SubmitAnswer(context.Background(), short, false); !errors.Is(err, ErrAnswerTooShort) {
			t.Fatalf("SubmitAnswer(%q) err = %v, want ErrAnswerTooShort", short, err)
		}
	}
	if s := m.Snapshot(); len(s.Responses) != 1 {
		t.Fatalf("rejected answers were recorded: %+v", s.Responses)
	}
	submit(t, m, "three short words")
}

func TestSubmit_ChoiceExactMatch(t *testing.T) {
	t.Parallel()
	choice := Question{ID: "m", Text: "Pick", Type: TypeReasoning, Options: []string{"A", "B"}, RightAnswer: "A"}
	neutral := Question{ID: "n", Text: "Pick any", Type: TypeArithmetic, Options: []string{"1", "2"}}
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 1}}
	m := started(t, []Question{choice, choice, neutral, choice}, WithEvaluator(eval))

	submit(t, m, "  A ")
	submit(t, m, "B")
	submit(t, m, "2")
	s := m.Snapshot()
	if s.Responses[0].Score != 10 {
		t.Errorf("right answer score = %d, want 10", s.Responses[0].Score)
	}
	if s.Responses[1].Score != 0 || !strings.Contains(s.Responses[1].AIEvaluation, "A") {
		t.Errorf("wrong answer = %+v", s.Responses[1])
	}
	if s.Responses[2].Score != 5 {
		t.Errorf("no right answer score = %d, want 5", s.Responses[2].Score)
	}
	if s.Score != 15 {
		t.Errorf("total = %d, want 15", s.Score)
	}
	if len(eval.Calls()) != 0 {
		t.Error("choice questions reached the evaluator")
	}
}

func TestSubmit_CommunicationOptionsUseEvaluator(t *testing.T) {
	t.Parallel()
	q := Question{ID: "c", Text: "Say it", Type: TypeCommunication, Options: []string{"A"}, RightAnswer: "A"}
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 7, Feedback: "Clear and concise."}}
	narrator := &fakeNarrator{}
	m := started(t, []Question{q, q}, WithEvaluator(eval), WithNarrator(narrator))

	submit(t, m, "A clear spoken answer")
	if got := m.Snapshot().Responses[0].Score; got != 7 {
		t.Fatalf("score = %d, want evaluator score 7", got)
	}
	eventually(t, "feedback narration", func() bool {
		for _, s := range narrator.spoken() {
			if s == "Clear and concise." {
				return true
			}
		}
		return false
	})
}

func TestSubmit_EvaluatorFailureFallsBack(t *testing.T) {
	t.Parallel()
	eval := &evalmock.Evaluator{Err: errors.New("upstream 503")}
	m := started(t, written(2), WithEvaluator(eval))

	submit(t, m, goodAnswer)
	r := m.Snapshot().Responses[0]
	if r.Score != 5 || r.AIEvaluation != m.cfg.FallbackFeedback {
		t.Fatalf("response = %+v", r)
	}
}

func TestSubmit_EvaluatorScoreClamped(t *testing.T) {
	t.Parallel()
	m := started(t, written(2), WithEvaluator(&evalmock.Evaluator{Result: evaluate.Evaluation{Score: 42}}))
	submit(t, m, goodAnswer)
	if got := m.Snapshot().Responses[0].Score; got != 10 {
		t.Fatalf("score = %d, want 10", got)
	}
}

func TestSubmit_NonSpokenDelay(t *testing.T) {
	t.Parallel()
	cfg := fast
	cfg.NonSpokenDelay = 40 * time.Millisecond
	m := New("id", written(2), WithConfig(cfg), WithEvaluator(&evalmock.Evaluator{}))
	if err := m.Start(context.Background(), readiness(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.EndInterview(context.Background(), "cleanup") })

	begin := time.Now()
	submit(t, m, goodAnswer)
	if time.Since(begin) < 40*time.Millisecond {
		t.Fatal("non-spoken delay skipped")
	}
}

func TestSubmit_StopsNarrationBeforeScoring(t *testing.T) {
	t.Parallel()
	q := Question{ID: "b", Text: "Tell me about a failure.", Type: TypeBehavioral}
	narrator := &fakeNarrator{}
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 6, Feedback: "Ok."}}
	m := started(t, []Question{q, written(1)[0]}, WithNarrator(narrator), WithCapture(&fakeCapture{}), WithEvaluator(eval))

	submit(t, m, goodAnswer)
	if narrator.stopped() == 0 {
		t.Fatal("typed answer did not stop the question narration")
	}
	if len(eval.Calls()) != 1 {
		t.Fatalf("evaluator calls = %d, want 1", len(eval.Calls()))
	}
}

func TestSubmit_FeedbackNarrationFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	q := Question{ID: "c", Text: "Explain caching to a new colleague.", Type: TypeCommunication}
	narrator := &fakeNarrator{err: errors.New("speech output unavailable")}
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 7, Feedback: "Clear and structured."}}
	m := started(t, []Question{q, written(1)[0]}, WithNarrator(narrator), WithCapture(&fakeCapture{}), WithEvaluator(eval))

	submit(t, m, goodAnswer)
	snap := m.Snapshot()
	if len(snap.Responses) != 1 || snap.Responses[0].Score != 7 {
		t.Fatalf("responses = %+v", snap.Responses)
	}
	if snap.CurrentIndex != 1 {
		t.Fatalf("CurrentIndex = %d, want 1", snap.CurrentIndex)
	}
	if !slices.Contains(narrator.spoken(), "Clear and structured.") {
		t.Fatalf("narrated = %q, want the feedback", narrator.spoken())
	}
}

func TestSpokenQuestion_NarratesThenListens(t *testing.T) {
	t.Parallel()
	q := Question{ID: "b", Text: "Tell me about a failure.", Type: TypeBehavioral}
	narrator := &fakeNarrator{}
	capt := &fakeCapture{}
	m := started(t, []Question{q, written(1)[0]}, WithNarrator(narrator), WithCapture(capt))

	eventually(t, "capture start", func() bool { s, _ := capt.counts(); return s == 1 })
	if got := narrator.spoken(); len(got) != 1 || got[0] != q.Text {
		t.Fatalf("narrated = %v", got)
	}

	submit(t, m, goodAnswer)
	time.Sleep(20 * time.Millisecond)
	if s, _ := capt.counts(); s != 1 {
		t.Fatalf("capture started %d times; written question must not listen", s)
	}
	if got := narrator.spoken(); len(got) != 1 {
		t.Fatalf("written question was narrated: %v", got)
	}
}

func TestAutoAdvance(t *testing.T) {
	t.Parallel()
	q := Question{ID: "b", Text: "Describe a project.", Type: TypeBehavioral}
	capt := &fakeCapture{}
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 8, Feedback: "Good."}}
	m := started(t, []Question{q, q}, WithCapture(capt), WithEvaluator(eval), WithNarrator(&fakeNarrator{}))
	eventually(t, "capture start", func() bool { s, _ := capt.counts(); return s == 1 })

	m.OnCaptureComplete("um yes")
	eventually(t, "capture resumed after short answer", func() bool { return capt.resumed() == 1 })
	if len(m.Snapshot().Responses) != 0 {
		t.Fatal("short transcript was recorded")
	}

	m.OnCaptureComplete("")
	eventually(t, "capture resumed after empty transcript", func() bool { return capt.resumed() == 2 })
	if s, _ := capt.counts(); s != 1 {
		t.Fatalf("capture started %d times, want 1; a resumed answer must not start over", s)
	}

	m.OnCaptureComplete("I led the migration of our billing system.")
	eventually(t, "auto-advanced answer", func() bool { return len(m.Snapshot().Responses) == 1 })
	r := m.Snapshot().Responses[0]
	if r.UserAnswer != "I led the migration of our billing system." || r.Score != 8 {
		t.Fatalf("response = %+v", r)
	}
}

func TestAutoAdvance_ShortAnswerKeepsGrowing(t *testing.T) {
	t.Parallel()
	q := Question{ID: "b", Text: "Describe a project.", Type: TypeBehavioral}
	provider := &sttmock.Provider{}
	var m *Machine
	sess := capture.NewSession(provider, nil,
		capture.WithConfig(capture.Config{Debounce: 20 * time.Millisecond, MinTranscriptChars: 5}),
		capture.WithCompletionHandler(func(text string) { m.OnCaptureComplete(text) }),
	)
	t.Cleanup(func() { sess.Stop() })
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 7, Feedback: "Fine."}}
	m = started(t, []Question{q, q}, WithCapture(sess), WithEvaluator(eval), WithNarrator(&fakeNarrator{}))

	eventually(t, "recognizer start", func() bool { return provider.StartCount() == 1 })
	provider.Last().Emit(stt.Transcript{Text: "Supercalifragilisticexpialidocious", IsFinal: true})

	// One word is not an answer yet; listening resumes on a fresh recognizer.
	eventually(t, "recognizer restart", func() bool { return provider.StartCount() == 2 })
	if len(m.Snapshot().Responses) != 0 {
		t.Fatal("one-word transcript was recorded")
	}
	if got := sess.Transcript(); got != "Supercalifragilisticexpialidocious" {
		t.Fatalf("transcript after resume = %q", got)
	}

	provider.Last().Emit(stt.Transcript{Text: "is my whole answer", IsFinal: true})
	eventually(t, "answer recorded", func() bool { return len(m.Snapshot().Responses) == 1 })
	want := "Supercalifragilisticexpialidocious is my whole answer"
	if got := m.Snapshot().Responses[0].UserAnswer; got != want {
		t.Fatalf("UserAnswer = %q, want %q", got, want)
	}
	if calls := eval.Calls(); len(calls) != 1 || calls[0].Answer != want {
		t.Fatalf("evaluator calls = %+v", calls)
	}
}

func TestAutoAdvance_IgnoredForWrittenQuestion(t *testing.T) {
	t.Parallel()
	m := started(t, written(2), WithEvaluator(&evalmock.Evaluator{}))
	m.OnCaptureComplete(goodAnswer)
	time.Sleep(20 * time.Millisecond)
	if len(m.Snapshot().Responses) != 0 {
		t.Fatal("capture completion answered a written question")
	}
}

func TestCaptureErrorEvent(t *testing.T) {
	t.Parallel()
	ev := &events{}
	m := started(t, written(1), WithEventHandler(ev.handle))
	m.OnCaptureError(&capture.CaptureError{Err: errors.New("denied"), Fatal: true})
	got := ev.of(EventCaptureError)
	if len(got) != 1 || !got[0].Fatal {
		t.Fatalf("capture error events = %+v", got)
	}
}

func TestDeadline_SubmitsDraft(t *testing.T) {
	t.Parallel()
	q := Question{ID: "t", Text: "Quick", Type: TypeSubjective, ExpectedDuration: 1}
	ev := &events{}
	m := started(t, []Question{q, q}, WithEventHandler(ev.handle), WithEvaluator(&evalmock.Evaluator{}))
	if err := m.SetDraft("  half an answer "); err != nil {
		t.Fatalf("SetDraft: %v", err)
	}

	eventually(t, "timeout submission", func() bool { return len(m.Snapshot().Responses) == 1 })
	r := m.Snapshot().Responses[0]
	if !r.TimedOut || r.UserAnswer != "half an answer" || r.Score != 0 {
		t.Fatalf("response = %+v", r)
	}
	if len(ev.of(EventCountdown)) == 0 {
		t.Fatal("no countdown events")
	}
}

func TestDeadline_PrefersTranscript(t *testing.T) {
	t.Parallel()
	q := Question{ID: "t", Text: "Talk", Type: TypeBehavioral, ExpectedDuration: 1}
	capt := &fakeCapture{}
	m := started(t, []Question{q, q}, WithCapture(capt))
	eventually(t, "capture start", func() bool { s, _ := capt.counts(); return s == 1 })
	capt.mu.Lock()
	capt.transcript = "spoken words"
	capt.mu.Unlock()
	_ = m.SetDraft("typed words")

	eventually(t, "timeout submission", func() bool { return len(m.Snapshot().Responses) == 1 })
	if got := m.Snapshot().Responses[0].UserAnswer; got != "spoken words" {
		t.Fatalf("answer = %q, want transcript", got)
	}
}

// A question with a one-second budget and no answer is submitted with score 0
// and the timeout feedback, and the interview moves on.
func TestDeadline_ForcesTimeoutSubmission(t *testing.T) {
	t.Parallel()
	q := Question{ID: "t", Text: "Free form", Type: TypeSubjective, ExpectedDuration: 1}
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 9}}
	m := started(t, []Question{q, written(1)[0]}, WithEvaluator(eval))

	begin := time.Now()
	eventually(t, "timeout submission", func() bool { return m.Snapshot().CurrentIndex == 1 })
	if d := time.Since(begin); d < 900*time.Millisecond {
		t.Fatalf("expired after %v", d)
	}
	r := m.Snapshot().Responses[0]
	if r.Score != 0 || r.AIEvaluation != m.cfg.TimeoutFeedback || r.UserAnswer != "" || !r.TimedOut {
		t.Fatalf("response = %+v", r)
	}
	if len(eval.Calls()) != 0 {
		t.Fatal("evaluator called on timeout")
	}
}

// One choice question and four free-form answers scored 8 each.
func TestInterview_ChoiceAndFreeFormTotals(t *testing.T) {
	t.Parallel()
	qs := append([]Question{{ID: "mcq", Text: "Pick X", Type: TypeReasoning, Options: []string{"X", "Y"}, RightAnswer: "X"}}, written(4)...)
	eval := &evalmock.Evaluator{Result: evaluate.Evaluation{Score: 8, Feedback: "Solid."}}
	store := &fakeStore{}
	ev := &events{}
	m := started(t, qs, WithEvaluator(eval), WithStore(store), WithEventHandler(ev.handle))

	submit(t, m, "X")
	for range 4 {
		submit(t, m, goodAnswer)
	}
	waitDone(t, m)

	s := m.Snapshot()
	if s.Score != 42 || len(s.Responses) != 5 || s.Status != StatusCompleted || s.EndTime.IsZero() {
		t.Fatalf("session = score %d, responses %d, status %s", s.Score, len(s.Responses), s.Status)
	}
	saves := store.calls()
	if len(saves) != 1 || saves[0].session.Score != 42 || saves[0].session.Status != StatusCompleted {
		t.Fatalf("saves = %+v", saves)
	}
	if len(ev.of(EventCompleted)) != 1 || len(ev.of(EventResponse)) != 5 {
		t.Fatalf("events: %d completed, %d responses", len(ev.of(EventCompleted)), len(ev.of(EventResponse)))
	}
	if err := m.SubmitAnswer(context.Background(), goodAnswer, false); !errors.Is(err, ErrNoActiveQuestion) {
		t.Fatalf("submit after completion err = %v", err)
	}
}

func TestEndInterview_Idempotent(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	m := started(t, written(3), WithStore(store))

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.EndInterview(context.Background(), "candidate left"); err != nil {
				t.Errorf("EndInterview: %v", err)
			}
		}()
	}
	wg.Wait()
	waitDone(t, m)
	if err := m.EndInterview(context.Background(), "again"); err != nil {
		t.Fatalf("second EndInterview: %v", err)
	}
	if n := len(store.calls()); n != 1 {
		t.Fatalf("saves = %d, want 1", n)
	}
}

func TestEndInterview_Teardown(t *testing.T) {
	t.Parallel()
	stream := audiomock.NewStream(true)
	t.Cleanup(stream.Close)
	preview, err := stream.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	capt := &fakeCapture{}
	narrator := &fakeNarrator{}
	rec := &fakeRecorder{video: []byte("fLaC")}
	report := &behavior.Report{Status: behavior.StatusSuccess, Summary: "calm"}
	store := &fakeStore{}
	m := New("id", written(2), WithConfig(fast), WithCapture(capt), WithNarrator(narrator),
		WithRecorder(rec), WithReporter(fakeReporter{report: report}), WithStore(store))

	if err := m.Start(context.Background(), Readiness{Speech: true, Stream: stream, PhotoCaptured: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if stream.Refs() != 2 {
		t.Fatalf("refs = %d, want 2", stream.Refs())
	}
	if err := m.ForceComplete(context.Background(), "tab switched 3 times"); err != nil {
		t.Fatalf("ForceComplete: %v", err)
	}

	if _, stops := capt.counts(); stops == 0 {
		t.Error("capture not stopped")
	}
	narrator.mu.Lock()
	narrationStops := narrator.stops
	narrator.mu.Unlock()
	if narrationStops == 0 {
		t.Error("narration not stopped")
	}
	if stream.Refs() != 1 {
		t.Errorf("refs = %d, interview hold not released", stream.Refs())
	}
	preview.Release()

	saves := store.calls()
	if len(saves) != 1 {
		t.Fatalf("saves = %d", len(saves))
	}
	if string(saves[0].video) != "fLaC" || saves[0].report != report || saves[0].session.Status != StatusCompleted {
		t.Fatalf("save = %+v", saves[0])
	}
	if _, _, ok := m.Current(); ok {
		t.Fatal("question still current after end")
	}
	if err := m.SetDraft("late"); !errors.Is(err, ErrNoActiveQuestion) {
		t.Fatalf("SetDraft after end err = %v", err)
	}
}

func TestEndInterview_RecordingTimeout(t *testing.T) {
	t.Parallel()
	cfg := fast
	cfg.RecordingStopTimeout = 30 * time.Millisecond
	store := &fakeStore{}
	m := New("id", written(1), WithConfig(cfg), WithStore(store),
		WithRecorder(&fakeRecorder{stopWait: time.Minute, video: []byte("late")}),
		WithReporter(fakeReporter{err: errors.New("analysis unavailable")}))
	if err := m.Start(context.Background(), readiness(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	begin := time.Now()
	if err := m.EndInterview(context.Background(), "done"); err != nil {
		t.Fatalf("EndInterview: %v", err)
	}
	if time.Since(begin) > time.Second {
		t.Fatal("recording stop not bounded")
	}
	saves := store.calls()
	if len(saves) != 1 || saves[0].video != nil || saves[0].report != nil {
		t.Fatalf("saves = %+v", saves)
	}
}

func TestEndInterview_SaveFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk full")
	ev := &events{}
	m := started(t, written(1), WithStore(&fakeStore{err: boom}), WithEventHandler(ev.handle))

	err := m.EndInterview(context.Background(), "done")
	var pe *PersistenceError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want PersistenceError wrapping %v", err, boom)
	}
	if s := m.Snapshot(); s.Status != StatusCompleted {
		t.Fatalf("status = %s", s.Status)
	}
	if !errors.Is(m.SaveErr(), boom) || len(ev.of(EventSaveFailed)) != 1 {
		t.Fatal("save failure not reported")
	}
}

func TestEndInterview_NotStarted(t *testing.T) {
	t.Parallel()
	if err := New("id", written(1)).EndInterview(context.Background(), "x"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v", err)
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	t.Parallel()
	m := started(t, written(3), WithEvaluator(&evalmock.Evaluator{Result: evaluate.Evaluation{Score: 4}}))
	submit(t, m, goodAnswer)

	s := m.Snapshot()
	s.Responses[0].Score = 99
	s.Responses = append(s.Responses, Response{})
	if got := m.Snapshot(); got.Responses[0].Score != 4 || len(got.Responses) != 1 {
		t.Fatalf("snapshot aliased internal state: %+v", got.Responses)
	}
}
