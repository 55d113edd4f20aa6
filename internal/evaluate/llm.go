package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/pkg/provider/llm"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 400
	defaultTimeout     = 20 * time.Second
)

// ErrMalformedReply is returned when the model's reply is not the expected
// JSON object.
var ErrMalformedReply = errors.New("evaluate: malformed reply")

const systemPrompt = `You are an experienced interviewer grading a candidate's answer to an interview question.

Score the answer from 0 to 10:
- 0 means no relevant content.
- 5 means a partially correct or shallow answer.
- 10 means a complete, well-structured and correct answer.

Judge content, not grammar. The answer may be a speech transcript with recognition errors.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"score": <integer 0-10>, "feedback": "<two or three sentences addressed to the candidate>"}`

// reply is the JSON object the model is asked to produce.
type reply struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// LLMOption configures an [LLM] evaluator.
type LLMOption func(*LLM)

// WithTimeout bounds each evaluation call. Default: 20s.
func WithTimeout(d time.Duration) LLMOption { return func(e *LLM) { e.timeout = d } }

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(t float64) LLMOption { return func(e *LLM) { e.temperature = t } }

// WithMetrics records provider calls on m.
func WithMetrics(m *observe.Metrics) LLMOption { return func(e *LLM) { e.metrics = m } }

// LLM evaluates answers with a language model.
type LLM struct {
	provider    llm.Provider
	timeout     time.Duration
	temperature float64
	metrics     *observe.Metrics
}

var _ Evaluator = (*LLM)(nil)

// NewLLM returns an evaluator backed by provider.
func NewLLM(provider llm.Provider, opts ...LLMOption) *LLM {
	e := &LLM{
		provider:    provider,
		timeout:     defaultTimeout,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate asks the model to grade answer. The reply may be wrapped in a
// markdown code fence; anything else that is not the JSON object is an error
// wrapping [ErrMalformedReply].
func (e *LLM) Evaluate(ctx context.Context, question, answer string) (ev Evaluation, err error) {
	if e.provider == nil {
		return Evaluation{}, errors.New("evaluate: no language model configured")
	}
	ctx, span := observe.StartSpan(ctx, "evaluate.answer", attribute.String("llm.model", e.provider.Model()))
	defer func() { observe.EndSpan(span, err) }()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  e.temperature,
		MaxTokens:    defaultMaxTokens,
		JSON:         true,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nCandidate answer: %s", question, answer)},
		},
	}
	resp, err := e.provider.Complete(ctx, req)
	if e.metrics != nil {
		e.metrics.RecordProviderCall(ctx, e.provider.Model(), "llm", err)
	}
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate: complete: %w", err)
	}
	if resp == nil {
		return Evaluation{}, fmt.Errorf("%w: empty response", ErrMalformedReply)
	}
	ev, err = parseReply(resp.Content)
	if err != nil && resp.Truncated {
		return Evaluation{}, fmt.Errorf("%w (reply hit the %d token limit)", err, defaultMaxTokens)
	}
	return ev, err
}

func parseReply(content string) (Evaluation, error) {
	var r reply
	if err := json.Unmarshal([]byte(stripFence(content)), &r); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	if r.Score == nil {
		return Evaluation{}, fmt.Errorf("%w: missing score", ErrMalformedReply)
	}
	return Evaluation{
		Score:    clamp(*r.Score),
		Feedback: strings.TrimSpace(r.Feedback),
	}, nil
}

func clamp(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(MaxScore, score))))
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
