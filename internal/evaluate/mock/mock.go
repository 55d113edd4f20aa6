// Package mock provides a test double for evaluate.Evaluator.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/intervox/internal/evaluate"
)

// Call records one Evaluate invocation.
type Call struct {
	Question string
	Answer   string
}

// Evaluator is a mock implementation of evaluate.Evaluator.
type Evaluator struct {
	mu sync.Mutex

	// Result is returned by Evaluate.
	Result evaluate.Evaluation

	// Err, if non-nil, is returned instead of Result.
	Err error

	// EvaluateFunc, if set, overrides Result and Err.
	EvaluateFunc func(ctx context.Context, question, answer string) (evaluate.Evaluation, error)

	calls []Call
}

var _ evaluate.Evaluator = (*Evaluator)(nil)

// Evaluate records the call and returns the configured result.
func (e *Evaluator) Evaluate(ctx context.Context, question, answer string) (evaluate.Evaluation, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Question: question, Answer: answer})
	fn, res, err := e.EvaluateFunc, e.Result, e.Err
	e.mu.Unlock()
	if fn != nil {
		return fn(ctx, question, answer)
	}
	return res, err
}

// Calls returns a copy of the recorded calls.
func (e *Evaluator) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}
