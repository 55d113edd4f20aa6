// Package evaluate scores free-form interview answers.
//
// An [Evaluator] turns a question and the candidate's answer into a score on
// a 0 to 10 scale plus feedback text. [LLM] asks a language model for that
// judgement and parses a small JSON reply.
package evaluate

import "context"

// MaxScore is the top of the scoring scale.
const MaxScore = 10

// Evaluation is the result of scoring one answer.
type Evaluation struct {
	// Score is in [0, MaxScore].
	Score int

	// Feedback is shown (and for some question types spoken) to the candidate.
	Feedback string
}

// Evaluator scores an answer. Implementations must be safe for concurrent use
// and honour ctx cancellation.
type Evaluator interface {
	Evaluate(ctx context.Context, question, answer string) (Evaluation, error)
}
