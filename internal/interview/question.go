// Package interview runs a candidate interview: it orders the question set,
// drives the narrate, listen, evaluate and record cycle for each question,
// enforces per-question deadlines and hands the finished session to
// persistence exactly once.
package interview

import (
	"math/rand/v2"
	"time"
)

// Question types with special handling. Any other string is a valid category
// and is ordered after these.
const (
	TypeBehavioral    = "behavioral"
	TypeCommunication = "communication"
	TypeReasoning     = "reasoning"
	TypeArithmetic    = "arithmetic"
	TypeSubjective    = "subjective"
)

// DefaultQuestionDuration applies to questions without an expected duration.
const DefaultQuestionDuration = 300 * time.Second

// priority is the fixed partition order used by [Order].
var priority = []string{TypeBehavioral, TypeCommunication, TypeReasoning, TypeArithmetic, TypeSubjective}

// Question is one interview question. Questions are never modified once an
// interview has been created.
type Question struct {
	ID         string `yaml:"id" json:"id"`
	Text       string `yaml:"text" json:"text"`
	Type       string `yaml:"type" json:"type"`
	Difficulty string `yaml:"difficulty" json:"difficulty,omitempty"`

	// ExpectedDuration is the answer time in seconds. Zero means
	// [DefaultQuestionDuration].
	ExpectedDuration int `yaml:"expected_duration" json:"expected_duration,omitempty"`

	Category    string   `yaml:"category" json:"category,omitempty"`
	Options     []string `yaml:"options" json:"options,omitempty"`
	RightAnswer string   `yaml:"right_answer" json:"-"`
}

// IsChoice reports whether the question is scored by exact match against
// RightAnswer instead of by the evaluator.
func (q Question) IsChoice() bool {
	return len(q.Options) > 0 && q.Type != TypeCommunication
}

// IsSpoken reports whether the question is read aloud and answered by voice.
func (q Question) IsSpoken() bool {
	return q.Type == TypeCommunication || q.Type == TypeBehavioral
}

// Duration returns the time the candidate has to answer.
func (q Question) Duration() time.Duration {
	if q.ExpectedDuration <= 0 {
		return DefaultQuestionDuration
	}
	return time.Duration(q.ExpectedDuration) * time.Second
}

// Order partitions questions by type in the fixed priority order behavioral,
// communication, reasoning, arithmetic, subjective, followed by every other
// type in order of first appearance. Each partition is shuffled with rng and
// the partitions are concatenated. A nil rng uses the global source.
func Order(questions []Question, rng *rand.Rand) []Question {
	groups := make(map[string][]Question)
	var extra []string
	known := make(map[string]bool, len(priority))
	for _, t := range priority {
		known[t] = true
	}
	for _, q := range questions {
		if _, seen := groups[q.Type]; !seen && !known[q.Type] {
			extra = append(extra, q.Type)
		}
		groups[q.Type] = append(groups[q.Type], q)
	}

	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	out := make([]Question, 0, len(questions))
	for _, t := range append(append([]string(nil), priority...), extra...) {
		g := groups[t]
		shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		out = append(out, g...)
	}
	return out
}
