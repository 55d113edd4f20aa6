package interview

import (
	"slices"
	"time"
)

// Status is the lifecycle state of an interview session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Response is the recorded outcome of one question. Exactly one Response
// exists per answered or timed-out question index.
type Response struct {
	// Question is a copy of the question text.
	Question     string `json:"question"`
	QuestionID   string `json:"question_id"`
	UserAnswer   string `json:"user_answer"`
	AIEvaluation string `json:"ai_evaluation"`
	Score        int    `json:"score"`

	// EndTime is seconds from the interview start to this answer, summed over
	// all response times so far.
	EndTime float64 `json:"end_time"`

	// ResponseTime is the seconds spent on this question.
	ResponseTime float64 `json:"response_time"`

	TimedOut bool `json:"timed_out,omitempty"`
}

// Session is one interview attempt.
type Session struct {
	ID           string     `json:"id"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time,omitzero"`
	Responses    []Response `json:"responses"`
	CurrentIndex int        `json:"current_index"`
	Score        int        `json:"score"`
	Status       Status     `json:"status"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	s.Responses = slices.Clone(s.Responses)
	return s
}
