package interview

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by operations that need a started interview.
	ErrNotStarted = errors.New("interview: not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("interview: already started")

	// ErrNoQuestions is returned by Start when the question set is empty.
	ErrNoQuestions = errors.New("interview: no questions")

	// ErrNoActiveQuestion rejects a submission when the interview is not
	// active, has ended, or the question it targeted was already answered.
	ErrNoActiveQuestion = errors.New("interview: no active question")

	// ErrSubmissionInFlight rejects a submission while another one for the
	// same interview is being scored.
	ErrSubmissionInFlight = errors.New("interview: submission in flight")

	// ErrAnswerTooShort rejects an answer that is not ready to be scored.
	// Callers may retry with more text.
	ErrAnswerTooShort = errors.New("interview: answer too short")
)

// Readiness checks performed by Start, in order.
const (
	CheckSpeech     = "speech"
	CheckMicrophone = "microphone"
	CheckPhoto      = "photo"
	CheckCamera     = "camera"
)

// PreconditionError reports the first readiness check that failed. No session
// exists after it is returned.
type PreconditionError struct {
	Check string
	Err   error
}

func (e *PreconditionError) Error() string {
	msg := "interview: precondition " + e.Check + " not met"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// PersistenceError reports that the completed session could not be saved.
// The session stays completed.
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("interview: save session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
