package vad

// State is the speech state after a frame.
type State int

const (
	// Silent means no speech is in progress.
	Silent State = iota

	// SpeechStart marks the first frame of a speech segment.
	SpeechStart

	// Speaking marks a frame inside a speech segment.
	Speaking

	// SpeechEnd marks the first frame after a speech segment closed.
	SpeechEnd
)

var stateNames = [...]string{"silent", "speech_start", "speaking", "speech_end"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// InSpeech reports whether the frame belongs to a speech segment.
func (s State) InSpeech() bool { return s == SpeechStart || s == Speaking }

// Event is the result for one frame.
type Event struct {
	State State

	// Probability is the speech likelihood in [0, 1]. The energy engine
	// reports its activity level divided by 100.
	Probability float64
}

// Level is Probability on the 0 to 100 scale the capture monitor uses.
func (e Event) Level() float64 { return e.Probability * 100 }
