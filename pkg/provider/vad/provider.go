// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine turns a stream of PCM frames into per-frame speech probabilities.
// Each session keeps its own smoothing state so several candidate streams can be
// analysed independently.
//
// ProcessFrame is synchronous and must not block; it is called from the audio
// pump of the capture layer for every frame the microphone delivers.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame. Common values: 16000, 48000.
	SampleRate int

	// FrameSizeMs is the nominal duration of each frame. Engines that need a
	// fixed frame size return an error from ProcessFrame on mismatch; the energy
	// engine only uses it to size its analysis window.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame counts as speech.
	// Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech segment
	// ends. Must be <= SpeechThreshold.
	SilenceThreshold float64
}

// SessionHandle is a live VAD session for a single audio stream.
// A SessionHandle must not be shared between goroutines.
type SessionHandle interface {
	// ProcessFrame analyses one frame of little-endian 16-bit mono PCM.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears smoothing and speech state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent calls to NewSession.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
