// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A session is always continuous with interim results enabled: it accepts raw
// PCM frames and emits low-latency partial transcripts alongside authoritative
// finals. Recognition errors are reported on a separate channel using the
// sentinel errors below so the capture layer can decide whether to restart.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrNoSpeech reports that the engine gave up after hearing no speech.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrNotAllowed reports that microphone or recognition permission was denied.
	ErrNotAllowed = errors.New("stt: not allowed")

	// ErrNetwork reports a transport failure between the engine and its backend.
	ErrNetwork = errors.New("stt: network error")

	// ErrAborted reports that recognition was aborted by the client.
	ErrAborted = errors.New("stt: aborted")
)

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	Language string

	// Keywords boosts recognition of domain vocabulary such as technology names
	// that appear in the question set.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio. Calling SendAudio after Close
	// returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Errors emits recognition errors, wrapping one of the package sentinels
	// where applicable. Closed when the session ends.
	Errors() <-chan error

	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the returned handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
