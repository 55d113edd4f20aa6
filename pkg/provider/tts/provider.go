// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Narration in an interview is one short clip per question or feedback text,
// so the interface is request/response: Synthesize returns the complete PCM
// clip for a text, or an error. Implementations must be safe for concurrent use.
package tts

import "context"

// Audio is a synthesized clip of little-endian 16-bit PCM.
type Audio struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// VoiceProfile selects the narrator's voice. Only ID is needed to
// synthesize; the rest is filled in by ListVoices.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string

	// Metadata carries labels such as accent or gender.
	Metadata map[string]string
}

// Provider synthesizes narration.
type Provider interface {
	// Synthesize renders text with voice and returns the complete clip. An
	// empty clip is reported as an error.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
