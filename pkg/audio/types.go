package audio

import (
	"errors"
	"fmt"
	"time"
)

// AudioFrame is one chunk of 16-bit little-endian PCM captured from a
// candidate's microphone.
type AudioFrame struct {
	// Data holds interleaved int16 samples.
	Data []byte

	// SampleRate in Hz (16000 for everything downstream of the media socket).
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// ErrInvalidClip is returned by [Clip.Validate] for audio that cannot be played.
var ErrInvalidClip = errors.New("audio: invalid clip")

// Clip is a complete piece of synthesized audio ready for playback.
type Clip struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Validate reports whether the clip is decodable PCM with a known, non-zero
// duration.
func (c Clip) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidClip, c.SampleRate)
	case c.Channels <= 0:
		return fmt.Errorf("%w: channels %d", ErrInvalidClip, c.Channels)
	case len(c.Data) == 0:
		return fmt.Errorf("%w: no audio data", ErrInvalidClip)
	case len(c.Data)%(2*c.Channels) != 0:
		return fmt.Errorf("%w: %d bytes is not a whole number of %d-channel samples", ErrInvalidClip, len(c.Data), c.Channels)
	}
	return nil
}

// Duration returns the playback length. It is zero for clips that do not
// validate.
func (c Clip) Duration() time.Duration {
	if c.Validate() != nil {
		return 0
	}
	samples := len(c.Data) / (2 * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}
