// Package mock provides in-memory test doubles for the audio package: a
// playback [Sink] that records clips and helpers for feeding a
// [audio.MediaStream].
//
// All types are safe for concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/intervox/pkg/audio"
)

var _ audio.Sink = (*Sink)(nil)

// Sink records every clip passed to Play.
type Sink struct {
	mu sync.Mutex

	// PlayErr is returned by Play after the clip is recorded.
	PlayErr error

	// PlayDuration makes Play block for this long (or until ctx is done). When
	// zero, Play returns immediately.
	PlayDuration time.Duration

	// OnPlay, if set, is called at the start of every Play.
	OnPlay func(clip audio.Clip)

	clips   []audio.Clip
	playing int
}

// Play records clip and simulates playback.
func (s *Sink) Play(ctx context.Context, clip audio.Clip) error {
	s.mu.Lock()
	s.clips = append(s.clips, clip)
	s.playing++
	d, err, hook := s.PlayDuration, s.PlayErr, s.OnPlay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.playing--
		s.mu.Unlock()
	}()

	if hook != nil {
		hook(clip)
	}
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Clips returns a copy of the recorded clips.
func (s *Sink) Clips() []audio.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// Playing reports whether a Play call is in progress.
func (s *Sink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing > 0
}

// NewStream returns an open 16 kHz mono stream with an audio track and,
// when video is true, a camera track.
func NewStream(video bool) *audio.MediaStream {
	return audio.NewMediaStream(audio.StreamOptions{
		Audio:  true,
		Video:  video,
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	})
}

// Feed publishes a 20 ms silent frame on s every interval until ctx is done or
// the stream closes.
func Feed(ctx context.Context, s *audio.MediaStream, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	var ts time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !s.Publish(audio.AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1, Timestamp: ts}) {
				return
			}
			ts += 20 * time.Millisecond
		}
	}
}
