// Package audio defines the audio types shared by the interview core: PCM
// frames, playable clips, the shared candidate [MediaStream] and the playback
// [Sink].
//
// A candidate's microphone (and camera) is opened once per interview. Several
// consumers read from it at the same time: the voice activity monitor, the
// speech capture session, the recorder and the interview machine itself, which
// holds the camera. [MediaStream] tracks each of them with an explicit
// reference so releasing one consumer never stops tracks that another one
// still needs.
package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed is returned by [MediaStream.Acquire] after the stream ended.
var ErrStreamClosed = errors.New("audio: media stream closed")

// subscriberBuffer is the per-subscription frame buffer. Slow consumers lose
// frames rather than stalling the publisher.
const subscriberBuffer = 64

// StreamOptions describes the tracks a [MediaStream] carries.
type StreamOptions struct {
	// Audio reports whether the stream has a microphone track.
	Audio bool

	// Video reports whether the stream has a camera track.
	Video bool

	// Format of the frames published on the stream.
	Format Format

	// OnIdle, if set, is called (on its own goroutine) every time the last
	// reference is released. The media socket uses it to tell the browser to
	// stop its tracks.
	OnIdle func()
}

// MediaStream is a reference-counted, fan-out source of candidate audio.
// It is safe for concurrent use.
type MediaStream struct {
	opts StreamOptions

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	done   chan struct{}
}

// NewMediaStream creates an open stream.
func NewMediaStream(opts StreamOptions) *MediaStream {
	return &MediaStream{
		opts: opts,
		subs: make(map[uint64]*Subscription),
		done: make(chan struct{}),
	}
}

// HasAudio reports whether the stream carries a microphone track.
func (s *MediaStream) HasAudio() bool { return s.opts.Audio }

// HasVideo reports whether the stream carries a camera track.
func (s *MediaStream) HasVideo() bool { return s.opts.Video }

// Format returns the format of published frames.
func (s *MediaStream) Format() Format { return s.opts.Format }

// Done is closed when the stream ends.
func (s *MediaStream) Done() <-chan struct{} { return s.done }

// Acquire takes a reference on the stream. Every call must be paired with
// [Subscription.Release].
func (s *MediaStream) Acquire() (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	s.nextID++
	sub := &Subscription{
		id:     s.nextID,
		stream: s,
		frames: make(chan AudioFrame, subscriberBuffer),
	}
	s.subs[sub.id] = sub
	return sub, nil
}

// Refs returns the number of live references.
func (s *MediaStream) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Publish delivers frame to every subscription without blocking. It returns
// false once the stream is closed.
func (s *MediaStream) Publish(frame AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for _, sub := range s.subs {
		select {
		case sub.frames <- frame:
		default:
		}
	}
	return true
}

// Close ends the stream: every subscription's frame channel is closed and no
// further references can be taken. Close is idempotent.
func (s *MediaStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for id, sub := range s.subs {
		close(sub.frames)
		delete(s.subs, id)
	}
}

func (s *MediaStream) release(sub *Subscription) {
	s.mu.Lock()
	if _, ok := s.subs[sub.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, sub.id)
	close(sub.frames)
	idle := len(s.subs) == 0
	s.mu.Unlock()

	if idle && s.opts.OnIdle != nil {
		go s.opts.OnIdle()
	}
}

// Subscription is one consumer's reference on a [MediaStream].
type Subscription struct {
	id     uint64
	stream *MediaStream
	frames chan AudioFrame
	once   sync.Once
}

// Frames delivers published frames. The channel is closed on Release or when
// the stream ends.
func (sub *Subscription) Frames() <-chan AudioFrame { return sub.frames }

// Release drops the reference. It is safe to call more than once; only the
// first call has an effect.
func (sub *Subscription) Release() {
	sub.once.Do(func() { sub.stream.release(sub) })
}

// Sink plays clips to the candidate.
type Sink interface {
	// Play blocks until the clip finished playing, ctx is cancelled or playback
	// fails.
	Play(ctx context.Context, clip Clip) error
}
