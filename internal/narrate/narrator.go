// Package narrate reads questions and feedback aloud to the candidate.
//
// A [Narrator] stops any attached speech capture before it synthesizes or
// plays anything, so the candidate's microphone never records the narrator's
// own voice.
package narrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

// ErrPlaybackFailed wraps every load, synthesis or playback failure. It is
// informational: by the time it is returned the fallback delay has elapsed
// and callers should carry on without audio.
var ErrPlaybackFailed = errors.New("narrate: playback failed")

// Capture is the part of a speech capture session the narrator must silence.
type Capture interface {
	Stop() string
}

// Option configures a [Narrator].
type Option func(*Narrator)

// WithVoice sets the voice used for synthesis.
func WithVoice(v tts.VoiceProfile) Option { return func(n *Narrator) { n.voice = v } }

// WithCache sets the synthesized audio cache. Default: a private [MemoryCache].
func WithCache(c Cache) Option { return func(n *Narrator) { n.cache = c } }

// WithFallbackDelay sets how long a failed narration waits before returning,
// standing in for the speaking time. Default: 2s.
func WithFallbackDelay(d time.Duration) Option { return func(n *Narrator) { n.fallbackDelay = d } }

// WithSynthesisTimeout bounds one TTS request. Default: 30s.
func WithSynthesisTimeout(d time.Duration) Option { return func(n *Narrator) { n.synthTimeout = d } }

// WithCapture attaches the capture session to stop before narrating.
func WithCapture(c Capture) Option { return func(n *Narrator) { n.capture = c } }

// WithMetrics records narration latency on m.
func WithMetrics(m *observe.Metrics) Option { return func(n *Narrator) { n.metrics = m } }

// Narrator plays synthesized speech through a sink. It is safe for concurrent
// use. A new narration cancels the previous one; [Narrator.Stop] cancels
// whatever is in progress.
type Narrator struct {
	tts           tts.Provider
	sink          audio.Sink
	voice         tts.VoiceProfile
	cache         Cache
	fallbackDelay time.Duration
	synthTimeout  time.Duration
	capture       Capture
	metrics       *observe.Metrics

	group singleflight.Group

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// New creates a Narrator. provider may be nil, in which case every Narrate
// degrades to the fallback delay.
func New(provider tts.Provider, sink audio.Sink, opts ...Option) *Narrator {
	n := &Narrator{
		tts:           provider,
		sink:          sink,
		fallbackDelay: 2 * time.Second,
		synthTimeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(n)
	}
	if n.cache == nil {
		n.cache = NewMemoryCache()
	}
	return n
}

// Attach replaces the capture session stopped before narration.
func (n *Narrator) Attach(c Capture) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.capture = c
}

// Narrate speaks text. It stops the attached capture session first, then
// synthesizes (from cache when possible) and plays the result.
func (n *Narrator) Narrate(ctx context.Context, text string) error {
	n.mu.Lock()
	capture := n.capture
	n.mu.Unlock()
	if capture != nil {
		capture.Stop()
	}

	begin := time.Now()
	ctx, done := n.begin(ctx)
	defer done()

	clip, cached, err := n.synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("narrate: synthesis failed", "err", err)
		n.wait(ctx)
		return fmt.Errorf("%w: synthesize: %w", ErrPlaybackFailed, err)
	}

	err = n.play(ctx, clip)
	if n.metrics != nil && err == nil {
		n.metrics.RecordNarration(ctx, time.Since(begin), cached)
	}
	return err
}

// Play plays clip and returns when playback ends. On failure it waits for the
// fallback delay and returns an error wrapping [ErrPlaybackFailed].
func (n *Narrator) Play(ctx context.Context, clip audio.Clip) error {
	ctx, done := n.begin(ctx)
	defer done()
	return n.play(ctx, clip)
}

func (n *Narrator) play(ctx context.Context, clip audio.Clip) error {
	if err := clip.Validate(); err != nil {
		slog.Warn("narrate: clip not playable", "err", err)
		n.wait(ctx)
		return fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
	}
	if n.sink == nil {
		n.wait(ctx)
		return fmt.Errorf("%w: no audio output", ErrPlaybackFailed)
	}
	if err := n.sink.Play(ctx, clip); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("narrate: playback failed", "err", err, "duration", clip.Duration())
		n.wait(ctx)
		return fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
	}
	return nil
}

// Stop cancels the current synthesis or playback. It is safe when idle.
func (n *Narrator) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Busy reports whether a narration or playback is in progress.
func (n *Narrator) Busy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancel != nil
}

// begin registers a new narration and cancels the one it supersedes, so at
// most one clip plays at a time and Stop reaches whatever is audible.
func (n *Narrator) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.seq++
	id := n.seq
	prev := n.cancel
	n.cancel = cancel
	n.mu.Unlock()
	if prev != nil {
		prev()
	}
	return ctx, func() {
		n.mu.Lock()
		if n.seq == id {
			n.cancel = nil
		}
		n.mu.Unlock()
		cancel()
	}
}

func (n *Narrator) wait(ctx context.Context) {
	t := time.NewTimer(n.fallbackDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// synthesize returns the clip for text, reporting whether it came from the
// cache. Concurrent requests for the same text share one TTS call, which runs
// detached from any single caller's context.
func (n *Narrator) synthesize(ctx context.Context, text string) (audio.Clip, bool, error) {
	if n.tts == nil {
		return audio.Clip{}, false, errors.New("no text-to-speech provider")
	}
	key := CacheKey(n.voice.ID, text)
	if b, ok := n.cache.Get(key); ok {
		if clip, err := decodeClip(b); err == nil {
			return clip, true, nil
		}
	}

	ch := n.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.synthTimeout)
		defer cancel()
		a, err := n.tts.Synthesize(sctx, text, n.voice)
		if err != nil {
			return nil, err
		}
		clip := audio.Clip{Data: a.Data, SampleRate: a.SampleRate, Channels: a.Channels}
		if err := clip.Validate(); err != nil {
			return nil, err
		}
		n.cache.Set(key, encodeClip(clip))
		return clip, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return audio.Clip{}, false, res.Err
		}
		return res.Val.(audio.Clip), false, nil
	case <-ctx.Done():
		return audio.Clip{}, false, ctx.Err()
	}
}
