// Package wsmedia carries a candidate's media between the browser and the
// interview core over a single websocket.
//
// The browser streams microphone PCM as binary frames after a [Hello]. The
// server pushes narration clips back and waits for the browser to report the
// end of playback. When the browser can run speech recognition itself, the
// [Recognizer] relays its results as an stt.Provider.
package wsmedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/intervox/pkg/audio"
)

// ErrClosed is returned by operations on a connection that has gone away.
var ErrClosed = errors.New("wsmedia: connection closed")

// ErrPlaybackTimeout is returned by [Conn.Play] when the browser never reports
// the end of a clip.
var ErrPlaybackTimeout = errors.New("wsmedia: playback end not reported")

const (
	defaultReadLimit     = 1 << 20
	defaultPlaybackGrace = 5 * time.Second
	writeTimeout         = 5 * time.Second
)

var _ audio.Sink = (*Conn)(nil)

// Option configures a [Conn].
type Option func(*Conn)

// WithFormat sets the format frames are normalized to before publishing.
// Default: 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(c *Conn) { c.target = f }
}

// WithPlaybackGrace sets how long past a clip's duration Play waits for the
// browser's playback_ended message. Default: 5s.
func WithPlaybackGrace(d time.Duration) Option {
	return func(c *Conn) { c.grace = d }
}

// Conn is the server side of a candidate media socket. It is safe for
// concurrent use.
type Conn struct {
	ws     *websocket.Conn
	target audio.Format
	grace  time.Duration

	writeMu sync.Mutex

	helloOnce sync.Once
	ready     chan struct{}
	hello     Hello
	stream    *audio.MediaStream

	mu      sync.Mutex
	pending map[string]chan error
	rec     *recSession
	samples int64

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an accepted websocket.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:      ws,
		target:  audio.Format{SampleRate: 16000, Channels: 1},
		grace:   defaultPlaybackGrace,
		ready:   make(chan struct{}),
		pending: make(map[string]chan error),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	ws.SetReadLimit(defaultReadLimit)
	return c
}

// Run reads from the socket until ctx is done or the browser disconnects.
// It always closes the media stream before returning.
func (c *Conn) Run(ctx context.Context) error {
	defer c.shutdown()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wsmedia: read: %w", err)
		}
		switch typ {
		case websocket.MessageBinary:
			c.handleAudio(data)
		case websocket.MessageText:
			if err := c.handleControl(data); err != nil {
				slog.Warn("wsmedia: bad control message", "err", err)
			}
		}
	}
}

// Stream waits for the browser's hello and returns the media stream it
// announced.
func (c *Conn) Stream(ctx context.Context) (*audio.MediaStream, error) {
	select {
	case <-c.ready:
		return c.stream, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Hello returns the browser's hello and whether it has arrived.
func (c *Conn) Hello() (Hello, bool) {
	select {
	case <-c.ready:
		return c.hello, true
	default:
		return Hello{}, false
	}
}

// SpeechSupported reports whether the browser announced its own speech
// recognition.
func (c *Conn) SpeechSupported() bool {
	h, ok := c.Hello()
	return ok && h.Speech
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send pushes an interview event to the browser.
func (c *Conn) Send(ctx context.Context, event any) error {
	return c.writeJSON(ctx, eventMsg{Type: msgEvent, Event: event})
}

// Play sends clip to the browser and blocks until it reports the end of
// playback. Cancelling ctx tells the browser to stop.
func (c *Conn) Play(ctx context.Context, clip audio.Clip) error {
	if err := clip.Validate(); err != nil {
		return err
	}
	id := uuid.NewString()
	wait := make(chan error, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	c.pending[id] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	err := c.write(ctx, func(wctx context.Context) error {
		hdr, err := json.Marshal(playbackMsg{Type: msgPlay, ID: id, SampleRate: clip.SampleRate, Channels: clip.Channels, Bytes: len(clip.Data)})
		if err != nil {
			return err
		}
		if err := c.ws.Write(wctx, websocket.MessageText, hdr); err != nil {
			return err
		}
		return c.ws.Write(wctx, websocket.MessageBinary, clip.Data)
	})
	if err != nil {
		return fmt.Errorf("wsmedia: play: %w", err)
	}

	timer := time.NewTimer(clip.Duration() + c.grace)
	defer timer.Stop()
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = c.writeJSON(stopCtx, playbackMsg{Type: msgStopPlayback, ID: id})
		return ctx.Err()
	case <-timer.C:
		return ErrPlaybackTimeout
	case <-c.done:
		return ErrClosed
	}
}

// Close closes the socket with a normal closure.
func (c *Conn) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "interview finished")
	c.shutdown()
	return err
}

func (c *Conn) handleAudio(data []byte) {
	select {
	case <-c.ready:
	default:
		return
	}
	if !c.hello.Audio {
		return
	}
	frame := audio.AudioFrame{Data: data, SampleRate: c.hello.SampleRate, Channels: c.hello.Channels}

	c.mu.Lock()
	frame.Timestamp = time.Duration(c.samples) * time.Second / time.Duration(c.hello.SampleRate)
	c.samples += int64(len(data) / (2 * c.hello.Channels))
	c.mu.Unlock()

	norm, err := audio.Normalize(frame, c.target)
	if err != nil {
		slog.Debug("wsmedia: dropping frame", "err", err)
		return
	}
	c.stream.Publish(norm)
}

func (c *Conn) handleControl(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Type {
	case msgHello:
		var h Hello
		if err := json.Unmarshal(data, &h); err != nil {
			return err
		}
		c.onHello(h)
	case msgRecognition:
		var m recognitionMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.deliverRecognition(m)
	case msgRecognitionError:
		var m recognitionErrorMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.deliverRecognitionError(m.Error)
	case msgPlaybackEnded, msgPlaybackError:
		var m playbackMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		var perr error
		if env.Type == msgPlaybackError {
			perr = fmt.Errorf("wsmedia: browser playback: %s", m.Error)
		}
		c.mu.Lock()
		wait, ok := c.pending[m.ID]
		c.mu.Unlock()
		if ok {
			select {
			case wait <- perr:
			default:
			}
		}
	default:
		return fmt.Errorf("unknown type %q", env.Type)
	}
	return nil
}

func (c *Conn) onHello(h Hello) {
	c.helloOnce.Do(func() {
		if h.SampleRate <= 0 {
			h.SampleRate = c.target.SampleRate
		}
		if h.Channels <= 0 {
			h.Channels = 1
		}
		c.hello = h
		c.stream = audio.NewMediaStream(audio.StreamOptions{
			Audio:  h.Audio,
			Video:  h.Video,
			Format: c.target,
			OnIdle: c.releaseTracks,
		})
		close(c.ready)
		slog.Debug("wsmedia: hello", "format", audio.Format{SampleRate: h.SampleRate, Channels: h.Channels}, "audio", h.Audio, "video", h.Video, "speech", h.Speech)
	})
}

func (c *Conn) releaseTracks() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.writeJSON(ctx, envelope{Type: msgReleaseTracks}); err != nil && !errors.Is(err, ErrClosed) {
		slog.Debug("wsmedia: release tracks", "err", err)
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		rec := c.rec
		c.rec = nil
		c.mu.Unlock()
		if rec != nil {
			rec.detach()
		}
		select {
		case <-c.ready:
			c.stream.Close()
		default:
		}
	})
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(ctx, func(wctx context.Context) error {
		return c.ws.Write(wctx, websocket.MessageText, data)
	})
}

// write serializes writers so a clip header and its body are never split.
func (c *Conn) write(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return fn(wctx)
}
