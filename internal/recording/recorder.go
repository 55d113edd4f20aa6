// Package recording keeps a FLAC copy of the candidate's microphone audio for
// the duration of an interview.
package recording

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/MrWong99/intervox/pkg/audio"
)

const (
	blockSize     = 4096
	bitsPerSample = 16
)

var (
	// ErrNotRecording is returned by Stop before Start.
	ErrNotRecording = errors.New("recording: not recording")

	// ErrAlreadyRecording is returned by a second Start.
	ErrAlreadyRecording = errors.New("recording: already recording")
)

// Option configures a [Recorder].
type Option func(*Recorder)

// WithMaxDuration caps the recorded audio. Later frames are dropped.
// Default: 2h.
func WithMaxDuration(d time.Duration) Option { return func(r *Recorder) { r.maxDuration = d } }

// Recorder encodes the mono 16-bit PCM of a shared media stream into FLAC.
// A Recorder records once: Start, then Stop.
type Recorder struct {
	maxDuration time.Duration

	mu      sync.Mutex
	started bool
	sub     *audio.Subscription
	stop    chan struct{}
	done    chan struct{}
	result  []byte
	err     error
}

// New returns an idle recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{maxDuration: 2 * time.Hour}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start subscribes to stream and begins encoding in the background. The
// stream must deliver mono frames.
func (r *Recorder) Start(ctx context.Context, stream *audio.MediaStream) error {
	if stream == nil || !stream.HasAudio() {
		return errors.New("recording: stream has no audio track")
	}
	f := stream.Format()
	if f.Channels != 1 || f.SampleRate <= 0 {
		return fmt.Errorf("recording: unsupported format %s", f)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyRecording
	}
	sub, err := stream.Acquire()
	if err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	enc, err := newEncoder(f.SampleRate)
	if err != nil {
		sub.Release()
		return err
	}
	r.started = true
	r.sub = sub
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	limit := int(r.maxDuration.Seconds() * float64(f.SampleRate))
	go r.run(ctx, sub, enc, limit)
	return nil
}

func (r *Recorder) run(ctx context.Context, sub *audio.Subscription, enc *encoder, limit int) {
	defer close(r.done)
	defer sub.Release()

	pending := make([]int16, 0, blockSize)
	total := 0
	var encErr error
	add := func(data []byte) {
		for i := 0; i+1 < len(data) && total < limit; i += 2 {
			pending = append(pending, int16(binary.LittleEndian.Uint16(data[i:])))
			total++
			if len(pending) == blockSize {
				if err := enc.writeBlock(pending); err != nil && encErr == nil {
					encErr = err
				}
				pending = pending[:0]
			}
		}
	}

loop:
	for {
		select {
		case <-r.stop:
			break loop
		case <-ctx.Done():
			break loop
		case fr, ok := <-sub.Frames():
			if !ok {
				break loop
			}
			add(fr.Data)
		}
	}
	// Drain frames that were already buffered.
	for {
		select {
		case fr, ok := <-sub.Frames():
			if ok {
				add(fr.Data)
				continue
			}
		default:
		}
		break
	}

	if len(pending) > 0 {
		if err := enc.writeBlock(pending); err != nil && encErr == nil {
			encErr = err
		}
	}
	data, err := enc.close()
	if encErr == nil {
		encErr = err
	}
	slog.Debug("recording: finished", "samples", total, "bytes", len(data))

	r.mu.Lock()
	r.result, r.err = data, encErr
	r.mu.Unlock()
}

// Stop ends the recording and returns the FLAC file. It waits for the encoder
// to flush until ctx is done.
func (r *Recorder) Stop(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	stop, done := r.stop, r.done
	r.mu.Unlock()

	select {
	case <-stop:
	default:
		close(stop)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("recording: stop: %w", ctx.Err())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, fmt.Errorf("recording: encode: %w", r.err)
	}
	return r.result, nil
}

// encoder writes verbatim FLAC frames into memory.
type encoder struct {
	buf        bytes.Buffer
	enc        *flac.Encoder
	sampleRate uint32
}

func newEncoder(sampleRate int) (*encoder, error) {
	e := &encoder{sampleRate: uint32(sampleRate)}
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  blockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     1,
		BitsPerSample: bitsPerSample,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("recording: create flac encoder: %w", err)
	}
	e.enc = enc
	return e, nil
}

func (e *encoder) writeBlock(block []int16) error {
	samples := make([]int32, len(block))
	for i, s := range block {
		samples[i] = int32(s)
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    e.sampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: bitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("write flac frame: %w", err)
	}
	return nil
}

func (e *encoder) close() ([]byte, error) {
	if err := e.enc.Close(); err != nil {
		return nil, fmt.Errorf("close flac encoder: %w", err)
	}
	return e.buf.Bytes(), nil
}
