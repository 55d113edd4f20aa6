// Package energy provides a spectral-energy VAD engine.
//
// The level computation mirrors what a browser AnalyserNode reports through
// getByteFrequencyData: a Blackman-windowed FFT of the most recent samples,
// per-bin magnitudes smoothed over time, converted to decibels, clamped to
// [MinDecibels, MaxDecibels] and scaled to a byte. The average byte across all
// bins, scaled to 0–100, is the activity level. Event.Probability is that
// level divided by 100, so a speech threshold of 15/100 is configured as 0.15.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/intervox/pkg/provider/vad"
)

const (
	// MinDecibels is the magnitude mapped to byte value 0.
	MinDecibels = -100.0
	// MaxDecibels is the magnitude mapped to byte value 255.
	MaxDecibels = -30.0
	// SmoothingTimeConstant blends each bin with its previous value.
	SmoothingTimeConstant = 0.8

	maxWindow = 2048
	minWindow = 32
)

// Engine creates energy VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns an energy Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a fresh session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	var errs []error
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("speech threshold %v out of range [0,1]", cfg.SpeechThreshold))
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		errs = append(errs, fmt.Errorf("silence threshold %v must be in [0, speech threshold]", cfg.SilenceThreshold))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	return &session{cfg: cfg}, nil
}

// session tracks smoothing history and speech state for one stream.
type session struct {
	cfg      vad.Config
	fft      *fourier.FFT
	window   []float64
	smoothed []float64
	speaking bool
	closed   bool
}

// ProcessFrame computes the activity level for frame and classifies it.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errors.New("energy: session is closed")
	}
	if len(frame)%2 != 0 {
		return vad.Event{}, fmt.Errorf("energy: odd frame length %d", len(frame))
	}
	n := windowSize(len(frame) / 2)
	if n < minWindow {
		return vad.Event{}, fmt.Errorf("energy: frame too short (%d samples)", len(frame)/2)
	}

	level := s.level(frame, n)
	p := level / 100
	ev := vad.Event{Probability: p}
	switch {
	case p >= s.cfg.SpeechThreshold && !s.speaking:
		s.speaking = true
		ev.State = vad.SpeechStart
	case p >= s.cfg.SpeechThreshold:
		ev.State = vad.Speaking
	case s.speaking && p < s.cfg.SilenceThreshold:
		s.speaking = false
		ev.State = vad.SpeechEnd
	case s.speaking:
		ev.State = vad.Speaking
	default:
		ev.State = vad.Silent
	}
	return ev, nil
}

// level analyses the last n samples of frame and returns a value in [0, 100].
func (s *session) level(frame []byte, n int) float64 {
	if s.fft == nil || s.fft.Len() != n {
		s.fft = fourier.NewFFT(n)
		s.window = blackman(n)
		s.smoothed = make([]float64, n/2)
	}

	total := len(frame) / 2
	samples := make([]float64, n)
	for i := range n {
		off := (total - n + i) * 2
		v := int16(binary.LittleEndian.Uint16(frame[off:]))
		samples[i] = float64(v) / 32768 * s.window[i]
	}

	coeffs := s.fft.Coefficients(nil, samples)
	var sum float64
	for k := range s.smoothed {
		mag := math.Hypot(real(coeffs[k]), imag(coeffs[k])) / float64(n)
		s.smoothed[k] = SmoothingTimeConstant*s.smoothed[k] + (1-SmoothingTimeConstant)*mag
		sum += byteLevel(s.smoothed[k])
	}
	avg := sum / float64(len(s.smoothed))
	return avg / 255 * 100
}

// Reset clears smoothing history and speech state.
func (s *session) Reset() {
	for i := range s.smoothed {
		s.smoothed[i] = 0
	}
	s.speaking = false
}

// Close marks the session closed.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// byteLevel maps a linear magnitude to the 0–255 analyser scale.
func byteLevel(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	b := math.Floor(255 / (MaxDecibels - MinDecibels) * (db - MinDecibels))
	return math.Max(0, math.Min(255, b))
}

// windowSize returns the largest power of two <= samples, capped at maxWindow.
func windowSize(samples int) int {
	n := 1
	for n*2 <= samples && n*2 <= maxWindow {
		n *= 2
	}
	return n
}

func blackman(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return w
}
