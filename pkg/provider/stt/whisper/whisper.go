// Package whisper provides an stt.Provider backed by a whisper.cpp server.
//
// whisper-server transcribes whole files at POST /inference, so a session
// buffers PCM, cuts utterances at pauses detected by signal energy and sends
// each utterance as a WAV upload. Every transcribed utterance is emitted as a
// partial and a final with the same text.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

const (
	bitsPerSample = 16

	// defaultRMSThreshold is the energy, in 16-bit sample units, below which a
	// chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage        = "en"
	defaultSampleRate      = 16000
	defaultSilence         = 700 * time.Millisecond
	defaultMaxUtterance    = 15 * time.Second
	defaultNoSpeechTimeout = 8 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel names the model the server should use. Empty uses the server's.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language code, e.g. "en". Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilence sets the pause that ends an utterance. Default: 700ms.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxUtterance forces an upload after this much buffered speech.
// Default: 15s.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithNoSpeechTimeout reports [stt.ErrNoSpeech] when a session hears nothing
// for d. Default: 8s.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) { p.noSpeech = d }
}

// WithHTTPClient sets the client used for uploads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server. Each
// session owns its buffer and goroutine.
type Provider struct {
	serverURL    string
	model        string
	language     string
	silence      time.Duration
	maxUtterance time.Duration
	noSpeech     time.Duration
	httpClient   *http.Client
}

// New returns a provider for the server at serverURL, e.g.
// "http://localhost:8081".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		silence:      defaultSilence,
		maxUtterance: defaultMaxUtterance,
		noSpeech:     defaultNoSpeechTimeout,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No request is made until the first utterance
// ends. Keywords are sent as the initial prompt, which biases whisper toward
// that vocabulary.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	// whisper takes ISO 639-1 codes.
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	channels := max(cfg.Channels, 1)

	words := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		words = append(words, k.Keyword)
	}

	s := &session{
		p:        p,
		language: lang,
		prompt:   strings.Join(words, ", "),
		format:   audio.Format{SampleRate: rate, Channels: channels},
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
		errs:     make(chan error, 4),
		done:     make(chan struct{}),
		started:  time.Now(),
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// session is confined to its run goroutine except for the channels.
type session struct {
	p        *Provider
	language string
	prompt   string
	format   audio.Format
	started  time.Time

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }
func (s *session) Errors() <-chan error            { return s.errs }

// Close uploads any pending speech and closes the output channels.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.errs)
	defer close(s.finals)
	defer close(s.partials)

	var (
		buffer    []byte
		speech    bool
		heard     bool
		silent    time.Duration
		bufferDur time.Duration
	)

	flush := func(fctx context.Context) {
		pcm, hadSpeech, offset := buffer, speech, bufferDur
		buffer, speech, silent, bufferDur = nil, false, 0, 0
		if !hadSpeech || len(pcm) == 0 {
			return
		}
		text, err := s.infer(fctx, pcm)
		if err != nil {
			if fctx.Err() == nil {
				s.report(err)
			}
			return
		}
		if text == "" {
			return
		}
		ts := time.Since(s.started) - offset
		s.emit(s.partials, stt.Transcript{Text: text, Timestamp: ts})
		s.emit(s.finals, stt.Transcript{Text: text, IsFinal: true, Timestamp: ts})
	}

	final := func() {
		fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fctx)
	}

	var noSpeech <-chan time.Time
	if s.p.noSpeech > 0 {
		t := time.NewTimer(s.p.noSpeech)
		defer t.Stop()
		noSpeech = t.C
	}

	for {
		select {
		case <-ctx.Done():
			final()
			return
		case <-s.done:
			final()
			return
		case <-noSpeech:
			noSpeech = nil
			if !heard {
				s.report(fmt.Errorf("whisper: %w", stt.ErrNoSpeech))
			}
		case chunk := <-s.audioCh:
			d := s.duration(chunk)
			if rms(chunk) < defaultRMSThreshold {
				// Leading silence is dropped.
				if !speech {
					continue
				}
				silent += d
				bufferDur += d
				buffer = append(buffer, chunk...)
				if silent >= s.p.silence {
					flush(ctx)
				}
				continue
			}
			speech, heard, silent = true, true, 0
			bufferDur += d
			buffer = append(buffer, chunk...)
			if bufferDur >= s.p.maxUtterance {
				flush(ctx)
			}
		}
	}
}

func (s *session) emit(ch chan stt.Transcript, t stt.Transcript) {
	select {
	case ch <- t:
	default:
	}
}

func (s *session) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *session) duration(chunk []byte) time.Duration {
	bytesPerSec := s.format.SampleRate * s.format.Channels * bitsPerSample / 8
	return time.Duration(len(chunk)) * time.Second / time.Duration(bytesPerSec)
}

// infer uploads pcm as WAV and returns the trimmed text. Transport failures
// and server errors wrap [stt.ErrNetwork].
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, s.format)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := [][2]string{
		{"response_format", "json"},
		{"language", s.language},
		{"model", s.p.model},
		{"prompt", s.prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w: %w", stt.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("whisper: inference: %w: HTTP %d", stt.ErrNetwork, resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// encodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container.
func encodeWAV(pcm []byte, f audio.Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

func rms(pcm []byte) float64 {
	samples := audio.Samples(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
