// Package deepgram provides an stt.Provider backed by the Deepgram streaming
// WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/intervox/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	defaultNoSpeechTimeout = 8 * time.Second

	// keepAliveInterval is below the 10s after which Deepgram closes a
	// stream that received no audio.
	keepAliveInterval = 5 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithNoSpeechTimeout reports [stt.ErrNoSpeech] when Deepgram detects no
// speech within d of the stream starting. Zero disables it. Default: 8s.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) { p.noSpeech = d }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	noSpeech time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
		noSpeech: defaultNoSpeechTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram: dial: %w", stt.ErrNotAllowed)
		}
		return nil, fmt.Errorf("deepgram: dial: %w: %w", stt.ErrNetwork, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := &session{
		conn:     conn,
		cancel:   cancel,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		errs:     make(chan error, 4),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		heard:    make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)
	if p.noSpeech > 0 {
		go sess.watchSilence(ctx, p.noSpeech)
	}
	return sess, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	// nova-3 takes plain key terms; older models take boosted keywords.
	keyterms := strings.HasPrefix(p.model, "nova-3")
	for _, kw := range cfg.Keywords {
		if keyterms {
			q.Add("keyterm", kw.Keyword)
			continue
		}
		boost := kw.Boost
		if boost == 0 {
			boost = 1
		}
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is the subset of a Deepgram message the session consumes.
type response struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Start       float64 `json:"start"`
	Description string `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type session struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan error
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// heard is closed on the first detected speech.
	heard     chan struct{}
	heardOnce sync.Once

	// errMu guards errs against a late report from watchSilence.
	errMu      sync.Mutex
	errsClosed bool
}

var errClosed = errors.New("deepgram: session is closed")

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }
func (s *session) Errors() <-chan error            { return s.errs }

// Close asks Deepgram to flush, then tears the connection down.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()
		s.cancel()
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			keepAlive.Reset(keepAliveInterval)
		case <-keepAlive.C:
			if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.closeErrs()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				if ctx.Err() == nil {
					s.report(fmt.Errorf("deepgram: read: %w: %w", stt.ErrNetwork, err))
				}
			}
			return
		}

		var resp response
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Error":
			s.report(fmt.Errorf("deepgram: %s", resp.Description))
			continue
		case "SpeechStarted":
			s.markHeard()
			continue
		}
		t, ok := toTranscript(resp)
		if !ok {
			continue
		}
		s.markHeard()
		ch := s.partials
		if t.IsFinal {
			ch = s.finals
		}
		select {
		case ch <- t:
		case <-s.done:
			return
		}
	}
}

func (s *session) markHeard() { s.heardOnce.Do(func() { close(s.heard) }) }

// watchSilence reports ErrNoSpeech once if nothing was heard within d.
func (s *session) watchSilence(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		s.report(fmt.Errorf("deepgram: %w", stt.ErrNoSpeech))
	case <-s.heard:
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *session) closeErrs() {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.errsClosed = true
	close(s.errs)
}

func (s *session) report(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errsClosed {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

// toTranscript converts a Results message. Other message types and empty
// alternatives are ignored.
func toTranscript(resp response) (stt.Transcript, bool) {
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return stt.Transcript{}, false
	}
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Timestamp:  seconds(resp.Start),
	}, true
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
