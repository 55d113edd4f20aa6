// Package coqui provides a tts.Provider for a self-hosted Coqui TTS server.
//
// Two server APIs are supported. The standard server (ghcr.io/coqui-ai/tts)
// synthesizes at GET /api/tts and describes its model at GET /details. The
// XTTS v2 API server synthesizes at POST /tts_to_audio/ and lists voices at
// GET /studio_speakers. Both reply with WAV, which is unwrapped to PCM.
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	clip, err := p.Synthesize(ctx, "Tell me about yourself.", voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	xttsSynthesizePath = "/tts_to_audio/"
	xttsSpeakersPath   = "/studio_speakers"
	standardTTSPath    = "/api/tts"
	standardInfoPath   = "/details"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeStandard targets the standard Coqui TTS server. Default.
	APIModeStandard APIMode = "standard"

	// APIModeXTTS targets the XTTS v2 API server.
	APIModeXTTS APIMode = "xtts"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent with each request. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP request. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server API.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples mono clips to rate. Zero keeps the model's
// native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider against a Coqui server. It is safe for
// concurrent use.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	outputRate int
	httpClient *http.Client
}

// New returns a provider for the server at serverURL, e.g.
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// Synthesize renders text and returns the clip as 16-bit PCM.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, errors.New("coqui: text must not be empty")
	}

	var req *http.Request
	var err error
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, text, voice)
	} else {
		req, err = p.standardRequest(ctx, text, voice)
	}
	if err != nil {
		return tts.Audio{}, err
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.do(req)
	if err != nil {
		return tts.Audio{}, err
	}
	info, err := parseWAV(wav)
	if err != nil {
		return tts.Audio{}, err
	}
	clip := tts.Audio{
		Data:       wav[info.dataOffset:],
		SampleRate: info.sampleRate,
		Channels:   info.channels,
	}
	if p.outputRate > 0 && clip.SampleRate != p.outputRate && clip.Channels == 1 {
		clip.Data = audio.ResampleMono16(clip.Data, clip.SampleRate, p.outputRate)
		clip.SampleRate = p.outputRate
	}
	if len(clip.Data) == 0 {
		return tts.Audio{}, errors.New("coqui: server returned an empty clip")
	}
	return clip, nil
}

func (p *Provider) standardRequest(ctx context.Context, text string, voice tts.VoiceProfile) (*http.Request, error) {
	q := url.Values{}
	q.Set("text", text)
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+standardTTSPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	return req, nil
}

func (p *Provider) xttsRequest(ctx context.Context, text string, voice tts.VoiceProfile) (*http.Request, error) {
	body, err := json.Marshal(struct {
		Text       string `json:"text"`
		SpeakerWav string `json:"speaker_wav"`
		Language   string `json:"language"`
	}{text, voice.ID, p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsSynthesizePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// ListVoices returns the server's voices sorted by name. A single-speaker
// standard model is reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	path := standardInfoPath
	if p.apiMode == APIModeXTTS {
		path = xttsSpeakersPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var names []string
	meta := map[string]string{}
	if p.apiMode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.Unmarshal(body, &speakers); err != nil {
			return nil, fmt.Errorf("coqui: decode speakers: %w", err)
		}
		for name := range speakers {
			names = append(names, name)
		}
		meta["type"] = "studio"
	} else {
		var details struct {
			ModelName string   `json:"model_name"`
			Speakers  []string `json:"speakers"`
		}
		if err := json.Unmarshal(body, &details); err != nil {
			return nil, fmt.Errorf("coqui: decode details: %w", err)
		}
		meta["model_name"] = details.ModelName
		names = slices.Clone(details.Speakers)
		if len(names) == 0 {
			name := details.ModelName
			if name == "" {
				name = "default"
			}
			names = []string{name}
		}
	}
	slices.Sort(names)

	voices := make([]tts.VoiceProfile, 0, len(names))
	for _, n := range names {
		voices = append(voices, tts.VoiceProfile{ID: n, Name: n, Provider: "coqui", Metadata: meta})
	}
	return voices, nil
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("coqui: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	return body, nil
}

type wavInfo struct {
	dataOffset int
	sampleRate int
	channels   int
}

// parseWAV walks the RIFF chunks of wav to find the format and the start of
// the sample data. The fmt chunk size varies between encoders.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: response is not a RIFF/WAVE file")
	}
	info := wavInfo{sampleRate: 22050, channels: 1}
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		switch id {
		case "fmt ":
			if size >= 16 && off+8+16 <= len(wav) {
				f := wav[off+8:]
				info.channels = int(binary.LittleEndian.Uint16(f[2:4]))
				info.sampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			}
		case "data":
			info.dataOffset = off + 8
			return info, nil
		}
		// Chunks are word aligned.
		off += 8 + size + size%2
	}
	return wavInfo{}, errors.New("coqui: WAV has no data chunk")
}
