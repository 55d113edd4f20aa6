// Package elevenlabs synthesizes narration with the ElevenLabs stream-input
// WebSocket API. Each clip is one short-lived socket: the text goes out in a
// single message followed by a flush, and PCM chunks come back until the
// server marks the generation final.
package elevenlabs

import (
	"bytes"
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/intervox/pkg/provider/tts"
)

const (
	defaultWSBase   = "wss://api.elevenlabs.io"
	defaultHTTPBase = "https://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"
	defaultFormat   = "pcm_16000"

	// maxMessage bounds one server message; a base64 chunk of a long
	// sentence stays well below it.
	maxMessage = 8 << 20
)

// VoiceSettings tune delivery. Zero values take the API defaults.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

var defaultSettings = VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model ID, e.g. "eleven_multilingual_v2".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets a pcm_<rate> output format, e.g. "pcm_24000".
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithLanguage pins the language code for models that accept one.
func WithLanguage(code string) Option {
	return func(p *Provider) { p.language = code }
}

// WithVoiceSettings overrides the stability and similarity defaults.
func WithVoiceSettings(s VoiceSettings) Option {
	return func(p *Provider) { p.settings = s }
}

// WithBaseURLs overrides the WebSocket and HTTP API roots.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// WithHTTPClient sets the client used for the voice listing.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider is a [tts.Provider] for ElevenLabs.
type Provider struct {
	apiKey   string
	model    string
	format   string
	rate     int
	language string
	settings VoiceSettings
	wsBase   string
	httpBase string
	client   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New returns a Provider. The output format must be raw PCM since the
// narrator plays samples directly.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key is required")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		format:   defaultFormat,
		settings: defaultSettings,
		wsBase:   defaultWSBase,
		httpBase: defaultHTTPBase,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := pcmRate(p.format)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	p.rate = rate
	return p, nil
}

// outgoing is a client message on the stream-input socket. An empty Text
// flushes and ends the generation.
type outgoing struct {
	Text          string         `json:"text"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
}

// incoming is a server message. Audio is base64 PCM.
type incoming struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize renders text with voice and returns the whole clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	switch {
	case voice.ID == "":
		return tts.Audio{}, errors.New("elevenlabs: synthesize: voice id is required")
	case strings.TrimSpace(text) == "":
		return tts.Audio{}, errors.New("elevenlabs: synthesize: text is empty")
	}

	hdr := http.Header{}
	hdr.Set("xi-api-key", p.apiKey)
	conn, resp, err := websocket.Dial(ctx, p.streamURL(voice.ID), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return tts.Audio{}, fmt.Errorf("elevenlabs: synthesize: api key rejected (%d)", resp.StatusCode)
		}
		return tts.Audio{}, fmt.Errorf("elevenlabs: synthesize: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessage)

	settings := p.settings
	for _, m := range []outgoing{
		{Text: " ", VoiceSettings: &settings},
		{Text: text + " "},
		{Text: ""},
	} {
		if err := wsjson.Write(ctx, conn, m); err != nil {
			return tts.Audio{}, fmt.Errorf("elevenlabs: synthesize: send: %w", err)
		}
	}

	pcm, err := collect(ctx, conn)
	if err != nil {
		return tts.Audio{}, err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return tts.Audio{Data: pcm, SampleRate: p.rate, Channels: 1}, nil
}

// collect reads audio chunks until the final marker. A normal close after
// some audio also ends the clip.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm bytes.Buffer
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && pcm.Len() > 0 {
				return pcm.Bytes(), nil
			}
			return nil, fmt.Errorf("elevenlabs: synthesize: read: %w", err)
		}
		var msg incoming
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		if msg.Error != "" {
			return nil, fmt.Errorf("elevenlabs: synthesize: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: synthesize: decode chunk: %w", err)
			}
			pcm.Write(chunk)
		}
		if msg.IsFinal {
			break
		}
	}
	if pcm.Len() == 0 {
		return nil, errors.New("elevenlabs: synthesize: empty clip")
	}
	return pcm.Bytes(), nil
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.format)
	if p.language != "" {
		q.Set("language_code", p.language)
	}
	return p.wsBase + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// ListVoices returns the account's voices sorted by name. Labels and the
// category end up in Metadata.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %d", resp.StatusCode)
	}

	var body struct {
		Voices []struct {
			ID       string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}

	out := make([]tts.VoiceProfile, 0, len(body.Voices))
	for _, v := range body.Voices {
		meta := map[string]string{}
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.VoiceProfile{ID: v.ID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	slices.SortFunc(out, func(a, b tts.VoiceProfile) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// pcmRate parses the sample rate out of "pcm_<rate>".
func pcmRate(format string) (int, error) {
	s, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("output format %q is not raw pcm", format)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("output format %q has no usable sample rate", format)
	}
	return n, nil
}
