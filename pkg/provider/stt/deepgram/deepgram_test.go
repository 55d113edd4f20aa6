package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/intervox/pkg/provider/stt"
)

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"model":           "nova-3",
		"language":        "en",
		"encoding":        "linear16",
		"interim_results": "true",
		"sample_rate":     "16000",
		"channels":        "1",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestBuildURL_OverridesAndKeywords(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithModel("base"), WithLanguage("en"))
	raw, err := p.buildURL(stt.StreamConfig{
		Language: "de-DE",
		Keywords: []stt.KeywordBoost{{Keyword: "Kubernetes", Boost: 5}, {Keyword: "gRPC", Boost: 2.5}},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("model") != "base" {
		t.Errorf("model = %q, want base", q.Get("model"))
	}
	if q.Get("language") != "de-DE" {
		t.Errorf("language = %q, want de-DE", q.Get("language"))
	}
	if q.Get("sample_rate") != "16000" {
		t.Errorf("sample_rate = %q, want default 16000", q.Get("sample_rate"))
	}
	kws := q["keywords"]
	if len(kws) != 2 || kws[0] != "Kubernetes:5" || kws[1] != "gRPC:2.5" {
		t.Errorf("keywords = %v", kws)
	}
}

func TestToTranscript(t *testing.T) {
	t.Parallel()

	var resp response
	raw := `{"type":"Results","is_final":true,"start":1.5,"channel":{"alternatives":[{"transcript":"I led the migration","confidence":0.9,"words":[{"word":"I","start":1.5,"end":1.75,"confidence":0.99}]}]}}`
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	tr, ok := toTranscript(resp)
	if !ok {
		t.Fatal("expected ok")
	}
	if !tr.IsFinal || tr.Text != "I led the migration" || tr.Timestamp != 1500*time.Millisecond {
		t.Errorf("unexpected transcript %+v", tr)
	}
	if len(tr.Words) != 1 || tr.Words[0].End != 1750*time.Millisecond {
		t.Errorf("words = %+v", tr.Words)
	}

	resp.Type = "Metadata"
	if _, ok := toTranscript(resp); ok {
		t.Error("Metadata message should be ignored")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestStartStream_RoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"I led","confidence":0.5}]}}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"I led the team","confidence":0.9}]}}`))
		// Drop the connection without a close handshake.
		_ = c.CloseNow()
	}))
	defer srv.Close()

	p, _ := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	if err := h.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case p := <-h.Partials():
		if p.Text != "I led" {
			t.Errorf("partial = %q", p.Text)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for partial")
	}
	select {
	case f := <-h.Finals():
		if f.Text != "I led the team" {
			t.Errorf("final = %q", f.Text)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for final")
	}
	select {
	case err := <-h.Errors():
		if !errors.Is(err, stt.ErrNetwork) {
			t.Errorf("error = %v, want ErrNetwork", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for network error")
	}
}

func TestStartStream_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, stt.ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
}

func TestBuildURL_Nova3KeyTerms(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	raw, err := p.buildURL(stt.StreamConfig{
		Keywords: []stt.KeywordBoost{{Keyword: "Kubernetes", Boost: 5}, {Keyword: "PostgreSQL"}},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if got := q["keyterm"]; len(got) != 2 || got[0] != "Kubernetes" || got[1] != "PostgreSQL" {
		t.Errorf("keyterm = %v", got)
	}
	if got := q["keywords"]; len(got) != 0 {
		t.Errorf("keywords = %v, want none for nova-3", got)
	}
	if q.Get("vad_events") != "true" {
		t.Errorf("vad_events = %q, want true", q.Get("vad_events"))
	}
}

func TestBuildURL_ZeroBoostDefaultsToOne(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithModel("enhanced"))
	raw, _ := p.buildURL(stt.StreamConfig{Keywords: []stt.KeywordBoost{{Keyword: "Redis"}}})
	u, _ := url.Parse(raw)
	if got := u.Query()["keywords"]; len(got) != 1 || got[0] != "Redis:1" {
		t.Errorf("keywords = %v, want [Redis:1]", got)
	}
}

// quietServer accepts the stream, optionally sends msg, then holds the
// connection open until the client goes away.
func quietServer(t *testing.T, msg string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		if msg != "" {
			_ = c.Write(ctx, websocket.MessageText, []byte(msg))
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
}

func TestStartStream_NoSpeechTimeout(t *testing.T) {
	t.Parallel()

	srv := quietServer(t, "")
	defer srv.Close()

	p, _ := New("key",
		WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")),
		WithNoSpeechTimeout(50*time.Millisecond),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	select {
	case err := <-h.Errors():
		if !errors.Is(err, stt.ErrNoSpeech) {
			t.Errorf("error = %v, want ErrNoSpeech", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for ErrNoSpeech")
	}
}

func TestStartStream_SpeechStartedCancelsTimeout(t *testing.T) {
	t.Parallel()

	srv := quietServer(t, `{"type":"SpeechStarted","timestamp":0.2}`)
	defer srv.Close()

	p, _ := New("key",
		WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")),
		WithNoSpeechTimeout(100*time.Millisecond),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	select {
	case err := <-h.Errors():
		t.Fatalf("unexpected error after speech started: %v", err)
	case <-time.After(400 * time.Millisecond):
	}
}
