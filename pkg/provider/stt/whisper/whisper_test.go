package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/stt/whisper"
)

// inferenceServer answers POST /inference with text and records the form
// fields of every upload.
type inferenceServer struct {
	*httptest.Server
	mu     sync.Mutex
	forms  []map[string]string
	status int
}

func newInferenceServer(t *testing.T, text string) *inferenceServer {
	t.Helper()
	s := &inferenceServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		fields := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file: %v", err)
		}
		s.mu.Lock()
		s.forms = append(s.forms, fields)
		status := s.status
		s.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " " + text + " "})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *inferenceServer) uploads() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.forms...)
}

// tone returns d of a loud 440 Hz tone at 16 kHz mono.
func tone(d time.Duration) []byte {
	n := int(d.Seconds() * 16000)
	buf := make([]byte, 2*n)
	for i := range n {
		v := int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return buf
}

func silence(d time.Duration) []byte {
	return make([]byte, 2*int(d.Seconds()*16000))
}

func start(t *testing.T, p *whisper.Provider, cfg stt.StreamConfig) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestSession_UtteranceAfterPause(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "I would shard by tenant")
	p, _ := whisper.New(srv.URL, whisper.WithSilence(100*time.Millisecond))
	h := start(t, p, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en-US",
		Keywords:   []stt.KeywordBoost{{Keyword: "Kubernetes"}, {Keyword: "PostgreSQL"}},
	})

	_ = h.SendAudio(silence(200 * time.Millisecond))
	_ = h.SendAudio(tone(300 * time.Millisecond))
	_ = h.SendAudio(silence(150 * time.Millisecond))

	select {
	case tr := <-h.Finals():
		if tr.Text != "I would shard by tenant" || !tr.IsFinal {
			t.Errorf("final = %+v", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no final transcript")
	}
	select {
	case tr := <-h.Partials():
		if tr.IsFinal {
			t.Error("partial marked final")
		}
	default:
		t.Error("no partial emitted")
	}

	up := srv.uploads()
	if len(up) != 1 {
		t.Fatalf("uploads = %d, want 1", len(up))
	}
	if up[0]["language"] != "en" || up[0]["prompt"] != "Kubernetes, PostgreSQL" {
		t.Errorf("form = %v", up[0])
	}
}

func TestSession_SilenceOnlyNeverUploads(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "unused")
	p, _ := whisper.New(srv.URL, whisper.WithNoSpeechTimeout(0))
	h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1})

	_ = h.SendAudio(silence(time.Second))
	_ = h.Close()

	if n := len(srv.uploads()); n != 0 {
		t.Fatalf("uploads = %d, want 0", n)
	}
	if _, ok := <-h.Finals(); ok {
		t.Error("finals not closed")
	}
}

func TestSession_CloseFlushesPendingSpeech(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "partial thought")
	p, _ := whisper.New(srv.URL, whisper.WithSilence(time.Hour))
	h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1})

	_ = h.SendAudio(tone(200 * time.Millisecond))
	// Give the session goroutine time to buffer the chunk.
	time.Sleep(50 * time.Millisecond)
	_ = h.Close()

	tr, ok := <-h.Finals()
	if !ok || tr.Text != "partial thought" {
		t.Fatalf("final = %+v, ok = %v", tr, ok)
	}
	if err := h.SendAudio(tone(10 * time.Millisecond)); err == nil {
		t.Error("SendAudio after Close should fail")
	}
}

func TestSession_NoSpeechTimeout(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "unused")
	p, _ := whisper.New(srv.URL, whisper.WithNoSpeechTimeout(50*time.Millisecond))
	h := start(t, p, stt.StreamConfig{})

	select {
	case err := <-h.Errors():
		if !errors.Is(err, stt.ErrNoSpeech) {
			t.Fatalf("err = %v, want ErrNoSpeech", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestSession_ServerErrorIsNetwork(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "unused")
	srv.status = http.StatusInternalServerError
	p, _ := whisper.New(srv.URL, whisper.WithSilence(50*time.Millisecond), whisper.WithNoSpeechTimeout(0))
	h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1})

	_ = h.SendAudio(tone(100 * time.Millisecond))
	_ = h.SendAudio(silence(100 * time.Millisecond))

	select {
	case err := <-h.Errors():
		if !errors.Is(err, stt.ErrNetwork) {
			t.Fatalf("err = %v, want ErrNetwork", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}
