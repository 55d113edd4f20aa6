package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/intervox/pkg/provider/stt"
	sttmock "github.com/MrWong99/intervox/pkg/provider/stt/mock"
)

func TestSTTFallback_StartStream_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: stt.ErrNetwork}
	secondary := &sttmock.Provider{}

	f := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	f.AddFallback("browser", secondary)

	h, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if h == nil || secondary.StartCount() != 1 {
		t.Fatalf("secondary starts = %d", secondary.StartCount())
	}
	if got := secondary.StartStreamCalls[0].Cfg.Language; got != "en-US" {
		t.Fatalf("language = %q", got)
	}
}

func TestSTTFallback_NotAllowedIsPermanent(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: stt.ErrNotAllowed}
	secondary := &sttmock.Provider{}

	f := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	f.AddFallback("browser", secondary)

	_, err := f.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, stt.ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
	if secondary.StartCount() != 0 {
		t.Fatal("secondary should not be tried after a permission denial")
	}
}
