package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/vad"
	vadmock "github.com/MrWong99/intervox/pkg/provider/vad/mock"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestStoreBackend_IsValid(t *testing.T) {
	t.Parallel()
	for _, b := range []config.StoreBackend{config.StoreMemory, config.StorePostgres, config.StoreSQLite} {
		if !b.IsValid() {
			t.Errorf("%q should be valid", b)
		}
	}
	if config.StoreBackend("").IsValid() {
		t.Error("empty backend should be invalid")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterVAD("energy", func(e config.ProviderEntry) (vad.Engine, error) {
		got = e
		return &vadmock.Engine{}, nil
	})

	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "energy", Model: "m"}); err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if got.Model != "m" {
		t.Errorf("factory received %+v", got)
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_NamesAndFactoryErrors(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	boom := errors.New("missing api key")
	for _, name := range []string{"whisper", "deepgram"} {
		reg.RegisterSTT(name, func(config.ProviderEntry) (stt.Provider, error) { return nil, boom })
	}

	if got := reg.Names("stt"); len(got) != 2 || got[0] != "deepgram" || got[1] != "whisper" {
		t.Errorf("Names(stt) = %v", got)
	}
	if got := reg.Names("tts"); len(got) != 0 {
		t.Errorf("Names(tts) = %v, want empty", got)
	}
	if got := reg.Names("s2s"); got != nil {
		t.Errorf("Names(s2s) = %v, want nil", got)
	}

	_, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"})
	if !errors.Is(err, boom) || errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: got %v, want wrapped factory error", err)
	}
}
