package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/intervox/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
		Interview: config.InterviewConfig{QuestionsFile: "q.yaml"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no hot-reloadable change, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart sections, got %v", d.RestartRequired)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, func(d config.ConfigDiff) bool {
			return d.LogLevelChanged && d.NewLogLevel == config.LogDebug
		}},
		{"interview", func(c *config.Config) { c.Interview.NonSpokenDelay = 2 * time.Second }, func(d config.ConfigDiff) bool {
			return d.InterviewChanged
		}},
		{"capture", func(c *config.Config) { c.Capture.Debounce = time.Second }, func(d config.ConfigDiff) bool {
			return d.CaptureChanged
		}},
		{"narration", func(c *config.Config) { c.Narration.VoiceID = "adam" }, func(d config.ConfigDiff) bool {
			return d.NarrationChanged
		}},
		{"evaluation", func(c *config.Config) { c.Evaluation.Temperature = 0.7 }, func(d config.ConfigDiff) bool {
			return d.EvaluationChanged
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !tt.check(d) || !d.Changed() {
				t.Errorf("change not detected: %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("hot-reloadable change flagged for restart: %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	next := baseConfig()
	next.Server.ListenAddr = ":9999"
	next.Providers.LLM.Model = "gpt-4o"
	next.Store.Backend = config.StoreSQLite
	next.Behavior.BaseURL = "https://b.example.com"

	d := config.Diff(baseConfig(), next)
	if d.Changed() {
		t.Errorf("no hot-reloadable change expected, got %+v", d)
	}
	want := []string{"server", "providers", "store", "behavior"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
}
