package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "browser"},
	"tts": {"elevenlabs", "coqui"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// against the process environment, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		errs = append(errs, validateFallback("llm", i, fb)...)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		errs = append(errs, validateFallback("stt", i, fb)...)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		errs = append(errs, validateFallback("tts", i, fb)...)
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; free-form answers will receive the fallback score")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; interviews need a candidate browser with speech recognition")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; spoken questions will not be narrated")
	}

	iv := cfg.Interview
	if iv.QuestionsFile == "" {
		errs = append(errs, errors.New("interview.questions_file is required"))
	}
	if iv.MaxViolations < 0 {
		errs = append(errs, fmt.Errorf("interview.max_violations %d must not be negative", iv.MaxViolations))
	}
	if iv.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("interview.tick_interval %s must not be negative", iv.TickInterval))
	}
	if iv.RecordingStopTimeout < 0 || iv.ReportTimeout < 0 {
		errs = append(errs, errors.New("interview timeouts must not be negative"))
	}

	cp := cfg.Capture
	if cp.SpeechThreshold < 0 || cp.SpeechThreshold > 100 {
		errs = append(errs, fmt.Errorf("capture.speech_threshold %.1f is out of range [0, 100]", cp.SpeechThreshold))
	}
	if cp.MinTranscriptChars < 0 {
		errs = append(errs, fmt.Errorf("capture.min_transcript_chars %d must not be negative", cp.MinTranscriptChars))
	}
	if cp.Debounce < 0 || cp.MaxListen < 0 || cp.Silence < 0 || cp.SampleInterval < 0 {
		errs = append(errs, errors.New("capture durations must not be negative"))
	}

	if cfg.Narration.FallbackDelay < 0 || cfg.Narration.SynthesisTimeout < 0 {
		errs = append(errs, errors.New("narration durations must not be negative"))
	}

	if t := cfg.Evaluation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("evaluation.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Evaluation.Timeout < 0 {
		errs = append(errs, fmt.Errorf("evaluation.timeout %s must not be negative", cfg.Evaluation.Timeout))
	}

	switch st := cfg.Store; {
	case !st.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, sqlite", st.Backend))
	case st.Backend == StorePostgres && st.DSN == "":
		errs = append(errs, errors.New("store.dsn is required when backend is postgres"))
	case st.Backend == StoreSQLite && st.Path == "":
		errs = append(errs, errors.New("store.path is required when backend is sqlite"))
	}

	if base := cfg.Behavior.BaseURL; base != "" {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("behavior.base_url %q must be an absolute http(s) URL", base))
		}
	}

	return errors.Join(errs...)
}

func validateFallback(kind string, i int, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i)}
	}
	validateProviderName(kind, e.Name)
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
