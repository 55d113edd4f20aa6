// Package config provides the configuration schema, loader, and provider registry
// for the intervox interview server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreBackend selects where completed interviews are persisted.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreSQLite   StoreBackend = "sqlite"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Interview  InterviewConfig  `yaml:"interview"`
	Capture    CaptureConfig    `yaml:"capture"`
	Narration  NarrationConfig  `yaml:"narration"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Store      StoreConfig      `yaml:"store"`
	Behavior   BehaviorConfig   `yaml:"behavior"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins are host patterns accepted on the candidate media
	// websocket in addition to the request's own host.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each entry selects a named provider registered in the [Registry].
// Fallback entries are tried in order when the primary fails.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`

	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// InterviewConfig tunes the interview state machine. Zero durations take the
// machine defaults; negative delays disable the corresponding pause.
type InterviewConfig struct {
	// QuestionsFile is the YAML question bank. Required.
	QuestionsFile string `yaml:"questions_file"`

	// RequireVideo adds the camera check to the start preconditions.
	RequireVideo bool `yaml:"require_video"`

	// Record enables the background FLAC recording of the candidate's audio.
	Record bool `yaml:"record"`

	TickInterval         time.Duration `yaml:"tick_interval"`
	NonSpokenDelay       time.Duration `yaml:"non_spoken_delay"`
	LastQuestionDelay    time.Duration `yaml:"last_question_delay"`
	UnblockDelay         time.Duration `yaml:"unblock_delay"`
	RecordingStopTimeout time.Duration `yaml:"recording_stop_timeout"`
	ReportTimeout        time.Duration `yaml:"report_timeout"`

	// MaxViolations is the proctoring limit that force-completes an interview. Default: 3.
	MaxViolations int `yaml:"max_violations"`

	TimeoutFeedback  string `yaml:"timeout_feedback"`
	FallbackFeedback string `yaml:"fallback_feedback"`
}

// CaptureConfig tunes voice activity detection and speech capture.
type CaptureConfig struct {
	// Language is passed to the recognizer, e.g. "en-US".
	Language string `yaml:"language"`

	Debounce           time.Duration `yaml:"debounce"`
	MaxListen          time.Duration `yaml:"max_listen"`
	MinTranscriptChars int           `yaml:"min_transcript_chars"`

	// SpeechThreshold is the activity level (0 to 100) counted as speech.
	SpeechThreshold float64       `yaml:"speech_threshold"`
	Silence         time.Duration `yaml:"silence"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
}

// NarrationConfig configures spoken questions and feedback.
type NarrationConfig struct {
	VoiceID          string        `yaml:"voice_id"`
	FallbackDelay    time.Duration `yaml:"fallback_delay"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`
}

// EvaluationConfig configures the LLM answer evaluator.
type EvaluationConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// StoreConfig selects and configures result persistence.
type StoreConfig struct {
	// Backend is memory, postgres, or sqlite. Default: memory.
	Backend StoreBackend `yaml:"backend"`

	// DSN is the PostgreSQL connection string for the postgres backend.
	DSN string `yaml:"dsn"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
}

// BehaviorConfig points at the behavioral analysis service. An empty BaseURL
// disables report fetching.
type BehaviorConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ApplyDefaults fills in unset values that have no sensible zero value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Interview.MaxViolations == 0 {
		cfg.Interview.MaxViolations = 3
	}
}
