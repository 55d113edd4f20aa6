// Command intervox serves AI-conducted candidate interviews over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/intervox/internal/api"
	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/resilience"
	"github.com/MrWong99/intervox/pkg/provider/llm"
	"github.com/MrWong99/intervox/pkg/provider/llm/anyllm"
	"github.com/MrWong99/intervox/pkg/provider/llm/openai"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/stt/deepgram"
	"github.com/MrWong99/intervox/pkg/provider/stt/whisper"
	"github.com/MrWong99/intervox/pkg/provider/tts"
	"github.com/MrWong99/intervox/pkg/provider/tts/coqui"
	"github.com/MrWong99/intervox/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/intervox/pkg/provider/vad"
	"github.com/MrWong99/intervox/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config is expanded")
	logLevel := flag.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	flag.Parse()

	// Secrets referenced as ${VAR} in the config may come from a dotenv file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "intervox: load %s: %v\n", *envFile, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "intervox: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "intervox: %v\n", err)
		}
		return 1
	}
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "intervox: invalid -log-level %q\n", *logLevel)
			return 1
		}
		cfg.Server.LogLevel = lvl
	}

	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("intervox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	handler := api.New(application.Manager(), application.Results(),
		api.WithHealth(application.Health()),
		api.WithMetrics(metrics),
		api.WithMetricsHandler(observe.MetricsHandler()),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Serve(ctx, handler)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("serve error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	code := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		code = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("SIGHUP reload failed, keeping previous config", "err", err)
				continue
			}
			slog.Info("SIGHUP reload", "changed", changed)
		}
	}
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted backends share one shape: optional key and base URL.
	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server addressed by BaseURL.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "no_speech_timeout"); d > 0 {
			opts = append(opts, deepgram.WithNoSpeechTimeout(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "silence"); d > 0 {
			opts = append(opts, whisper.WithSilence(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, elevenlabs.WithLanguage(lang))
		}
		if stability, ok := optFloat(entry.Options, "stability"); ok {
			similarity, _ := optFloat(entry.Options, "similarity_boost")
			opts = append(opts, elevenlabs.WithVoiceSettings(elevenlabs.VoiceSettings{
				Stability:       stability,
				SimilarityBoost: similarity,
			}))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for _, kind := range []string{"llm", "stt", "tts", "vad"} {
		slog.Debug("providers registered", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg. Configured
// fallbacks are chained behind the primary with per-backend circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	observeKind := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			Observe: func(provider string, err error) {
				metrics.RecordProviderCall(context.Background(), provider, kind, err)
			},
		}
	}

	if pc.LLM.Name != "" {
		primary, err := create(reg.CreateLLM, "llm", pc.LLM)
		if err != nil {
			return nil, err
		}
		if primary != nil && len(pc.LLMFallbacks) > 0 {
			fb := resilience.NewLLMFallback(primary, pc.LLM.Name, observeKind("llm"))
			for _, entry := range pc.LLMFallbacks {
				p, err := create(reg.CreateLLM, "llm", entry)
				if err != nil {
					return nil, err
				}
				if p != nil {
					fb.AddFallback(entry.Name, p)
				}
			}
			primary = fb
		}
		ps.LLM = primary
	}

	// "browser" relays recognition from the candidate's browser; there is no
	// server-side engine to build.
	if pc.STT.Name != "" && pc.STT.Name != "browser" {
		primary, err := create(reg.CreateSTT, "stt", pc.STT)
		if err != nil {
			return nil, err
		}
		if primary != nil && len(pc.STTFallbacks) > 0 {
			fb := resilience.NewSTTFallback(primary, pc.STT.Name, observeKind("stt"))
			for _, entry := range pc.STTFallbacks {
				p, err := create(reg.CreateSTT, "stt", entry)
				if err != nil {
					return nil, err
				}
				if p != nil {
					fb.AddFallback(entry.Name, p)
				}
			}
			primary = fb
		}
		ps.STT = primary
	}

	if pc.TTS.Name != "" {
		primary, err := create(reg.CreateTTS, "tts", pc.TTS)
		if err != nil {
			return nil, err
		}
		if primary != nil && len(pc.TTSFallbacks) > 0 {
			fb := resilience.NewTTSFallback(primary, pc.TTS.Name, observeKind("tts"))
			for _, entry := range pc.TTSFallbacks {
				p, err := create(reg.CreateTTS, "tts", entry)
				if err != nil {
					return nil, err
				}
				if p != nil {
					fb.AddFallback(entry.Name, p)
				}
			}
			primary = fb
		}
		ps.TTS = primary
	}

	if pc.VAD.Name != "" {
		p, err := create(reg.CreateVAD, "vad", pc.VAD)
		if err != nil {
			return nil, err
		}
		ps.VAD = p
	}
	return ps, nil
}

// create builds one provider. An unregistered name is logged and yields the
// zero value so the server can run without that capability.
func create[T any](build func(config.ProviderEntry) (T, error), kind string, entry config.ProviderEntry) (T, error) {
	var zero T
	p, err := build(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         intervox startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	fmt.Printf("║  Store           : %-19s ║\n", cfg.Store.Backend)
	fmt.Printf("║  Questions       : %-19s ║\n", truncate(cfg.Interview.QuestionsFile))
	fmt.Printf("║  Max violations  : %-19d ║\n", cfg.Interview.MaxViolations)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if r := []rune(s); len(r) > 19 {
		return string(r[:18]) + "…"
	}
	return s
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "30s" from a provider Options
// map. Invalid or missing values yield zero.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

// optFloat reads a number from a provider Options map. YAML decodes whole
// numbers as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
