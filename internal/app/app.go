// Package app wires the intervox subsystems into a running server.
//
// New builds the shared collaborators from the config (question bank, result
// store, evaluator, behavioral report client) and the interview [Manager].
// Serve runs the HTTP server until the context ends, then drains running
// interviews; Shutdown releases the remaining resources.
//
// For testing, inject doubles via functional options (WithStore,
// WithEvaluator, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/intervox/internal/behavior"
	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/health"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/narrate"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/store"
	"github.com/MrWong99/intervox/internal/store/postgres"
	"github.com/MrWong99/intervox/internal/store/sqlite"
	"github.com/MrWong99/intervox/pkg/provider/llm"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/tts"
	"github.com/MrWong99/intervox/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	bank      *interview.Bank
	results   store.Store
	evaluator evaluate.Evaluator
	reporter  interview.Reporter
	metrics   *observe.Metrics
	level     *slog.LevelVar
	manager   *Manager
	health    *health.Handler

	// listener overrides ListenAddr; used by tests.
	listener net.Listener

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a result store instead of opening the configured backend.
func WithStore(s store.Store) Option { return func(a *App) { a.results = s } }

// WithEvaluator injects an answer evaluator instead of the LLM-backed one.
func WithEvaluator(e evaluate.Evaluator) Option { return func(a *App) { a.evaluator = e } }

// WithReporter injects the behavioral report source.
func WithReporter(r interview.Reporter) Option { return func(a *App) { a.reporter = r } }

// WithBank injects the question bank instead of loading interview.questions_file.
func WithBank(b *interview.Bank) Option { return func(a *App) { a.bank = b } }

func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithLogLevel lets config reloads adjust the level of the default logger.
func WithLogLevel(l *slog.LevelVar) Option { return func(a *App) { a.level = l } }

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option { return func(a *App) { a.listener = ln } }

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initBank(); err != nil {
		return nil, fmt.Errorf("app: init question bank: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initReporter(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init behavior client: %w", err)
	}
	a.initEvaluator()

	a.manager = NewManager(cfg, a.bank, Deps{
		Providers: providers,
		Evaluator: a.evaluator,
		Reporter:  a.reporter,
		Store:     a.results,
		Cache:     narrate.NewMemoryCache(),
		Metrics:   a.metrics,
	})
	a.health = health.New(health.PingChecker("store", a.results))
	return a, nil
}

func (a *App) initBank() error {
	if a.bank != nil {
		return a.bank.Validate()
	}
	bank, err := interview.LoadBank(a.cfg.Interview.QuestionsFile)
	if err != nil {
		return err
	}
	a.bank = bank
	slog.Info("question bank loaded", "path", a.cfg.Interview.QuestionsFile, "questions", len(bank.Questions))
	return nil
}

// initStore opens the configured result backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.results != nil {
		return nil
	}
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StorePostgres:
		s, err := postgres.New(ctx, sc.DSN)
		if err != nil {
			return err
		}
		a.results = s
	case config.StoreSQLite:
		s, err := sqlite.New(sc.Path)
		if err != nil {
			return err
		}
		a.results = s
	default:
		slog.Warn("using in-memory result store; results are lost on restart")
		a.results = store.NewMemory()
	}
	a.closers = append(a.closers, a.results.Close)
	slog.Info("result store ready", "backend", sc.Backend)
	return nil
}

func (a *App) initReporter() error {
	if a.reporter != nil || a.cfg.Behavior.BaseURL == "" {
		return nil
	}
	var opts []behavior.Option
	if a.cfg.Behavior.APIKey != "" {
		opts = append(opts, behavior.WithAPIKey(a.cfg.Behavior.APIKey))
	}
	c, err := behavior.New(a.cfg.Behavior.BaseURL, opts...)
	if err != nil {
		return err
	}
	a.reporter = c
	return nil
}

func (a *App) initEvaluator() {
	if a.evaluator != nil {
		return
	}
	if a.providers.LLM == nil {
		slog.Warn("no LLM provider; free-form answers get the fallback score")
		return
	}
	ec := a.cfg.Evaluation
	opts := []evaluate.LLMOption{evaluate.WithMetrics(a.metrics)}
	if ec.Timeout > 0 {
		opts = append(opts, evaluate.WithTimeout(ec.Timeout))
	}
	if ec.Temperature > 0 {
		opts = append(opts, evaluate.WithTemperature(ec.Temperature))
	}
	a.evaluator = evaluate.NewLLM(a.providers.LLM, opts...)
}

// Manager returns the interview manager.
func (a *App) Manager() *Manager { return a.manager }

// Results returns the result store.
func (a *App) Results() store.Store { return a.results }

// Health returns the probe handler.
func (a *App) Health() *health.Handler { return a.health }

// Metrics returns the instruments shared by all subsystems.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ApplyConfig is the config watcher callback. Tunables apply to interviews
// created afterwards; running interviews keep the values they started with.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.Changed() {
		a.manager.SetConfig(next)
		slog.Info("interview settings reloaded",
			"interview", d.InterviewChanged,
			"capture", d.CaptureChanged,
			"narration", d.NarrationChanged,
			"evaluation", d.EvaluationChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// Serve runs an HTTP server for handler until ctx is cancelled. It then
// marks the server as draining, stops accepting requests and ends every
// running interview so their results are saved.
func (a *App) Serve(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", srv.Addr); err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	if t := a.cfg.Server.TLS; t != nil {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("app: load tls certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		endErr := a.manager.EndAll(sctx, "server shutting down")
		if endErr != nil {
			slog.Warn("interviews ended with errors", "err", endErr)
		}
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown releases all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) close() {
	_ = a.Shutdown(context.Background())
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
