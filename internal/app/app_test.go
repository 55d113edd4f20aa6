package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/config"
	evalmock "github.com/MrWong99/intervox/internal/evaluate/mock"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/store/sqlite"
	storemock "github.com/MrWong99/intervox/internal/store/mock"
	llmmock "github.com/MrWong99/intervox/pkg/provider/llm/mock"
)

// choiceBank holds only written multiple-choice questions so tests never
// need narration or speech capture.
func choiceBank() *interview.Bank {
	return &interview.Bank{Questions: []interview.Question{
		{ID: "q1", Text: "What is 2 + 2?", Type: interview.TypeArithmetic, Options: []string{"3", "4"}, RightAnswer: "4"},
		{ID: "q2", Text: "What is 3 * 3?", Type: interview.TypeArithmetic, Options: []string{"6", "9"}, RightAnswer: "9"},
	}}
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Interview: config.InterviewConfig{
			QuestionsFile:     "unused.yaml",
			TickInterval:      10 * time.Millisecond,
			NonSpokenDelay:    -1,
			LastQuestionDelay: -1,
			UnblockDelay:      -1,
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	a, err := app.New(context.Background(), testConfig(), &app.Providers{},
		app.WithStore(st),
		app.WithBank(choiceBank()),
		app.WithEvaluator(&evalmock.Evaluator{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Manager() == nil || a.Health() == nil || a.Metrics() == nil {
		t.Fatal("New left a subsystem nil")
	}
	if a.Results() != st {
		t.Error("injected store not used")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if st.Closed() {
		t.Error("injected store must stay open; its owner closes it")
	}
}

func TestNew_InvalidBank(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), nil,
		app.WithStore(&storemock.Store{}),
		app.WithBank(&interview.Bank{}),
	)
	if err == nil {
		t.Fatal("expected error for empty question bank")
	}
}

func TestNew_MissingQuestionsFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Interview.QuestionsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := app.New(context.Background(), cfg, nil, app.WithStore(&storemock.Store{})); err == nil {
		t.Fatal("expected error for missing questions file")
	}
}

func TestNew_SQLiteBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Store = config.StoreConfig{Backend: config.StoreSQLite, Path: filepath.Join(t.TempDir(), "results.db")}
	a, err := app.New(context.Background(), cfg, &app.Providers{LLM: &llmmock.Provider{}}, app.WithBank(choiceBank()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := a.Results().(*sqlite.Store); !ok {
		t.Errorf("Results() = %T, want *sqlite.Store", a.Results())
	}
	if err := a.Results().Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	a, err := app.New(context.Background(), testConfig(), nil,
		app.WithStore(&storemock.Store{}),
		app.WithBank(choiceBank()),
		app.WithLogLevel(level),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	old := testConfig()
	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	a.ApplyConfig(old, next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

func TestServe_DrainsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	st := &storemock.Store{}
	a, err := app.New(context.Background(), testConfig(), nil,
		app.WithStore(st),
		app.WithBank(choiceBank()),
		app.WithListener(ln),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Manager().Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx, mux) }()

	url := "http://" + ln.Addr().String() + "/ping"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, err := a.Manager().Create(); err == nil {
		t.Error("Create after shutdown should fail")
	}
	if _, err := http.Get(url); err == nil {
		t.Error("server still accepting after Serve returned")
	}
	if errors.Is(ctx.Err(), context.Canceled) && len(st.Saves()) != 0 {
		t.Errorf("an interview that never started must not be saved, got %d saves", len(st.Saves()))
	}
}
