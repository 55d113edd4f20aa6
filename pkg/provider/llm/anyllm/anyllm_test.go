package anyllm

import (
	"strings"
	"testing"

	"github.com/MrWong99/intervox/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("openai", ""); err == nil {
		t.Error("empty model: expected error")
	}
	_, err := New("watson", "m")
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Errorf("unknown backend: err = %v", err)
	}
	if !strings.Contains(err.Error(), "llamafile") {
		t.Errorf("error should list supported backends: %v", err)
	}
}

func TestSupported_Sorted(t *testing.T) {
	t.Parallel()
	got := Supported()
	if len(got) != 9 || got[0] != "anthropic" || got[len(got)-1] != "openai" {
		t.Errorf("Supported() = %v", got)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	params := buildParams("claude-3-5-haiku-latest", llm.CompletionRequest{
		SystemPrompt: "grade",
		Messages:     []llm.Message{{Role: "user", Content: "answer"}},
		Temperature:  0.3,
		MaxTokens:    150,
		JSON:         true,
	})

	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != "system" || params.Messages[0].ContentString() != "grade" {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[1].Role != "user" || params.Messages[1].ContentString() != "answer" {
		t.Errorf("user message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Error("temperature not set")
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Error("max tokens not set")
	}

	empty := buildParams("m", llm.CompletionRequest{})
	if empty.Temperature != nil || empty.MaxTokens != nil || len(empty.Messages) != 0 {
		t.Errorf("zero request should leave options unset: %+v", empty)
	}
}
