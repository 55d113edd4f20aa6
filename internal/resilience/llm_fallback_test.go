package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/intervox/pkg/provider/llm"
	llmmock "github.com/MrWong99/intervox/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ModelName: "gpt-4o-mini", CompleteErr: errTest}
	secondary := &llmmock.Provider{ModelName: "claude", CompleteResponse: &llm.CompletionResponse{Content: `{"score":7}`}}

	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("anthropic", secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "grade"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"score":7}` {
		t.Fatalf("content = %q", resp.Content)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Fatalf("calls = %d/%d", primary.CallCount(), secondary.CallCount())
	}
	if f.Model() != "gpt-4o-mini" {
		t.Fatalf("Model = %q", f.Model())
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()
	f := NewLLMFallback(&llmmock.Provider{CompleteErr: errTest}, "openai", FallbackConfig{})
	if _, err := f.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v", err)
	}
}
