// Package llm defines the Provider interface for Large Language Model backends.
//
// Answer evaluation only needs a single blocking completion per answer, so the
// interface is deliberately small: a prompt goes in, text comes out. Streaming
// and tool calling are left to the backend SDKs.
package llm

import "context"

// Message is a single message in a conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is the input to Complete.
type CompletionRequest struct {
	// SystemPrompt, if set, is sent as the first system message.
	SystemPrompt string

	// Messages is the conversation, oldest first.
	Messages []Message

	// Temperature controls randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int

	// JSON asks for a single JSON object as the reply. Backends without a
	// JSON response mode rely on the prompt alone.
	JSON bool
}

// CompletionResponse is the output of Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage

	// Truncated reports that the reply stopped at the token limit.
	Truncated bool
}

// Provider is the abstraction over any LLM backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Complete runs a single completion and returns the assistant text.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier the provider was configured with.
	Model() string
}
