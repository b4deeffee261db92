package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// TokenHandler receives incremental text as a streamed generation produces it
type TokenHandler func(delta string)

// GenerateRequest is a provider-agnostic text generation request
type GenerateRequest struct {
	Messages          []Message
	Model             string
	SystemInstruction string
	Temperature       float32
	MaxTokens         int
}

// GenerateResult is the final outcome of a generation, streamed or not
type GenerateResult struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// LLMService generates text for a list of role-tagged messages, either as one
// blocking result or as a token stream with a final token tally. Cloud
// providers (Claude, Gemini) implement this; tests substitute fakes.
type LLMService interface {
	// Generate produces a completion in one blocking call
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// GenerateStream produces a completion while invoking onToken for each
	// incremental chunk. The returned result carries the full text and the
	// prompt/completion token counts.
	GenerateStream(ctx context.Context, req *GenerateRequest, onToken TokenHandler) (*GenerateResult, error)

	// Close releases provider resources
	Close() error
}
