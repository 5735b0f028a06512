package llm

import "context"

// CompletionRequest is a single text-generation call.
type CompletionRequest struct {
	System      string  // system prompt; DefaultSystemPrompt when empty
	Prompt      string  // user prompt
	Temperature float64 // 0 uses the provider default
	MaxTokens   int     // 0 uses the provider default
}

// Client defines the interface for completion providers.
type Client interface {
	// Complete returns the generated text for the request.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
