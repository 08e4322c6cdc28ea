// Package generation is the pluggable text generator (C5): chat/completion
// models used for document summarization and for answering retrieval
// queries against retrieved facts.
package generation

import "context"

// Request is a single-turn generation request: a system prompt plus a
// user prompt built from retrieved facts.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
}

// TextGenerator produces text completions, with an optional streaming
// variant for interactive callers.
type TextGenerator interface {
	// Generate returns the full completion text.
	Generate(ctx context.Context, req Request) (string, error)

	// GenerateStream invokes onToken for each incremental chunk of the
	// completion as it arrives, returning the full text once done.
	GenerateStream(ctx context.Context, req Request, onToken func(chunk string)) (string, error)

	// MaxInputTokens bounds how much prompt text the model accepts. The
	// retrieval engine does not read it; its prompt budget comes from
	// retrieval.Config.PromptTokenBudget.
	MaxInputTokens() int
}
