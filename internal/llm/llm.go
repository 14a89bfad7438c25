// Package llm provides text completion backends used by field extraction:
// any OpenAI-compatible endpoint (OpenAI itself or a local LM Studio /
// llama.cpp server) and the Anthropic Messages API.
package llm

import "context"

// Request is a single-turn completion request.
type Request struct {
	System      string
	User        string
	JSON        bool // ask the backend for a JSON object, where supported
	MaxTokens   int
	Temperature float32
}

// Completer turns a request into model text. Errors are classified with
// gateway.Transient / gateway.Permanent where the backend can tell.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}
