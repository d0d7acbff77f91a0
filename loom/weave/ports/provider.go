package weaveports

import "context"

// Completer is the abstraction over the chat-completion backend.
// Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, msgs []RequestMessage, maxTokens int, params SamplingParams) (string, error)
}

// TokenCounter converts text into the provider's token count.
type TokenCounter interface {
	CountTokens(text string) int
}

// TokenCounterFunc adapts a plain function to TokenCounter.
type TokenCounterFunc func(text string) int

func (f TokenCounterFunc) CountTokens(text string) int { return f(text) }
