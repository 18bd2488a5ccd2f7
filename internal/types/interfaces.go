package types

import (
	"context"
)

// CompletionProvider wraps an LLM call, optionally constrained to a JSON schema.
// Implementations return *ProviderError on network, auth or vendor failures.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// SearchProvider is a web search backend. An empty slice is a valid result.
// Implementations return *ProviderError on failure.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int, scope string) ([]SearchResult, error)
}

// KnowledgeBaseProvider is the local-resource variant of SearchProvider.
type KnowledgeBaseProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]KnowledgeChunk, error)
}

// CompletionFunc adapts a plain function to CompletionProvider.
type CompletionFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete calls f.
func (f CompletionFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}
