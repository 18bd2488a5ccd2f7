// Package graph derives a Mermaid knowledge-graph diagram from finished report or
// learnings text. Generation is a single model call outside the research loop;
// the response is always passed through Sanitize before it is returned.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/prompt"
	"deepresearch/internal/types"
)

// Generator turns text into Mermaid source.
type Generator struct {
	provider types.CompletionProvider
	prompts  *prompt.Library
	model    string
	timeout  time.Duration
}

// Option configures a Generator.
type Option func(*Generator)

// WithPrompts overrides the prompt library.
func WithPrompts(lib *prompt.Library) Option {
	return func(g *Generator) { g.prompts = lib }
}

// WithModel sets the model id passed to the provider.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// WithTimeout bounds the completion call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// NewGenerator creates a Generator backed by provider.
func NewGenerator(provider types.CompletionProvider, opts ...Option) *Generator {
	g := &Generator{
		provider: provider,
		prompts:  prompt.Default(),
		timeout:  2 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns sanitized Mermaid source (without a code fence) for text.
func (g *Generator) Generate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("knowledge graph: empty input text")
	}

	timer := logging.StartTimer(logging.CategoryReport, "graph.Generate")
	defer timer.Stop()

	userPrompt, err := g.prompts.KnowledgeGraph(text)
	if err != nil {
		return "", err
	}
	system, err := g.prompts.System(time.Now())
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	raw, err := g.provider.Complete(callCtx, types.CompletionRequest{
		System: system,
		Prompt: userPrompt,
		Model:  g.model,
	})
	if err != nil {
		logging.ReportError("knowledge graph generation failed: %v", err)
		return "", types.NewProviderError("completion", "knowledge-graph", err)
	}

	diagram := Sanitize(raw)
	if !strings.Contains(diagram, "\n") {
		return "", fmt.Errorf("knowledge graph: response contained no diagram")
	}
	logging.ReportDebug("knowledge graph generated (%d bytes)", len(diagram))
	return diagram, nil
}
