// Package types provides shared type definitions used across deepresearch packages.
// This package exists to break import cycles between the orchestrator, the provider
// adapters and the report packages. Types here are foundational data structures with
// no complex dependencies.
package types

import (
	"strings"
)

// =============================================================================
// SEARCH RESULT TYPES
// =============================================================================

// SearchResult represents a single web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	// Content holds page text when the backend (or a crawler) fetched the page.
	Content string        `json:"content,omitempty"`
	Images  []ImageResult `json:"images,omitempty"`
}

// ImageResult is an image harvested alongside a search hit.
type ImageResult struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Text returns the richest text available for extraction.
func (r SearchResult) Text() string {
	if strings.TrimSpace(r.Content) != "" {
		return r.Content
	}
	return r.Snippet
}

// KnowledgeChunk is a local knowledge base hit.
type KnowledgeChunk struct {
	Content  string  `json:"content"`
	SourceID string  `json:"sourceId"`
	Title    string  `json:"title,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// KnowledgeURLScheme prefixes knowledge base source ids so they can share the
// session source list with web URLs.
const KnowledgeURLScheme = "knowledge://"

// KnowledgeURL returns the source URL used for a knowledge base document.
func KnowledgeURL(sourceID string) string {
	return KnowledgeURLScheme + sourceID
}

// =============================================================================
// COMPLETION TYPES
// =============================================================================

// Schema describes the JSON shape a structured completion must satisfy.
type Schema struct {
	Name       string         `json:"name"`
	Definition map[string]any `json:"schema"`
}

// CompletionRequest is a single model call.
type CompletionRequest struct {
	System string
	Prompt string
	// Schema constrains the response to JSON when set.
	Schema *Schema
	// Model overrides the provider's default model when non-empty.
	Model string
}
