package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// OllamaClient talks to a local Ollama server's chat endpoint.
type OllamaClient struct {
	cfg       Config
	transport *httpTransport
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	// Format is "json" or a JSON schema object.
	Format  any            `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message openAIMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaClient creates a client for cfg.BaseURL (default http://localhost:11434).
func NewOllamaClient(cfg Config) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OllamaClient{cfg: cfg, transport: newHTTPTransport(ProviderOllama, cfg.Timeout)}
}

// Complete implements types.CompletionProvider.
func (c *OllamaClient) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	start := time.Now()
	model := modelFor(req, c.cfg.Model)
	logging.APIDebug("[Ollama] Complete: model=%s prompt_len=%d", model, len(req.Prompt))

	body := ollamaRequest{
		Model:   model,
		Stream:  false,
		Options: map[string]any{"temperature": c.cfg.Temperature},
	}
	if c.cfg.MaxTokens > 0 {
		body.Options["num_predict"] = c.cfg.MaxTokens
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.Prompt})
	if req.Schema != nil {
		body.Format = req.Schema.Definition
	}

	data, err := c.transport.postJSON(ctx, c.cfg.BaseURL+"/api/chat", nil, body)
	if err != nil {
		return "", err
	}

	var resp ollamaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &types.ProviderError{Provider: string(ProviderOllama), Op: "complete", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if resp.Error != "" {
		return "", &types.ProviderError{Provider: string(ProviderOllama), Op: "complete", Err: fmt.Errorf("API error: %s", resp.Error)}
	}
	out := strings.TrimSpace(resp.Message.Content)
	logging.API("[Ollama] Complete: completed in %v response_len=%d", time.Since(start), len(out))
	return out, nil
}
