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

// OpenAIClient talks to the OpenAI chat completions API or any compatible endpoint.
type OpenAIClient struct {
	cfg       Config
	transport *httpTransport
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// DefaultOpenAIConfig returns the defaults for the public API.
func DefaultOpenAIConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o",
		Timeout:     120 * time.Second,
		MaxTokens:   8192,
		Temperature: 0.2,
	}
}

// NewOpenAIClient creates a client. Empty fields take DefaultOpenAIConfig values.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	def := DefaultOpenAIConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIClient{cfg: cfg, transport: newHTTPTransport(ProviderOpenAI, cfg.Timeout)}
}

// Complete implements types.CompletionProvider. A schema is sent as a strict
// json_schema response format.
func (c *OpenAIClient) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	start := time.Now()
	model := modelFor(req, c.cfg.Model)
	logging.APIDebug("[OpenAI] Complete: model=%s system_len=%d prompt_len=%d schema=%v", model, len(req.System), len(req.Prompt), req.Schema != nil)

	if c.cfg.APIKey == "" {
		return "", &types.ProviderError{Provider: string(ProviderOpenAI), Op: "complete", Err: fmt.Errorf("API key not configured")}
	}

	body := openAIRequest{
		Model:       model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.Prompt})
	if req.Schema != nil {
		body.ResponseFormat = &openAIResponseFormat{
			Type:       "json_schema",
			JSONSchema: &openAIJSONSchema{Name: req.Schema.Name, Strict: true, Schema: req.Schema.Definition},
		}
	}

	data, err := c.transport.postJSON(ctx, c.cfg.BaseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}, body)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &types.ProviderError{Provider: string(ProviderOpenAI), Op: "complete", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if resp.Error != nil {
		return "", &types.ProviderError{Provider: string(ProviderOpenAI), Op: "complete", Err: fmt.Errorf("API error: %s", resp.Error.Message)}
	}
	if len(resp.Choices) == 0 {
		return "", &types.ProviderError{Provider: string(ProviderOpenAI), Op: "complete", Err: fmt.Errorf("no completion returned")}
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	logging.API("[OpenAI] Complete: completed in %v response_len=%d", time.Since(start), len(out))
	return out, nil
}
