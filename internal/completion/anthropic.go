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

// AnthropicClient talks to the Anthropic messages API. The API has no JSON
// schema mode, so schema requests rely on the prompt instruction and the
// structured decoder.
type AnthropicClient struct {
	cfg       Config
	transport *httpTransport
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// DefaultAnthropicConfig returns the defaults for the public API.
func DefaultAnthropicConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		BaseURL:     "https://api.anthropic.com/v1",
		Model:       "claude-sonnet-4-5",
		Timeout:     120 * time.Second,
		MaxTokens:   8192,
		Temperature: 0.2,
	}
}

// NewAnthropicClient creates a client. Empty fields take DefaultAnthropicConfig values.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	def := DefaultAnthropicConfig(cfg.APIKey)
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
	return &AnthropicClient{cfg: cfg, transport: newHTTPTransport(ProviderAnthropic, cfg.Timeout)}
}

// Complete implements types.CompletionProvider.
func (c *AnthropicClient) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	start := time.Now()
	model := modelFor(req, c.cfg.Model)
	logging.APIDebug("[Anthropic] Complete: model=%s system_len=%d prompt_len=%d", model, len(req.System), len(req.Prompt))

	if c.cfg.APIKey == "" {
		return "", &types.ProviderError{Provider: string(ProviderAnthropic), Op: "complete", Err: fmt.Errorf("API key not configured")}
	}

	body := anthropicRequest{
		Model:       model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		Temperature: c.cfg.Temperature,
	}

	data, err := c.transport.postJSON(ctx, c.cfg.BaseURL+"/messages", map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}, body)
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &types.ProviderError{Provider: string(ProviderAnthropic), Op: "complete", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if resp.Error != nil {
		return "", &types.ProviderError{Provider: string(ProviderAnthropic), Op: "complete", Err: fmt.Errorf("API error: %s", resp.Error.Message)}
	}

	var b strings.Builder
	for _, part := range resp.Content {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", &types.ProviderError{Provider: string(ProviderAnthropic), Op: "complete", Err: fmt.Errorf("no completion returned")}
	}
	logging.API("[Anthropic] Complete: completed in %v response_len=%d", time.Since(start), len(out))
	return out, nil
}
