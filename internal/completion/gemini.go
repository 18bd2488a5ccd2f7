package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"google.golang.org/genai"
)

// GeminiClient calls Gemini through the genai SDK. Schema requests use the
// native JSON response mode.
type GeminiClient struct {
	cfg    Config
	client *genai.Client
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{cfg: cfg, client: client}, nil
}

// Complete implements types.CompletionProvider.
func (c *GeminiClient) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	start := time.Now()
	model := modelFor(req, c.cfg.Model)
	logging.APIDebug("[Gemini] Complete: model=%s system_len=%d prompt_len=%d schema=%v", model, len(req.System), len(req.Prompt), req.Schema != nil)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.cfg.Temperature)),
	}
	if c.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseJsonSchema = req.Schema.Definition
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), gc)
	if err != nil {
		return "", &types.ProviderError{Provider: string(ProviderGemini), Op: "complete", Err: err}
	}
	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", &types.ProviderError{Provider: string(ProviderGemini), Op: "complete", Err: fmt.Errorf("no completion returned")}
	}
	logging.API("[Gemini] Complete: completed in %v response_len=%d", time.Since(start), len(out))
	return out, nil
}
