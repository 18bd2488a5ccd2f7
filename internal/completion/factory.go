package completion

import (
	"context"
	"fmt"
	"os"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/types"
)

// DetectProvider picks the provider from cfg, falling back to whichever API key
// is present in the environment.
// Priority: cfg.Provider with a key > env vars (OPENAI > ANTHROPIC > GEMINI) > ollama.
func DetectProvider(cfg config.LLMConfig) (Provider, string) {
	if cfg.Provider != "" && (cfg.APIKey != "" || Provider(cfg.Provider) == ProviderOllama) {
		return Provider(cfg.Provider), cfg.APIKey
	}

	providers := []struct {
		envVar   string
		provider Provider
	}{
		{"OPENAI_API_KEY", ProviderOpenAI},
		{"ANTHROPIC_API_KEY", ProviderAnthropic},
		{"GEMINI_API_KEY", ProviderGemini},
		{"GOOGLE_API_KEY", ProviderGemini},
	}
	for _, p := range providers {
		if key := os.Getenv(p.envVar); key != "" {
			return p.provider, key
		}
	}
	return ProviderOllama, ""
}

// New builds the provider selected by cfg.
func New(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (types.CompletionProvider, error) {
	provider, key := DetectProvider(cfg)
	cc := Config{
		APIKey:      key,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     timeout,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	if Provider(cfg.Provider) != provider {
		// Auto-detected vendor: the configured model belongs to someone else.
		cc.Model = ""
		cc.BaseURL = ""
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cc), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cc), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, cc)
	case ProviderOllama:
		return NewOllamaClient(cc), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
