package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"DEEPRESEARCH_LLM_PROVIDER", "DEEPRESEARCH_MODEL",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OLLAMA_HOST",
		"TAVILY_API_KEY", "EXA_API_KEY", "FIRECRAWL_API_KEY", "BOCHA_API_KEY", "SEARXNG_URL",
		"REDIS_URL", "DEEPRESEARCH_DB", "DEEPRESEARCH_KB",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "deepresearch" {
		t.Errorf("expected Name=deepresearch, got %s", cfg.Name)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected Provider=openai, got %s", cfg.LLM.Provider)
	}
	if cfg.Research.ParallelSearch != 1 || cfg.Research.SearchMaxResult != 5 {
		t.Errorf("unexpected research defaults: %+v", cfg.Research)
	}
	if !cfg.Admin.EnableCompanyProfiles {
		t.Error("company profiles should be enabled by default")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearProviderEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "sk-test"
	cfg.Research.ParallelSearch = 3

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != "anthropic" {
		t.Errorf("expected Provider=anthropic, got %s", loaded.LLM.Provider)
	}
	if loaded.LLM.APIKey != "sk-test" {
		t.Errorf("expected APIKey=sk-test, got %s", loaded.LLM.APIKey)
	}
	if loaded.Research.ParallelSearch != 3 {
		t.Errorf("expected ParallelSearch=3, got %d", loaded.Research.ParallelSearch)
	}
}

func TestConfig_LoadMissingFile(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults, got %v", err)
	}
	if cfg.Search.Provider != "duckduckgo" {
		t.Errorf("expected default search provider, got %s", cfg.Search.Provider)
	}
}

func TestConfig_LoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("DEEPRESEARCH_LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")
	t.Setenv("OPENAI_API_KEY", "ignored-openai-key")
	t.Setenv("TAVILY_API_KEY", "tvly-key")
	t.Setenv("SEARXNG_URL", "http://searx:8888")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected Provider=anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "env-anthropic-key" {
		t.Errorf("expected APIKey=env-anthropic-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Search.Tavily.APIKey != "tvly-key" {
		t.Errorf("expected tavily key, got %q", cfg.Search.Tavily.APIKey)
	}
	if cfg.Search.SearXNG.BaseURL != "http://searx:8888" {
		t.Errorf("expected searxng url, got %q", cfg.Search.SearXNG.BaseURL)
	}
	if cfg.Store.RedisURL != "redis://cache:6379/0" {
		t.Errorf("expected redis url, got %q", cfg.Store.RedisURL)
	}
}

func TestConfig_GeminiFallbackKey(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "gemini"
	cfg.applyEnvOverrides()

	if cfg.LLM.APIKey != "google-key" {
		t.Errorf("expected GOOGLE_API_KEY fallback, got %q", cfg.LLM.APIKey)
	}
}

func TestConfig_DotEnv(t *testing.T) {
	clearProviderEnv(t)
	os.Unsetenv("OPENAI_API_KEY")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENAI_API_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("OPENAI_API_KEY") })

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "from-dotenv" {
		t.Errorf("expected key from .env, got %q", cfg.LLM.APIKey)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	// Default has no API key
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for missing API key")
	}

	cfg.LLM.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.LLM.Provider = "ollama"
	cfg.LLM.APIKey = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("ollama needs no key, got %v", err)
	}

	cfg.LLM.Provider = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown provider")
	}

	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	cfg.Store.Backend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for redis without url")
	}

	cfg.Store.Backend = "sqlite"
	cfg.Research.ParallelSearch = 9
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for parallel_search out of range")
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetLLMTimeout(); got != 120*time.Second {
		t.Errorf("expected 120s, got %v", got)
	}
	cfg.Search.Timeout = "bogus"
	if got := cfg.GetSearchTimeout(); got != 30*time.Second {
		t.Errorf("expected fallback 30s, got %v", got)
	}
	cfg.Store.SessionTTL = "1h"
	if got := cfg.GetSessionTTL(); got != time.Hour {
		t.Errorf("expected 1h, got %v", got)
	}
}
