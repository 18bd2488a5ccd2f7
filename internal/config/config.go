package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deepresearch/internal/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all deepresearch configuration.
type Config struct {
	Name string `yaml:"name"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Web search backends
	Search SearchConfig `yaml:"search"`

	// Local knowledge base
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Session persistence
	Store StoreConfig `yaml:"store"`

	// HTTP API
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Defaults for new research sessions
	Research ResearchConfig `yaml:"research"`

	// Feature flags applied to every session at creation
	Admin AdminConfig `yaml:"admin"`

	// Optional YAML file with a custom section ordering table
	TaxonomyPath string `yaml:"taxonomy_path"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic, gemini, ollama
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SearchConfig configures the web search backends.
type SearchConfig struct {
	Provider  string `yaml:"provider"`
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`

	CacheSize int    `yaml:"cache_size"`
	CacheTTL  string `yaml:"cache_ttl"`

	Crawl CrawlConfig `yaml:"crawl"`

	Tavily    BackendConfig `yaml:"tavily"`
	Exa       BackendConfig `yaml:"exa"`
	Firecrawl BackendConfig `yaml:"firecrawl"`
	Bocha     BackendConfig `yaml:"bocha"`
	SearXNG   BackendConfig `yaml:"searxng"`
}

// BackendConfig holds credentials and endpoint for one search vendor.
type BackendConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // proxy / self-hosted endpoint
	Scope   string `yaml:"scope"`    // vendor-specific topic or category
}

// CrawlConfig controls page fetching for search hits.
type CrawlConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Browser        bool     `yaml:"browser"` // use headless chrome for JS-rendered pages
	MaxPages       int      `yaml:"max_pages"`
	MaxChars       int      `yaml:"max_chars"`
	BlockedDomains []string `yaml:"blocked_domains"`
}

// KnowledgeConfig configures the local knowledge base.
type KnowledgeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
	Directory    string `yaml:"directory"` // ingested at startup when set
	Watch        bool   `yaml:"watch"`
	ChunkSize    int    `yaml:"chunk_size"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	Backend      string `yaml:"backend"` // memory, sqlite, redis
	DatabasePath string `yaml:"database_path"`
	RedisURL     string `yaml:"redis_url"`
	RedisPrefix  string `yaml:"redis_prefix"`
	SessionTTL   string `yaml:"session_ttl"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address     string `yaml:"address"`
	BodyLimitMB int    `yaml:"body_limit_mb"`
	CorsOrigins string `yaml:"cors_origins"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	File       string          `yaml:"file"`
	Console    bool            `yaml:"console"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// Options converts the YAML logging section to logging package options.
func (l LoggingConfig) Options() logging.Config {
	return logging.Config{
		Level:      l.Level,
		File:       l.File,
		Console:    l.Console,
		JSONFormat: l.JSONFormat,
		Categories: l.Categories,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "deepresearch",

		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Timeout:     "120s",
			MaxTokens:   8192,
			Temperature: 0.2,
		},

		Search: SearchConfig{
			Provider:  "duckduckgo",
			Timeout:   "30s",
			UserAgent: "Mozilla/5.0 (compatible; deepresearch/1.0)",
			CacheSize: 512,
			CacheTTL:  "30m",
			Crawl: CrawlConfig{
				Enabled:  false,
				MaxPages: 3,
				MaxChars: 20000,
				BlockedDomains: []string{
					"facebook.com", "twitter.com", "x.com", "instagram.com",
					"tiktok.com", "pinterest.com",
				},
			},
		},

		Knowledge: KnowledgeConfig{
			Enabled:      false,
			DatabasePath: filepath.Join(".deepresearch", "knowledge.db"),
			ChunkSize:    1500,
		},

		Store: StoreConfig{
			Backend:      "sqlite",
			DatabasePath: filepath.Join(".deepresearch", "sessions.db"),
			RedisPrefix:  "deepresearch:session:",
			SessionTTL:   "168h",
		},

		Server: ServerConfig{
			Address:     ":8080",
			BodyLimitMB: 10,
			CorsOrigins: "*",
		},

		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(".deepresearch", "logs", "deepresearch.log"),
		},

		Research: DefaultResearchConfig(),
		Admin:    DefaultAdminConfig(),
	}
}

// Load loads configuration from a YAML file.
// A .env file next to the config file is loaded first; it never overrides
// variables already set in the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logging.BootDebug("config file %s not found, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		logging.BootWarn("failed to load %s: %v", path, err)
	}
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Provider selection, then the matching API key
	if provider := os.Getenv("DEEPRESEARCH_LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	switch c.LLM.Provider {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	case "gemini":
		if key := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	case "ollama":
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			c.LLM.BaseURL = host
		}
	}
	if model := os.Getenv("DEEPRESEARCH_MODEL"); model != "" {
		c.LLM.Model = model
	}

	// Search vendor keys
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Search.Tavily.APIKey = key
	}
	if key := os.Getenv("EXA_API_KEY"); key != "" {
		c.Search.Exa.APIKey = key
	}
	if key := os.Getenv("FIRECRAWL_API_KEY"); key != "" {
		c.Search.Firecrawl.APIKey = key
	}
	if key := os.Getenv("BOCHA_API_KEY"); key != "" {
		c.Search.Bocha.APIKey = key
	}
	if url := os.Getenv("SEARXNG_URL"); url != "" {
		c.Search.SearXNG.BaseURL = url
	}

	// Storage from environment
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Store.RedisURL = url
	}
	if path := os.Getenv("DEEPRESEARCH_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if path := os.Getenv("DEEPRESEARCH_KB"); path != "" {
		c.Knowledge.DatabasePath = path
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetSearchTimeout returns the HTTP timeout for search backends.
func (c *Config) GetSearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 30*time.Second)
}

// GetCacheTTL returns the search cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Search.CacheTTL, 30*time.Minute)
}

// GetSessionTTL returns the session TTL as a duration.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Store.SessionTTL, 7*24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "anthropic", "gemini", "ollama"}

// ValidStoreBackends lists all supported session store backends.
var ValidStoreBackends = []string{"memory", "sqlite", "redis"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.APIKey == "" && c.LLM.Provider != "ollama" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY, ANTHROPIC_API_KEY or GEMINI_API_KEY)")
	}
	if !contains(ValidStoreBackends, c.Store.Backend) {
		return fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, ValidStoreBackends)
	}
	if c.Store.Backend == "redis" && c.Store.RedisURL == "" {
		return fmt.Errorf("store backend redis requires redis_url (or REDIS_URL)")
	}
	if err := c.Research.WithDefaults(DefaultResearchConfig()).Validate(); err != nil {
		return fmt.Errorf("research defaults: %w", err)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
