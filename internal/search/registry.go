package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"github.com/bluele/gcache"
)

// Registry builds search backends on demand by name and shares one result
// cache and one crawler between them.
type Registry struct {
	cfg     config.SearchConfig
	timeout time.Duration
	cache   gcache.Cache
	crawler *Crawler

	mu        sync.Mutex
	providers map[string]types.SearchProvider
	closers   []func() error
}

// NewRegistry creates a registry from cfg. The headless browser is only
// started when cfg.Crawl.Browser is set.
func NewRegistry(ctx context.Context, cfg config.SearchConfig, timeout, cacheTTL time.Duration) (*Registry, error) {
	r := &Registry{
		cfg:       cfg,
		timeout:   timeout,
		cache:     NewResultCache(cfg.CacheSize, cacheTTL),
		providers: make(map[string]types.SearchProvider),
	}

	if cfg.Crawl.Enabled {
		var fetcher Fetcher = NewHTTPFetcher(timeout, cfg.UserAgent)
		if cfg.Crawl.Browser {
			bf, err := NewBrowserFetcher(ctx, timeout)
			if err != nil {
				return nil, err
			}
			r.closers = append(r.closers, bf.Close)
			fetcher = bf
		}
		r.crawler = NewCrawler(fetcher, cfg.Crawl.MaxPages, cfg.Crawl.MaxChars, cfg.Crawl.BlockedDomains)
	}
	return r, nil
}

// Provider returns the (cached, optionally crawling) backend called name.
func (r *Registry) Provider(name string) (types.SearchProvider, error) {
	if name == "" {
		name = r.cfg.Provider
	}
	if name == "" {
		name = DuckDuckGo
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	base, err := NewProvider(name, r.cfg, r.timeout)
	if err != nil {
		logging.SearchError("Search backend %s unavailable: %v", name, err)
		return nil, err
	}
	var p types.SearchProvider = base
	// Firecrawl already returns page markdown.
	if r.crawler != nil && name != Firecrawl {
		p = NewCrawling(p, r.crawler)
	}
	p = NewCached(p, r.cache)

	r.providers[name] = p
	logging.Search("Search backend %s initialized (crawl=%v)", name, r.crawler != nil)
	return p, nil
}

// Close releases the browser, if one was started.
func (r *Registry) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewProvider builds the bare backend called name. Keyed vendors fail without a key.
func NewProvider(name string, cfg config.SearchConfig, timeout time.Duration) (types.SearchProvider, error) {
	requireKey := func(b config.BackendConfig) error {
		if b.APIKey == "" {
			return fmt.Errorf("search provider %s requires an API key", name)
		}
		return nil
	}

	switch name {
	case DuckDuckGo:
		return NewDuckDuckGo("", timeout, cfg.UserAgent), nil
	case Tavily:
		if err := requireKey(cfg.Tavily); err != nil {
			return nil, err
		}
		return NewTavily(cfg.Tavily, timeout), nil
	case Exa:
		if err := requireKey(cfg.Exa); err != nil {
			return nil, err
		}
		return NewExa(cfg.Exa, timeout), nil
	case Firecrawl:
		if err := requireKey(cfg.Firecrawl); err != nil {
			return nil, err
		}
		return NewFirecrawl(cfg.Firecrawl, timeout), nil
	case Bocha:
		if err := requireKey(cfg.Bocha); err != nil {
			return nil, err
		}
		return NewBocha(cfg.Bocha, timeout), nil
	case SearXNG:
		if cfg.SearXNG.BaseURL == "" {
			return nil, fmt.Errorf("search provider searxng requires a base_url")
		}
		return NewSearXNG(cfg.SearXNG, timeout), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", name)
	}
}
