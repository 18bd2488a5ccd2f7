package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// =============================================================================
// TAVILY
// =============================================================================

// TavilyProvider uses the Tavily search API. Scope is the Tavily topic
// (general, news, finance).
type TavilyProvider struct {
	cfg  config.BackendConfig
	http httpClient
}

// NewTavily creates a Tavily backend.
func NewTavily(cfg config.BackendConfig, timeout time.Duration) *TavilyProvider {
	cfg.BaseURL = baseOr(cfg.BaseURL, "https://api.tavily.com")
	return &TavilyProvider{cfg: cfg, http: newHTTPClient(Tavily, timeout, "")}
}

func (p *TavilyProvider) Name() string { return Tavily }

func (p *TavilyProvider) Search(ctx context.Context, query string, maxResults int, scope string) ([]types.SearchResult, error) {
	if scope == "" {
		scope = p.cfg.Scope
	}
	if scope == "" {
		scope = "general"
	}
	body := map[string]any{
		"query":                      query,
		"search_depth":               "advanced",
		"topic":                      scope,
		"max_results":                maxResults,
		"include_images":             true,
		"include_image_descriptions": true,
	}
	var resp struct {
		Results []struct {
			Title      string `json:"title"`
			URL        string `json:"url"`
			Content    string `json:"content"`
			RawContent string `json:"raw_content"`
		} `json:"results"`
		Images []struct {
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"images"`
	}
	if err := p.http.doJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/search", bearer(p.cfg.APIKey), body, &resp); err != nil {
		return nil, err
	}

	var images []types.ImageResult
	for _, img := range resp.Images {
		images = append(images, types.ImageResult{URL: img.URL, Description: img.Description})
	}
	out := make([]types.SearchResult, 0, len(resp.Results))
	for i, r := range resp.Results {
		res := types.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content, Content: r.RawContent}
		// Tavily returns images per query; attach them to the first hit.
		if i == 0 {
			res.Images = images
		}
		out = append(out, res)
	}
	return clampResults(out, maxResults), nil
}

// =============================================================================
// EXA
// =============================================================================

// ExaProvider uses the Exa search API. Scope is the Exa category.
type ExaProvider struct {
	cfg  config.BackendConfig
	http httpClient
}

// NewExa creates an Exa backend.
func NewExa(cfg config.BackendConfig, timeout time.Duration) *ExaProvider {
	cfg.BaseURL = baseOr(cfg.BaseURL, "https://api.exa.ai")
	return &ExaProvider{cfg: cfg, http: newHTTPClient(Exa, timeout, "")}
}

func (p *ExaProvider) Name() string { return Exa }

func (p *ExaProvider) Search(ctx context.Context, query string, maxResults int, scope string) ([]types.SearchResult, error) {
	if scope == "" {
		scope = p.cfg.Scope
	}
	body := map[string]any{
		"query":      query,
		"numResults": maxResults,
		"contents":   map[string]any{"text": true, "summary": true},
	}
	if scope != "" {
		body["category"] = scope
	}
	var resp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Text    string `json:"text"`
			Summary string `json:"summary"`
			Image   string `json:"image"`
		} `json:"results"`
	}
	if err := p.http.doJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/search", map[string]string{"x-api-key": p.cfg.APIKey}, body, &resp); err != nil {
		return nil, err
	}

	out := make([]types.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		res := types.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Summary, Content: r.Text}
		if r.Image != "" {
			res.Images = []types.ImageResult{{URL: r.Image, Description: r.Title}}
		}
		out = append(out, res)
	}
	return clampResults(out, maxResults), nil
}

// =============================================================================
// FIRECRAWL
// =============================================================================

// FirecrawlProvider searches and scrapes in one call, returning page markdown.
type FirecrawlProvider struct {
	cfg  config.BackendConfig
	http httpClient
}

// NewFirecrawl creates a Firecrawl backend.
func NewFirecrawl(cfg config.BackendConfig, timeout time.Duration) *FirecrawlProvider {
	cfg.BaseURL = baseOr(cfg.BaseURL, "https://api.firecrawl.dev")
	return &FirecrawlProvider{cfg: cfg, http: newHTTPClient(Firecrawl, timeout, "")}
}

func (p *FirecrawlProvider) Name() string { return Firecrawl }

// Search ignores scope.
func (p *FirecrawlProvider) Search(ctx context.Context, query string, maxResults int, _ string) ([]types.SearchResult, error) {
	body := map[string]any{
		"query":         query,
		"limit":         maxResults,
		"scrapeOptions": map[string]any{"formats": []string{"markdown"}},
	}
	var resp struct {
		Success bool `json:"success"`
		Data    []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Markdown    string `json:"markdown"`
		} `json:"data"`
		Error string `json:"error"`
	}
	if err := p.http.doJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/search", bearer(p.cfg.APIKey), body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success && resp.Error != "" {
		return nil, p.http.fail(fmt.Errorf("%s", resp.Error))
	}

	out := make([]types.SearchResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		out = append(out, types.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description, Content: r.Markdown})
	}
	return clampResults(out, maxResults), nil
}

// =============================================================================
// BOCHA
// =============================================================================

// BochaProvider uses the Bocha web search API.
type BochaProvider struct {
	cfg  config.BackendConfig
	http httpClient
}

// NewBocha creates a Bocha backend.
func NewBocha(cfg config.BackendConfig, timeout time.Duration) *BochaProvider {
	cfg.BaseURL = baseOr(cfg.BaseURL, "https://api.bochaai.com")
	return &BochaProvider{cfg: cfg, http: newHTTPClient(Bocha, timeout, "")}
}

func (p *BochaProvider) Name() string { return Bocha }

// Search ignores scope.
func (p *BochaProvider) Search(ctx context.Context, query string, maxResults int, _ string) ([]types.SearchResult, error) {
	body := map[string]any{
		"query":     query,
		"freshness": "noLimit",
		"summary":   true,
		"count":     maxResults,
	}
	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			WebPages struct {
				Value []struct {
					Name    string `json:"name"`
					URL     string `json:"url"`
					Snippet string `json:"snippet"`
					Summary string `json:"summary"`
				} `json:"value"`
			} `json:"webPages"`
			Images struct {
				Value []struct {
					ContentURL string `json:"contentUrl"`
					Name       string `json:"name"`
				} `json:"value"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := p.http.doJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/web-search", bearer(p.cfg.APIKey), body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 && resp.Code != http.StatusOK {
		return nil, p.http.fail(fmt.Errorf("code %d: %s", resp.Code, resp.Msg))
	}

	var images []types.ImageResult
	for _, img := range resp.Data.Images.Value {
		images = append(images, types.ImageResult{URL: img.ContentURL, Description: img.Name})
	}
	out := make([]types.SearchResult, 0, len(resp.Data.WebPages.Value))
	for i, r := range resp.Data.WebPages.Value {
		res := types.SearchResult{Title: r.Name, URL: r.URL, Snippet: r.Snippet, Content: r.Summary}
		if i == 0 {
			res.Images = images
		}
		out = append(out, res)
	}
	return clampResults(out, maxResults), nil
}

// =============================================================================
// SEARXNG
// =============================================================================

// SearXNGProvider queries a self-hosted SearXNG instance. Scope is the
// comma-separated category list.
type SearXNGProvider struct {
	cfg  config.BackendConfig
	http httpClient
}

// NewSearXNG creates a SearXNG backend; cfg.BaseURL is required.
func NewSearXNG(cfg config.BackendConfig, timeout time.Duration) *SearXNGProvider {
	cfg.BaseURL = baseOr(cfg.BaseURL, "http://localhost:8888")
	return &SearXNGProvider{cfg: cfg, http: newHTTPClient(SearXNG, timeout, "")}
}

func (p *SearXNGProvider) Name() string { return SearXNG }

func (p *SearXNGProvider) Search(ctx context.Context, query string, maxResults int, scope string) ([]types.SearchResult, error) {
	if scope == "" {
		scope = p.cfg.Scope
	}
	if scope == "" {
		scope = "general"
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("categories", scope)
	q.Set("pageno", strconv.Itoa(1))

	var headers map[string]string
	if p.cfg.APIKey != "" {
		headers = bearer(p.cfg.APIKey)
	}
	var resp struct {
		Results []struct {
			URL       string `json:"url"`
			Title     string `json:"title"`
			Content   string `json:"content"`
			ImgSrc    string `json:"img_src"`
			Thumbnail string `json:"thumbnail"`
		} `json:"results"`
	}
	if err := p.http.doJSON(ctx, http.MethodGet, p.cfg.BaseURL+"/search?"+q.Encode(), headers, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]types.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		res := types.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content}
		if r.ImgSrc != "" {
			res.Images = []types.ImageResult{{URL: r.ImgSrc, Description: r.Title}}
		}
		out = append(out, res)
	}
	logging.SearchDebug("[searxng] %d results for %q", len(out), query)
	return clampResults(out, maxResults), nil
}
