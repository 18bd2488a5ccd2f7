// Package search adapts web search vendors to types.SearchProvider, with an
// optional page crawler that enriches snippets and a shared result cache.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// Provider names.
const (
	DuckDuckGo = "duckduckgo"
	Tavily     = "tavily"
	Exa        = "exa"
	Firecrawl  = "firecrawl"
	Bocha      = "bocha"
	SearXNG    = "searxng"
)

// Names lists every supported backend.
func Names() []string {
	return []string{DuckDuckGo, Tavily, Exa, Firecrawl, Bocha, SearXNG}
}

const defaultUserAgent = "Mozilla/5.0 (compatible; deepresearch/1.0)"

// maxBodyBytes caps vendor response bodies.
const maxBodyBytes = 4 << 20

// httpClient is the request plumbing shared by the JSON vendors.
type httpClient struct {
	name      string
	client    *http.Client
	userAgent string
}

func newHTTPClient(name string, timeout time.Duration, userAgent string) httpClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return httpClient{name: name, client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

func (c httpClient) fail(err error) error {
	return &types.ProviderError{Provider: c.name, Op: "search", Err: err}
}

// doJSON sends body (nil for GET) and decodes a 200 response into out.
func (c httpClient) doJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return c.fail(fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return c.fail(fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.fail(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.fail(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		logging.SearchWarn("[%s] HTTP %d for %s", c.name, resp.StatusCode, url)
		return &types.ProviderError{Provider: c.name, Op: "search", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(string(data), 200))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return c.fail(fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func bearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

func baseOr(base, fallback string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/")
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// clampResults trims results to max and drops entries without a URL.
func clampResults(results []types.SearchResult, max int) []types.SearchResult {
	out := results[:0]
	for _, r := range results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		out = append(out, r)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
