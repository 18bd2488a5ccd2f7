// Package completion adapts LLM vendors to types.CompletionProvider and layers
// schema-checked structured output on top of any provider.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// Provider names a completion vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
)

// Config is the vendor-neutral client configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

const (
	maxRetries       = 3
	minRequestSpread = 100 * time.Millisecond
)

// httpTransport is the request plumbing shared by the HTTP-based vendors:
// request spacing, 429/5xx backoff and error classification.
type httpTransport struct {
	provider   Provider
	httpClient *http.Client
	retryBase  time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

func newHTTPTransport(provider Provider, timeout time.Duration) *httpTransport {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &httpTransport{
		provider:   provider,
		httpClient: &http.Client{Timeout: timeout},
		retryBase:  time.Second,
	}
}

func (t *httpTransport) throttle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elapsed := time.Since(t.lastRequest); elapsed < minRequestSpread {
		time.Sleep(minRequestSpread - elapsed)
	}
	t.lastRequest = time.Now()
}

// postJSON sends body to url and returns the 200 response body. Rate limits and
// server errors are retried with exponential backoff; every failure comes back
// as *types.ProviderError.
func (t *httpTransport) postJSON(ctx context.Context, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &types.ProviderError{Provider: string(t.provider), Op: "complete", Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := t.retryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, &types.ProviderError{Provider: string(t.provider), Op: "complete", Err: ctx.Err()}
			case <-time.After(wait):
			}
		}
		t.throttle()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, &types.ProviderError{Provider: string(t.provider), Op: "complete", Err: fmt.Errorf("failed to create request: %w", err)}
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &types.ProviderError{Provider: string(t.provider), Op: "complete", Err: ctx.Err()}
			}
			lastErr = &types.ProviderError{Provider: string(t.provider), Op: "complete", Err: fmt.Errorf("request failed: %w", err)}
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &types.ProviderError{Provider: string(t.provider), Op: "complete", Err: fmt.Errorf("failed to read response: %w", err)}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return data, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			logging.APIWarn("[%s] status %d, attempt %d/%d", t.provider, resp.StatusCode, attempt+1, maxRetries+1)
			lastErr = &types.ProviderError{Provider: string(t.provider), Op: "complete", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", truncate(string(data), 300))}
			continue
		default:
			return nil, &types.ProviderError{Provider: string(t.provider), Op: "complete", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", truncate(string(data), 300))}
		}
	}

	logging.APIError("[%s] max retries exceeded: %v", t.provider, lastErr)
	return nil, lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// modelFor picks the per-request model override or the client default.
func modelFor(req types.CompletionRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}
