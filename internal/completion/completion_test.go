package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/prompt"
	"deepresearch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// VENDOR CLIENTS
// =============================================================================

func TestOpenAIClient_SendsSchema(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  {\"questions\":[\"a\"]}  "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-4o-mini"})
	out, err := c.Complete(context.Background(), types.CompletionRequest{
		System: "sys", Prompt: "ask", Schema: prompt.QuestionsSchema(),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"questions":["a"]}`, out)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "questions", got.ResponseFormat.JSONSchema.Name)
	assert.True(t, got.ResponseFormat.JSONSchema.Strict)
}

func TestOpenAIClient_RetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL})
	c.transport.retryBase = time.Millisecond
	out, err := c.Complete(context.Background(), types.CompletionRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenAIClient_ClientErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), types.CompletionRequest{Prompt: "p"})
	var pe *types.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Equal(t, "openai", pe.Provider)
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	_, err := NewOpenAIClient(Config{}).Complete(context.Background(), types.CompletionRequest{Prompt: "p"})
	var pe *types.ProviderError
	assert.True(t, errors.As(err, &pe))
}

func TestAnthropicClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		var req anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)
		w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(Config{APIKey: "key", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), types.CompletionRequest{System: "sys", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestOllamaClient_SchemaAsFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["stream"])
		format, _ := req["format"].(map[string]any)
		assert.Equal(t, "object", format["type"])
		w.Write([]byte(`{"message":{"role":"assistant","content":"{\"queries\":[]}"}}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(Config{BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), types.CompletionRequest{Prompt: "p", Schema: prompt.QueriesSchema()})
	require.NoError(t, err)
	assert.Equal(t, `{"queries":[]}`, out)
}

func TestGeminiClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gen, _ := req["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", gen["responseMimeType"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"learnings\":[]}"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), Config{APIKey: "g", BaseURL: srv.URL, Model: "gemini-test"})
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), types.CompletionRequest{System: "s", Prompt: "p", Schema: prompt.LearningsSchema()})
	require.NoError(t, err)
	assert.Equal(t, `{"learnings":[]}`, out)
}

// =============================================================================
// STRUCTURED OUTPUT
// =============================================================================

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":         `{"a":1}`,
		"Here you go: {\"a\":1} thanks":   `{"a":1}`,
		"[1,2]":                           `[1,2]`,
		"no json":                         "no json",
		"```\n{\"a\":{\"b\":2}}\n```\n": `{"a":{"b":2}}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractJSON(in), in)
	}
}

func fixed(resp string, err error) types.CompletionProvider {
	return types.CompletionFunc(func(context.Context, types.CompletionRequest) (string, error) {
		return resp, err
	})
}

func TestStructured(t *testing.T) {
	var out prompt.QueriesResponse
	err := Structured(context.Background(),
		fixed("```json\n{\"queries\":[{\"query\":\"acme osha\",\"researchGoal\":\"violations\"}]}\n```", nil),
		types.CompletionRequest{Prompt: "p", Schema: prompt.QueriesSchema()}, &out)
	require.NoError(t, err)
	require.Len(t, out.Queries, 1)
	assert.Equal(t, "violations", out.Queries[0].ResearchGoal)
}

func TestStructured_SchemaViolation(t *testing.T) {
	req := types.CompletionRequest{Prompt: "p", Schema: prompt.QuestionsSchema()}

	var out prompt.QuestionsResponse
	err := Structured(context.Background(), fixed(`{"questions":[]}`, nil), req, &out)
	var sve *types.SchemaValidationError
	require.True(t, errors.As(err, &sve))
	assert.Equal(t, "questions", sve.Schema)

	err = Structured(context.Background(), fixed(`{"questions":["a","b","c","d"]}`, nil), req, &out)
	assert.True(t, errors.As(err, &sve), "four questions are too few")

	err = Structured(context.Background(), fixed("I cannot help with that", nil), req, &out)
	assert.True(t, errors.As(err, &sve))
}

func TestStructured_ProviderFailure(t *testing.T) {
	var out prompt.PlanResponse
	err := Structured(context.Background(), fixed("", errors.New("boom")),
		types.CompletionRequest{Prompt: "p", Schema: prompt.PlanSchema()}, &out)
	var pe *types.ProviderError
	assert.True(t, errors.As(err, &pe))

	err = Structured(context.Background(), fixed("{}", nil), types.CompletionRequest{Prompt: "p"}, &out)
	assert.Error(t, err)
}

// =============================================================================
// RETRY + FACTORY
// =============================================================================

func TestWithRetry(t *testing.T) {
	var calls int
	p := types.CompletionFunc(func(context.Context, types.CompletionRequest) (string, error) {
		calls++
		if calls < 3 {
			return "", &types.ProviderError{Provider: "x", Op: "complete", Err: errors.New("flaky")}
		}
		return "done", nil
	})
	out, err := WithRetry(p, 3, time.Millisecond).Complete(context.Background(), types.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, calls)

	calls = 0
	plain := types.CompletionFunc(func(context.Context, types.CompletionRequest) (string, error) {
		calls++
		return "", errors.New("not retryable")
	})
	_, err = WithRetry(plain, 3, time.Millisecond).Complete(context.Background(), types.CompletionRequest{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDetectProvider(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		t.Setenv(k, "")
	}

	p, key := DetectProvider(config.LLMConfig{Provider: "anthropic", APIKey: "a"})
	assert.Equal(t, ProviderAnthropic, p)
	assert.Equal(t, "a", key)

	p, _ = DetectProvider(config.LLMConfig{Provider: "openai"})
	assert.Equal(t, ProviderOllama, p, "no key anywhere falls back to local ollama")

	t.Setenv("GEMINI_API_KEY", "g")
	p, key = DetectProvider(config.LLMConfig{Provider: "openai"})
	assert.Equal(t, ProviderGemini, p)
	assert.Equal(t, "g", key)
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	c, err := New(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o"}, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	c, err = New(context.Background(), config.LLMConfig{Provider: "ollama"}, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, c)

	_, err = New(context.Background(), config.LLMConfig{Provider: "mystery", APIKey: "k"}, time.Second)
	assert.Error(t, err)
}
