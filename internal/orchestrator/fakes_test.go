package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/session"
	"deepresearch/internal/store"
	"deepresearch/internal/types"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKE COMPLETION PROVIDER
// =============================================================================

type handler func(req types.CompletionRequest) (string, error)

// fakeLLM answers by call kind: questions, plan, queries, review, learnings,
// report or graph.
type fakeLLM struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    map[string][]types.CompletionRequest
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		handlers: map[string]handler{
			"questions": fixed(`{"questions":["Which years?","Which sites?","Which agencies?","Any lawsuits?","Union status?"]}`),
			"plan":      fixed(`{"sections":[{"title":"Safety","summary":"OSHA record"},{"title":"Financial","summary":"Revenue"}]}`),
			"queries":   fixed(`{"queries":[{"query":"Acme OSHA citations","researchGoal":"find violations"}]}`),
			"review":    fixed(`{"queries":[]}`),
			"learnings": learnFromQuery,
			"report":    fixed("## Safety\nAcme had three OSHA citations [1].\n\n## References\n[1] https://example.com"),
			"graph":     fixed("```mermaid\ngraph TD\nA[Acme] -->|cited by| B[OSHA]\n```"),
		},
		calls: make(map[string][]types.CompletionRequest),
	}
}

func fixed(out string) handler {
	return func(types.CompletionRequest) (string, error) { return out, nil }
}

func failing(msg string) handler {
	return func(types.CompletionRequest) (string, error) { return "", errors.New(msg) }
}

// learnFromQuery produces one learning citing the first two contexts.
func learnFromQuery(req types.CompletionRequest) (string, error) {
	q := between(req.Prompt, "<QUERY>\n", "\n</QUERY>")
	data, err := json.Marshal(map[string]any{
		"learnings": []map[string]any{{"text": "learned about " + q, "sources": []int{1, 2}}},
	})
	return string(data), err
}

func queriesJSON(queries ...string) string {
	items := make([]map[string]string, 0, len(queries))
	for _, q := range queries {
		items = append(items, map[string]string{"query": q, "researchGoal": "goal for " + q})
	}
	data, _ := json.Marshal(map[string]any{"queries": items})
	return string(data)
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	if j := strings.Index(s, end); j >= 0 {
		return strings.TrimSpace(s[:j])
	}
	return s
}

func kindOf(req types.CompletionRequest) string {
	if req.Schema != nil {
		if req.Schema.Name == "queries" && strings.Contains(req.Prompt, "<LEARNINGS>") {
			return "review"
		}
		return req.Schema.Name
	}
	if strings.Contains(req.Prompt, "Mermaid") {
		return "graph"
	}
	return "report"
}

func (f *fakeLLM) set(kind string, h handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = h
}

func (f *fakeLLM) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[kind])
}

func (f *fakeLLM) last(kind string) types.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[kind]
	if len(calls) == 0 {
		return types.CompletionRequest{}
	}
	return calls[len(calls)-1]
}

func (f *fakeLLM) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kind := kindOf(req)
	f.mu.Lock()
	f.calls[kind] = append(f.calls[kind], req)
	h := f.handlers[kind]
	f.mu.Unlock()
	return h(req)
}

// =============================================================================
// FAKE SEARCH
// =============================================================================

type searchCall struct {
	query string
	max   int
	scope string
}

// fakeSearch returns five results per query unless the query is marked failing.
type fakeSearch struct {
	mu    sync.Mutex
	calls []searchCall
	fail  map[string]bool

	delay   time.Duration
	block   chan struct{}
	started chan string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{fail: map[string]bool{}}
}

func (f *fakeSearch) Name() string { return "fake" }

func (f *fakeSearch) Search(ctx context.Context, query string, maxResults int, scope string) ([]types.SearchResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, searchCall{query: query, max: maxResults, scope: scope})
	fail := f.fail[query]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- query
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, &types.ProviderError{Provider: "fake", Op: "search", StatusCode: 503, Err: errors.New("unavailable")}
	}

	slug := strings.ReplaceAll(strings.ToLower(query), " ", "-")
	results := make([]types.SearchResult, 0, 5)
	for i := 1; i <= 5; i++ {
		results = append(results, types.SearchResult{
			Title:   fmt.Sprintf("%s result %d", query, i),
			URL:     fmt.Sprintf("https://example.com/%s/%d", slug, i),
			Snippet: fmt.Sprintf("snippet %d about %s", i, query),
		})
	}
	results[0].Images = []types.ImageResult{{URL: "https://img.example.com/" + slug + ".png", Description: query}}
	return results, nil
}

func (f *fakeSearch) searchCalls() []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]searchCall(nil), f.calls...)
}

type resolver struct {
	provider types.SearchProvider
}

func (r resolver) Provider(string) (types.SearchProvider, error) {
	if r.provider == nil {
		return nil, errors.New("no provider")
	}
	return r.provider, nil
}

type fakeKB struct {
	chunks []types.KnowledgeChunk
	err    error
}

func (f fakeKB) Search(context.Context, string, int) ([]types.KnowledgeChunk, error) {
	return f.chunks, f.err
}

// =============================================================================
// HELPERS
// =============================================================================

func newTestEngine(t *testing.T, llm *fakeLLM, search *fakeSearch, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := Options{Completion: llm}
	if search != nil {
		opts.Search = resolver{provider: search}
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := NewEngine(opts)
	require.NoError(t, err)
	return e
}

// advanceUntil advances id until it reaches stage.
func advanceUntil(t *testing.T, e *Engine, id string, stage session.Stage) session.Snapshot {
	t.Helper()
	for i := 0; i < 20; i++ {
		snap, err := e.Advance(context.Background(), id, "")
		require.NoError(t, err)
		if snap.Stage == stage {
			return snap
		}
		require.False(t, snap.Stage.Terminal(), "reached %s before %s", snap.Stage, stage)
	}
	t.Fatalf("session %s never reached %s", id, stage)
	return session.Snapshot{}
}

func loadSession(t *testing.T, e *Engine, id string) *session.Session {
	t.Helper()
	s, err := e.Session(context.Background(), id)
	require.NoError(t, err)
	return s
}

func researchConfig(parallel, results, rounds int) config.ResearchConfig {
	return config.ResearchConfig{ParallelSearch: parallel, SearchMaxResult: results, MaxRounds: rounds}
}

// =============================================================================
// SHARED STORE
// =============================================================================

// lockingStore is a memory store with a process-wide run lock, standing in for
// a store shared by several engines.
type lockingStore struct {
	*store.MemoryStore
	mu   sync.Mutex
	held map[string]bool
}

func newLockingStore() *lockingStore {
	return &lockingStore{MemoryStore: store.NewMemoryStore(), held: make(map[string]bool)}
}

func (s *lockingStore) Lock(_ context.Context, id string, _ time.Duration) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[id] {
		return nil, false, nil
	}
	s.held[id] = true
	return func() {
		s.mu.Lock()
		delete(s.held, id)
		s.mu.Unlock()
	}, true, nil
}

func (s *lockingStore) isHeld(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[id]
}
