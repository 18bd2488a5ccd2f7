package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/events"
	"deepresearch/internal/orchestrator"
	"deepresearch/internal/session"
	"deepresearch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKES
// =============================================================================

type scriptedLLM struct{}

func (scriptedLLM) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	if req.Schema == nil {
		if strings.Contains(req.Prompt, "Mermaid") {
			return "graph TD\nA[Acme] -->|hired| B[Crew]", nil
		}
		return "## Executive Summary\nAcme is safe [1].\n\n## Safety\nNo citations [2].", nil
	}
	switch req.Schema.Name {
	case "questions":
		return `{"questions":["Which years?","Which sites?","Which agencies?","Any lawsuits?","Union status?"]}`, nil
	case "plan":
		return `{"sections":[{"title":"Safety","summary":"record"}]}`, nil
	case "queries":
		if strings.Contains(req.Prompt, "<LEARNINGS>") {
			return `{"queries":[]}`, nil
		}
		return `{"queries":[{"query":"acme safety","researchGoal":"record"}]}`, nil
	default:
		return `{"learnings":[{"text":"Acme has no OSHA citations","sources":[1,2]}]}`, nil
	}
}

type staticSearch struct{}

func (staticSearch) Name() string { return "static" }

func (staticSearch) Search(_ context.Context, query string, max int, _ string) ([]types.SearchResult, error) {
	out := make([]types.SearchResult, 0, max)
	for i := 1; i <= max; i++ {
		out = append(out, types.SearchResult{
			Title:   fmt.Sprintf("Result %d", i),
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Snippet: query,
		})
	}
	return out, nil
}

type resolver struct{}

func (resolver) Provider(string) (types.SearchProvider, error) { return staticSearch{}, nil }

func newTestServer(t *testing.T, mutate ...func(*orchestrator.Options)) (*Server, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	opts := orchestrator.Options{
		Completion: scriptedLLM{},
		Search:     resolver{},
		Bus:        bus,
		Defaults:   config.ResearchConfig{SearchMaxResult: 2, MaxRounds: 1},
	}
	for _, m := range mutate {
		m(&opts)
	}
	engine, err := orchestrator.NewEngine(opts)
	require.NoError(t, err)

	srv := New(config.ServerConfig{}, engine, bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = bus.Close()
	})
	return srv, bus
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, srv *Server, method, path string, body any) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.App().Test(req, 5000)
	require.NoError(t, err)

	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func createSession(t *testing.T, srv *Server, skip bool) session.Snapshot {
	t.Helper()
	resp, env := do(t, srv, http.MethodPost, "/api/sessions", map[string]any{
		"topic":  "Acme Construction safety",
		"config": map[string]any{"skipClarification": skip},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Message)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap
}

func runToDone(t *testing.T, srv *Server, id string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		resp, env := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/advance", map[string]any{})
		require.Equal(t, http.StatusOK, resp.StatusCode, env.Message)
		var snap session.Snapshot
		require.NoError(t, json.Unmarshal(env.Data, &snap))
		if snap.Stage == session.StageDone {
			return
		}
	}
	t.Fatalf("session %s did not finish", id)
}

// =============================================================================
// TESTS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "deepresearch_queries_in_flight")
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, env := do(t, srv, http.MethodPost, "/api/sessions", map[string]any{"topic": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "topic is required")

	resp, _ = do(t, srv, http.MethodPost, "/api/sessions", map[string]any{"topic": "x", "config": map[string]any{"parallelSearch": 9}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	snap := createSession(t, srv, false)
	resp, env = do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID+"/report", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, env.Message, "INIT")

	resp, _ = do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID+"/report/stream?granularity=word", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/sections", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompanyProfileDisabled(t *testing.T) {
	admin := config.DefaultAdminConfig()
	admin.EnableCompanyProfiles = false
	srv, _ := newTestServer(t, func(o *orchestrator.Options) { o.Admin = &admin })

	resp, _ := do(t, srv, http.MethodPost, "/api/profiles", map[string]any{"companyName": "Acme", "county": "Essex"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, env := do(t, srv, http.MethodGet, "/api/profiles/options", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), "condensed")
}

func TestCompanyProfileStartsAtPlanning(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, env := do(t, srv, http.MethodPost, "/api/profiles", map[string]any{
		"companyName": "Acme Construction",
		"county":      "Bergen County",
		"reportType":  "change-alert",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Message)

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, session.StagePlanning, snap.Stage)
	require.NotNil(t, snap.Metadata)
	assert.Equal(t, "Bergen", snap.Metadata.County)
	assert.Equal(t, "change-alert", snap.Metadata.ReportType)
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	snap := createSession(t, srv, false)
	assert.Equal(t, session.StageInit, snap.Stage)

	resp, env := do(t, srv, http.MethodPost, "/api/sessions/"+snap.ID+"/advance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Message)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, session.StageClarifying, snap.Stage)
	assert.Len(t, snap.Questions, 5)
	assert.Equal(t, "Which years?", snap.Questions[0])

	resp, _ = do(t, srv, http.MethodPost, "/api/sessions/"+snap.ID+"/advance", map[string]any{"input": "2020 onwards"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runToDone(t, srv, snap.ID)

	resp, env = do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID+"/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep session.FinalReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Contains(t, rep.Markdown, "Acme is safe [1].")
	assert.Len(t, rep.Sources, 2)

	resp, _ = do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID+"/report?format=markdown", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	md := readBody(t, resp)
	assert.Contains(t, md, "## References")
	assert.Contains(t, md, "[1] [Result 1](https://example.com/1)")

	resp, env = do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID+"/report/sections", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var secs []struct{ Title string }
	require.NoError(t, json.Unmarshal(env.Data, &secs))
	require.Len(t, secs, 2)
	assert.Equal(t, "Executive Summary", secs[0].Title)

	resp, env = do(t, srv, http.MethodPost, "/api/sessions/"+snap.ID+"/regenerate", map[string]any{"requirement": "shorter"})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Message)

	resp, env = do(t, srv, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), snap.ID)

	resp, _ = do(t, srv, http.MethodPost, "/api/sessions/"+snap.ID+"/advance", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/sessions/"+snap.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReportStream(t *testing.T) {
	srv, _ := newTestServer(t)
	snap := createSession(t, srv, true)
	runToDone(t, srv, snap.ID)

	resp, _ := do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID+"/report/stream?granularity=line", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := readBody(t, resp)
	assert.Equal(t, 5, strings.Count(body, "event: chunk\n"))
	assert.Contains(t, body, `data: {"text":"## Executive Summary\n"}`)
	assert.Contains(t, body, "event: done\n")

	resp, _ = do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID+"/report/stream?granularity=sentence", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsOfFinishedSession(t *testing.T) {
	srv, _ := newTestServer(t)
	snap := createSession(t, srv, true)
	runToDone(t, srv, snap.ID)

	resp, _ := do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.True(t, strings.HasPrefix(body, "event: snapshot\n"))
	assert.Contains(t, body, `"stage":"DONE"`)
}

func TestBackgroundRun(t *testing.T) {
	srv, _ := newTestServer(t)
	snap := createSession(t, srv, false)

	resp, env := do(t, srv, http.MethodPost, "/api/sessions/"+snap.ID+"/advance", map[string]any{
		"run":    true,
		"inputs": map[string]any{"answers": "all years"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, env.Message)

	require.Eventually(t, func() bool {
		_, env := do(t, srv, http.MethodGet, "/api/sessions/"+snap.ID, nil)
		var cur session.Snapshot
		return json.Unmarshal(env.Data, &cur) == nil && cur.Stage == session.StageDone
	}, 5*time.Second, 20*time.Millisecond)
}

func TestToolsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, env := do(t, srv, http.MethodPost, "/api/sections", map[string]any{"markdown": "## Safety\nfine\n## Executive Summary\nok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var secs []struct{ Title string }
	require.NoError(t, json.Unmarshal(env.Data, &secs))
	require.Len(t, secs, 2)
	assert.Equal(t, "Executive Summary", secs[0].Title)

	resp, env = do(t, srv, http.MethodPost, "/api/graph", map[string]any{"text": "Acme hired a crew."})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Message)
	var graph struct{ Mermaid string }
	require.NoError(t, json.Unmarshal(env.Data, &graph))
	assert.True(t, strings.HasPrefix(graph.Mermaid, "graph TD"))
}
