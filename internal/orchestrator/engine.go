// Package orchestrator drives research sessions through the stage machine:
// clarify, plan, query, extract, review and synthesize. Every Advance performs
// the work of exactly one transition and commits it to the session store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/events"
	"deepresearch/internal/graph"
	"deepresearch/internal/logging"
	"deepresearch/internal/metrics"
	"deepresearch/internal/prompt"
	"deepresearch/internal/report"
	"deepresearch/internal/sections"
	"deepresearch/internal/session"
	"deepresearch/internal/store"
	"deepresearch/internal/types"

	"github.com/google/uuid"
)

// SearchResolver returns the web search backend registered under name.
// An empty name selects the configured default.
type SearchResolver interface {
	Provider(name string) (types.SearchProvider, error)
}

// Options wires an Engine. Only Completion is required.
type Options struct {
	Completion types.CompletionProvider
	Search     SearchResolver
	Knowledge  types.KnowledgeBaseProvider
	Store      store.SessionStore
	Bus        *events.Bus
	Prompts    *prompt.Library
	Taxonomy   *sections.Taxonomy

	// Defaults fill the zero fields of every session's overrides.
	Defaults config.ResearchConfig
	// Admin clamps every session; nil enables everything.
	Admin *config.AdminConfig

	Now   func() time.Time
	NewID func() string
}

// Engine is the pipeline engine. Safe for concurrent use; at most one run
// (Advance, Run or Regenerate) owns a session at a time.
type Engine struct {
	completion types.CompletionProvider
	search     SearchResolver
	knowledge  types.KnowledgeBaseProvider
	store      store.SessionStore
	bus        *events.Bus
	prompts    *prompt.Library
	taxonomy   *sections.Taxonomy
	defaults   config.ResearchConfig
	admin      config.AdminConfig

	synth *report.Synthesizer
	graph *graph.Generator

	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	runs map[string]*activeRun
}

type activeRun struct {
	op     string
	cancel context.CancelFunc
}

// NewEngine creates an Engine from opts.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Completion == nil {
		return nil, errors.New("orchestrator: completion provider is required")
	}

	e := &Engine{
		completion: metrics.InstrumentCompletion("completion", opts.Completion),
		search:     opts.Search,
		store:      opts.Store,
		bus:        opts.Bus,
		prompts:    opts.Prompts,
		taxonomy:   opts.Taxonomy,
		defaults:   opts.Defaults.WithDefaults(config.DefaultResearchConfig()),
		admin:      config.DefaultAdminConfig(),
		now:        opts.Now,
		newID:      opts.NewID,
		runs:       make(map[string]*activeRun),
	}
	if opts.Knowledge != nil {
		e.knowledge = metrics.InstrumentKnowledge(opts.Knowledge)
	}
	if opts.Admin != nil {
		e.admin = *opts.Admin
	}
	if e.store == nil {
		e.store = store.NewMemoryStore()
	}
	if e.prompts == nil {
		e.prompts = prompt.Default()
	}
	if e.taxonomy == nil {
		e.taxonomy = sections.DefaultTaxonomy()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}

	e.synth = report.NewSynthesizer(e.completion, e.prompts)
	e.graph = graph.NewGenerator(e.completion,
		graph.WithPrompts(e.prompts),
		graph.WithModel(e.defaults.Model),
		graph.WithTimeout(e.defaults.GetCompletionTimeout()),
	)

	logging.Orchestrator("Engine ready: web=%v knowledge=%v", e.search != nil, e.knowledge != nil)
	return e, nil
}

// runLease is how long a shared-store run lock survives its owner.
const runLease = 2 * time.Minute

// acquire registers a run for id. The returned release must be called when
// the run ends. Stores implementing store.Locker also hold the run across
// processes.
func (e *Engine) acquire(ctx context.Context, id, op string) (context.Context, func(), error) {
	e.mu.Lock()
	if r, busy := e.runs[id]; busy {
		e.mu.Unlock()
		return nil, nil, e.busyError(ctx, id, op, fmt.Sprintf("%s already in progress", r.op))
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.runs[id] = &activeRun{op: op, cancel: cancel}
	e.mu.Unlock()

	forget := func() {
		e.mu.Lock()
		delete(e.runs, id)
		e.mu.Unlock()
		cancel()
	}

	unlock := func() {}
	if locker, ok := e.store.(store.Locker); ok {
		u, held, err := locker.Lock(ctx, id, runLease)
		if err != nil {
			forget()
			return nil, nil, err
		}
		if !held {
			forget()
			logging.OrchestratorWarn("Session %s: %s refused, run held by another instance", id, op)
			return nil, nil, e.busyError(ctx, id, op, "run in progress on another instance")
		}
		unlock = u
	}

	done := metrics.RunStarted()
	release := func() {
		unlock()
		forget()
		done()
	}
	return runCtx, release, nil
}

func (e *Engine) busyError(ctx context.Context, id, op, reason string) error {
	stage := ""
	if s, err := e.store.Load(ctx, id); err == nil {
		stage = string(s.Stage)
	}
	return &types.PipelineStateError{SessionID: id, Stage: stage, Op: op, Reason: reason}
}

// Running reports whether a run currently owns id.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[id]
	return ok
}

// Cancel abandons the active run of id, if any. The session keeps the stage
// it had before the run started and can be advanced again.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()

	if !ok {
		if _, err := e.store.Load(context.Background(), id); err != nil {
			return err
		}
		return nil
	}

	logging.Orchestrator("Canceling %s of session %s", r.op, id)
	r.cancel()
	e.publish(events.Event{Type: events.TypeSessionCanceled, SessionID: id, Message: r.op})
	return nil
}

func (e *Engine) publish(ev events.Event) {
	e.bus.Publish(ev)
}

// system is the session persona dated today.
func (e *Engine) system(sess *session.Session) (string, error) {
	if sess.SystemPrompt != "" {
		return sess.SystemPrompt, nil
	}
	return e.prompts.System(e.now())
}
