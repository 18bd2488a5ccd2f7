package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/completion"
	"deepresearch/internal/config"
	"deepresearch/internal/events"
	"deepresearch/internal/logging"
	"deepresearch/internal/metrics"
	"deepresearch/internal/prompt"
	"deepresearch/internal/session"
	"deepresearch/internal/types"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// extraction is what one backend produced for one query. Learning source
// indexes are local: 1-based positions in sources.
type extraction struct {
	backend   string
	sources   []session.Source
	images    []session.Image
	learnings []prompt.LearningResponse
}

// queryOutcome is the merge unit of a round.
type queryOutcome struct {
	query   session.SerpQuery
	batches []extraction
	errs    []session.QueryError
	failed  bool
}

// runRound executes the pending queries with at most ParallelSearch in flight
// and merges each outcome, in completion order, into a working copy of sess.
// The working copy is returned only when the round completes.
func (e *Engine) runRound(ctx context.Context, sess *session.Session) (*session.Session, error) {
	cfg := sess.Config
	queries := append([]session.SerpQuery(nil), sess.PendingQueries...)
	if len(queries) == 0 {
		return nil, &types.PipelineStateError{SessionID: sess.ID, Stage: string(sess.Stage), Op: "advance", Reason: "no pending queries"}
	}

	working := sess.Clone()
	round := session.Round{
		Number:    sess.RoundCount() + 1,
		Queries:   queries,
		StartedAt: e.now(),
	}

	logging.Orchestrator("Session %s: round %d with %d queries (parallel=%d)",
		sess.ID, round.Number, len(queries), cfg.ParallelSearch)

	outcomes := make(chan queryOutcome)
	merged := make(chan struct{})
	go func() {
		defer close(merged)
		for out := range outcomes {
			e.merge(working, &round, out)
		}
	}()

	sem := semaphore.NewWeighted(int64(cfg.ParallelSearch))
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		q := q
		g.Go(func() error {
			defer sem.Release(1)
			out := e.executeQuery(gctx, sess.ID, cfg, round.Number, q)
			select {
			case outcomes <- out:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	waitErr := g.Wait()
	close(outcomes)
	<-merged

	if err := ctx.Err(); err != nil {
		logging.OrchestratorWarn("Session %s: round %d abandoned, discarding working copy", sess.ID, round.Number)
		return nil, err
	}
	if waitErr != nil {
		return nil, waitErr
	}

	round.FinishedAt = e.now()
	working.Rounds = append(working.Rounds, round)
	working.PendingQueries = nil

	logging.Orchestrator("Session %s: round %d done: %d succeeded, %d failed, %d learnings, %d sources",
		sess.ID, round.Number, round.Succeeded, round.Failed, len(working.Learnings), len(working.Sources))
	e.publish(events.Event{
		Type:      events.TypeRoundCompleted,
		SessionID: sess.ID,
		Stage:     string(session.StageExtracting),
		Data: map[string]any{
			"round":     round.Number,
			"succeeded": round.Succeeded,
			"failed":    round.Failed,
		},
	})
	return working, nil
}

// merge folds one outcome into the working copy. Only the merger goroutine
// calls it.
func (e *Engine) merge(working *session.Session, round *session.Round, out queryOutcome) {
	for _, qe := range out.errs {
		working.RecordError(qe)
	}
	if out.failed {
		round.Failed++
		return
	}
	round.Succeeded++

	for _, b := range out.batches {
		global := make([]int, len(b.sources)+1)
		for i, src := range b.sources {
			global[i+1] = working.AddSource(src)
		}
		for _, img := range b.images {
			working.AddImage(img)
		}
		for _, l := range b.learnings {
			text := strings.TrimSpace(l.Text)
			if text == "" {
				continue
			}
			var refs []int
			for _, local := range l.Sources {
				if local >= 1 && local < len(global) {
					refs = append(refs, global[local])
				}
			}
			working.AddLearning(session.Learning{
				Text:       text,
				SourceRefs: refs,
				Round:      round.Number,
				Query:      out.query.Query,
			})
		}
	}
}

// executeQuery runs every enabled backend for q. The query fails only when
// every attempted backend failed.
func (e *Engine) executeQuery(ctx context.Context, sessionID string, cfg config.ResearchConfig, roundNum int, q session.SerpQuery) queryOutcome {
	done := metrics.QueryStarted()
	defer done()

	e.publish(events.Event{Type: events.TypeQueryStarted, SessionID: sessionID, Stage: string(session.StageQuerying), Query: q.Query})
	logging.OrchestratorDebug("Session %s: query %q", sessionID, q.Query)

	out := queryOutcome{query: q}
	attempted := 0
	record := func(phase string, err error) {
		out.errs = append(out.errs, session.QueryError{
			Round:   roundNum,
			Query:   q.Query,
			Phase:   phase,
			Message: err.Error(),
			At:      e.now(),
		})
	}

	if cfg.KnowledgeBaseEnabled() {
		attempted++
		batch, phase, err := e.knowledgeExtraction(ctx, cfg, q)
		if err != nil {
			record(phase, err)
		} else {
			out.batches = append(out.batches, batch)
		}
	}
	if cfg.WebSearchEnabled() {
		attempted++
		batch, phase, err := e.webExtraction(ctx, cfg, q)
		if err != nil {
			record(phase, err)
		} else {
			out.batches = append(out.batches, batch)
		}
	}

	out.failed = attempted == 0 || len(out.batches) == 0
	if attempted == 0 {
		record("search", errors.New("no search source enabled"))
	}

	switch {
	case ctx.Err() != nil:
		metrics.QueryFinished(metrics.OutcomeCancelled)
	case out.failed:
		metrics.QueryFinished(metrics.OutcomeFailed)
		logging.OrchestratorWarn("Session %s: query %q failed: %s", sessionID, q.Query, out.errs[len(out.errs)-1].Message)
		e.publish(events.Event{Type: events.TypeQueryFailed, SessionID: sessionID, Stage: string(session.StageQuerying), Query: q.Query, Message: out.errs[len(out.errs)-1].Message})
	default:
		metrics.QueryFinished(metrics.OutcomeSucceeded)
		learnings := 0
		for _, b := range out.batches {
			learnings += len(b.learnings)
		}
		e.publish(events.Event{
			Type:      events.TypeQueryCompleted,
			SessionID: sessionID,
			Stage:     string(session.StageQuerying),
			Query:     q.Query,
			Data:      map[string]any{"learnings": learnings},
		})
	}
	return out
}

// webExtraction searches the web and extracts learnings from the hits.
func (e *Engine) webExtraction(ctx context.Context, cfg config.ResearchConfig, q session.SerpQuery) (extraction, string, error) {
	if e.search == nil {
		return extraction{}, "search", errors.New("web search is not configured")
	}
	provider, err := e.search.Provider(cfg.SearchProvider)
	if err != nil {
		return extraction{}, "search", err
	}
	provider = metrics.InstrumentSearch(provider)

	searchCtx, cancel := context.WithTimeout(ctx, cfg.GetSearchTimeout())
	results, err := provider.Search(searchCtx, q.Query, cfg.SearchMaxResult, cfg.SearchScope)
	cancel()
	if err != nil {
		return extraction{}, "search", types.NewProviderError(provider.Name(), "search", err)
	}
	if len(results) > cfg.SearchMaxResult {
		results = results[:cfg.SearchMaxResult]
	}

	batch := extraction{backend: "web"}
	contexts := make([]prompt.Context, 0, len(results))
	for _, r := range results {
		batch.sources = append(batch.sources, session.Source{URL: r.URL, Title: r.Title})
		contexts = append(contexts, prompt.Context{Index: len(contexts) + 1, URL: r.URL, Title: r.Title, Content: r.Text()})
		for _, img := range r.Images {
			batch.images = append(batch.images, session.Image{URL: img.URL, Description: img.Description})
		}
	}
	if len(contexts) == 0 {
		return batch, "", nil
	}

	userPrompt, err := e.prompts.SearchResult(q.Query, q.ResearchGoal, contexts)
	if err != nil {
		return extraction{}, "extract", err
	}
	learnings, err := e.extract(ctx, cfg, userPrompt)
	if err != nil {
		return extraction{}, "extract", err
	}
	batch.learnings = learnings
	return batch, "", nil
}

// knowledgeExtraction searches the local knowledge base and extracts learnings.
func (e *Engine) knowledgeExtraction(ctx context.Context, cfg config.ResearchConfig, q session.SerpQuery) (extraction, string, error) {
	if e.knowledge == nil {
		return extraction{}, "knowledge", errors.New("knowledge base is not configured")
	}

	searchCtx, cancel := context.WithTimeout(ctx, cfg.GetSearchTimeout())
	chunks, err := e.knowledge.Search(searchCtx, q.Query, cfg.SearchMaxResult)
	cancel()
	if err != nil {
		return extraction{}, "knowledge", types.NewProviderError("knowledge", "search", err)
	}

	batch := extraction{backend: "knowledge"}
	contexts := make([]prompt.Context, 0, len(chunks))
	for _, c := range chunks {
		url := types.KnowledgeURL(c.SourceID)
		batch.sources = append(batch.sources, session.Source{URL: url, Title: c.Title})
		contexts = append(contexts, prompt.Context{Index: len(contexts) + 1, URL: url, Title: c.Title, Content: c.Content})
	}
	if len(contexts) == 0 {
		return batch, "", nil
	}

	userPrompt, err := e.prompts.KnowledgeResult(q.Query, q.ResearchGoal, contexts)
	if err != nil {
		return extraction{}, "extract", err
	}
	learnings, err := e.extract(ctx, cfg, userPrompt)
	if err != nil {
		return extraction{}, "extract", err
	}
	batch.learnings = learnings
	return batch, "", nil
}

// extract runs one learnings extraction. It sees no session state, only the
// contexts rendered into userPrompt.
func (e *Engine) extract(ctx context.Context, cfg config.ResearchConfig, userPrompt string) ([]prompt.LearningResponse, error) {
	full, err := e.prompts.WithSchema(userPrompt, prompt.LearningsSchema())
	if err != nil {
		return nil, err
	}
	system, err := e.prompts.System(e.now())
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.GetCompletionTimeout())
	defer cancel()

	var out prompt.LearningsResponse
	if err := completion.Structured(callCtx, e.completion, types.CompletionRequest{
		System: system,
		Prompt: full,
		Schema: prompt.LearningsSchema(),
		Model:  cfg.Model,
	}, &out); err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	return out.Learnings, nil
}
