package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/completion"
	"deepresearch/internal/events"
	"deepresearch/internal/logging"
	"deepresearch/internal/metrics"
	"deepresearch/internal/prompt"
	"deepresearch/internal/session"
	"deepresearch/internal/types"
)

// Advance performs the work of the next transition of id. userInput is the
// clarification answers in CLARIFYING, a steering note in EXTRACTING and a
// writing requirement in SYNTHESIZING; it is ignored elsewhere.
//
// Fatal planning and synthesis failures move the session to FAILED and are
// returned with the snapshot. Other errors leave the stored session unchanged.
func (e *Engine) Advance(ctx context.Context, id, userInput string) (session.Snapshot, error) {
	runCtx, release, err := e.acquire(ctx, id, "advance")
	if err != nil {
		return session.Snapshot{}, err
	}
	defer release()
	return e.advance(runCtx, id, userInput)
}

func (e *Engine) advance(ctx context.Context, id, userInput string) (session.Snapshot, error) {
	sess, err := e.store.Load(ctx, id)
	if err != nil {
		return session.Snapshot{}, err
	}
	if sess.Stage.Terminal() {
		reason := "session is finished; use regenerate for a new report"
		if sess.Stage == session.StageFailed {
			reason = "session failed: " + sess.FailureReason
		}
		return sess.Snapshot(), &types.PipelineStateError{SessionID: id, Stage: string(sess.Stage), Op: "advance", Reason: reason}
	}

	timer := logging.StartTimer(logging.CategoryOrchestrator, "advance "+string(sess.Stage))
	defer timer.Stop()

	from := sess.Stage
	next, err := e.step(ctx, sess, userInput)

	if err != nil && ctx.Err() != nil {
		logging.OrchestratorWarn("Session %s: %s abandoned: %v", id, from, ctx.Err())
		return e.storedSnapshot(id, sess), fmt.Errorf("session %s: advance canceled: %w", id, ctx.Err())
	}
	if err != nil && types.IsFatal(err) {
		sess.Fail(err.Error(), e.now())
		metrics.StageTransition(string(from), string(session.StageFailed))
		if serr := e.store.Save(context.WithoutCancel(ctx), sess); serr != nil {
			logging.SessionError("Session %s: failed to persist failure: %v", id, serr)
		}
		logging.OrchestratorError("Session %s failed in %s: %v", id, from, err)
		e.publish(events.Event{Type: events.TypeSessionFailed, SessionID: id, Stage: string(session.StageFailed), Message: err.Error()})
		return sess.Snapshot(), err
	}
	if err != nil {
		logging.OrchestratorWarn("Session %s: %s failed: %v", id, from, err)
		return e.storedSnapshot(id, sess), err
	}

	if err := e.store.Save(ctx, next); err != nil {
		return e.storedSnapshot(id, sess), fmt.Errorf("failed to save session %s: %w", id, err)
	}
	metrics.StageTransition(string(from), string(next.Stage))
	logging.Orchestrator("Session %s: %s -> %s", id, from, next.Stage)
	e.publish(events.Event{Type: events.TypeStageChanged, SessionID: id, Stage: string(next.Stage), Message: string(from)})
	if next.Stage == session.StageDone {
		e.publish(events.Event{Type: events.TypeReportReady, SessionID: id, Stage: string(next.Stage)})
	}
	return next.Snapshot(), nil
}

// storedSnapshot reloads id; fallback is used when the store is unreachable.
func (e *Engine) storedSnapshot(id string, fallback *session.Session) session.Snapshot {
	if s, err := e.store.Load(context.Background(), id); err == nil {
		return s.Snapshot()
	}
	return fallback.Snapshot()
}

// step runs one transition and returns the session to commit.
func (e *Engine) step(ctx context.Context, sess *session.Session, userInput string) (*session.Session, error) {
	switch sess.Stage {
	case session.StageInit:
		return e.stepInit(ctx, sess)
	case session.StageClarifying:
		sess.Answers = strings.TrimSpace(userInput)
		return e.stepPlan(ctx, sess)
	case session.StagePlanning:
		return e.stepQueries(ctx, sess)
	case session.StageQuerying:
		return e.stepRound(ctx, sess)
	case session.StageExtracting:
		return e.stepReview(ctx, sess, userInput)
	case session.StageReviewing:
		return e.stepDecide(sess)
	case session.StageSynthesizing:
		return e.stepSynthesize(ctx, sess, userInput)
	default:
		return nil, &types.PipelineStateError{SessionID: sess.ID, Stage: string(sess.Stage), Op: "advance"}
	}
}

// INIT -> CLARIFYING, or INIT -> PLANNING when clarification is skipped.
func (e *Engine) stepInit(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if sess.Config.SkipClarification || sess.Kind == session.KindCompanyProfile {
		return e.stepPlan(ctx, sess)
	}

	userPrompt, err := e.prompts.Clarify(sess.Topic)
	if err != nil {
		return nil, err
	}
	var out prompt.QuestionsResponse
	if err := e.structured(ctx, sess, userPrompt, prompt.QuestionsSchema(), &out); err != nil {
		return nil, err
	}

	for _, q := range out.Questions {
		if q = strings.TrimSpace(q); q != "" {
			sess.Questions = append(sess.Questions, q)
		}
	}
	logging.OrchestratorDebug("Session %s: %d clarifying questions", sess.ID, len(sess.Questions))
	return sess, sess.Transition(session.StageClarifying, e.now())
}

// -> PLANNING: report plan from the topic and the clarification exchange.
func (e *Engine) stepPlan(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if sess.Plan == nil {
		userPrompt, err := e.prompts.Plan(prompt.PlanInput{
			Query:     sess.Topic,
			Questions: sess.Questions,
			Answers:   sess.Answers,
		})
		if err != nil {
			return nil, &types.PlanningError{SessionID: sess.ID, Err: err}
		}
		var out prompt.PlanResponse
		if err := e.structured(ctx, sess, userPrompt, prompt.PlanSchema(), &out); err != nil {
			return nil, &types.PlanningError{SessionID: sess.ID, Err: err}
		}

		plan := &session.ReportPlan{}
		for _, s := range out.Sections {
			plan.Sections = append(plan.Sections, session.PlanSection{
				Title:   strings.TrimSpace(s.Title),
				Summary: strings.TrimSpace(s.Summary),
			})
		}
		sess.Plan = plan
	}
	logging.OrchestratorDebug("Session %s: plan with %d sections", sess.ID, len(sess.Plan.Sections))
	return sess, sess.Transition(session.StagePlanning, e.now())
}

// PLANNING -> QUERYING: the first query batch.
func (e *Engine) stepQueries(ctx context.Context, sess *session.Session) (*session.Session, error) {
	userPrompt, err := e.prompts.SerpQueries(planText(sess))
	if err != nil {
		return nil, &types.PlanningError{SessionID: sess.ID, Err: err}
	}
	var out prompt.QueriesResponse
	if err := e.structured(ctx, sess, userPrompt, prompt.QueriesSchema(), &out); err != nil {
		return nil, &types.PlanningError{SessionID: sess.ID, Err: err}
	}

	queries := session.DedupeQueries(toSerpQueries(out.Queries))
	if len(queries) == 0 {
		return nil, &types.PlanningError{SessionID: sess.ID, Err: errors.New("model proposed no search queries")}
	}
	sess.PendingQueries = queries
	logging.Orchestrator("Session %s: %d queries planned", sess.ID, len(queries))
	return sess, sess.Transition(session.StageQuerying, e.now())
}

// QUERYING -> EXTRACTING: the bounded fan-out. The committed session is the
// round's working copy.
func (e *Engine) stepRound(ctx context.Context, sess *session.Session) (*session.Session, error) {
	working, err := e.runRound(ctx, sess)
	if err != nil {
		return nil, err
	}
	return working, working.Transition(session.StageExtracting, e.now())
}

// EXTRACTING -> REVIEWING: decide whether another round is worth running.
func (e *Engine) stepReview(ctx context.Context, sess *session.Session, suggestion string) (*session.Session, error) {
	if s := strings.TrimSpace(suggestion); s != "" {
		sess.Feedback = append(sess.Feedback, s)
	}
	sess.PendingQueries = nil

	if sess.RoundLimitReached() {
		logging.OrchestratorDebug("Session %s: round limit %d reached, skipping review", sess.ID, sess.Config.MaxRounds)
		return sess, sess.Transition(session.StageReviewing, e.now())
	}

	queries, err := e.review(ctx, sess)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logging.OrchestratorWarn("Session %s: review failed, stopping research: %v", sess.ID, err)
		sess.RecordError(session.QueryError{Round: sess.RoundCount(), Phase: "review", Message: err.Error(), At: e.now()})
	}
	sess.PendingQueries = queries

	e.publish(events.Event{
		Type:      events.TypeReviewCompleted,
		SessionID: sess.ID,
		Stage:     string(sess.Stage),
		Data:      map[string]any{"queries": len(queries)},
	})
	return sess, sess.Transition(session.StageReviewing, e.now())
}

func (e *Engine) review(ctx context.Context, sess *session.Session) ([]session.SerpQuery, error) {
	userPrompt, err := e.prompts.Review(planText(sess), sess.LearningsText(), strings.Join(sess.Feedback, "\n"))
	if err != nil {
		return nil, err
	}
	var out prompt.QueriesResponse
	if err := e.structured(ctx, sess, userPrompt, prompt.QueriesSchema(), &out); err != nil {
		return nil, err
	}

	executed := make(map[string]bool)
	for _, r := range sess.Rounds {
		for _, q := range r.Queries {
			executed[strings.ToLower(strings.TrimSpace(q.Query))] = true
		}
	}
	var fresh []session.SerpQuery
	for _, q := range session.DedupeQueries(toSerpQueries(out.Queries)) {
		if !executed[strings.ToLower(q.Query)] {
			fresh = append(fresh, q)
		}
	}
	logging.OrchestratorDebug("Session %s: review proposed %d new queries", sess.ID, len(fresh))
	return fresh, nil
}

// REVIEWING -> QUERYING | SYNTHESIZING.
func (e *Engine) stepDecide(sess *session.Session) (*session.Session, error) {
	if len(sess.PendingQueries) > 0 && !sess.RoundLimitReached() {
		return sess, sess.Transition(session.StageQuerying, e.now())
	}
	sess.PendingQueries = nil
	return sess, sess.Transition(session.StageSynthesizing, e.now())
}

// SYNTHESIZING -> DONE.
func (e *Engine) stepSynthesize(ctx context.Context, sess *session.Session, requirement string) (*session.Session, error) {
	if strings.TrimSpace(requirement) == "" {
		requirement = sess.Config.Requirement
	}
	rep, err := e.synth.Synthesize(ctx, sess, requirement)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &types.FatalSynthesisError{SessionID: sess.ID, Err: err}
	}
	sess.Report = rep
	return sess, sess.Transition(session.StageDone, e.now())
}

// structured renders the schema instruction and runs a structured call with
// the session's persona, model and completion timeout.
func (e *Engine) structured(ctx context.Context, sess *session.Session, userPrompt string, schema *types.Schema, out any) error {
	full, err := e.prompts.WithSchema(userPrompt, schema)
	if err != nil {
		return err
	}
	system, err := e.system(sess)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, sess.Config.GetCompletionTimeout())
	defer cancel()

	return completion.Structured(callCtx, e.completion, types.CompletionRequest{
		System: system,
		Prompt: full,
		Schema: schema,
		Model:  sess.Config.Model,
	}, out)
}

// planText is the plan as prompts see it, preceded by the research brief.
func planText(sess *session.Session) string {
	var plan string
	if sess.Plan != nil {
		plan = sess.Plan.Markdown()
	}
	if sess.Brief == "" {
		return plan
	}
	return sess.Brief + "\n\n" + plan
}

func toSerpQueries(in []prompt.QueryResponse) []session.SerpQuery {
	out := make([]session.SerpQuery, 0, len(in))
	for _, q := range in {
		out = append(out, session.SerpQuery{Query: q.Query, ResearchGoal: strings.TrimSpace(q.ResearchGoal)})
	}
	return out
}
