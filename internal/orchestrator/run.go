package orchestrator

import (
	"context"
	"fmt"

	"deepresearch/internal/events"
	"deepresearch/internal/logging"
	"deepresearch/internal/metrics"
	"deepresearch/internal/session"
	"deepresearch/internal/types"
)

// Inputs are the user inputs Run hands to the stages that accept one.
type Inputs struct {
	Answers     string `json:"answers,omitempty"`     // CLARIFYING
	Suggestion  string `json:"suggestion,omitempty"`  // EXTRACTING
	Requirement string `json:"requirement,omitempty"` // SYNTHESIZING
}

func (in Inputs) forStage(stage session.Stage) string {
	switch stage {
	case session.StageClarifying:
		return in.Answers
	case session.StageExtracting:
		return in.Suggestion
	case session.StageSynthesizing:
		return in.Requirement
	default:
		return ""
	}
}

// Run advances id until it is DONE or FAILED. progress, when non-nil, is
// called with the snapshot after every transition.
func (e *Engine) Run(ctx context.Context, id string, in Inputs, progress func(session.Snapshot)) (session.Snapshot, error) {
	runCtx, release, err := e.acquire(ctx, id, "run")
	if err != nil {
		return session.Snapshot{}, err
	}
	defer release()

	snap, err := e.Snapshot(runCtx, id)
	if err != nil {
		return snap, err
	}
	for !snap.Stage.Terminal() {
		snap, err = e.advance(runCtx, id, in.forStage(snap.Stage))
		if err != nil {
			return snap, err
		}
		if progress != nil {
			progress(snap)
		}
	}
	return snap, nil
}

// Regenerate re-enters SYNTHESIZING from DONE with the same research state
// and replaces the report. Citations keep pointing at the same sources.
func (e *Engine) Regenerate(ctx context.Context, id, requirement string) (*session.FinalReport, error) {
	runCtx, release, err := e.acquire(ctx, id, "regenerate")
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := e.store.Load(runCtx, id)
	if err != nil {
		return nil, err
	}
	if sess.Stage != session.StageDone {
		return nil, &types.PipelineStateError{
			SessionID: id,
			Stage:     string(sess.Stage),
			Op:        "regenerate",
			Reason:    "only a DONE session can be regenerated",
		}
	}

	if err := sess.Transition(session.StageSynthesizing, e.now()); err != nil {
		return nil, err
	}
	metrics.StageTransition(string(session.StageDone), string(session.StageSynthesizing))
	e.publish(events.Event{Type: events.TypeStageChanged, SessionID: id, Stage: string(session.StageSynthesizing), Message: string(session.StageDone)})

	next, err := e.stepSynthesize(runCtx, sess, requirement)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("session %s: regenerate canceled: %w", id, runCtx.Err())
		}
		sess.Fail(err.Error(), e.now())
		metrics.StageTransition(string(session.StageSynthesizing), string(session.StageFailed))
		if serr := e.store.Save(context.WithoutCancel(runCtx), sess); serr != nil {
			logging.SessionError("Session %s: failed to persist failure: %v", id, serr)
		}
		e.publish(events.Event{Type: events.TypeSessionFailed, SessionID: id, Stage: string(session.StageFailed), Message: err.Error()})
		return nil, err
	}

	if err := e.store.Save(runCtx, next); err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", id, err)
	}
	metrics.StageTransition(string(session.StageSynthesizing), string(session.StageDone))
	logging.Orchestrator("Session %s: report regenerated", id)
	e.publish(events.Event{Type: events.TypeReportReady, SessionID: id, Stage: string(session.StageDone)})
	return next.Clone().Report, nil
}
