package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/config"
	"deepresearch/internal/events"
	"deepresearch/internal/logging"
	"deepresearch/internal/metrics"
	"deepresearch/internal/profile"
	"deepresearch/internal/sections"
	"deepresearch/internal/session"
	"deepresearch/internal/store"
	"deepresearch/internal/types"
)

// StartSession creates a research session in INIT. overrides are merged over
// the engine defaults, clamped by the admin flags and validated here, once.
func (e *Engine) StartSession(ctx context.Context, topic string, overrides config.ResearchConfig) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("%w: topic is required", types.ErrInvalidRequest)
	}

	rc, err := e.resolve(overrides)
	if err != nil {
		return "", err
	}

	now := e.now()
	sess := session.New(e.newID(), topic, rc, now)
	sess.Metadata = &session.ReportMetadata{Kind: session.KindResearch}
	logging.SessionDebug("Session %s resolved: provider=%q model=%q pages=%d skipClarify=%v",
		sess.ID, rc.SearchProvider, rc.Model, rc.ReportPages, rc.SkipClarification)

	if err := e.store.Save(ctx, sess); err != nil {
		logging.SessionError("Failed to save new session %s: %v", sess.ID, err)
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	metrics.SessionStarted(string(sess.Kind))
	logging.Session("Started session %s: %q (parallel=%d, results=%d, rounds=%d)",
		sess.ID, topic, rc.ParallelSearch, rc.SearchMaxResult, rc.MaxRounds)
	e.publish(events.Event{Type: events.TypeSessionStarted, SessionID: sess.ID, Stage: string(sess.Stage), Message: topic})
	return sess.ID, nil
}

// StartCompanyProfile creates a session that starts at PLANNING with the plan
// of the requested template. Clarification and plan generation never run.
func (e *Engine) StartCompanyProfile(ctx context.Context, req profile.Request, overrides config.ResearchConfig) (string, error) {
	if !e.admin.EnableCompanyProfiles {
		return "", fmt.Errorf("company profiles: %w", types.ErrFeatureDisabled)
	}

	req, err := req.Normalize()
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	tmpl, err := profile.Resolve(req.ReportType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}

	if req.Model != "" {
		overrides.Model = req.Model
	}
	if overrides.ReportPages == 0 {
		overrides.ReportPages = tmpl.MaxPages
	}
	overrides.SkipClarification = true
	rc, err := e.resolve(overrides)
	if err != nil {
		return "", err
	}

	brief, err := profile.BuildPrompt(e.prompts, req)
	if err != nil {
		return "", err
	}
	now := e.now()
	system, err := e.prompts.CompanyProfileSystem(now)
	if err != nil {
		return "", err
	}

	sess := session.New(e.newID(), req.Topic(), rc, now)
	sess.Kind = session.KindCompanyProfile
	sess.SystemPrompt = system
	sess.Brief = brief
	sess.PageGuidance = tmpl.PageGuidance()
	plan := tmpl.Plan()
	sess.Plan = &plan
	meta := req.Metadata()
	sess.Metadata = &meta
	if err := sess.Transition(session.StagePlanning, now); err != nil {
		return "", err
	}

	if err := e.store.Save(ctx, sess); err != nil {
		logging.SessionError("Failed to save new company profile %s: %v", sess.ID, err)
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	metrics.SessionStarted(string(sess.Kind))
	logging.Session("Started company profile %s: %s, %s County, %s", sess.ID, req.CompanyName, req.County, req.ReportType)
	e.publish(events.Event{Type: events.TypeSessionStarted, SessionID: sess.ID, Stage: string(sess.Stage), Message: sess.Topic})
	return sess.ID, nil
}

func (e *Engine) resolve(overrides config.ResearchConfig) (config.ResearchConfig, error) {
	rc, err := config.Resolve(overrides, e.defaults, e.admin)
	if err != nil {
		if errors.Is(err, types.ErrFeatureDisabled) {
			return rc, err
		}
		return rc, fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	return rc, nil
}

// Snapshot returns the current view of id without advancing it.
func (e *Engine) Snapshot(ctx context.Context, id string) (session.Snapshot, error) {
	sess, err := e.store.Load(ctx, id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Session returns a copy of the full session state.
func (e *Engine) Session(ctx context.Context, id string) (*session.Session, error) {
	return e.store.Load(ctx, id)
}

// Sessions lists stored sessions, most recent first.
func (e *Engine) Sessions(ctx context.Context) ([]store.Summary, error) {
	return e.store.List(ctx)
}

// GetFinalReport returns the report of a DONE session.
func (e *Engine) GetFinalReport(ctx context.Context, id string) (*session.FinalReport, error) {
	sess, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Stage != session.StageDone || sess.Report == nil {
		return nil, &types.PipelineStateError{
			SessionID: id,
			Stage:     string(sess.Stage),
			Op:        "get final report",
			Reason:    "report is only available once the session is DONE",
		}
	}
	return sess.Clone().Report, nil
}

// ParseSections splits a report into ordered sections using the engine taxonomy.
func (e *Engine) ParseSections(markdown string) []sections.Section {
	return sections.Parse(markdown, e.taxonomy)
}

// GenerateKnowledgeGraph returns Mermaid source describing text.
func (e *Engine) GenerateKnowledgeGraph(ctx context.Context, text string) (string, error) {
	return e.graph.Generate(ctx, text)
}
