// Package report turns a researched session into the final markdown report and
// enforces the citation rules on whatever the model wrote.
package report

import (
	"context"
	"errors"
	"strings"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/prompt"
	"deepresearch/internal/session"
	"deepresearch/internal/types"
)

// Synthesizer writes final reports with a single completion call.
type Synthesizer struct {
	provider types.CompletionProvider
	prompts  *prompt.Library
	now      func() time.Time
}

// NewSynthesizer creates a Synthesizer. A nil library uses the embedded prompts.
func NewSynthesizer(provider types.CompletionProvider, prompts *prompt.Library) *Synthesizer {
	if prompts == nil {
		prompts = prompt.Default()
	}
	return &Synthesizer{provider: provider, prompts: prompts, now: time.Now}
}

// Synthesize writes the report for sess. sess is only read. The returned
// report carries a snapshot of the sources its citations point into.
func (s *Synthesizer) Synthesize(ctx context.Context, sess *session.Session, requirement string) (*session.FinalReport, error) {
	timer := logging.StartTimer(logging.CategoryReport, "Synthesizer.Synthesize")
	defer timer.StopWithThreshold(time.Minute)

	cfg := sess.Config
	now := s.now()

	in := prompt.FinalReportInput{
		Learnings:    sess.LearningsText(),
		Requirement:  strings.TrimSpace(requirement),
		Pages:        cfg.ReportPages,
		PageGuidance: sess.PageGuidance,
		Citations:    cfg.ReferencesEnabled(),
	}
	if sess.Plan != nil {
		in.Plan = sess.Plan.Markdown()
	} else {
		in.Plan = sess.Topic
	}
	for i, src := range sess.Sources {
		in.Sources = append(in.Sources, prompt.SourceLine{Index: i + 1, URL: src.URL, Title: src.Title})
	}
	if cfg.CitationImagesEnabled() {
		for _, img := range sess.Images {
			in.Images = append(in.Images, prompt.ImageLine{URL: img.URL, Description: img.Description})
		}
	}

	userPrompt, err := s.prompts.FinalReport(in)
	if err != nil {
		return nil, err
	}
	system, err := s.system(sess, now)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.GetCompletionTimeout())
	defer cancel()

	logging.Report("Synthesizing report for %s: %d learnings, %d sources, %d images",
		sess.ID, len(sess.Learnings), len(sess.Sources), len(in.Images))

	raw, err := s.provider.Complete(callCtx, types.CompletionRequest{
		System: system,
		Prompt: userPrompt,
		Model:  cfg.Model,
	})
	if err != nil {
		logging.ReportError("Synthesis failed for %s: %v", sess.ID, err)
		return nil, types.NewProviderError("completion", "synthesize", err)
	}

	markdown := Clean(raw, len(sess.Sources), cfg.ReferencesEnabled())
	if cfg.ReferencesEnabled() {
		if dropped := len(CitedNumbers(raw)) - len(CitedNumbers(markdown)); dropped > 0 {
			logging.ReportWarn("Report for %s cited %d unknown sources; markers dropped", sess.ID, dropped)
		}
	}
	if markdown == "" {
		return nil, errors.New("model returned an empty report")
	}

	report := &session.FinalReport{
		Markdown:    markdown,
		Sources:     append([]session.Source(nil), sess.Sources...),
		GeneratedAt: now.UTC(),
	}
	if sess.Metadata != nil {
		meta := *sess.Metadata
		report.Metadata = &meta
	}

	logging.ReportDebug("Report for %s: %d bytes, %d distinct citations",
		sess.ID, len(markdown), len(CitedNumbers(markdown)))
	return report, nil
}

// system is the session's persona, or the default research persona, followed
// by the typographical rules.
func (s *Synthesizer) system(sess *session.Session, now time.Time) (string, error) {
	if sess.SystemPrompt == "" {
		return s.prompts.SynthesisSystem(now)
	}
	guide, err := s.prompts.Render(prompt.IDOutputGuidelines, nil)
	if err != nil {
		return "", err
	}
	return sess.SystemPrompt + "\n\n" + guide, nil
}
