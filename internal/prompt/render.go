package prompt

import (
	"encoding/json"
	"fmt"
	"time"

	"deepresearch/internal/types"
)

// Context is one numbered block of search or knowledge base text offered to the
// extraction model. Index is local to the prompt (1-based).
type Context struct {
	Index   int
	URL     string
	Title   string
	Content string
}

// SourceLine is one numbered entry of the session source list.
type SourceLine struct {
	Index int
	URL   string
	Title string
}

// ImageLine is an image offered to the synthesizer.
type ImageLine struct {
	URL         string
	Description string
}

// PlanInput carries the topic and the clarification exchange.
type PlanInput struct {
	Query     string
	Questions []string
	Answers   string
}

// FinalReportInput carries everything the synthesizer sees.
type FinalReportInput struct {
	Plan        string
	Learnings   string
	Sources     []SourceLine
	Images      []ImageLine // nil when image citation is disabled
	Requirement string
	Pages       int
	// PageGuidance is the report type's length range, empty for open research.
	PageGuidance string
	Citations    bool
}

// ProfileInput parameterizes the company profile research brief.
type ProfileInput struct {
	CompanyName     string
	County          string
	ReportType      string
	ReportStructure string
	PageGuidance    string
}

const dateLayout = "2006-01-02"

// System renders the base system instruction dated now.
func (l *Library) System(now time.Time) (string, error) {
	return l.Render(IDSystem, map[string]any{"Now": now.Format(dateLayout)})
}

// SynthesisSystem is System followed by the typographical rules.
func (l *Library) SynthesisSystem(now time.Time) (string, error) {
	sys, err := l.System(now)
	if err != nil {
		return "", err
	}
	guide, err := l.Render(IDOutputGuidelines, nil)
	if err != nil {
		return "", err
	}
	return sys + "\n\n" + guide, nil
}

// CompanyProfileSystem renders the company profile analyst persona.
func (l *Library) CompanyProfileSystem(now time.Time) (string, error) {
	return l.Render(IDCompanyProfileSystem, map[string]any{"Now": now.Format(dateLayout)})
}

// Clarify asks for follow-up questions about query.
func (l *Library) Clarify(query string) (string, error) {
	return l.Render(IDClarify, map[string]any{"Query": query})
}

// Plan asks for the report section plan.
func (l *Library) Plan(in PlanInput) (string, error) {
	return l.Render(IDPlan, in)
}

// SerpQueries asks for the first query batch from a rendered plan.
func (l *Library) SerpQueries(plan string) (string, error) {
	return l.Render(IDSerpQueries, map[string]any{"Plan": plan})
}

// SearchResult asks for learnings from web contexts.
func (l *Library) SearchResult(query, goal string, contexts []Context) (string, error) {
	return l.Render(IDSearchResult, map[string]any{"Query": query, "Goal": goal, "Contexts": contexts})
}

// KnowledgeResult asks for learnings from knowledge base contexts.
func (l *Library) KnowledgeResult(query, goal string, contexts []Context) (string, error) {
	return l.Render(IDKnowledgeResult, map[string]any{"Query": query, "Goal": goal, "Contexts": contexts})
}

// Review asks whether more research is needed.
func (l *Library) Review(plan, learnings, suggestion string) (string, error) {
	return l.Render(IDReview, map[string]any{"Plan": plan, "Learnings": learnings, "Suggestion": suggestion})
}

// FinalReport asks for the cited long-form report.
func (l *Library) FinalReport(in FinalReportInput) (string, error) {
	if in.Pages <= 0 {
		in.Pages = 5
	}
	return l.Render(IDFinalReport, in)
}

// KnowledgeGraph asks for a Mermaid diagram of text.
func (l *Library) KnowledgeGraph(text string) (string, error) {
	return l.Render(IDKnowledgeGraph, map[string]any{"Text": text})
}

// CompanyProfileResearch renders the research brief for one company.
func (l *Library) CompanyProfileResearch(in ProfileInput) (string, error) {
	return l.Render(IDCompanyProfileResearch, in)
}

// WithSchema appends the JSON schema instruction to prompt.
func (l *Library) WithSchema(prompt string, schema *types.Schema) (string, error) {
	if schema == nil {
		return prompt, nil
	}
	def, err := json.MarshalIndent(schema.Definition, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema %s: %w", schema.Name, err)
	}
	instr, err := l.Render(IDSchemaInstruction, map[string]any{"Schema": string(def)})
	if err != nil {
		return "", err
	}
	return prompt + "\n\n" + instr, nil
}
