// Package session holds the research session aggregate: the plan, the query
// rounds and the append-only learnings, sources and images accumulated while a
// topic is researched. Only the orchestrator mutates a Session; everything else
// reads Snapshots or clones.
package session

import (
	"fmt"
	"strings"
	"time"

	"deepresearch/internal/config"
)

// Stage is one state of the research state machine.
type Stage string

const (
	StageInit         Stage = "INIT"
	StageClarifying   Stage = "CLARIFYING"
	StagePlanning     Stage = "PLANNING"
	StageQuerying     Stage = "QUERYING"
	StageExtracting   Stage = "EXTRACTING"
	StageReviewing    Stage = "REVIEWING"
	StageSynthesizing Stage = "SYNTHESIZING"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// Terminal reports whether no further Advance is possible.
func (s Stage) Terminal() bool { return s == StageDone || s == StageFailed }

// transitions lists every legal stage move. DONE -> SYNTHESIZING is regeneration.
var transitions = map[Stage][]Stage{
	StageInit:         {StageClarifying, StagePlanning},
	StageClarifying:   {StagePlanning},
	StagePlanning:     {StageQuerying},
	StageQuerying:     {StageExtracting},
	StageExtracting:   {StageReviewing},
	StageReviewing:    {StageQuerying, StageSynthesizing},
	StageSynthesizing: {StageDone},
	StageDone:         {StageSynthesizing},
}

// CanTransition reports whether from -> to is a legal move. FAILED is reachable
// from every non-terminal stage.
func CanTransition(from, to Stage) bool {
	if to == StageFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Kind distinguishes general research from template-driven profiles.
type Kind string

const (
	KindResearch       Kind = "research"
	KindCompanyProfile Kind = "company-profile"
)

// =============================================================================
// DATA MODEL
// =============================================================================

// PlanSection is one planned report section.
type PlanSection struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// ReportPlan is the ordered section list agreed before research begins.
type ReportPlan struct {
	Sections []PlanSection `json:"sections"`
}

// Markdown renders the plan the way prompts present it.
func (p ReportPlan) Markdown() string {
	var b strings.Builder
	for i, s := range p.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## " + s.Title)
		if s.Summary != "" {
			b.WriteString("\n" + s.Summary)
		}
	}
	return b.String()
}

// SerpQuery is one search query with the goal its results serve.
type SerpQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// DedupeQueries drops empty queries and repeats (trimmed, case-insensitive),
// keeping the first occurrence.
func DedupeQueries(queries []SerpQuery) []SerpQuery {
	seen := make(map[string]bool, len(queries))
	out := make([]SerpQuery, 0, len(queries))
	for _, q := range queries {
		q.Query = strings.TrimSpace(q.Query)
		key := strings.ToLower(q.Query)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

// Learning is an atomic extracted fact. SourceRefs are 1-based citation
// numbers into Session.Sources.
type Learning struct {
	Text       string `json:"text"`
	SourceRefs []int  `json:"sourceRefs,omitempty"`
	Round      int    `json:"round"`
	Query      string `json:"query,omitempty"`
}

// Source is a cited URL. Its citation number is its 1-based position in
// Session.Sources and never changes.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Image is an image harvested during search.
type Image struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Round records one query -> search -> extract iteration.
type Round struct {
	Number     int         `json:"number"`
	Queries    []SerpQuery `json:"queries"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// QueryError records a non-fatal failure.
type QueryError struct {
	Round   int       `json:"round"`
	Query   string    `json:"query,omitempty"`
	Phase   string    `json:"phase"` // search, extract, review, clarify
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ReportMetadata is the structured description of a report carried alongside
// it, so nothing has to be recovered from the prose.
type ReportMetadata struct {
	Kind        Kind   `json:"kind"`
	CompanyName string `json:"companyName,omitempty"`
	County      string `json:"county,omitempty"`
	ReportType  string `json:"reportType,omitempty"`
}

// FinalReport is an immutable synthesis result. Regeneration replaces it.
type FinalReport struct {
	Markdown    string          `json:"markdown"`
	Sources     []Source        `json:"sources"`
	Metadata    *ReportMetadata `json:"metadata,omitempty"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the full mutable state of one research run.
type Session struct {
	ID     string                `json:"id"`
	Topic  string                `json:"topic"`
	Kind   Kind                  `json:"kind"`
	Config config.ResearchConfig `json:"config"`

	// SystemPrompt overrides the default research persona when set.
	SystemPrompt string `json:"systemPrompt,omitempty"`
	// Brief is a pre-written research brief shown alongside the plan when
	// queries are generated.
	Brief string `json:"brief,omitempty"`
	// PageGuidance is the template length hint passed to the report writer.
	PageGuidance string `json:"pageGuidance,omitempty"`

	Questions []string `json:"questions,omitempty"`
	Answers   string   `json:"answers,omitempty"`
	Feedback  []string `json:"feedback,omitempty"`

	Plan           *ReportPlan `json:"plan,omitempty"`
	Rounds         []Round     `json:"rounds,omitempty"`
	PendingQueries []SerpQuery `json:"pendingQueries,omitempty"`

	Learnings []Learning `json:"learnings,omitempty"`
	Sources   []Source   `json:"sources,omitempty"`
	Images    []Image    `json:"images,omitempty"`

	Stage         Stage           `json:"stage"`
	Report        *FinalReport    `json:"report,omitempty"`
	Metadata      *ReportMetadata `json:"metadata,omitempty"`
	Errors        []QueryError    `json:"errors,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates a session in INIT.
func New(id, topic string, cfg config.ResearchConfig, now time.Time) *Session {
	return &Session{
		ID:        id,
		Topic:     topic,
		Kind:      KindResearch,
		Config:    cfg,
		Stage:     StageInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RoundCount is the number of executed rounds.
func (s *Session) RoundCount() int { return len(s.Rounds) }

// RoundLimitReached applies the termination predicate for the review loop.
func (s *Session) RoundLimitReached() bool {
	return s.Config.MaxRounds > 0 && s.RoundCount() >= s.Config.MaxRounds
}

// Transition moves the session to stage to.
func (s *Session) Transition(to Stage, now time.Time) error {
	if !CanTransition(s.Stage, to) {
		return fmt.Errorf("illegal transition %s -> %s", s.Stage, to)
	}
	s.Stage = to
	s.UpdatedAt = now
	return nil
}

// Fail moves the session to FAILED with reason.
func (s *Session) Fail(reason string, now time.Time) {
	s.Stage = StageFailed
	s.FailureReason = reason
	s.UpdatedAt = now
}

// AddSource returns the citation number of src, appending it when its URL has
// not been seen. A missing title is filled in without renumbering.
func (s *Session) AddSource(src Source) int {
	for i, existing := range s.Sources {
		if existing.URL == src.URL {
			if existing.Title == "" && src.Title != "" {
				s.Sources[i].Title = src.Title
			}
			return i + 1
		}
	}
	s.Sources = append(s.Sources, src)
	return len(s.Sources)
}

// AddImage appends img unless its URL is already present.
func (s *Session) AddImage(img Image) bool {
	if img.URL == "" {
		return false
	}
	for _, existing := range s.Images {
		if existing.URL == img.URL {
			return false
		}
	}
	s.Images = append(s.Images, img)
	return true
}

// AddLearning appends l, dropping refs outside the source list.
func (s *Session) AddLearning(l Learning) {
	refs := l.SourceRefs[:0:0]
	seen := make(map[int]bool, len(l.SourceRefs))
	for _, ref := range l.SourceRefs {
		if ref >= 1 && ref <= len(s.Sources) && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	l.SourceRefs = refs
	s.Learnings = append(s.Learnings, l)
}

// RecordError appends a non-fatal failure.
func (s *Session) RecordError(e QueryError) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.Errors = append(s.Errors, e)
}

// LearningsText renders learnings for review and synthesis prompts, with each
// learning's citation numbers appended.
func (s *Session) LearningsText() string {
	var b strings.Builder
	for i, l := range s.Learnings {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("<learning>\n")
		b.WriteString(l.Text)
		for _, ref := range l.SourceRefs {
			fmt.Fprintf(&b, " [%d]", ref)
		}
		b.WriteString("\n</learning>")
	}
	return b.String()
}

// Clone returns a deep copy used as a round's working copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Questions = append([]string(nil), s.Questions...)
	c.Feedback = append([]string(nil), s.Feedback...)
	if s.Plan != nil {
		plan := ReportPlan{Sections: append([]PlanSection(nil), s.Plan.Sections...)}
		c.Plan = &plan
	}
	c.Rounds = make([]Round, len(s.Rounds))
	for i, r := range s.Rounds {
		r.Queries = append([]SerpQuery(nil), r.Queries...)
		c.Rounds[i] = r
	}
	if s.Rounds == nil {
		c.Rounds = nil
	}
	c.PendingQueries = append([]SerpQuery(nil), s.PendingQueries...)
	c.Learnings = make([]Learning, len(s.Learnings))
	for i, l := range s.Learnings {
		l.SourceRefs = append([]int(nil), l.SourceRefs...)
		c.Learnings[i] = l
	}
	if s.Learnings == nil {
		c.Learnings = nil
	}
	c.Sources = append([]Source(nil), s.Sources...)
	c.Images = append([]Image(nil), s.Images...)
	c.Errors = append([]QueryError(nil), s.Errors...)
	if s.Report != nil {
		r := *s.Report
		r.Sources = append([]Source(nil), s.Report.Sources...)
		if r.Metadata != nil {
			m := *r.Metadata
			r.Metadata = &m
		}
		c.Report = &r
	}
	if s.Metadata != nil {
		m := *s.Metadata
		c.Metadata = &m
	}
	return &c
}
