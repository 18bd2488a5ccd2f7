package session

import "time"

// Snapshot is the read-only view returned after every Advance.
type Snapshot struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Topic          string          `json:"topic"`
	Stage          Stage           `json:"stage"`
	Round          int             `json:"round"`
	Plan           *ReportPlan     `json:"plan,omitempty"`
	PendingQueries []SerpQuery     `json:"pendingQueries,omitempty"`
	Questions      []string        `json:"questions,omitempty"`
	LearningCount  int             `json:"learningCount"`
	SourceCount    int             `json:"sourceCount"`
	ImageCount     int             `json:"imageCount"`
	ErrorCount     int             `json:"errorCount"`
	HasReport      bool            `json:"hasReport"`
	Metadata       *ReportMetadata `json:"metadata,omitempty"`
	Error          string          `json:"error,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Snapshot returns a consistent view of s. Slices are copied.
func (s *Session) Snapshot() Snapshot {
	c := s.Clone()
	return Snapshot{
		ID:             c.ID,
		Kind:           c.Kind,
		Topic:          c.Topic,
		Stage:          c.Stage,
		Round:          c.RoundCount(),
		Plan:           c.Plan,
		PendingQueries: c.PendingQueries,
		Questions:      c.Questions,
		LearningCount:  len(c.Learnings),
		SourceCount:    len(c.Sources),
		ImageCount:     len(c.Images),
		ErrorCount:     len(c.Errors),
		HasReport:      c.Report != nil,
		Metadata:       c.Metadata,
		Error:          c.FailureReason,
		UpdatedAt:      c.UpdatedAt,
	}
}
