package types

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFeatureDisabled is returned when an admin flag turns an operation off.
	ErrFeatureDisabled = errors.New("feature disabled")
	// ErrInvalidRequest marks caller input that failed validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderError is a transient failure of a search or completion backend.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err unless it already is a ProviderError.
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// SchemaValidationError means a structured-output call returned data that does not
// match its expected shape.
type SchemaValidationError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("response does not match schema %q: %v", e.Schema, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// PipelineStateError is a caller-contract violation: the operation is not valid for
// the session's current stage, or another run already owns the session.
type PipelineStateError struct {
	SessionID string
	Stage     string
	Op        string
	Reason    string
}

func (e *PipelineStateError) Error() string {
	msg := fmt.Sprintf("session %s: cannot %s in stage %s", e.SessionID, e.Op, e.Stage)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// PlanningError is a fatal failure of the single-shot planning stage.
type PlanningError struct {
	SessionID string
	Err       error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("session %s: planning failed: %v", e.SessionID, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// FatalSynthesisError is a fatal failure of the single-shot synthesis stage.
type FatalSynthesisError struct {
	SessionID string
	Err       error
}

func (e *FatalSynthesisError) Error() string {
	return fmt.Sprintf("session %s: synthesis failed: %v", e.SessionID, e.Err)
}

func (e *FatalSynthesisError) Unwrap() error { return e.Err }

// IsFatal reports whether err moves a session to FAILED.
func IsFatal(err error) bool {
	var pe *PlanningError
	var se *FatalSynthesisError
	return errors.As(err, &pe) || errors.As(err, &se)
}
