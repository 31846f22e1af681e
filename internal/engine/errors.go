package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
)

// RuntimeError represents a failure surfaced by the scheduler loop.
//
// Runtime errors include:
//   - Scenario failure: a body returned an error (usually an unhandled rejection)
//   - Action limit: one Update admitted more actions than allowed
//
// Blocked or validation-rejected actions are not errors, and neither are
// stale settlements; both are dropped silently.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ActionID is the action being processed when the error occurred.
	ActionID int64

	// Scenario identifies the affected scenario, if any.
	Scenario bid.ScenarioID

	// Event identifies the affected event, if any.
	Event event.ID

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying error.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeScenarioFailed indicates a scenario body returned an error.
	ErrCodeScenarioFailed RuntimeErrorCode = "SCENARIO_FAILED"

	// ErrCodeReplayDiverged indicates a replay was aborted.
	ErrCodeReplayDiverged RuntimeErrorCode = "REPLAY_DIVERGED"

	// ErrCodeActionLimit indicates one Update exceeded the action limit.
	ErrCodeActionLimit RuntimeErrorCode = "ACTION_LIMIT"

	// ErrCodeAssertionFailed indicates an in-loop assertion failed.
	ErrCodeAssertionFailed RuntimeErrorCode = "ASSERTION_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Scenario.IsZero() {
		msg += fmt.Sprintf(" (scenario=%s, action=%d)", e.Scenario, e.ActionID)
	} else if e.ActionID != 0 {
		msg += fmt.Sprintf(" (action=%d)", e.ActionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsScenarioError reports whether err is a scenario body failure.
func IsScenarioError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeScenarioFailed
	}
	return false
}

// newScenarioError wraps a body error.
func newScenarioError(id bid.ScenarioID, actionID int64, err error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeScenarioFailed,
		Message:  "scenario body returned an error",
		ActionID: actionID,
		Scenario: id,
		Err:      err,
	}
}

// RejectedError is delivered into a scenario body when one of its pending
// requests (or an extension of its request) is rejected.
type RejectedError struct {
	Event    event.ID
	ActionID int64
	Err      error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request %s rejected: %v", e.Event, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err is (or wraps) a RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
