package harness

import (
	"github.com/roach88/bpflow/internal/engine"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Errors are the failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Failures are the scenario body failures seen during the run.
	Failures []string `json:"failures,omitempty"`

	// Trace is the payload-free causality of the run.
	Trace []engine.TraceRecord `json:"trace"`

	// Replay is the final replay status.
	Replay engine.ReplayStatus `json:"replay"`

	// Actions is the id of the last action.
	Actions int64 `json:"actions"`

	// Digest is the content digest of Trace.
	Digest string `json:"digest"`

	// Log is the full execution log, payloads included.
	Log *engine.Log `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		Trace:  []engine.TraceRecord{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
