package store

import (
	"github.com/roach88/bpflow/internal/engine"
)

// Run is an archived run.
type Run struct {
	// ID is assigned by WriteRun when empty.
	ID      string
	Name    string
	Catalog string
	// Props are the catalog props the run was staged with.
	Props map[string]any

	// Digest and Seq are filled in by WriteRun.
	Digest string
	Seq    int64

	EngineVersion string
	Entries       []engine.Entry
}

// RunSummary is a row of ListRuns.
type RunSummary struct {
	ID      string `json:"id"`
	Seq     int64  `json:"seq"`
	Name    string `json:"name"`
	Catalog string `json:"catalog"`
	Digest  string `json:"digest"`
	Actions int    `json:"actions"`
}

// Trace returns the trace of the archived entries.
func (r Run) Trace() []engine.TraceRecord {
	return engine.TraceOf(r.Entries)
}

// Replay turns the archived entries into a replay that injects every
// recorded action and checks who reacted to it.
func (r Run) Replay() engine.Replay {
	return engine.ReplayOf(r.Entries)
}
