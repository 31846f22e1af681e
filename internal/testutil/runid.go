package testutil

// DefaultRunID is used by FixedRunIDGenerator when no id is given.
const DefaultRunID = "test-run-default"

// FixedRunIDGenerator returns the same run id every time, including after
// engine resets, so that logs of repeated runs compare byte for byte.
//
// Unlike engine.FixedGenerator, which returns ids in sequence and panics
// when exhausted, this generator never runs out.
//
// Settlements from before a Reset are dropped by run id, so an engine that
// is reset while async work is in flight needs distinct ids instead.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator for id. An empty id uses
// DefaultRunID.
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = DefaultRunID
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run id.
//
// Implements engine.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
