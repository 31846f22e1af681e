package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/demo"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
	"github.com/roach88/bpflow/internal/ir"
)

func sampleResult(t *testing.T) *Result {
	t.Helper()
	r := NewResult()
	r.Trace = []engine.TraceRecord{
		{
			ActionID: 1,
			Type:     engine.ActionRequested,
			Event:    event.Named("login"),
			Scenario: bid.ScenarioID{Name: "user"},
			Reactions: []engine.TraceReaction{
				{Scenario: bid.ScenarioID{Name: "user"}, Type: engine.ReactionProgress, Section: "logged in"},
			},
		},
		{
			ActionID:  2,
			Type:      engine.ActionUI,
			Event:     event.Keyed("cart", event.IntKey(1)),
			Reactions: []engine.TraceReaction{},
		},
	}
	var err error
	r.Digest, err = ir.TraceDigest(r.Trace)
	require.NoError(t, err)
	return r
}

func TestAssertGolden_SampleTrace(t *testing.T) {
	require.NoError(t, AssertGolden(t, "sample_trace", sampleResult(t)))
}

func TestSnapshot_EndsWithNewline(t *testing.T) {
	data, err := Snapshot("sample_trace", sampleResult(t))
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])
	assert.Contains(t, string(data), `"scenario":"sample_trace"`)
}

func TestUpdateGolden_ThenAssert(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadScenario("testdata/scenarios/counter_live.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), demo.Registry(nil), s)
	require.NoError(t, err)
	require.NoError(t, UpdateGolden(t, s.Name, first, goldie.WithFixtureDir(dir)))

	second, err := Run(context.Background(), demo.Registry(nil), s)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, s.Name, second, goldie.WithFixtureDir(dir)))
}
