package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
)

func sampleTrace() []engine.TraceRecord {
	return []engine.TraceRecord{
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
}

func TestTraceValue_Encoding(t *testing.T) {
	v, err := TraceValue(sampleTrace())
	require.NoError(t, err)
	got, err := MarshalCanonical(v)
	require.NoError(t, err)

	want := `[` +
		`{"action_id":1,"event":{"name":"login"},"reactions":[{"scenario":{"name":"user"},"section":"logged in","type":"progress"}],"scenario":{"name":"user"},"type":"requestedAction"},` +
		`{"action_id":2,"event":{"key":1,"name":"cart"},"reactions":[],"type":"uiAction"}` +
		`]`
	assert.Equal(t, want, string(got))
}

func TestTraceDigest_Stable(t *testing.T) {
	a, err := TraceDigest(sampleTrace())
	require.NoError(t, err)
	b, err := TraceDigest(sampleTrace())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestTraceDigest_Known(t *testing.T) {
	digest, err := TraceDigest(sampleTrace())
	require.NoError(t, err)
	assert.Equal(t, "36cebe166451e00d464ac974b795bc13902d5b4a5831d920ffb8b24c961eca6c", digest)
}

func TestTraceDigest_KeyTypeMatters(t *testing.T) {
	intKeyed := sampleTrace()
	strKeyed := sampleTrace()
	strKeyed[1].Event = event.Keyed("cart", event.StringKey("1"))

	a, err := TraceDigest(intKeyed)
	require.NoError(t, err)
	b, err := TraceDigest(strKeyed)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTraceDigest_ReactionChangesDigest(t *testing.T) {
	base := sampleTrace()
	changed := sampleTrace()
	changed[0].Reactions[0].Section = "other"

	a, err := TraceDigest(base)
	require.NoError(t, err)
	b, err := TraceDigest(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTraceDigest_DomainSeparated(t *testing.T) {
	v, err := TraceValue(sampleTrace())
	require.NoError(t, err)
	data, err := MarshalCanonical(v)
	require.NoError(t, err)

	digest, err := TraceDigest(sampleTrace())
	require.NoError(t, err)
	assert.Equal(t, hashWithDomain(DomainTrace, data), digest)
	assert.NotEqual(t, hashWithDomain(DomainPayload, data), digest)
}

func TestPayloadDigest(t *testing.T) {
	a, err := PayloadDigest(map[string]any{"x": 1, "y": "z"})
	require.NoError(t, err)
	b, err := PayloadDigest(map[string]any{"y": "z", "x": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = PayloadDigest(2.5)
	assert.Error(t, err)
}
