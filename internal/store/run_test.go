package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
	"github.com/roach88/bpflow/internal/ir"
)

func sampleRun() *Run {
	user := bid.ScenarioID{Name: "user", Key: event.IntKey(7)}
	return &Run{
		Name:    "login",
		Catalog: "tickets",
		Props:   map[string]any{"limit": 3},
		Entries: []engine.Entry{
			{
				Action: engine.Action{
					ID:      1,
					Type:    engine.ActionUI,
					Event:   event.Named("login"),
					Payload: map[string]any{"name": "Thomas", "age": 42, "big": int64(1) << 60, "ratio": 0.5},
				},
				Reactions: []engine.Reaction{
					{ActionID: 1, Scenario: user, Type: engine.ReactionProgress, Event: event.Named("login"), Section: "logging in"},
				},
			},
			{
				Action: engine.Action{
					ID:              2,
					Type:            engine.ActionRequested,
					Event:           event.Keyed("fetch", event.StringKey("7")),
					Scenario:        user,
					BidKind:         bid.KindRequest,
					Pending:         true,
					ResolveActionID: 3,
				},
				Reactions: []engine.Reaction{
					{ActionID: 2, Scenario: user, Type: engine.ReactionPending, Event: event.Keyed("fetch", event.StringKey("7"))},
				},
				Pending: []event.ID{event.Keyed("fetch", event.StringKey("7"))},
			},
			{
				Action: engine.Action{
					ID:              3,
					Type:            engine.ActionReject,
					Event:           event.Keyed("fetch", event.StringKey("7")),
					Scenario:        user,
					RequestActionID: 2,
					Error:           "timeout",
				},
				Reactions: []engine.Reaction{
					{ActionID: 3, Scenario: user, Type: engine.ReactionReject, Err: "timeout", Cancelled: []event.ID{event.Named("other")}},
					{ActionID: 3, Scenario: user, Type: engine.ReactionReset, ChangedProps: []string{"name"}},
				},
			},
		},
	}
}

func TestWriteRun_AssignsIDSeqAndDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := sampleRun()
	require.NoError(t, s.WriteRun(ctx, run))

	id, err := uuid.Parse(run.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Equal(t, int64(1), run.Seq)
	assert.Equal(t, ir.EngineVersion, run.EngineVersion)

	digest, err := ir.TraceDigest(run.Trace())
	require.NoError(t, err)
	assert.Equal(t, digest, run.Digest)

	second := sampleRun()
	require.NoError(t, s.WriteRun(ctx, second))
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, run.Digest, second.Digest, "equal traces have equal digests")
}

func TestWriteRun_DuplicateIDFails(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := sampleRun()
	run.ID = "fixed"
	require.NoError(t, s.WriteRun(ctx, run))

	again := sampleRun()
	again.ID = "fixed"
	assert.Error(t, s.WriteRun(ctx, again))

	runs, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1, "failed write leaves nothing behind")
}

func TestWriteRun_UnencodablePayloadRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := sampleRun()
	run.Entries[1].Action.Payload = make(chan int)
	require.Error(t, s.WriteRun(ctx, run))

	runs, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestReadRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := sampleRun()
	require.NoError(t, s.WriteRun(ctx, run))

	got, err := s.ReadRun(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.Name, got.Name)
	assert.Equal(t, run.Catalog, got.Catalog)
	assert.Equal(t, map[string]any{"limit": int64(3)}, got.Props)
	assert.Equal(t, run.Digest, got.Digest)
	assert.Equal(t, run.Trace(), got.Trace())
	require.Len(t, got.Entries, 3)

	login := got.Entries[0].Action
	assert.Equal(t, map[string]any{
		"name":  "Thomas",
		"age":   int64(42),
		"big":   int64(1) << 60,
		"ratio": 0.5,
	}, login.Payload)

	fetch := got.Entries[1].Action
	assert.Equal(t, event.Keyed("fetch", event.StringKey("7")), fetch.Event)
	assert.Equal(t, bid.ScenarioID{Name: "user", Key: event.IntKey(7)}, fetch.Scenario)
	assert.Equal(t, bid.KindRequest, fetch.BidKind)
	assert.True(t, fetch.Pending)
	assert.Nil(t, fetch.Payload)
	assert.Equal(t, int64(3), fetch.ResolveActionID)
	assert.Equal(t, []event.ID{event.Keyed("fetch", event.StringKey("7"))}, got.Entries[1].Pending)

	reject := got.Entries[2]
	assert.Equal(t, int64(2), reject.Action.RequestActionID)
	assert.EqualError(t, reject.Action.Err(), "timeout")
	assert.Equal(t, run.Entries[2].Reactions, reject.Reactions)
}

func TestReadRun_NilPropsReadAsEmpty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := &Run{Name: "empty", Catalog: "counter"}
	require.NoError(t, s.WriteRun(ctx, run))

	got, err := s.ReadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, got.Props)
	assert.Empty(t, got.Entries)
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListRuns_InsertionOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "c"} {
		run := sampleRun()
		run.Name = name
		require.NoError(t, s.WriteRun(ctx, run))
	}
	empty := &Run{Name: "empty", Catalog: "counter"}
	require.NoError(t, s.WriteRun(ctx, empty))

	runs, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 4)

	var names []string
	for _, r := range runs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"b", "a", "c", "empty"}, names)
	assert.Equal(t, 3, runs[0].Actions)
	assert.Equal(t, 0, runs[3].Actions)
}

func TestLatestRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := sampleRun()
	require.NoError(t, s.WriteRun(ctx, first))
	other := sampleRun()
	other.Name = "other"
	require.NoError(t, s.WriteRun(ctx, other))

	id, err := s.LatestRun(ctx, RunFilter{Name: "login"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, id)

	id, err = s.LatestRun(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, other.ID, id)

	_, err = s.LatestRun(ctx, RunFilter{Name: "nope"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListRuns_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	login := sampleRun()
	require.NoError(t, s.WriteRun(ctx, login))
	counter := &Run{Name: "counter_live", Catalog: "counter"}
	require.NoError(t, s.WriteRun(ctx, counter))
	again := sampleRun()
	require.NoError(t, s.WriteRun(ctx, again))

	runs, err := s.ListRuns(ctx, RunFilter{Catalog: "tickets"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, login.ID, runs[0].ID)
	assert.Equal(t, again.ID, runs[1].ID)

	runs, err = s.ListRuns(ctx, RunFilter{Name: "counter_live", Catalog: "counter"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, counter.ID, runs[0].ID)

	runs, err = s.ListRuns(ctx, RunFilter{Name: "login", Catalog: "counter"})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLatestRun_ByCatalog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	counter := &Run{Name: "counter_live", Catalog: "counter"}
	require.NoError(t, s.WriteRun(ctx, counter))
	require.NoError(t, s.WriteRun(ctx, sampleRun()))

	id, err := s.LatestRun(ctx, RunFilter{Catalog: "counter"})
	require.NoError(t, err)
	assert.Equal(t, counter.ID, id)
}

func TestRun_Replay(t *testing.T) {
	run := sampleRun()
	r := run.Replay()

	require.Len(t, r.Actions, 3)
	for i, a := range r.Actions {
		assert.Equal(t, run.Entries[i].Action, a.Action)
		assert.NotNil(t, a.Reacting)
		assert.ElementsMatch(t, run.Entries[i].Responders(), a.Reacting)
		assert.False(t, a.Verify)
		assert.False(t, a.LivePayload)
	}
}
