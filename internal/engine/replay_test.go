package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
	"github.com/roach88/bpflow/internal/promise"
)

var (
	evCount = event.Named("count")
	evFetch = event.Named("fetch")
)

// counterStage counts to three, then fetches asynchronously through fetch.
func counterStage(fetch *promise.Promise) StagingFunc {
	return func(s *Stage) {
		s.Enable(scenario("counter", func(t *Thread, _ Props) error {
			for i := 0; i < 3; i++ {
				_, err := t.Set(evCount, bid.PayloadFunc(func(cur any) any {
					n, _ := cur.(int)
					return n + 1
				}))
				if err != nil {
					return err
				}
			}
			t.Section("fetching")
			if _, err := t.Request(evFetch, fetch); err != nil {
				return err
			}
			t.Section("done")
			return nil
		}), nil)
		s.Enable(scenario("watcher", func(t *Thread, _ Props) error {
			for {
				if _, err := t.Wait(evCount, nil); err != nil {
					return err
				}
			}
		}), nil)
	}
}

// recordCounterRun runs counterStage live to completion.
func recordCounterRun(t *testing.T) *Engine {
	t.Helper()
	fetch := promise.New()
	e := newTestEngine(counterStage(fetch))
	mustUpdate(t, e)
	require.True(t, fetch.Resolve("ok"))
	c := mustUpdate(t, e)
	require.Equal(t, int64(5), c.ActionID)
	return e
}

func TestReplay_RoundTripReproducesTrace(t *testing.T) {
	live := recordCounterRun(t)
	rec := RecordReplay(live.Log())
	require.Len(t, rec.Actions, 5)

	// The replay's own fetch never settles; the recorded resolve stands in.
	e := newTestEngine(counterStage(promise.New()))
	c, err := e.StartReplay(rec)
	require.NoError(t, err)

	assert.Equal(t, ReplayCompleted, c.Replay.State)
	assert.Equal(t, 5, c.Replay.Consumed)
	assert.Equal(t, live.Log().Trace(), e.Log().Trace())
	assert.Equal(t, 3, c.Value(evCount))
	assert.Equal(t, []any{1, 2, 3}, c.Event(evCount).History)

	counter, _ := c.Scenario(sid("counter"))
	assert.True(t, counter.Completed)
	assert.Equal(t, "done", counter.Section)
}

func TestReplay_WrongScenarioAborts(t *testing.T) {
	live := recordCounterRun(t)
	rec := RecordReplay(live.Log())
	rec.Actions[1].Scenario = sid("impostor")

	e := newTestEngine(counterStage(promise.New()))
	c, err := e.StartReplay(rec)

	require.Error(t, err)
	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeReplayDiverged, re.Code)

	assert.Equal(t, ReplayAborted, c.Replay.State)
	require.NotNil(t, c.Replay.Abort)
	assert.Equal(t, int64(2), c.Replay.Abort.ActionID)
	assert.Contains(t, c.Replay.Abort.Reason, "impostor")
	assert.False(t, c.InReplay())

	// The loop continued live after the abort.
	assert.Equal(t, 3, c.Value(evCount))
	assert.True(t, c.Event(evFetch).Pending)
}

func TestReplay_RecordedPayloadIsInjected(t *testing.T) {
	live := recordCounterRun(t)
	rec := RecordReplay(live.Log())
	rec.Actions[0].Payload = 10

	e := newTestEngine(counterStage(promise.New()))
	c, err := e.StartReplay(rec)
	require.NoError(t, err)

	assert.Equal(t, ReplayCompleted, c.Replay.State)
	assert.Equal(t, []any{10, 2, 3}, c.Event(evCount).History)
}

func TestReplay_LivePayloadUsesScenarioBid(t *testing.T) {
	live := recordCounterRun(t)
	rec := RecordReplay(live.Log())
	rec.Actions[0].Payload = 10
	rec.Actions[0].LivePayload = true

	e := newTestEngine(counterStage(promise.New()))
	c, err := e.StartReplay(rec)
	require.NoError(t, err)

	assert.Equal(t, []any{1, 2, 3}, c.Event(evCount).History)
}

func TestReplay_VerifyFollowsLiveRun(t *testing.T) {
	live := recordCounterRun(t)
	rec := RecordReplay(live.Log())
	for i := range rec.Actions {
		rec.Actions[i].Verify = true
	}

	fetch := promise.New()
	e := newTestEngine(counterStage(fetch))
	c, err := e.StartReplay(rec)
	require.NoError(t, err)

	// Waiting on live async work is not a divergence.
	assert.Equal(t, ReplayRunning, c.Replay.State)
	assert.Equal(t, 4, c.Replay.Consumed)
	assert.True(t, c.InReplay())

	require.True(t, fetch.Resolve("ok"))
	c = mustUpdate(t, e)
	assert.Equal(t, ReplayCompleted, c.Replay.State)
}

func TestReplay_VerifyMismatchAborts(t *testing.T) {
	live := recordCounterRun(t)
	rec := RecordReplay(live.Log())
	for i := range rec.Actions {
		rec.Actions[i].Verify = true
	}
	rec.Actions[2].Event = event.Named("other")

	e := newTestEngine(counterStage(promise.New()))
	c, err := e.StartReplay(rec)

	require.Error(t, err)
	assert.Equal(t, ReplayAborted, c.Replay.State)
	assert.Equal(t, int64(3), c.Replay.Abort.ActionID)
	require.NotNil(t, c.Replay.Abort.Actual)
	assert.Equal(t, evCount, c.Replay.Abort.Actual.Event)
}

func TestReplay_MissingActionAborts(t *testing.T) {
	live := recordCounterRun(t)
	rec := RecordReplay(live.Log())
	rec.Actions = append(rec.Actions, ReplayAction{
		Action: Action{ID: 6, Type: ActionUI, Event: event.Named("logout")},
		Verify: true,
	})

	e := newTestEngine(counterStage(promise.New()))
	c, err := e.StartReplay(rec)

	require.Error(t, err)
	assert.Equal(t, ReplayAborted, c.Replay.State)
	assert.Equal(t, "expected action never became available", c.Replay.Abort.Reason)
}

// waitStage has requester request A=1 while waiter waits on waitOn.
func waitStage(waitOn event.ID) StagingFunc {
	return func(s *Stage) {
		s.Enable(scenario("requester", requestOnce(evA, 1)), nil)
		s.Enable(scenario("waiter", func(t *Thread, _ Props) error {
			_, err := t.Wait(waitOn, nil)
			return err
		}), nil)
	}
}

func TestReplay_DifferentReactionsAbort(t *testing.T) {
	live := newTestEngine(waitStage(evA))
	mustUpdate(t, live)
	rec := RecordReplay(live.Log())
	require.Len(t, rec.Actions, 1)
	assert.ElementsMatch(t, []bid.ScenarioID{sid("requester"), sid("waiter")}, rec.Actions[0].Reacting)

	// Same action, but the waiter now waits on B and does not react.
	e := newTestEngine(waitStage(evB))
	c, err := e.StartReplay(rec)

	require.Error(t, err)
	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeReplayDiverged, re.Code)
	assert.Equal(t, ReplayAborted, c.Replay.State)
	require.NotNil(t, c.Replay.Abort)
	assert.Equal(t, int64(1), c.Replay.Abort.ActionID)
	assert.Contains(t, c.Replay.Abort.Reason, "reactions")
	require.NotNil(t, c.Replay.Abort.Actual)
	assert.Equal(t, evA, c.Replay.Abort.Actual.Event)
}

func TestReplay_VerifiedActionChecksReactions(t *testing.T) {
	live := newTestEngine(waitStage(evA))
	mustUpdate(t, live)
	rec := RecordReplay(live.Log())
	rec.Actions[0].Verify = true

	e := newTestEngine(waitStage(evB))
	c, err := e.StartReplay(rec)

	require.Error(t, err)
	assert.Equal(t, ReplayAborted, c.Replay.State)
	assert.Contains(t, c.Replay.Abort.Reason, "reactions")
}

func TestReplay_NilReactingSkipsCheck(t *testing.T) {
	live := newTestEngine(waitStage(evA))
	mustUpdate(t, live)
	rec := RecordReplay(live.Log())
	rec.Actions[0].Reacting = nil

	e := newTestEngine(waitStage(evB))
	c, err := e.StartReplay(rec)

	require.NoError(t, err)
	assert.Equal(t, ReplayCompleted, c.Replay.State)
}

func TestReplay_AssertionRunsAfterRecordedAction(t *testing.T) {
	live := recordCounterRun(t)
	rec := RecordReplay(live.Log())
	var seen any
	rec.Actions[1].Assert = func(c *Context, a Action) error {
		seen = c.Value(evCount)
		return nil
	}

	e := newTestEngine(counterStage(promise.New()))
	c, err := e.StartReplay(rec)
	require.NoError(t, err)

	assert.Equal(t, 2, seen)
	assert.Equal(t, []AssertionResult{{ActionID: 2}}, c.Assertions)
}

func TestReplayer_SortsByID(t *testing.T) {
	r := newReplayer(Replay{Actions: []ReplayAction{
		{Action: Action{ID: 3}},
		{Action: Action{ID: 1}},
		{Action: Action{ID: 2}},
	}})

	var ids []int64
	for !r.done() {
		rec, ok := r.peek()
		require.True(t, ok)
		ids = append(ids, rec.ID)
		r.advance()
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, ReplayStatus{State: ReplayRunning, Total: 3, Consumed: 3}, r.status())
}

func TestReplayStatus_Err(t *testing.T) {
	assert.NoError(t, ReplayStatus{State: ReplayCompleted}.Err())

	r := newReplayer(Replay{})
	r.fail(4, nil, nil, "boom")
	err := r.status().Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	var d *Divergence
	require.True(t, errors.As(err, &d))
	assert.Equal(t, int64(4), d.ActionID)
}
