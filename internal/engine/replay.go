package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/bpflow/internal/bid"
)

// Replay is a recorded action sequence to drive through the scheduler.
//
// How replay works:
//   - Recorded actions are matched to the action stream by id. When the
//     next record's id equals the next action id, the record is used.
//   - An injected record replaces whatever the live run would have chosen.
//     Recorded payloads stand in for non-deterministic results: a pending
//     request recorded with a later resolve never runs its live async work.
//   - A Verify record lets the live run choose the action and only checks
//     that it has the recorded type, event, scenario and bid kind.
//   - A record that carries its reacting scenarios is also checked after
//     it is applied: a different set of live reactions is a divergence.
//   - Any mismatch aborts the replay; the loop then continues live.
//
// Ordering is carried entirely by action ids, which are assigned by the
// logical Clock; wall-clock time plays no part.
type Replay struct {
	Actions []ReplayAction
}

// ReplayAction is one recorded action.
type ReplayAction struct {
	Action

	// LivePayload defers the payload of a requested action to the live
	// scenario's own bid instead of the recorded literal.
	LivePayload bool

	// Verify leaves the action to the live run and checks it against the
	// record instead of injecting it.
	Verify bool

	// Assert runs after the action is applied.
	Assert Assertion

	// Reacting, when non-nil, lists the scenarios that reacted to the
	// recorded action. A nil list skips the check.
	Reacting []bid.ScenarioID
}

// ReplayState is the lifecycle of a replay.
type ReplayState string

const (
	ReplayRunning   ReplayState = "running"
	ReplayCompleted ReplayState = "completed"
	ReplayAborted   ReplayState = "aborted"
)

// Divergence describes why a replay aborted.
type Divergence struct {
	ActionID int64   `json:"action_id"`
	Expected *Action `json:"expected,omitempty"`
	Actual   *Action `json:"actual,omitempty"`
	Reason   string  `json:"reason"`
}

func (d *Divergence) Error() string {
	return fmt.Sprintf("replay diverged at action %d: %s", d.ActionID, d.Reason)
}

// ReplayStatus is the replay part of a context snapshot.
type ReplayStatus struct {
	State    ReplayState `json:"state"`
	Total    int         `json:"total"`
	Consumed int         `json:"consumed"`
	Abort    *Divergence `json:"abort,omitempty"`
}

// Err returns the divergence as a RuntimeError when the replay aborted.
func (s ReplayStatus) Err() error {
	if s.State != ReplayAborted || s.Abort == nil {
		return nil
	}
	return &RuntimeError{
		Code:     ErrCodeReplayDiverged,
		Message:  s.Abort.Reason,
		ActionID: s.Abort.ActionID,
		Err:      s.Abort,
	}
}

// RecordReplay converts a run's log into replay input that reproduces it.
func RecordReplay(log *Log) Replay {
	return ReplayOf(log.Entries())
}

// ReplayOf converts log entries into replay input that injects every
// action and checks its reacting scenarios.
func ReplayOf(entries []Entry) Replay {
	out := Replay{Actions: make([]ReplayAction, len(entries))}
	for i, e := range entries {
		reacting := e.Responders()
		if reacting == nil {
			reacting = []bid.ScenarioID{}
		}
		out.Actions[i] = ReplayAction{Action: e.Action, Reacting: reacting}
	}
	return out
}

// sameScenarios reports whether a and b hold the same scenarios in any
// order.
func sameScenarios(a, b []bid.ScenarioID) bool {
	if len(a) != len(b) {
		return false
	}
	sorted := func(ids []bid.ScenarioID) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = id.String()
		}
		slices.Sort(out)
		return out
	}
	return slices.Equal(sorted(a), sorted(b))
}

func formatScenarios(ids []bid.ScenarioID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return "[" + strings.Join(names, " ") + "]"
}

// replayer tracks progress through a Replay.
type replayer struct {
	actions []ReplayAction
	pos     int
	state   ReplayState
	abort   *Divergence
}

func newReplayer(r Replay) *replayer {
	actions := slices.Clone(r.Actions)
	slices.SortStableFunc(actions, func(a, b ReplayAction) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return &replayer{actions: actions, state: ReplayRunning}
}

func (r *replayer) running() bool {
	return r != nil && r.state == ReplayRunning
}

// peek returns the next unconsumed record.
func (r *replayer) peek() (ReplayAction, bool) {
	if r.pos >= len(r.actions) {
		return ReplayAction{}, false
	}
	return r.actions[r.pos], true
}

func (r *replayer) advance() {
	r.pos++
}

func (r *replayer) done() bool {
	return r.pos >= len(r.actions)
}

func (r *replayer) fail(actionID int64, expected, actual *Action, reason string) {
	r.state = ReplayAborted
	r.abort = &Divergence{ActionID: actionID, Expected: expected, Actual: actual, Reason: reason}
}

func (r *replayer) complete() {
	r.state = ReplayCompleted
}

func (r *replayer) status() ReplayStatus {
	if r == nil {
		return ReplayStatus{}
	}
	return ReplayStatus{
		State:    r.state,
		Total:    len(r.actions),
		Consumed: r.pos,
		Abort:    r.abort,
	}
}
