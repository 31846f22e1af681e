package engine

import (
	"slices"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
)

// Assertion checks the state right after an action was applied. A non-nil
// error pauses the loop.
type Assertion func(c *Context, a Action) error

// AssertionResult records the outcome of one assertion.
type AssertionResult struct {
	ActionID int64  `json:"action_id"`
	Err      string `json:"error,omitempty"`
}

// Failed reports whether the assertion failed.
func (r AssertionResult) Failed() bool {
	return r.Err != ""
}

// Context is the read-only snapshot handed to the host after every Update.
// Dispatch handles obtained from a Context stop working once a newer
// snapshot exists.
type Context struct {
	RunID      string            `json:"run_id"`
	ActionID   int64             `json:"action_id"`
	Replay     ReplayStatus      `json:"replay"`
	Paused     bool              `json:"paused"`
	Assertions []AssertionResult `json:"assertions,omitempty"`

	// Bids is the bid index of the last staged cycle.
	Bids *bid.Index `json:"-"`
	// Log is the live execution log. It keeps growing after the snapshot.
	Log *Log `json:"-"`

	scenarios []ScenarioState
	cache     *event.Map[CacheEntry]
	pending   *event.Set

	e   *Engine
	gen int64
}

// snapshot builds a Context and makes it the target of Engine.Dispatch.
func (e *Engine) snapshot() *Context {
	c := &Context{
		RunID:      e.runID,
		ActionID:   e.clock.Current(),
		Replay:     e.replay.status(),
		Paused:     e.paused,
		Assertions: slices.Clone(e.results),
		Bids:       e.index,
		Log:        e.log,
		cache:      e.cache.snapshot(),
		pending:    e.pendingEvents(),
		e:          e,
	}
	for _, id := range e.created {
		if u := e.units[id]; u != nil {
			c.scenarios = append(c.scenarios, u.state())
		}
	}
	c.gen = e.generation.Add(1)
	e.latest.Store(c)
	return c
}

// InReplay reports whether a replay was still running at snapshot time.
func (c *Context) InReplay() bool {
	return c.Replay.State == ReplayRunning
}

// Stale reports whether a newer snapshot replaced this one.
func (c *Context) Stale() bool {
	return c.e == nil || c.e.generation.Load() != c.gen
}

// Scenarios returns the state of every live unit in creation order.
func (c *Context) Scenarios() []ScenarioState {
	return slices.Clone(c.scenarios)
}

// Scenario returns the state of one unit.
func (c *Context) Scenario(id bid.ScenarioID) (ScenarioState, bool) {
	for _, s := range c.scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioState{}, false
}

// Pending returns every pending event.
func (c *Context) Pending() []event.ID {
	return c.pending.Keys()
}

// Event returns the view of one event.
func (c *Context) Event(id event.ID) EventView {
	v := EventView{ID: id, c: c}
	if entry, ok := c.cache.Get(id); ok {
		v.Value = entry.Value
		v.History = slices.Clone(entry.History)
	} else if id.HasKey() {
		if entry, ok := c.cache.Get(id.Unkeyed()); ok {
			v.Value = entry.Value
		}
	}
	v.Pending = len(c.pending.Matching(id)) > 0
	return v
}

// Value returns the cached value of id, or nil.
func (c *Context) Value(id event.ID) any {
	return c.Event(id).Value
}

// Validate explains whether payload would be accepted for id.
func (c *Context) Validate(id event.ID, payload any) bid.ValidationResult {
	return c.Bids.Validate(id, payload)
}

// Dispatchable returns the events a host may dispatch: asked for, not
// pending, and not blocked unconditionally.
func (c *Context) Dispatchable() []event.ID {
	var out []event.ID
	for _, id := range c.Bids.Events(bid.KindAskFor) {
		if len(c.pending.Matching(id)) > 0 || c.Bids.BlockedUnconditionally(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Dispatch enqueues a UI action on id. It reports false when the snapshot
// is stale or the payload would not be admitted against this snapshot.
// The loop checks admission again before applying the action.
// Safe from any goroutine.
func (c *Context) Dispatch(id event.ID, payload any) bool {
	if c.Stale() {
		return false
	}
	if len(c.pending.Matching(id)) > 0 || !c.Validate(id, payload).Valid {
		return false
	}
	return c.e.queue.Enqueue(Action{Type: ActionUI, Event: id, Payload: payload, run: c.RunID})
}

// EventView is the per-event part of a Context.
type EventView struct {
	ID      event.ID
	Value   any
	History []any
	Pending bool

	c *Context
}

// Dispatch dispatches payload on the event.
func (v EventView) Dispatch(payload any) bool {
	return v.c.Dispatch(v.ID, payload)
}

// Validate explains whether payload would be accepted.
func (v EventView) Validate(payload any) bid.ValidationResult {
	return v.c.Validate(v.ID, payload)
}
