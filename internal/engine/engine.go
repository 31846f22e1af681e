package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
)

// StagingFunc enables the scenarios that should be active. It is called
// once per cycle; scenarios it stops enabling are disabled.
type StagingFunc func(s *Stage)

// Stage is passed to the staging function.
type Stage struct {
	e     *Engine
	order []bid.ScenarioID
	seen  map[bid.ScenarioID]bool
}

// Enable creates, resets or refreshes a scenario for this cycle and returns
// its current state. Enabling the same scenario twice in one cycle returns
// the state of the first call.
func (s *Stage) Enable(sc Scenario, props Props) ScenarioState {
	return s.e.enable(s, sc, props)
}

// Engine is the scheduler loop.
//
// Engine is not safe for concurrent use: Update, Run, Reset, StartReplay
// and Resume must be called from one goroutine. Dispatch handles and
// Engine.Dispatch are safe from any goroutine; they only enqueue.
type Engine struct {
	stage  StagingFunc
	logger *slog.Logger
	runIDs RunIDGenerator

	asyncCtx   context.Context
	maxActions int

	runID      string
	clock      *Clock
	queue      *actionQueue
	log        *Log
	cache      *eventCache
	units      map[bid.ScenarioID]*unit
	created    []bid.ScenarioID
	order      []bid.ScenarioID
	index      *bid.Index
	replay     *replayer
	assertions map[int64][]Assertion
	results    []AssertionResult
	paused     bool
	limiter    *actionLimiter
	// held are resolves suppressed by a block or a failed validation. They
	// stay queued here, their request still pending, until admissible.
	held []Action

	generation atomic.Int64
	latest     atomic.Pointer[Context]
	// inflight counts async payload functions started and not yet settled.
	inflight atomic.Int64

	// errs collects body failures of the current Update.
	errs []error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRunIDGenerator sets the generator for run ids.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithAsyncContext sets the context passed to promise.Func payloads.
// Run replaces it with its own context.
func WithAsyncContext(ctx context.Context) Option {
	return func(e *Engine) {
		e.asyncCtx = ctx
	}
}

// WithMaxActions limits the actions one Update may admit. 0 disables the
// limit.
func WithMaxActions(n int) Option {
	return func(e *Engine) {
		e.maxActions = n
	}
}

// WithAssertion registers an in-loop assertion for actionID.
func WithAssertion(actionID int64, a Assertion) Option {
	return func(e *Engine) {
		e.assertions[actionID] = append(e.assertions[actionID], a)
	}
}

// DefaultMaxActions is the default per-Update action limit.
const DefaultMaxActions = 10000

// New creates an engine around a staging function. No scenario runs until
// the first Update.
func New(stage StagingFunc, opts ...Option) *Engine {
	e := &Engine{
		stage:      stage,
		logger:     slog.Default(),
		runIDs:     UUIDv7Generator{},
		asyncCtx:   context.Background(),
		maxActions: DefaultMaxActions,
		queue:      newActionQueue(),
		assertions: make(map[int64][]Assertion),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.limiter = newActionLimiter(e.maxActions)
	e.resetState()
	return e
}

func (e *Engine) resetState() {
	e.runID = e.runIDs.Generate()
	e.clock = NewClock()
	e.log = NewLog()
	e.cache = newEventCache()
	e.units = make(map[bid.ScenarioID]*unit)
	e.created = nil
	e.order = nil
	e.index = bid.NewIndex()
	e.results = nil
	e.paused = false
	e.held = nil
}

// RunID returns the id of the current run.
func (e *Engine) RunID() string {
	return e.runID
}

// Log returns the execution log of the current run.
func (e *Engine) Log() *Log {
	return e.log
}

// Expect registers an in-loop assertion for actionID.
func (e *Engine) Expect(actionID int64, a Assertion) {
	e.assertions[actionID] = append(e.assertions[actionID], a)
}

// Update runs cycles until no synchronous action remains, the loop is
// paused, or the action limit is reached. It returns the context snapshot
// and the scenario failures that happened during this call.
func (e *Engine) Update() (*Context, error) {
	e.errs = nil
	e.limiter.Reset()

	for !e.paused {
		e.stageUnits()
		progressed := e.step()
		if !progressed {
			break
		}
		if err := e.limiter.Check(e.clock.Current()); err != nil {
			e.logger.Warn("action limit reached", "run_id", e.runID, "error", err)
			e.errs = append(e.errs, err)
			break
		}
	}

	if e.replay.running() && e.replay.done() && !e.paused {
		e.replay.complete()
		e.logger.Debug("replay completed", "run_id", e.runID, "actions", e.clock.Current())
	}

	c := e.snapshot()
	return c, errors.Join(e.errs...)
}

// Run drives the engine until ctx is cancelled: update, hand the snapshot
// to onUpdate, then wait for a dispatch or settlement. Scenario failures
// are logged and the loop continues.
func (e *Engine) Run(ctx context.Context, onUpdate func(*Context)) error {
	e.asyncCtx = ctx
	for {
		c, err := e.Update()
		if err != nil {
			// Log and continue: a failing scenario does not halt the others
			e.logger.Error("update failed", "run_id", e.runID, "action_id", c.ActionID, "error", err)
		}
		if onUpdate != nil {
			onUpdate(c)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-e.queue.Wait():
			if !ok {
				return nil
			}
		}
	}
}

// Settle updates until the loop is quiescent: no queued action and no
// async payload function still running. Pending work backed by futures
// the engine did not start (an unsettled extension, a host promise) does
// not hold Settle. It returns the last snapshot with every failure seen,
// plus ctx.Err() if ctx ends first.
func (e *Engine) Settle(ctx context.Context) (*Context, error) {
	var errs []error
	for {
		c, err := e.Update()
		if err != nil {
			errs = append(errs, err)
		}
		if e.paused || (e.inflight.Load() == 0 && e.queue.Len() == 0) {
			return c, errors.Join(errs...)
		}

		select {
		case <-ctx.Done():
			return c, errors.Join(append(errs, ctx.Err())...)
		case _, ok := <-e.queue.Wait():
			if !ok {
				return c, errors.Join(errs...)
			}
		}
	}
}

// Stop closes the action queue; Run returns once it notices.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Reset destroys every unit and clears the log, cache, queue, pause flag
// and assertion results. Registered assertions are kept. A new run id is
// drawn.
func (e *Engine) Reset() {
	for _, id := range e.created {
		if u := e.units[id]; u != nil {
			u.destroy()
		}
	}
	e.queue.Drain()
	e.replay = nil
	e.resetState()
	e.logger.Debug("engine reset", "run_id", e.runID)
}

// StartReplay resets the engine and drives r from the beginning.
func (e *Engine) StartReplay(r Replay) (*Context, error) {
	e.Reset()
	e.replay = newReplayer(r)
	e.logger.Debug("replay started", "run_id", e.runID, "actions", len(r.Actions))
	return e.Update()
}

// Resume clears the paused state set by a failed assertion.
func (e *Engine) Resume() {
	e.paused = false
}

// Paused reports whether a failed assertion paused the loop.
func (e *Engine) Paused() bool {
	return e.paused
}

// Dispatch dispatches payload on id through the latest snapshot. It
// reports false when id is not dispatchable or the payload is rejected.
// Safe from any goroutine.
func (e *Engine) Dispatch(id event.ID, payload any) bool {
	c := e.latest.Load()
	if c == nil {
		return false
	}
	return c.Dispatch(id, payload)
}

// enable implements Stage.Enable.
func (e *Engine) enable(s *Stage, sc Scenario, props Props) ScenarioState {
	id := sc.ID()
	if s.seen[id] {
		return e.units[id].state()
	}
	s.seen[id] = true
	priority := len(s.order)
	s.order = append(s.order, id)

	u, ok := e.units[id]
	if ok && u.destroyed {
		ok = false
	}
	if !ok {
		var err error
		u, err = newUnit(sc, props, priority, e.log, e.cache, e.clock.Current)
		e.units[id] = u
		e.created = appendUnique(e.created, id)
		if err != nil {
			e.fail(u.id, err)
		}
		e.logger.Debug("scenario created", "run_id", e.runID, "scenario", id.String())
	} else {
		u.scenario = sc
		u.parked = false
		reset, err := u.resetOnPropsChange(props)
		if err != nil {
			e.fail(u.id, err)
		}
		if reset {
			e.logger.Debug("scenario reset", "run_id", e.runID, "scenario", id.String())
		}
	}
	u.priority = priority
	u.enabled = true
	return u.state()
}

// stageUnits runs the staging function, disables what it no longer
// enables and rebuilds the bid index.
func (e *Engine) stageUnits() {
	for _, u := range e.units {
		u.enabled = false
	}

	s := &Stage{e: e, seen: make(map[bid.ScenarioID]bool)}
	e.stage(s)

	for _, id := range e.created {
		u := e.units[id]
		if u == nil || u.enabled || u.destroyed {
			continue
		}
		e.disable(u)
	}

	alive := e.created[:0]
	for _, id := range e.created {
		if u := e.units[id]; u != nil && !u.destroyed {
			alive = append(alive, id)
		} else {
			delete(e.units, id)
		}
	}
	e.created = alive

	e.order = s.order
	e.index = bid.NewIndex()
	for _, id := range e.order {
		for _, b := range e.units[id].currentBids() {
			e.index.Add(b)
		}
	}
}

// disable handles a unit the staging function did not enable this cycle.
// Units that never progressed, that ask for it, or that have nothing in
// flight are destroyed; others are parked until their pending work
// settles.
func (e *Engine) disable(u *unit) {
	if u.progressions == 0 || u.scenario.DestroyOnDisable || u.scenario.CancelPendingOnDisable || u.pending.Len() == 0 {
		u.destroy()
		e.logger.Debug("scenario destroyed", "run_id", e.runID, "scenario", u.id.String())
		return
	}
	u.parked = true
}

// fail records a scenario failure for the current Update.
func (e *Engine) fail(id bid.ScenarioID, err error) {
	re := newScenarioError(id, e.clock.Current(), err)
	e.logger.Error("scenario failed", "run_id", e.runID, "scenario", id.String(), "error", err)
	e.errs = append(e.errs, re)
}

// pendingEvents returns every event pending under any live unit.
func (e *Engine) pendingEvents() *event.Set {
	out := event.NewSet()
	for _, id := range e.created {
		u := e.units[id]
		if u == nil || u.destroyed {
			continue
		}
		for pid := range u.pending.All() {
			out.Set(pid, struct{}{})
		}
	}
	return out
}

// isPending reports whether an action on id would hit a pending event.
func (e *Engine) isPending(id event.ID) bool {
	return len(e.pendingEvents().Matching(id)) > 0
}

func appendUnique(ids []bid.ScenarioID, id bid.ScenarioID) []bid.ScenarioID {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine(run=%s, action=%d)", e.runID, e.clock.Current())
}
