package engine

import (
	"context"
	"fmt"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
	"github.com/roach88/bpflow/internal/promise"
)

// candidate is an admitted action before it receives its id.
type candidate struct {
	action Action
	// origin and originBid are set for requested actions.
	origin    *unit
	originBid bid.Bid
	// async is the asynchronous payload of a pending requested action.
	async any
	// record is the replay record the action was injected from.
	record *ReplayAction
}

// step selects and applies at most one action. Selection order:
//  1. the next replay record, when injecting
//  2. held resolves whose block has lifted
//  3. queued external actions (dispatches and settlements)
//  4. request and set bids, highest priority first
//
// It reports whether an action was applied.
func (e *Engine) step() bool {
	if c, ok := e.nextRecorded(); ok {
		e.commit(c)
		return true
	}
	if c, ok := e.nextHeld(); ok {
		e.commit(c)
		return true
	}

	for {
		a, ok := e.queue.TryDequeue()
		if !ok {
			break
		}
		c, ok := e.admit(a)
		if !ok && e.heldBack(a) {
			e.held = append(e.held, a)
			e.logger.Debug("settlement held", "run_id", e.runID, "event", a.Event.String(), "request_id", a.RequestActionID)
			continue
		}
		if !ok {
			e.logger.Debug("action dropped", "run_id", e.runID, "type", a.Type, "event", a.Event.String())
			continue
		}
		e.commit(c)
		return true
	}

	if c, ok := e.selectRequest(); ok {
		e.commit(c)
		return true
	}

	if e.replay.running() && !e.replay.done() {
		if rec, _ := e.replay.peek(); rec.Verify && e.queue.Len() == 0 && e.pendingEvents().Len() == 0 {
			e.abortReplay(rec.ID, &rec.Action, nil, "expected action never became available")
		}
	}
	return false
}

// nextRecorded returns the replay record due next as a candidate. A record
// that cannot be applied aborts the replay.
func (e *Engine) nextRecorded() (candidate, bool) {
	if !e.replay.running() {
		return candidate{}, false
	}
	rec, ok := e.replay.peek()
	if !ok || rec.Verify {
		return candidate{}, false
	}
	next := e.clock.Peek()
	if rec.ID != next {
		e.abortReplay(next, &rec.Action, nil, fmt.Sprintf("recorded action id %d out of sequence", rec.ID))
		return candidate{}, false
	}

	c, reason := e.admitRecorded(rec)
	if reason != "" {
		e.abortReplay(next, &rec.Action, nil, reason)
		return candidate{}, false
	}
	e.replay.advance()
	c.record = &rec
	return c, true
}

// admitRecorded checks a recorded action against the live state.
func (e *Engine) admitRecorded(rec ReplayAction) (candidate, string) {
	a := rec.Action
	a.ID = 0
	a.ResolveActionID = 0
	a.run = ""

	if a.Type != ActionRequested {
		c, ok := e.admit(a)
		if !ok {
			return candidate{}, fmt.Sprintf("%s on %s not admissible", a.Type, a.Event)
		}
		return c, ""
	}

	u := e.liveUnit(a.Scenario)
	if u == nil || u.parked {
		return candidate{}, fmt.Sprintf("scenario %s is not enabled", a.Scenario)
	}
	b, ok := u.requestBid(a.BidKind, a.Event)
	if !ok {
		return candidate{}, fmt.Sprintf("scenario %s does not request %s", a.Scenario, a.Event)
	}
	if e.isPending(a.Event) {
		return candidate{}, fmt.Sprintf("event %s is pending", a.Event)
	}
	a.BidKind = b.Kind

	c := candidate{action: a, origin: u, originBid: b}
	payload := a.Payload
	switch {
	case rec.LivePayload:
		payload = b.EvalPayload(e.cache.current(a.Event))
		if bid.IsAsync(payload) {
			c.action.Pending = true
			c.action.Payload = nil
			c.async = payload
			return c, ""
		}
	case a.Pending:
		// The recorded settlement supplies the outcome.
		c.action.Payload = nil
		c.async = promise.Never()
		return c, ""
	}

	if e.index.Blocked(a.Event, payload) {
		return candidate{}, fmt.Sprintf("event %s is blocked", a.Event)
	}
	if e.index.ValidationFailed(a.Event, payload) {
		return candidate{}, fmt.Sprintf("payload for %s failed validation", a.Event)
	}
	c.action.Pending = false
	c.action.Payload = payload
	return c, ""
}

// admit checks an externally produced action against the current cycle.
func (e *Engine) admit(a Action) (candidate, bool) {
	if a.run != "" && a.run != e.runID {
		return candidate{}, false
	}
	switch a.Type {
	case ActionUI:
		if !e.dispatchable(a.Event, a.Payload) {
			return candidate{}, false
		}
		return candidate{action: a}, true

	case ActionResolve, ActionReject:
		u := e.liveUnit(a.Scenario)
		if u == nil || !u.holdsPending(a.Event, a.RequestActionID, false) {
			return candidate{}, false
		}
		if a.Type == ActionResolve && e.suppressed(a.Event, a.Payload) {
			return candidate{}, false
		}
		return candidate{action: a}, true

	case ActionResolvedExtend:
		u := e.liveUnit(a.Scenario)
		if u == nil || !u.holdsPending(a.Event, a.RequestActionID, true) {
			return candidate{}, false
		}
		return candidate{action: a}, true

	default:
		return candidate{}, false
	}
}

// suppressed reports whether payload on id is blocked or fails validation.
func (e *Engine) suppressed(id event.ID, payload any) bool {
	return e.index.Blocked(id, payload) || e.index.ValidationFailed(id, payload)
}

// heldBack reports whether a is a live resolve that admit refused only
// because its payload is suppressed.
func (e *Engine) heldBack(a Action) bool {
	if a.Type != ActionResolve || (a.run != "" && a.run != e.runID) {
		return false
	}
	u := e.liveUnit(a.Scenario)
	if u == nil || !u.holdsPending(a.Event, a.RequestActionID, false) {
		return false
	}
	return e.suppressed(a.Event, a.Payload)
}

// nextHeld returns the oldest held resolve that is admissible again.
// Held resolves whose request is gone are dropped.
func (e *Engine) nextHeld() (candidate, bool) {
	var (
		out   candidate
		found bool
	)
	kept := e.held[:0]
	for _, a := range e.held {
		if found {
			kept = append(kept, a)
			continue
		}
		if c, ok := e.admit(a); ok {
			out, found = c, true
			continue
		}
		if e.heldBack(a) {
			kept = append(kept, a)
		}
	}
	e.held = kept
	return out, found
}

// dispatchable reports whether a UI dispatch of payload on id would be
// admitted in the current cycle.
func (e *Engine) dispatchable(id event.ID, payload any) bool {
	if e.isPending(id) {
		return false
	}
	accepted := false
	for _, b := range e.index.Matching(bid.KindAskFor, id) {
		if b.Accepts(payload) {
			accepted = true
			break
		}
	}
	if !accepted {
		return false
	}
	return !e.suppressed(id, payload)
}

// selectRequest picks the first admissible request or set bid, scanning
// scenarios from the highest priority down and each scenario's bids in
// yield order.
func (e *Engine) selectRequest() (candidate, bool) {
	pending := e.pendingEvents()
	for i := len(e.order) - 1; i >= 0; i-- {
		u := e.units[e.order[i]]
		if u == nil {
			continue
		}
		for _, b := range u.currentBids() {
			if b.Kind != bid.KindRequest && b.Kind != bid.KindSet {
				continue
			}
			if len(pending.Matching(b.Event)) > 0 {
				continue
			}
			if e.index.BlockedUnconditionally(b.Event) {
				continue
			}

			a := Action{Type: ActionRequested, Event: b.Event, Scenario: u.id, BidKind: b.Kind}
			payload := b.EvalPayload(e.cache.current(b.Event))
			if bid.IsAsync(payload) {
				a.Pending = true
				return candidate{action: a, origin: u, originBid: b, async: payload}, true
			}
			if e.index.Blocked(b.Event, payload) || e.index.ValidationFailed(b.Event, payload) {
				continue
			}
			a.Payload = payload
			return candidate{action: a, origin: u, originBid: b}, true
		}
	}
	return candidate{}, false
}

// commit assigns the next id, logs the action and applies it.
func (e *Engine) commit(c candidate) {
	a := c.action
	a.ID = e.clock.Next()
	a.run = ""
	e.log.append(a)
	e.logger.Debug("action",
		"run_id", e.runID,
		"action_id", a.ID,
		"type", a.Type,
		"event", a.Event.String(),
		"scenario", a.Scenario.String(),
		"pending", a.Pending,
	)

	switch a.Type {
	case ActionRequested:
		if a.Pending {
			c.origin.addPendingRequest(&a, c.originBid.Kind, e.flatten(c.async), e.settle())
			break
		}
		e.propagate(&a, &continuation{action: a, origin: c.origin.id, originKind: c.originBid.Kind}, a.Payload)

	case ActionUI:
		e.propagate(&a, &continuation{action: a}, a.Payload)

	case ActionResolve:
		u := e.units[a.Scenario]
		p, _ := u.takePending(a.Event, a.RequestActionID, false)
		e.log.markResolved(a.RequestActionID, a.ID)
		e.propagate(&a, &continuation{action: a, origin: u.id, originKind: p.kind}, a.Payload)

	case ActionReject:
		u := e.units[a.Scenario]
		u.takePending(a.Event, a.RequestActionID, false)
		e.log.markResolved(a.RequestActionID, a.ID)
		if err := u.rejectPending(&a); err != nil {
			e.fail(u.id, err)
		}

	case ActionResolvedExtend:
		x := e.units[a.Scenario]
		p, _ := x.takePending(a.Event, a.RequestActionID, true)
		e.log.markResolved(a.RequestActionID, a.ID)
		if a.IsRejection() {
			e.rejectOrigin(&a, p.cont)
			break
		}
		e.propagate(&a, p.cont, a.Payload)
	}

	e.log.setPending(a.ID, e.pendingEvents().Keys())
	rec := c.record
	if verified, ok := e.verifyRecord(a, c.record); ok {
		rec = verified
	}
	e.verifyReactions(a, rec)
	e.runAssertions(a, c.record)
}

// propagate offers an admitted action to the highest-priority accepting
// extend. An extension settled before the extender's next yield consumes
// the action and its value is delivered at once; lower extends never see
// it. An unsettled or async extension holds the event under the extender;
// its settlement re-enters as a resolvedExtend action and continues with
// the next-lower extend.
func (e *Engine) propagate(a *Action, cont *continuation, payload any) {
	if x, b, ok := e.nextExtender(a.Event, payload, cont); ok {
		cont.extendedBy = append(cont.extendedBy, x.id)

		ext := newExtension(a.Event, payload)
		if err := x.progressExtend(b, a, ext); err != nil {
			e.fail(x.id, err)
		}

		v, err, settled := ext.p.Result()
		if settled && err == nil && !bid.IsAsync(v) {
			e.deliver(a, cont, v)
			return
		}
		if settled && err != nil {
			rejected := *a
			rejected.Error = err.Error()
			rejected.err = err
			e.rejectOrigin(&rejected, cont)
			return
		}

		// Hold the event under the extender until the extension settles.
		x.addPendingExtend(a, cont)
		settle := e.settle()
		requestID, ev, extender := a.ID, a.Event, x.id
		e.await(e.asyncCtx, ext.p, func(v any, err error) {
			out := Action{
				Type:            ActionResolvedExtend,
				Event:           ev,
				Scenario:        extender,
				Payload:         v,
				RequestActionID: requestID,
			}
			if err != nil {
				out.Payload = nil
				out.Error = err.Error()
				out.err = err
			}
			settle(out)
		})
		return
	}
	e.deliver(a, cont, payload)
}

// nextExtender returns the highest-priority extend bid covering id that
// has not intercepted this action yet and whose guard accepts payload.
func (e *Engine) nextExtender(id event.ID, payload any, cont *continuation) (*unit, bid.Bid, bool) {
	extends := e.index.Covering(bid.KindExtend, id)
	for i := len(extends) - 1; i >= 0; i-- {
		b := extends[i]
		if b.Scenario == cont.origin || cont.extendedByUnit(b.Scenario) {
			continue
		}
		u := e.liveUnit(b.Scenario)
		if u == nil || u.pending.Has(id) {
			continue
		}
		if _, ok := u.currentBid(bid.KindExtend, id); !ok {
			continue
		}
		if !b.Accepts(payload) {
			continue
		}
		return u, b, true
	}
	return nil, bid.Bid{}, false
}

// deliver writes the cache for set actions, then resumes the origin and
// every accepting waiter.
func (e *Engine) deliver(a *Action, cont *continuation, payload any) {
	if cont.originKind == bid.KindSet {
		e.cache.set(a.Event, payload)
	}

	resumed := make(map[bid.ScenarioID]bool)
	if origin := e.liveUnit(cont.origin); origin != nil {
		if b, ok := origin.yielded.Get(cont.originKind, a.Event); ok {
			resumed[origin.id] = true
			if err := origin.progress(b, a, payload); err != nil {
				e.fail(origin.id, err)
			}
		}
	}

	for _, b := range e.index.Matching(bid.KindAskFor, a.Event) {
		if resumed[b.Scenario] || cont.extendedByUnit(b.Scenario) {
			continue
		}
		u := e.liveUnit(b.Scenario)
		if u == nil || len(u.pending.Matching(a.Event)) > 0 {
			continue
		}
		if !b.Accepts(payload) {
			continue
		}
		// A keyed waiter on an unkeyed action still honours blocks on its key.
		if b.Event.HasKey() && !a.Event.HasKey() && e.index.Blocked(b.Event, payload) {
			continue
		}
		resumed[u.id] = true
		if err := u.progress(b, a, payload); err != nil {
			e.fail(u.id, err)
		}
	}
}

// rejectOrigin throws a rejected extension into the requesting scenario.
// Dispatched actions have no origin; their rejection is dropped.
func (e *Engine) rejectOrigin(a *Action, cont *continuation) {
	origin := e.liveUnit(cont.origin)
	if origin == nil {
		return
	}
	if _, ok := origin.yielded.Get(cont.originKind, a.Event); !ok {
		return
	}
	r := *a
	if r.RequestActionID == 0 {
		r.RequestActionID = cont.action.ID
	}
	if err := origin.rejectPending(&r); err != nil {
		e.fail(origin.id, err)
	}
}

// settle returns an enqueue function bound to the current run.
func (e *Engine) settle() func(Action) {
	run := e.runID
	q := e.queue
	return func(a Action) {
		a.run = run
		q.Enqueue(a)
	}
}

// flatten turns an asynchronous payload into a Future that settles with
// the final non-async value.
func (e *Engine) flatten(v any) promise.Future {
	p := promise.New()
	e.await(e.asyncCtx, v, func(v any, err error) {
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	})
	return p
}

// await calls fn once v settles. Futures that settle with another async
// value are followed.
func (e *Engine) await(ctx context.Context, v any, fn func(any, error)) {
	var (
		fut     promise.Future
		started bool
	)
	switch f := v.(type) {
	case promise.Future:
		fut = f
	case promise.Func:
		fut, started = promise.Go(ctx, f), true
	case func(context.Context) (any, error):
		fut, started = promise.Go(ctx, f), true
	default:
		fn(v, nil)
		return
	}
	if started {
		e.inflight.Add(1)
	}
	fut.OnSettle(func(v any, err error) {
		if started {
			// After fn: the settlement is queued before the count drops
			defer e.inflight.Add(-1)
		}
		if err == nil && bid.IsAsync(v) {
			e.await(ctx, v, fn)
			return
		}
		fn(v, err)
	})
}

// verifyRecord compares a live action with the Verify record due at its
// id and returns the record when it matched.
func (e *Engine) verifyRecord(a Action, injected *ReplayAction) (*ReplayAction, bool) {
	if injected != nil || !e.replay.running() {
		return nil, false
	}
	rec, ok := e.replay.peek()
	if !ok || !rec.Verify || rec.ID != a.ID {
		return nil, false
	}
	if !a.sameShape(rec.Action) {
		actual := a
		e.abortReplay(a.ID, &rec.Action, &actual, fmt.Sprintf("recorded %s on %s, got %s on %s", rec.Type, rec.Event, a.Type, a.Event))
		return nil, false
	}
	e.replay.advance()
	return &rec, true
}

// verifyReactions aborts the replay when the scenarios that reacted to a
// differ from the ones recorded for it.
func (e *Engine) verifyReactions(a Action, rec *ReplayAction) {
	if rec == nil || rec.Reacting == nil || !e.replay.running() {
		return
	}
	entry, ok := e.log.Entry(a.ID)
	if !ok {
		return
	}
	live := entry.Responders()
	if sameScenarios(rec.Reacting, live) {
		return
	}
	actual := a
	e.abortReplay(a.ID, &rec.Action, &actual, fmt.Sprintf("recorded reactions %s, got %s", formatScenarios(rec.Reacting), formatScenarios(live)))
}

// abortReplay stops the replay; the loop continues live.
func (e *Engine) abortReplay(actionID int64, expected, actual *Action, reason string) {
	e.replay.fail(actionID, expected, actual, reason)
	err := e.replay.status().Err()
	e.logger.Warn("replay aborted", "run_id", e.runID, "action_id", actionID, "reason", reason)
	e.errs = append(e.errs, err)
}

// runAssertions evaluates the assertions registered for a. A failure
// pauses the loop.
func (e *Engine) runAssertions(a Action, rec *ReplayAction) {
	checks := e.assertions[a.ID]
	if rec != nil && rec.Assert != nil {
		checks = append(checks[:len(checks):len(checks)], rec.Assert)
	}
	if len(checks) == 0 {
		return
	}

	c := e.snapshot()
	for _, check := range checks {
		if err := callAssertion(check, c, a); err != nil {
			e.results = append(e.results, AssertionResult{ActionID: a.ID, Err: err.Error()})
			e.paused = true
			e.logger.Warn("assertion failed", "run_id", e.runID, "action_id", a.ID, "error", err)
			continue
		}
		e.results = append(e.results, AssertionResult{ActionID: a.ID})
	}
}

func callAssertion(check Assertion, c *Context, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assertion panicked: %v", r)
		}
	}()
	return check(c, a)
}

// liveUnit returns the unit for id unless it is missing or destroyed.
func (e *Engine) liveUnit(id bid.ScenarioID) *unit {
	u := e.units[id]
	if u == nil || u.destroyed {
		return nil
	}
	return u
}
