package engine

import (
	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
	"github.com/roach88/bpflow/internal/promise"
)

// pendingEntry records an event whose resolution is outstanding under a
// unit. Settlements are accepted only while actionID still matches.
type pendingEntry struct {
	event    event.ID
	actionID int64
	extend   bool
	// kind is the originating bid kind of a pending request.
	kind bid.Kind
	// cont is the intercepted action a pending extension continues.
	cont *continuation
}

// continuation carries an intercepted action through the extend chain.
type continuation struct {
	action     Action
	origin     bid.ScenarioID
	originKind bid.Kind
	extendedBy []bid.ScenarioID
}

func (c *continuation) extendedByUnit(id bid.ScenarioID) bool {
	for _, x := range c.extendedBy {
		if x == id {
			return true
		}
	}
	return false
}

// unit is one live scenario instance.
type unit struct {
	id       bid.ScenarioID
	scenario Scenario
	props    Props
	priority int

	co      *coroutine
	yielded bid.Bids
	pending *event.Map[pendingEntry]

	section      string
	completed    bool
	err          error
	progressions int
	latest       *bid.Bid

	enabled   bool
	parked    bool
	destroyed bool

	log      *Log
	cache    *eventCache
	actionID func() int64
}

// newUnit builds the coroutine, runs the body to its first yield and logs
// an init reaction. A panic in the body propagates to the caller.
func newUnit(sc Scenario, props Props, priority int, log *Log, cache *eventCache, actionID func() int64) (*unit, error) {
	u := &unit{
		id:       sc.ID(),
		scenario: sc,
		props:    cloneProps(props),
		priority: priority,
		pending:  event.NewMap[pendingEntry](),
		log:      log,
		cache:    cache,
		actionID: actionID,
	}
	err := u.start()
	u.log.react(u.actionID(), Reaction{Scenario: u.id, Type: ReactionInit, Section: u.section})
	return u, err
}

func (u *unit) start() error {
	t := &Thread{u: u}
	u.co = newCoroutine(t, u.scenario.Body, u.props)
	bids, ok := u.co.resume(resumeValue{})
	if !ok {
		return u.complete()
	}
	u.yielded = bids
	return nil
}

// currentBids returns the bids the unit exposes this cycle, stamped with
// its identity and priority. Bids on events pending under this unit are
// hidden so a pending request is never issued twice.
func (u *unit) currentBids() bid.Bids {
	if u.destroyed || u.completed || u.parked {
		return nil
	}
	out := make(bid.Bids, 0, len(u.yielded))
	for _, b := range u.yielded {
		if !b.Kind.Constraint() && u.pending.Has(b.Event) {
			continue
		}
		b.Scenario = u.id
		b.Priority = u.priority
		out = append(out, b)
	}
	return out
}

// currentBid returns the placed bid of kind matching id.
func (u *unit) currentBid(kind bid.Kind, id event.ID) (bid.Bid, bool) {
	return u.currentBids().Get(kind, id)
}

// requestBid returns the request or set bid placed exactly on id. A zero
// kind accepts either.
func (u *unit) requestBid(kind bid.Kind, id event.ID) (bid.Bid, bool) {
	for _, b := range u.currentBids() {
		if b.Event != id {
			continue
		}
		if b.Kind == kind || (kind == 0 && (b.Kind == bid.KindRequest || b.Kind == bid.KindSet)) {
			return b, true
		}
	}
	return bid.Bid{}, false
}

// holdsPending reports whether id is pending under the unit for actionID.
func (u *unit) holdsPending(id event.ID, actionID int64, extend bool) bool {
	p, ok := u.pending.Get(id)
	return ok && p.actionID == actionID && p.extend == extend
}

// resetOnPropsChange restarts the body when props differ structurally.
// It reports whether a reset happened.
func (u *unit) resetOnPropsChange(next Props) (bool, error) {
	changed := changedProps(u.props, next)
	if len(changed) == 0 {
		return false, nil
	}
	cancelled := u.pending.Keys()
	u.co.close()
	u.pending.Clear()
	u.props = cloneProps(next)
	u.section = ""
	u.completed = false
	u.err = nil
	u.progressions = 0
	u.latest = nil
	u.yielded = nil

	err := u.start()
	u.log.react(u.actionID(), Reaction{
		Scenario:     u.id,
		Type:         ReactionReset,
		Section:      u.section,
		ChangedProps: changed,
		Cancelled:    cancelled,
	})
	return true, err
}

// resume hands in to the body and records the new bid set. A returned
// error is the body's own error on completion.
func (u *unit) resume(in resumeValue) error {
	if u.destroyed || u.co.done {
		return nil
	}
	bids, ok := u.co.resume(in)
	u.progressions++
	if !ok {
		return u.complete()
	}
	u.yielded = bids
	u.prunePending()
	return nil
}

// prunePending drops pending requests whose bid is no longer placed.
// Pending extensions stay: they outlive the extend bid by design of the
// extend protocol.
func (u *unit) prunePending() {
	for _, id := range u.pending.Keys() {
		p, _ := u.pending.Get(id)
		if p.extend {
			continue
		}
		if _, ok := u.yielded.Get(p.kind, id); !ok {
			u.pending.Delete(id)
		}
	}
}

// complete marks the body finished. Pending requests are dropped; pending
// extensions remain so the event stays held.
func (u *unit) complete() error {
	u.completed = true
	u.yielded = nil
	for _, id := range u.pending.Keys() {
		if p, _ := u.pending.Get(id); !p.extend {
			u.pending.Delete(id)
		}
	}
	u.err = u.co.err
	return u.err
}

// progress resumes the body because b won action a with payload.
func (u *unit) progress(b bid.Bid, a *Action, payload any) error {
	latest := b
	u.latest = &latest
	err := u.resume(resumeValue{result: Result{Event: a.Event, Kind: b.Kind, Payload: payload}})
	u.log.react(a.ID, Reaction{Scenario: u.id, Type: ReactionProgress, Event: a.Event, Section: u.section})
	if err != nil {
		u.log.react(a.ID, Reaction{Scenario: u.id, Type: ReactionError, Event: a.Event, Err: err.Error()})
	}
	return err
}

// progressExtend resumes the body at its extend bid with x.
func (u *unit) progressExtend(b bid.Bid, a *Action, x *Extension) error {
	latest := b
	u.latest = &latest
	err := u.resume(resumeValue{result: Result{Event: a.Event, Kind: bid.KindExtend, Payload: x.Value, Extension: x}})
	u.log.react(a.ID, Reaction{Scenario: u.id, Type: ReactionExtend, Event: a.Event, Section: u.section})
	if err != nil {
		u.log.react(a.ID, Reaction{Scenario: u.id, Type: ReactionError, Event: a.Event, Err: err.Error()})
	}
	return err
}

// addPendingRequest registers an asynchronous request. When fut settles,
// settle is called with the resolve or reject action to enqueue.
func (u *unit) addPendingRequest(a *Action, kind bid.Kind, fut promise.Future, settle func(Action)) {
	u.pending.Set(a.Event, pendingEntry{event: a.Event, actionID: a.ID, kind: kind})
	u.log.react(a.ID, Reaction{Scenario: u.id, Type: ReactionPending, Event: a.Event, Section: u.section})

	requestID := a.ID
	ev := a.Event
	fut.OnSettle(func(v any, err error) {
		out := Action{
			Type:            ActionResolve,
			Event:           ev,
			Scenario:        u.id,
			BidKind:         kind,
			Payload:         v,
			RequestActionID: requestID,
		}
		if err != nil {
			out.Type = ActionReject
			out.Payload = nil
			out.Error = err.Error()
			out.err = err
		}
		settle(out)
	})
}

// addPendingExtend holds the intercepted action under this unit until x
// (or the future it resolved to) settles.
func (u *unit) addPendingExtend(a *Action, cont *continuation) {
	u.pending.Set(a.Event, pendingEntry{event: a.Event, actionID: a.ID, extend: true, cont: cont})
	u.log.react(a.ID, Reaction{Scenario: u.id, Type: ReactionPending, Event: a.Event, Section: u.section})
}

// takePending removes and returns the pending entry for id if it was
// registered by actionID. Stale settlements get ok == false.
func (u *unit) takePending(id event.ID, actionID int64, extend bool) (pendingEntry, bool) {
	if u.destroyed {
		return pendingEntry{}, false
	}
	p, ok := u.pending.Get(id)
	if !ok || p.actionID != actionID || p.extend != extend {
		return pendingEntry{}, false
	}
	u.pending.Delete(id)
	return p, true
}

// rejectPending throws the rejection into the body at its current yield.
func (u *unit) rejectPending(a *Action) error {
	rejection := &RejectedError{Event: a.Event, ActionID: a.RequestActionID, Err: a.Err()}
	err := u.resume(resumeValue{err: rejection, result: Result{Event: a.Event}})
	u.log.react(a.ID, Reaction{Scenario: u.id, Type: ReactionReject, Event: a.Event, Section: u.section})
	if err != nil {
		u.log.react(a.ID, Reaction{Scenario: u.id, Type: ReactionError, Event: a.Event, Err: err.Error()})
	}
	return err
}

// destroy releases the coroutine. Later settlements for this unit are
// dropped because takePending refuses destroyed units.
func (u *unit) destroy() {
	if u.destroyed {
		return
	}
	cancelled := u.pending.Keys()
	u.pending.Clear()
	u.co.close()
	u.destroyed = true
	u.yielded = nil
	u.log.react(u.actionID(), Reaction{Scenario: u.id, Type: ReactionDestroy, Cancelled: cancelled})
}

// state returns the public snapshot.
func (u *unit) state() ScenarioState {
	return ScenarioState{
		ID:           u.id,
		Title:        u.scenario.Title,
		Section:      u.section,
		Completed:    u.completed,
		Err:          u.err,
		Progressions: u.progressions,
		Pending:      u.pending.Keys(),
		Bids:         u.currentBids(),
		Enabled:      u.enabled,
		Destroyed:    u.destroyed,
	}
}
