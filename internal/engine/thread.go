package engine

import (
	"iter"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
	"github.com/roach88/bpflow/internal/promise"
)

// Result is what a suspended body receives when one of its bids wins.
type Result struct {
	// Event is the event of the action that resumed the body. For yields
	// offering several bids it tells which one won.
	Event event.ID
	// Kind is the kind of the winning bid.
	Kind bid.Kind
	// Payload is the final payload of the action.
	Payload any
	// Extension is set when an extend bid intercepted the action.
	Extension *Extension
}

// Extension is handed to an extending scenario. The scenario settles it
// with Resolve or Reject, either before its next yield (the action then
// continues in the same cycle) or at any later time from any goroutine.
type Extension struct {
	Event event.ID
	// Value is the payload intercepted by the extend.
	Value any

	p *promise.Promise
}

func newExtension(id event.ID, value any) *Extension {
	return &Extension{Event: id, Value: value, p: promise.New()}
}

// Resolve continues the intercepted action with v. v may itself be a
// promise.Future or promise.Func, in which case the action stays pending
// until it settles. Only the first settlement counts.
func (x *Extension) Resolve(v any) bool {
	return x.p.Resolve(v)
}

// Reject rejects the intercepted action. A requesting scenario receives
// the error from its Yield.
func (x *Extension) Reject(err error) bool {
	return x.p.Reject(err)
}

// Settled reports whether Resolve or Reject was called.
func (x *Extension) Settled() bool {
	return x.p.Settled()
}

// Thread is the handle a scenario body uses to place bids.
//
// All methods must be called from the body's own goroutine (the one the
// body was started on). Yield suspends the body until the scheduler
// resumes it.
type Thread struct {
	u     *unit
	yield func(bid.Bids) (Result, error)
}

// ID returns the scenario identity.
func (t *Thread) ID() bid.ScenarioID {
	return t.u.id
}

// Key returns the scenario key.
func (t *Thread) Key() event.Key {
	return t.u.id.Key
}

// Section labels the body's current phase for introspection and tests.
func (t *Thread) Section(label string) {
	t.u.section = label
}

// IsPending reports whether id is pending under this scenario.
func (t *Thread) IsPending(id event.ID) bool {
	return t.u.pending.Has(id)
}

// Value returns the cached value of id as a payload factory would see it:
// the keyed entry if present, otherwise the unkeyed one. Maps and slices
// are copied.
func (t *Thread) Value(id event.ID) any {
	return clonePayload(t.u.cache.current(id))
}

// Yield places bids and suspends until one of them wins. The error is a
// *RejectedError when a pending request of this scenario was rejected.
func (t *Thread) Yield(bids ...bid.Bid) (Result, error) {
	return t.yield(bid.Bids(bids))
}

// Request requests id with payload and returns the final payload.
func (t *Thread) Request(id event.ID, payload any) (any, error) {
	r, err := t.Yield(bid.Request(id, payload))
	return r.Payload, err
}

// Set requests id with payload and writes the final payload to the event
// cache before any scenario resumes.
func (t *Thread) Set(id event.ID, payload any) (any, error) {
	r, err := t.Yield(bid.Set(id, payload))
	return r.Payload, err
}

// AskFor waits for id to be requested or dispatched with a payload that
// guard accepts.
func (t *Thread) AskFor(id event.ID, guard bid.Guard) (any, error) {
	r, err := t.Yield(bid.AskFor(id, guard))
	return r.Payload, err
}

// Wait is a synonym for AskFor.
func (t *Thread) Wait(id event.ID, guard bid.Guard) (any, error) {
	return t.AskFor(id, guard)
}

// Extend intercepts the next action on id that guard accepts.
func (t *Thread) Extend(id event.ID, guard bid.Guard) (*Extension, error) {
	r, err := t.Yield(bid.Extend(id, guard))
	return r.Extension, err
}

// stopSignal unwinds a body whose coroutine was stopped.
type stopSignal struct{}

type resumeValue struct {
	result Result
	err    error
}

// coroutine runs a body as a pull iterator. The body and the scheduler
// never run at the same time: next hands control to the body and blocks
// until it yields or returns.
type coroutine struct {
	next  func() (bid.Bids, bool)
	stop  func()
	input resumeValue
	err   error
	done  bool
}

func newCoroutine(t *Thread, body Body, props Props) *coroutine {
	co := &coroutine{}
	seq := func(yield func(bid.Bids) bool) {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(stopSignal); ok {
					return
				}
				panic(r)
			}
		}()
		t.yield = func(bids bid.Bids) (Result, error) {
			if !yield(bids) {
				panic(stopSignal{})
			}
			in := co.input
			co.input = resumeValue{}
			return in.result, in.err
		}
		co.err = body(t, props)
	}
	co.next, co.stop = iter.Pull(iter.Seq[bid.Bids](seq))
	return co
}

// resume runs the body until its next yield. ok is false once the body
// has returned; the body's error is then in co.err.
func (co *coroutine) resume(in resumeValue) (bid.Bids, bool) {
	if co.done {
		return nil, false
	}
	co.input = in
	bids, ok := co.next()
	if !ok {
		co.done = true
	}
	return bids, ok
}

// close stops the body. Deferred calls in the body still run.
func (co *coroutine) close() {
	co.done = true
	co.stop()
}
