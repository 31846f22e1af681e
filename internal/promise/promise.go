// Package promise provides the asynchronous values that request and extend
// bids may carry.
//
// A Future settles exactly once, with either a value or an error. Settlement
// callbacks run synchronously on the goroutine that settles the future; the
// scheduler uses them only to enqueue an action, so they never touch
// scheduler state directly.
package promise

import (
	"context"
	"fmt"
	"sync"
)

// Future is a value that settles at some later point.
type Future interface {
	// OnSettle registers fn to be called once the future settles. If it has
	// already settled, fn is called immediately.
	OnSettle(fn func(value any, err error))
}

// Func is an asynchronous payload producer. The scheduler runs it on its own
// goroutine through Go.
type Func func(ctx context.Context) (any, error)

// Promise is a manually settled Future. It is safe for concurrent use.
type Promise struct {
	mu        sync.Mutex
	settled   bool
	value     any
	err       error
	callbacks []func(any, error)
}

// New creates an unsettled promise.
func New() *Promise {
	return &Promise{}
}

// Resolved creates a promise already settled with v.
func Resolved(v any) *Promise {
	p := New()
	p.Resolve(v)
	return p
}

// Rejected creates a promise already settled with err.
func Rejected(err error) *Promise {
	p := New()
	p.Reject(err)
	return p
}

// Resolve settles the promise with v. It reports false if the promise was
// already settled.
func (p *Promise) Resolve(v any) bool {
	return p.settle(v, nil)
}

// Reject settles the promise with err. A nil err is replaced with a generic
// rejection so that callers can always distinguish the two outcomes.
func (p *Promise) Reject(err error) bool {
	if err == nil {
		err = fmt.Errorf("promise rejected")
	}
	return p.settle(nil, err)
}

func (p *Promise) settle(v any, err error) bool {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return false
	}
	p.settled = true
	p.value = v
	p.err = err
	callbacks := p.callbacks
	p.callbacks = nil
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(v, err)
	}
	return true
}

// OnSettle implements Future.
func (p *Promise) OnSettle(fn func(value any, err error)) {
	p.mu.Lock()
	if !p.settled {
		p.callbacks = append(p.callbacks, fn)
		p.mu.Unlock()
		return
	}
	v, err := p.value, p.err
	p.mu.Unlock()
	fn(v, err)
}

// Settled reports whether the promise has settled.
func (p *Promise) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// Result returns the settled value and error. ok is false while unsettled.
func (p *Promise) Result() (value any, err error, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err, p.settled
}

// Go runs fn on a new goroutine and returns a promise settled with its
// result. A panic inside fn rejects the promise instead of crashing the
// process.
func Go(ctx context.Context, fn Func) *Promise {
	p := New()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.Reject(fmt.Errorf("async payload panicked: %v", r))
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

// Never returns a future that never settles. Replay uses it to stand in for
// live async work whose outcome is supplied by a recorded action.
func Never() Future {
	return never{}
}

type never struct{}

func (never) OnSettle(func(any, error)) {}
