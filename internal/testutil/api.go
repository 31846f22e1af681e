package testutil

import (
	"context"
	"fmt"
	"sync"
)

// Call is one backend call recorded by ManualAPI.
type Call struct {
	Method string
	Arg    any
}

type reply struct {
	value any
	err   error
}

// ManualAPI is a ticket backend whose calls block until the test replies.
// Each method blocks on its own reply slot, so a test controls the order
// in which concurrent async requests settle.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ManualAPI struct {
	mu      sync.Mutex
	calls   []Call
	replies map[string]chan reply
}

// NewManualAPI creates a backend with no pending calls.
func NewManualAPI() *ManualAPI {
	return &ManualAPI{replies: make(map[string]chan reply)}
}

func (a *ManualAPI) slot(method string) chan reply {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.replies[method]
	if !ok {
		ch = make(chan reply, 1)
		a.replies[method] = ch
	}
	return ch
}

func (a *ManualAPI) call(ctx context.Context, method string, arg any) (any, error) {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Method: method, Arg: arg})
	a.mu.Unlock()

	select {
	case r := <-a.slot(method):
		return r.value, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Reply settles the next call to method with value and err. It may be
// called before the call arrives; only one reply per method is buffered.
func (a *ManualAPI) Reply(method string, value any, err error) {
	a.slot(method) <- reply{value: value, err: err}
}

// Calls returns the calls received so far.
func (a *ManualAPI) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *ManualAPI) LoginUser(ctx context.Context, name string) (any, error) {
	return a.call(ctx, "LoginUser", name)
}

func (a *ManualAPI) TicketDetails(ctx context.Context, ticket int64) (any, error) {
	return a.call(ctx, "TicketDetails", ticket)
}

func (a *ManualAPI) ReserveTicket(ctx context.Context, ticket int64) (any, error) {
	return a.call(ctx, "ReserveTicket", ticket)
}
