package engine

import "sync"

// actionQueue is a thread-safe FIFO of externally produced actions: UI
// dispatches and settlements of asynchronous requests and extensions.
//
// Producers run on arbitrary goroutines (host input handlers, promise
// callbacks). Only the scheduler loop dequeues. Ids are not assigned here;
// an action receives its id when the loop admits it, so the order of
// admission is authoritative rather than the order of settlement.
//
// The signal channel lets Run wait for input with a select on the context.
type actionQueue struct {
	mu      sync.Mutex
	actions []Action
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newActionQueue() *actionQueue {
	return &actionQueue{
		actions: make([]Action, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an action to the back of the queue.
// Returns false if the queue is closed.
func (q *actionQueue) Enqueue(a Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.actions = append(q.actions, a)

	// Non-blocking: the buffer of 1 coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front action without blocking.
func (q *actionQueue) TryDequeue() (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) == 0 {
		return Action{}, false
	}

	a := q.actions[0]
	// Clear the slot so payloads can be collected
	q.actions[0] = Action{}

	if len(q.actions) == 1 {
		q.actions = q.actions[:0]
	} else {
		q.actions = q.actions[1:]
	}

	return a, true
}

// Wait returns a channel that signals when actions may be available.
func (q *actionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *actionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Drain discards every queued action. Used by Reset: settlements that were
// in flight belong to the previous run.
func (q *actionQueue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.actions)
	q.actions = q.actions[:0]
}

// Close stops accepting actions and wakes waiters.
func (q *actionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
