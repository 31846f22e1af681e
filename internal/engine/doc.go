// Package engine implements the bpflow scheduler.
//
// Scenarios are resumable bodies that suspend at every Yield, offering a set
// of bids. Each cycle the engine stages the enabled scenarios, collects their
// bids into an index and selects exactly one action:
//
//  1. a due replay record, while injecting a replay
//  2. a queued external action (UI dispatch or async settlement)
//  3. the highest-priority request or set bid that is not pending, blocked
//     or rejected by a validate bid
//
// The action then runs through the extend chain (highest priority first),
// the event cache is written for set bids, and the requesting scenario plus
// every accepting waiter resume. Update repeats this until no synchronous
// action remains.
//
// ARCHITECTURE:
//
// Single-writer loop:
// Only the goroutine calling Update touches scheduler state. Scenario bodies
// run as pull coroutines, so a body and the scheduler never run at the same
// time. Async settlements and dispatches arrive through a thread-safe queue
// and receive their action id when the loop admits them.
//
// Logical clock:
// Action ids come from Clock.Next and are gap-free. Replay matches recorded
// actions by id. Wall-clock time never influences ordering.
//
// Determinism:
// Scenarios are staged in a fixed order, bids are scanned in that order and
// extends, waiters and cache writes follow it. Given the same staging
// function and the same external actions, two runs produce identical logs.
package engine
