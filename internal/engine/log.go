package engine

import (
	"slices"
	"sync"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
)

// ReactionType classifies how a scenario reacted to an action.
type ReactionType string

const (
	ReactionInit     ReactionType = "init"
	ReactionProgress ReactionType = "progress"
	ReactionPending  ReactionType = "pending"
	ReactionExtend   ReactionType = "extend"
	ReactionResolve  ReactionType = "resolve"
	ReactionReject   ReactionType = "reject"
	ReactionReset    ReactionType = "reset"
	ReactionError    ReactionType = "error"
	ReactionDestroy  ReactionType = "destroy"
)

// Reaction is one scenario's reaction to an action. Reactions recorded
// before the first action carry ActionID 0.
type Reaction struct {
	ActionID     int64          `json:"action_id"`
	Scenario     bid.ScenarioID `json:"scenario"`
	Type         ReactionType   `json:"type"`
	Event        event.ID       `json:"event,omitzero"`
	Section      string         `json:"section,omitempty"`
	ChangedProps []string       `json:"changed_props,omitempty"`
	Cancelled    []event.ID     `json:"cancelled,omitempty"`
	Err          string         `json:"error,omitempty"`
}

// Entry is the log record of one action.
//
// Action.Payload is the pre-extension value. When an extend intercepts the
// action, the value delivered to the origin and waiters is the extension's
// result and is not logged; a resolvedExtend entry logs the value the
// extender settled with, before any lower extend transforms it.
type Entry struct {
	Action    Action     `json:"action"`
	Reactions []Reaction `json:"reactions"`
	// Pending is the set of events pending anywhere once the action was
	// applied.
	Pending []event.ID `json:"pending,omitempty"`
}

// Reacted reports whether scenario reacted to the entry's action.
func (e Entry) Reacted(scenario bid.ScenarioID) bool {
	for _, r := range e.Reactions {
		if r.Scenario == scenario {
			return true
		}
	}
	return false
}

// ReactingScenarios returns the distinct scenarios that reacted, in order.
func (e Entry) ReactingScenarios() []bid.ScenarioID {
	var out []bid.ScenarioID
	for _, r := range e.Reactions {
		if !slices.Contains(out, r.Scenario) {
			out = append(out, r.Scenario)
		}
	}
	return out
}

// Responders returns the distinct scenarios that reacted to applying the
// action, in order. Init, reset and destroy reactions come from the
// staging pass after the action and are left out.
func (e Entry) Responders() []bid.ScenarioID {
	var out []bid.ScenarioID
	for _, r := range e.Reactions {
		switch r.Type {
		case ReactionInit, ReactionReset, ReactionDestroy:
			continue
		}
		if !slices.Contains(out, r.Scenario) {
			out = append(out, r.Scenario)
		}
	}
	return out
}

// Log is the append-only execution log of one run.
//
// Only the scheduler loop writes. Reads are safe from any goroutine, so a
// host may inspect the log of a snapshot while the loop keeps running.
type Log struct {
	mu         sync.RWMutex
	entries    []Entry
	byID       map[int64]int
	byScenario map[bid.ScenarioID]map[int64][]Reaction
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		byID:       make(map[int64]int),
		byScenario: make(map[bid.ScenarioID]map[int64][]Reaction),
	}
}

// append records an admitted action.
func (l *Log) append(a Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[a.ID] = len(l.entries)
	l.entries = append(l.entries, Entry{Action: a})
}

// react records a reaction against actionID. Reactions for ids without an
// entry (0, before the first action) only go to the per-scenario history.
func (l *Log) react(actionID int64, r Reaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r.ActionID = actionID
	if i, ok := l.byID[actionID]; ok {
		l.entries[i].Reactions = append(l.entries[i].Reactions, r)
	}
	hist, ok := l.byScenario[r.Scenario]
	if !ok {
		hist = make(map[int64][]Reaction)
		l.byScenario[r.Scenario] = hist
	}
	hist[actionID] = append(hist[actionID], r)
}

// setPending stores the pending snapshot on the entry for actionID.
func (l *Log) setPending(actionID int64, pending []event.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.byID[actionID]; ok {
		l.entries[i].Pending = pending
	}
}

// markResolved links a pending requested action to its settlement.
func (l *Log) markResolved(requestID, resolveID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.byID[requestID]; ok {
		l.entries[i].Action.ResolveActionID = resolveID
	}
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of all entries in id order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = copyEntry(e)
	}
	return out
}

// Entry returns the entry for actionID.
func (l *Log) Entry(actionID int64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[actionID]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(l.entries[i]), true
}

// Latest returns the most recent entry.
func (l *Log) Latest() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return copyEntry(l.entries[len(l.entries)-1]), true
}

// Actions returns the recorded actions in id order.
func (l *Log) Actions() []Action {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Action, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Action
	}
	return out
}

// Reactions returns the reaction history of scenario keyed by action id.
func (l *Log) Reactions(scenario bid.ScenarioID) map[int64][]Reaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int64][]Reaction, len(l.byScenario[scenario]))
	for id, rs := range l.byScenario[scenario] {
		out[id] = slices.Clone(rs)
	}
	return out
}

// ReactionAt returns the reactions of scenario to actionID.
func (l *Log) ReactionAt(scenario bid.ScenarioID, actionID int64) []Reaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.byScenario[scenario][actionID])
}

// TraceRecord is the payload-free causality of one action.
type TraceRecord struct {
	ActionID  int64           `json:"action_id"`
	Type      ActionType      `json:"type"`
	Event     event.ID        `json:"event"`
	Scenario  bid.ScenarioID  `json:"scenario,omitzero"`
	Reactions []TraceReaction `json:"reactions"`
}

// TraceReaction is a reaction reduced to who reacted and how.
type TraceReaction struct {
	Scenario bid.ScenarioID `json:"scenario"`
	Type     ReactionType   `json:"type"`
	Section  string         `json:"section,omitempty"`
}

// Trace returns the ordered causality of the run. Two runs with equal
// traces made the same decisions.
func (l *Log) Trace() []TraceRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return TraceOf(l.entries)
}

// TraceOf reduces entries to their trace.
func TraceOf(entries []Entry) []TraceRecord {
	out := make([]TraceRecord, len(entries))
	for i, e := range entries {
		rec := TraceRecord{
			ActionID:  e.Action.ID,
			Type:      e.Action.Type,
			Event:     e.Action.Event,
			Scenario:  e.Action.Scenario,
			Reactions: make([]TraceReaction, 0, len(e.Reactions)),
		}
		for _, r := range e.Reactions {
			rec.Reactions = append(rec.Reactions, TraceReaction{Scenario: r.Scenario, Type: r.Type, Section: r.Section})
		}
		out[i] = rec
	}
	return out
}

func copyEntry(e Entry) Entry {
	e.Reactions = slices.Clone(e.Reactions)
	e.Pending = slices.Clone(e.Pending)
	return e
}
