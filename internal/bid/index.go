package bid

import (
	"slices"

	"github.com/roach88/bpflow/internal/event"
)

// Index is the union of every enabled scenario's current bids for one
// cycle. Within each kind, bids are kept in ascending priority order
// (stage order), so the last element has the highest precedence.
type Index struct {
	byKind map[Kind]*event.Map[[]Bid]
	all    map[Kind][]Bid
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		byKind: make(map[Kind]*event.Map[[]Bid]),
		all:    make(map[Kind][]Bid),
	}
}

// Add appends b. Callers add bids in ascending priority order.
func (ix *Index) Add(b Bid) {
	m, ok := ix.byKind[b.Kind]
	if !ok {
		m = event.NewMap[[]Bid]()
		ix.byKind[b.Kind] = m
	}
	m.Update(b.Event, func(cur []Bid, _ bool) []Bid {
		return append(cur, b)
	})
	ix.all[b.Kind] = append(ix.all[b.Kind], b)
}

// All returns every bid of kind in ascending priority order.
func (ix *Index) All(kind Kind) []Bid {
	if ix == nil {
		return nil
	}
	return slices.Clone(ix.all[kind])
}

// Events returns the distinct events bid on with kind, in first-seen order.
func (ix *Index) Events(kind Kind) []event.ID {
	if ix == nil {
		return nil
	}
	return ix.byKind[kind].Keys()
}

// Has reports whether any bid of kind is placed exactly on id.
func (ix *Index) Has(kind Kind, id event.ID) bool {
	if ix == nil {
		return false
	}
	return ix.byKind[kind].Has(id)
}

// Matching returns the bids of kind whose event matches id under wildcard
// semantics, in ascending priority order.
func (ix *Index) Matching(kind Kind, id event.ID) []Bid {
	if ix == nil {
		return nil
	}
	var out []Bid
	for _, group := range ix.byKind[kind].MatchingValues(id) {
		out = append(out, group...)
	}
	sortByPriority(out)
	return out
}

// Covering returns the bids of kind that apply to an action on id: bids on
// the unkeyed name plus bids on exactly id. Ascending priority order.
func (ix *Index) Covering(kind Kind, id event.ID) []Bid {
	if ix == nil {
		return nil
	}
	var out []Bid
	for stored, group := range ix.byKind[kind].All() {
		if stored.Covers(id) {
			out = append(out, group...)
		}
	}
	sortByPriority(out)
	return out
}

// Blocked reports whether an action on id with payload is blocked: some
// covering block bid either has no guard or its guard accepts payload.
func (ix *Index) Blocked(id event.ID, payload any) bool {
	for _, b := range ix.Covering(KindBlock, id) {
		if b.Accepts(payload) {
			return true
		}
	}
	return false
}

// BlockedUnconditionally reports whether an unguarded block covers id.
func (ix *Index) BlockedUnconditionally(id event.ID) bool {
	for _, b := range ix.Covering(KindBlock, id) {
		if b.Guard == nil {
			return true
		}
	}
	return false
}

// ForScenario returns the bids placed by one scenario, in kind order.
func (ix *Index) ForScenario(id ScenarioID) Bids {
	if ix == nil {
		return nil
	}
	var out Bids
	for _, k := range Kinds {
		for _, b := range ix.all[k] {
			if b.Scenario == id {
				out = append(out, b)
			}
		}
	}
	return out
}

func sortByPriority(bids []Bid) {
	slices.SortStableFunc(bids, func(a, b Bid) int {
		return a.Priority - b.Priority
	})
}
