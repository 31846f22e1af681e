package engine

import (
	"maps"
	"reflect"
	"slices"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
)

// Props are the construction arguments of a scenario. A scenario is
// restarted when any prop changes between cycles.
type Props map[string]any

// Body is the resumable computation of a scenario. It suspends at every
// t.Yield call. Returning ends the scenario; a non-nil error is surfaced to
// the host as a scenario failure.
type Body func(t *Thread, props Props) error

// Scenario declares a scenario that a staging function can enable.
type Scenario struct {
	Name  string
	Key   event.Key
	Title string

	// DestroyOnDisable destroys the unit as soon as it is not enabled,
	// even if requests are still pending.
	DestroyOnDisable bool
	// CancelPendingOnDisable cancels pending requests when the unit is not
	// enabled, which also destroys it.
	CancelPendingOnDisable bool

	Body Body
}

// ID returns the scenario identity.
func (s Scenario) ID() bid.ScenarioID {
	return bid.ScenarioID{Name: s.Name, Key: s.Key}
}

// Keyed returns a copy of the scenario carrying key, so one declaration
// can be enabled as several instances.
func (s Scenario) Keyed(key event.Key) Scenario {
	s.Key = key
	return s
}

// ScenarioState is the public snapshot of a unit.
type ScenarioState struct {
	ID           bid.ScenarioID
	Title        string
	Section      string
	Completed    bool
	Err          error
	Progressions int
	Pending      []event.ID
	Bids         bid.Bids
	Enabled      bool
	Destroyed    bool
}

// IsPending reports whether id is pending under this scenario.
func (s ScenarioState) IsPending(id event.ID) bool {
	return slices.Contains(s.Pending, id)
}

// changedProps returns the sorted keys whose values differ between prev
// and next under structural equality.
func changedProps(prev, next Props) []string {
	var changed []string
	for k, v := range next {
		old, ok := prev[k]
		if !ok || !reflect.DeepEqual(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed
}

func cloneProps(p Props) Props {
	if p == nil {
		return Props{}
	}
	return maps.Clone(p)
}
