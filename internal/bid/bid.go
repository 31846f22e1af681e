// Package bid defines the declarations scenarios place at each suspension
// point and the per-cycle index the scheduler negotiates over.
//
// Bid records are immutable once placed. Anything that needs a modified bid
// (for example a combined guard) builds a new record.
package bid

import (
	"context"
	"fmt"

	"github.com/roach88/bpflow/internal/event"
	"github.com/roach88/bpflow/internal/promise"
)

// Kind distinguishes bid types.
type Kind int

const (
	// KindRequest actively supplies a value for an event.
	KindRequest Kind = iota + 1
	// KindSet is a request whose value is also written to the event cache.
	KindSet
	// KindAskFor passively waits for an event requested or dispatched by
	// another party. Wait is a synonym.
	KindAskFor
	// KindBlock prevents matching actions from proceeding.
	KindBlock
	// KindExtend intercepts an action before passive bids observe it.
	KindExtend
	// KindValidate rejects actions whose payload fails its guard.
	KindValidate
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindRequest, KindSet, KindAskFor, KindBlock, KindExtend, KindValidate}

var kindNames = map[Kind]string{
	KindRequest:  "request",
	KindSet:      "set",
	KindAskFor:   "askFor",
	KindBlock:    "block",
	KindExtend:   "extend",
	KindValidate: "validate",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses the names produced by String. "wait" is accepted as a
// synonym for askFor.
func ParseKind(s string) (Kind, error) {
	if s == "wait" {
		return KindAskFor, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown bid kind %q", s)
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if k == 0 {
		return nil, nil
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names ParseKind accepts. Empty text is the
// zero kind.
func (k *Kind) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = 0
		return nil
	}
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Active reports whether the kind supplies a value (request or set).
func (k Kind) Active() bool {
	return k == KindRequest || k == KindSet
}

// Constraint reports whether the kind only constrains other bids and never
// advances its own scenario.
func (k Kind) Constraint() bool {
	return k == KindBlock || k == KindValidate
}

// ScenarioID identifies a scenario instance by name and optional key.
type ScenarioID struct {
	Name string    `json:"name"`
	Key  event.Key `json:"key,omitzero"`
}

// IsZero reports whether the ID is unset.
func (s ScenarioID) IsZero() bool {
	return s.Name == "" && s.Key.IsZero()
}

func (s ScenarioID) String() string {
	if s.Key.IsZero() {
		return s.Name
	}
	return s.Name + "[" + s.Key.String() + "]"
}

// PayloadFunc computes a request payload from the event's currently cached
// value (nil when nothing is cached). It may return a promise.Future to make
// the request asynchronous.
type PayloadFunc func(current any) any

// Bid is one declaration placed by a scenario.
type Bid struct {
	Kind  Kind
	Event event.ID
	// Payload is a literal value, a PayloadFunc, a promise.Future or a
	// promise.Func. Only active kinds use it.
	Payload any
	Guard   Guard

	// Scenario and Priority are stamped by the scheduler when the bid is
	// collected into an Index.
	Scenario ScenarioID
	Priority int
}

func (b Bid) String() string {
	return fmt.Sprintf("%s(%s)@%s", b.Kind, b.Event, b.Scenario)
}

// Accepts reports whether the bid's guard accepts payload.
func (b Bid) Accepts(payload any) bool {
	return b.Guard.Accepts(payload)
}

// EvalPayload resolves payload factories against the cached value.
func (b Bid) EvalPayload(current any) any {
	if fn, ok := b.Payload.(PayloadFunc); ok {
		return fn(current)
	}
	if fn, ok := b.Payload.(func(any) any); ok {
		return fn(current)
	}
	return b.Payload
}

// IsAsync reports whether v is an asynchronous payload.
func IsAsync(v any) bool {
	switch v.(type) {
	case promise.Future, promise.Func, func(context.Context) (any, error):
		return true
	default:
		return false
	}
}

// Request builds a request bid.
func Request(id event.ID, payload any) Bid {
	return Bid{Kind: KindRequest, Event: id, Payload: payload}
}

// Set builds a set bid: a request whose value is written to the event cache.
func Set(id event.ID, payload any) Bid {
	return Bid{Kind: KindSet, Event: id, Payload: payload}
}

// AskFor builds a passive bid. guard may be nil.
func AskFor(id event.ID, guard Guard) Bid {
	return Bid{Kind: KindAskFor, Event: id, Guard: guard}
}

// Wait is a synonym for AskFor.
func Wait(id event.ID, guard Guard) Bid {
	return AskFor(id, guard)
}

// Block builds a block bid. With a nil guard the block is unconditional.
func Block(id event.ID, guard Guard) Bid {
	return Bid{Kind: KindBlock, Event: id, Guard: guard}
}

// Extend builds an extend bid. Actions whose payload the guard rejects pass
// through unchanged.
func Extend(id event.ID, guard Guard) Bid {
	return Bid{Kind: KindExtend, Event: id, Guard: guard}
}

// Validate builds a validate bid.
func Validate(id event.ID, guard Guard) Bid {
	return Bid{Kind: KindValidate, Event: id, Guard: guard}
}

// WithGuard returns a copy of b carrying guard.
func (b Bid) WithGuard(guard Guard) Bid {
	b.Guard = guard
	return b
}

// WithPayload returns a copy of b carrying payload.
func (b Bid) WithPayload(payload any) Bid {
	b.Payload = payload
	return b
}

// Bids is the set of bids yielded at one suspension point.
type Bids []Bid

// Multiple reports whether more than one progressable bid is offered, in
// which case the scenario is resumed with the winning event attached.
func (bs Bids) Multiple() bool {
	n := 0
	for _, b := range bs {
		if !b.Kind.Constraint() {
			n++
		}
	}
	return n > 1
}

// Get returns the first bid of kind whose event matches id.
func (bs Bids) Get(kind Kind, id event.ID) (Bid, bool) {
	for _, b := range bs {
		if b.Kind == kind && b.Event.Matches(id) {
			return b, true
		}
	}
	return Bid{}, false
}

// Events returns the events of the given kind in yield order.
func (bs Bids) Events(kind Kind) []event.ID {
	var out []event.ID
	for _, b := range bs {
		if b.Kind == kind {
			out = append(out, b.Event)
		}
	}
	return out
}
