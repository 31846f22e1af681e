package bid

import "reflect"

// Check is the outcome of evaluating a guard.
type Check struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// Guard inspects a payload. A nil guard accepts everything.
type Guard func(payload any) Check

// Accept adapts a plain predicate to a Guard.
func Accept(fn func(payload any) bool) Guard {
	return func(payload any) Check {
		return Check{Valid: fn(payload)}
	}
}

// Equals accepts payloads equal to want.
func Equals(want any) Guard {
	return func(payload any) Check {
		if reflect.DeepEqual(payload, want) {
			return Check{Valid: true}
		}
		return Check{Message: "unexpected value"}
	}
}

// Check evaluates the guard. A nil guard yields a valid check.
func (g Guard) Check(payload any) Check {
	if g == nil {
		return Check{Valid: true}
	}
	return g(payload)
}

// Accepts reports whether the guard accepts payload.
func (g Guard) Accepts(payload any) bool {
	return g.Check(payload).Valid
}

// Not inverts g. A nil guard inverted rejects everything.
func (g Guard) Not() Guard {
	return func(payload any) Check {
		c := g.Check(payload)
		return Check{Valid: !c.Valid, Message: c.Message}
	}
}

// Or accepts when any guard accepts. Nil guards accept. With no guards, Or
// rejects.
func Or(guards ...Guard) Guard {
	return func(payload any) Check {
		var last Check
		for _, g := range guards {
			c := g.Check(payload)
			if c.Valid {
				return c
			}
			last = c
		}
		return Check{Message: last.Message}
	}
}

// And accepts when every guard accepts.
func And(guards ...Guard) Guard {
	return func(payload any) Check {
		for _, g := range guards {
			if c := g.Check(payload); !c.Valid {
				return c
			}
		}
		return Check{Valid: true}
	}
}
