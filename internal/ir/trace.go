package ir

import (
	"fmt"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
)

// TraceValue converts a trace into its canonical tree. Empty scenario and
// section fields are omitted so that equal traces map to equal trees.
func TraceValue(records []engine.TraceRecord) (Array, error) {
	out := make(Array, len(records))
	for i, rec := range records {
		ev, err := eventValue(rec.Event)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", rec.ActionID, err)
		}
		obj := NewObject(
			P("action_id", Int(rec.ActionID)),
			P("type", Str(rec.Type)),
			P("event", ev),
		)
		if !rec.Scenario.IsZero() {
			sc, err := scenarioValue(rec.Scenario)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", rec.ActionID, err)
			}
			obj["scenario"] = sc
		}

		reactions := make(Array, 0, len(rec.Reactions))
		for _, r := range rec.Reactions {
			sc, err := scenarioValue(r.Scenario)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", rec.ActionID, err)
			}
			ro := NewObject(P("scenario", sc), P("type", Str(r.Type)))
			if r.Section != "" {
				ro["section"] = Str(r.Section)
			}
			reactions = append(reactions, ro)
		}
		obj["reactions"] = reactions
		out[i] = obj
	}
	return out, nil
}

// TraceDigest returns the content digest of a trace.
func TraceDigest(records []engine.TraceRecord) (string, error) {
	v, err := TraceValue(records)
	if err != nil {
		return "", err
	}
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainTrace, data), nil
}

func eventValue(id event.ID) (Value, error) {
	return named(id.Name, id.Key)
}

func scenarioValue(id bid.ScenarioID) (Value, error) {
	return named(id.Name, id.Key)
}

// named encodes a name with an optional key. Int and string keys stay
// distinct: {"key":1} and {"key":"1"}.
func named(name string, key event.Key) (Value, error) {
	obj := NewObject(P("name", Str(name)))
	if key.IsZero() {
		return obj, nil
	}
	k, err := FromAny(key.Value())
	if err != nil {
		return nil, fmt.Errorf("key of %s: %w", name, err)
	}
	obj["key"] = k
	return obj, nil
}
