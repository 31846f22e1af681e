package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
)

// encodeKey stores a key as its JSON form, so 1 and "1" stay distinct.
// The zero key is the empty string.
func encodeKey(k event.Key) (string, error) {
	if k.IsZero() {
		return "", nil
	}
	data, err := k.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}
	return string(data), nil
}

func decodeKey(s string) (event.Key, error) {
	if s == "" {
		return event.Key{}, nil
	}
	var k event.Key
	if err := k.UnmarshalJSON([]byte(s)); err != nil {
		return event.Key{}, fmt.Errorf("unmarshal key %s: %w", s, err)
	}
	return k, nil
}

func encodeBidKind(k bid.Kind) string {
	if k == 0 {
		return ""
	}
	return k.String()
}

func decodeBidKind(s string) (bid.Kind, error) {
	if s == "" {
		return 0, nil
	}
	return bid.ParseKind(s)
}

// encodePayload stores a payload as JSON without HTML escaping. A nil
// payload is the empty string.
func encodePayload(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// decodePayload parses a stored payload. Integral numbers become int64 and
// the rest float64, so values above 2^53 keep their precision.
func decodePayload(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return normalizeNumbers(raw)
}

// encodeProps stores nil props as an empty object.
func encodeProps(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	s, err := encodePayload(p)
	if err != nil {
		return "", fmt.Errorf("props: %w", err)
	}
	return s, nil
}

func decodeProps(s string) (map[string]any, error) {
	v, err := decodePayload(s)
	if err != nil {
		return nil, fmt.Errorf("props: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("props: want an object, got %T", v)
	}
	return m, nil
}

func normalizeNumbers(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", val, err)
		}
		return f, nil
	case []any:
		for i, elem := range val {
			x, err := normalizeNumbers(elem)
			if err != nil {
				return nil, err
			}
			val[i] = x
		}
		return val, nil
	case map[string]any:
		for k, elem := range val {
			x, err := normalizeNumbers(elem)
			if err != nil {
				return nil, err
			}
			val[k] = x
		}
		return val, nil
	default:
		return v, nil
	}
}

// reactionDetail holds the reaction fields that have no column.
type reactionDetail struct {
	Event        event.ID   `json:"event,omitzero"`
	ChangedProps []string   `json:"changed_props,omitempty"`
	Cancelled    []event.ID `json:"cancelled,omitempty"`
	Err          string     `json:"error,omitempty"`
}

func encodeDetail(r engine.Reaction) (string, error) {
	data, err := json.Marshal(reactionDetail{
		Event:        r.Event,
		ChangedProps: r.ChangedProps,
		Cancelled:    r.Cancelled,
		Err:          r.Err,
	})
	if err != nil {
		return "", fmt.Errorf("marshal reaction detail: %w", err)
	}
	return string(data), nil
}

func decodeDetail(s string, r *engine.Reaction) error {
	var d reactionDetail
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return fmt.Errorf("unmarshal reaction detail: %w", err)
	}
	r.Event = d.Event
	r.ChangedProps = d.ChangedProps
	r.Cancelled = d.Cancelled
	r.Err = d.Err
	return nil
}

func encodeEvents(ids []event.ID) (string, error) {
	if ids == nil {
		ids = []event.ID{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}
	return string(data), nil
}

func decodeEvents(s string) ([]event.ID, error) {
	var ids []event.ID
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}
