// Package event provides structural event identity and an insertion-ordered
// container keyed by it.
//
// An event is identified by a name plus an optional key. Keys are either
// strings or integers and the two are never interchangeable: StringKey("1")
// and IntKey(1) identify different events. Identity is never rebuilt by
// concatenating name and key into a string.
//
// Wildcard semantics:
//   - An unkeyed ID matches every keyed variant of the same name.
//   - A keyed ID matches itself and the unkeyed ID of the same name.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type keyKind uint8

const (
	keyNone keyKind = iota
	keyString
	keyInt
)

// Key is an optional event or scenario key. The zero value means "no key".
type Key struct {
	kind keyKind
	str  string
	num  int64
}

// StringKey returns a string-typed key.
func StringKey(s string) Key {
	return Key{kind: keyString, str: s}
}

// IntKey returns an integer-typed key.
func IntKey(n int64) Key {
	return Key{kind: keyInt, num: n}
}

// KeyOf converts a decoded value (from JSON, YAML or CUE) into a Key.
// nil yields the zero key. Integral floats become integer keys.
func KeyOf(v any) (Key, error) {
	switch k := v.(type) {
	case nil:
		return Key{}, nil
	case Key:
		return k, nil
	case string:
		return StringKey(k), nil
	case int:
		return IntKey(int64(k)), nil
	case int64:
		return IntKey(k), nil
	case int32:
		return IntKey(int64(k)), nil
	case uint64:
		return IntKey(int64(k)), nil
	case float64:
		if k != float64(int64(k)) {
			return Key{}, fmt.Errorf("key %v is not an integer", k)
		}
		return IntKey(int64(k)), nil
	case json.Number:
		n, err := k.Int64()
		if err != nil {
			return Key{}, fmt.Errorf("key %q is not an integer: %w", k, err)
		}
		return IntKey(n), nil
	default:
		return Key{}, fmt.Errorf("unsupported key type %T", v)
	}
}

// IsZero reports whether the key is absent.
func (k Key) IsZero() bool {
	return k.kind == keyNone
}

// IsString reports whether the key is string-typed.
func (k Key) IsString() bool {
	return k.kind == keyString
}

// IsInt reports whether the key is integer-typed.
func (k Key) IsInt() bool {
	return k.kind == keyInt
}

// Value returns the key as a plain Go value: nil, string or int64.
func (k Key) Value() any {
	switch k.kind {
	case keyString:
		return k.str
	case keyInt:
		return k.num
	default:
		return nil
	}
}

// String renders the key for display. String keys are quoted so that
// StringKey("1") and IntKey(1) print differently.
func (k Key) String() string {
	switch k.kind {
	case keyString:
		return strconv.Quote(k.str)
	case keyInt:
		return strconv.FormatInt(k.num, 10)
	default:
		return ""
	}
}

// MarshalJSON encodes the key as a JSON string, number or null.
func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Value())
}

// UnmarshalJSON decodes a JSON string, integer or null.
func (k *Key) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	parsed, err := KeyOf(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ID identifies an event category.
type ID struct {
	Name string `json:"name"`
	Key  Key    `json:"key,omitzero"`
}

// Named returns an unkeyed event ID.
func Named(name string) ID {
	return ID{Name: name}
}

// Keyed returns a keyed event ID.
func Keyed(name string, key Key) ID {
	return ID{Name: name, Key: key}
}

// HasKey reports whether the ID carries a key.
func (id ID) HasKey() bool {
	return !id.Key.IsZero()
}

// Unkeyed returns the ID with its key removed.
func (id ID) Unkeyed() ID {
	return ID{Name: id.Name}
}

// WithKey returns a copy of the ID carrying key.
func (id ID) WithKey(key Key) ID {
	return ID{Name: id.Name, Key: key}
}

// Matches reports whether id and other refer to overlapping events:
// same name, and either side unkeyed or both keys equal.
func (id ID) Matches(other ID) bool {
	if id.Name != other.Name {
		return false
	}
	if !id.HasKey() || !other.HasKey() {
		return true
	}
	return id.Key == other.Key
}

// Covers reports whether a bid placed on id applies to an action on other.
// An unkeyed id covers every key of its name; a keyed id covers only itself.
func (id ID) Covers(other ID) bool {
	if id.Name != other.Name {
		return false
	}
	if !id.HasKey() {
		return true
	}
	return id.Key == other.Key
}

// String renders the ID for logs, e.g. `A`, `A[1]` or `A["1"]`.
func (id ID) String() string {
	if !id.HasKey() {
		return id.Name
	}
	return id.Name + "[" + id.Key.String() + "]"
}
