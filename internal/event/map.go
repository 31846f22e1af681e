package event

import "iter"

// Map is an insertion-ordered map keyed by event ID.
//
// Deleting and re-setting an ID moves it to the end. The zero value is not
// usable; create maps with NewMap.
type Map[T any] struct {
	index map[ID]int
	ids   []ID
	vals  []T
}

// NewMap creates an empty map.
func NewMap[T any]() *Map[T] {
	return &Map[T]{index: make(map[ID]int)}
}

// Len returns the number of entries.
func (m *Map[T]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ids)
}

// Get returns the value stored for the exact ID.
func (m *Map[T]) Get(id ID) (T, bool) {
	var zero T
	if m == nil {
		return zero, false
	}
	i, ok := m.index[id]
	if !ok {
		return zero, false
	}
	return m.vals[i], true
}

// Has reports whether the exact ID is present.
func (m *Map[T]) Has(id ID) bool {
	if m == nil {
		return false
	}
	_, ok := m.index[id]
	return ok
}

// Set stores v under id. Existing entries keep their position.
func (m *Map[T]) Set(id ID, v T) {
	if i, ok := m.index[id]; ok {
		m.vals[i] = v
		return
	}
	m.index[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vals = append(m.vals, v)
}

// Update replaces the value for id with fn(current, present).
func (m *Map[T]) Update(id ID, fn func(current T, ok bool) T) {
	cur, ok := m.Get(id)
	m.Set(id, fn(cur, ok))
}

// Delete removes id and reports whether it was present.
func (m *Map[T]) Delete(id ID) bool {
	i, ok := m.index[id]
	if !ok {
		return false
	}
	delete(m.index, id)
	m.ids = append(m.ids[:i], m.ids[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	for j := i; j < len(m.ids); j++ {
		m.index[m.ids[j]] = j
	}
	return true
}

// Clear removes every entry.
func (m *Map[T]) Clear() {
	m.index = make(map[ID]int)
	m.ids = nil
	m.vals = nil
}

// All iterates over entries in insertion order.
func (m *Map[T]) All() iter.Seq2[ID, T] {
	return func(yield func(ID, T) bool) {
		if m == nil {
			return
		}
		for i, id := range m.ids {
			if !yield(id, m.vals[i]) {
				return
			}
		}
	}
}

// Keys returns the IDs in insertion order.
func (m *Map[T]) Keys() []ID {
	if m == nil {
		return nil
	}
	out := make([]ID, len(m.ids))
	copy(out, m.ids)
	return out
}

// Values returns the values in insertion order.
func (m *Map[T]) Values() []T {
	if m == nil {
		return nil
	}
	out := make([]T, len(m.vals))
	copy(out, m.vals)
	return out
}

// Clone returns a shallow copy.
func (m *Map[T]) Clone() *Map[T] {
	out := NewMap[T]()
	for id, v := range m.All() {
		out.Set(id, v)
	}
	return out
}

// Matching returns the IDs of all entries matching id under wildcard
// semantics, in insertion order. An unkeyed id yields every entry with the
// same name; a keyed id yields the exact entry plus the unkeyed one.
func (m *Map[T]) Matching(id ID) []ID {
	if m == nil {
		return nil
	}
	var out []ID
	for _, stored := range m.ids {
		if stored.Matches(id) {
			out = append(out, stored)
		}
	}
	return out
}

// MatchingValues returns the values of Matching(id).
func (m *Map[T]) MatchingValues(id ID) []T {
	ids := m.Matching(id)
	if len(ids) == 0 {
		return nil
	}
	out := make([]T, 0, len(ids))
	for _, stored := range ids {
		out = append(out, m.vals[m.index[stored]])
	}
	return out
}

// Difference returns a new map holding the entries of m whose ID is not
// present in other.
func (m *Map[T]) Difference(other interface{ Has(ID) bool }) *Map[T] {
	out := NewMap[T]()
	for id, v := range m.All() {
		if !other.Has(id) {
			out.Set(id, v)
		}
	}
	return out
}

// Intersection returns a new map holding the entries of m whose ID is also
// present in other.
func (m *Map[T]) Intersection(other interface{ Has(ID) bool }) *Map[T] {
	out := NewMap[T]()
	for id, v := range m.All() {
		if other.Has(id) {
			out.Set(id, v)
		}
	}
	return out
}

// Set is an insertion-ordered set of event IDs.
type Set = Map[struct{}]

// NewSet creates a set holding ids.
func NewSet(ids ...ID) *Set {
	s := NewMap[struct{}]()
	for _, id := range ids {
		s.Set(id, struct{}{})
	}
	return s
}
