package engine

import (
	"reflect"
	"slices"

	"github.com/roach88/bpflow/internal/event"
)

// CacheEntry is the cached value of an event plus every value it held.
type CacheEntry struct {
	Value   any   `json:"value"`
	History []any `json:"history"`
}

// eventCache holds the values written by set bids. It is owned by the
// scheduler loop; scenarios only see copies.
type eventCache struct {
	m *event.Map[*CacheEntry]
}

func newEventCache() *eventCache {
	return &eventCache{m: event.NewMap[*CacheEntry]()}
}

// get returns the entry for the exact id.
func (c *eventCache) get(id event.ID) (CacheEntry, bool) {
	e, ok := c.m.Get(id)
	if !ok {
		return CacheEntry{}, false
	}
	return CacheEntry{Value: clonePayload(e.Value), History: slices.Clone(e.History)}, true
}

// current returns the value a payload factory sees for id: the keyed entry
// if present, otherwise the unkeyed one.
func (c *eventCache) current(id event.ID) any {
	if e, ok := c.m.Get(id); ok {
		return e.Value
	}
	if id.HasKey() {
		if e, ok := c.m.Get(id.Unkeyed()); ok {
			return e.Value
		}
	}
	return nil
}

// set writes v for id. Writing an unkeyed id also overwrites every keyed
// entry of the same name. Map and slice payloads are copied so later
// writes by the scenario that produced them do not reach the cache.
func (c *eventCache) set(id event.ID, v any) {
	write := func(target event.ID) {
		e, ok := c.m.Get(target)
		if !ok {
			e = &CacheEntry{}
			c.m.Set(target, e)
		}
		e.Value = clonePayload(v)
		e.History = append(e.History, clonePayload(v))
	}
	write(id)
	if id.HasKey() {
		return
	}
	for _, stored := range c.m.Matching(id) {
		if stored.HasKey() {
			write(stored)
		}
	}
}

// snapshot returns a deep copy for a context.
func (c *eventCache) snapshot() *event.Map[CacheEntry] {
	out := event.NewMap[CacheEntry]()
	for id, e := range c.m.All() {
		out.Set(id, CacheEntry{Value: clonePayload(e.Value), History: slices.Clone(e.History)})
	}
	return out
}

// clonePayload returns a shallow copy of map and slice payloads. Other
// values are returned as is.
func clonePayload(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		it := rv.MapRange()
		for it.Next() {
			out.SetMapIndex(it.Key(), it.Value())
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		return out.Interface()
	default:
		return v
	}
}
