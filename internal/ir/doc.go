// Package ir is the canonical form of a run's trace.
//
// A trace is reduced to a tree of Values (no floats, no null), encoded as
// RFC 8785 canonical JSON and hashed with a domain prefix. Two runs with the
// same causality produce the same digest regardless of payloads, run ids or
// map iteration order.
package ir
