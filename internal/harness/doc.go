// Package harness runs scenario files against scenario catalogs.
//
// A scenario file names a catalog, optionally replays recorded actions,
// optionally dispatches further events, and states what the run must end
// with.
//
// # Scenario Format
//
// Scenario files are YAML (.yaml, .yml) or CUE (.cue) with this shape:
//
//	name: login-flow
//	description: "a valid user logs in"
//	catalog: tickets
//	props: {}
//	actions:
//	  - {id: 1, type: uiAction, event: {name: login}, payload: Thomas}
//	  - {id: 2, type: requestedAction, scenario: {name: user login},
//	     bid: request, event: {name: loginUser}, resolve_action_id: 3}
//	  - {id: 3, type: resolveAction, scenario: {name: user login},
//	     event: {name: loginUser}, request_action_id: 2, payload: Thomas}
//	dispatch:
//	  - {event: {name: logout}}
//	expect:
//	  replay: completed
//	  sections: [{scenario: {name: user login}, section: login process}]
//	  cache: [{event: {name: userLoggedIn}, value: Thomas}]
//
// Unknown fields are rejected in both formats.
//
// # Replay Actions
//
// Recorded actions are injected at their id. A requestedAction with a
// resolve_action_id (or pending: true) went pending when recorded; its
// settlement comes from the recorded resolve or reject. A requestedAction
// without a payload takes its payload from the live scenario's bid.
// verify: true leaves an action to the live run and checks it instead.
//
// # Determinism
//
// Every run uses a fixed run id and a discarding logger, so repeated runs
// of one file produce identical traces and digests.
package harness
