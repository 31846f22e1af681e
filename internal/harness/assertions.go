package harness

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
)

// evaluate checks x against the final snapshot and the result. Each
// returned string is one failed expectation.
func evaluate(c *engine.Context, r *Result, x Expect) []string {
	var errs []string

	if x.Replay != "" && string(r.Replay.State) != x.Replay {
		msg := fmt.Sprintf("replay: got %s, want %s", r.Replay.State, x.Replay)
		if r.Replay.Abort != nil {
			msg += fmt.Sprintf(" (aborted at %d: %s)", r.Replay.Abort.ActionID, r.Replay.Abort.Reason)
		}
		errs = append(errs, msg)
	}
	if x.AbortAction != 0 {
		if r.Replay.Abort == nil {
			errs = append(errs, fmt.Sprintf("abort_action: replay did not abort, want abort at %d", x.AbortAction))
		} else if r.Replay.Abort.ActionID != x.AbortAction {
			errs = append(errs, fmt.Sprintf("abort_action: got %d, want %d", r.Replay.Abort.ActionID, x.AbortAction))
		}
	}
	if x.Actions != 0 && r.Actions != x.Actions {
		errs = append(errs, fmt.Sprintf("actions: got %d, want %d", r.Actions, x.Actions))
	}

	for _, s := range x.Sections {
		id, _ := s.Scenario.ID()
		st, ok := c.Scenario(id)
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("section %s: scenario not found", id))
		case st.Section != s.Section:
			errs = append(errs, fmt.Sprintf("section %s: got %q, want %q", id, st.Section, s.Section))
		}
	}

	for _, ce := range x.Cache {
		id, _ := ce.Event.ID()
		v := c.Event(id)
		if diff := cmp.Diff(normalize(ce.Value), normalize(v.Value)); diff != "" {
			errs = append(errs, fmt.Sprintf("cache %s value mismatch (-want +got):\n%s", id, diff))
		}
		if ce.History != nil {
			if diff := cmp.Diff(normalize(ce.History), normalize(v.History), cmpopts.EquateEmpty()); diff != "" {
				errs = append(errs, fmt.Sprintf("cache %s history mismatch (-want +got):\n%s", id, diff))
			}
		}
	}

	errs = append(errs, checkReactions(r.Log, x.Reactions)...)

	if x.Pending != nil {
		want := make([]string, 0, len(x.Pending))
		for _, p := range x.Pending {
			id, _ := p.ID()
			want = append(want, id.String())
		}
		got := eventStrings(c.Pending())
		if diff := cmp.Diff(want, got, cmpopts.SortSlices(strings.Less), cmpopts.EquateEmpty()); diff != "" {
			errs = append(errs, fmt.Sprintf("pending mismatch (-want +got):\n%s", diff))
		}
	}

	for _, ref := range x.Completed {
		id, _ := ref.ID()
		st, ok := c.Scenario(id)
		if !ok || !st.Completed {
			errs = append(errs, fmt.Sprintf("completed: scenario %s has not completed", id))
		}
	}

	errs = append(errs, checkFailures(r.Failures, x.Failures)...)

	if x.Digest != "" && r.Digest != x.Digest {
		errs = append(errs, fmt.Sprintf("digest: got %s, want %s", r.Digest, x.Digest))
	}
	return errs
}

func checkReactions(log *engine.Log, want []ReactionExpect) []string {
	var errs []string
	for _, w := range want {
		id, _ := w.Scenario.ID()
		var types []string
		found := false
		for _, got := range log.ReactionAt(id, w.Action) {
			types = append(types, string(got.Type))
			if string(got.Type) == w.Type && (w.Section == "" || got.Section == w.Section) {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("reaction: %s did not react with %s to action %d (got %v)", id, w.Type, w.Action, types))
		}
	}
	return errs
}

// checkFailures matches every failure against exactly one expected
// substring.
func checkFailures(got, want []string) []string {
	var errs []string
	used := make([]bool, len(got))
	for _, w := range want {
		i := -1
		for j, g := range got {
			if !used[j] && strings.Contains(g, w) {
				i = j
				break
			}
		}
		if i < 0 {
			errs = append(errs, fmt.Sprintf("failures: no failure matching %q", w))
			continue
		}
		used[i] = true
	}
	for i, g := range got {
		if !used[i] {
			errs = append(errs, fmt.Sprintf("unexpected failure: %s", g))
		}
	}
	return errs
}

func eventStrings(ids []event.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// normalize maps the numeric types produced by the YAML, CUE and engine
// sides onto int64 and float64 so that values compare structurally.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	}
	return v
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
