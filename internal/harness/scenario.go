package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
)

// DefaultTimeout bounds how long a run waits for async work to settle.
const DefaultTimeout = 5 * time.Second

// Scenario is a harness scenario file.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name" json:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description" json:"description"`

	// Catalog names the staging catalog to run.
	Catalog string `yaml:"catalog" json:"catalog"`

	// Props are passed to the catalog.
	Props map[string]any `yaml:"props,omitempty" json:"props,omitempty"`

	// Timeout is a duration string; DefaultTimeout when empty.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Actions are replayed from the start of the run.
	Actions []ActionStep `yaml:"actions,omitempty" json:"actions,omitempty"`

	// Dispatch runs after the replay, one event per settled cycle.
	Dispatch []DispatchStep `yaml:"dispatch,omitempty" json:"dispatch,omitempty"`

	Expect Expect `yaml:"expect" json:"expect"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-" json:"-"`
}

// EventRef names an event. Key is a string or an integer.
type EventRef struct {
	Name string `yaml:"name" json:"name"`
	Key  any    `yaml:"key,omitempty" json:"key,omitempty"`
}

// ID converts the reference.
func (r EventRef) ID() (event.ID, error) {
	k, err := event.KeyOf(r.Key)
	if err != nil {
		return event.ID{}, fmt.Errorf("event %s: %w", r.Name, err)
	}
	return event.ID{Name: r.Name, Key: k}, nil
}

// ScenarioRef names a scenario. Key is a string or an integer.
type ScenarioRef struct {
	Name string `yaml:"name" json:"name"`
	Key  any    `yaml:"key,omitempty" json:"key,omitempty"`
}

// ID converts the reference.
func (r ScenarioRef) ID() (bid.ScenarioID, error) {
	k, err := event.KeyOf(r.Key)
	if err != nil {
		return bid.ScenarioID{}, fmt.Errorf("scenario %s: %w", r.Name, err)
	}
	return bid.ScenarioID{Name: r.Name, Key: k}, nil
}

// ActionStep is one recorded action.
type ActionStep struct {
	ID              int64        `yaml:"id" json:"id"`
	Type            string       `yaml:"type" json:"type"`
	Event           EventRef     `yaml:"event" json:"event"`
	Scenario        *ScenarioRef `yaml:"scenario,omitempty" json:"scenario,omitempty"`
	Bid             string       `yaml:"bid,omitempty" json:"bid,omitempty"`
	Payload         any          `yaml:"payload,omitempty" json:"payload,omitempty"`
	Pending         bool         `yaml:"pending,omitempty" json:"pending,omitempty"`
	RequestActionID int64        `yaml:"request_action_id,omitempty" json:"request_action_id,omitempty"`
	ResolveActionID int64        `yaml:"resolve_action_id,omitempty" json:"resolve_action_id,omitempty"`
	Error           string       `yaml:"error,omitempty" json:"error,omitempty"`
	LivePayload     bool         `yaml:"live_payload,omitempty" json:"live_payload,omitempty"`
	Verify          bool         `yaml:"verify,omitempty" json:"verify,omitempty"`
}

// DispatchStep dispatches one event through the latest snapshot.
type DispatchStep struct {
	Event   EventRef `yaml:"event" json:"event"`
	Payload any      `yaml:"payload,omitempty" json:"payload,omitempty"`
	// Refused expects the dispatch to be rejected.
	Refused bool `yaml:"refused,omitempty" json:"refused,omitempty"`
}

// Expect lists what the run must end with. Empty fields are not checked.
type Expect struct {
	// Replay is the final replay state: completed or aborted.
	Replay string `yaml:"replay,omitempty" json:"replay,omitempty"`
	// AbortAction is the action id the replay aborted at.
	AbortAction int64 `yaml:"abort_action,omitempty" json:"abort_action,omitempty"`
	// Actions is the id of the last action.
	Actions   int64            `yaml:"actions,omitempty" json:"actions,omitempty"`
	Sections  []SectionExpect  `yaml:"sections,omitempty" json:"sections,omitempty"`
	Cache     []CacheExpect    `yaml:"cache,omitempty" json:"cache,omitempty"`
	Reactions []ReactionExpect `yaml:"reactions,omitempty" json:"reactions,omitempty"`
	// Pending is the exact set of pending events.
	Pending []EventRef `yaml:"pending,omitempty" json:"pending,omitempty"`
	// Completed scenarios must have finished.
	Completed []ScenarioRef `yaml:"completed,omitempty" json:"completed,omitempty"`
	// Failures are substrings of expected scenario failures. Any failure
	// not matched fails the run.
	Failures []string `yaml:"failures,omitempty" json:"failures,omitempty"`
	// Digest is the expected trace digest.
	Digest string `yaml:"digest,omitempty" json:"digest,omitempty"`
}

// SectionExpect checks a scenario's current section.
type SectionExpect struct {
	Scenario ScenarioRef `yaml:"scenario" json:"scenario"`
	Section  string      `yaml:"section" json:"section"`
}

// CacheExpect checks an event's cached value and, if given, its history.
type CacheExpect struct {
	Event   EventRef `yaml:"event" json:"event"`
	Value   any      `yaml:"value" json:"value"`
	History []any    `yaml:"history,omitempty" json:"history,omitempty"`
}

// ReactionExpect checks that a scenario reacted to an action.
type ReactionExpect struct {
	Action   int64       `yaml:"action" json:"action"`
	Scenario ScenarioRef `yaml:"scenario" json:"scenario"`
	Type     string      `yaml:"type" json:"type"`
	Section  string      `yaml:"section,omitempty" json:"section,omitempty"`
}

// Replay state names accepted by Expect.Replay.
const (
	ReplayCompleted = string(engine.ReplayCompleted)
	ReplayAborted   = string(engine.ReplayAborted)
)

// LoadScenario reads a YAML or CUE scenario file, chosen by extension.
// Unknown fields and missing required fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var s *Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err = parseYAML(data)
	case ".cue":
		s, err = parseCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported scenario file %s: want .yaml, .yml or .cue", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path

	if err := validateScenario(s); err != nil {
		return nil, fmt.Errorf("%s: invalid scenario: %w", path, err)
	}
	return s, nil
}

func parseYAML(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &s, nil
}

// FindScenarios returns the scenario files under dir in lexical order.
func FindScenarios(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (d.Name() == "golden" || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".cue":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// validateScenario checks required fields and converts every reference
// once so that Run does not meet malformed input.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}

	seen := make(map[int64]bool)
	for i, a := range s.Actions {
		if a.ID <= 0 {
			return fmt.Errorf("actions[%d]: id must be positive", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("actions[%d]: duplicate id %d", i, a.ID)
		}
		seen[a.ID] = true
		if _, err := a.action(); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}

	for i, d := range s.Dispatch {
		if d.Event.Name == "" {
			return fmt.Errorf("dispatch[%d]: event name is required", i)
		}
		if _, err := d.Event.ID(); err != nil {
			return fmt.Errorf("dispatch[%d]: %w", i, err)
		}
	}

	return validateExpect(s.Expect)
}

func validateExpect(x Expect) error {
	switch x.Replay {
	case "", ReplayCompleted, ReplayAborted:
	default:
		return fmt.Errorf("expect.replay: unknown state %q", x.Replay)
	}
	if x.AbortAction != 0 && x.Replay != ReplayAborted {
		return fmt.Errorf("expect.abort_action requires replay: aborted")
	}
	for i, r := range x.Reactions {
		switch engine.ReactionType(r.Type) {
		case engine.ReactionInit, engine.ReactionProgress, engine.ReactionPending, engine.ReactionExtend,
			engine.ReactionResolve, engine.ReactionReject, engine.ReactionReset, engine.ReactionError, engine.ReactionDestroy:
		default:
			return fmt.Errorf("expect.reactions[%d]: unknown reaction type %q", i, r.Type)
		}
		if _, err := r.Scenario.ID(); err != nil {
			return fmt.Errorf("expect.reactions[%d]: %w", i, err)
		}
	}
	for i, c := range x.Cache {
		if _, err := c.Event.ID(); err != nil {
			return fmt.Errorf("expect.cache[%d]: %w", i, err)
		}
	}
	for i, p := range x.Pending {
		if _, err := p.ID(); err != nil {
			return fmt.Errorf("expect.pending[%d]: %w", i, err)
		}
	}
	return nil
}

// action converts the step into a replay action.
func (a ActionStep) action() (engine.ReplayAction, error) {
	t, ok := engine.ParseActionType(a.Type)
	if !ok {
		return engine.ReplayAction{}, fmt.Errorf("unknown action type %q", a.Type)
	}
	if a.Event.Name == "" {
		return engine.ReplayAction{}, fmt.Errorf("event name is required")
	}
	ev, err := a.Event.ID()
	if err != nil {
		return engine.ReplayAction{}, err
	}

	out := engine.ReplayAction{
		Action: engine.Action{
			ID:              a.ID,
			Type:            t,
			Event:           ev,
			Payload:         a.Payload,
			RequestActionID: a.RequestActionID,
			Error:           a.Error,
		},
		LivePayload: a.LivePayload,
		Verify:      a.Verify,
	}
	if a.Scenario != nil {
		if out.Scenario, err = a.Scenario.ID(); err != nil {
			return engine.ReplayAction{}, err
		}
	}
	if a.Bid != "" {
		if out.BidKind, err = bid.ParseKind(a.Bid); err != nil {
			return engine.ReplayAction{}, err
		}
		if !out.BidKind.Active() {
			return engine.ReplayAction{}, fmt.Errorf("bid %s cannot produce an action", a.Bid)
		}
	}

	switch t {
	case engine.ActionRequested:
		if out.Scenario.IsZero() {
			return engine.ReplayAction{}, fmt.Errorf("requestedAction needs a scenario")
		}
		out.Pending = a.Pending || a.ResolveActionID != 0
		if !out.Pending && a.Payload == nil {
			out.LivePayload = true
		}
	case engine.ActionResolve, engine.ActionReject, engine.ActionResolvedExtend:
		if a.RequestActionID == 0 {
			return engine.ReplayAction{}, fmt.Errorf("%s needs request_action_id", a.Type)
		}
		if t == engine.ActionReject && a.Error == "" {
			return engine.ReplayAction{}, fmt.Errorf("rejectAction needs error")
		}
	}
	return out, nil
}

// replay builds the engine replay from the recorded actions.
func (s *Scenario) replay() (engine.Replay, error) {
	r := engine.Replay{Actions: make([]engine.ReplayAction, 0, len(s.Actions))}
	for i, a := range s.Actions {
		ra, err := a.action()
		if err != nil {
			return engine.Replay{}, fmt.Errorf("actions[%d]: %w", i, err)
		}
		r.Actions = append(r.Actions, ra)
	}
	return r, nil
}

func (s *Scenario) timeout() time.Duration {
	if d, err := time.ParseDuration(s.Timeout); err == nil && d > 0 {
		return d
	}
	return DefaultTimeout
}
