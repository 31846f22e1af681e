package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
)

func TestLoadScenario_YAML(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/tickets_login.yaml")
	require.NoError(t, err)

	assert.Equal(t, "tickets_login", s.Name)
	assert.Equal(t, "tickets", s.Catalog)
	assert.Equal(t, "testdata/scenarios/tickets_login.yaml", s.Path)
	require.Len(t, s.Actions, 4)
	assert.Equal(t, int64(3), s.Actions[1].ResolveActionID)
	assert.Equal(t, ReplayCompleted, s.Expect.Replay)
	assert.Equal(t, DefaultTimeout, s.timeout())
}

func TestLoadScenario_CUE(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/tickets_diverged.cue")
	require.NoError(t, err)

	assert.Equal(t, "tickets_diverged", s.Name)
	require.Len(t, s.Actions, 2)
	assert.Equal(t, "Alice", s.Actions[0].Payload)
	require.NotNil(t, s.Actions[1].Scenario)
	assert.Equal(t, "impostor", s.Actions[1].Scenario.Name)
	assert.True(t, s.Actions[1].Pending)
	assert.Equal(t, int64(2), s.Expect.AbortAction)
}

func TestLoadScenario_CUENumbers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "numbers.cue")
	content := `
name:    "numbers"
catalog: "counter"
props: {limit: 5, ratio: 0.5}
expect: {}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Props["limit"])
	assert.Equal(t, 0.5, s.Props["ratio"])
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		file    string
		wantErr string
	}{
		{"testdata/invalid/unknown_field.yaml", "actoins"},
		{"testdata/invalid/bad_action.yaml", "request_action_id"},
		{"testdata/invalid/bad_types.cue", "incomplete"},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.file), func(t *testing.T) {
			_, err := LoadScenario(tt.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_UnsupportedExtension(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/missing.json")
	require.Error(t, err)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario file")
}

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios("testdata")
	require.NoError(t, err)

	for _, f := range files {
		assert.NotContains(t, f, "golden")
	}
	assert.Contains(t, files, filepath.Join("testdata", "scenarios", "counter_live.yaml"))
	assert.Contains(t, files, filepath.Join("testdata", "scenarios", "tickets_diverged.cue"))
	assert.Contains(t, files, filepath.Join("testdata", "invalid", "bad_types.cue"))
}

func TestValidateScenario(t *testing.T) {
	valid := func() *Scenario {
		return &Scenario{Name: "x", Catalog: "counter"}
	}

	tests := []struct {
		name    string
		mutate  func(s *Scenario)
		wantErr string
	}{
		{"valid", func(*Scenario) {}, ""},
		{"missing name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"missing catalog", func(s *Scenario) { s.Catalog = "" }, "catalog is required"},
		{"bad timeout", func(s *Scenario) { s.Timeout = "soon" }, "timeout"},
		{"zero id", func(s *Scenario) {
			s.Actions = []ActionStep{{Type: "uiAction", Event: EventRef{Name: "a"}}}
		}, "id must be positive"},
		{"duplicate id", func(s *Scenario) {
			s.Actions = []ActionStep{
				{ID: 1, Type: "uiAction", Event: EventRef{Name: "a"}},
				{ID: 1, Type: "uiAction", Event: EventRef{Name: "b"}},
			}
		}, "duplicate id"},
		{"unknown type", func(s *Scenario) {
			s.Actions = []ActionStep{{ID: 1, Type: "clickAction", Event: EventRef{Name: "a"}}}
		}, "unknown action type"},
		{"request without scenario", func(s *Scenario) {
			s.Actions = []ActionStep{{ID: 1, Type: "requestedAction", Event: EventRef{Name: "a"}}}
		}, "needs a scenario"},
		{"reject without error", func(s *Scenario) {
			s.Actions = []ActionStep{{ID: 1, Type: "rejectAction", Event: EventRef{Name: "a"}, RequestActionID: 1}}
		}, "needs error"},
		{"passive bid", func(s *Scenario) {
			s.Actions = []ActionStep{{ID: 1, Type: "uiAction", Event: EventRef{Name: "a"}, Bid: "block"}}
		}, "cannot produce an action"},
		{"float key", func(s *Scenario) {
			s.Dispatch = []DispatchStep{{Event: EventRef{Name: "a", Key: 1.5}}}
		}, "not an integer"},
		{"unknown replay state", func(s *Scenario) { s.Expect.Replay = "paused" }, "unknown state"},
		{"abort action without abort", func(s *Scenario) { s.Expect.AbortAction = 2 }, "requires replay: aborted"},
		{"unknown reaction", func(s *Scenario) {
			s.Expect.Reactions = []ReactionExpect{{Action: 1, Scenario: ScenarioRef{Name: "a"}, Type: "wave"}}
		}, "unknown reaction type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := validateScenario(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestActionStep_Action(t *testing.T) {
	t.Run("pending request", func(t *testing.T) {
		a, err := ActionStep{
			ID: 2, Type: "requestedAction",
			Event:           EventRef{Name: "fetch", Key: 7},
			Scenario:        &ScenarioRef{Name: "loader"},
			Bid:             "request",
			ResolveActionID: 3,
		}.action()
		require.NoError(t, err)
		assert.True(t, a.Pending)
		assert.False(t, a.LivePayload)
		assert.Equal(t, event.Keyed("fetch", event.IntKey(7)), a.Event)
		assert.Equal(t, bid.ScenarioID{Name: "loader"}, a.Scenario)
		assert.Equal(t, bid.KindRequest, a.BidKind)
	})

	t.Run("request without payload evaluates live", func(t *testing.T) {
		a, err := ActionStep{
			ID: 1, Type: "requestedAction",
			Event:    EventRef{Name: "count"},
			Scenario: &ScenarioRef{Name: "counter"},
		}.action()
		require.NoError(t, err)
		assert.True(t, a.LivePayload)
		assert.False(t, a.Pending)
	})

	t.Run("request with payload is injected", func(t *testing.T) {
		a, err := ActionStep{
			ID: 1, Type: "requestedAction",
			Event:    EventRef{Name: "count"},
			Scenario: &ScenarioRef{Name: "counter"},
			Payload:  10,
		}.action()
		require.NoError(t, err)
		assert.False(t, a.LivePayload)
		assert.Equal(t, 10, a.Payload)
	})

	t.Run("reject", func(t *testing.T) {
		a, err := ActionStep{
			ID: 3, Type: "rejectAction",
			Event:           EventRef{Name: "fetch"},
			Scenario:        &ScenarioRef{Name: "loader"},
			RequestActionID: 2,
			Error:           "timeout",
		}.action()
		require.NoError(t, err)
		assert.Equal(t, engine.ActionReject, a.Type)
		assert.EqualError(t, a.Err(), "timeout")
	})
}

func TestScenario_Timeout(t *testing.T) {
	s := &Scenario{Timeout: "250ms"}
	assert.Equal(t, 250*time.Millisecond, s.timeout())

	s.Timeout = ""
	assert.Equal(t, DefaultTimeout, s.timeout())
}
