package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand_AllValid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "counter_live.yaml", counterScenario)
	writeFile(t, dir, "nested/tickets_login.yaml", loginScenario)

	out, err := execute(NewValidateCommand(testOptions("text")), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "counter_live.yaml")
	assert.Contains(t, out, "tickets_login.yaml")
	assert.Contains(t, out, "✓ 2 scenario file(s) valid")
}

func TestValidateCommand_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "counter_live.yaml", counterScenario)
	writeFile(t, dir, "broken.yaml", "name: broken\ncatalog: counter\nactoins: []\n")

	out, err := execute(NewValidateCommand(testOptions("text")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ ")
	assert.Contains(t, out, "actoins")
	assert.NotContains(t, out, "scenario file(s) valid")
}

func TestValidateCommand_UnknownCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "elsewhere.yaml", "name: elsewhere\ncatalog: warehouse\n")

	out, err := execute(NewValidateCommand(testOptions("json")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_INVALID_SCENARIO", resp.Error.Code)
	require.Len(t, resp.Data.Files, 1)
	assert.False(t, resp.Data.Files[0].Valid)
	assert.Equal(t, "elsewhere", resp.Data.Files[0].Name)
	assert.Equal(t, `unknown catalog "warehouse"`, resp.Data.Files[0].Error)
}

func TestValidateCommand_DirectoryNotFound(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions("text")), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
}

func TestValidateCommand_JSONValid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "counter_live.yaml", counterScenario)

	out, err := execute(NewValidateCommand(testOptions("json")), dir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Files, 1)
	assert.Equal(t, "counter_live", resp.Data.Files[0].Name)
}
