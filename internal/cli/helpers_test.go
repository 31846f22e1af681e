package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bpflow/internal/config"
	"github.com/roach88/bpflow/internal/demo"
)

const counterScenario = `name: counter_live
catalog: counter
props:
  limit: 3
expect:
  actions: 4
  cache:
    - event: {name: count}
      value: 3
`

const loginScenario = `name: tickets_login
catalog: tickets
dispatch:
  - event: {name: login}
    payload: Alice
expect:
  sections:
    - scenario: {name: user login}
      section: user logged in
`

const failingScenario = `name: counter_wrong
catalog: counter
expect:
  actions: 99
`

// testOptions returns root options as PersistentPreRunE would set them.
func testOptions(format string) *RootOptions {
	return &RootOptions{
		Format:   format,
		Catalogs: demo.Registry(nil),
		Config: config.Config{
			LogLevel:   "info",
			Format:     format,
			MaxActions: 1000,
			Parallel:   2,
			Timeout:    2 * time.Second,
		},
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args and returns stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
