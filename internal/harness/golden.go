package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/bpflow/internal/ir"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// Snapshot renders a result as its golden form: the canonical encoding of
// the scenario name, trace digest and trace, followed by a newline.
// Payloads are not part of the snapshot.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace, err := ir.TraceValue(result.Trace)
	if err != nil {
		return nil, err
	}
	data, err := ir.MarshalCanonical(ir.NewObject(
		ir.P("scenario", ir.Str(name)),
		ir.P("digest", ir.Str(result.Digest)),
		ir.P("trace", trace),
	))
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// AssertGolden compares the result's trace against {dir}/{name}.golden,
// GoldenDir unless overridden with goldie.WithFixtureDir.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	g.Assert(t, name, data)
	return nil
}

// UpdateGolden writes the result's golden file unconditionally.
func UpdateGolden(t *testing.T, name string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	return g.Update(t, name, data)
}
