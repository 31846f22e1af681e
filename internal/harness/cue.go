package harness

import (
	"bytes"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// parseCUE evaluates a CUE scenario file. The value must be concrete; it
// is exported as JSON and then decoded by the YAML path so that both
// formats share one set of field checks and number types.
func parseCUE(path string, data []byte) (*Scenario, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile CUE: %s", cueerrors.Details(err, nil))
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE value is not concrete: %s", cueerrors.Details(err, nil))
	}

	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export CUE: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode exported CUE: %w", err)
	}

	out, err := yaml.Marshal(jsonNumbers(tree))
	if err != nil {
		return nil, fmt.Errorf("convert exported CUE: %w", err)
	}
	return parseYAML(out)
}

// jsonNumbers replaces json.Number with int64 where integral and float64
// otherwise.
func jsonNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = jsonNumbers(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = jsonNumbers(val[k])
		}
		return val
	default:
		return v
	}
}
