package demo

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/bpflow/internal/engine"
)

// Catalog builds a staging function from props.
type Catalog = func(props engine.Props) engine.StagingFunc

// Catalogs maps catalog names to their builders.
type Catalogs = map[string]Catalog

// Registry returns every demo catalog. Async calls of the tickets catalog go
// through api; nil uses InstantAPI.
func Registry(api API) Catalogs {
	if api == nil {
		api = InstantAPI{}
	}
	return Catalogs{
		"tickets": func(engine.Props) engine.StagingFunc { return Tickets(api) },
		"counter": Counter,
	}
}

// Names returns the sorted catalog names of r.
func Names(r Catalogs) []string {
	return slices.Sorted(maps.Keys(r))
}

// asInt accepts the integer shapes a payload takes after JSON, YAML or CUE
// decoding.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func describe(v any) string {
	if v == nil {
		return "nothing"
	}
	return fmt.Sprintf("%v", v)
}
