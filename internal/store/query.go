package store

import (
	"fmt"
	"strings"
)

// Predicate filters archived rows. Only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Equals matches rows whose Column equals Value.
type Equals struct {
	Column string
	Value  any // string, int64 or bool
}

func (Equals) predicateNode() {}

// And matches rows that satisfy every predicate. Empty matches all rows.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// RunFilter selects archived runs. Empty fields match any run.
type RunFilter struct {
	Name    string
	Catalog string
}

// Predicate converts the filter.
func (f RunFilter) Predicate() Predicate {
	var and And
	if f.Name != "" {
		and.Predicates = append(and.Predicates, Equals{Column: "name", Value: f.Name})
	}
	if f.Catalog != "" {
		and.Predicates = append(and.Predicates, Equals{Column: "catalog", Value: f.Catalog})
	}
	return and
}

func (f RunFilter) String() string {
	var parts []string
	if f.Name != "" {
		parts = append(parts, "name="+f.Name)
	}
	if f.Catalog != "" {
		parts = append(parts, "catalog="+f.Catalog)
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, ",")
}

// runColumns are the runs columns a predicate may reference.
var runColumns = map[string]bool{
	"id":      true,
	"seq":     true,
	"name":    true,
	"catalog": true,
	"digest":  true,
}

// compileWhere compiles p to a condition over the table aliased as alias.
// Values are always bound as parameters; columns must be in allowed.
func compileWhere(p Predicate, alias string, allowed map[string]bool) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case Equals:
		if !allowed[pred.Column] {
			return "", nil, fmt.Errorf("unknown column %q", pred.Column)
		}
		param, err := sqlParam(pred.Value)
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", pred.Column, err)
		}
		column := pred.Column
		if alias != "" {
			column = alias + "." + column
		}
		return column + " = ?", []any{param}, nil

	case And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := compileWhere(sub, alias, allowed)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func sqlParam(v any) (any, error) {
	switch val := v.(type) {
	case string, int64, bool:
		return val, nil
	case int:
		return int64(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
