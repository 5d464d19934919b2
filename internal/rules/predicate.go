// Package rules evaluates field predicates against lead documents.
// Evaluation is total: missing fields and type mismatches yield false
// (true for not_equals on a missing field) instead of an error.
package rules

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"lead_lifecycle_engine/platform/apperr"
)

// Operator is a predicate comparison.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
)

var knownOperators = map[Operator]struct{}{
	OpEquals: {}, OpNotEquals: {}, OpGreaterThan: {}, OpLessThan: {}, OpContains: {}, OpIn: {},
}

// Predicate compares the value at Field (a dot path) with Value.
type Predicate struct {
	Field    string   `json:"field" yaml:"field" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required"`
	Value    any      `json:"value" yaml:"value"`
}

// Validate rejects predicates that can never be evaluated meaningfully.
func (p Predicate) Validate() error {
	if strings.TrimSpace(p.Field) == "" {
		return apperr.Validation("predicate field is required")
	}
	if _, ok := knownOperators[p.Operator]; !ok {
		return apperr.Validation(fmt.Sprintf("unknown predicate operator %q", p.Operator)).
			WithDetail("field", p.Field)
	}
	if p.Operator == OpIn {
		if _, ok := asSlice(p.Value); !ok {
			return apperr.Validation("operator in requires an array value").WithDetail("field", p.Field)
		}
	}
	return nil
}

// ValidateAll validates every predicate in order.
func ValidateAll(preds []Predicate) error {
	for i, p := range preds {
		if err := p.Validate(); err != nil {
			return apperr.Wrap(apperr.KindValidation, fmt.Sprintf("condition %d invalid", i), err)
		}
	}
	return nil
}

// Evaluate applies a single predicate to doc.
func Evaluate(p Predicate, doc map[string]any) bool {
	actual, found := Lookup(doc, p.Field)
	if !found || actual == nil {
		return p.Operator == OpNotEquals
	}

	switch p.Operator {
	case OpEquals:
		return equal(actual, p.Value)
	case OpNotEquals:
		return !equal(actual, p.Value)
	case OpGreaterThan:
		c, ok := compare(actual, p.Value)
		return ok && c > 0
	case OpLessThan:
		c, ok := compare(actual, p.Value)
		return ok && c < 0
	case OpContains:
		return contains(actual, p.Value)
	case OpIn:
		set, ok := asSlice(p.Value)
		if !ok {
			return false
		}
		for _, candidate := range set {
			if equal(actual, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// EvaluateAll AND-combines preds. An empty list matches.
func EvaluateAll(preds []Predicate, doc map[string]any) bool {
	for _, p := range preds {
		if !Evaluate(p, doc) {
			return false
		}
	}
	return true
}

// Lookup resolves a dot path against nested maps.
func Lookup(doc map[string]any, path string) (any, bool) {
	if doc == nil || path == "" {
		return nil, false
	}
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return 0, false
}

func contains(actual, needle any) bool {
	if s, ok := actual.(string); ok {
		n, ok := needle.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(n))
	}
	items, ok := asSlice(actual)
	if !ok {
		return false
	}
	for _, item := range items {
		if equal(item, needle) {
			return true
		}
	}
	return false
}

// toFloat normalises Go and JSON numeric representations. Numeric strings
// are not coerced.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
