// Package automation evaluates condition sets and executes automation
// actions against a capability port.
package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// Evaluate reports whether data satisfies cs. It never errors: malformed
// paths and missing fields make a condition false.
func Evaluate(cs models.ConditionSet, data map[string]any) bool {
	if cs.IsEmpty() {
		return true
	}
	if cs.IsGroup() {
		return evaluateGroup(cs, data)
	}
	return evaluateLeaf(cs, data)
}

func evaluateGroup(cs models.ConditionSet, data map[string]any) bool {
	if cs.Combinator == models.CombinatorOr {
		for _, child := range cs.Children {
			if Evaluate(child, data) {
				return true
			}
		}
		return false
	}
	for _, child := range cs.Children {
		if !Evaluate(child, data) {
			return false
		}
	}
	return true
}

func evaluateLeaf(cs models.ConditionSet, data map[string]any) bool {
	actual, ok := Lookup(data, cs.Field)
	if !ok {
		return false
	}
	switch cs.Operator {
	case models.OpExists:
		return true
	case models.OpEq:
		return equal(actual, cs.Value)
	case models.OpNeq:
		return !equal(actual, cs.Value)
	case models.OpGt:
		c, ok := compare(actual, cs.Value)
		return ok && c > 0
	case models.OpGte:
		c, ok := compare(actual, cs.Value)
		return ok && c >= 0
	case models.OpLt:
		c, ok := compare(actual, cs.Value)
		return ok && c < 0
	case models.OpLte:
		c, ok := compare(actual, cs.Value)
		return ok && c <= 0
	case models.OpContains:
		return contains(actual, cs.Value)
	}
	return false
}

// Lookup resolves a dotted field path such as "task.fields.priority" in data.
// Paths starting with "$" are used as JSONPath expressions verbatim. A
// present key holding null counts as missing.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, false
	}
	results := expr.Get(data)
	if len(results) == 0 || results[0] == nil {
		return nil, false
	}
	return results[0], true
}

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
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers numerically and strings lexicographically. Any
// other pairing is incomparable.
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
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func contains(container, item any) bool {
	if s, ok := container.(string); ok {
		sub, ok := item.(string)
		return ok && strings.Contains(s, sub)
	}
	v := reflect.ValueOf(container)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if equal(v.Index(i).Interface(), item) {
				return true
			}
		}
	case reflect.Map:
		key := fmt.Sprint(item)
		for _, k := range v.MapKeys() {
			if fmt.Sprint(k.Interface()) == key {
				return true
			}
		}
	}
	return false
}

// ValidateConditions rejects a malformed condition set.
func ValidateConditions(cs models.ConditionSet) error {
	return validateConditions(cs, "conditions")
}

func validateConditions(cs models.ConditionSet, at string) error {
	if cs.IsEmpty() {
		return nil
	}
	if cs.IsGroup() {
		if cs.Field != "" || cs.Operator != "" {
			return apperr.Validation("%s: a condition cannot be both a leaf and a group", at)
		}
		switch cs.Combinator {
		case models.CombinatorAnd, models.CombinatorOr:
		default:
			return apperr.Validation("%s: unknown combinator %q", at, cs.Combinator)
		}
		for i, child := range cs.Children {
			if err := validateConditions(child, fmt.Sprintf("%s.children[%d]", at, i)); err != nil {
				return err
			}
		}
		return nil
	}
	if cs.Field == "" {
		return apperr.Validation("%s: field is required", at)
	}
	if !cs.Operator.Valid() {
		return apperr.Validation("%s: unknown operator %q", at, cs.Operator)
	}
	path := cs.Field
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	if _, err := jp.ParseString(path); err != nil {
		return apperr.Validation("%s: invalid field path %q: %v", at, cs.Field, err)
	}
	return nil
}
