package engine

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/flowengine/pkg/schema"
)

// EvaluateGroups evaluates condition groups: the groups are OR-ed, the
// conditions inside a group are AND-ed. No groups evaluates to false.
func EvaluateGroups(groups [][]schema.BranchCondition) (bool, error) {
	for _, group := range groups {
		matched := true
		for _, c := range group {
			ok, err := EvaluateCondition(c)
			if err != nil {
				return false, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// EvaluateCondition applies one operator to already resolved values.
// Values that cannot be read as the operator's kind make it false.
func EvaluateCondition(c schema.BranchCondition) (bool, error) {
	first, second := c.FirstValue, c.SecondValue

	switch c.Operator {
	case schema.OperatorTextContains:
		a, b := texts(first, second, c.CaseSensitive)
		return strings.Contains(a, b), nil
	case schema.OperatorTextDoesNotContain:
		a, b := texts(first, second, c.CaseSensitive)
		return !strings.Contains(a, b), nil
	case schema.OperatorTextExactlyMatches:
		a, b := texts(first, second, c.CaseSensitive)
		return a == b, nil
	case schema.OperatorTextDoesNotExactlyMatch:
		a, b := texts(first, second, c.CaseSensitive)
		return a != b, nil
	case schema.OperatorTextStartsWith:
		a, b := texts(first, second, c.CaseSensitive)
		return strings.HasPrefix(a, b), nil
	case schema.OperatorTextDoesNotStartWith:
		a, b := texts(first, second, c.CaseSensitive)
		return !strings.HasPrefix(a, b), nil
	case schema.OperatorTextEndsWith:
		a, b := texts(first, second, c.CaseSensitive)
		return strings.HasSuffix(a, b), nil
	case schema.OperatorTextDoesNotEndWith:
		a, b := texts(first, second, c.CaseSensitive)
		return !strings.HasSuffix(a, b), nil

	case schema.OperatorNumberIsGreaterThan:
		return compareNumbers(first, second, func(a, b float64) bool { return a > b }), nil
	case schema.OperatorNumberIsLessThan:
		return compareNumbers(first, second, func(a, b float64) bool { return a < b }), nil
	case schema.OperatorNumberIsEqualTo:
		return compareNumbers(first, second, func(a, b float64) bool { return a == b }), nil

	case schema.OperatorBooleanIsTrue:
		b, ok := toBool(first)
		return ok && b, nil
	case schema.OperatorBooleanIsFalse:
		b, ok := toBool(first)
		return ok && !b, nil

	case schema.OperatorDateIsBefore:
		return compareDates(first, second, time.Time.Before), nil
	case schema.OperatorDateIsAfter:
		return compareDates(first, second, time.Time.After), nil

	case schema.OperatorListIsEmpty:
		list, ok := toList(first)
		return ok && len(list) == 0, nil
	case schema.OperatorListIsNotEmpty:
		list, ok := toList(first)
		return ok && len(list) > 0, nil
	case schema.OperatorListCountIsGreaterThan:
		return compareCount(first, second, func(a, b float64) bool { return a > b }), nil
	case schema.OperatorListCountIsLessThan:
		return compareCount(first, second, func(a, b float64) bool { return a < b }), nil
	case schema.OperatorListCountIsEqualTo:
		return compareCount(first, second, func(a, b float64) bool { return a == b }), nil
	case schema.OperatorListContains:
		list, ok := toList(first)
		return ok && listContains(list, second, c.CaseSensitive), nil
	case schema.OperatorListNotContains:
		list, ok := toList(first)
		return ok && !listContains(list, second, c.CaseSensitive), nil

	case schema.OperatorExists:
		return exists(first), nil
	case schema.OperatorDoesNotExist:
		return !exists(first), nil
	}

	return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown branch operator %q", c.Operator)
}

// resolveConditions resolves the templated values of every condition.
func resolveConditions(ctx context.Context, constants *RunConstants, groups [][]schema.BranchCondition, state *RunState) (resolved, censored [][]schema.BranchCondition, err error) {
	resolved = make([][]schema.BranchCondition, len(groups))
	censored = make([][]schema.BranchCondition, len(groups))
	for i, group := range groups {
		resolved[i] = make([]schema.BranchCondition, len(group))
		censored[i] = make([]schema.BranchCondition, len(group))
		for j, c := range group {
			res, cen := c, c
			if res.FirstValue, cen.FirstValue, err = resolveValue(ctx, constants, c.FirstValue, state); err != nil {
				return nil, nil, err
			}
			if !c.Operator.SingleValue() {
				if res.SecondValue, cen.SecondValue, err = resolveValue(ctx, constants, c.SecondValue, state); err != nil {
					return nil, nil, err
				}
			}
			resolved[i][j] = res
			censored[i][j] = cen
		}
	}
	return resolved, censored, nil
}

func texts(a, b any, caseSensitive bool) (string, string) {
	x, y := toText(a), toText(b)
	if !caseSensitive {
		return strings.ToLower(x), strings.ToLower(y)
	}
	return x, y
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

func compareNumbers(a, b any, cmp func(float64, float64) bool) bool {
	x, ok := toNumber(a)
	if !ok {
		return false
	}
	y, ok := toNumber(b)
	if !ok {
		return false
	}
	return cmp(x, y)
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// toDate reads RFC 3339 timestamps, date-only strings and unix seconds.
func toDate(v any) (time.Time, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	if n, ok := toNumber(v); ok {
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)), true
	}
	return time.Time{}, false
}

func compareDates(a, b any, cmp func(time.Time, time.Time) bool) bool {
	x, ok := toDate(a)
	if !ok {
		return false
	}
	y, ok := toDate(b)
	if !ok {
		return false
	}
	return cmp(x, y)
}

// toList accepts lists and JSON-encoded array strings. nil and the empty
// string read as an empty list.
func toList(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return []any{}, true
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return []any{}, true
		}
		var list []any
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return list, true
		}
	}
	return nil, false
}

func compareCount(a, b any, cmp func(float64, float64) bool) bool {
	list, ok := toList(a)
	if !ok {
		return false
	}
	n, ok := toNumber(b)
	if !ok {
		return false
	}
	return cmp(float64(len(list)), n)
}

func listContains(list []any, needle any, caseSensitive bool) bool {
	for _, item := range list {
		a, b := texts(item, needle, caseSensitive)
		if a == b {
			return true
		}
	}
	return false
}

func exists(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}
