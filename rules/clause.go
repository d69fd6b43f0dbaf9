// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// comparison operators in match order, longest first so that "===" is not
// mistaken for "==" followed by "=".
var clauseOperators = []string{"===", "!==", "==", "!=", ">=", "<=", ">", "<"}

// dateLayouts are the formats accepted when coercing a string to a timestamp
// for comparison purposes.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// EvaluateClause evaluates a boolean clause against a values snapshot.
//
// A clause is one or more OR-joined groups ("||") of AND-joined comparisons
// ("&&"). Each comparison has the form "<path> <op> <expected>" where path is
// a dotted lookup into the values map and expected is a quoted string,
// boolean, null, undefined or numeric literal, or another field path. A
// comparison without an operator is the truthiness of the resolved path.
// Empty groups are skipped. The function is pure and never errors: unresolved
// paths are falsy and incomparable ordered operands compare false.
func EvaluateClause(clause string, values Values) bool {
	for _, group := range strings.Split(clause, "||") {
		if strings.TrimSpace(group) == "" {
			continue
		}

		if evaluateGroupString(group, values) {
			return true
		}
	}

	return false
}

func evaluateGroupString(group string, values Values) bool {
	for _, part := range strings.Split(group, "&&") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if !evaluateComparison(parseComparison(part), values) {
			return false
		}
	}

	return true
}

// operand is one side of a comparison: either a literal or a path to resolve
// against the values snapshot.
type operand struct {
	path    string
	literal any
	isPath  bool
}

// comparison is a single parsed clause. An empty op means a bare truthiness
// check of the left path.
type comparison struct {
	left  operand
	op    string
	right operand
}

// parseComparison splits a single comparison on its operator. The operator is
// required to be surrounded by spaces, matching how conditions are authored;
// when none is found the whole text is treated as a field path.
func parseComparison(text string) comparison {
	idx := -1
	found := ""

	for _, op := range clauseOperators {
		i := strings.Index(text, " "+op+" ")
		if i >= 0 && (idx == -1 || i < idx) {
			idx = i
			found = op
		}
	}

	if idx == -1 {
		return comparison{left: operand{path: strings.TrimSpace(text), isPath: true}}
	}

	left := strings.TrimSpace(text[:idx])
	right := strings.TrimSpace(text[idx+len(found)+2:])

	return comparison{
		left:  operand{path: left, isPath: true},
		op:    found,
		right: parseOperand(right),
	}
}

// parseOperand interprets the expected side of a comparison: quoted string,
// boolean, null/undefined, number, else a field path enabling field-to-field
// comparisons.
func parseOperand(text string) operand {
	switch {
	case len(text) >= 2 && (text[0] == '\'' || text[0] == '"') && text[len(text)-1] == text[0]:
		return operand{literal: text[1 : len(text)-1]}
	case text == "true":
		return operand{literal: true}
	case text == "false":
		return operand{literal: false}
	case text == "null", text == "undefined":
		return operand{literal: nil}
	}

	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return operand{literal: n}
	}

	return operand{path: text, isPath: true}
}

func (o operand) resolve(values Values) any {
	if !o.isPath {
		return o.literal
	}

	v, _ := LookupPath(o.path, values)
	return v
}

func evaluateComparison(cmp comparison, values Values) bool {
	left := cmp.left.resolve(values)

	if cmp.op == "" {
		return Truthy(left)
	}

	right := cmp.right.resolve(values)

	switch cmp.op {
	case "==", "===":
		return looseEqual(left, right)
	case "!=", "!==":
		return !looseEqual(left, right)
	case ">", ">=", "<", "<=":
		ln, lok := coerceNumber(left)
		rn, rok := coerceNumber(right)
		if !lok || !rok {
			return false
		}

		switch cmp.op {
		case ">":
			return ln > rn
		case ">=":
			return ln >= rn
		case "<":
			return ln < rn
		default:
			return ln <= rn
		}
	default:
		return false
	}
}

// looseEqual compares two values the way form conditions expect: both sides
// are coerced to a number when possible (numeric strings parse as numbers,
// date strings and times as epoch milliseconds) and compared numerically,
// otherwise their string forms are compared.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	an, aok := coerceNumber(a)
	bn, bok := coerceNumber(b)
	if aok && bok {
		return an == bn
	}

	return stringify(a) == stringify(b)
}

// coerceNumber attempts to reduce a value to a comparable float64. Strings
// parse as numbers first and as dates second, times convert to epoch
// milliseconds.
func coerceNumber(v any) (float64, bool) {
	switch nv := v.(type) {
	case float64:
		return nv, !math.IsNaN(nv)
	case float32:
		return float64(nv), true
	case int:
		return float64(nv), true
	case int32:
		return float64(nv), true
	case int64:
		return float64(nv), true
	case uint:
		return float64(nv), true
	case bool:
		return 0, false
	case time.Time:
		return float64(nv.UnixMilli()), true
	case string:
		s := strings.TrimSpace(nv)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n, true
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return float64(t.UnixMilli()), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// Truthy reports whether a value counts as set for condition purposes: nil,
// empty strings, false and numeric zero are falsy, everything else truthy.
func Truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	default:
		if n, ok := coerceNumber(v); ok {
			return n != 0
		}
		return true
	}
}

// LookupPath resolves a dotted path into the values snapshot, descending into
// nested maps and advanced select parts. A missing path resolves to nil, not
// an error.
func LookupPath(path string, values Values) (any, bool) {
	parts := strings.Split(path, ".")

	var current any
	v, ok := values[parts[0]]
	if !ok {
		return nil, false
	}
	current = v

	for _, part := range parts[1:] {
		switch cv := current.(type) {
		case map[string]any:
			current, ok = cv[part]
			if !ok {
				return nil, false
			}
		default:
			if adv, isAdv := AsAdvanced(current); isAdv {
				current = adv.Part(part)
				if current == nil {
					return nil, false
				}
				continue
			}
			return nil, false
		}
	}

	return current, true
}

// ParseFlexibleNumber parses user-entered numeric text: comma decimal
// separators, embedded spaces and a trailing percent sign (converted to a
// proportion) are accepted. Numbers pass through unchanged.
func ParseFlexibleNumber(v any) (float64, bool) {
	switch nv := v.(type) {
	case float64:
		return nv, !math.IsNaN(nv)
	case float32:
		return float64(nv), true
	case int:
		return float64(nv), true
	case int64:
		return float64(nv), true
	case string:
		s := strings.Join(strings.Fields(nv), "")
		s = strings.ReplaceAll(s, ",", ".")
		if s == "" {
			return 0, false
		}

		percent := false
		if strings.HasSuffix(s, "%") {
			percent = true
			s = strings.TrimSuffix(s, "%")
		}

		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}

		if percent {
			return n / 100, true
		}
		return n, true
	default:
		return 0, false
	}
}
