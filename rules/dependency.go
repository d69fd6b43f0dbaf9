// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"fmt"
)

// Action constants are the outcomes of dependency evaluation.
const (
	ActionShow      = "show"
	ActionHide      = "hide"
	ActionRequire   = "require"
	ActionUnrequire = "unrequire"
)

// Atom is one element of a dependency condition group: a field reference, an
// operator token or a literal value. Atoms within a group concatenate into
// AND-joined comparisons.
type Atom struct {
	Kind  string `json:"kind" yaml:"kind"`
	Value string `json:"value" yaml:"value"`
}

// Atom kinds.
const (
	FieldAtom    = "field"
	OperatorAtom = "operator"
	ValueAtom    = "value"
)

// DependencyRule maps a condition to a UI-state action on a target field.
// Condition groups are OR-combined, atoms within a group AND-combined. A rule
// with no usable conditions applies its action unconditionally, and a rule
// whose combined condition is false applies the logical inverse of its action
// (show↔hide, require↔unrequire): failing the condition is an active effect,
// not a no-op.
type DependencyRule struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	TargetFieldID string   `json:"targetFieldId" yaml:"target_field_id"`
	Action        string   `json:"action" yaml:"action"`
	Conditions    [][]Atom `json:"conditions" yaml:"conditions"`

	compiled [][]comparison
}

// compile turns the rule's condition atoms into comparisons ahead of
// evaluation so malformed rules are rejected at catalog load time.
func (r *DependencyRule) compile() error {
	if !isOneOf(r.Action, ActionShow, ActionHide, ActionRequire, ActionUnrequire) {
		return fmt.Errorf("dependency %q: unknown action %q", r.ID, r.Action)
	}

	r.compiled = nil

	for gi, group := range r.Conditions {
		comparisons, err := compileGroup(group)
		if err != nil {
			return fmt.Errorf("dependency %q group %d: %w", r.ID, gi, err)
		}
		r.compiled = append(r.compiled, comparisons)
	}

	return nil
}

// compileGroup scans a flat atom list into comparisons. A comparison starts
// at a field atom, takes an optional operator atom and then either a value
// atom or a second field atom as the expected side. A field atom followed by
// another field atom or the end of the group is a bare truthiness check.
func compileGroup(atoms []Atom) ([]comparison, error) {
	var out []comparison
	var cur *comparison

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for i, a := range atoms {
		switch a.Kind {
		case FieldAtom:
			if cur == nil {
				cur = &comparison{left: operand{path: a.Value, isPath: true}}
				continue
			}
			if cur.op != "" {
				// field-to-field comparison completes the clause
				cur.right = operand{path: a.Value, isPath: true}
				flush()
				continue
			}
			// previous clause was a bare truthiness check
			flush()
			cur = &comparison{left: operand{path: a.Value, isPath: true}}

		case OperatorAtom:
			if cur == nil || cur.op != "" {
				return nil, fmt.Errorf("misplaced operator %q at atom %d", a.Value, i)
			}
			if !isOneOf(a.Value, clauseOperators...) {
				return nil, fmt.Errorf("unknown operator %q at atom %d", a.Value, i)
			}
			cur.op = a.Value

		case ValueAtom:
			if cur == nil || cur.op == "" {
				return nil, fmt.Errorf("literal %q without preceding comparison at atom %d", a.Value, i)
			}
			// a value atom is always a literal, unquoted text must not
			// resolve as a field path the way it would in a clause string
			right := parseOperand(a.Value)
			if right.isPath {
				right = operand{literal: a.Value}
			}
			cur.right = right
			flush()

		default:
			return nil, fmt.Errorf("unknown atom kind %q at atom %d", a.Kind, i)
		}
	}

	if cur != nil && cur.op != "" {
		return nil, fmt.Errorf("dangling operator %q", cur.op)
	}
	flush()

	return out, nil
}

// Evaluate computes the resulting action of the rule for a values snapshot.
//
// Empty condition sets apply the configured action directly. Otherwise groups
// are evaluated and OR-combined: true yields the configured action, false its
// inverse. A rule that was never compiled fails open to show so an internal
// error can never hide input from the user.
func (r *DependencyRule) Evaluate(values Values) string {
	if len(r.compiled) != len(r.Conditions) {
		// not compiled through a catalog load, fail open
		if err := r.compile(); err != nil {
			return ActionShow
		}
	}

	usable := false
	met := false

	for _, group := range r.compiled {
		if len(group) == 0 {
			continue
		}
		usable = true

		if evaluateGroup(group, values) {
			met = true
			break
		}
	}

	if !usable || met {
		return r.Action
	}

	return inverseAction(r.Action)
}

func evaluateGroup(group []comparison, values Values) bool {
	for _, cmp := range group {
		if !evaluateComparison(cmp, values) {
			return false
		}
	}

	return true
}

func inverseAction(action string) string {
	switch action {
	case ActionShow:
		return ActionHide
	case ActionHide:
		return ActionShow
	case ActionRequire:
		return ActionUnrequire
	case ActionUnrequire:
		return ActionRequire
	default:
		return ActionShow
	}
}
