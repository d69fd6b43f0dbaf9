// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"errors"
	"fmt"
)

// Evaluation failures that callers are expected to distinguish.
var (
	ErrDivisionByZero  = errors.New("division by zero")
	ErrNoEvaluable     = errors.New("no evaluable element in sequence")
	ErrBranchStructure = errors.New("unsupported branch structure")
)

// SequenceNode is the stored form of one element in a formula sequence. The
// only evaluable node type is "cond", a conditional with a then and an else
// branch. Unknown node types are rejected when the catalog is loaded.
type SequenceNode struct {
	Type      string       `json:"type" yaml:"type"`
	Condition *Condition   `json:"condition" yaml:"condition"`
	Then      []ActionNode `json:"then" yaml:"then"`
	Else      []ActionNode `json:"else" yaml:"else"`
}

// Condition compares the named part of a field's value against a literal.
// Part defaults to "selection" for advanced select values, simple values
// compare directly. Only the "=" operator is supported, any other operator
// token evaluates to false so unrecognised future tokens degrade instead of
// erroring.
type Condition struct {
	FieldID  string `json:"fieldId" yaml:"field_id"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value" yaml:"value"`
	Part     string `json:"part" yaml:"part"`
}

// ActionNode is the stored form of a branch element: a field reference, a
// literal value, a "nextField:<id>" indirection (a "value" node with the
// prefixed form) or, as the middle element of a three-element branch, an
// arithmetic operator token.
type ActionNode struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Action node types.
const (
	FieldNode    = "field"
	ValueNode    = "value"
	OperatorNode = "operator"
)

const nextFieldPrefix = "nextField:"

// FormulaRule computes a value for a target field from a conditional tree
// over other field values.
type FormulaRule struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	TargetFieldID string         `json:"targetFieldId" yaml:"target_field_id"`
	Order         int            `json:"order" yaml:"order"`
	Sequence      []SequenceNode `json:"sequence" yaml:"sequence"`

	compiled []*conditional
	catalog  *Catalog
	warnings []string
}

// branchNode is the typed form of a branch element.
type branchNode interface {
	branchNode()
}

type fieldRef struct{ fieldID string }
type literal struct{ value string }
type nextFieldRef struct{ nodeID string }
type operatorTok struct{ op string }

func (fieldRef) branchNode()     {}
func (literal) branchNode()      {}
func (nextFieldRef) branchNode() {}
func (operatorTok) branchNode()  {}

type conditional struct {
	cond Condition
	then []branchNode
	els  []branchNode
}

// compile converts the stored sequence into typed nodes, rejecting unknown
// tags. Unsupported condition operators compile but record a warning since
// they will evaluate to false.
func (r *FormulaRule) compile() error {
	r.compiled = nil
	r.warnings = nil

	for i, node := range r.Sequence {
		if node.Type != "cond" {
			return fmt.Errorf("formula %q: unknown sequence node type %q at element %d", r.ID, node.Type, i)
		}
		if node.Condition == nil {
			return fmt.Errorf("formula %q: conditional without condition at element %d", r.ID, i)
		}

		if node.Condition.Operator != "=" {
			r.warnings = append(r.warnings, fmt.Sprintf("formula %q: unsupported condition operator %q, condition will evaluate to false", r.ID, node.Condition.Operator))
		}

		then, err := compileBranch(node.Then)
		if err != nil {
			return fmt.Errorf("formula %q then branch: %w", r.ID, err)
		}
		els, err := compileBranch(node.Else)
		if err != nil {
			return fmt.Errorf("formula %q else branch: %w", r.ID, err)
		}

		r.compiled = append(r.compiled, &conditional{cond: *node.Condition, then: then, els: els})
	}

	return nil
}

func compileBranch(branch []ActionNode) ([]branchNode, error) {
	var out []branchNode

	for i, a := range branch {
		switch a.Type {
		case FieldNode:
			out = append(out, fieldRef{fieldID: a.Value})
		case ValueNode:
			if len(a.Value) > len(nextFieldPrefix) && a.Value[:len(nextFieldPrefix)] == nextFieldPrefix {
				out = append(out, nextFieldRef{nodeID: a.Value[len(nextFieldPrefix):]})
				continue
			}
			// operator tokens are commonly stored as plain value nodes in
			// the middle position of an arithmetic branch
			if len(branch) == 3 && i == 1 && isOneOf(a.Value, "/", "*", "+", "-") {
				out = append(out, operatorTok{op: a.Value})
				continue
			}
			out = append(out, literal{value: a.Value})
		case OperatorNode:
			out = append(out, operatorTok{op: a.Value})
		default:
			return nil, fmt.Errorf("unknown action node type %q at element %d", a.Type, i)
		}
	}

	return out, nil
}

// Evaluate runs the formula against a values snapshot and returns the
// computed scalar. The first conditional in the sequence is evaluated: its
// condition picks the then or else branch, a one-element branch resolves to
// its action's value, a three-element branch is a binary arithmetic
// expression over two resolved operands. Numeric parse failures coerce to 0,
// the only arithmetic error is an explicit division by zero.
func (r *FormulaRule) Evaluate(values Values) (float64, error) {
	if r.compiled == nil {
		err := r.compile()
		if err != nil {
			return 0, err
		}
	}

	for _, cond := range r.compiled {
		return r.evaluateConditional(cond, values)
	}

	return 0, ErrNoEvaluable
}

func (r *FormulaRule) evaluateConditional(c *conditional, values Values) (float64, error) {
	branch := c.els
	if r.conditionMet(c.cond, values) {
		branch = c.then
	}

	return r.evaluateBranch(branch, values)
}

func (r *FormulaRule) conditionMet(c Condition, values Values) bool {
	if c.Operator != "=" {
		return false
	}

	actual := values[c.FieldID]
	if adv, ok := AsAdvanced(actual); ok {
		actual = adv.Part(c.Part)
	}

	if actual == nil {
		return false
	}

	return stringify(actual) == c.Value
}

func (r *FormulaRule) evaluateBranch(branch []branchNode, values Values) (float64, error) {
	switch len(branch) {
	case 1:
		return r.resolveOperand(branch[0], values)

	case 3:
		op, ok := branch[1].(operatorTok)
		if !ok {
			return 0, fmt.Errorf("%w: middle element is not an operator", ErrBranchStructure)
		}

		a, err := r.resolveOperand(branch[0], values)
		if err != nil {
			return 0, err
		}
		b, err := r.resolveOperand(branch[2], values)
		if err != nil {
			return 0, err
		}

		switch op.op {
		case "/":
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return a / b, nil
		case "*":
			return a * b, nil
		default:
			return 0, fmt.Errorf("unsupported arithmetic operator %q", op.op)
		}

	default:
		return 0, fmt.Errorf("%w: branch has %d elements", ErrBranchStructure, len(branch))
	}
}

func (r *FormulaRule) resolveOperand(node branchNode, values Values) (float64, error) {
	switch n := node.(type) {
	case fieldRef:
		return parseNumber(values[n.fieldID]), nil
	case literal:
		return parseNumber(n.value), nil
	case nextFieldRef:
		return r.resolveNextField(n.nodeID, values)
	default:
		return 0, fmt.Errorf("%w: operator in operand position", ErrBranchStructure)
	}
}

// resolveNextField finds the extra value typed into the follow-up input of
// whichever option node the user picked. The fast path matches a stored
// advanced select value whose node id equals the reference directly; failing
// that, each candidate's option node is looked up in the catalog for a
// declared follow-up field with the referenced id.
func (r *FormulaRule) resolveNextField(nodeID string, values Values) (float64, error) {
	var candidates []*AdvancedSelect

	for _, v := range values {
		adv, ok := AsAdvanced(v)
		if !ok || adv.Extra == nil {
			continue
		}

		if adv.NodeID == nodeID {
			return parseNumber(adv.Extra), nil
		}

		candidates = append(candidates, adv)
	}

	if r.catalog != nil {
		for _, adv := range candidates {
			node, ok := r.catalog.Node(adv.NodeID)
			if !ok || node.NextField == nil {
				continue
			}
			if node.NextField.ID == nodeID {
				return parseNumber(adv.Extra), nil
			}
		}
	}

	return 0, fmt.Errorf("next field %q not found", nodeID)
}

// parseNumber coerces a formula operand to a number, defaulting to 0 rather
// than propagating a parse failure.
func parseNumber(v any) float64 {
	n, ok := ParseFlexibleNumber(v)
	if !ok {
		return 0
	}
	return n
}
