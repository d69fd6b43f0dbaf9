// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package rules implements the rule-evaluation core behind dynamic quote
// forms. A form is described by a Catalog of typed fields loaded from a YAML
// document. Fields carry dependency rules (show/hide/require/unrequire driven
// by conditions over other field values), formula rules (conditional
// arithmetic trees producing computed values), validation rules (expressions
// evaluated against the current value) and composer configurations (values
// assembled from other fields via templates).
//
// Evaluation is a pure function over a Values snapshot: the surrounding
// session layer supplies the snapshot on every change and consumes the
// resulting UI-state decisions and computed values.
package rules

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type constants identify field types in catalog definitions.
const (
	TextType           = "text"
	NumberType         = "number"
	BoolType           = "bool"
	DateType           = "date"
	SelectType         = "select"
	AdvancedSelectType = "advanced_select"
	DataType           = "data"
)

// Values holds the current entry for every field in a form instance, keyed by
// field id. Simple fields hold scalars, advanced select fields hold an
// AdvancedSelect (or an equivalent map when loaded from JSON).
type Values map[string]any

// Clone returns a shallow copy of the values map.
func (v Values) Clone() Values {
	c := make(Values, len(v))
	for k, val := range v {
		c[k] = val
	}
	return c
}

// AdvancedSelect is the structured value of an advanced select field: the
// leaf option chosen, the id of the chosen option node and, when the node
// declares a follow-up input, the free-form value typed into it.
type AdvancedSelect struct {
	Selection string `json:"selection" yaml:"selection"`
	NodeID    string `json:"nodeId" yaml:"nodeId"`
	Extra     any    `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Part returns the named part of the value, defaulting to the selection.
func (a *AdvancedSelect) Part(name string) any {
	switch name {
	case "", "selection":
		return a.Selection
	case "nodeId":
		return a.NodeID
	case "extra":
		return a.Extra
	default:
		return nil
	}
}

// AsAdvanced interprets v as an advanced select value. Values decoded from
// JSON or YAML arrive as plain maps, values produced in-process as
// *AdvancedSelect; both shapes are accepted.
func AsAdvanced(v any) (*AdvancedSelect, bool) {
	switch av := v.(type) {
	case *AdvancedSelect:
		return av, av != nil
	case AdvancedSelect:
		return &av, true
	case map[string]any:
		_, hasSel := av["selection"]
		_, hasNode := av["nodeId"]
		if !hasSel && !hasNode {
			return nil, false
		}
		adv := &AdvancedSelect{Extra: av["extra"]}
		if s, ok := av["selection"].(string); ok {
			adv.Selection = s
		}
		if s, ok := av["nodeId"].(string); ok {
			adv.NodeID = s
		}
		return adv, true
	default:
		return nil, false
	}
}

// NextField is the follow-up input an option node may declare. Formulas
// reference the value typed into it through "nextField:<id>" indirection.
type NextField struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Type  string `json:"type" yaml:"type"`
}

// OptionNode is one node in an advanced select's option tree.
type OptionNode struct {
	ID        string     `json:"id" yaml:"id"`
	Label     string     `json:"label" yaml:"label"`
	Value     string     `json:"value" yaml:"value"`
	ParentID  string     `json:"parentId" yaml:"parent_id"`
	NextField *NextField `json:"nextField" yaml:"next_field"`
}

// Field defines a single form input. Fields are authored by form designers
// and are read-only to the evaluation core.
type Field struct {
	ID           string            `json:"id" yaml:"id"`
	Label        string            `json:"label" yaml:"label"`
	Description  string            `json:"description" yaml:"description"`
	Type         string            `json:"type" yaml:"type"`
	Required     bool              `json:"required" yaml:"required"`
	Options      []OptionNode      `json:"options" yaml:"options"`
	Composer     *Composer         `json:"composer" yaml:"composer"`
	Dependencies []*DependencyRule `json:"dependencies" yaml:"dependencies"`
	Formulas     []*FormulaRule    `json:"formulas" yaml:"formulas"`
	Validations  []*ValidationRule `json:"validations" yaml:"validations"`
}

// ValidationRule is an expression evaluated against a field's current value,
// with "value" and "input" bound in the expression environment. A failing
// rule surfaces Message, it never blocks evaluation.
type ValidationRule struct {
	ID      string `json:"id" yaml:"id"`
	Rule    string `json:"rule" yaml:"rule"`
	Message string `json:"message" yaml:"message"`
}

// Catalog is the field catalog for one form, loaded once per form session and
// immutable during evaluation. Warnings accumulated at load time describe
// rule constructs that will degrade at evaluation time, such as unsupported
// formula condition operators.
type Catalog struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Fields      []*Field `json:"fields" yaml:"fields"`

	Warnings []string `json:"-" yaml:"-"`

	fields map[string]*Field
	nodes  map[string]*OptionNode
}

// LoadReader reads a YAML catalog definition from r and compiles it.
func LoadReader(r io.Reader) (*Catalog, error) {
	cb, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return LoadBytes(cb)
}

// LoadFile reads a YAML catalog definition from the file at path f.
func LoadFile(f string) (*Catalog, error) {
	cb, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}

	return LoadBytes(cb)
}

// LoadBytes unmarshals c as a YAML catalog definition and compiles it.
// Compilation indexes fields and option nodes, compiles dependency condition
// atoms into clauses and verifies formula node tags, so that malformed rules
// are rejected here rather than failing during evaluation.
func LoadBytes(c []byte) (*Catalog, error) {
	var cat Catalog
	err := yaml.Unmarshal(c, &cat)
	if err != nil {
		return nil, err
	}

	err = cat.compile()
	if err != nil {
		return nil, err
	}

	return &cat, nil
}

func (c *Catalog) compile() error {
	if len(c.Fields) == 0 {
		return fmt.Errorf("no fields defined")
	}

	c.fields = make(map[string]*Field, len(c.Fields))
	c.nodes = map[string]*OptionNode{}

	for _, f := range c.Fields {
		if f.ID == "" {
			return fmt.Errorf("field without id")
		}
		if _, ok := c.fields[f.ID]; ok {
			return fmt.Errorf("duplicate field id %q", f.ID)
		}
		c.fields[f.ID] = f

		for i := range f.Options {
			n := &f.Options[i]
			if n.ID != "" {
				c.nodes[n.ID] = n
			}
		}

		for _, dep := range f.Dependencies {
			if dep.TargetFieldID == "" {
				dep.TargetFieldID = f.ID
			}
			err := dep.compile()
			if err != nil {
				return fmt.Errorf("field %q: %w", f.ID, err)
			}
		}

		for _, formula := range f.Formulas {
			if formula.TargetFieldID == "" {
				formula.TargetFieldID = f.ID
			}
			formula.catalog = c
			err := formula.compile()
			if err != nil {
				return fmt.Errorf("field %q: %w", f.ID, err)
			}
			for _, w := range formula.warnings {
				c.Warnings = append(c.Warnings, fmt.Sprintf("field %q: %s", f.ID, w))
			}
		}

		if f.Composer != nil {
			err := f.Composer.compile()
			if err != nil {
				return fmt.Errorf("field %q: %w", f.ID, err)
			}
		}
	}

	return nil
}

// Field returns the field with the given id.
func (c *Catalog) Field(id string) (*Field, bool) {
	f, ok := c.fields[id]
	return f, ok
}

// Node returns the option node with the given id, searching across all
// advanced select fields in the catalog.
func (c *Catalog) Node(id string) (*OptionNode, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// LeafOptions returns the options of f that have no children, in declaration
// order. For flat option lists every option is a leaf.
func (f *Field) LeafOptions() []OptionNode {
	parents := map[string]bool{}
	for _, n := range f.Options {
		if n.ParentID != "" {
			parents[n.ParentID] = true
		}
	}

	var leaves []OptionNode
	for _, n := range f.Options {
		if !parents[n.ID] {
			leaves = append(leaves, n)
		}
	}

	return leaves
}

func isOneOf(val string, valid ...string) bool {
	for _, v := range valid {
		if val == v {
			return true
		}
	}
	return false
}

// stringify renders a value the way it would appear as form input, used by
// loose comparisons when numeric coercion is not possible on both sides.
func stringify(v any) string {
	switch sv := v.(type) {
	case nil:
		return ""
	case string:
		return sv
	case fmt.Stringer:
		return sv.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", sv))
	}
}
