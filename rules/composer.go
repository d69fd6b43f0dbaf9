// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/CloudyKit/jet/v6"
	"github.com/quotient-crm/formrules/internal/sprig"
)

// Composer modes.
const (
	TemplateMode = "template"
	PicksMode    = "picks"
)

// Composer template engines.
const (
	GoEngine  = "go"
	JetEngine = "jet"
)

// Composer assembles a data field's value from other field values. Template
// mode renders a template (Go text/template with sprig functions, or Jet)
// against the values snapshot, picks mode extracts named values into a map.
type Composer struct {
	Mode     string `json:"mode" yaml:"mode"`
	Engine   string `json:"engine" yaml:"engine"`
	Template string `json:"template" yaml:"template"`
	Picks    []Pick `json:"picks" yaml:"picks"`
}

// Pick names one extracted value: From selects the source ("values" for the
// raw value, "advancedSelect" for a part of a structured value), Path an
// optional part or nested key.
type Pick struct {
	Key     string `json:"key" yaml:"key"`
	FieldID string `json:"fieldId" yaml:"field_id"`
	From    string `json:"from" yaml:"from"`
	Path    string `json:"path" yaml:"path"`
}

func (c *Composer) compile() error {
	if c.Mode == "" {
		c.Mode = TemplateMode
	}
	if c.Engine == "" {
		c.Engine = GoEngine
	}

	if !isOneOf(c.Mode, TemplateMode, PicksMode) {
		return fmt.Errorf("unknown composer mode %q", c.Mode)
	}
	if !isOneOf(c.Engine, GoEngine, JetEngine) {
		return fmt.Errorf("unknown composer engine %q", c.Engine)
	}

	if c.Mode == TemplateMode && c.Template == "" {
		return fmt.Errorf("composer in template mode without a template")
	}

	return nil
}

// Render produces the composed value for a values snapshot.
func (c *Composer) Render(values Values) (any, error) {
	switch c.Mode {
	case PicksMode:
		return c.renderPicks(values), nil
	default:
		return c.renderTemplate(values)
	}
}

func (c *Composer) renderPicks(values Values) map[string]any {
	res := map[string]any{}

	for _, p := range c.Picks {
		if p.Key == "" || p.FieldID == "" {
			continue
		}

		switch p.From {
		case "advancedSelect":
			part := p.Path
			if part == "" {
				part = "selection"
			}
			if adv, ok := AsAdvanced(values[p.FieldID]); ok {
				res[p.Key] = adv.Part(part)
			} else if part == "selection" {
				res[p.Key] = values[p.FieldID]
			}
		default:
			v := values[p.FieldID]
			if p.Path != "" {
				v, _ = LookupPath(p.FieldID+"."+p.Path, values)
			}
			res[p.Key] = v
		}
	}

	return res
}

func (c *Composer) renderTemplate(values Values) (string, error) {
	data := templateData(values)

	if c.Engine == JetEngine {
		loader := jet.NewInMemLoader()
		loader.Set("composer", c.Template)

		t, err := jet.NewSet(loader).GetTemplate("composer")
		if err != nil {
			return "", err
		}

		vars := make(jet.VarMap)
		vars.Set("values", data["values"])

		out := bytes.NewBuffer([]byte{})
		err = t.Execute(out, vars, nil)
		if err != nil {
			return "", err
		}

		return out.String(), nil
	}

	t, err := template.New("composer").Funcs(sprig.TxtFuncMap()).Parse(c.Template)
	if err != nil {
		return "", err
	}

	out := bytes.NewBuffer([]byte{})
	err = t.Execute(out, data)
	if err != nil {
		return "", err
	}

	return out.String(), nil
}

// templateData exposes the values snapshot to templates with advanced select
// values expanded into their named parts.
func templateData(values Values) map[string]any {
	vals := map[string]any{}

	for k, v := range values {
		if adv, ok := AsAdvanced(v); ok {
			vals[k] = map[string]any{
				"selection": adv.Selection,
				"nodeId":    adv.NodeID,
				"extra":     adv.Extra,
			}
			continue
		}
		vals[k] = v
	}

	return map[string]any{"values": vals}
}
