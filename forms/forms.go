// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package forms presents a quote-form catalog interactively on a terminal.
//
// Fields are asked in declaration order against a live formrules.Session, so
// dependency rules show, hide and require fields based on the answers
// already given, formulas compute values as soon as their inputs exist, and
// composed fields assemble themselves. Field descriptions support Go
// template syntax with sprig functions and color markup tags like
// {red}text{/red}.
package forms

//go:generate mockgen -source forms.go -destination mock_test.go -package forms -typed

import (
	"fmt"
	"io"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/quotient-crm/formrules"
	"github.com/quotient-crm/formrules/internal/validator"
	"github.com/quotient-crm/formrules/rules"
)

// surveyor abstracts the survey library for testability.
type surveyor interface {
	AskOne(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error
}

type defaultSurveyor struct{}

func (d *defaultSurveyor) AskOne(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error {
	return survey.AskOne(p, response, opts...)
}

type fillOption func(*filler)

func withSurveyor(s surveyor) fillOption {
	return func(f *filler) {
		f.surveyor = s
	}
}

func withIsTerminal(fn func() bool) fillOption {
	return func(f *filler) {
		f.isTerminal = fn
	}
}

func withOutput(w io.Writer) fillOption {
	return func(f *filler) {
		f.output = w
	}
}

// filler holds the configuration needed to interactively fill a form. The
// session owns all evaluation state; the filler is only concerned with user
// interaction.
type filler struct {
	session    *formrules.Session
	env        map[string]any
	surveyor   surveyor
	isTerminal func() bool
	output     io.Writer
}

// Fill presents the session's catalog interactively on a terminal and
// returns the final values snapshot. It requires a valid terminal (stdin and
// stdout). The env map provides template variables for field descriptions.
func Fill(session *formrules.Session, env map[string]any, opts ...fillOption) (rules.Values, error) {
	f := &filler{
		session:    session,
		env:        env,
		surveyor:   &defaultSurveyor{},
		isTerminal: isTerminal,
		output:     os.Stdout,
	}

	for _, o := range opts {
		o(f)
	}

	if !f.isTerminal() {
		return nil, fmt.Errorf("can only fill forms on a valid terminal")
	}

	catalog := session.Catalog()
	if len(catalog.Fields) == 0 {
		return nil, fmt.Errorf("no fields defined")
	}

	if catalog.Description != "" {
		d, err := renderTemplate(catalog.Description, f.env)
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(f.output, d)
		fmt.Fprintln(f.output)
	}

	for _, field := range catalog.Fields {
		state := f.session.UIState(field.ID)
		if !state.Visible {
			continue
		}

		err := f.askField(field, state)
		if err != nil {
			return nil, err
		}
	}

	f.showComputed()

	return session.Values(), nil
}

// askField dispatches a single field to the appropriate type-specific
// handler. Composed and computed-only fields are not prompted.
func (f *filler) askField(field *rules.Field, state formrules.UIState) error {
	if field.Type == rules.DataType {
		return nil
	}

	if f.session.IsComputed(field.ID) {
		return nil
	}

	err := f.showDescription(field)
	if err != nil {
		return err
	}

	switch field.Type {
	case rules.BoolType:
		return f.askBool(field)

	case rules.NumberType:
		return f.askNumber(field, state)

	case rules.SelectType:
		return f.askSelect(field, state)

	case rules.AdvancedSelectType:
		return f.askAdvancedSelect(field, state)

	case rules.TextType, rules.DateType, "":
		return f.askString(field, state)

	default:
		return fmt.Errorf("unsupported field type %q", field.Type)
	}
}

func (f *filler) showDescription(field *rules.Field) error {
	if field.Description == "" {
		return nil
	}

	d, err := renderTemplate(field.Description, f.env)
	if err != nil {
		return err
	}

	fmt.Fprintln(f.output)
	fmt.Fprintln(f.output, d)
	fmt.Fprintln(f.output)

	return nil
}

// askString prompts for a text or date value. The field's first validation
// rule becomes a survey validator so bad input is rejected at the prompt.
func (f *filler) askString(field *rules.Field, state formrules.UIState) error {
	var opts []survey.AskOpt

	if state.Required {
		opts = append(opts, survey.WithValidator(survey.MinLength(1)))
	}

	if len(field.Validations) > 0 {
		opts = append(opts, survey.WithValidator(validator.SurveyValidator(field.Validations[0].Rule, state.Required)))
	}

	var ans string
	err := f.surveyor.AskOne(&survey.Input{
		Message: field.Label,
		Default: defaultString(f.session.Value(field.ID)),
	}, &ans, opts...)
	if err != nil {
		return err
	}

	if ans == "" && !state.Required {
		return nil
	}

	f.session.SetValue(field.ID, ans)

	return nil
}

// askNumber prompts for a numeric value, validating with an isFloat
// expression combined with any field validation. Comma decimals and percent
// signs are accepted and normalised.
func (f *filler) askNumber(field *rules.Field, state formrules.UIState) error {
	validation := "isFloat(value)"
	if len(field.Validations) > 0 {
		validation = fmt.Sprintf("%s && %s", validation, field.Validations[0].Rule)
	}

	var ans string
	err := f.surveyor.AskOne(&survey.Input{
		Message: field.Label,
		Default: defaultString(f.session.Value(field.ID)),
	}, &ans, survey.WithValidator(flexibleNumberValidator(validation, state.Required)))
	if err != nil {
		return err
	}

	if ans == "" && !state.Required {
		return nil
	}

	n, ok := rules.ParseFlexibleNumber(ans)
	if !ok {
		return fmt.Errorf("could not parse %q as a number", ans)
	}

	f.session.SetValue(field.ID, n)

	return nil
}

func (f *filler) askBool(field *rules.Field) error {
	var ans bool

	err := f.surveyor.AskOne(&survey.Confirm{
		Message: field.Label,
	}, &ans)
	if err != nil {
		return err
	}

	f.session.SetValue(field.ID, ans)

	return nil
}

func (f *filler) askSelect(field *rules.Field, state formrules.UIState) error {
	var labels []string
	for _, o := range field.Options {
		labels = append(labels, o.Label)
	}
	if len(labels) == 0 {
		return fmt.Errorf("select field %q has no options", field.ID)
	}

	var opts []survey.AskOpt
	if state.Required {
		opts = append(opts, survey.WithValidator(survey.Required))
	}

	var ans string
	err := f.surveyor.AskOne(&survey.Select{
		Message: field.Label,
		Options: labels,
	}, &ans, opts...)
	if err != nil {
		return err
	}

	for _, o := range field.Options {
		if o.Label == ans {
			f.session.SetValue(field.ID, o.Value)
			return nil
		}
	}

	return nil
}

// askAdvancedSelect presents the leaf options of a cascading selector and,
// when the chosen node declares a follow-up input, prompts for its value.
// The stored value is the structured selection/nodeId/extra triple that
// formulas resolve nextField references against.
func (f *filler) askAdvancedSelect(field *rules.Field, state formrules.UIState) error {
	leaves := field.LeafOptions()
	if len(leaves) == 0 {
		return fmt.Errorf("advanced select field %q has no options", field.ID)
	}

	var labels []string
	for _, o := range leaves {
		labels = append(labels, o.Label)
	}

	var opts []survey.AskOpt
	if state.Required {
		opts = append(opts, survey.WithValidator(survey.Required))
	}

	var ans string
	err := f.surveyor.AskOne(&survey.Select{
		Message: field.Label,
		Options: labels,
	}, &ans, opts...)
	if err != nil {
		return err
	}

	var node *rules.OptionNode
	for i := range leaves {
		if leaves[i].Label == ans {
			node = &leaves[i]
			break
		}
	}
	if node == nil {
		return nil
	}

	value := &rules.AdvancedSelect{Selection: node.Value, NodeID: node.ID}

	if node.NextField != nil {
		message := node.NextField.Label
		if message == "" {
			message = fmt.Sprintf("Value for %s", node.Label)
		}

		var extra string
		err = f.surveyor.AskOne(&survey.Input{
			Message: message,
		}, &extra, survey.WithValidator(flexibleNumberValidator("isFloat(value)", true)))
		if err != nil {
			return err
		}

		value.Extra = extra
	}

	f.session.SetValue(field.ID, value)

	return nil
}

// showComputed reports the values that formulas and composers produced, so
// the user can see what their answers resulted in.
func (f *filler) showComputed() {
	shown := false

	for _, field := range f.session.Catalog().Fields {
		if !f.session.IsComputed(field.ID) && field.Type != rules.DataType {
			continue
		}

		v := f.session.Value(field.ID)
		if v == nil {
			continue
		}

		if !shown {
			fmt.Fprintln(f.output)
			fmt.Fprintln(f.output, colorMarkup("{bold}Computed values{/bold}"))
			shown = true
		}

		fmt.Fprintf(f.output, "  %s: %v\n", field.Label, v)
	}
}

func defaultString(v any) string {
	if v == nil {
		return ""
	}
	if _, ok := rules.AsAdvanced(v); ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
