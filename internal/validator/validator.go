// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package validator evaluates boolean validation and condition expressions
// using the expr language. Expressions run against a caller-supplied
// environment extended with input-checking helpers (isInt, isFloat,
// isNumber).
package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/expr-lang/expr"
)

// Validate compiles and runs expression against env and returns its boolean
// result. Undefined variables are allowed so expressions can probe values
// that have not been collected yet.
func Validate(env map[string]any, expression string) (bool, error) {
	e := environment(env)

	program, err := expr.Compile(expression, expr.Env(e), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("invalid expression: %w", err)
	}

	res, err := expr.Run(program, e)
	if err != nil {
		return false, err
	}

	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean")
	}

	return b, nil
}

// SurveyValidator adapts an expression to a survey validator. The answer is
// bound as "value" and "Value" in the expression environment. Empty answers
// pass unless required is set.
func SurveyValidator(expression string, required bool) survey.Validator {
	return func(ans any) error {
		str := fmt.Sprintf("%v", ans)

		if strings.TrimSpace(str) == "" {
			if required {
				return fmt.Errorf("a value is required")
			}
			return nil
		}

		ok, err := Validate(map[string]any{"value": str, "Value": str}, expression)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("did not pass validation: %s", expression)
		}

		return nil
	}
}

func environment(env map[string]any) map[string]any {
	e := map[string]any{
		"isInt": func(v any) bool {
			_, err := strconv.Atoi(strings.TrimSpace(fmt.Sprintf("%v", v)))
			return err == nil
		},
		"isFloat": func(v any) bool {
			_, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprintf("%v", v)), 64)
			return err == nil
		},
		"isNumber": func(v any) bool {
			_, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprintf("%v", v)), 64)
			return err == nil
		},
	}

	for k, v := range env {
		e[k] = v
	}

	return e
}
