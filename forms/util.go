// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package forms

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"

	"github.com/AlecAivazis/survey/v2"
	"github.com/jedib0t/go-pretty/v6/text"
	terminal "golang.org/x/term"

	"github.com/quotient-crm/formrules/internal/sprig"
	"github.com/quotient-crm/formrules/internal/validator"
	"github.com/quotient-crm/formrules/rules"
)

func isTerminal() bool {
	return terminal.IsTerminal(int(os.Stdin.Fd())) && terminal.IsTerminal(int(os.Stdout.Fd()))
}

func renderTemplate(tmpl string, env map[string]any) (string, error) {
	t, err := template.New("form").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return "", err
	}

	out := bytes.NewBuffer([]byte{})

	err = t.Execute(out, env)
	if err != nil {
		return "", err
	}

	return colorMarkup(out.String()), nil
}

// flexibleNumberValidator wraps an expression validator so that answers in
// local numeric form (comma decimal separator, trailing percent sign) are
// normalised before the expression sees them.
func flexibleNumberValidator(expression string, required bool) survey.Validator {
	base := validator.SurveyValidator(expression, required)

	return func(ans any) error {
		str := strings.TrimSpace(fmt.Sprintf("%v", ans))
		if str == "" {
			return base(ans)
		}

		if n, ok := rules.ParseFlexibleNumber(str); ok {
			return base(strconv.FormatFloat(n, 'f', -1, 64))
		}

		return base(ans)
	}
}

var markupColors = map[string]text.Color{
	"bold":    text.Bold,
	"red":     text.FgRed,
	"green":   text.FgGreen,
	"yellow":  text.FgYellow,
	"blue":    text.FgBlue,
	"magenta": text.FgMagenta,
	"cyan":    text.FgCyan,
	"white":   text.FgWhite,
	"hired":   text.FgHiRed,
	"higreen": text.FgHiGreen,
	"hiblue":  text.FgHiBlue,
}

// colorMarkup replaces {color}text{/color} markup with ANSI colored text.
// Innermost tags are processed first so nested tags compose, unknown color
// names have their tags stripped.
func colorMarkup(input string) string {
	result := input

	for {
		tag, content, ok := innermostTag(result)
		if !ok {
			return result
		}

		full := "{" + tag + "}" + content + "{/" + tag + "}"

		if color, known := markupColors[strings.ToLower(tag)]; known {
			result = strings.Replace(result, full, text.Colors{color}.Sprint(content), 1)
		} else {
			result = strings.Replace(result, full, content, 1)
		}
	}
}

// innermostTag finds the first markup tag whose content holds no further
// opening tag.
func innermostTag(s string) (tag string, content string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}

		end := strings.Index(s[i:], "}")
		if end < 0 {
			return "", "", false
		}
		end += i

		name := s[i+1 : end]
		if name == "" || strings.Contains(name, "/") || strings.ContainsAny(name, " \t\n") {
			continue
		}

		closeTag := "{/" + name + "}"
		ci := strings.Index(s[end+1:], closeTag)
		if ci < 0 {
			continue
		}

		inner := s[end+1 : end+1+ci]
		if containsOpenTag(inner) {
			continue
		}

		return name, inner, true
	}

	return "", "", false
}

func containsOpenTag(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}

		end := strings.Index(s[i:], "}")
		if end < 0 {
			return false
		}

		name := s[i+1 : i+end]
		if name != "" && !strings.Contains(name, "/") && !strings.ContainsAny(name, " \t\n") {
			if strings.Contains(s[i+end:], "{/"+name+"}") {
				return true
			}
		}
	}

	return false
}
