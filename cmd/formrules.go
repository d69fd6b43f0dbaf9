// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/choria-io/fisk"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/quotient-crm/formrules"
	"github.com/quotient-crm/formrules/forms"
	"github.com/quotient-crm/formrules/rules"
)

var (
	catalogFile string
	valuesFile  string
	saveFile    string
	key         string
	saveHook    string
	saveDelay   time.Duration
	stringData  map[string]string
	verbose     bool
	version     string
)

func main() {
	stringData = map[string]string{}

	app := fisk.New("formrules", "Evaluates and fills dynamic quote forms")
	app.Version(version)

	app.Help = `
Evaluates quote-form rule catalogs: field dependencies decide what is shown
and required, formulas compute values from other fields.

Catalogs are YAML documents describing fields with their dependency, formula,
validation and composer rules. Values are JSON documents keyed by field id.
`

	app.Flag("verbose", "Log evaluation details").UnNegatableBoolVar(&verbose)

	eval := app.Command("eval", "Evaluates a catalog against a values document").Action(evalAction)
	eval.Arg("catalog", "The catalog file describing the form").Required().ExistingFileVar(&catalogFile)
	eval.Arg("values", "JSON file holding current field values").ExistingFileVar(&valuesFile)
	eval.Flag("key", "Form instance identifier for persistence").StringVar(&key)
	eval.Flag("save", "Persist the evaluated values to a JSON file").PlaceHolder("FILE").StringVar(&saveFile)

	fill := app.Command("fill", "Interactively fills a form").Action(fillAction)
	fill.Arg("catalog", "The catalog file describing the form").Required().ExistingFileVar(&catalogFile)
	fill.Arg("data", "Template data available to field descriptions").StringMapVar(&stringData)
	fill.Flag("key", "Form instance identifier for persistence").StringVar(&key)
	fill.Flag("save", "Persist values to a JSON file while filling").PlaceHolder("FILE").StringVar(&saveFile)
	fill.Flag("hook", "Command to run after each save, {} expands to the key").StringVar(&saveHook)
	fill.Flag("delay", "Quiet window before values are persisted").Default("600ms").DurationVar(&saveDelay)

	app.MustParseWithUsage(os.Args[1:])
}

func newSession() (*formrules.Session, error) {
	catalog, err := rules.LoadFile(catalogFile)
	if err != nil {
		return nil, err
	}

	var saver formrules.Saver
	if saveFile != "" {
		if key == "" {
			key = catalog.Name
		}
		saver = &fileSaver{path: saveFile}
	}

	session, err := formrules.New(formrules.Config{Key: key, SaveDelay: saveDelay, SaveHook: saveHook}, catalog, saver)
	if err != nil {
		return nil, err
	}

	if verbose {
		session.Logger(&consoleLogger{})
	}

	return session, nil
}

func evalAction(_ *fisk.ParseContext) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	if valuesFile != "" {
		vb, err := os.ReadFile(valuesFile)
		if err != nil {
			return err
		}

		values := rules.Values{}
		err = json.Unmarshal(vb, &values)
		if err != nil {
			return fmt.Errorf("invalid values document: %w", err)
		}

		session.Load(values)
	}

	renderStates(session)

	if saveFile != "" {
		return session.Flush(context.Background())
	}

	return nil
}

func fillAction(_ *fisk.ParseContext) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	env := map[string]any{}
	for k, v := range stringData {
		env[k] = v
	}

	_, err = forms.Fill(session, env)
	if err != nil {
		return err
	}

	renderStates(session)

	return nil
}

func renderStates(session *formrules.Session) {
	values := session.Values()
	errors := session.Errors()

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Field", "Type", "Visible", "Required", "Value", "Notes"})

	for _, f := range session.Catalog().Fields {
		state := session.UIState(f.ID)

		var notes []string
		if session.IsComputed(f.ID) {
			notes = append(notes, text.FgCyan.Sprint("computed"))
		}
		if msg, ok := errors[f.ID]; ok {
			notes = append(notes, text.FgRed.Sprint(msg))
		}

		value := values[f.ID]
		display := ""
		if value != nil {
			if adv, ok := rules.AsAdvanced(value); ok {
				display = adv.Selection
				if adv.Extra != nil {
					display = fmt.Sprintf("%s (%v)", adv.Selection, adv.Extra)
				}
			} else {
				display = fmt.Sprintf("%v", value)
			}
		}

		tw.AppendRow(table.Row{f.Label, f.Type, checkMark(state.Visible), checkMark(state.Required), display, joinNotes(notes)})
	}

	tw.Render()
}

func checkMark(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func joinNotes(notes []string) string {
	out := ""
	for i, n := range notes {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// fileSaver persists values snapshots as a JSON document per form instance.
type fileSaver struct {
	path string
}

func (f *fileSaver) Save(_ context.Context, key string, values rules.Values) error {
	doc := map[string]any{"key": key, "values": values}

	jb, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(f.path, jb, 0644)
}

type consoleLogger struct{}

func (l *consoleLogger) Debugf(format string, v ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
}

func (l *consoleLogger) Infof(format string, v ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
}
