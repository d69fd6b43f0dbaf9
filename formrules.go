// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package formrules drives the reactive evaluation of a quote-form session.
//
// A Session owns the values snapshot for one form instance and, on every
// value change, recomputes dependency-driven UI state for all fields, runs
// the formula interpreter for every formula-bearing field, applies validation
// rules and composer fields, and schedules a debounced persistence write.
// Evaluation itself is synchronous and bounded; only the persistence write is
// deferred, as a cancellable timer that coalesces rapid edits into a single
// save.
package formrules

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/quotient-crm/formrules/internal/validator"
	"github.com/quotient-crm/formrules/rules"
)

// DefaultSaveDelay is the quiet window used to coalesce rapid edits into a
// single persistence write when the configuration does not set one.
const DefaultSaveDelay = 600 * time.Millisecond

// Config configures a form session
type Config struct {
	// Key identifies the form instance in the persistence sink, typically a
	// composite of form and quote identifiers. Saving is disabled when empty.
	Key string `yaml:"key"`
	// SaveDelay is the debounce quiet window before values are persisted
	SaveDelay time.Duration `yaml:"save_delay"`
	// SaveHook is a command executed after each successful save, "{}" is
	// replaced with the session key
	SaveHook string `yaml:"save_hook"`
}

// Logger is an optional logger, no logging is done without one
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
}

// Saver persists the values snapshot of a form instance. Implementations
// must treat the values as an opaque blob keyed by the session key.
type Saver interface {
	Save(ctx context.Context, key string, values rules.Values) error
}

// UIState is the derived presentation state of one field. It is recomputed
// fresh on every pass and never persisted.
type UIState struct {
	Visible  bool
	Disabled bool
	Required bool
}

// Session evaluates one form instance. All methods are safe for use from a
// single UI goroutine plus the internal save timer.
type Session struct {
	cfg     *Config
	catalog *rules.Catalog
	saver   Saver
	log     Logger

	mu       sync.Mutex
	values   rules.Values
	ui       map[string]UIState
	errors   map[string]string
	auto     map[string]struct{}
	recent   map[string]struct{}
	lastEdit string
	timer    *time.Timer
	dirty    bool
}

// New creates a session over a loaded field catalog. The saver may be nil
// for purely in-memory evaluation.
func New(cfg Config, catalog *rules.Catalog, saver Saver) (*Session, error) {
	if catalog == nil {
		return nil, fmt.Errorf("a catalog is required")
	}

	if cfg.SaveDelay <= 0 {
		cfg.SaveDelay = DefaultSaveDelay
	}

	if cfg.SaveHook != "" {
		if _, err := shellquote.Split(cfg.SaveHook); err != nil {
			return nil, fmt.Errorf("invalid save hook: %w", err)
		}
	}

	s := &Session{
		cfg:     &cfg,
		catalog: catalog,
		saver:   saver,
		values:  rules.Values{},
		ui:      map[string]UIState{},
		errors:  map[string]string{},
		auto:    map[string]struct{}{},
		recent:  map[string]struct{}{},
	}

	s.mu.Lock()
	s.recomputeLocked()
	s.mu.Unlock()

	return s, nil
}

// Logger configures a logger to use, no logging is done without this. Any
// warnings recorded while the catalog was loaded are reported immediately.
func (s *Session) Logger(log Logger) {
	s.log = log

	for _, w := range s.catalog.Warnings {
		log.Infof("catalog warning: %s", w)
	}
}

// SetValue records a user edit and synchronously recomputes UI state,
// formulas, validations and composed values, then schedules a debounced
// persistence write. Editing a field whose value was computed by a formula
// turns it back into a manual field.
func (s *Session) SetValue(fieldID string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastEdit = fieldID
	s.recent[fieldID] = struct{}{}
	delete(s.auto, fieldID)

	s.values[fieldID] = value
	s.dirty = true

	s.recomputeLocked()
	s.scheduleSaveLocked()
}

// Load replaces the values snapshot, typically with persisted values when a
// session opens. Edit tracking is reset and no save is scheduled.
func (s *Session) Load(values rules.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = values.Clone()
	s.auto = map[string]struct{}{}
	s.recent = map[string]struct{}{}
	s.lastEdit = ""
	s.dirty = false

	s.recomputeLocked()
}

// Recompute re-runs the full evaluation pass over the current snapshot. The
// pass is idempotent: recomputing an unchanged snapshot yields identical UI
// state and computed values.
func (s *Session) Recompute() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recomputeLocked()
}

// recomputeLocked runs the dependency pass, the formula pass, validations
// and composers, in that order, over the full current snapshot.
func (s *Session) recomputeLocked() {
	s.dependencyPassLocked()
	s.formulaPassLocked()
	s.validationPassLocked()
	s.composerPassLocked()
}

// dependencyPassLocked derives fresh UI state for every field. Rules are
// applied in field declaration order then rule declaration order, and the
// last applied rule wins per UI-state key, making the merge of multiple
// rules targeting one field deterministic.
func (s *Session) dependencyPassLocked() {
	ui := make(map[string]UIState, len(s.catalog.Fields))

	for _, f := range s.catalog.Fields {
		ui[f.ID] = UIState{Visible: true, Required: f.Required}
	}

	for _, f := range s.catalog.Fields {
		for _, dep := range f.Dependencies {
			target := dep.TargetFieldID
			state, ok := ui[target]
			if !ok {
				state = UIState{Visible: true}
			}

			switch dep.Evaluate(s.values) {
			case rules.ActionShow:
				state.Visible = true
				state.Disabled = false
			case rules.ActionHide:
				state.Visible = false
			case rules.ActionRequire:
				state.Required = true
			case rules.ActionUnrequire:
				state.Required = false
			}

			ui[target] = state
		}
	}

	s.ui = ui
}

// formulaPassLocked evaluates every formula-bearing field and merges results
// into the snapshot. Computed values update hidden fields too, visibility is
// purely a rendering concern. A zero result never overwrites a non-zero
// number in a field the user edited this session, so live input is not
// clobbered by a transient zero.
func (s *Session) formulaPassLocked() {
	for _, f := range s.catalog.Fields {
		for _, formula := range orderedFormulas(f.Formulas) {
			val, err := formula.Evaluate(s.values)
			if err != nil {
				s.debugf("formula %q on field %q: %v", formula.ID, f.ID, err)
				continue
			}

			target := formula.TargetFieldID
			prev := s.values[target]

			_, userEdited := s.recent[target]
			userEdited = userEdited || s.lastEdit == target

			if userEdited && val == 0 {
				if pn, ok := rules.ParseFlexibleNumber(prev); ok && pn != 0 {
					s.debugf("skipping zero overwrite of user value in %q", target)
					continue
				}
			}

			if pn, ok := rules.ParseFlexibleNumber(prev); ok && pn == val {
				continue
			}

			s.values[target] = val
			s.dirty = true
			if !userEdited {
				s.auto[target] = struct{}{}
			}

			s.debugf("formula %q computed %q = %v", formula.ID, target, val)
		}
	}
}

// validationPassLocked evaluates the first validation rule of each field
// against its current value. A rule that fails to evaluate passes, the field
// is never blocked by an internal error.
func (s *Session) validationPassLocked() {
	errors := map[string]string{}

	for _, f := range s.catalog.Fields {
		if len(f.Validations) == 0 {
			continue
		}

		v, hasValue := s.values[f.ID]
		if !hasValue {
			continue
		}

		rule := f.Validations[0]
		env := map[string]any{"value": v, "input": map[string]any(s.values)}

		ok, err := validator.Validate(env, rule.Rule)
		if err != nil {
			s.debugf("validation %q on field %q: %v", rule.ID, f.ID, err)
			continue
		}

		if !ok {
			msg := rule.Message
			if msg == "" {
				msg = "invalid value"
			}
			errors[f.ID] = msg
		}
	}

	s.errors = errors
}

// composerPassLocked renders composer fields from the current snapshot. An
// empty rendered string is never stored, so a template whose inputs are not
// yet filled in leaves the field untouched.
func (s *Session) composerPassLocked() {
	for _, f := range s.catalog.Fields {
		if f.Composer == nil {
			continue
		}

		out, err := f.Composer.Render(s.values)
		if err != nil {
			s.debugf("composer on field %q: %v", f.ID, err)
			continue
		}

		if str, ok := out.(string); ok && strings.TrimSpace(str) == "" {
			continue
		}

		if !equalValue(s.values[f.ID], out) {
			s.values[f.ID] = out
			s.dirty = true
		}
	}
}

// Catalog returns the field catalog this session evaluates.
func (s *Session) Catalog() *rules.Catalog {
	return s.catalog
}

// UIState returns the derived state for one field. Fields unknown to the
// catalog are visible and optional.
func (s *Session) UIState(fieldID string) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.ui[fieldID]
	if !ok {
		return UIState{Visible: true}
	}
	return state
}

// UIStates returns a copy of the derived state for all fields.
func (s *Session) UIStates() map[string]UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make(map[string]UIState, len(s.ui))
	for k, v := range s.ui {
		res[k] = v
	}
	return res
}

// Values returns a copy of the current values snapshot.
func (s *Session) Values() rules.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.values.Clone()
}

// Value returns the current value of one field.
func (s *Session) Value(fieldID string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.values[fieldID]
}

// IsComputed reports whether a field's displayed value originated from a
// formula rather than direct user entry. Editing the field clears the
// marker.
func (s *Session) IsComputed(fieldID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.auto[fieldID]
	return ok
}

// Errors returns the current per-field validation messages.
func (s *Session) Errors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make(map[string]string, len(s.errors))
	for k, v := range s.errors {
		res[k] = v
	}
	return res
}

// scheduleSaveLocked arms the debounced persistence timer. An edit arriving
// during the quiet window cancels the pending write and restarts the window,
// coalescing rapid edits into the last snapshot.
func (s *Session) scheduleSaveLocked() {
	if s.saver == nil || s.cfg.Key == "" {
		return
	}

	if s.timer != nil {
		s.timer.Stop()
	}

	s.timer = time.AfterFunc(s.cfg.SaveDelay, func() {
		err := s.persist(context.Background())
		if err != nil {
			s.infof("saving form instance %q failed: %v", s.cfg.Key, err)
		}
	})
}

// Flush cancels any pending debounce timer and persists the current snapshot
// immediately.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.persist(ctx)
}

// Close flushes unsaved values and releases the session.
func (s *Session) Close() error {
	s.mu.Lock()
	dirty := s.dirty
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if !dirty {
		return nil
	}

	return s.persist(context.Background())
}

func (s *Session) persist(ctx context.Context) error {
	if s.saver == nil || s.cfg.Key == "" {
		return nil
	}

	s.mu.Lock()
	snapshot := s.values.Clone()
	s.dirty = false
	s.mu.Unlock()

	err := s.saver.Save(ctx, s.cfg.Key, snapshot)
	if err != nil {
		return err
	}

	return s.runSaveHook()
}

func (s *Session) runSaveHook() error {
	if s.cfg.SaveHook == "" {
		return nil
	}

	parts, err := shellquote.Split(s.cfg.SaveHook)
	if err != nil {
		return err
	}

	cmd := parts[0]
	var args []string
	for _, p := range parts[1:] {
		args = append(args, strings.ReplaceAll(p, "{}", s.cfg.Key))
	}

	s.infof("running save hook: %s %s", cmd, strings.Join(args, " "))

	out, err := exec.Command(cmd, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("save hook failed: %w, output: %q", err, out)
	}

	return nil
}

func (s *Session) debugf(format string, v ...any) {
	if s.log != nil {
		s.log.Debugf(format, v...)
	}
}

func (s *Session) infof(format string, v ...any) {
	if s.log != nil {
		s.log.Infof(format, v...)
	}
}

// orderedFormulas sorts rules by their declared order, stable over the
// authored sequence.
func orderedFormulas(formulas []*rules.FormulaRule) []*rules.FormulaRule {
	if len(formulas) < 2 {
		return formulas
	}

	out := make([]*rules.FormulaRule, len(formulas))
	copy(out, formulas)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })

	return out
}

func equalValue(a, b any) bool {
	if an, ok := rules.ParseFlexibleNumber(a); ok {
		if bn, bok := rules.ParseFlexibleNumber(b); bok {
			return an == bn
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
