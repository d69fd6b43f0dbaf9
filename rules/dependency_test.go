// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DependencyRule", func() {
	compiledRule := func(action string, groups [][]Atom) *DependencyRule {
		rule := &DependencyRule{ID: "dep", Action: action, Conditions: groups}
		Expect(rule.compile()).To(Succeed())
		return rule
	}

	Describe("Evaluate", func() {
		It("Should apply the action unconditionally when no conditions are set", func() {
			Expect(compiledRule(ActionShow, nil).Evaluate(Values{})).To(Equal(ActionShow))
			Expect(compiledRule(ActionHide, nil).Evaluate(Values{})).To(Equal(ActionHide))
			Expect(compiledRule(ActionRequire, [][]Atom{{}}).Evaluate(Values{})).To(Equal(ActionRequire))
		})

		It("Should apply the action when conditions hold and its inverse when they do not", func() {
			rule := compiledRule(ActionShow, [][]Atom{{
				{Kind: FieldAtom, Value: "mode"},
				{Kind: OperatorAtom, Value: "=="},
				{Kind: ValueAtom, Value: "expert"},
			}})

			Expect(rule.Evaluate(Values{"mode": "expert"})).To(Equal(ActionShow))
			Expect(rule.Evaluate(Values{"mode": "basic"})).To(Equal(ActionHide))

			rule = compiledRule(ActionRequire, [][]Atom{{
				{Kind: FieldAtom, Value: "amount"},
				{Kind: OperatorAtom, Value: ">"},
				{Kind: ValueAtom, Value: "1000"},
			}})

			Expect(rule.Evaluate(Values{"amount": 2000})).To(Equal(ActionRequire))
			Expect(rule.Evaluate(Values{"amount": 500})).To(Equal(ActionUnrequire))
		})

		It("Should AND atoms within a group", func() {
			rule := compiledRule(ActionShow, [][]Atom{{
				{Kind: FieldAtom, Value: "mode"},
				{Kind: OperatorAtom, Value: "=="},
				{Kind: ValueAtom, Value: "expert"},
				{Kind: FieldAtom, Value: "amount"},
				{Kind: OperatorAtom, Value: ">="},
				{Kind: ValueAtom, Value: "100"},
			}})

			Expect(rule.Evaluate(Values{"mode": "expert", "amount": 100})).To(Equal(ActionShow))
			Expect(rule.Evaluate(Values{"mode": "expert", "amount": 50})).To(Equal(ActionHide))
		})

		It("Should OR condition groups", func() {
			rule := compiledRule(ActionShow, [][]Atom{
				{
					{Kind: FieldAtom, Value: "mode"},
					{Kind: OperatorAtom, Value: "=="},
					{Kind: ValueAtom, Value: "expert"},
				},
				{
					{Kind: FieldAtom, Value: "override"},
				},
			})

			Expect(rule.Evaluate(Values{"mode": "basic", "override": true})).To(Equal(ActionShow))
			Expect(rule.Evaluate(Values{"mode": "basic"})).To(Equal(ActionHide))
		})

		It("Should treat a trailing field atom as a truthiness check", func() {
			rule := compiledRule(ActionShow, [][]Atom{{
				{Kind: FieldAtom, Value: "accepted"},
			}})

			Expect(rule.Evaluate(Values{"accepted": true})).To(Equal(ActionShow))
			Expect(rule.Evaluate(Values{})).To(Equal(ActionHide))
		})

		It("Should fail open to show when a rule cannot be compiled", func() {
			rule := &DependencyRule{ID: "broken", Action: "explode", Conditions: [][]Atom{{
				{Kind: OperatorAtom, Value: "=="},
			}}}

			Expect(rule.Evaluate(Values{})).To(Equal(ActionShow))
		})
	})

	Describe("compile", func() {
		It("Should reject misplaced operators", func() {
			rule := &DependencyRule{ID: "d", Action: ActionShow, Conditions: [][]Atom{{
				{Kind: OperatorAtom, Value: "=="},
			}}}
			Expect(rule.compile()).To(MatchError(ContainSubstring("misplaced operator")))
		})

		It("Should reject unknown operators", func() {
			rule := &DependencyRule{ID: "d", Action: ActionShow, Conditions: [][]Atom{{
				{Kind: FieldAtom, Value: "a"},
				{Kind: OperatorAtom, Value: "~="},
			}}}
			Expect(rule.compile()).To(MatchError(ContainSubstring(`unknown operator "~="`)))
		})

		It("Should reject dangling operators", func() {
			rule := &DependencyRule{ID: "d", Action: ActionShow, Conditions: [][]Atom{{
				{Kind: FieldAtom, Value: "a"},
				{Kind: OperatorAtom, Value: "=="},
			}}}
			Expect(rule.compile()).To(MatchError(ContainSubstring("dangling operator")))
		})

		It("Should reject literals without a comparison", func() {
			rule := &DependencyRule{ID: "d", Action: ActionShow, Conditions: [][]Atom{{
				{Kind: ValueAtom, Value: "5"},
			}}}
			Expect(rule.compile()).To(MatchError(ContainSubstring("without preceding comparison")))
		})

		It("Should support field to field comparisons", func() {
			rule := compiledRule(ActionRequire, [][]Atom{{
				{Kind: FieldAtom, Value: "total"},
				{Kind: OperatorAtom, Value: ">"},
				{Kind: FieldAtom, Value: "budget"},
			}})

			Expect(rule.Evaluate(Values{"total": 10, "budget": 5})).To(Equal(ActionRequire))
			Expect(rule.Evaluate(Values{"total": 5, "budget": 10})).To(Equal(ActionUnrequire))
		})
	})
})
