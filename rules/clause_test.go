// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("EvaluateClause", func() {
	It("Should loosely equate numeric strings and numbers", func() {
		values := Values{"a": "5"}
		Expect(EvaluateClause("a == 5", values)).To(BeTrue())
		Expect(EvaluateClause("a === 5", values)).To(BeTrue())
		Expect(EvaluateClause("a != 5", values)).To(BeFalse())

		values = Values{"a": 5}
		Expect(EvaluateClause(`a == "5"`, values)).To(BeTrue())
	})

	It("Should fall back to string equality when coercion fails", func() {
		values := Values{"mode": "expert"}
		Expect(EvaluateClause(`mode == "expert"`, values)).To(BeTrue())
		Expect(EvaluateClause(`mode == "basic"`, values)).To(BeFalse())
		Expect(EvaluateClause(`mode != "basic"`, values)).To(BeTrue())
	})

	It("Should compare dates as timestamps", func() {
		values := Values{"start": "2026-01-01", "end": time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
		Expect(EvaluateClause("end > start", values)).To(BeTrue())
		Expect(EvaluateClause("start > end", values)).To(BeFalse())
		Expect(EvaluateClause(`start == "2026-01-01"`, values)).To(BeTrue())
	})

	It("Should treat a clause without operator as a truthiness check", func() {
		Expect(EvaluateClause("a", Values{"a": "yes"})).To(BeTrue())
		Expect(EvaluateClause("a", Values{"a": ""})).To(BeFalse())
		Expect(EvaluateClause("a", Values{"a": 0})).To(BeFalse())
		Expect(EvaluateClause("a", Values{"a": true})).To(BeTrue())
		Expect(EvaluateClause("missing", Values{})).To(BeFalse())
	})

	It("Should resolve dotted paths including advanced select parts", func() {
		values := Values{
			"address": map[string]any{"city": "Liège"},
			"price":   &AdvancedSelect{Selection: "calc", NodeID: "n1", Extra: "1200"},
		}

		Expect(EvaluateClause(`address.city == "Liège"`, values)).To(BeTrue())
		Expect(EvaluateClause(`price.selection == "calc"`, values)).To(BeTrue())
		Expect(EvaluateClause("price.extra == 1200", values)).To(BeTrue())
		Expect(EvaluateClause("address.missing", values)).To(BeFalse())
	})

	It("Should compare booleans and null literals", func() {
		Expect(EvaluateClause("active == true", Values{"active": true})).To(BeTrue())
		Expect(EvaluateClause("active == false", Values{"active": true})).To(BeFalse())
		Expect(EvaluateClause("gone == null", Values{})).To(BeTrue())
		Expect(EvaluateClause("gone == undefined", Values{})).To(BeTrue())
		Expect(EvaluateClause("gone == null", Values{"gone": "x"})).To(BeFalse())
	})

	It("Should support field to field comparisons", func() {
		values := Values{"a": "10", "b": 10, "c": 3}
		Expect(EvaluateClause("a == b", values)).To(BeTrue())
		Expect(EvaluateClause("a > c", values)).To(BeTrue())
		Expect(EvaluateClause("c >= a", values)).To(BeFalse())
	})

	It("Should refuse to order incomparable values", func() {
		Expect(EvaluateClause(`a > 5`, Values{"a": "pear"})).To(BeFalse())
		Expect(EvaluateClause(`a < 5`, Values{"a": "pear"})).To(BeFalse())
		Expect(EvaluateClause(`a >= 5`, Values{})).To(BeFalse())
	})

	It("Should AND clauses within a group and OR groups", func() {
		values := Values{"a": "5", "b": "expert"}

		Expect(EvaluateClause(`a == 5 && b == "expert"`, values)).To(BeTrue())
		Expect(EvaluateClause(`a == 5 && b == "basic"`, values)).To(BeFalse())
		Expect(EvaluateClause(`a == 9 || b == "expert"`, values)).To(BeTrue())
		Expect(EvaluateClause(`a == 9 || b == "basic"`, values)).To(BeFalse())
		Expect(EvaluateClause(`a == 9 && b == "expert" || a == 5`, values)).To(BeTrue())
	})

	It("Should skip empty groups", func() {
		Expect(EvaluateClause(" || a == 5", Values{"a": 5})).To(BeTrue())
		Expect(EvaluateClause(" || ", Values{})).To(BeFalse())
		Expect(EvaluateClause("", Values{})).To(BeFalse())
	})
})

var _ = Describe("ParseFlexibleNumber", func() {
	It("Should accept local numeric forms", func() {
		n, ok := ParseFlexibleNumber("1 250,50")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(1250.50))

		n, ok = ParseFlexibleNumber("15%")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(0.15))

		n, ok = ParseFlexibleNumber(42)
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(42.0))
	})

	It("Should reject non numeric text", func() {
		_, ok := ParseFlexibleNumber("abc")
		Expect(ok).To(BeFalse())

		_, ok = ParseFlexibleNumber("")
		Expect(ok).To(BeFalse())

		_, ok = ParseFlexibleNumber(nil)
		Expect(ok).To(BeFalse())
	})
})
