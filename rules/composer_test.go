// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Composer", func() {
	var values Values

	BeforeEach(func() {
		values = Values{
			"customer":    "ACME",
			"consumption": 400,
			"price":       &AdvancedSelect{Selection: "calc", NodeID: "n-calc", Extra: "1200"},
		}
	})

	Describe("template mode", func() {
		It("Should render using Go templates with sprig functions", func() {
			c := &Composer{Template: `{{ .values.customer | lower }} uses {{ .values.consumption }} kWh`}
			Expect(c.compile()).ToNot(HaveOccurred())

			out, err := c.Render(values)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal("acme uses 400 kWh"))
		})

		It("Should expand advanced select values into their parts", func() {
			c := &Composer{Template: `{{ .values.price.selection }}:{{ .values.price.extra }}`}
			Expect(c.compile()).ToNot(HaveOccurred())

			out, err := c.Render(values)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal("calc:1200"))
		})

		It("Should render using the jet engine", func() {
			c := &Composer{Engine: JetEngine, Template: `{{ values["customer"] }} ({{ values["price"]["nodeId"] }})`}
			Expect(c.compile()).ToNot(HaveOccurred())

			out, err := c.Render(values)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal("ACME (n-calc)"))
		})

		It("Should fail to render invalid templates", func() {
			c := &Composer{Template: `{{ .values.customer`}
			Expect(c.compile()).ToNot(HaveOccurred())

			_, err := c.Render(values)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("picks mode", func() {
		It("Should extract named values into a map", func() {
			c := &Composer{Mode: PicksMode, Picks: []Pick{
				{Key: "who", FieldID: "customer"},
				{Key: "usage", FieldID: "consumption"},
			}}
			Expect(c.compile()).ToNot(HaveOccurred())

			out, err := c.Render(values)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal(map[string]any{"who": "ACME", "usage": 400}))
		})

		It("Should extract parts of advanced select values", func() {
			c := &Composer{Mode: PicksMode, Picks: []Pick{
				{Key: "mode", FieldID: "price", From: "advancedSelect"},
				{Key: "yearly", FieldID: "price", From: "advancedSelect", Path: "extra"},
			}}
			Expect(c.compile()).ToNot(HaveOccurred())

			out, err := c.Render(values)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal(map[string]any{"mode": "calc", "yearly": "1200"}))
		})

		It("Should skip picks without a key or field", func() {
			c := &Composer{Mode: PicksMode, Picks: []Pick{
				{Key: "", FieldID: "customer"},
				{Key: "who", FieldID: ""},
			}}
			Expect(c.compile()).ToNot(HaveOccurred())

			out, err := c.Render(values)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal(map[string]any{}))
		})
	})

	Describe("compile", func() {
		It("Should default the mode and engine", func() {
			c := &Composer{Template: "x"}
			Expect(c.compile()).ToNot(HaveOccurred())
			Expect(c.Mode).To(Equal(TemplateMode))
			Expect(c.Engine).To(Equal(GoEngine))
		})

		It("Should reject unknown modes, engines and empty templates", func() {
			Expect((&Composer{Mode: "sql"}).compile()).To(MatchError("unknown composer mode \"sql\""))
			Expect((&Composer{Template: "x", Engine: "mustache"}).compile()).To(MatchError("unknown composer engine \"mustache\""))
			Expect((&Composer{}).compile()).To(MatchError("composer in template mode without a template"))
		})
	})
})
