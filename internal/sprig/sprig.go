// Copyright (c) 2025-2026, the Quotient CRM contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package sprig wraps the sprig template function map, replacing the random
// and uuid helpers with cryptographically secure implementations.
package sprig

import (
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// TxtFuncMap returns the sprig text-template function map with secure
// overrides applied.
func TxtFuncMap() template.FuncMap {
	funcs := sprig.TxtFuncMap()

	funcs["randBytes"] = randBytes
	funcs["uuidv4"] = uuidv4

	return funcs
}
