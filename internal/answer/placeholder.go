// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package answer

import (
	"fmt"
	"strconv"
	"strings"
)

// PlaceholderFunc renders the marker that replaces a citation in the text.
// The result must not contain "[" or "]".
type PlaceholderFunc func(index int, label string) string

// HTMLPlaceholder renders a citation as <sup>N</sup>.
func HTMLPlaceholder(index int, _ string) string {
	return fmt.Sprintf("<sup>%d</sup>", index)
}

// SuperscriptPlaceholder renders a citation with Unicode superscript digits,
// e.g. ⁽¹²⁾. Used where HTML is not rendered.
func SuperscriptPlaceholder(index int, _ string) string {
	var b strings.Builder
	b.WriteRune('⁽')
	for _, d := range strconv.Itoa(index) {
		b.WriteRune(superscriptDigits[d-'0'])
	}
	b.WriteRune('⁾')
	return b.String()
}

var superscriptDigits = [10]rune{'⁰', '¹', '²', '³', '⁴', '⁵', '⁶', '⁷', '⁸', '⁹'}

// PlaceholderByName returns the placeholder for a configured style name.
// Unknown names fall back to HTMLPlaceholder.
func PlaceholderByName(name string) PlaceholderFunc {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "superscript", "unicode", "terminal":
		return SuperscriptPlaceholder
	default:
		return HTMLPlaceholder
	}
}
