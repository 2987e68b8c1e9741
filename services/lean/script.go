// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import "strings"

// SorryTactic is the explicit incompleteness placeholder: appending it makes
// an otherwise-unsolved script accepted by the verifier while the verifier
// flags the declaration as unfinished.
const SorryTactic = "sorry"

// declKeywords are the declaration headers a theorem statement may already
// carry. Anything else is wrapped with a generated "theorem" header.
var declKeywords = []string{"theorem", "lemma", "example"}

// BuildScript renders a complete verifiable Lean script from a theorem
// statement and an ordered tactic list.
//
// Pure and deterministic: identical inputs always produce identical output.
// The theorem text is never mutated; if it does not start with a declaration
// keyword it is wrapped as "theorem <text>". Each tactic becomes one
// two-space-indented line, in order.
func BuildScript(theorem string, tactics []string) string {
	header := strings.TrimSpace(theorem)
	if !startsWithDecl(header) {
		header = "theorem " + header
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString(" := by\n")
	for _, tactic := range tactics {
		b.WriteString("  ")
		b.WriteString(tactic)
		b.WriteString("\n")
	}
	return b.String()
}

func startsWithDecl(s string) bool {
	for _, kw := range declKeywords {
		if strings.HasPrefix(s, kw+" ") || s == kw {
			return true
		}
	}
	return false
}
