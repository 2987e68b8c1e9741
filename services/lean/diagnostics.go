// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import "strings"

// Diagnostic sentinels recognized in verifier output.
const (
	// sorrySentinel marks a script accepted only because it uses the
	// explicit incompleteness placeholder.
	sorrySentinel = "declaration uses 'sorry'"

	// unsolvedGoalsSentinel marks a script that verified up to open goals.
	unsolvedGoalsSentinel = "unsolved goals"

	// timeoutMarker is injected by backends when a check exceeds its
	// wall-clock budget. Classified as a hard error, never retried silently.
	timeoutMarker = "verification timed out"

	// proofCompleteState is the State text reported for complete proofs.
	proofCompleteState = "Proof complete"
)

// hardErrorIndicators is the closed set of substrings that mark a genuine
// verifier error. Their presence always wins over incompleteness signals.
var hardErrorIndicators = []string{
	"unknown tactic",
	"unknown identifier",
	"unknown constant",
	"type mismatch",
	"has already been declared",
	"expected type",
	"failed to synthesize",
	"unexpected token",
	timeoutMarker,
}

// Classify parses raw verifier output into a CheckResult.
//
// The precedence is fixed: hard errors beat the sorry sentinel and the
// unsolved-goals signal, both of which beat completion. A diagnostic that
// carries an incompleteness signal with no hard error is a Valid outcome
// whose State is the extracted residual goal; when no goal marker can be
// located the unparsed diagnostic is returned as a degraded best effort and
// callers must tolerate that form.
func Classify(raw *RawResult) CheckResult {
	diag := strings.TrimSpace(raw.Output)
	if diag == "" && raw.Succeeded {
		return CheckResult{Status: StatusProofComplete, State: proofCompleteState}
	}

	lower := strings.ToLower(diag)
	hard := containsAny(lower, hardErrorIndicators)

	switch {
	case hard:
		return CheckResult{Status: StatusInvalid, State: diag, Error: diag}
	case strings.Contains(lower, sorrySentinel), strings.Contains(lower, unsolvedGoalsSentinel):
		return CheckResult{Status: StatusValid, State: ExtractGoalState(diag)}
	case raw.Succeeded:
		// Warnings only.
		return CheckResult{Status: StatusProofComplete, State: proofCompleteState}
	default:
		return CheckResult{Status: StatusInvalid, State: diag, Error: diag}
	}
}

// ExtractGoalState pulls the residual goal text out of a diagnostic.
//
// The goal starts at the first line containing the goal turnstile ("⊢" or
// "|-") or the word "goal". When no marker is found the whole diagnostic is
// returned unchanged; the true grammar of verifier diagnostics is external
// and versioned independently of this package.
func ExtractGoalState(diag string) string {
	lines := strings.Split(diag, "\n")
	for i, line := range lines {
		if strings.Contains(line, "⊢") ||
			strings.Contains(line, "|-") ||
			strings.Contains(strings.ToLower(line), "goal") {
			return strings.Join(lines[i:], "\n")
		}
	}
	return diag
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
