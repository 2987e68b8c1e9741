// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent drives LLM-guided proof search over the Lean verification
// transport.
//
// The Controller runs the incremental search loop: ask the proposer for one
// candidate tactic, verify it against the accepted prefix, and either extend
// the proof or retry the same goal, within an iteration budget. The
// SuggestionRanker is the batch variant: N candidates for one goal, checked
// independently and ordered by outcome.
//
// Thread Safety:
//
//	A Controller exclusively owns its TacticChecker and, through it, one
//	backend session. Run concurrent proof attempts on separate instances.
package agent

import (
	"fmt"
	"strings"

	"github.com/proofcraft/leanagent/services/lean"
)

// SearchState is the controller's state machine position.
type SearchState string

const (
	// StateSearching means the loop is still probing candidates.
	StateSearching SearchState = "SEARCHING"

	// StateSucceeded means a candidate completed the proof. Terminal.
	StateSucceeded SearchState = "SUCCEEDED"

	// StateFailed means the iteration budget ran out. Terminal.
	StateFailed SearchState = "FAILED"
)

// ProofStep records one attempted proof step and its verdict.
type ProofStep struct {
	// Tactic is the candidate text. Empty when the proposer call itself
	// failed for this iteration.
	Tactic string

	// State is the resulting goal text, the completion sentinel, or the
	// diagnostic/error text for rejected steps.
	State string

	// Success is true when the tactic was accepted.
	Success bool

	// Complete is true when this tactic finished the proof.
	Complete bool
}

// ProofResult is the terminal, immutable record of one proof attempt.
type ProofResult struct {
	// Success is true when the proof was completed within budget.
	Success bool

	// Theorem is the statement that was attempted, as supplied.
	Theorem string

	// Steps are all attempted steps with their diagnostics, in order.
	Steps []ProofStep

	// CompleteProof is the verified script when Success is true.
	CompleteProof string

	// PartialProof is a best-effort script of the accepted steps with an
	// explicit incompleteness placeholder appended. Only set when the
	// budget was exhausted and the placeholder option is enabled; it is
	// not a verified proof.
	PartialProof string

	// Error describes why the attempt failed, if it did.
	Error string

	// Iterations is the number of loop iterations consumed.
	Iterations int

	// ValidSteps is the number of accepted steps.
	ValidSteps int
}

// ValidTactics returns the accepted tactics in order.
func (r *ProofResult) ValidTactics() []string {
	var tactics []string
	for _, s := range r.Steps {
		if s.Success {
			tactics = append(tactics, s.Tactic)
		}
	}
	return tactics
}

// ProofCode returns the best available script: the complete proof, the
// placeholder-suffixed partial proof, or a rebuild from the accepted steps.
func (r *ProofResult) ProofCode() string {
	if r.CompleteProof != "" {
		return r.CompleteProof
	}
	if r.PartialProof != "" {
		return r.PartialProof
	}
	return lean.BuildScript(r.Theorem, r.ValidTactics())
}

// HasSorry reports whether the reported script leans on the incompleteness
// placeholder.
func (r *ProofResult) HasSorry() bool {
	return strings.Contains(r.ProofCode(), lean.SorryTactic)
}

// Summary renders a human-readable account of the attempt: iteration count,
// accepted-step count, and the first rejected tactic with its diagnostic.
func (r *ProofResult) Summary() string {
	if r.Success {
		return fmt.Sprintf("Proof completed in %d iterations with %d accepted steps.", r.Iterations, r.ValidSteps)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Proof failed after %d iterations.\n", r.Iterations)
	fmt.Fprintf(&b, "Accepted steps: %d of %d attempted.\n", r.ValidSteps, len(r.Steps))

	for i, s := range r.Steps {
		if !s.Success {
			fmt.Fprintf(&b, "First rejected step at position %d:\n", i+1)
			fmt.Fprintf(&b, "  Tactic: %s\n", s.Tactic)
			if s.State != "" {
				fmt.Fprintf(&b, "  Diagnostic: %s\n", s.State)
			}
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
