// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import (
	"log/slog"
	"time"
)

// =============================================================================
// BACKEND SELECTION
// =============================================================================

// BackendKind identifies a verification backend variant.
type BackendKind string

const (
	// BackendOneShot spawns a fresh verifier process for every check.
	BackendOneShot BackendKind = "oneshot"

	// BackendRepl keeps one long-lived REPL process and speaks JSON records
	// over its stdin/stdout.
	BackendRepl BackendKind = "repl"

	// BackendLSP keeps one long-lived language server process and speaks the
	// Language Server Protocol over its stdin/stdout.
	BackendLSP BackendKind = "lsp"
)

// BackendConfig configures a verification backend.
//
// Zero values are filled in by defaults: "lean" for the verifier binary,
// "repl" for the REPL binary, and a 30 second per-check timeout.
type BackendConfig struct {
	// Kind selects the backend variant.
	Kind BackendKind

	// LeanCommand is the Lean binary, used by the one-shot and LSP variants.
	LeanCommand string

	// LeanArgs are extra arguments placed before the script path when the
	// one-shot variant invokes the verifier.
	LeanArgs []string

	// ReplCommand is the REPL binary used by the persistent variant.
	ReplCommand string

	// ProjectPath optionally points at a Lean project whose dependencies
	// (e.g. mathlib) the verifier should see. Opaque to this package beyond
	// being used as the working directory of the verifier process.
	ProjectPath string

	// CheckTimeout is the wall-clock budget for a single check.
	CheckTimeout time.Duration

	// MaxOutputBytes caps captured verifier output. Zero means 1 MiB.
	MaxOutputBytes int

	// Logger receives structured logs. Nil means slog.Default().
	Logger *slog.Logger
}

func (c *BackendConfig) applyDefaults() {
	if c.LeanCommand == "" {
		c.LeanCommand = "lean"
	}
	if c.ReplCommand == "" {
		c.ReplCommand = "repl"
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 30 * time.Second
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// =============================================================================
// RESULTS
// =============================================================================

// RawResult is what a backend returns before classification: the combined
// diagnostic text emitted by the verifier and whether the script was accepted
// at the transport level (clean exit, no error-severity diagnostics).
type RawResult struct {
	// Output is the combined diagnostic text, possibly empty.
	Output string

	// Succeeded is true when the verifier reported no error-severity
	// diagnostics. A succeeded result may still carry warnings.
	Succeeded bool

	// TimedOut is true when the check exceeded its wall-clock budget. The
	// timeout marker is also present in Output so classification is uniform.
	TimedOut bool
}

// CheckStatus classifies a verified script.
type CheckStatus int

const (
	// StatusProofComplete means the script verified with no residual goals.
	StatusProofComplete CheckStatus = iota

	// StatusValid means the script verified up to unsolved goals only: the
	// tried tactic is accepted but the proof is not finished.
	StatusValid

	// StatusInvalid means the verifier reported a genuine error and the
	// tried tactic is rejected.
	StatusInvalid
)

// String returns the status name.
func (s CheckStatus) String() string {
	switch s {
	case StatusProofComplete:
		return "ProofComplete"
	case StatusValid:
		return "Valid"
	case StatusInvalid:
		return "Invalid"
	}
	return "Unknown"
}

// CheckResult is the classified outcome of checking one script.
type CheckResult struct {
	// Status is the classification.
	Status CheckStatus

	// Tactic is the candidate that produced this result, when known.
	Tactic string

	// State is the residual goal text for Valid results, the completion
	// sentinel for ProofComplete, or the verbatim diagnostic for Invalid.
	State string

	// Error carries the verbatim diagnostic text for Invalid results.
	Error string
}

// IsValid reports whether the tried tactic was accepted (the proof may or
// may not be finished).
func (r CheckResult) IsValid() bool {
	return r.Status == StatusProofComplete || r.Status == StatusValid
}

// IsProofComplete reports whether the script fully verified.
func (r CheckResult) IsProofComplete() bool {
	return r.Status == StatusProofComplete
}
