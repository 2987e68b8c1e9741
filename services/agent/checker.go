// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"log/slog"

	"github.com/proofcraft/leanagent/services/lean"
)

// TacticChecker verifies candidate tactics against an accepted proof
// prefix through a single backend session.
//
// Description:
//
//	Every check rebuilds the full script from the theorem, the accepted
//	tactics, and the candidate, then verifies it from a clean slate.
//	The environment handle is reset before each check so that stateful
//	backends re-elaborate the declaration instead of rejecting it as a
//	duplicate.
//
// Thread Safety:
//
//	Not safe for concurrent use. One TacticChecker owns one backend
//	session; give each worker its own.
type TacticChecker struct {
	backend lean.Backend
	logger  *slog.Logger
}

// NewTacticChecker wraps an open backend session.
func NewTacticChecker(backend lean.Backend, logger *slog.Logger) *TacticChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TacticChecker{backend: backend, logger: logger}
}

// CheckTactic verifies one candidate appended to the accepted prefix.
//
// The returned CheckResult carries the classification verdict; a non-nil
// error means the transport itself failed and the verdict is meaningless.
func (c *TacticChecker) CheckTactic(ctx context.Context, theorem string, accepted []string, candidate string) (lean.CheckResult, error) {
	tactics := make([]string, 0, len(accepted)+1)
	tactics = append(tactics, accepted...)
	tactics = append(tactics, candidate)
	script := lean.BuildScript(theorem, tactics)

	c.backend.ResetEnv()
	raw, err := c.backend.Check(ctx, script)
	if err != nil {
		c.logger.Error("Tactic check transport failure", "tactic", candidate, "error", err)
		return lean.CheckResult{}, err
	}

	result := lean.Classify(raw)
	result.Tactic = candidate
	c.logger.Debug("Tactic checked",
		"tactic", candidate,
		"status", result.Status.String(),
		"accepted_steps", len(accepted))
	return result, nil
}

// CheckBatch verifies each candidate independently against the same
// accepted prefix and returns one verdict per candidate, in input order.
// Candidates never see each other's effects. A transport failure aborts
// the batch.
func (c *TacticChecker) CheckBatch(ctx context.Context, theorem string, accepted []string, candidates []string) ([]lean.CheckResult, error) {
	results := make([]lean.CheckResult, 0, len(candidates))
	for _, candidate := range candidates {
		res, err := c.CheckTactic(ctx, theorem, accepted, candidate)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// VerifyScript classifies a complete proof script as-is, without any
// script construction. Used for final whole-proof confirmation.
func (c *TacticChecker) VerifyScript(ctx context.Context, script string) (lean.CheckResult, error) {
	c.backend.ResetEnv()
	raw, err := c.backend.Check(ctx, script)
	if err != nil {
		return lean.CheckResult{}, err
	}
	return lean.Classify(raw), nil
}
