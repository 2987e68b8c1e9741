// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/proofcraft/leanagent/services/lean"
)

var tracer = otel.Tracer("leanagent.agent")

// Proposer supplies one candidate tactic per call. llm.Client satisfies it.
type Proposer interface {
	GenerateProofStep(ctx context.Context, theorem, goalState string, temperature float32) (string, error)
}

// Controller runs the incremental proof-search loop for one theorem at a
// time.
//
// Description:
//
//	Each iteration asks the proposer for a tactic against the current goal
//	state and verifies it appended to the accepted prefix. Accepted tactics
//	extend the prefix and advance the goal; rejected ones leave both
//	untouched so the next proposal retries the same goal. The loop ends on
//	proof completion, budget exhaustion, or context cancellation.
//
// Thread Safety:
//
//	Not safe for concurrent use; one Controller per proof attempt.
type Controller struct {
	checker  *TacticChecker
	proposer Proposer
	cfg      Config
	logger   *slog.Logger
}

// NewController assembles a controller from its collaborators.
func NewController(checker *TacticChecker, proposer Proposer, cfg Config, logger *slog.Logger) (*Controller, error) {
	if checker == nil {
		return nil, fmt.Errorf("nil tactic checker")
	}
	if proposer == nil {
		return nil, fmt.Errorf("nil proposer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{checker: checker, proposer: proposer, cfg: cfg, logger: logger}, nil
}

// initialState is what the proposer sees before any tactic is accepted.
func initialState(theorem string) string {
	return "Goal: " + theorem
}

// Prove searches for a proof of theorem within the configured iteration
// budget and returns the terminal record of the attempt.
//
// A non-nil error is returned only for context cancellation; proposer
// failures and verifier rejections are recorded as steps and the search
// continues.
func (c *Controller) Prove(ctx context.Context, theorem string) (*ProofResult, error) {
	ctx, span := tracer.Start(ctx, "Controller.Prove")
	defer span.End()
	span.SetAttributes(
		attribute.String("proof.theorem", theorem),
		attribute.Int("proof.max_iterations", c.cfg.MaxIterations),
	)

	result := &ProofResult{Theorem: theorem}
	state := StateSearching
	goal := initialState(theorem)
	var accepted []string

	c.logger.Info("Starting proof search",
		"theorem", theorem,
		"max_iterations", c.cfg.MaxIterations,
		"backend", string(c.cfg.Backend))

	for i := 0; i < c.cfg.MaxIterations && state == StateSearching; i++ {
		if err := ctx.Err(); err != nil {
			result.Iterations = i
			result.ValidSteps = len(accepted)
			result.Error = fmt.Sprintf("proof search aborted: %v", err)
			span.SetAttributes(attribute.String("proof.outcome", "aborted"))
			return result, err
		}
		result.Iterations = i + 1

		tactic, err := c.proposer.GenerateProofStep(ctx, theorem, goal, c.cfg.Temperature)
		if err != nil {
			c.logger.Warn("Proposal failed, skipping iteration", "iteration", i+1, "error", err)
			result.Steps = append(result.Steps, ProofStep{State: err.Error()})
			continue
		}
		if tactic == "" {
			c.logger.Warn("Proposer returned empty tactic", "iteration", i+1)
			result.Steps = append(result.Steps, ProofStep{State: "empty proposal"})
			continue
		}

		res, err := c.checker.CheckTactic(ctx, theorem, accepted, tactic)
		if err != nil {
			c.logger.Warn("Verification transport failed, skipping iteration",
				"iteration", i+1, "tactic", tactic, "error", err)
			result.Steps = append(result.Steps, ProofStep{Tactic: tactic, State: err.Error()})
			continue
		}

		switch res.Status {
		case lean.StatusProofComplete:
			accepted = append(accepted, tactic)
			result.Steps = append(result.Steps, ProofStep{
				Tactic:   tactic,
				State:    res.State,
				Success:  true,
				Complete: true,
			})
			state = StateSucceeded

		case lean.StatusValid:
			accepted = append(accepted, tactic)
			goal = res.State
			result.Steps = append(result.Steps, ProofStep{Tactic: tactic, State: res.State, Success: true})
			c.logger.Info("Tactic accepted", "iteration", i+1, "tactic", tactic)

		case lean.StatusInvalid:
			result.Steps = append(result.Steps, ProofStep{Tactic: tactic, State: res.State})
			c.logger.Info("Tactic rejected", "iteration", i+1, "tactic", tactic)
		}
	}

	result.ValidSteps = len(accepted)

	if state == StateSucceeded {
		result.Success = true
		result.CompleteProof = lean.BuildScript(theorem, accepted)
		span.SetAttributes(
			attribute.String("proof.outcome", "succeeded"),
			attribute.Int("proof.iterations", result.Iterations),
		)
		c.logger.Info("Proof completed",
			"theorem", theorem,
			"iterations", result.Iterations,
			"valid_steps", result.ValidSteps)
		return result, nil
	}

	result.Error = fmt.Sprintf("max iterations (%d) reached without completing the proof", c.cfg.MaxIterations)
	if c.cfg.UseSorryOnExhaustion {
		result.PartialProof = lean.BuildScript(theorem, append(accepted, lean.SorryTactic))
	}
	span.SetAttributes(
		attribute.String("proof.outcome", "failed"),
		attribute.Int("proof.iterations", result.Iterations),
	)
	c.logger.Info("Proof search exhausted",
		"theorem", theorem,
		"iterations", result.Iterations,
		"valid_steps", result.ValidSteps)
	return result, nil
}
