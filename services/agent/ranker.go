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
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/proofcraft/leanagent/services/lean"
)

// maxSamplingTemperature caps the per-candidate temperature ramp.
const maxSamplingTemperature = 2.0

// SuggestOptions tunes one Suggest call.
type SuggestOptions struct {
	// NumSuggestions is how many candidates to sample. Zero means the
	// configured default.
	NumSuggestions int

	// Prefix, when non-empty, keeps only candidates starting with it.
	Prefix string

	// Temperature is the base sampling temperature; each successive
	// candidate is sampled 0.1 hotter, capped at 2.0, for diversity.
	Temperature float32
}

// SuggestionRanker samples several next-tactic candidates for one goal,
// verifies each independently, and orders them best-first.
//
// Thread Safety: not safe for concurrent use; it shares the controller's
// single-session checker.
type SuggestionRanker struct {
	checker  *TacticChecker
	proposer Proposer
	logger   *slog.Logger
}

// NewSuggestionRanker assembles a ranker from its collaborators.
func NewSuggestionRanker(checker *TacticChecker, proposer Proposer, logger *slog.Logger) *SuggestionRanker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SuggestionRanker{checker: checker, proposer: proposer, logger: logger}
}

// Suggest returns verified candidate tactics for the goal reached after the
// accepted prefix, ordered ProofComplete first, then Valid, then Invalid.
// Within a rank, generation order is preserved. Duplicate candidates and
// candidates failing the prefix filter are dropped; failed proposals are
// logged and skipped. The result may therefore hold fewer entries than
// requested, possibly zero.
func (r *SuggestionRanker) Suggest(ctx context.Context, theorem string, accepted []string, opts SuggestOptions) ([]lean.CheckResult, error) {
	ctx, span := tracer.Start(ctx, "SuggestionRanker.Suggest")
	defer span.End()

	n := opts.NumSuggestions
	if n <= 0 {
		n = 1
	}

	goal, err := r.currentGoal(ctx, theorem, accepted)
	if err != nil {
		return nil, fmt.Errorf("derive current goal: %w", err)
	}

	seen := make(map[string]bool)
	var results []lean.CheckResult
	for i := 0; i < n; i++ {
		temp := opts.Temperature + 0.1*float32(i)
		if temp > maxSamplingTemperature {
			temp = maxSamplingTemperature
		}

		tactic, err := r.proposer.GenerateProofStep(ctx, theorem, goal, temp)
		if err != nil {
			r.logger.Warn("Suggestion proposal failed", "index", i, "error", err)
			continue
		}
		if tactic == "" || seen[tactic] {
			continue
		}
		if opts.Prefix != "" && !strings.HasPrefix(tactic, opts.Prefix) {
			continue
		}
		seen[tactic] = true

		res, err := r.checker.CheckTactic(ctx, theorem, accepted, tactic)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	sortByRank(results)
	return results, nil
}

// currentGoal derives the goal state reached after the accepted prefix. An
// empty prefix needs no verifier round trip.
func (r *SuggestionRanker) currentGoal(ctx context.Context, theorem string, accepted []string) (string, error) {
	if len(accepted) == 0 {
		return initialState(theorem), nil
	}
	res, err := r.checker.CheckTactic(ctx, theorem, accepted[:len(accepted)-1], accepted[len(accepted)-1])
	if err != nil {
		return "", err
	}
	return res.State, nil
}

// sortByRank orders results ProofComplete < Valid < Invalid, stably.
func sortByRank(results []lean.CheckResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Status < results[j].Status
	})
}

// BackendFactory opens a fresh backend session, one per worker.
type BackendFactory func(ctx context.Context) (lean.Backend, error)

// CheckCandidatesParallel verifies candidates across a pool of workers, each
// owning its own backend session, and returns verdicts in input order.
//
// Backends are single-session by contract, so parallelism here comes from
// session multiplicity, never from sharing. The first transport failure
// cancels the remaining work.
func CheckCandidatesParallel(ctx context.Context, factory BackendFactory, theorem string, accepted []string, candidates []string, workers int, logger *slog.Logger) ([]lean.CheckResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	results := make([]lean.CheckResult, len(candidates))
	jobs := make(chan int)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			backend, err := factory(ctx)
			if err != nil {
				return fmt.Errorf("open backend session: %w", err)
			}
			defer backend.Close(context.WithoutCancel(ctx))

			checker := NewTacticChecker(backend, logger)
			for idx := range jobs {
				res, err := checker.CheckTactic(ctx, theorem, accepted, candidates[idx])
				if err != nil {
					return err
				}
				results[idx] = res
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for i := range candidates {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
