// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath     string
	backendKind    string
	providerName   string
	modelName      string
	projectPath    string
	maxIterations  int
	temperature    float32
	timeoutSeconds int
	numSuggestions int
	tacticPrefix   string
	sorryOnFail    bool
	verbose        bool
	jsonLogs       bool
	logDir         string
	metricsAddr    string

	rootCmd = &cobra.Command{
		Use:   "leanagent",
		Short: "LLM-guided proof search for Lean 4",
		Long: `leanagent searches for Lean 4 proof scripts by asking an LLM for
one tactic at a time and verifying each candidate against a Lean
backend (one-shot compiler, persistent REPL, or language server).`,
		SilenceUsage: true,
	}

	proveCmd = &cobra.Command{
		Use:   "prove [theorem]",
		Short: "Search for a proof of the given theorem statement",
		Args:  cobra.ExactArgs(1),
		RunE:  runProve,
	}

	suggestCmd = &cobra.Command{
		Use:   "suggest [theorem]",
		Short: "Rank candidate next tactics for a theorem",
		Long: `Samples several candidate tactics for the theorem's current goal,
verifies each independently, and prints them best-first.`,
		Args: cobra.ExactArgs(1),
		RunE: runSuggest,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [file]",
		Short: "Verify a complete Lean proof script from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runVerify,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVarP(&backendKind, "backend", "b", "", "verification backend: oneshot, repl, or lsp")
	pf.StringVar(&providerName, "provider", "", "LLM provider: ollama or openai")
	pf.StringVarP(&modelName, "model", "m", "", "model name for the selected provider")
	pf.StringVar(&projectPath, "project", "", "Lean project directory for the verifier")
	pf.IntVar(&timeoutSeconds, "timeout", 0, "per-check timeout in seconds")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&jsonLogs, "json-logs", false, "force JSON log output")
	pf.StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address (e.g. :9464)")

	proveCmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "proof search iteration budget")
	proveCmd.Flags().Float32VarP(&temperature, "temperature", "t", -1, "sampling temperature")
	proveCmd.Flags().BoolVar(&sorryOnFail, "sorry-on-fail", true, "emit a sorry-suffixed partial proof on exhaustion")

	suggestCmd.Flags().IntVarP(&numSuggestions, "num", "n", 0, "number of candidate tactics to sample")
	suggestCmd.Flags().Float32VarP(&temperature, "temperature", "t", -1, "base sampling temperature")
	suggestCmd.Flags().StringVar(&tacticPrefix, "prefix", "", "keep only candidates starting with this prefix")

	rootCmd.AddCommand(proveCmd, suggestCmd, verifyCmd)
}
