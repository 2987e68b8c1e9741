// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/proofcraft/leanagent/pkg/logging"
	"github.com/proofcraft/leanagent/services/agent"
	"github.com/proofcraft/leanagent/services/lean"
	"github.com/proofcraft/leanagent/services/llm"
	"github.com/proofcraft/leanagent/services/telemetry"
)

// setupLogging installs the process-wide slog handler: human-readable text
// on a terminal, JSON otherwise or when forced. Returns the logger and a
// close function for the optional file log.
func setupLogging() (*slog.Logger, func()) {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}

	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "leanagent",
		JSON:    jsonLogs || !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(logger.Slog())
	return logger.Slog(), func() { _ = logger.Close() }
}

// loadConfig layers defaults, environment, the optional config file, and
// command-line flags, then validates the result.
func loadConfig(cmd *cobra.Command) (agent.Config, error) {
	cfg := agent.FromEnv()

	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return cfg, err
		}
	}

	if backendKind != "" {
		cfg.Backend = lean.BackendKind(strings.ToLower(backendKind))
	}
	if providerName != "" {
		cfg.Provider = strings.ToLower(providerName)
	}
	if modelName != "" {
		switch cfg.Provider {
		case "openai":
			cfg.OpenAIModel = modelName
		default:
			cfg.OllamaModel = modelName
		}
	}
	if projectPath != "" {
		cfg.LeanProjectPath = projectPath
	}
	if timeoutSeconds > 0 {
		cfg.Timeout = time.Duration(timeoutSeconds) * time.Second
	}
	if maxIterations > 0 {
		cfg.MaxIterations = maxIterations
	}
	if temperature >= 0 {
		cfg.Temperature = temperature
	}
	if numSuggestions > 0 {
		cfg.NumSuggestions = numSuggestions
	}
	// The flag defaults to true, so only an explicit --sorry-on-fail may
	// override what the environment or config file set.
	if cmd.Flags().Changed("sorry-on-fail") {
		cfg.UseSorryOnExhaustion = sorryOnFail
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newProposer builds the configured LLM client.
func newProposer(cfg agent.Config) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.Timeout)
	case "ollama":
		return llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, cfg.Timeout)
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
}

// setup performs the shared startup sequence and returns a cancelable
// context plus a teardown function.
func setup(logger *slog.Logger) (context.Context, func(), error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	telCfg := telemetry.DefaultConfig()
	if metricsAddr != "" {
		telCfg.MetricExporter = "prometheus"
	}
	shutdown, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	var metricsSrv *http.Server
	if metricsAddr != "" {
		if handler := telemetry.MetricsHandler(); handler != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", handler)
			metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				logger.Info("Serving metrics", "addr", metricsAddr)
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("Metrics server failed", "error", err)
				}
			}()
		}
	}

	teardown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
		stop()
	}
	return ctx, teardown, nil
}

func runProve(cmd *cobra.Command, args []string) error {
	logger, closeLogs := setupLogging()
	defer closeLogs()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, teardown, err := setup(logger)
	if err != nil {
		return err
	}
	defer teardown()

	proposer, err := newProposer(cfg)
	if err != nil {
		return err
	}

	backend, err := lean.NewBackend(ctx, cfg.BackendConfig())
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer backend.Close(context.Background())

	checker := agent.NewTacticChecker(backend, logger)
	controller, err := agent.NewController(checker, proposer, cfg, logger)
	if err != nil {
		return err
	}

	result, err := controller.Prove(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Println(result.Summary())
	if code := result.ProofCode(); code != "" {
		fmt.Println()
		fmt.Println(code)
	}
	if !result.Success {
		return fmt.Errorf("proof not found: %s", result.Error)
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	logger, closeLogs := setupLogging()
	defer closeLogs()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, teardown, err := setup(logger)
	if err != nil {
		return err
	}
	defer teardown()

	proposer, err := newProposer(cfg)
	if err != nil {
		return err
	}

	backend, err := lean.NewBackend(ctx, cfg.BackendConfig())
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer backend.Close(context.Background())

	checker := agent.NewTacticChecker(backend, logger)
	ranker := agent.NewSuggestionRanker(checker, proposer, logger)

	results, err := ranker.Suggest(ctx, args[0], nil, agent.SuggestOptions{
		NumSuggestions: cfg.NumSuggestions,
		Prefix:         tacticPrefix,
		Temperature:    cfg.Temperature,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No viable suggestions.")
		return nil
	}
	for i, res := range results {
		fmt.Printf("%d. [%s] %s\n", i+1, res.Status, res.Tactic)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger, closeLogs := setupLogging()
	defer closeLogs()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var script []byte
	if len(args) == 1 {
		script, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
	} else {
		script, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	ctx, teardown, err := setup(logger)
	if err != nil {
		return err
	}
	defer teardown()

	backend, err := lean.NewBackend(ctx, cfg.BackendConfig())
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer backend.Close(context.Background())

	checker := agent.NewTacticChecker(backend, logger)
	res, err := checker.VerifyScript(ctx, string(script))
	if err != nil {
		return err
	}

	fmt.Printf("Status: %s\n", res.Status)
	if res.State != "" {
		fmt.Println(res.State)
	}
	if !res.IsProofComplete() {
		return fmt.Errorf("script did not fully verify")
	}
	return nil
}
