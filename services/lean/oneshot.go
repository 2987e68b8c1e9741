// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// oneShotBackend verifies each script with a fresh verifier process.
//
// No state survives between checks, so ResetEnv is a no-op and repeated
// verification of the same theorem name can never collide.
type oneShotBackend struct {
	cfg     BackendConfig
	binPath string
	logger  *slog.Logger

	closed    bool
	closeOnce sync.Once
}

func newOneShotBackend(cfg BackendConfig) (*oneShotBackend, error) {
	path, err := exec.LookPath(cfg.LeanCommand)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVerifierNotFound, cfg.LeanCommand)
	}
	cfg.Logger.Debug("One-shot verifier backend ready",
		slog.String("binary", path),
		slog.String("project_path", cfg.ProjectPath),
	)
	return &oneShotBackend{cfg: cfg, binPath: path, logger: cfg.Logger}, nil
}

// Check writes the script to a throwaway file and runs the verifier on it.
//
// A timeout is reported inside the RawResult with the timeout marker so it
// classifies as Invalid for this candidate; it is never silently retried.
// Launch failures are returned as errors, distinct from verification output.
func (b *oneShotBackend) Check(ctx context.Context, script string) (*RawResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if b.closed {
		return nil, ErrBackendClosed
	}

	ctx, span := startCheckSpan(ctx, string(BackendOneShot))
	defer span.End()
	start := time.Now()

	f, err := os.CreateTemp("", "leanagent-*.lean")
	if err != nil {
		return nil, fmt.Errorf("create script file: %w", err)
	}
	scriptPath := f.Name()
	defer os.Remove(scriptPath)

	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return nil, fmt.Errorf("write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close script file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.CheckTimeout)
	defer cancel()

	args := append(append([]string{}, b.cfg.LeanArgs...), scriptPath)
	cmd := exec.CommandContext(runCtx, b.binPath, args...)
	// The context kill reaches only the direct child; worker processes it
	// spawned can keep the output pipes open past the deadline. WaitDelay
	// forces Run to return instead of blocking on them.
	cmd.WaitDelay = time.Second
	if b.cfg.ProjectPath != "" {
		cmd.Dir = b.cfg.ProjectPath
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: b.cfg.MaxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: b.cfg.MaxOutputBytes}

	runErr := cmd.Run()
	output := stdout.String() + stderr.String()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		b.logger.Warn("Verification timed out",
			slog.Duration("timeout", b.cfg.CheckTimeout),
		)
		res := &RawResult{
			Output:   fmt.Sprintf("error: %s after %s", timeoutMarker, b.cfg.CheckTimeout),
			TimedOut: true,
		}
		recordCheckMetrics(ctx, string(BackendOneShot), duration, res)
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("launch verifier: %w", runErr)
		}
	}

	res := &RawResult{
		Output:    output,
		Succeeded: cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == 0,
	}

	b.logger.Debug("One-shot check finished",
		slog.Bool("succeeded", res.Succeeded),
		slog.Duration("duration", duration),
		slog.Int("output_bytes", len(output)),
	)
	recordCheckMetrics(ctx, string(BackendOneShot), duration, res)
	return res, nil
}

// ResetEnv is a no-op: every check already starts from a fresh process.
func (b *oneShotBackend) ResetEnv() {}

// Close marks the backend closed. Idempotent; there is no process to stop.
func (b *oneShotBackend) Close(context.Context) error {
	b.closeOnce.Do(func() { b.closed = true })
	return nil
}

// limitedWriter wraps a writer with a size limit, silently discarding the
// tail once the limit is reached.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	// Report the full input length even when truncating, or the producer's
	// io.Copy treats the capped write as a short-write failure.
	total := len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return total, nil
	}
	if lw.written+len(p) > lw.limit {
		p = p[:lw.limit-lw.written]
		lw.truncated = true
	}
	n, err := lw.w.Write(p)
	lw.written += n
	if err != nil {
		return n, err
	}
	return total, nil
}
