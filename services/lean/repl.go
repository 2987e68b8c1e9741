// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// WIRE RECORDS
// =============================================================================

// replRequest is one serialized command to the REPL. Env carries the
// environment handle of a previous command, or nil for a fresh environment.
type replRequest struct {
	Cmd string `json:"cmd"`
	Env *int   `json:"env,omitempty"`
}

// replMessage is one diagnostic entry in a REPL response.
type replMessage struct {
	Severity string `json:"severity"`
	Data     string `json:"data"`
}

// replSorry is one admitted hole reported by the REPL.
type replSorry struct {
	Goal string `json:"goal"`
}

// replResponse is the structured record the REPL emits after each command.
type replResponse struct {
	Env      *int          `json:"env"`
	Messages []replMessage `json:"messages"`
	Sorries  []replSorry   `json:"sorries"`
	Goals    []string      `json:"goals"`

	// Message is set when the REPL itself rejects the command.
	Message string `json:"message"`
}

// =============================================================================
// BACKEND
// =============================================================================

// replBackend owns a single long-lived REPL process and exchanges
// blank-line-terminated JSON records over its stdin/stdout.
//
// The backend tracks the environment handle the REPL issues after each
// command. ResetEnv clears it so the next check verifies against a fresh
// environment; without the reset, reverifying the same theorem name fails
// with "has already been declared".
type replBackend struct {
	cfg    BackendConfig
	logger *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	env   *int
	envMu sync.Mutex

	// mu serializes whole command/response transactions.
	mu sync.Mutex

	respCh   chan json.RawMessage
	procWait chan error

	cancel    context.CancelFunc
	closed    bool
	closeOnce sync.Once
}

func newReplBackend(ctx context.Context, cfg BackendConfig) (*replBackend, error) {
	path, err := exec.LookPath(cfg.ReplCommand)
	if err != nil {
		recordBackendSpawn(ctx, string(BackendRepl), false)
		return nil, fmt.Errorf("%w: %s", ErrVerifierNotFound, cfg.ReplCommand)
	}

	// The process outlives the construction context.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, path)
	if cfg.ProjectPath != "" {
		cmd.Dir = cfg.ProjectPath
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		recordBackendSpawn(ctx, string(BackendRepl), false)
		return nil, fmt.Errorf("%w: start %s: %v", ErrVerifierNotFound, path, err)
	}

	b := &replBackend{
		cfg:      cfg,
		logger:   cfg.Logger,
		cmd:      cmd,
		stdin:    stdin,
		respCh:   make(chan json.RawMessage, 4),
		procWait: make(chan error, 1),
		cancel:   cancel,
	}
	go b.readLoop(stdout)
	go func() { b.procWait <- cmd.Wait() }()

	cfg.Logger.Info("Lean REPL started",
		slog.String("binary", path),
		slog.String("project_path", cfg.ProjectPath),
		slog.Int("pid", cmd.Process.Pid),
	)
	recordBackendSpawn(ctx, string(BackendRepl), true)
	return b, nil
}

// readLoop accumulates stdout into blank-line-terminated JSON records.
// Closes respCh when the pipe closes, which is how process death surfaces
// to a waiting Check.
func (b *replBackend) readLoop(stdout io.Reader) {
	defer close(b.respCh)

	r := bufio.NewReader(stdout)
	var record strings.Builder
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			if strings.TrimSpace(line) == "" {
				if record.Len() > 0 {
					b.respCh <- json.RawMessage(record.String())
					record.Reset()
				}
			} else {
				record.WriteString(line)
			}
		}
		if err != nil {
			if record.Len() > 0 {
				b.respCh <- json.RawMessage(record.String())
			}
			return
		}
	}
}

// Check serializes one command, waits for the matching record, and flattens
// it into diagnostic text.
//
// Failure modes are kept distinct: a malformed record returns
// ErrMalformedResponse with the session left usable, while a dead process
// returns ErrReplCrashed so the owner can construct a fresh session. A
// timeout is reported inside the RawResult, never retried.
func (b *replBackend) Check(ctx context.Context, script string) (*RawResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	ctx, span := startCheckSpan(ctx, string(BackendRepl))
	defer span.End()
	start := time.Now()

	// Drop any stale record left behind by an earlier timeout so this
	// command pairs with its own response.
drain:
	for {
		select {
		case _, ok := <-b.respCh:
			if !ok {
				return nil, fmt.Errorf("%w: output channel closed", ErrReplCrashed)
			}
		default:
			break drain
		}
	}

	b.envMu.Lock()
	req := replRequest{Cmd: script, Env: b.env}
	b.envMu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	if _, err := b.stdin.Write(append(payload, '\n', '\n')); err != nil {
		if b.processExited() {
			return nil, fmt.Errorf("%w: %v", ErrReplCrashed, err)
		}
		return nil, fmt.Errorf("write command: %w", err)
	}

	timer := time.NewTimer(b.cfg.CheckTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		b.logger.Warn("REPL check timed out",
			slog.Duration("timeout", b.cfg.CheckTimeout),
		)
		res := &RawResult{
			Output:   fmt.Sprintf("error: %s after %s", timeoutMarker, b.cfg.CheckTimeout),
			TimedOut: true,
		}
		recordCheckMetrics(ctx, string(BackendRepl), time.Since(start), res)
		return res, nil
	case blob, ok := <-b.respCh:
		if !ok {
			return nil, fmt.Errorf("%w: output channel closed", ErrReplCrashed)
		}

		var resp replResponse
		if err := json.Unmarshal(blob, &resp); err != nil {
			b.logger.Error("Unreadable REPL record",
				slog.String("error", err.Error()),
				slog.Int("record_bytes", len(blob)),
			)
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}

		b.envMu.Lock()
		if resp.Env != nil {
			b.env = resp.Env
		}
		b.envMu.Unlock()

		res := flattenReplResponse(&resp)
		duration := time.Since(start)
		b.logger.Debug("REPL check finished",
			slog.Bool("succeeded", res.Succeeded),
			slog.Duration("duration", duration),
		)
		recordCheckMetrics(ctx, string(BackendRepl), duration, res)
		return res, nil
	}
}

// flattenReplResponse turns a structured REPL record into the combined
// diagnostic text the classifier understands.
func flattenReplResponse(resp *replResponse) *RawResult {
	var sb strings.Builder
	hasError := false

	if resp.Message != "" {
		hasError = true
		sb.WriteString(resp.Message)
		sb.WriteString("\n")
	}
	for _, m := range resp.Messages {
		if m.Severity == "error" {
			hasError = true
		}
		if m.Severity == "error" || m.Severity == "warning" {
			sb.WriteString(m.Data)
			sb.WriteString("\n")
		}
	}
	if len(resp.Sorries) > 0 {
		sb.WriteString(sorrySentinel)
		sb.WriteString("\n")
	}
	if len(resp.Goals) > 0 && !hasError {
		sb.WriteString(unsolvedGoalsSentinel)
		sb.WriteString("\n")
		for _, g := range resp.Goals {
			sb.WriteString(g)
			sb.WriteString("\n")
		}
	}

	return &RawResult{
		Output:    strings.TrimRight(sb.String(), "\n"),
		Succeeded: !hasError,
	}
}

// ResetEnv clears the environment handle so the next command is verified
// against a fresh environment.
func (b *replBackend) ResetEnv() {
	b.envMu.Lock()
	b.env = nil
	b.envMu.Unlock()
}

func (b *replBackend) processExited() bool {
	select {
	case <-b.procWait:
		return true
	default:
		return b.cmd.ProcessState != nil
	}
}

// Close terminates the REPL process. Idempotent.
func (b *replBackend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.logger.Info("Stopping Lean REPL")
		_ = b.stdin.Close()

		select {
		case <-b.procWait:
		case <-time.After(2 * time.Second):
			b.cancel()
		case <-ctx.Done():
			b.cancel()
		}
		b.cancel()
	})
	return nil
}
