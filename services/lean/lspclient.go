// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// anyText is a string that tolerates non-string JSON payloads by coercing
// them to text at the unmarshal boundary. Diagnostic message shapes vary
// across server versions; heterogeneous payloads are normal, not an error.
type anyText string

func (t *anyText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = anyText(s)
		return nil
	}
	*t = anyText(string(data))
	return nil
}

const severityError = 1

// lspDiagnostic is one entry in a publishDiagnostics notification.
type lspDiagnostic struct {
	Severity int     `json:"severity"`
	Message  anyText `json:"message"`
}

type publishDiagnosticsParams struct {
	URI         string          `json:"uri"`
	Diagnostics []lspDiagnostic `json:"diagnostics"`
}

type fileProgressParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	Processing []json.RawMessage `json:"processing"`
}

type textDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

// =============================================================================
// DOCUMENT WATCH
// =============================================================================

// docWatch accumulates diagnostics for one virtual document while a check
// awaits them.
type docWatch struct {
	mu    sync.Mutex
	diags []lspDiagnostic
	done  bool
	event chan struct{}
}

func newDocWatch() *docWatch {
	return &docWatch{event: make(chan struct{}, 1)}
}

func (w *docWatch) publish(diags []lspDiagnostic) {
	w.mu.Lock()
	w.diags = diags
	w.mu.Unlock()
	w.signal()
}

func (w *docWatch) markDone() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
	w.signal()
}

func (w *docWatch) signal() {
	select {
	case w.event <- struct{}{}:
	default:
	}
}

func (w *docWatch) snapshot() ([]lspDiagnostic, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.diags, w.done
}

// =============================================================================
// BACKEND
// =============================================================================

// lspBackend owns a single `lean --server` process and verifies scripts by
// publishing them as uniquely-named virtual documents, then awaiting the
// server's diagnostic notifications.
type lspBackend struct {
	cfg    BackendConfig
	logger *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser
	conn  *rpcConn

	watches  map[string]*docWatch
	watchMu  sync.Mutex
	cancel   context.CancelFunc
	readDone chan struct{}

	closed    bool
	closeMu   sync.Mutex
	closeOnce sync.Once
}

func newLSPBackend(ctx context.Context, cfg BackendConfig) (*lspBackend, error) {
	path, err := exec.LookPath(cfg.LeanCommand)
	if err != nil {
		recordBackendSpawn(ctx, string(BackendLSP), false)
		return nil, fmt.Errorf("%w: %s", ErrVerifierNotFound, cfg.LeanCommand)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, path, "--server")
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
		recordBackendSpawn(ctx, string(BackendLSP), false)
		return nil, fmt.Errorf("%w: start %s: %v", ErrVerifierNotFound, path, err)
	}

	b := &lspBackend{
		cfg:      cfg,
		logger:   cfg.Logger,
		cmd:      cmd,
		stdin:    stdin,
		watches:  make(map[string]*docWatch),
		cancel:   cancel,
		readDone: make(chan struct{}),
	}
	b.conn = newRPCConn(stdout, stdin, b.handleNotification)

	go func() {
		defer close(b.readDone)
		_ = b.conn.readLoop(procCtx)
	}()

	if err := b.initialize(ctx); err != nil {
		_ = b.Close(context.Background())
		recordBackendSpawn(ctx, string(BackendLSP), false)
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	cfg.Logger.Info("Lean language server ready",
		slog.String("binary", path),
		slog.String("project_path", cfg.ProjectPath),
	)
	recordBackendSpawn(ctx, string(BackendLSP), true)
	return b, nil
}

func (b *lspBackend) initialize(ctx context.Context) error {
	rootURI := interface{}(nil)
	if b.cfg.ProjectPath != "" {
		rootURI = "file://" + b.cfg.ProjectPath
	}
	params := map[string]interface{}{
		"processId": os.Getpid(),
		"rootUri":   rootURI,
		"capabilities": map[string]interface{}{
			"textDocument": map[string]interface{}{
				"publishDiagnostics": map[string]interface{}{},
			},
		},
	}

	initCtx, cancel := context.WithTimeout(ctx, b.cfg.CheckTimeout)
	defer cancel()

	if _, err := b.conn.call(initCtx, "initialize", params); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}
	if err := b.conn.notify("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// handleNotification routes server notifications to the watch for the
// document they concern.
func (b *lspBackend) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "textDocument/publishDiagnostics":
		var p publishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			b.logger.Debug("Unreadable diagnostics payload", slog.String("error", err.Error()))
			return
		}
		if w := b.watch(p.URI); w != nil {
			w.publish(p.Diagnostics)
		}
	case "$/lean/fileProgress":
		var p fileProgressParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		if len(p.Processing) == 0 {
			if w := b.watch(p.TextDocument.URI); w != nil {
				w.markDone()
			}
		}
	}
}

func (b *lspBackend) watch(uri string) *docWatch {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	return b.watches[uri]
}

// Check publishes the script as a fresh virtual document, awaits the
// server's diagnostics, and closes the document on every exit path.
func (b *lspBackend) Check(ctx context.Context, script string) (*RawResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	b.closeMu.Lock()
	closed := b.closed
	b.closeMu.Unlock()
	if closed {
		return nil, ErrBackendClosed
	}

	ctx, span := startCheckSpan(ctx, string(BackendLSP))
	defer span.End()
	start := time.Now()

	uri := fmt.Sprintf("file:///virtual/proof_%s.lean", uuid.NewString())
	w := newDocWatch()
	b.watchMu.Lock()
	b.watches[uri] = w
	b.watchMu.Unlock()

	defer func() {
		_ = b.conn.notify("textDocument/didClose", map[string]interface{}{
			"textDocument": textDocumentIdentifier{URI: uri},
		})
		b.watchMu.Lock()
		delete(b.watches, uri)
		b.watchMu.Unlock()
	}()

	err := b.conn.notify("textDocument/didOpen", map[string]interface{}{
		"textDocument": textDocumentItem{
			URI:        uri,
			LanguageID: "lean4",
			Version:    1,
			Text:       script,
		},
	})
	if err != nil {
		if b.cmd.ProcessState != nil {
			return nil, fmt.Errorf("%w: %v", ErrServerCrashed, err)
		}
		return nil, fmt.Errorf("publish document: %w", err)
	}

	diags, timedOut, err := b.awaitDiagnostics(ctx, w)
	if err != nil {
		return nil, err
	}

	duration := time.Since(start)
	if timedOut {
		b.logger.Warn("Timed out waiting for diagnostics",
			slog.Duration("timeout", b.cfg.CheckTimeout),
		)
		res := &RawResult{
			Output:   fmt.Sprintf("error: %s after %s", timeoutMarker, b.cfg.CheckTimeout),
			TimedOut: true,
		}
		recordCheckMetrics(ctx, string(BackendLSP), duration, res)
		return res, nil
	}

	res := aggregateDiagnostics(diags)
	b.logger.Debug("LSP check finished",
		slog.Bool("succeeded", res.Succeeded),
		slog.Int("diagnostics", len(diags)),
		slog.Duration("duration", duration),
	)
	recordCheckMetrics(ctx, string(BackendLSP), duration, res)
	return res, nil
}

// awaitDiagnostics blocks until the server reports the document processed,
// diagnostics go quiet, or the check budget runs out.
func (b *lspBackend) awaitDiagnostics(ctx context.Context, w *docWatch) ([]lspDiagnostic, bool, error) {
	deadline := time.NewTimer(b.cfg.CheckTimeout)
	defer deadline.Stop()

	// Servers publish progressively; after the first batch, a short quiet
	// period means the document settled even without a progress signal.
	const quiescence = 500 * time.Millisecond
	var quiet *time.Timer
	defer func() {
		if quiet != nil {
			quiet.Stop()
		}
	}()

	sawEvent := false
	for {
		var quietC <-chan time.Time
		if quiet != nil {
			quietC = quiet.C
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-deadline.C:
			if sawEvent {
				diags, _ := w.snapshot()
				return diags, false, nil
			}
			return nil, true, nil
		case <-quietC:
			diags, _ := w.snapshot()
			return diags, false, nil
		case <-w.event:
			diags, done := w.snapshot()
			if done {
				return diags, false, nil
			}
			sawEvent = true
			if quiet == nil {
				quiet = time.NewTimer(quiescence)
			} else {
				quiet.Reset(quiescence)
			}
		}
	}
}

// aggregateDiagnostics flattens diagnostics into combined text, coercing
// every payload to plain text exactly once.
func aggregateDiagnostics(diags []lspDiagnostic) *RawResult {
	var sb strings.Builder
	succeeded := true
	for _, d := range diags {
		if d.Severity == severityError {
			succeeded = false
		}
		sb.WriteString(string(d.Message))
		sb.WriteString("\n")
	}
	return &RawResult{
		Output:    strings.TrimRight(sb.String(), "\n"),
		Succeeded: succeeded,
	}
}

// ResetEnv is a no-op: every check opens a fresh virtual document.
func (b *lspBackend) ResetEnv() {}

// Close shuts the server down gracefully, then forcefully. Idempotent.
func (b *lspBackend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		b.closeMu.Unlock()

		b.logger.Info("Shutting down Lean language server")

		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, _ = b.conn.call(shutdownCtx, "shutdown", nil)
		_ = b.conn.notify("exit", nil)
		cancel()

		b.conn.close()
		_ = b.stdin.Close()

		if b.cmd.Process != nil {
			done := make(chan error, 1)
			go func() { done <- b.cmd.Wait() }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				b.cancel()
				<-done
			}
		}
		b.cancel()

		select {
		case <-b.readDone:
		case <-time.After(time.Second):
		}
	})
	return nil
}
