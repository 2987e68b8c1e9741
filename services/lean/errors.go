// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import (
	"errors"
	"fmt"
)

// Sentinel errors for the verification transport.
//
// Only ErrVerifierNotFound is fatal to a whole run: it is returned at
// construction time, before any check. Everything else describes a single
// session or a single check and is the owner's cue to restart or record.
var (
	// ErrVerifierNotFound indicates the verifier binary is missing or
	// unreachable. Returned by NewBackend; aborts before any attempt.
	ErrVerifierNotFound = errors.New("lean verifier binary not found")

	// ErrUnknownBackend indicates an unrecognized BackendKind.
	ErrUnknownBackend = errors.New("unknown backend kind")

	// ErrBackendClosed indicates Check was called after Close.
	ErrBackendClosed = errors.New("verification backend closed")

	// ErrReplCrashed indicates the REPL process terminated. Detected on the
	// next send or receive; the owner may construct a fresh session.
	ErrReplCrashed = errors.New("lean repl process terminated")

	// ErrMalformedResponse indicates an unreadable record on a live channel.
	// The session stays usable; the caller decides whether to restart it.
	ErrMalformedResponse = errors.New("malformed verifier response")

	// ErrServerNotRunning indicates the language server is not ready.
	ErrServerNotRunning = errors.New("lean language server not running")

	// ErrInitializeFailed indicates the LSP initialize handshake failed.
	ErrInitializeFailed = errors.New("language server initialize failed")

	// ErrServerCrashed indicates the language server terminated unexpectedly.
	ErrServerCrashed = errors.New("language server crashed")
)

// RPCError is an error returned by the language server via JSON-RPC.
type RPCError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}
