// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import (
	"context"
	"fmt"
)

// Backend verifies complete proof scripts against an external Lean process.
//
// Description:
//
//	One contract over three variants selected once at construction: a fresh
//	process per check (BackendOneShot), a persistent REPL (BackendRepl), or
//	a language server session (BackendLSP). Check returns the verifier's
//	diagnostics as a RawResult for classification; transport-level failures
//	(crashed process, malformed record) are returned as errors so owners can
//	distinguish them from verification failures and restart the session.
//
// Thread Safety:
//
//	Not safe for concurrent Check calls on one instance. The persistent
//	variants reset their environment handle before each check; interleaved
//	resets from two goroutines would corrupt each other's incremental state.
//	Use one backend per worker, or an external mutex.
type Backend interface {
	// Check verifies a complete script and returns the raw diagnostics.
	Check(ctx context.Context, script string) (*RawResult, error)

	// ResetEnv clears the verifier-issued environment handle so the next
	// check is treated as a fresh declaration. This is the invariant that
	// prevents "already declared" errors when the same theorem name is
	// reverified; it is a no-op for variants without persistent state.
	ResetEnv()

	// Close releases the external process. Idempotent: double-close is a
	// no-op, not an error.
	Close(ctx context.Context) error
}

// NewBackend constructs the backend variant selected by cfg.Kind.
//
// Outputs:
//
//	Backend - The started backend, owning its external process (if any).
//	error - ErrVerifierNotFound when the binary is missing (fatal setup
//	        error, distinct from any verification failure), or
//	        ErrUnknownBackend for an unrecognized kind.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	cfg.applyDefaults()

	switch cfg.Kind {
	case BackendOneShot:
		return newOneShotBackend(cfg)
	case BackendRepl:
		return newReplBackend(ctx, cfg)
	case BackendLSP:
		return newLSPBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Kind)
	}
}
