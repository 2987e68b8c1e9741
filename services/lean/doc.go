// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lean is the verification transport layer for Lean 4.
//
// It builds proof scripts, submits them to the Lean toolchain through one of
// three interchangeable backends (one-shot process, persistent REPL, or
// language server), and classifies the resulting diagnostics into a small
// status taxonomy: proof complete, valid-but-incomplete, or invalid.
//
// Backends share a single contract (Backend) and are selected once at
// construction via NewBackend. A backend owns at most one external verifier
// process; Close is idempotent and releases the process on every path.
//
// Thread Safety:
//
//	A Backend instance assumes a single caller at a time. Callers that need
//	concurrent checks must create one backend per worker; the persistent
//	variants track a verifier-issued environment handle whose per-check
//	reset makes interleaved use from multiple goroutines unsafe.
package lean
