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
	"strings"
	"testing"
	"time"
)

// The one-shot backend shells out to whatever binary the config names, so
// these tests substitute small POSIX tools for the verifier.

func TestNewBackendUnknownKind(t *testing.T) {
	_, err := NewBackend(context.Background(), BackendConfig{Kind: "bogus"})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("NewBackend() error = %v, want ErrUnknownBackend", err)
	}
}

func TestOneShotMissingBinary(t *testing.T) {
	_, err := NewBackend(context.Background(), BackendConfig{
		Kind:        BackendOneShot,
		LeanCommand: "definitely-not-a-real-verifier-binary",
	})
	if !errors.Is(err, ErrVerifierNotFound) {
		t.Fatalf("NewBackend() error = %v, want ErrVerifierNotFound", err)
	}
}

func TestOneShotCleanExit(t *testing.T) {
	backend, err := NewBackend(context.Background(), BackendConfig{
		Kind:        BackendOneShot,
		LeanCommand: "true",
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	defer backend.Close(context.Background())

	raw, err := backend.Check(context.Background(), "theorem t : True := by\n  trivial\n")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !raw.Succeeded {
		t.Errorf("Succeeded = false, want true")
	}
	if raw.TimedOut {
		t.Errorf("TimedOut = true, want false")
	}
	if got := Classify(raw); got.Status != StatusProofComplete {
		t.Errorf("Classify() status = %v, want StatusProofComplete", got.Status)
	}
}

func TestOneShotNonZeroExit(t *testing.T) {
	backend, err := NewBackend(context.Background(), BackendConfig{
		Kind:        BackendOneShot,
		LeanCommand: "false",
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	defer backend.Close(context.Background())

	raw, err := backend.Check(context.Background(), "bad script")
	if err != nil {
		t.Fatalf("Check() error = %v, want nil (exit status is not a transport failure)", err)
	}
	if raw.Succeeded {
		t.Errorf("Succeeded = true, want false")
	}
}

func TestOneShotCapturesOutput(t *testing.T) {
	script := "theorem echo_me : True := by\n  trivial\n"
	backend, err := NewBackend(context.Background(), BackendConfig{
		Kind:        BackendOneShot,
		LeanCommand: "cat",
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	defer backend.Close(context.Background())

	// cat prints the script file back, standing in for verifier output.
	raw, err := backend.Check(context.Background(), script)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !strings.Contains(raw.Output, "echo_me") {
		t.Errorf("Output = %q, want script text", raw.Output)
	}
}

func TestOneShotTruncatesLongOutput(t *testing.T) {
	backend, err := NewBackend(context.Background(), BackendConfig{
		Kind:           BackendOneShot,
		LeanCommand:    "sh",
		LeanArgs:       []string{"-c", "yes diagnostic | head -n 2000"},
		MaxOutputBytes: 16,
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	defer backend.Close(context.Background())

	// Output past the cap is dropped; the check itself must still succeed.
	raw, err := backend.Check(context.Background(), "theorem t : True")
	if err != nil {
		t.Fatalf("Check() error = %v, want nil (oversized output is truncated, not fatal)", err)
	}
	if len(raw.Output) != 16 {
		t.Errorf("len(Output) = %d, want 16", len(raw.Output))
	}
	if !strings.HasPrefix(raw.Output, "diagnostic") {
		t.Errorf("Output = %q, want the head of the verifier output", raw.Output)
	}
}

func TestOneShotTimeout(t *testing.T) {
	backend, err := NewBackend(context.Background(), BackendConfig{
		Kind:         BackendOneShot,
		LeanCommand:  "sh",
		LeanArgs:     []string{"-c", "sleep 5"},
		CheckTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	defer backend.Close(context.Background())

	start := time.Now()
	raw, err := backend.Check(context.Background(), "theorem t : True")
	if err != nil {
		t.Fatalf("Check() error = %v, want nil (timeout is reported in the result)", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Check() took %v, timeout did not fire", elapsed)
	}
	if !raw.TimedOut {
		t.Errorf("TimedOut = false, want true")
	}
	if !strings.Contains(raw.Output, "verification timed out") {
		t.Errorf("Output = %q, want timeout marker", raw.Output)
	}
	if got := Classify(raw); got.Status != StatusInvalid {
		t.Errorf("Classify() status = %v, want StatusInvalid", got.Status)
	}
}

func TestOneShotCheckAfterClose(t *testing.T) {
	backend, err := NewBackend(context.Background(), BackendConfig{
		Kind:        BackendOneShot,
		LeanCommand: "true",
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	if err := backend.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Close is idempotent.
	if err := backend.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := backend.Check(context.Background(), "x"); !errors.Is(err, ErrBackendClosed) {
		t.Errorf("Check() after Close error = %v, want ErrBackendClosed", err)
	}
}

func TestLimitedWriterTruncates(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 5}

	n, err := lw.Write([]byte("abcdefgh"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 8 {
		t.Errorf("Write() n = %d, want 8 (writer must not error the producer)", n)
	}
	if buf.String() != "abcde" {
		t.Errorf("buffer = %q, want %q", buf.String(), "abcde")
	}

	// Further writes are swallowed.
	if _, err := lw.Write([]byte("more")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if buf.String() != "abcde" {
		t.Errorf("buffer = %q after overflow write, want %q", buf.String(), "abcde")
	}
	if !lw.truncated {
		t.Errorf("truncated = false, want true")
	}
}
