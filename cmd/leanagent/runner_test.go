// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"
)

func TestLoadConfigSorryFlagOnlyAppliesWhenSet(t *testing.T) {
	t.Setenv("USE_SORRY_ON_TIMEOUT", "false")

	// Flag untouched: its true default must not clobber the environment.
	cfg, err := loadConfig(proveCmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.UseSorryOnExhaustion {
		t.Errorf("UseSorryOnExhaustion = true, want false from environment")
	}

	// An explicit flag wins over the environment.
	f := proveCmd.Flags().Lookup("sorry-on-fail")
	if f == nil {
		t.Fatal("sorry-on-fail flag not registered on prove")
	}
	if err := proveCmd.Flags().Set("sorry-on-fail", "true"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	t.Cleanup(func() { f.Changed = false })

	cfg, err = loadConfig(proveCmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if !cfg.UseSorryOnExhaustion {
		t.Errorf("UseSorryOnExhaustion = false, want true from explicit flag")
	}
}

func TestLoadConfigSorryEnvSurvivesOtherCommands(t *testing.T) {
	t.Setenv("USE_SORRY_ON_TIMEOUT", "false")

	// verify does not register the flag at all; the environment value stands.
	cfg, err := loadConfig(verifyCmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.UseSorryOnExhaustion {
		t.Errorf("UseSorryOnExhaustion = true, want false from environment")
	}
}
