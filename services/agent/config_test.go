// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofcraft/leanagent/services/lean"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, lean.BackendRepl, cfg.Backend)
	assert.True(t, cfg.UseSorryOnExhaustion)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("LEAN_BACKEND", "LSP")
	t.Setenv("LEAN_PROJECT_PATH", "/work/mathlib")
	t.Setenv("MAX_ITERATIONS", "7")
	t.Setenv("TEMPERATURE", "1.2")
	t.Setenv("TIMEOUT_SECONDS", "90")
	t.Setenv("USE_SORRY_ON_TIMEOUT", "no")
	t.Setenv("NUM_SUGGESTIONS", "9")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, "gpt-4o", cfg.OpenAIModel)
	assert.Equal(t, lean.BackendLSP, cfg.Backend)
	assert.Equal(t, "/work/mathlib", cfg.LeanProjectPath)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.InDelta(t, 1.2, cfg.Temperature, 1e-6)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.False(t, cfg.UseSorryOnExhaustion)
	assert.Equal(t, 9, cfg.NumSuggestions)
}

func TestFromEnvMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "lots")
	t.Setenv("TEMPERATURE", "warm")

	cfg := FromEnv()
	assert.Equal(t, DefaultConfig().MaxIterations, cfg.MaxIterations)
	assert.InDelta(t, DefaultConfig().Temperature, cfg.Temperature, 1e-6)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider = "anthropic" }},
		{"unknown backend", func(c *Config) { c.Backend = "carrier-pigeon" }},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }},
		{"negative temperature", func(c *Config) { c.Temperature = -0.1 }},
		{"temperature above cap", func(c *Config) { c.Temperature = 2.5 }},
		{"openai without key", func(c *Config) {
			c.Provider = "openai"
			c.OpenAIAPIKey = ""
		}},
		{"ollama without model", func(c *Config) { c.OllamaModel = "" }},
		{"malformed ollama url", func(c *Config) { c.OllamaURL = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFileOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
provider: openai
openai_api_key: sk-from-file
openai_model: gpt-4o-mini
backend: oneshot
max_iterations: 25
temperature: 0.3
timeout: 45s
use_sorry_on_exhaustion: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "sk-from-file", cfg.OpenAIAPIKey)
	assert.Equal(t, lean.BackendOneShot, cfg.Backend)
	assert.Equal(t, 25, cfg.MaxIterations)
	assert.InDelta(t, 0.3, cfg.Temperature, 1e-6)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.False(t, cfg.UseSorryOnExhaustion)

	// Unset keys keep their prior values.
	assert.Equal(t, DefaultConfig().NumSuggestions, cfg.NumSuggestions)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestBackendConfigDerivation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = lean.BackendOneShot
	cfg.LeanProjectPath = "/proj"
	cfg.Timeout = 12 * time.Second

	bc := cfg.BackendConfig()
	assert.Equal(t, lean.BackendOneShot, bc.Kind)
	assert.Equal(t, "/proj", bc.ProjectPath)
	assert.Equal(t, 12*time.Second, bc.CheckTimeout)
}
