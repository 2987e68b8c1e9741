// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/proofcraft/leanagent/services/lean"
)

// Config holds all knobs for a proof-search run: which LLM proposes
// tactics, which Lean backend verifies them, and the loop budget.
type Config struct {
	// Provider selects the tactic proposer.
	Provider string `yaml:"provider" validate:"oneof=ollama openai"`

	OllamaURL   string `yaml:"ollama_url" validate:"required_if=Provider ollama,omitempty,url"`
	OllamaModel string `yaml:"ollama_model" validate:"required_if=Provider ollama"`

	OpenAIAPIKey  string `yaml:"openai_api_key" validate:"required_if=Provider openai"`
	OpenAIModel   string `yaml:"openai_model" validate:"required_if=Provider openai"`
	OpenAIBaseURL string `yaml:"openai_base_url" validate:"omitempty,url"`

	// Backend selects the verification transport.
	Backend lean.BackendKind `yaml:"backend" validate:"oneof=oneshot repl lsp"`

	// LeanProjectPath is the working directory for the verifier process,
	// typically a Lake project root. Empty means the current directory.
	LeanProjectPath string `yaml:"lean_project_path"`

	// MaxIterations bounds the proof-search loop.
	MaxIterations int `yaml:"max_iterations" validate:"min=1"`

	// Temperature is the base sampling temperature for proposals.
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`

	// Timeout applies per verification check and per LLM call.
	Timeout time.Duration `yaml:"timeout" validate:"min=1s"`

	// UseSorryOnExhaustion emits a placeholder-suffixed partial script
	// when the iteration budget runs out.
	UseSorryOnExhaustion bool `yaml:"use_sorry_on_exhaustion"`

	// NumSuggestions is the candidate count for suggestion ranking.
	NumSuggestions int `yaml:"num_suggestions" validate:"min=1"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Provider:             "ollama",
		OllamaURL:            "http://localhost:11434",
		OllamaModel:          "qwen2.5-coder:7b",
		OpenAIModel:          "gpt-4o-mini",
		Backend:              lean.BackendRepl,
		MaxIterations:        50,
		Temperature:          0.7,
		Timeout:              30 * time.Second,
		UseSorryOnExhaustion: true,
		NumSuggestions:       5,
	}
}

// FromEnv builds a Config from defaults overlaid with environment
// variables. Malformed numeric values fall back to the default rather
// than failing; Validate catches structurally bad results.
func FromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("LEAN_BACKEND"); v != "" {
		cfg.Backend = lean.BackendKind(strings.ToLower(v))
	}
	if v := os.Getenv("LEAN_PROJECT_PATH"); v != "" {
		cfg.LeanProjectPath = v
	}
	if v := os.Getenv("MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Temperature = float32(f)
		}
	}
	if v := os.Getenv("TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("USE_SORRY_ON_TIMEOUT"); v != "" {
		cfg.UseSorryOnExhaustion = parseBool(v, cfg.UseSorryOnExhaustion)
	}
	if v := os.Getenv("NUM_SUGGESTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumSuggestions = n
		}
	}
	return cfg
}

// LoadFile overlays YAML settings from path onto the receiver.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// UnmarshalYAML overlays only the keys present in the document, leaving the
// rest of the receiver untouched, and accepts durations in "30s" form.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Provider             *string  `yaml:"provider"`
		OllamaURL            *string  `yaml:"ollama_url"`
		OllamaModel          *string  `yaml:"ollama_model"`
		OpenAIAPIKey         *string  `yaml:"openai_api_key"`
		OpenAIModel          *string  `yaml:"openai_model"`
		OpenAIBaseURL        *string  `yaml:"openai_base_url"`
		Backend              *string  `yaml:"backend"`
		LeanProjectPath      *string  `yaml:"lean_project_path"`
		MaxIterations        *int     `yaml:"max_iterations"`
		Temperature          *float32 `yaml:"temperature"`
		Timeout              *string  `yaml:"timeout"`
		UseSorryOnExhaustion *bool    `yaml:"use_sorry_on_exhaustion"`
		NumSuggestions       *int     `yaml:"num_suggestions"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Provider != nil {
		c.Provider = *raw.Provider
	}
	if raw.OllamaURL != nil {
		c.OllamaURL = *raw.OllamaURL
	}
	if raw.OllamaModel != nil {
		c.OllamaModel = *raw.OllamaModel
	}
	if raw.OpenAIAPIKey != nil {
		c.OpenAIAPIKey = *raw.OpenAIAPIKey
	}
	if raw.OpenAIModel != nil {
		c.OpenAIModel = *raw.OpenAIModel
	}
	if raw.OpenAIBaseURL != nil {
		c.OpenAIBaseURL = *raw.OpenAIBaseURL
	}
	if raw.Backend != nil {
		c.Backend = lean.BackendKind(*raw.Backend)
	}
	if raw.LeanProjectPath != nil {
		c.LeanProjectPath = *raw.LeanProjectPath
	}
	if raw.MaxIterations != nil {
		c.MaxIterations = *raw.MaxIterations
	}
	if raw.Temperature != nil {
		c.Temperature = *raw.Temperature
	}
	if raw.Timeout != nil {
		d, err := time.ParseDuration(*raw.Timeout)
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		c.Timeout = d
	}
	if raw.UseSorryOnExhaustion != nil {
		c.UseSorryOnExhaustion = *raw.UseSorryOnExhaustion
	}
	if raw.NumSuggestions != nil {
		c.NumSuggestions = *raw.NumSuggestions
	}
	return nil
}

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// BackendConfig derives the lean transport configuration.
func (c Config) BackendConfig() lean.BackendConfig {
	return lean.BackendConfig{
		Kind:         c.Backend,
		ProjectPath:  c.LeanProjectPath,
		CheckTimeout: c.Timeout,
	}
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
