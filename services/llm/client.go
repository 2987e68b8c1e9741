package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client defines the standard interface for any tactic-proposing LLM backend.
type Client interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateProofStep returns one candidate tactic for the theorem given
	// the current goal state. Errors are the caller's per-iteration concern:
	// a failed proposal fails one iteration, never a whole proof attempt.
	GenerateProofStep(ctx context.Context, theorem, goalState string, temperature float32) (string, error)
}
