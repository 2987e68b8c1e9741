package llm

import "strings"

// buildProofStepPrompt renders the next-tactic prompt for a theorem and its
// current goal state. The model is asked for exactly one tactic so the
// response can be applied as a single incremental proof step.
func buildProofStepPrompt(theorem, goalState string) string {
	var b strings.Builder
	b.WriteString("You are proving a theorem in Lean 4.\n\n")
	b.WriteString("Theorem:\n")
	b.WriteString(theorem)
	b.WriteString("\n\nCurrent proof state:\n")
	b.WriteString(goalState)
	b.WriteString("\n\nRespond with exactly one Lean 4 tactic for the next proof step. ")
	b.WriteString("Output only the tactic, no explanation, no code fences.\n")
	return b.String()
}

// ExtractTactic normalizes a model response into a single tactic line.
//
// Models wrap tactics in code fences, prefix them with "by", or pad them
// with prose despite instructions; the first plausible tactic line wins.
func ExtractTactic(response string) string {
	text := strings.TrimSpace(response)

	// Drop code fences, keeping their content.
	if strings.Contains(text, "```") {
		var inner []string
		inFence := false
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inFence = !inFence
				continue
			}
			if inFence {
				inner = append(inner, line)
			}
		}
		if len(inner) > 0 {
			text = strings.Join(inner, "\n")
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "`")
		if line == "" {
			continue
		}
		if line == "by" {
			continue
		}
		line = strings.TrimPrefix(line, "by ")
		// Goal-state echoes and bullets are not tactics.
		line = strings.TrimPrefix(line, "· ")
		line = strings.TrimPrefix(line, "- ")
		return line
	}
	return text
}
