// Package prompt assembles the single prompt string sent to the generation
// backend. Assembly is pure string building: no storage, no transport, no
// clock. Given identical inputs the output is byte-identical.
package prompt

import "strings"

// sectionSeparator joins the prompt sections. Keeping it fixed makes the
// assembled prompt structure stable and parseable in tests.
const sectionSeparator = "\n\n"

// Input carries the four content sections of a prompt. Summary and History
// may be empty; empty sections are omitted entirely (no empty headers).
type Input struct {
	// Persona is the static system instruction block from configuration.
	Persona string
	// Summary is the session's long-term memory summary.
	Summary string
	// History is the rendered recent-message transcript
	// (memory.RenderTranscript output).
	History string
	// Message is the new user message for this turn.
	Message string
}

// Assemble builds the prompt in fixed section order: persona, long-term
// summary, recent history, the new user message, and the assistant-turn
// marker.
func Assemble(in Input) string {
	parts := make([]string, 0, 5)

	if in.Persona != "" {
		parts = append(parts, in.Persona)
	}
	if in.Summary != "" {
		parts = append(parts, "Long-term memory summary:\n"+in.Summary)
	}
	if in.History != "" {
		parts = append(parts, "Recent chat history:\n"+in.History)
	}
	parts = append(parts, "User: "+in.Message)
	parts = append(parts, "Assistant:")

	return strings.Join(parts, sectionSeparator)
}
