// Package genai adapts the external text-generation backend. It exposes a
// single Generate call that turns a prompt string into reply text, isolating
// callers from the backend's wire format and failure modes: a backend fault
// becomes an *Error that the session layer converts into a user-visible
// error reply, never a broken connection.
package genai

import "context"

// Request is the input to a single generation call.
type Request struct {
	// Model is the backend model identifier.
	Model string
	// Input is the fully assembled prompt.
	Input string
}

// Result carries the normalized output of a generation call.
type Result struct {
	// Text is the extracted reply text.
	Text string
}

// Error wraps any backend failure (transport error, HTTP error status, API
// error object). It unwraps to the underlying cause.
type Error struct {
	Cause error
}

func (e *Error) Error() string {
	return "genai: generation failed: " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Generator is the interface to the text-generation capability.
// Implementations must be safe for concurrent use from multiple goroutines.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
