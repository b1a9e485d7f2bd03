// Package session implements the per-session turn coordinator. A turn is one
// inbound-message-to-reply cycle: validate, read memory, assemble the prompt,
// call the generation backend, emit the reply, persist both sides, schedule
// background maintenance. Turns for one session are strictly serialized;
// different sessions run fully in parallel.
package session

// Frame is the tagged wire shape exchanged over the session channel.
type Frame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Frame types emitted to the session channel.
const (
	FrameMessage = "message"
	FrameError   = "error"
	FrameSystem  = "system"
)

// MessageFrame builds an outbound success frame.
func MessageFrame(text string) Frame { return Frame{Type: FrameMessage, Message: text} }

// ErrorFrame builds an outbound error frame.
func ErrorFrame(text string) Frame { return Frame{Type: FrameError, Message: text} }

// SystemFrame builds an outbound system/info frame.
func SystemFrame(text string) Frame { return Frame{Type: FrameSystem, Message: text} }

// Sender delivers outbound frames to the session channel. Implementations
// must tolerate delivery to a closed channel by returning an error; the
// coordinator drops undeliverable results instead of retrying.
type Sender interface {
	Send(f Frame) error
}
