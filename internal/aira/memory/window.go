package memory

import (
	"fmt"
	"strings"
)

// DefaultWindowSize is the number of recent messages included in a prompt
// when no explicit size is configured.
const DefaultWindowSize = 10

// Window returns the last size messages of msgs, preserving chronological
// order. size <= 0 falls back to DefaultWindowSize. Pure: the result aliases
// msgs but the input is never mutated.
func Window(msgs []Message, size int) []Message {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if len(msgs) <= size {
		return msgs
	}
	return msgs[len(msgs)-size:]
}

// RenderTranscript renders messages as a prompt-ready transcript, one
// "role: content" line per message. Returns "" for an empty slice so the
// prompt assembler can omit the history section entirely.
func RenderTranscript(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}
