// Package memory implements the durable per-session conversation memory for
// Aira. Each session owns exactly one memory record holding long-lived facts
// and a compressed long-term summary, plus a bounded log of raw messages used
// to build the short-term context window.
package memory

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Record is the per-session memory record. One record exists per session
// identifier; it is created on first contact and mutated only by the
// background maintenance jobs (summary and facts) and by message appends.
type Record struct {
	SessionID        string         // stable external session identifier
	Facts            map[string]any // persistent facts, last-write-wins per key
	SummaryText      string         // long-term compressed memory ("" until first summarization)
	SummaryUpdatedAt time.Time      // zero until the first summary write
	CreatedAt        time.Time
}

// Message is a single immutable turn in a session's raw message log.
// Messages are ordered chronologically by CreatedAt; ties are broken by
// insertion order.
type Message struct {
	ID        string // unique message ID (UUID)
	Role      Role
	Content   string
	CreatedAt time.Time
	Metadata  map[string]any // optional analysis output (sentiment, topics)
}
