package memory

import (
	"context"
	"errors"
)

// ErrUnavailable marks a storage failure as a retryable infrastructure fault.
// Callers can test for it with errors.Is and decide whether to retry, degrade
// to empty history, or swallow the failure after the reply has been delivered.
var ErrUnavailable = errors.New("memory store unavailable")

// Store is the pluggable persistence interface for session memory.
// Implementations must be safe for concurrent use from multiple goroutines.
type Store interface {
	// GetOrCreate returns the memory record for the session, creating it if
	// it does not exist. Idempotent: concurrent calls for the same session
	// never create duplicate records.
	GetOrCreate(ctx context.Context, sessionID string) (*Record, error)

	// AppendMessage appends a message to the session's raw log and prunes
	// the oldest excess messages so at most MaxKeep remain, as one logical
	// operation. Returns the stored message with its assigned ID.
	AppendMessage(ctx context.Context, sessionID string, role Role, content string, metadata map[string]any) (*Message, error)

	// RecentMessages returns at most limit of the session's newest messages
	// in chronological order (oldest of the selected window first).
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// ReadSummary returns the session's long-term summary text, or "" when
	// no summary has been written yet.
	ReadSummary(ctx context.Context, sessionID string) (string, error)

	// UpdateSummary replaces the summary text, bumps its timestamp, and
	// merges parsedFacts into the record's facts (key-wise overwrite).
	UpdateSummary(ctx context.Context, sessionID string, text string, parsedFacts map[string]any) error

	// MessagesSinceSummary reports how many messages were appended after the
	// last summary write. When no summary exists, every stored message counts.
	MessagesSinceSummary(ctx context.Context, sessionID string) (int, error)

	// AttachMetadata merges metadata into an existing message, key-wise.
	// Used by the analysis job to annotate messages after the fact.
	AttachMetadata(ctx context.Context, messageID string, metadata map[string]any) error

	// Close releases the underlying storage resources.
	Close() error
}
