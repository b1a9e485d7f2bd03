package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// newTestStore creates a SQLiteStore on a temp-dir database file.
func newTestStore(t *testing.T, maxKeep int) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "memory.db"),
		MaxKeep: maxKeep,
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SatisfiesInterface(t *testing.T) {
	s := newTestStore(t, 0)
	var _ Store = s
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "user:1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.SessionID != "user:1" {
		t.Errorf("SessionID = %q, want %q", first.SessionID, "user:1")
	}
	if first.SummaryText != "" {
		t.Errorf("new record SummaryText = %q, want empty", first.SummaryText)
	}

	second, err := s.GetOrCreate(ctx, "user:1")
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Errorf("second GetOrCreate created a new record: %v != %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := s.GetOrCreate(ctx, "user:race")
			done <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent GetOrCreate: %v", err)
		}
	}

	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM memory_records WHERE session_id = ?`, "user:race",
	).Scan(&count); err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Errorf("record count = %d, want 1", count)
	}
}

func TestAppendAndRecentMessages_Order(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := s.AppendMessage(ctx, "user:1", role, fmt.Sprintf("msg-%d", i), nil); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "user:1", 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	// Most recent 3, oldest of the window first.
	for i, want := range []string{"msg-2", "msg-3", "msg-4"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, want)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("messages out of chronological order at %d", i)
		}
	}
}

func TestAppendMessage_PruneStabilizes(t *testing.T) {
	const keep = 10
	s := newTestStore(t, keep)
	ctx := context.Background()

	for i := 0; i < keep*3; i++ {
		if _, err := s.AppendMessage(ctx, "user:1", RoleUser, fmt.Sprintf("msg-%d", i), nil); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "user:1", keep*3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != keep {
		t.Fatalf("stored count = %d, want %d", len(msgs), keep)
	}
	// The most recently appended messages are the ones retained.
	if got, want := msgs[0].Content, fmt.Sprintf("msg-%d", keep*2); got != want {
		t.Errorf("oldest retained = %q, want %q", got, want)
	}
	if got, want := msgs[len(msgs)-1].Content, fmt.Sprintf("msg-%d", keep*3-1); got != want {
		t.Errorf("newest retained = %q, want %q", got, want)
	}
}

func TestReadSummary_EmptyForUnknownSession(t *testing.T) {
	s := newTestStore(t, 0)

	text, err := s.ReadSummary(context.Background(), "user:nobody")
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if text != "" {
		t.Errorf("summary = %q, want empty", text)
	}
}

func TestUpdateSummary_MergesFacts(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	if err := s.UpdateSummary(ctx, "user:1", "first summary", map[string]any{
		"name": "Dana", "likes": "hiking",
	}); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	if err := s.UpdateSummary(ctx, "user:1", "second summary", map[string]any{
		"likes": "climbing", "pet": "cat",
	}); err != nil {
		t.Fatalf("UpdateSummary (second): %v", err)
	}

	text, err := s.ReadSummary(ctx, "user:1")
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if text != "second summary" {
		t.Errorf("summary = %q, want %q", text, "second summary")
	}

	rec, err := s.GetOrCreate(ctx, "user:1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	want := map[string]string{"name": "Dana", "likes": "climbing", "pet": "cat"}
	for k, v := range want {
		if got, ok := rec.Facts[k].(string); !ok || got != v {
			t.Errorf("Facts[%q] = %v, want %q", k, rec.Facts[k], v)
		}
	}
	if rec.SummaryUpdatedAt.IsZero() {
		t.Error("SummaryUpdatedAt not set")
	}
}

func TestMessagesSinceSummary(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := s.AppendMessage(ctx, "user:1", RoleUser, "hi", nil); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	n, err := s.MessagesSinceSummary(ctx, "user:1")
	if err != nil {
		t.Fatalf("MessagesSinceSummary: %v", err)
	}
	if n != 4 {
		t.Errorf("count before summary = %d, want 4", n)
	}

	if err := s.UpdateSummary(ctx, "user:1", "summary", nil); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	n, err = s.MessagesSinceSummary(ctx, "user:1")
	if err != nil {
		t.Fatalf("MessagesSinceSummary (after): %v", err)
	}
	if n != 0 {
		t.Errorf("count after summary = %d, want 0", n)
	}

	if _, err := s.AppendMessage(ctx, "user:1", RoleAssistant, "hello", nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	n, err = s.MessagesSinceSummary(ctx, "user:1")
	if err != nil {
		t.Fatalf("MessagesSinceSummary (fresh): %v", err)
	}
	if n != 1 {
		t.Errorf("count after fresh append = %d, want 1", n)
	}
}

func TestAttachMetadata(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	msg, err := s.AppendMessage(ctx, "user:1", RoleUser, "I love hiking", map[string]any{"source": "ws"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := s.AttachMetadata(ctx, msg.ID, map[string]any{
		"sentiment": "positive", "sentiment_score": 0.8,
	}); err != nil {
		t.Fatalf("AttachMetadata: %v", err)
	}

	msgs, err := s.RecentMessages(ctx, "user:1", 1)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	meta := msgs[0].Metadata
	if meta["sentiment"] != "positive" {
		t.Errorf("sentiment = %v, want positive", meta["sentiment"])
	}
	if meta["source"] != "ws" {
		t.Errorf("existing metadata not preserved: %v", meta)
	}

	// Unknown message (already pruned) is not an error.
	if err := s.AttachMetadata(ctx, "missing-id", map[string]any{"x": 1}); err != nil {
		t.Errorf("AttachMetadata(missing) = %v, want nil", err)
	}
}

func TestStoreErrors_Retryable(t *testing.T) {
	s := newTestStore(t, 0)
	s.Close()

	_, err := s.RecentMessages(context.Background(), "user:1", 5)
	if err == nil {
		t.Fatal("expected error after Close")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error %v does not wrap ErrUnavailable", err)
	}
}
