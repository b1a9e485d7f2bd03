package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultMaxKeep is the retention ceiling for a session's raw message log.
const DefaultMaxKeep = 200

// SQLiteStore implements Store on a local SQLite database. It keeps a single
// shared connection so concurrent callers are serialized by database/sql
// instead of fighting for SQLite write locks across connections.
type SQLiteStore struct {
	db      *sql.DB
	maxKeep int
	logger  *slog.Logger
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string
	// MaxKeep is the raw-message retention ceiling per session.
	// Defaults to DefaultMaxKeep.
	MaxKeep int
	// Logger is used for migration and pruning diagnostics. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at cfg.Path and runs any
// pending migrations.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.MaxKeep <= 0 {
		cfg.MaxKeep = DefaultMaxKeep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, maxKeep: cfg.MaxKeep, logger: cfg.Logger}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// storeErr wraps a low-level database error so callers can recognize it as a
// retryable infrastructure fault via errors.Is(err, ErrUnavailable).
func storeErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w (%w)", op, ErrUnavailable, err)
}

// GetOrCreate returns the memory record for sessionID, creating an empty one
// on first contact. The insert is a no-op when the record already exists, so
// concurrent calls never produce duplicates.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, sessionID string) (*Record, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_records (session_id, created_at)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return nil, storeErr("create record", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, facts, summary_text, summary_updated_at, created_at
		FROM memory_records WHERE session_id = ?`,
		sessionID,
	)

	var rec Record
	var factsJSON string
	var summaryUpdated sql.NullInt64
	var created int64
	if err := row.Scan(&rec.SessionID, &factsJSON, &rec.SummaryText, &summaryUpdated, &created); err != nil {
		return nil, storeErr("read record", err)
	}
	if err := json.Unmarshal([]byte(factsJSON), &rec.Facts); err != nil {
		s.logger.Warn("store: malformed facts JSON, resetting", "session_id", sessionID, "err", err)
		rec.Facts = map[string]any{}
	}
	if summaryUpdated.Valid {
		rec.SummaryUpdatedAt = time.Unix(0, summaryUpdated.Int64).UTC()
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return &rec, nil
}

// AppendMessage appends a message and prunes the oldest excess messages in
// the same transaction, keeping the most recent maxKeep.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role Role, content string, metadata map[string]any) (*Message, error) {
	msg := &Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}

	var metadataJSON []byte
	if len(metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("store: marshal metadata: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin append", err)
	}
	defer tx.Rollback()

	// The record must exist before the message insert; the foreign key
	// enforces it, so create on demand for sessions appending first.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_records (session_id, created_at)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, msg.CreatedAt.UnixNano(),
	); err != nil {
		return nil, storeErr("ensure record", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(role), content, metadataJSON, msg.CreatedAt.UnixNano(),
	); err != nil {
		return nil, storeErr("insert message", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE session_id = ? AND seq NOT IN (
			SELECT seq FROM messages
			WHERE session_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)`,
		sessionID, sessionID, s.maxKeep,
	); err != nil {
		return nil, storeErr("prune messages", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit append", err)
	}
	return msg, nil
}

// RecentMessages returns the newest limit messages in chronological order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, storeErr("query messages", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var role string
		var metadataJSON sql.NullString
		var created int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &metadataJSON, &created); err != nil {
			return nil, storeErr("scan message", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(0, created).UTC()
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
				s.logger.Warn("store: malformed message metadata", "message_id", m.ID, "err", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate messages", err)
	}

	// Query order is newest-first; callers want oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ReadSummary returns the session's summary text, or "" when the session has
// no record or no summary yet.
func (s *SQLiteStore) ReadSummary(ctx context.Context, sessionID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_text FROM memory_records WHERE session_id = ?`,
		sessionID,
	).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storeErr("read summary", err)
	}
	return text, nil
}

// UpdateSummary replaces the summary text and merges parsedFacts into the
// record's facts, overwriting existing keys.
func (s *SQLiteStore) UpdateSummary(ctx context.Context, sessionID string, text string, parsedFacts map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin summary update", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_records (session_id, created_at)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now,
	); err != nil {
		return storeErr("ensure record", err)
	}

	var factsJSON string
	if err := tx.QueryRowContext(ctx,
		`SELECT facts FROM memory_records WHERE session_id = ?`,
		sessionID,
	).Scan(&factsJSON); err != nil {
		return storeErr("read facts", err)
	}

	facts := map[string]any{}
	if err := json.Unmarshal([]byte(factsJSON), &facts); err != nil {
		s.logger.Warn("store: malformed facts JSON, resetting", "session_id", sessionID, "err", err)
		facts = map[string]any{}
	}
	for k, v := range parsedFacts {
		facts[k] = v
	}
	merged, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("store: marshal facts: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE memory_records
		SET facts = ?, summary_text = ?, summary_updated_at = ?
		WHERE session_id = ?`,
		string(merged), text, now, sessionID,
	); err != nil {
		return storeErr("write summary", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit summary update", err)
	}
	return nil
}

// MessagesSinceSummary counts messages appended after the last summary write.
func (s *SQLiteStore) MessagesSinceSummary(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN memory_records r ON r.session_id = m.session_id
		WHERE m.session_id = ?
		  AND (r.summary_updated_at IS NULL OR m.created_at > r.summary_updated_at)`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, storeErr("count messages since summary", err)
	}
	return n, nil
}

// AttachMetadata merges metadata into an existing message's metadata map.
// Missing messages (already pruned) are not an error.
func (s *SQLiteStore) AttachMetadata(ctx context.Context, messageID string, metadata map[string]any) error {
	if len(metadata) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin metadata update", err)
	}
	defer tx.Rollback()

	var existing sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT metadata FROM messages WHERE id = ?`,
		messageID,
	).Scan(&existing)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return storeErr("read message metadata", err)
	}

	merged := map[string]any{}
	if existing.Valid && existing.String != "" {
		if err := json.Unmarshal([]byte(existing.String), &merged); err != nil {
			s.logger.Warn("store: malformed message metadata, resetting", "message_id", messageID, "err", err)
			merged = map[string]any{}
		}
	}
	for k, v := range metadata {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET metadata = ? WHERE id = ?`,
		string(data), messageID,
	); err != nil {
		return storeErr("write message metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit metadata update", err)
	}
	return nil
}

// runMigrations applies pending SQL migrations embedded in the binary.
func (s *SQLiteStore) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now(), description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}

		s.logger.Info("store: applied migration", "version", fmt.Sprintf("%04d", version), "description", description)
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)
