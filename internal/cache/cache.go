// ABOUTME: SQLite warm cache for message snapshots and last-known relationship statuses
// ABOUTME: Advisory only - the REST snapshot always replaces whatever is cached

package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/parley/internal/friends"
	"github.com/2389/parley/internal/store"
)

// snapshotLimit caps how many messages are kept per conversation.
const snapshotLimit = 200

// Cache persists the most recent conversation snapshots and relationship
// statuses across client restarts, so a reopened conversation can render
// instantly while the authoritative REST snapshot is in flight. A cache
// failure is never fatal: callers degrade to a cold start.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the cache at the given path. The schema is created
// if missing; parent directories are created as needed.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	c := &Cache{db: db, logger: logger}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL,
		id              TEXT NOT NULL,
		sender_id       TEXT NOT NULL,
		body_text       TEXT NOT NULL DEFAULT '',
		attachment_type TEXT NOT NULL DEFAULT '',
		attachment_data TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMP NOT NULL,
		edited          INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (conversation_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv_time
		ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS relationships (
		peer_id      TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		initiator_id TEXT NOT NULL DEFAULT '',
		updated_at   TIMESTAMP NOT NULL
	);`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("creating cache schema: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the cached messages for a conversation with the
// given authoritative snapshot. Unacknowledged entries are skipped; only
// server-identified messages are worth keeping.
func (c *Cache) SaveSnapshot(ctx context.Context, conversationID string, messages []*store.Message) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	start := 0
	if len(messages) > snapshotLimit {
		start = len(messages) - snapshotLimit
	}
	for _, m := range messages[start:] {
		if m.Pending() {
			continue
		}
		var attType, attData string
		if m.Body.Attachment != nil {
			attType = m.Body.Attachment.Type
			attData = m.Body.Attachment.Data
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages
				(conversation_id, id, sender_id, body_text, attachment_type, attachment_data, created_at, edited)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, m.ID, m.SenderID, m.Body.Text,
			attType, attData, m.CreatedAt.UTC(), m.Edited); err != nil {
			return fmt.Errorf("caching message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot returns the cached messages for a conversation, oldest
// first. An empty result just means a cold start.
func (c *Cache) LoadSnapshot(ctx context.Context, conversationID string) ([]*store.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, sender_id, body_text, attachment_type, attachment_data, created_at, edited
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		m := &store.Message{ConversationID: conversationID}
		var attType, attData string
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Body.Text,
			&attType, &attData, &createdAt, &m.Edited); err != nil {
			return nil, fmt.Errorf("scanning cached message: %w", err)
		}
		m.CreatedAt = createdAt
		if attType != "" {
			m.Body.Attachment = &store.Attachment{Type: attType, Data: attData}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveRelationship records the last-known relationship status for a peer.
func (c *Cache) SaveRelationship(ctx context.Context, peerID string, status friends.Status, initiatorID string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO relationships (peer_id, status, initiator_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			status = excluded.status,
			initiator_id = excluded.initiator_id,
			updated_at = excluded.updated_at`,
		peerID, string(status), initiatorID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("caching relationship: %w", err)
	}
	return nil
}

// LoadRelationship returns the cached status for a peer, or ok=false when
// nothing is cached.
func (c *Cache) LoadRelationship(ctx context.Context, peerID string) (status friends.Status, initiatorID string, ok bool, err error) {
	var s string
	row := c.db.QueryRowContext(ctx,
		`SELECT status, initiator_id FROM relationships WHERE peer_id = ?`, peerID)
	if err := row.Scan(&s, &initiatorID); err != nil {
		if err == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("loading relationship: %w", err)
	}
	return friends.Status(s), initiatorID, true, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
