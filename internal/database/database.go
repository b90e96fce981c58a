package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tgchat/internal/models"
)

// DB wraps the SQL database connection for usage accounting
type DB struct {
	*sql.DB
}

// New opens (and creates if needed) the SQLite database at path
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Printf("✅ Usage database opened at %s", path)
	return &DB{db}, nil
}

// Initialize creates the schema if it does not exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_usage (
		chat_id       INTEGER PRIMARY KEY,
		messages_seen INTEGER NOT NULL DEFAULT 0,
		replies_sent  INTEGER NOT NULL DEFAULT 0,
		tokens_used   INTEGER NOT NULL DEFAULT 0,
		last_seen_at  TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_usage_last_seen ON chat_usage(last_seen_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// RecordMessage increments the inbound message counter for a chat
func (db *DB) RecordMessage(ctx context.Context, chatID int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_usage (chat_id, messages_seen, replies_sent, tokens_used, last_seen_at)
		VALUES (?, 1, 0, 0, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			messages_seen = messages_seen + 1,
			last_seen_at = excluded.last_seen_at`,
		chatID, time.Now().UTC())
	return err
}

// RecordReply increments the reply counter and token usage for a chat
func (db *DB) RecordReply(ctx context.Context, chatID int64, tokens int) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_usage (chat_id, messages_seen, replies_sent, tokens_used, last_seen_at)
		VALUES (?, 0, 1, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			replies_sent = replies_sent + 1,
			tokens_used = tokens_used + excluded.tokens_used,
			last_seen_at = excluded.last_seen_at`,
		chatID, tokens, time.Now().UTC())
	return err
}

// GetUsage returns the accounting counters for a chat, zeroes if unseen
func (db *DB) GetUsage(ctx context.Context, chatID int64) (*models.ChatUsage, error) {
	usage := &models.ChatUsage{ChatID: chatID}
	err := db.QueryRowContext(ctx, `
		SELECT messages_seen, replies_sent, tokens_used, last_seen_at
		FROM chat_usage WHERE chat_id = ?`, chatID).
		Scan(&usage.MessagesSeen, &usage.RepliesSent, &usage.TokensUsed, &usage.LastSeenAt)
	if err == sql.ErrNoRows {
		return usage, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	return usage, nil
}

// PurgeStale deletes usage rows for chats idle longer than the cutoff.
// Returns the number of rows removed.
func (db *DB) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM chat_usage WHERE last_seen_at < ?`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale usage rows: %w", err)
	}
	return res.RowsAffected()
}
