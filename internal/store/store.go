// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides SQLite persistence for chats and messages.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chatd/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrChatNotFound covers both a missing chat and a chat owned by a
	// different user.
	ErrChatNotFound = errors.New("chat not found")

	ErrMessageNotFound = errors.New("message not found")
	ErrDatabaseError   = errors.New("database error")
)

// =============================================================================
// SCHEMA
// =============================================================================

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

const schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');

-- Chats table: one row per conversation, scoped to an owning user
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,  -- Unix milliseconds
    updated_at INTEGER NOT NULL   -- Unix milliseconds
);

CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats(user_id, updated_at DESC);

-- Messages table: ordered turns within a chat
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL,
    role TEXT NOT NULL,           -- user, model
    text TEXT NOT NULL,
    model_name TEXT,              -- set on model turns only
    timestamp INTEGER NOT NULL,   -- Unix milliseconds
    FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_timestamp ON messages(chat_id, timestamp);
`

// =============================================================================
// STORE
// =============================================================================

// Store persists chats and messages in a SQLite database.
//
// The Store is safe for concurrent use; the underlying pool is capped
// at one connection because SQLite allows only one writer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// CreateChat inserts a new chat.
func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, chat.CreatedAt.UnixMilli(), chat.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetChat returns the chat with the given ID if it belongs to userID.
func (s *Store) GetChat(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chats WHERE id = ? AND user_id = ?`,
		chatID, userID)

	return scanChat(row)
}

// ListChats returns summaries of the user's chats, most recently
// updated first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, updated_at FROM chats WHERE user_id = ? ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	summaries := []model.ChatSummary{}
	for rows.Next() {
		var summary model.ChatSummary
		var updated int64
		if err := rows.Scan(&summary.ID, &summary.Title, &updated); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		summary.UpdatedAt = time.UnixMilli(updated).UTC()
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return summaries, nil
}

// UpdateTitle renames the chat and bumps its activity time. Returns the
// updated chat.
func (s *Store) UpdateTitle(ctx context.Context, userID, chatID, title string) (*model.Chat, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		title, time.Now().UnixMilli(), chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrChatNotFound
	}

	return s.GetChat(ctx, userID, chatID)
}

// TouchChat bumps the chat's activity time to at.
func (s *Store) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`,
		at.UnixMilli(), chatID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// DeleteChat removes the chat and all its messages.
func (s *Store) DeleteChat(ctx context.Context, userID, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM chats WHERE id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrChatNotFound
	}

	// Cascade is explicit so deletion does not depend on pragma state.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// DeleteAllChats removes every chat owned by userID, with their
// messages. Returns the number of chats deleted.
func (s *Store) DeleteAllChats(ctx context.Context, userID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id IN (SELECT id FROM chats WHERE user_id = ?)`,
		userID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	n, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return int(n), nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// SaveMessage inserts a message and bumps the chat's activity time.
func (s *Store) SaveMessage(ctx context.Context, msg *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	var modelName sql.NullString
	if msg.ModelName != "" {
		modelName = sql.NullString{String: msg.ModelName, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, text, model_name, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Text, modelName, msg.Timestamp.UnixMilli()); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`,
		msg.Timestamp.UnixMilli(), msg.ChatID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// History returns the chat's messages ordered by send time, oldest
// first. Ownership is checked the same way as GetChat.
func (s *Store) History(ctx context.Context, userID, chatID string) ([]model.Message, error) {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, text, model_name, timestamp FROM messages WHERE chat_id = ? ORDER BY timestamp ASC, rowid ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var m model.Message
		var role string
		var modelName sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Text, &modelName, &ts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		m.Role = model.Role(role)
		m.ModelName = modelName.String
		m.Timestamp = time.UnixMilli(ts).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return messages, nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func scanChat(row *sql.Row) (*model.Chat, error) {
	var chat model.Chat
	var created, updated int64
	err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	chat.CreatedAt = time.UnixMilli(created).UTC()
	chat.UpdatedAt = time.UnixMilli(updated).UTC()
	return &chat, nil
}
