// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists chats, turns and preferences in a local SQLite
// database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrTurnNotFound = errors.New("turn not found")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence collaborator for chats, turns and key-value
// preferences. Safe for concurrent use; SQLite allows one writer at a time,
// so the pool is capped at a single connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CHATS
// =============================================================================

// SaveChat inserts or updates a chat.
func (s *Store) SaveChat(ctx context.Context, chat model.Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, name, avatar_ref, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, avatar_ref = excluded.avatar_ref`,
		chat.ID, chat.Name, chat.AvatarRef, chat.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving chat: %w", err)
	}
	return nil
}

// GetChat returns one chat by id.
func (s *Store) GetChat(ctx context.Context, id string) (model.Chat, error) {
	var chat model.Chat
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, avatar_ref, created_at FROM chats WHERE id = ?`, id).
		Scan(&chat.ID, &chat.Name, &chat.AvatarRef, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return model.Chat{}, fmt.Errorf("loading chat: %w", err)
	}
	chat.CreatedAt = time.Unix(0, createdAt).UTC()
	return chat, nil
}

// GetChats returns all chats, oldest first.
func (s *Store) GetChats(ctx context.Context) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, avatar_ref, created_at FROM chats ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var chat model.Chat
		var createdAt int64
		if err := rows.Scan(&chat.ID, &chat.Name, &chat.AvatarRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chat.CreatedAt = time.Unix(0, createdAt).UTC()
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat and, through the foreign key cascade, its turns.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	return nil
}

// DeleteAllChats removes every chat and every turn.
func (s *Store) DeleteAllChats(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats`); err != nil {
		return fmt.Errorf("deleting chats: %w", err)
	}
	return nil
}

// =============================================================================
// TURNS
// =============================================================================

// SaveTurn inserts a turn. Attachments and metrics are stored as JSON blobs;
// a marshal failure is logged and the field stored empty rather than failing
// the persist.
func (s *Store) SaveTurn(ctx context.Context, turn model.Turn) error {
	attachments := marshalOrEmpty(s.logger, "attachments", turn.Attachments, !turn.Attachments.IsEmpty())
	metrics := marshalOrEmpty(s.logger, "metrics", turn.Metrics, !turn.Metrics.IsZero())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, chat_id, model_name, created_at, role, content, attachments, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ChatID, turn.ModelName, turn.CreatedAt.UnixNano(),
		string(turn.Role), turn.Content, attachments, metrics)
	if err != nil {
		return fmt.Errorf("saving turn: %w", err)
	}
	return nil
}

// TurnsByChat returns all turns of a chat in insertion order.
func (s *Store) TurnsByChat(ctx context.Context, chatID string) ([]model.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, model_name, created_at, role, content, attachments, metrics
		FROM turns WHERE chat_id = ? ORDER BY created_at, rowid`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var turn model.Turn
		var createdAt int64
		var role, attachments, metrics string
		if err := rows.Scan(&turn.ID, &turn.ChatID, &turn.ModelName, &createdAt,
			&role, &turn.Content, &attachments, &metrics); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turn.CreatedAt = time.Unix(0, createdAt).UTC()
		turn.Role = model.Role(role)
		if attachments != "" {
			if err := json.Unmarshal([]byte(attachments), &turn.Attachments); err != nil {
				s.logger.Error("failed to decode stored attachments", "turn", turn.ID, "error", err)
			}
		}
		if metrics != "" {
			if err := json.Unmarshal([]byte(metrics), &turn.Metrics); err != nil {
				s.logger.Error("failed to decode stored metrics", "turn", turn.ID, "error", err)
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// DeleteTurns removes all turns of a chat, keeping the chat itself.
func (s *Store) DeleteTurns(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}
	return nil
}

// TurnCount returns the number of turns in a chat.
func (s *Store) TurnCount(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	return n, nil
}

// =============================================================================
// PREFERENCES
// =============================================================================

// SetPreference stores a key-value preference.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("setting preference %q: %w", key, err)
	}
	return nil
}

// GetPreference returns a preference value and whether it exists.
func (s *Store) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting preference %q: %w", key, err)
	}
	return value, true, nil
}

// PreferenceWithDefault returns the stored value, or writes def and returns
// it when the key is absent.
func (s *Store) PreferenceWithDefault(ctx context.Context, key, def string) (string, error) {
	value, ok, err := s.GetPreference(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		return value, nil
	}
	if err := s.SetPreference(ctx, key, def); err != nil {
		return "", err
	}
	return def, nil
}

// DeletePreference removes a preference. Missing keys are not an error.
func (s *Store) DeletePreference(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting preference %q: %w", key, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func marshalOrEmpty(logger *slog.Logger, what string, v any, present bool) string {
	if !present {
		return ""
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode "+what, "error", err)
		return ""
	}
	return string(encoded)
}
