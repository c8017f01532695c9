// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, turns and sampling options.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat represents one conversation. A chat owns an ordered sequence of turns;
// ordering is by creation time, turns are appended and never reordered.
type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarRef string    `json:"avatar_ref"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChat creates a chat with a generated ID and the current timestamp.
func NewChat(name string) *Chat {
	return &Chat{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// DisplayName returns the chat name or a default for unnamed chats.
func (c *Chat) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return "New Chat"
}

// =============================================================================
// CHAT METADATA
// =============================================================================

// ChatMeta holds lightweight metadata for listing chats without loading turns.
type ChatMeta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	TurnCount int       `json:"turn_count"`
	Preview   string    `json:"preview"`
}
