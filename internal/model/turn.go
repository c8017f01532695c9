// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, turns and sampling options.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// FileAttachment carries text extracted from a user-picked file.
// Extraction itself happens upstream; the core only ships the result.
type FileAttachment struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	ExtractedText string `json:"extracted_text"`
}

// Attachments holds optional extra content on a turn.
type Attachments struct {
	// Images are base64-encoded image payloads.
	Images []string `json:"images,omitempty"`

	// File is an optional file attachment with pre-extracted text.
	File *FileAttachment `json:"file,omitempty"`
}

// HasImages reports whether at least one image is attached.
func (a Attachments) HasImages() bool {
	return len(a.Images) > 0
}

// IsEmpty reports whether the turn carries no attachments at all.
func (a Attachments) IsEmpty() bool {
	return len(a.Images) == 0 && a.File == nil
}

// =============================================================================
// COMPLETION METRICS
// =============================================================================

// CompletionMetrics holds timing and token statistics reported by the local
// inference backend on the final stream object. Zero until set; only assistant
// turns ever carry non-zero values.
type CompletionMetrics struct {
	TotalDuration   time.Duration `json:"total_duration"`
	LoadDuration    time.Duration `json:"load_duration"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	EvalDuration    time.Duration `json:"eval_duration"`
}

// IsZero reports whether no metrics were recorded.
func (m CompletionMetrics) IsZero() bool {
	return m == CompletionMetrics{}
}

// TokensPerSecond calculates generation speed from the recorded counters.
func (m CompletionMetrics) TokensPerSecond() float64 {
	if m.EvalDuration == 0 {
		return 0
	}
	return float64(m.EvalCount) / m.EvalDuration.Seconds()
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn represents a single message (user or assistant) within a chat.
// Immutable once persisted; streamed assistant content accumulates on an
// ephemeral session, not on a Turn.
type Turn struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`

	Attachments Attachments       `json:"attachments,omitempty"`
	Metrics     CompletionMetrics `json:"metrics,omitempty"`
}

// NewTurn creates a turn with a generated ID and the current timestamp.
func NewTurn(chatID string, role Role, content string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserTurn creates a user turn.
func NewUserTurn(chatID, content string) *Turn {
	return NewTurn(chatID, RoleUser, content)
}

// NewAssistantTurn creates an assistant turn attributed to a model.
func NewAssistantTurn(chatID, modelName, content string) *Turn {
	t := NewTurn(chatID, RoleAssistant, content)
	t.ModelName = modelName
	return t
}

// IsEmpty reports whether the turn content is empty or whitespace-only.
func (t *Turn) IsEmpty() bool {
	return strings.TrimSpace(t.Content) == ""
}

// Preview returns a truncated single-line preview of the turn content.
// Uses rune-based truncation to handle Unicode correctly.
func (t *Turn) Preview(maxLen int) string {
	content := strings.ReplaceAll(t.Content, "\n", " ")
	content = strings.ReplaceAll(content, "\r", "")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
