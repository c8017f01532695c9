// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// CHAT EXPORT
// =============================================================================

// exportDocument is the JSON export shape.
type exportDocument struct {
	Chat  model.Chat   `json:"chat"`
	Turns []model.Turn `json:"turns"`
}

// ExportMarkdown renders a chat and its turns as a Markdown document with
// role labels and timestamps.
func ExportMarkdown(chat model.Chat, turns []model.Turn) string {
	var sb strings.Builder
	sb.WriteString("# " + chat.DisplayName() + "\n\n")
	sb.WriteString("Created: " + chat.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, turn := range turns {
		label := "**User**"
		switch turn.Role {
		case model.RoleAssistant:
			label = "**Assistant**"
			if turn.ModelName != "" {
				label = "**Assistant** (" + turn.ModelName + ")"
			}
		case model.RoleSystem:
			label = "**System**"
		}
		sb.WriteString(label + " (" + turn.CreatedAt.Format("15:04") + "):\n\n")
		sb.WriteString(turn.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON renders a chat and its turns as pretty-printed JSON.
func ExportJSON(chat model.Chat, turns []model.Turn) ([]byte, error) {
	return json.MarshalIndent(exportDocument{Chat: chat, Turns: turns}, "", "  ")
}

// ExportChat writes a chat to path in the given format ("markdown" or
// "json"), atomically so a crash never leaves a half-written export.
func (s *Store) ExportChat(ctx context.Context, chatID, path, format string) error {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	turns, err := s.TurnsByChat(ctx, chatID)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case "json":
		data, err = ExportJSON(chat, turns)
		if err != nil {
			return fmt.Errorf("encoding export: %w", err)
		}
	case "markdown", "md", "":
		data = []byte(ExportMarkdown(chat, turns))
	default:
		return fmt.Errorf("unknown export format %q", format)
	}

	return util.AtomicWriteFile(path, data, 0o644)
}
