// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt assembles provider-ready message lists from persisted
// conversation history and the new user turn.
package prompt

import (
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// ASSEMBLY POLICY
// =============================================================================

// HistoryWindow is the number of most-recent persisted turns replayed before
// the new turn.
const HistoryWindow = 5

// AutoLanguage disables the response-language directive.
const AutoLanguage = "Auto"

// Target selects how the language directive is placed. Local inference wants
// the directive inside the user content string; the OpenAI-compatible cloud
// providers want a leading system message. The asymmetry follows the two
// ecosystems' prompt conventions and must stay.
type Target int

const (
	TargetLocal Target = iota
	TargetCloud
)

// Input carries everything one assembly needs.
type Input struct {
	// Content is the raw text of the new turn.
	Content string

	// Role of the new turn; empty defaults to user.
	Role model.Role

	// ResponseLanguage is the language the model is asked to answer in.
	// AutoLanguage (or empty) adds no directive.
	ResponseLanguage string

	// History is the full persisted turn list for the chat, oldest first.
	History []model.Turn

	// Attachments of the new turn only; history attachments are never
	// replayed.
	Attachments model.Attachments

	// Options is the sampling configuration forwarded to the provider.
	Options model.SamplingOptions
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assemble produces the ordered message list and sampling payload for one
// chat call against the given model.
//
// History is windowed to the last HistoryWindow turns in chronological order.
// A turn carrying any image suppresses history entirely: multi-modal turns go
// out without textual context so vision models are not confused by unrelated
// prior text. That trade-off is deliberate.
func Assemble(target Target, modelName string, in Input) provider.ChatRequest {
	role := in.Role
	if role == "" {
		role = model.RoleUser
	}

	directive := languageDirective(in.ResponseLanguage)

	var messages []provider.Message

	if target == TargetCloud && directive != "" {
		messages = append(messages, provider.Message{
			Role:    model.RoleSystem,
			Content: directive,
		})
	}

	if !in.Attachments.HasImages() {
		for _, turn := range windowed(in.History) {
			messages = append(messages, provider.Message{
				Role:    turn.Role,
				Content: turn.Content,
			})
		}
	}

	content := in.Content
	if in.Attachments.File != nil && in.Attachments.File.ExtractedText != "" {
		content = content + "\n\n" + in.Attachments.File.ExtractedText
	}
	if target == TargetLocal && directive != "" {
		content = content + " " + directive
	}

	messages = append(messages, provider.Message{
		Role:    role,
		Content: content,
		Images:  in.Attachments.Images,
	})

	return provider.ChatRequest{
		Model:    modelName,
		Messages: messages,
		Options:  in.Options.Clamped(),
	}
}

// windowed returns the last HistoryWindow turns, chronological order kept.
func windowed(history []model.Turn) []model.Turn {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}

// languageDirective returns the directive text, or "" for Auto.
func languageDirective(language string) string {
	if language == "" || language == AutoLanguage {
		return ""
	}
	return "please answer in " + language
}
