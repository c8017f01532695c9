// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
)

// =============================================================================
// TURN TESTS
// =============================================================================

func TestNewUserTurn(t *testing.T) {
	turn := NewUserTurn("chat-1", "Hello")

	if turn.Role != RoleUser {
		t.Errorf("Role = %q, want 'user'", turn.Role)
	}
	if turn.ChatID != "chat-1" {
		t.Errorf("ChatID = %q, want 'chat-1'", turn.ChatID)
	}
	if turn.Content != "Hello" {
		t.Errorf("Content = %q, want 'Hello'", turn.Content)
	}
	if turn.ID == "" {
		t.Error("ID should be generated")
	}
	if turn.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestNewAssistantTurn(t *testing.T) {
	turn := NewAssistantTurn("chat-1", "qwen2.5:7b", "Response")

	if turn.Role != RoleAssistant {
		t.Errorf("Role = %q, want 'assistant'", turn.Role)
	}
	if turn.ModelName != "qwen2.5:7b" {
		t.Errorf("ModelName = %q, want 'qwen2.5:7b'", turn.ModelName)
	}
	if !turn.Metrics.IsZero() {
		t.Error("Metrics should be zero until set")
	}
}

func TestTurn_IsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", true},
		{"whitespace only", "   \n\t ", true},
		{"text", "hi", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			turn := NewUserTurn("c", tc.content)
			if got := turn.IsEmpty(); got != tc.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTurn_Preview(t *testing.T) {
	turn := NewUserTurn("c", "line one\nline two that is fairly long indeed")

	preview := turn.Preview(20)
	if len([]rune(preview)) > 20 {
		t.Errorf("Preview too long: %q", preview)
	}
	for _, r := range preview {
		if r == '\n' {
			t.Error("Preview should not contain newlines")
		}
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !r.Valid() {
			t.Errorf("Role %q should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Error("unknown role should not be valid")
	}
}

func TestAttachments(t *testing.T) {
	var a Attachments
	if !a.IsEmpty() {
		t.Error("zero attachments should be empty")
	}
	if a.HasImages() {
		t.Error("zero attachments should have no images")
	}

	a.Images = []string{"aGVsbG8="}
	if a.IsEmpty() || !a.HasImages() {
		t.Error("image attachment not detected")
	}
}

// =============================================================================
// SAMPLING OPTIONS TESTS
// =============================================================================

func TestDefaultSamplingOptions(t *testing.T) {
	opts := DefaultSamplingOptions()

	if opts.Temperature != 0.8 {
		t.Errorf("Temperature = %v, want 0.8", opts.Temperature)
	}
	if opts.Seed != 0 {
		t.Errorf("Seed = %v, want 0", opts.Seed)
	}
	if opts.ContextWindow != 2048 {
		t.Errorf("ContextWindow = %v, want 2048", opts.ContextWindow)
	}
	if opts.TopK != 40 {
		t.Errorf("TopK = %v, want 40", opts.TopK)
	}
	if opts.TopP != 0.9 {
		t.Errorf("TopP = %v, want 0.9", opts.TopP)
	}
}

func TestSamplingOptions_Clamped(t *testing.T) {
	tests := []struct {
		name string
		in   SamplingOptions
		want SamplingOptions
	}{
		{
			"below bounds",
			SamplingOptions{Temperature: 0.0, Seed: -5, ContextWindow: 10, TopK: 0, TopP: 0.0},
			SamplingOptions{Temperature: 0.1, Seed: 0, ContextWindow: 1024, TopK: 1, TopP: 0.1},
		},
		{
			"above bounds",
			SamplingOptions{Temperature: 2.0, Seed: 7, ContextWindow: 99999, TopK: 1000, TopP: 1.5},
			SamplingOptions{Temperature: 1.0, Seed: 7, ContextWindow: 10240, TopK: 300, TopP: 1.0},
		},
		{
			"in range unchanged",
			SamplingOptions{Temperature: 0.5, Seed: 42, ContextWindow: 4096, TopK: 50, TopP: 0.5},
			SamplingOptions{Temperature: 0.5, Seed: 42, ContextWindow: 4096, TopK: 50, TopP: 0.5},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.Clamped(); got != tc.want {
				t.Errorf("Clamped() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestSamplingStore_Reset(t *testing.T) {
	store := NewSamplingStore()

	// Any sequence of mutations followed by Reset yields exactly the defaults.
	store.Set(SamplingOptions{Temperature: 0.3, Seed: 99, ContextWindow: 8192, TopK: 120, TopP: 0.4})
	store.Set(SamplingOptions{Temperature: 1.0, Seed: 1, ContextWindow: 1024, TopK: 1, TopP: 1.0})
	store.Reset()

	if got := store.Get(); got != DefaultSamplingOptions() {
		t.Errorf("after Reset: %+v, want defaults", got)
	}
}

func TestSamplingStore_SetClamps(t *testing.T) {
	store := NewSamplingStore()
	store.Set(SamplingOptions{Temperature: 9, Seed: -1, ContextWindow: 1, TopK: 9999, TopP: 9})

	got := store.Get()
	if got.Temperature != 1.0 || got.Seed != 0 || got.ContextWindow != 1024 || got.TopK != 300 || got.TopP != 1.0 {
		t.Errorf("Set did not clamp: %+v", got)
	}
}

func TestCompletionMetrics_TokensPerSecond(t *testing.T) {
	var m CompletionMetrics
	if m.TokensPerSecond() != 0 {
		t.Error("zero metrics should yield 0 tok/s")
	}

	m.EvalCount = 100
	m.EvalDuration = 2e9 // 2s
	if got := m.TokensPerSecond(); got != 50 {
		t.Errorf("TokensPerSecond = %v, want 50", got)
	}
}
