// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/jeranaias/parley/internal/model"
)

func makeHistory(n int) []model.Turn {
	turns := make([]model.Turn, 0, n)
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		turns = append(turns, model.Turn{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return turns
}

// =============================================================================
// HISTORY WINDOW TESTS
// =============================================================================

func TestAssembleWindowsHistory(t *testing.T) {
	tests := []struct {
		name        string
		historyLen  int
		wantReplay  int
		wantOldest  string
	}{
		{"empty history", 0, 0, ""},
		{"under the window", 3, 3, "turn 0"},
		{"exactly the window", 5, 5, "turn 0"},
		{"over the window", 12, 5, "turn 7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Assemble(TargetLocal, "m", Input{
				Content: "new message",
				History: makeHistory(tt.historyLen),
			})

			// Replayed history plus the new turn.
			if len(req.Messages) != tt.wantReplay+1 {
				t.Fatalf("got %d messages, want %d", len(req.Messages), tt.wantReplay+1)
			}
			if tt.wantReplay > 0 && req.Messages[0].Content != tt.wantOldest {
				t.Errorf("oldest replayed = %q, want %q", req.Messages[0].Content, tt.wantOldest)
			}
			last := req.Messages[len(req.Messages)-1]
			if last.Content != "new message" || last.Role != model.RoleUser {
				t.Errorf("final message = %+v", last)
			}
		})
	}
}

func TestAssembleKeepsChronologicalOrder(t *testing.T) {
	req := Assemble(TargetLocal, "m", Input{
		Content: "latest",
		History: makeHistory(8),
	})

	want := []string{"turn 3", "turn 4", "turn 5", "turn 6", "turn 7", "latest"}
	if len(req.Messages) != len(want) {
		t.Fatalf("got %d messages", len(req.Messages))
	}
	for i, w := range want {
		if req.Messages[i].Content != w {
			t.Errorf("messages[%d] = %q, want %q", i, req.Messages[i].Content, w)
		}
	}
}

// =============================================================================
// LANGUAGE DIRECTIVE TESTS
// =============================================================================

func TestAssembleLocalDirectiveInUserContent(t *testing.T) {
	req := Assemble(TargetLocal, "m", Input{
		Content:          "What time is it?",
		ResponseLanguage: "German",
		History:          makeHistory(2),
	})

	// The directive rides inside the user content string, never as its own
	// message.
	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem {
			t.Fatalf("local assembly must not add a system message: %+v", msg)
		}
	}
	last := req.Messages[len(req.Messages)-1]
	if !strings.HasSuffix(last.Content, "please answer in German") {
		t.Errorf("user content = %q", last.Content)
	}
	if !strings.HasPrefix(last.Content, "What time is it?") {
		t.Errorf("user content = %q", last.Content)
	}
}

func TestAssembleCloudDirectiveAsLeadingSystemMessage(t *testing.T) {
	req := Assemble(TargetCloud, "m", Input{
		Content:          "What time is it?",
		ResponseLanguage: "German",
		History:          makeHistory(2),
	})

	first := req.Messages[0]
	if first.Role != model.RoleSystem || first.Content != "please answer in German" {
		t.Fatalf("leading message = %+v", first)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Content != "What time is it?" {
		t.Errorf("user content must stay untouched, got %q", last.Content)
	}
}

func TestAssembleAutoAddsNoDirective(t *testing.T) {
	for _, target := range []Target{TargetLocal, TargetCloud} {
		for _, lang := range []string{"Auto", ""} {
			req := Assemble(target, "m", Input{
				Content:          "hello",
				ResponseLanguage: lang,
				History:          makeHistory(2),
			})
			for _, msg := range req.Messages {
				if strings.Contains(msg.Content, "please answer in") {
					t.Errorf("target %d lang %q: directive leaked into %+v", target, lang, msg)
				}
				if msg.Role == model.RoleSystem {
					t.Errorf("target %d lang %q: unexpected system message", target, lang)
				}
			}
		}
	}
}

// =============================================================================
// ATTACHMENT TESTS
// =============================================================================

func TestAssembleImageSuppressesHistory(t *testing.T) {
	req := Assemble(TargetLocal, "m", Input{
		Content: "what is in this picture?",
		History: makeHistory(10),
		Attachments: model.Attachments{
			Images: []string{"aGVsbG8="},
		},
	})

	if len(req.Messages) != 1 {
		t.Fatalf("expected history suppressed, got %d messages", len(req.Messages))
	}
	if len(req.Messages[0].Images) != 1 {
		t.Errorf("image not attached: %+v", req.Messages[0])
	}
}

func TestAssembleImageKeepsCloudDirective(t *testing.T) {
	req := Assemble(TargetCloud, "m", Input{
		Content:          "describe this",
		ResponseLanguage: "Spanish",
		History:          makeHistory(4),
		Attachments:      model.Attachments{Images: []string{"aGVsbG8="}},
	})

	// History is suppressed; the directive is not history.
	if len(req.Messages) != 2 {
		t.Fatalf("got %d messages", len(req.Messages))
	}
	if req.Messages[0].Role != model.RoleSystem {
		t.Errorf("first message = %+v", req.Messages[0])
	}
}

func TestAssembleFileTextAppended(t *testing.T) {
	req := Assemble(TargetLocal, "m", Input{
		Content: "summarize this document",
		Attachments: model.Attachments{
			File: &model.FileAttachment{Name: "notes.pdf", ExtractedText: "quarterly results were flat"},
		},
		History: makeHistory(3),
	})

	last := req.Messages[len(req.Messages)-1]
	if !strings.Contains(last.Content, "quarterly results were flat") {
		t.Errorf("file text missing from content: %q", last.Content)
	}
	// A file attachment alone must not suppress history.
	if len(req.Messages) != 4 {
		t.Errorf("got %d messages, want history kept", len(req.Messages))
	}
}

// =============================================================================
// OPTIONS TESTS
// =============================================================================

func TestAssembleClampsOptions(t *testing.T) {
	req := Assemble(TargetLocal, "m", Input{
		Content: "hi",
		Options: model.SamplingOptions{Temperature: 9, Seed: -1, ContextWindow: 1, TopK: 0, TopP: 2},
	})

	opts := req.Options
	if opts.Temperature != 1.0 || opts.Seed != 0 || opts.ContextWindow != 1024 || opts.TopK != 1 || opts.TopP != 1.0 {
		t.Errorf("options not clamped: %+v", opts)
	}
}

func TestAssembleDefaultRole(t *testing.T) {
	req := Assemble(TargetLocal, "m", Input{Content: "hi"})
	if req.Messages[0].Role != model.RoleUser {
		t.Errorf("role = %q, want user", req.Messages[0].Role)
	}
}
