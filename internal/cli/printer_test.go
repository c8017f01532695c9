// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/model"
)

func TestPrinter_StreamsOnlyNewText(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	done := p.begin()

	p.publish(chat.Snapshot{State: chat.StateSending})
	p.publish(chat.Snapshot{State: chat.StateStreaming, PartialText: "Hel"})
	p.publish(chat.Snapshot{State: chat.StateStreaming, PartialText: "Hello wor"})
	p.publish(chat.Snapshot{State: chat.StateStreaming, PartialText: "Hello world"})

	turn := model.NewAssistantTurn("c1", "m", "Hello world")
	p.publish(chat.Snapshot{State: chat.StateIdle, FinalTurn: turn})

	select {
	case <-done:
	default:
		t.Fatal("done channel not closed after idle snapshot")
	}
	if got := buf.String(); got != "Hello world\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPrinter_FinalTurnWithoutStreaming(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	done := p.begin()

	turn := model.NewAssistantTurn("c1", "m", "buffered reply")
	p.publish(chat.Snapshot{State: chat.StateAwaitingBuffered})
	p.publish(chat.Snapshot{State: chat.StateIdle, FinalTurn: turn})

	<-done
	if got := buf.String(); got != "buffered reply\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPrinter_Error(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	done := p.begin()

	p.publish(chat.Snapshot{State: chat.StateIdle, ErrText: "Could not connect to the Ollama server."})

	<-done
	if got := buf.String(); got != "[error] Could not connect to the Ollama server.\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPrinter_CancelledMidStream(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	done := p.begin()

	p.publish(chat.Snapshot{State: chat.StateStreaming, PartialText: "partial"})
	p.publish(chat.Snapshot{State: chat.StateIdle})

	<-done
	if !strings.Contains(buf.String(), "[cancelled]") {
		t.Errorf("output = %q, want cancelled marker", buf.String())
	}
}

func TestPrinter_MetricsWhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, true)
	done := p.begin()

	turn := model.NewAssistantTurn("c1", "m", "hi")
	turn.Metrics = model.CompletionMetrics{EvalCount: 42, EvalDuration: 2_000_000_000}
	p.publish(chat.Snapshot{State: chat.StateIdle, FinalTurn: turn})

	<-done
	if !strings.Contains(buf.String(), "42 tokens") {
		t.Errorf("output = %q, want token count", buf.String())
	}
}
