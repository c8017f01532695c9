// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/jeranaias/parley/internal/chat"
)

// =============================================================================
// SNAPSHOT PRINTER
// =============================================================================

// printer turns orchestrator snapshots into terminal output. Streamed
// snapshots carry the full accumulated text, so the printer tracks how much
// has already been written and emits only the tail.
type printer struct {
	out io.Writer

	mu      sync.Mutex
	written int
	done    chan struct{}
	verbose bool
}

func newPrinter(out io.Writer, verbose bool) *printer {
	return &printer{out: out, verbose: verbose}
}

// begin arms the printer for one send and returns the channel closed when the
// send settles.
func (p *printer) begin() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = 0
	p.done = make(chan struct{})
	return p.done
}

// publish implements chat.Publisher.
func (p *printer) publish(snap chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch snap.State {
	case chat.StateSending, chat.StateAwaitingBuffered:
		// Nothing visible yet.

	case chat.StateStreaming:
		p.writeTail(snap.PartialText)

	case chat.StateIdle:
		switch {
		case snap.ErrText != "":
			if p.written > 0 {
				fmt.Fprintln(p.out)
			}
			fmt.Fprintf(p.out, "[error] %s\n", snap.ErrText)
		case snap.FinalTurn != nil:
			p.writeTail(snap.FinalTurn.Content)
			fmt.Fprintln(p.out)
			if p.verbose && !snap.FinalTurn.Metrics.IsZero() {
				m := snap.FinalTurn.Metrics
				fmt.Fprintf(p.out, "  (%d tokens, %.1f tok/s)\n",
					m.EvalCount, m.TokensPerSecond())
			}
		case p.written > 0:
			// Cancelled mid-stream; partials are discarded.
			fmt.Fprintln(p.out, "\n[cancelled]")
		}
		p.settle()
	}
}

// writeTail prints whatever of text extends past what was already written.
// Text already on the terminal cannot be rewritten, so a snapshot shorter
// than the written prefix is skipped until the text grows past it again.
// When a reasoning span closes mid-stream the filtered text shrinks and any
// already-printed reasoning prefix stays visible until the reply ends; the
// persisted turn and final snapshot are unaffected.
func (p *printer) writeTail(text string) {
	if len(text) > p.written {
		fmt.Fprint(p.out, text[p.written:])
		p.written = len(text)
	}
}

func (p *printer) settle() {
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
}
