// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jeranaias/parley/internal/store"
)

// Switching chats while the interrupt handler reads the current chat must be
// safe; run with -race.
func TestApp_ChatSwitchConcurrentWithInterruptRead(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "parley.db"), slog.Default())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	app := &App{store: st, logger: slog.Default()}
	ctx := context.Background()
	if err := app.newChat(ctx, "first"); err != nil {
		t.Fatalf("newChat: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if app.currentChatID() == "" {
					t.Error("currentChatID returned empty")
					return
				}
			}
		}
	}()

	for i := 0; i < 100; i++ {
		if err := app.newChat(ctx, "switch"); err != nil {
			t.Fatalf("newChat: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}
