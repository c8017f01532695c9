// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the core domain types for the chat client.
//
// # Key Types
//
//   - Chat: one conversation, owning an ordered sequence of turns
//   - Turn: single message with role, content, attachments and metrics
//   - SamplingOptions: shared inference parameters with fixed defaults
//   - SamplingStore: guarded process-wide sampling configuration
//
// # Usage
//
// Create a chat and its first turn:
//
//	chat := model.NewChat("Trip planning")
//	turn := model.NewUserTurn(chat.ID, "Hello!")
//
// Take a sampling snapshot for a request:
//
//	opts := samplingStore.Get()
package model
