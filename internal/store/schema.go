// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

// Schema creates the chat persistence tables.
const Schema = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	avatar_ref TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL -- Unix nanoseconds
);

CREATE TABLE IF NOT EXISTS turns (
	id          TEXT PRIMARY KEY,
	chat_id     TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	model_name  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL, -- Unix nanoseconds
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	attachments TEXT NOT NULL DEFAULT '',
	metrics     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_turns_chat ON turns(chat_id, created_at);

CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
