// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package local

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// wireMessage is one conversation entry in the local inference schema.
type wireMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 payloads
}

// wireOptions carries the sampling parameters. Zero values are sent
// explicitly: a seed of 0 and a temperature a user dialed down are both
// meaningful, so nothing here is omitempty.
type wireOptions struct {
	Temperature   float64 `json:"temperature"`
	Seed          int     `json:"seed"`
	ContextWindow int     `json:"num_ctx"`
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
}

// chatPayload is the request body for POST /api/chat.
type chatPayload struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  wireOptions   `json:"options"`
}

// deletePayload is the request body for DELETE /api/delete.
type deletePayload struct {
	Name string `json:"name"`
}

// pullPayload is the request body for POST /api/pull.
type pullPayload struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// chatResponse is the buffered response from POST /api/chat.
type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	TotalDuration   int64 `json:"total_duration,omitempty"`
	LoadDuration    int64 `json:"load_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	EvalDuration    int64 `json:"eval_duration,omitempty"`
}

// modelEntry is one installed model in the GET /api/tags response.
type modelEntry struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

// tagsResponse is the GET /api/tags response body.
type tagsResponse struct {
	Models []modelEntry `json:"models"`
}

// pullEvent is one progress record of the POST /api/pull ND-JSON stream.
// Status "success" terminates the download.
type pullEvent struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
