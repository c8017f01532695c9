// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// WIRE-NEUTRAL REQUEST TYPES
// =============================================================================

// Message is one entry of an assembled conversation, ready for a backend.
// Images are base64-encoded payloads; only the local backend accepts them.
type Message struct {
	Role    model.Role
	Content string
	Images  []string
}

// ChatRequest is a backend-neutral chat call. Each client serializes it into
// its own wire schema.
type ChatRequest struct {
	Model    string
	Messages []Message
	Options  model.SamplingOptions
}

// AssistantReply is the buffered result of a chat call.
type AssistantReply struct {
	Content string
	Metrics model.CompletionMetrics
}

// StreamEvent is one increment of a streaming chat call. Done is delivered
// exactly once, on the final event; Metrics is populated only then, and only
// by backends that report statistics.
type StreamEvent struct {
	Delta   string
	Done    bool
	Metrics model.CompletionMetrics
}

// StreamFunc receives stream events in arrival order.
type StreamFunc func(StreamEvent)

// =============================================================================
// MODEL DESCRIPTORS
// =============================================================================

// ModelDescriptor identifies a model offered by a provider.
type ModelDescriptor struct {
	// Name is the provider-scoped model identifier.
	Name string

	// Provider is the display name of the provider that offers the model.
	Provider string

	// SizeBytes is the on-disk size, when the provider reports it.
	SizeBytes int64

	// ModifiedAt is the last modification time, when reported.
	ModifiedAt time.Time
}

// =============================================================================
// CLIENT CONTRACT
// =============================================================================

// Client is the contract every chat backend implements. All network faults
// come back as values from the taxonomy in errors.go; no call panics on a
// provider failure.
type Client interface {
	// Name returns the provider display name used in user-facing errors.
	Name() string

	// ListModels fetches the models the provider currently offers.
	ListModels(ctx context.Context) ([]ModelDescriptor, error)

	// ChatOnce performs a buffered chat call and returns the full reply.
	ChatOnce(ctx context.Context, req ChatRequest) (AssistantReply, error)

	// OpenChatStream performs a streaming chat call, invoking fn for each
	// decoded event. It blocks until the stream ends, fails, or ctx is
	// canceled. Partial output before a failure is conveyed only through fn;
	// the error return is authoritative for success.
	OpenChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) error
}
