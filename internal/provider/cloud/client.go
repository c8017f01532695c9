// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/stream"
)

// ErrNotConfigured indicates the API key is not set.
var ErrNotConfigured = errors.New("cloud provider API key not configured")

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the cloud client settings.
type Config struct {
	// Descriptor identifies the vendor. A BaseURL override from user config
	// should already be applied.
	Descriptor Descriptor

	// APIKey is the bearer token. Required.
	APIKey string

	// Timeout for buffered requests (default provider.DefaultRequestTimeout).
	Timeout time.Duration

	// Proxy applies to every request when enabled.
	Proxy provider.ProxyConfig

	Logger *slog.Logger
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to one OpenAI-compatible vendor. Safe for concurrent use.
type Client struct {
	desc         Descriptor
	apiKey       string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

var _ provider.Client = (*Client)(nil)

// NewClient creates a cloud client for the configured vendor.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = provider.DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient, err := provider.NewHTTPClient(cfg.Timeout, cfg.Proxy)
	if err != nil {
		return nil, err
	}
	streamClient, err := provider.NewHTTPClient(0, cfg.Proxy)
	if err != nil {
		return nil, err
	}

	return &Client{
		desc:         cfg.Descriptor,
		apiKey:       cfg.APIKey,
		httpClient:   httpClient,
		streamClient: streamClient,
		logger:       cfg.Logger,
	}, nil
}

// Name returns the vendor display name.
func (c *Client) Name() string {
	return c.desc.Name
}

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// =============================================================================
// CHAT
// =============================================================================

// ChatOnce performs a buffered chat completion.
func (c *Client) ChatOnce(ctx context.Context, req provider.ChatRequest) (provider.AssistantReply, error) {
	if !c.IsConfigured() {
		return provider.AssistantReply{}, ErrNotConfigured
	}
	c.logger.Debug("cloud chat", "provider", c.desc.Name, "model", req.Model, "messages", len(req.Messages))

	resp, err := c.send(ctx, c.httpClient, buildCompletionPayload(req, false), false)
	if err != nil {
		return provider.AssistantReply{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.AssistantReply{}, provider.WrapTransport(c.desc.Name, err)
	}

	var decoded completionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return provider.AssistantReply{}, &provider.MalformedResponseError{Provider: c.desc.Name, Cause: err}
	}

	return provider.AssistantReply{Content: decoded.content()}, nil
}

// OpenChatStream performs a streaming chat completion over SSE. The Done
// event is delivered exactly once, on the finish-reason chunk or the [DONE]
// sentinel, whichever comes first.
func (c *Client) OpenChatStream(ctx context.Context, req provider.ChatRequest, fn provider.StreamFunc) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	c.logger.Debug("cloud chat stream", "provider", c.desc.Name, "model", req.Model, "messages", len(req.Messages))

	resp, err := c.send(ctx, c.streamClient, buildCompletionPayload(req, true), true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := stream.NewSSEReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				// Stream closed without [DONE] or a finish reason.
				return provider.WrapTransport(c.desc.Name, io.ErrUnexpectedEOF)
			}
			return provider.WrapTransport(c.desc.Name, err)
		}

		if stream.IsDone(data) {
			fn(provider.StreamEvent{Done: true})
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Debug("skipping malformed stream event", "provider", c.desc.Name, "error", err)
			continue
		}

		if delta := chunk.delta(); delta != "" {
			fn(provider.StreamEvent{Delta: delta})
		}
		if chunk.finished() {
			fn(provider.StreamEvent{Done: true})
			return nil
		}
	}
}

func buildCompletionPayload(req provider.ChatRequest, streaming bool) completionPayload {
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	opts := req.Options.Clamped()
	return completionPayload{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Seed:        opts.Seed,
		Stream:      streaming,
	}
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels fetches the vendor's model identifiers from GET /models.
func (c *Client) ListModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.desc.BaseURL+"/models", nil)
	if err != nil {
		return nil, &provider.ServiceError{Provider: c.desc.Name, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	c.setHeaders(req, false)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.WrapTransport(c.desc.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.WrapTransport(c.desc.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewServiceError(c.desc.Name, resp.StatusCode, body)
	}

	var decoded modelsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &provider.MalformedResponseError{Provider: c.desc.Name, Cause: err}
	}

	descriptors := make([]provider.ModelDescriptor, 0, len(decoded.Data))
	for _, m := range decoded.Data {
		descriptors = append(descriptors, provider.ModelDescriptor{
			Name:     m.ID,
			Provider: c.desc.Name,
		})
	}
	return descriptors, nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func (c *Client) setHeaders(req *http.Request, streaming bool) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}
}

// send issues the completion request and maps every failure into the error
// taxonomy. The caller owns the response body on success.
func (c *Client) send(ctx context.Context, client *http.Client, payload completionPayload, streaming bool) (*http.Response, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, &provider.ServiceError{Provider: c.desc.Name, Message: fmt.Sprintf("failed to build request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.desc.BaseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, &provider.ServiceError{Provider: c.desc.Name, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	c.setHeaders(req, streaming)

	resp, err := client.Do(req)
	if err != nil {
		return nil, provider.WrapTransport(c.desc.Name, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, provider.NewServiceError(c.desc.Name, resp.StatusCode, body)
	}

	return resp, nil
}
