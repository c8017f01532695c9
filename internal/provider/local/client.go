// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package local implements the provider.Client contract against a local
// inference server speaking the Ollama-style HTTP API: newline-delimited JSON
// chat streaming, /api/tags model listing, and model pull/delete management.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/stream"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// DefaultBaseURL uses the explicit IPv4 loopback to avoid IPv6 resolution
// issues on Windows.
const DefaultBaseURL = "http://127.0.0.1:11434"

// Config holds the local client settings.
type Config struct {
	// BaseURL of the inference server (default DefaultBaseURL).
	BaseURL string

	// Name shown in user-facing errors (default "Ollama").
	Name string

	// Timeout for buffered requests (default provider.DefaultRequestTimeout).
	// Streaming requests ignore it and rely on context cancellation.
	Timeout time.Duration

	// Proxy applies to every request when enabled.
	Proxy provider.ProxyConfig

	Logger *slog.Logger
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the local inference server. Safe for concurrent use.
// Each call is a single attempt; retry policy belongs to the caller.
type Client struct {
	name         string
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

var _ provider.Client = (*Client)(nil)

// NewClient creates a local inference client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "Ollama"
	}
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
		name:         cfg.Name,
		baseURL:      cfg.BaseURL,
		httpClient:   httpClient,
		streamClient: streamClient,
		logger:       cfg.Logger,
	}, nil
}

// Name returns the provider display name.
func (c *Client) Name() string {
	return c.name
}

// =============================================================================
// CHAT
// =============================================================================

// ChatOnce performs a buffered chat call.
func (c *Client) ChatOnce(ctx context.Context, req provider.ChatRequest) (provider.AssistantReply, error) {
	c.logger.Debug("local chat", "model", req.Model, "messages", len(req.Messages))

	body, err := c.post(ctx, c.httpClient, "/api/chat", buildChatPayload(req, false))
	if err != nil {
		return provider.AssistantReply{}, err
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return provider.AssistantReply{}, &provider.MalformedResponseError{Provider: c.name, Cause: err}
	}

	return provider.AssistantReply{
		Content: decoded.Message.Content,
		Metrics: model.CompletionMetrics{
			TotalDuration:   time.Duration(decoded.TotalDuration),
			LoadDuration:    time.Duration(decoded.LoadDuration),
			PromptEvalCount: decoded.PromptEvalCount,
			EvalCount:       decoded.EvalCount,
			EvalDuration:    time.Duration(decoded.EvalDuration),
		},
	}, nil
}

// OpenChatStream performs a streaming chat call, decoding the ND-JSON body
// chunk by chunk. Returns a transport error if the connection drops before
// the terminal record arrives.
func (c *Client) OpenChatStream(ctx context.Context, req provider.ChatRequest, fn provider.StreamFunc) error {
	c.logger.Debug("local chat stream", "model", req.Model, "messages", len(req.Messages))

	resp, err := c.send(ctx, c.streamClient, http.MethodPost, "/api/chat", buildChatPayload(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := stream.NewChatDecoder(c.logger)
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				fn(provider.StreamEvent{
					Delta: ev.Delta,
					Done:  ev.Done,
					Metrics: model.CompletionMetrics{
						TotalDuration:   ev.TotalDuration,
						LoadDuration:    ev.LoadDuration,
						PromptEvalCount: ev.PromptEvalCount,
						EvalCount:       ev.EvalCount,
						EvalDuration:    ev.EvalDuration,
					},
				})
				if ev.Done {
					return nil
				}
			}
		}
		if readErr == io.EOF {
			// Stream closed without the terminal record.
			return provider.WrapTransport(c.name, io.ErrUnexpectedEOF)
		}
		if readErr != nil {
			return provider.WrapTransport(c.name, readErr)
		}
	}
}

func buildChatPayload(req provider.ChatRequest, streaming bool) chatPayload {
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Images:  m.Images,
		})
	}
	opts := req.Options.Clamped()
	return chatPayload{
		Model:    req.Model,
		Messages: msgs,
		Stream:   streaming,
		Options: wireOptions{
			Temperature:   opts.Temperature,
			Seed:          opts.Seed,
			ContextWindow: opts.ContextWindow,
			TopK:          opts.TopK,
			TopP:          opts.TopP,
		},
	}
}

// =============================================================================
// MODEL MANAGEMENT
// =============================================================================

// ListModels fetches the installed models from GET /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	resp, err := c.send(ctx, c.httpClient, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.WrapTransport(c.name, err)
	}

	var decoded tagsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &provider.MalformedResponseError{Provider: c.name, Cause: err}
	}

	descriptors := make([]provider.ModelDescriptor, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		descriptors = append(descriptors, provider.ModelDescriptor{
			Name:       m.Name,
			Provider:   c.name,
			SizeBytes:  m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}
	return descriptors, nil
}

// DeleteModel removes an installed model via DELETE /api/delete.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	resp, err := c.send(ctx, c.httpClient, http.MethodDelete, "/api/delete", deletePayload{Name: name})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PullProgress is one download progress report.
type PullProgress struct {
	Status    string
	Digest    string
	Total     int64
	Completed int64
}

// Percent returns the completion percentage, or 0 when the total is unknown.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// PullModel downloads a model via POST /api/pull, invoking fn for each
// progress record. The download is complete when a record with status
// "success" arrives; a stream that ends without one is a transport fault.
func (c *Client) PullModel(ctx context.Context, name string, fn func(PullProgress)) error {
	resp, err := c.send(ctx, c.streamClient, http.MethodPost, "/api/pull", pullPayload{Name: name, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var lines stream.LineDecoder
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				var ev pullEvent
				if err := json.Unmarshal(line, &ev); err != nil {
					c.logger.Debug("skipping malformed pull line", "error", err)
					continue
				}
				if fn != nil {
					fn(PullProgress{
						Status:    ev.Status,
						Digest:    ev.Digest,
						Total:     ev.Total,
						Completed: ev.Completed,
					})
				}
				if ev.Status == "success" {
					return nil
				}
			}
		}
		if readErr == io.EOF {
			return provider.WrapTransport(c.name, io.ErrUnexpectedEOF)
		}
		if readErr != nil {
			return provider.WrapTransport(c.name, readErr)
		}
	}
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// send issues one request and maps every failure into the error taxonomy.
// The caller owns the response body on success.
func (c *Client) send(ctx context.Context, client *http.Client, method, path string, payload any) (*http.Response, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &provider.ServiceError{Provider: c.name, Message: fmt.Sprintf("failed to build request: %v", err)}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &provider.ServiceError{Provider: c.name, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, provider.WrapTransport(c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, provider.NewServiceError(c.name, resp.StatusCode, body)
	}

	return resp, nil
}

// post issues a buffered request and returns the full response body.
func (c *Client) post(ctx context.Context, client *http.Client, path string, payload any) ([]byte, error) {
	resp, err := c.send(ctx, client, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.WrapTransport(c.name, err)
	}
	return body, nil
}
