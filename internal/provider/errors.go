// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// TransportKind categorizes transport-level failures.
type TransportKind int

const (
	// CannotConnect covers host unreachable, connection refused, and offline.
	CannotConnect TransportKind = iota

	// ServiceUnavailable covers a connection lost mid-exchange.
	ServiceUnavailable

	// RequestFailed covers everything else, including timeouts and
	// request construction failures.
	RequestFailed
)

// TransportError is a network fault converted to a value at the client
// boundary. The orchestrator renders UserMessage inline; the wrapped cause
// stays available for logging.
type TransportError struct {
	Provider string
	Kind     TransportKind
	Cause    error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s transport: %v", e.Provider, e.Cause)
	}
	return e.Provider + " transport failure"
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the inline text shown to the user.
func (e *TransportError) UserMessage() string {
	return "Could not connect to the " + e.Provider + " server."
}

// ServiceError is a non-2xx response from a provider. Message holds the
// decoded error envelope text when the body carried one.
type ServiceError struct {
	Provider string
	Status   int
	Message  string
	Body     string
}

func (e *ServiceError) Error() string {
	return e.UserMessage()
}

// UserMessage returns the decoded provider error text, or a generic
// status/body fallback when no envelope decoded.
func (e *ServiceError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.Status, e.Body)
}

// MalformedResponseError is a 2xx response whose body could not be decoded.
type MalformedResponseError struct {
	Provider string
	Cause    error
}

func (e *MalformedResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: malformed response: %v", e.Provider, e.Cause)
	}
	return e.Provider + ": malformed response"
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the inline text shown to the user.
func (e *MalformedResponseError) UserMessage() string {
	return e.Provider + " response: no JSON body or failed to decode."
}

// ValidationError is a rejected user input, surfaced inline near the
// triggering control and never fatal.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// WrapTransport classifies a transport-level failure into the fixed taxonomy.
// Context cancellation passes through untouched so callers can distinguish a
// user abort from a network fault.
func WrapTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := RequestFailed
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		kind = ServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		kind = RequestFailed
	case isConnectFailure(err):
		kind = CannotConnect
	}

	return &TransportError{Provider: provider, Kind: kind, Cause: err}
}

// isConnectFailure reports whether err indicates the peer could not be
// reached at all.
func isConnectFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// url.Error from http.Client wraps the dial failure; the substring check
	// catches platforms where the wrapped type is opaque.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "no such host")
}

// UserMessage extracts the inline-renderable text from any taxonomy error.
// Unknown errors fall back to err.Error().
func UserMessage(err error) string {
	type messager interface {
		UserMessage() string
	}
	var m messager
	if errors.As(err, &m) {
		return m.UserMessage()
	}
	return err.Error()
}

// =============================================================================
// ERROR ENVELOPES
// =============================================================================

// errorEnvelope covers the two envelope shapes providers return:
// {"error":{"message":"..."}} and {"msg":"..."}.
type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Msg string `json:"msg"`
}

// DecodeErrorEnvelope extracts the provider error text from a non-2xx body.
// Returns "" when no known envelope decodes.
func DecodeErrorEnvelope(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return env.Msg
}

// NewServiceError builds a ServiceError from a non-2xx response, attempting
// envelope decode before falling back to the raw body.
func NewServiceError(provider string, status int, body []byte) *ServiceError {
	return &ServiceError{
		Provider: provider,
		Status:   status,
		Message:  DecodeErrorEnvelope(body),
		Body:     strings.TrimSpace(string(body)),
	}
}
