// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// USER MESSAGE TESTS
// =============================================================================

func TestTransportErrorUserMessage(t *testing.T) {
	err := &TransportError{Provider: "Ollama", Kind: CannotConnect, Cause: errors.New("dial tcp: connection refused")}
	want := "Could not connect to the Ollama server."
	if got := err.UserMessage(); got != want {
		t.Errorf("UserMessage() = %q, want %q", got, want)
	}
}

func TestServiceErrorUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "decoded envelope text wins",
			err:  &ServiceError{Provider: "OpenAI", Status: 401, Message: "invalid api key", Body: `{"error":{"message":"invalid api key"}}`},
			want: "invalid api key",
		},
		{
			name: "generic fallback without envelope",
			err:  &ServiceError{Provider: "OpenAI", Status: 500, Body: "internal"},
			want: "OpenAI error 500: internal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.UserMessage(); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMalformedResponseUserMessage(t *testing.T) {
	err := &MalformedResponseError{Provider: "Mistral", Cause: errors.New("unexpected end of JSON input")}
	want := "Mistral response: no JSON body or failed to decode."
	if got := err.UserMessage(); got != want {
		t.Errorf("UserMessage() = %q, want %q", got, want)
	}
}

func TestUserMessageHelper(t *testing.T) {
	wrapped := fmt.Errorf("calling chat: %w", &TransportError{Provider: "Ollama", Kind: CannotConnect})
	if got := UserMessage(wrapped); got != "Could not connect to the Ollama server." {
		t.Errorf("UserMessage(wrapped) = %q", got)
	}

	plain := errors.New("something else")
	if got := UserMessage(plain); got != "something else" {
		t.Errorf("UserMessage(plain) = %q", got)
	}
}

// =============================================================================
// CLASSIFICATION TESTS
// =============================================================================

func TestWrapTransportClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind TransportKind
	}{
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, CannotConnect},
		{"dns error", &net.DNSError{Err: "no such host", Name: "example.invalid"}, CannotConnect},
		{"unexpected eof", io.ErrUnexpectedEOF, ServiceUnavailable},
		{"deadline", context.DeadlineExceeded, RequestFailed},
		{"other", errors.New("boom"), RequestFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapTransport("Ollama", tt.err)
			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransportError, got %T", err)
			}
			if te.Kind != tt.kind {
				t.Errorf("Kind = %d, want %d", te.Kind, tt.kind)
			}
			if !errors.Is(err, tt.err) {
				t.Error("cause not preserved through Unwrap")
			}
		})
	}
}

func TestWrapTransportPassesThroughCancellation(t *testing.T) {
	err := WrapTransport("Ollama", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		t.Error("cancellation must not be wrapped as a transport fault")
	}
}

func TestWrapTransportNil(t *testing.T) {
	if err := WrapTransport("Ollama", nil); err != nil {
		t.Errorf("WrapTransport(nil) = %v, want nil", err)
	}
}

// =============================================================================
// ENVELOPE TESTS
// =============================================================================

func TestDecodeErrorEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested error object", `{"error":{"message":"model not found"}}`, "model not found"},
		{"flat msg field", `{"msg":"quota exceeded"}`, "quota exceeded"},
		{"nested wins over msg", `{"error":{"message":"a"},"msg":"b"}`, "a"},
		{"not json", "<html>bad gateway</html>", ""},
		{"unrelated json", `{"status":"error"}`, ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeErrorEnvelope([]byte(tt.body)); got != tt.want {
				t.Errorf("DecodeErrorEnvelope(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestNewServiceError(t *testing.T) {
	err := NewServiceError("Groq", 429, []byte(`{"error":{"message":"rate limited"}}`))
	if err.Message != "rate limited" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Status != 429 {
		t.Errorf("Status = %d", err.Status)
	}
	if got := err.UserMessage(); got != "rate limited" {
		t.Errorf("UserMessage() = %q", got)
	}
}

// =============================================================================
// TRANSPORT TESTS
// =============================================================================

func TestNewHTTPClientDirectWhenDisabled(t *testing.T) {
	client, err := NewHTTPClient(DefaultRequestTimeout, ProxyConfig{})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if client.Timeout != DefaultRequestTimeout {
		t.Errorf("Timeout = %v", client.Timeout)
	}
	if _, ok := client.Transport.(*proxyAuthTransport); ok {
		t.Error("auth transport installed without proxy auth enabled")
	}
}

func TestNewHTTPClientRejectsBadProxyURL(t *testing.T) {
	_, err := NewHTTPClient(0, ProxyConfig{Enabled: true, URL: "://not-a-url"})
	if err == nil {
		t.Fatal("expected error for invalid proxy url")
	}
}

func TestProxyAuthHeaderAttached(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Proxy-Authorization")
	}))
	defer srv.Close()

	// Point the "proxy" at the test server so the header lands somewhere
	// observable.
	client, err := NewHTTPClient(0, ProxyConfig{
		Enabled:     true,
		URL:         srv.URL,
		AuthEnabled: true,
		Login:       "user",
		Password:    "secret",
	})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	resp, err := client.Get("http://example.test/")
	if err != nil {
		t.Fatalf("Get through proxy: %v", err)
	}
	resp.Body.Close()

	// base64("user:secret")
	want := "Basic dXNlcjpzZWNyZXQ="
	if gotHeader != want {
		t.Errorf("Proxy-Authorization = %q, want %q", gotHeader, want)
	}
}
