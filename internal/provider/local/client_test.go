// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package local

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

// =============================================================================
// BUFFERED CHAT TESTS
// =============================================================================

func TestChatOnce(t *testing.T) {
	var gotPayload chatPayload
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"hi"},"done":true,"eval_count":3,"eval_duration":1000000000}`))
	}))

	reply, err := client.ChatOnce(context.Background(), provider.ChatRequest{
		Model: "llama3.2",
		Messages: []provider.Message{
			{Role: model.RoleUser, Content: "hello"},
		},
		Options: model.DefaultSamplingOptions(),
	})
	if err != nil {
		t.Fatalf("ChatOnce: %v", err)
	}

	if reply.Content != "hi" {
		t.Errorf("Content = %q", reply.Content)
	}
	if reply.Metrics.EvalCount != 3 {
		t.Errorf("EvalCount = %d", reply.Metrics.EvalCount)
	}

	if gotPayload.Stream {
		t.Error("buffered call must send stream=false")
	}
	if gotPayload.Model != "llama3.2" {
		t.Errorf("model = %q", gotPayload.Model)
	}
	opts := gotPayload.Options
	if opts.Temperature != 0.8 || opts.Seed != 0 || opts.ContextWindow != 2048 || opts.TopK != 40 || opts.TopP != 0.9 {
		t.Errorf("options = %+v", opts)
	}
}

func TestChatOnceSendsImages(t *testing.T) {
	var gotPayload chatPayload
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"message":{"content":"a cat"},"done":true}`))
	}))

	_, err := client.ChatOnce(context.Background(), provider.ChatRequest{
		Model: "llava",
		Messages: []provider.Message{
			{Role: model.RoleUser, Content: "what is this?", Images: []string{"aGVsbG8="}},
		},
	})
	if err != nil {
		t.Fatalf("ChatOnce: %v", err)
	}
	if len(gotPayload.Messages) != 1 || len(gotPayload.Messages[0].Images) != 1 {
		t.Fatalf("images not forwarded: %+v", gotPayload.Messages)
	}
	if gotPayload.Messages[0].Images[0] != "aGVsbG8=" {
		t.Errorf("image payload = %q", gotPayload.Messages[0].Images[0])
	}
}

func TestChatOnceServiceError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))

	_, err := client.ChatOnce(context.Background(), provider.ChatRequest{Model: "missing"})
	var svcErr *provider.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if svcErr.UserMessage() != "model not found" {
		t.Errorf("UserMessage() = %q", svcErr.UserMessage())
	}
}

func TestChatOnceMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))

	_, err := client.ChatOnce(context.Background(), provider.ChatRequest{Model: "m"})
	var malErr *provider.MalformedResponseError
	if !errors.As(err, &malErr) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
	want := "Ollama response: no JSON body or failed to decode."
	if malErr.UserMessage() != want {
		t.Errorf("UserMessage() = %q, want %q", malErr.UserMessage(), want)
	}
}

func TestChatOnceConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(Config{BaseURL: url})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.ChatOnce(context.Background(), provider.ChatRequest{Model: "m"})
	var te *provider.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.UserMessage() != "Could not connect to the Ollama server." {
		t.Errorf("UserMessage() = %q", te.UserMessage())
	}
}

// =============================================================================
// STREAMING CHAT TESTS
// =============================================================================

func TestOpenChatStream(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		chunks := []string{
			`{"message":{"role":"assistant","content":"Hel"}}` + "\n",
			`{"message":{"role":"assistant","content":"lo"}}` + "\n",
			`{"message":{"role":"assistant","content":""},"done":true,"eval_count":5}` + "\n",
		}
		for _, chunk := range chunks {
			w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))

	var accumulated string
	var doneEvents int
	var finalMetrics model.CompletionMetrics
	err := client.OpenChatStream(context.Background(), provider.ChatRequest{Model: "m"}, func(ev provider.StreamEvent) {
		accumulated += ev.Delta
		if ev.Done {
			doneEvents++
			finalMetrics = ev.Metrics
		}
	})
	if err != nil {
		t.Fatalf("OpenChatStream: %v", err)
	}
	if accumulated != "Hello" {
		t.Errorf("accumulated = %q", accumulated)
	}
	if doneEvents != 1 {
		t.Errorf("done signaled %d times", doneEvents)
	}
	if finalMetrics.EvalCount != 5 {
		t.Errorf("EvalCount = %d", finalMetrics.EvalCount)
	}
}

func TestOpenChatStreamTruncated(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"partial"}}` + "\n"))
		// Connection closes without the terminal record.
	}))

	err := client.OpenChatStream(context.Background(), provider.ChatRequest{Model: "m"}, func(provider.StreamEvent) {})
	var te *provider.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError for truncated stream, got %v", err)
	}
}

func TestOpenChatStreamCanceled(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"x"}}` + "\n"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.OpenChatStream(ctx, provider.ChatRequest{Model: "m"}, func(provider.StreamEvent) {})
	}()
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// =============================================================================
// MODEL MANAGEMENT TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3.2:3b","size":2019393189,"modified_at":"2025-01-01T00:00:00Z"},{"name":"qwen2.5:7b","size":4683087332}]}`))
	}))

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Name != "llama3.2:3b" || models[0].SizeBytes != 2019393189 {
		t.Errorf("models[0] = %+v", models[0])
	}
	if models[0].Provider != "Ollama" {
		t.Errorf("Provider = %q", models[0].Provider)
	}
}

func TestDeleteModel(t *testing.T) {
	var gotMethod, gotName string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		var payload deletePayload
		json.NewDecoder(r.Body).Decode(&payload)
		gotName = payload.Name
	}))

	if err := client.DeleteModel(context.Background(), "llama3.2:3b"); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q", gotMethod)
	}
	if gotName != "llama3.2:3b" {
		t.Errorf("name = %q", gotName)
	}
}

func TestPullModel(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		lines := []string{
			`{"status":"pulling manifest"}`,
			`not json`,
			`{"status":"downloading","digest":"sha256:abc","total":100,"completed":50}`,
			`{"status":"success"}`,
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	}))

	var statuses []string
	var midway PullProgress
	err := client.PullModel(context.Background(), "llama3.2:3b", func(p PullProgress) {
		statuses = append(statuses, p.Status)
		if p.Status == "downloading" {
			midway = p
		}
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}

	want := []string{"pulling manifest", "downloading", "success"}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %q, want %q", i, statuses[i], want[i])
		}
	}
	if midway.Percent() != 50 {
		t.Errorf("Percent() = %v", midway.Percent())
	}
}

func TestPullModelEndsWithoutSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"downloading"}` + "\n"))
	}))

	err := client.PullModel(context.Background(), "m", nil)
	var te *provider.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
