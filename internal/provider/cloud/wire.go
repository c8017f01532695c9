// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

// =============================================================================
// REQUEST TYPES
// =============================================================================

// wireMessage is one conversation entry in the completions schema.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionPayload is the request body for POST /chat/completions. Sampling
// fields are optional on the wire; zero values fall back to vendor defaults.
type completionPayload struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Seed        int           `json:"seed,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// completionResponse is the buffered POST /chat/completions response.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// content returns the first choice's message content.
func (r *completionResponse) content() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// streamChunk is one SSE data payload of a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// delta returns the incremental content of the first choice.
func (c *streamChunk) delta() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// finished reports whether the chunk carries a finish reason.
func (c *streamChunk) finished() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != ""
}

// modelsResponse is the GET /models response body.
type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}
