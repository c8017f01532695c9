// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream provides transport-agnostic incremental decoders for the
// chat backends: a newline-delimited JSON decoder for the local inference
// wire format and an SSE reader for the OpenAI-compatible cloud providers.
package stream

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// =============================================================================
// LINE DECODER
// =============================================================================

// LineDecoder splits an incoming byte stream into newline-delimited records.
// Chunks may arrive split at arbitrary byte boundaries: only the unconsumed
// trailing partial line carries over between Feed calls. Clearing the whole
// buffer each round would corrupt the next record, so consumed lines are
// discarded and the remainder is preserved.
type LineDecoder struct {
	buf []byte
}

// Feed appends a chunk and returns every complete (newline-terminated) record
// accumulated so far. Empty lines are dropped. The returned slices are copies
// and remain valid after the next Feed.
func (d *LineDecoder) Feed(chunk []byte) [][]byte {
	d.buf = append(d.buf, chunk...)

	var records [][]byte
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(d.buf[:i], "\r")
		if len(line) > 0 {
			records = append(records, append([]byte(nil), line...))
		}
		d.buf = d.buf[i+1:]
	}
	return records
}

// Pending returns the unconsumed trailing partial line. A well-behaved stream
// ends with a newline, leaving this empty.
func (d *LineDecoder) Pending() []byte {
	return d.buf
}

// Reset discards all buffered state.
func (d *LineDecoder) Reset() {
	d.buf = nil
}

// =============================================================================
// FLAG TYPE
// =============================================================================

// Flag is a boolean that unmarshals from either a JSON bool or a 0/1 number.
// The local backend has emitted both encodings for the done field.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	switch s {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = n != 0
	}
	return nil
}

// =============================================================================
// CHAT DECODER
// =============================================================================

// ChatEvent is one decoded increment of an assistant reply.
type ChatEvent struct {
	// Delta is the incremental text extracted from this record, possibly empty.
	Delta string

	// Done is true on the event that carries the terminal indicator. It is
	// signaled exactly once per stream.
	Done bool

	// Final statistics, populated only on the Done event.
	TotalDuration   time.Duration
	LoadDuration    time.Duration
	PromptEvalCount int
	EvalCount       int
	EvalDuration    time.Duration
}

// chatRecord is the local-inference stream wire shape.
type chatRecord struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               Flag  `json:"done"`
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// ChatDecoder consumes the local backend's newline-delimited JSON chat stream
// and accumulates the assistant reply. A line that fails to parse is skipped
// and logged, never fatal; a parsed object without a content field is a no-op
// counted as an anomaly.
type ChatDecoder struct {
	lines       LineDecoder
	accumulated strings.Builder
	done        bool

	parseErrors int
	anomalies   int

	logger *slog.Logger
}

// NewChatDecoder creates a decoder. A nil logger uses the default.
func NewChatDecoder(logger *slog.Logger) *ChatDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatDecoder{logger: logger}
}

// Feed processes one network chunk and returns the decoded events in arrival
// order. After the terminal event has been signaled, further records are
// ignored.
func (d *ChatDecoder) Feed(chunk []byte) []ChatEvent {
	var events []ChatEvent

	for _, line := range d.lines.Feed(chunk) {
		if d.done {
			break
		}

		var rec chatRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			d.parseErrors++
			d.logger.Debug("skipping malformed stream line", "error", err)
			continue
		}

		ev := ChatEvent{}
		if rec.Message != nil {
			ev.Delta = rec.Message.Content
		} else {
			d.anomalies++
		}

		if ev.Delta != "" {
			d.accumulated.WriteString(ev.Delta)
		}

		if bool(rec.Done) {
			d.done = true
			ev.Done = true
			ev.TotalDuration = time.Duration(rec.TotalDuration)
			ev.LoadDuration = time.Duration(rec.LoadDuration)
			ev.PromptEvalCount = rec.PromptEvalCount
			ev.EvalCount = rec.EvalCount
			ev.EvalDuration = time.Duration(rec.EvalDuration)
		}

		if ev.Delta == "" && !ev.Done {
			continue
		}
		events = append(events, ev)
	}

	return events
}

// Accumulated returns the full reply text decoded so far.
func (d *ChatDecoder) Accumulated() string {
	return d.accumulated.String()
}

// Done reports whether the terminal indicator has been observed.
func (d *ChatDecoder) Done() bool {
	return d.done
}

// ParseErrors returns the number of skipped malformed lines.
func (d *ChatDecoder) ParseErrors() int {
	return d.parseErrors
}

// Anomalies returns the number of valid records lacking a content field.
func (d *ChatDecoder) Anomalies() int {
	return d.anomalies
}
