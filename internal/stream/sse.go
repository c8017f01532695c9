// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"io"
)

// =============================================================================
// SSE READER
// =============================================================================

// MaxEventSize is the maximum allowed size for a single SSE event (64KB).
const MaxEventSize = 64 * 1024

// ErrEventTooLarge is returned when an SSE event exceeds MaxEventSize.
var ErrEventTooLarge = errEventTooLarge{}

type errEventTooLarge struct{}

func (errEventTooLarge) Error() string { return "sse: event exceeds maximum size" }

// SSEReader parses Server-Sent Events from a stream. Cloud providers deliver
// chat completions as SSE with JSON payloads in data fields and a literal
// [DONE] sentinel at the end.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream and returns the event
// type and joined data payload. The event type is typically empty for chat
// completion streams. Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	var total int

	for {
		// ReadBytes hands back any partial line alongside io.EOF; it is
		// parsed below so a final unterminated event is flushed, not lost.
		line, err := s.reader.ReadBytes('\n')

		line = bytes.TrimRight(line, "\r\n")
		switch {
		case len(line) == 0:
			// Empty line signals end of event.
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimSpace(line[5:])
			total += len(data)
			if total > MaxEventSize {
				return "", nil, ErrEventTooLarge
			}
			dataLines = append(dataLines, data)
		}
		// Other fields (id:, retry:, comments starting with :) are ignored.

		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}
	}
}

// DoneSentinel is the literal payload that terminates an SSE chat stream.
var DoneSentinel = []byte("[DONE]")

// IsDone reports whether data is the stream-terminating sentinel.
func IsDone(data []byte) bool {
	return bytes.Equal(data, DoneSentinel)
}
