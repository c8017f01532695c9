// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package filter strips reasoning/thinking tagged spans from model output.
//
// Some models wrap intermediate chain-of-thought in tags like <think>...</think>
// that should not be shown to end users verbatim. Two consumption modes exist:
// display (remove the spans) and title extraction (pull out the first span's
// inner text).
package filter

import (
	"regexp"
	"strings"
)

// maxPasses bounds repeated removal; cross-tag interleavings resolve in far
// fewer rounds in practice.
const maxPasses = 10

// reasoningTags are the span names removed from display text. Matching is
// case-insensitive; unterminated tags do not match and are left as-is.
var reasoningTags = []string{"think", "thinking", "reasoning", "redacted_reasoning"}

// titlePatterns capture the inner content of a span. Order matters: title
// extraction uses the first pattern that matches.
var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>(.*?)</think>`),
	regexp.MustCompile(`(?is)<redacted_reasoning>(.*?)</redacted_reasoning>`),
	regexp.MustCompile(`(?is)<thinking>(.*?)</thinking>`),
	regexp.MustCompile(`(?is)<reasoning>(.*?)</reasoning>`),
}

// ForDisplay removes all well-formed reasoning-tag spans from text. Spans are
// removed innermost-first so nesting resolves inside-out; removal repeats
// (bounded) until a fixed point so spans revealed by a previous pass are
// removed too. Idempotent.
func ForDisplay(text string) string {
	for pass := 0; pass < maxPasses; pass++ {
		prev := text
		for _, tag := range reasoningTags {
			text = stripSpans(text, tag)
		}
		if text == prev {
			break
		}
	}
	return text
}

// stripSpans removes every well-formed <tag>...</tag> span. Each round cuts
// the span ending at the first closing tag, back to the nearest preceding
// opening tag, so the innermost span of a nest goes first. A leftmost-match
// regexp cannot do this: it pairs the FIRST opening tag with the first
// closing tag and strands outer-level text.
func stripSpans(text, tag string) string {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	for {
		lower := strings.ToLower(text)
		end := strings.Index(lower, closing)
		if end < 0 {
			return text
		}
		start := strings.LastIndex(lower[:end], open)
		if start < 0 {
			return text
		}
		text = text[:start] + text[end+len(closing):]
	}
}

// ForTitle extracts title candidate text from model output. If any reasoning
// tag matches, it returns the trimmed inner content of the first match.
//
// NOTE: returning the content INSIDE the tag (rather than the visible text
// after it) is intentional here and matches the shipped behavior, even though
// the visible remainder often looks like the better title. Do not "fix" this
// without revisiting downstream title generation.
func ForTitle(text string) string {
	for _, re := range titlePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return strings.TrimSpace(ForDisplay(text))
}
