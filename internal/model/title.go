// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
package model

import (
	"strings"
	"unicode"
)

// MaxTitleRunes is the maximum chat title length derived from a prompt.
const MaxTitleRunes = 30

// DefaultTitle is the fallback label for empty or whitespace-only prompts.
const DefaultTitle = "New Chat"

// GenerateTitle derives a short human-readable chat title from the first
// prompt of a new conversation.
//
// The trimmed prompt is cut to MaxTitleRunes characters. When the cut
// lands mid-word, the title is shortened to the last whitespace boundary
// before the limit, provided one exists past position 0. A truncated
// title carries a trailing "...". Whitespace-only input yields
// DefaultTitle.
//
// Pure and deterministic; no failure mode.
func GenerateTitle(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return DefaultTitle
	}

	runes := []rune(trimmed)
	if len(runes) <= MaxTitleRunes {
		return trimmed
	}

	title := runes[:MaxTitleRunes]
	if boundary := lastSpace(title); boundary > 0 {
		title = title[:boundary]
	}

	return strings.TrimRight(string(title), " \t") + "..."
}

// NormalizeTitle trims surrounding whitespace from a user-supplied
// title. Used on rename; empty output means the input was unusable.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(title)
}

// lastSpace returns the index of the last whitespace rune, or -1.
func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
