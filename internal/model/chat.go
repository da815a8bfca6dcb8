// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
package model

import "time"

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat holds the metadata for a persisted conversation. The messages
// themselves live in their own collection keyed by ChatID.
type Chat struct {
	// Identity
	ID     string `json:"id"`
	UserID string `json:"-"`

	// Title is set at creation from the first prompt and renamable
	// thereafter.
	Title string `json:"title"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewChat creates an unsaved chat owned by the given user.
func NewChat(userID, title string) *Chat {
	now := time.Now()
	return &Chat{
		ID:        NewID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// CHAT SUMMARY
// =============================================================================

// ChatSummary is the sidebar projection of a chat: just enough to list
// and sort conversations without loading their messages.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary returns the list projection of the chat.
func (c *Chat) Summary() ChatSummary {
	return ChatSummary{
		ID:        c.ID,
		Title:     c.Title,
		UpdatedAt: c.UpdatedAt,
	}
}
