// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the author of a message. The vocabulary is closed:
// every message is either user-authored or model-authored.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is part of the closed vocabulary.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a chat.
type Message struct {
	// Identity
	ID     string `json:"id"`
	ChatID string `json:"chatId"`
	Role   Role   `json:"role"`

	// Content
	Text string `json:"text"`

	// ModelName records which model produced a model-authored message.
	// Empty for user messages.
	ModelName string `json:"modelName,omitempty"`

	// Timestamp is assigned at persistence time and orders messages
	// within a chat.
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage creates an unsaved user message for the given chat.
func NewUserMessage(chatID, text string) *Message {
	return &Message{
		ID:        NewID(),
		ChatID:    chatID,
		Role:      RoleUser,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewModelMessage creates an unsaved model message for the given chat.
func NewModelMessage(chatID, text, modelName string) *Message {
	return &Message{
		ID:        NewID(),
		ChatID:    chatID,
		Role:      RoleModel,
		Text:      text,
		ModelName: modelName,
		Timestamp: time.Now(),
	}
}

// =============================================================================
// HISTORY PROJECTION
// =============================================================================

// Turn is the role/text projection of a message handed to the model
// collaborator. Attachments and annotations are stripped.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ProjectHistory reduces an ordered message list to the role/text turns
// the model collaborator accepts. Roles outside the closed vocabulary
// are coerced to user turns rather than dropped.
func ProjectHistory(messages []*Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		if !role.Valid() {
			role = RoleUser
		}
		turns = append(turns, Turn{Role: role, Text: msg.Text})
	}
	return turns
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// TempIDPrefix marks client-synthesized identifiers that have not been
// confirmed by the persistence layer.
const TempIDPrefix = "temp_"

// NewID generates a server-assigned identifier.
func NewID() string {
	return uuid.NewString()
}

// NewTempID synthesizes a temporary client-side identifier. Time-based so
// that two optimistic entries created in the same session never collide.
func NewTempID() string {
	return TempIDPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
}

// IsTempID reports whether an identifier is a client-synthesized
// temporary one awaiting reconciliation.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
