// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides SQLite persistence for chats and messages.
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatd/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "chatd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedChat(t *testing.T, s *Store, userID, title string) *model.Chat {
	t.Helper()

	chat := model.NewChat(userID, title)
	require.NoError(t, s.CreateChat(context.Background(), chat))
	return chat
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestCreateAndGetChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "alice", "First chat")

	got, err := s.GetChat(ctx, "alice", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)
	assert.Equal(t, "First chat", got.Title)
	assert.Equal(t, "alice", got.UserID)
}

func TestGetChat_WrongOwnerLooksMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "alice", "Private")

	_, err := s.GetChat(ctx, "bob", chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = s.GetChat(ctx, "alice", "no-such-chat")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestListChats_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := seedChat(t, s, "alice", "Older")
	newer := seedChat(t, s, "alice", "Newer")
	seedChat(t, s, "bob", "Not alice's")

	require.NoError(t, s.TouchChat(ctx, older.ID, time.Now().Add(-time.Hour)))
	require.NoError(t, s.TouchChat(ctx, newer.ID, time.Now()))

	chats, err := s.ListChats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, newer.ID, chats[0].ID)
	assert.Equal(t, older.ID, chats[1].ID)
}

func TestListChats_EmptyUser(t *testing.T) {
	s := newTestStore(t)

	chats, err := s.ListChats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestUpdateTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "alice", "Old title")

	updated, err := s.UpdateTitle(ctx, "alice", chat.ID, "New title")
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	assert.False(t, updated.UpdatedAt.Before(chat.UpdatedAt))

	_, err = s.UpdateTitle(ctx, "bob", chat.ID, "Hijacked")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestDeleteChat_CascadesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "alice", "Doomed")
	require.NoError(t, s.SaveMessage(ctx, model.NewUserMessage(chat.ID, "hello")))

	require.NoError(t, s.DeleteChat(ctx, "alice", chat.ID))

	_, err := s.GetChat(ctx, "alice", chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = s.History(ctx, "alice", chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestDeleteChat_WrongOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "alice", "Safe")

	err := s.DeleteChat(ctx, "bob", chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = s.GetChat(ctx, "alice", chat.ID)
	assert.NoError(t, err)
}

func TestDeleteAllChats_ScopedToUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedChat(t, s, "alice", "One")
	seedChat(t, s, "alice", "Two")
	bobs := seedChat(t, s, "bob", "Kept")

	n, err := s.DeleteAllChats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	chats, err := s.ListChats(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, chats)

	_, err = s.GetChat(ctx, "bob", bobs.ID)
	assert.NoError(t, err)
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestHistory_OrderedBySendTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "alice", "Ordered")

	first := model.NewUserMessage(chat.ID, "first")
	first.Timestamp = time.Now().Add(-2 * time.Minute)
	second := model.NewModelMessage(chat.ID, "second", "gemini-2.0-flash")
	second.Timestamp = time.Now().Add(-time.Minute)
	third := model.NewUserMessage(chat.ID, "third")
	third.Timestamp = time.Now()

	// Insert out of order
	require.NoError(t, s.SaveMessage(ctx, second))
	require.NoError(t, s.SaveMessage(ctx, third))
	require.NoError(t, s.SaveMessage(ctx, first))

	history, err := s.History(ctx, "alice", chat.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "second", history[1].Text)
	assert.Equal(t, "third", history[2].Text)
	assert.Equal(t, model.RoleModel, history[1].Role)
	assert.Equal(t, "gemini-2.0-flash", history[1].ModelName)
}

func TestHistory_WrongOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "alice", "Private")
	require.NoError(t, s.SaveMessage(ctx, model.NewUserMessage(chat.ID, "secret")))

	_, err := s.History(ctx, "bob", chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestSaveMessage_BumpsChatActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := seedChat(t, s, "alice", "Active")
	require.NoError(t, s.TouchChat(ctx, chat.ID, time.Now().Add(-time.Hour)))

	msg := model.NewUserMessage(chat.ID, "ping")
	require.NoError(t, s.SaveMessage(ctx, msg))

	got, err := s.GetChat(ctx, "alice", chat.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, msg.Timestamp, got.UpdatedAt, time.Second)
}
