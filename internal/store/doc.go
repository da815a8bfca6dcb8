// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides SQLite persistence for chats and messages.
//
// Every read and write is scoped to an owning user. A chat that exists
// but belongs to someone else is indistinguishable from a chat that
// does not exist: both surface ErrChatNotFound, so callers cannot probe
// for foreign chat IDs.
//
// Deleting a chat removes its messages in the same transaction. Chat
// listings are ordered by most recent activity, message history by
// send time.
package store
