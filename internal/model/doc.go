// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
//
// A Chat is a persisted conversation owned by a single user; a Message
// belongs to exactly one chat and carries a role from the closed
// user/model vocabulary. Identifiers are opaque strings: persisted
// records carry server-assigned UUIDs, while the client synthesizes
// recognizable temporary identifiers (see NewTempID) that are replaced
// during reconciliation once the server confirms a write.
//
// The package also houses GenerateTitle, the pure function that derives
// a chat title from the first prompt of a new conversation.
package model
