// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the client-side state of one chat session.
//
// The Store applies optimistic updates: sending a message immediately
// shows the user's text, a provisional chat (for first messages), and
// a growing model reply, all under temporary identifiers. When the
// server confirms the turn, temporary identifiers are reconciled to
// authoritative ones; when it fails, the optimistic state is rolled
// back and the prompt is kept for retry.
//
// At most one turn is in flight at a time. A send while streaming is a
// no-op rather than an error, matching what a chat input should do
// when the user hammers enter.
//
// All exported methods are safe for concurrent use. UI concerns such
// as route changes are injected through the Navigator callback and
// invoked outside the store's lock.
package session
