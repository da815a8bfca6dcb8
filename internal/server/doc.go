// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for chat orchestration.
//
// Endpoints:
//   - POST   /api/chat           - Send a message (streams the reply)
//   - POST   /api/chat/new       - Create an empty chat
//   - GET    /api/chat/{id}      - Chat metadata and message history
//   - PATCH  /api/chat/{id}      - Rename a chat
//   - GET    /api/chats          - List the user's chats
//   - DELETE /api/chats          - Delete all of the user's chats
//   - DELETE /api/chats/{id}     - Delete one chat
//   - GET    /api/models         - List available model identifiers
//   - GET    /health             - Health check
//
// POST /api/chat streams the model reply as plain text by default, with
// chat identity carried in X-Chat-Id and X-Chat-Title response headers.
// Clients that send Accept: application/json get a buffered JSON
// envelope instead.
//
// All /api routes are scoped to the authenticated user; without
// authentication enabled every request maps to a single local user.
package server
