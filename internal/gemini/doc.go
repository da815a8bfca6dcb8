// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini provides the HTTP client for the Gemini generative
// language API.
//
// The client covers the two call shapes chatd needs from its model
// collaborator: a blocking completion (Generate) and an incremental
// token stream (GenerateStream) parsed from the API's server-sent
// events. Conversation history is supplied as ordered role/text turns
// using the API's two-value role vocabulary (user/model).
//
// A missing API key fails closed: no request is attempted and
// ErrNoAPIKey is returned.
package gemini
