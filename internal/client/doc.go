// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the HTTP client for the chatd API.
//
// SendMessage drives a full chat turn and surfaces the reply either
// incrementally (the server's streamed plain-text body, re-chunked on
// rune boundaries) or as the buffered JSON envelope, discriminated on
// the response Content-Type. The remaining calls are thin wrappers over
// the CRUD endpoints.
//
// Stream chunks arriving from the network can split multi-byte UTF-8
// sequences anywhere; the chunk decoder holds incomplete trailing bytes
// until the rest arrives so callers only ever see whole runes.
package client
