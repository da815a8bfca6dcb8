// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the HTTP client for the chatd API.
package client

import (
	"unicode/utf8"
)

// =============================================================================
// CHUNK DECODER
// =============================================================================

// ChunkDecoder reassembles UTF-8 text from arbitrarily split byte
// chunks. Bytes that end a chunk mid-rune are buffered until the next
// chunk completes them, so the concatenation of all outputs equals the
// input and every output is valid UTF-8 on its own.
type ChunkDecoder struct {
	pending []byte
}

// NewChunkDecoder creates an empty decoder.
func NewChunkDecoder() *ChunkDecoder {
	return &ChunkDecoder{}
}

// Write feeds raw bytes in and returns the longest decodable prefix.
// Returns "" when the buffered bytes do not yet form a complete rune.
func (d *ChunkDecoder) Write(p []byte) string {
	if len(p) == 0 && len(d.pending) == 0 {
		return ""
	}

	data := append(d.pending, p...)
	d.pending = nil

	// Walk back over at most one rune's worth of bytes looking for the
	// start of the final sequence. If that sequence is incomplete, hold
	// it back for the next chunk.
	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}

	if cut < len(data) {
		d.pending = append([]byte(nil), data[cut:]...)
	}
	return string(data[:cut])
}

// Flush returns whatever bytes remain buffered. Called at end of
// stream; a dangling partial sequence decodes to the replacement
// character rather than being dropped silently.
func (d *ChunkDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}

	out := string(d.pending)
	d.pending = nil
	if !utf8.ValidString(out) {
		return string(utf8.RuneError)
	}
	return out
}
