// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini provides the HTTP client for the Gemini generative
// language API.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// =============================================================================
// STREAM READER
// =============================================================================

// ssePrefix marks data lines in the API's server-sent event stream.
var ssePrefix = []byte("data:")

// StreamReader parses the SSE frames of a streamGenerateContent
// response into StreamChunks.
type StreamReader struct {
	reader *bufio.Reader
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	accumulator strings.Builder
	chunkCount  int
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		reader: bufio.NewReader(r),
	}
}

// Process reads the stream and calls the callback for each chunk.
// Blocks until the stream is complete or the context is cancelled.
// The final chunk always has Done set, even when the transport ends
// without an explicit finish reason.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	var last *StreamChunk

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			chunk, err := s.readChunk()
			if err != nil {
				if err == io.EOF {
					// Synthesize the terminal chunk if the API never
					// reported a finish reason.
					if last == nil || !last.Done {
						callback(StreamChunk{Done: true})
					}
					return nil
				}
				return err
			}

			if chunk != nil {
				callback(*chunk)
				last = chunk
				if chunk.Done {
					return nil
				}
			}
		}
	}
}

// readChunk reads and parses a single SSE data line.
func (s *StreamReader) readChunk() (*StreamChunk, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
			return nil, io.EOF
		}
		if len(line) == 0 {
			return nil, err
		}
	}

	line = bytes.TrimSpace(line)

	// Skip keep-alives and event separators.
	if len(line) == 0 || !bytes.HasPrefix(line, ssePrefix) {
		return nil, nil
	}

	payload := bytes.TrimSpace(bytes.TrimPrefix(line, ssePrefix))
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return nil, nil
	}

	var response GenerateResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		// Skip malformed frames
		return nil, nil
	}

	text := response.Text()
	if text != "" {
		s.accumulator.WriteString(text)
		s.chunkCount++
	}

	chunk := &StreamChunk{Text: text}

	if len(response.Candidates) > 0 && response.Candidates[0].FinishReason != "" {
		chunk.Done = true
		chunk.FinishReason = response.Candidates[0].FinishReason
		chunk.PromptTokens = response.UsageMetadata.PromptTokenCount
		chunk.CompletionTokens = response.UsageMetadata.CandidatesTokenCount
	}

	return chunk, nil
}

// Accumulated returns all content received so far.
func (s *StreamReader) Accumulated() string {
	return s.accumulator.String()
}

// ChunkCount returns the number of non-empty chunks received.
func (s *StreamReader) ChunkCount() int {
	return s.chunkCount
}

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// StreamAccumulator collects streaming chunks into the final text.
// It is the single mutable state shared between the stream consumer and
// whatever renders or persists the result.
type StreamAccumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	content strings.Builder

	Done             bool
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	Err              error
}

// NewStreamAccumulator creates a new accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Add processes a new chunk.
func (a *StreamAccumulator) Add(chunk StreamChunk) {
	if chunk.Error != nil {
		a.Err = chunk.Error
		a.Done = true
		return
	}

	a.content.WriteString(chunk.Text)

	if chunk.Done {
		a.Done = true
		a.FinishReason = chunk.FinishReason
		a.PromptTokens = chunk.PromptTokens
		a.CompletionTokens = chunk.CompletionTokens
	}
}

// Content returns the accumulated text.
func (a *StreamAccumulator) Content() string {
	return a.content.String()
}
