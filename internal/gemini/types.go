// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini provides the HTTP client for the Gemini generative
// language API.
package gemini

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Part is a single fragment of content. Only text parts are used.
type Part struct {
	Text string `json:"text"`
}

// Content is one turn of a conversation in API form.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" or "model"
	Parts []Part `json:"parts"`
}

// GenerateRequest is the body for generateContent and
// streamGenerateContent calls.
type GenerateRequest struct {
	Contents []Content `json:"contents"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// Candidate is one generated completion.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// UsageMetadata carries token accounting for a response.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GenerateResponse is the body of a generateContent response and of each
// streamed SSE frame.
type GenerateResponse struct {
	Candidates    []Candidate   `json:"candidates"`
	UsageMetadata UsageMetadata `json:"usageMetadata"`
}

// Text returns the concatenated text of the first candidate.
func (r *GenerateResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var out string
	for _, part := range r.Candidates[0].Content.Parts {
		out += part.Text
	}
	return out
}

// apiError is the error envelope the API returns on non-200 statuses.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// =============================================================================
// STREAM CHUNK
// =============================================================================

// StreamChunk is one increment of a streaming generation.
type StreamChunk struct {
	// Text is the fragment produced by this chunk (may be empty).
	Text string

	// Done marks the final chunk of the stream.
	Done bool

	// FinishReason is set on the final chunk when the API reports one.
	FinishReason string

	// Token accounting, populated on the final chunk.
	PromptTokens     int
	CompletionTokens int

	// Error is set when the stream failed mid-flight.
	Error error
}
