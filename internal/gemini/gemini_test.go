// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini provides the HTTP client for the Gemini generative
// language API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// sseFrame encodes a single text chunk as an SSE data line.
func sseFrame(text string) string {
	return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\r\n\r\n", text)
}

// sseFinalFrame encodes the terminal chunk with a finish reason and usage.
func sseFinalFrame(text, reason string, promptTokens, completionTokens int) string {
	return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]},\"finishReason\":%q}],\"usageMetadata\":{\"promptTokenCount\":%d,\"candidatesTokenCount\":%d}}\r\n\r\n",
		text, reason, promptTokens, completionTokens)
}

func newTestClient(baseURL string) *Client {
	return NewClient(&ClientConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
	})
}

// =============================================================================
// TYPE TESTS
// =============================================================================

func TestGenerateResponse_Text(t *testing.T) {
	resp := &GenerateResponse{
		Candidates: []Candidate{
			{Content: Content{Role: "model", Parts: []Part{{Text: "Hello"}, {Text: ", world"}}}},
		},
	}

	if got := resp.Text(); got != "Hello, world" {
		t.Errorf("Text() = %q, want 'Hello, world'", got)
	}
}

func TestGenerateResponse_TextEmpty(t *testing.T) {
	resp := &GenerateResponse{}

	if got := resp.Text(); got != "" {
		t.Errorf("Text() = %q, want empty", got)
	}
}

// =============================================================================
// CONFIGURATION TESTS
// =============================================================================

func TestNewClient_FillsDefaults(t *testing.T) {
	client := NewClient(&ClientConfig{APIKey: "k"})

	if client.config.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q", client.config.BaseURL)
	}

	if client.config.Model == "" {
		t.Error("Model should have a default")
	}

	if client.config.Timeout == 0 {
		t.Error("Timeout should have a default")
	}
}

func TestClient_IsConfigured(t *testing.T) {
	if NewClient(nil).IsConfigured() {
		t.Error("IsConfigured should be false without an API key")
	}

	if !NewClient(&ClientConfig{APIKey: "k"}).IsConfigured() {
		t.Error("IsConfigured should be true with an API key")
	}
}

// =============================================================================
// FAIL-CLOSED TESTS
// =============================================================================

func TestGenerate_NoAPIKey(t *testing.T) {
	client := NewClient(nil)

	_, err := client.Generate(context.Background(), "", nil)

	if !IsNoAPIKey(err) {
		t.Errorf("Generate without key = %v, want ErrNoAPIKey", err)
	}
}

func TestGenerateStream_NoAPIKey(t *testing.T) {
	client := NewClient(nil)

	called := false
	err := client.GenerateStream(context.Background(), "", nil, func(StreamChunk) {
		called = true
	})

	if !IsNoAPIKey(err) {
		t.Errorf("GenerateStream without key = %v, want ErrNoAPIKey", err)
	}

	if called {
		t.Error("callback should not run without an API key")
	}
}

// =============================================================================
// GENERATE TESTS
// =============================================================================

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %q, want POST", r.Method)
		}
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("Path = %q, want generateContent", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}

		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"A short title"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Generate(context.Background(), "", []Content{
		{Role: "user", Parts: []Part{{Text: "Generate a title"}}},
	})

	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if resp.Text() != "A short title" {
		t.Errorf("Text() = %q", resp.Text())
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   *ClientError
	}{
		{"model not found", http.StatusNotFound, "", ErrModelNotFound},
		{"rate limited", http.StatusTooManyRequests, "", ErrRateLimited},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.Generate(context.Background(), "", nil)

			if !errors.Is(err, tc.want) {
				t.Errorf("Generate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGenerate_APIErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"Invalid request payload","status":"INVALID_ARGUMENT"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "", nil)

	if err == nil {
		t.Fatal("expected error")
	}

	if !strings.Contains(err.Error(), "Invalid request payload") {
		t.Errorf("error = %v, want the API message", err)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "", nil)

	if !IsTimeout(err) {
		t.Errorf("Generate() error = %v, want timeout", err)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestGenerateStream_ReassemblesChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("Path = %q, want streamGenerateContent", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q, want sse", r.URL.Query().Get("alt"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame("The quick "))
		fmt.Fprint(w, sseFrame("brown fox"))
		fmt.Fprint(w, sseFinalFrame(" jumps", "STOP", 12, 7))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	acc := NewStreamAccumulator()

	err := client.GenerateStream(context.Background(), "", []Content{
		{Role: "user", Parts: []Part{{Text: "hi"}}},
	}, acc.Add)

	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	if acc.Content() != "The quick brown fox jumps" {
		t.Errorf("Content() = %q", acc.Content())
	}

	if !acc.Done {
		t.Error("accumulator should be done")
	}

	if acc.FinishReason != "STOP" {
		t.Errorf("FinishReason = %q", acc.FinishReason)
	}

	if acc.PromptTokens != 12 || acc.CompletionTokens != 7 {
		t.Errorf("tokens = %d/%d, want 12/7", acc.PromptTokens, acc.CompletionTokens)
	}
}

func TestGenerateStream_MultiByteText(t *testing.T) {
	// Multi-byte runes arrive whole within a frame's JSON but the
	// fragments themselves split words arbitrarily.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame("こん"))
		fmt.Fprint(w, sseFrame("にちは "))
		fmt.Fprint(w, sseFinalFrame("世界", "STOP", 3, 4))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	acc := NewStreamAccumulator()

	err := client.GenerateStream(context.Background(), "", nil, acc.Add)
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	if acc.Content() != "こんにちは 世界" {
		t.Errorf("Content() = %q", acc.Content())
	}
}

func TestGenerateStream_EOFWithoutFinishReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame("partial"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	acc := NewStreamAccumulator()

	err := client.GenerateStream(context.Background(), "", nil, acc.Add)
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	if !acc.Done {
		t.Error("accumulator should be done after EOF")
	}

	if acc.Content() != "partial" {
		t.Errorf("Content() = %q", acc.Content())
	}
}

func TestGenerateStream_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame("first"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(server.URL)
	err := client.GenerateStream(ctx, "", nil, func(chunk StreamChunk) {
		cancel()
	})

	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
}

func TestGenerateStream_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.GenerateStream(context.Background(), "", nil, func(StreamChunk) {})

	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("GenerateStream() error = %v, want ErrRateLimited", err)
	}
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReader_SkipsKeepAlivesAndMalformedFrames(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		sseFrame("ok"),
		"data: {not json",
		sseFinalFrame("", "STOP", 1, 1),
	}, "\n")

	reader := NewStreamReader(strings.NewReader(stream))
	acc := NewStreamAccumulator()

	if err := reader.Process(context.Background(), acc.Add); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if acc.Content() != "ok" {
		t.Errorf("Content() = %q, want 'ok'", acc.Content())
	}

	if reader.ChunkCount() != 1 {
		t.Errorf("ChunkCount() = %d, want 1", reader.ChunkCount())
	}
}

func TestStreamReader_AccumulatedMatchesCallbacks(t *testing.T) {
	stream := sseFrame("a") + sseFrame("b") + sseFinalFrame("c", "STOP", 1, 3)

	reader := NewStreamReader(strings.NewReader(stream))

	var got strings.Builder
	if err := reader.Process(context.Background(), func(chunk StreamChunk) {
		got.WriteString(chunk.Text)
	}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got.String() != "abc" {
		t.Errorf("callback text = %q, want 'abc'", got.String())
	}

	if reader.Accumulated() != "abc" {
		t.Errorf("Accumulated() = %q, want 'abc'", reader.Accumulated())
	}
}

// =============================================================================
// ACCUMULATOR TESTS
// =============================================================================

func TestStreamAccumulator_Error(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.Add(StreamChunk{Text: "before"})
	acc.Add(StreamChunk{Error: errors.New("boom")})

	if !acc.Done {
		t.Error("accumulator should be done after an error chunk")
	}

	if acc.Err == nil {
		t.Error("Err should be set")
	}

	if acc.Content() != "before" {
		t.Errorf("Content() = %q, want text received before the error", acc.Content())
	}
}
