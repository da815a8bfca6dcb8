// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the HTTP client for the chatd API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/chatd/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// APIError represents an error response from the chatd API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

// Is matches API errors by status so sentinels work with errors.Is.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Status == t.Status
}

// Sentinel errors for easy checking.
var (
	ErrUnauthorized = &APIError{Status: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound     = &APIError{Status: http.StatusNotFound, Message: "not found"}
	ErrRateLimited  = &APIError{Status: http.StatusTooManyRequests, Message: "rate limited"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the API client.
type ClientConfig struct {
	// BaseURL is the chatd server base URL, e.g. "http://127.0.0.1:8790".
	BaseURL string

	// Token is the bearer token for authenticated deployments. Empty
	// for single-user servers.
	Token string

	// Timeout bounds non-streaming requests (default: 30s). A turn's
	// streamed reply is bounded by its context instead.
	Timeout time.Duration
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the chatd HTTP API.
//
// The Client is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// streamClient has no timeout; streamed turns are bounded by their
	// request context instead.
	streamClient *http.Client
}

// NewClient creates a new API client. Zero values in config are filled
// with defaults.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = &ClientConfig{}
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8790"
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      baseURL,
		token:        config.Token,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// =============================================================================
// CHAT TURN
// =============================================================================

// TurnRequest describes one outgoing chat turn.
type TurnRequest struct {
	Prompt string `json:"prompt"`
	ChatID string `json:"chatId,omitempty"`
	Model  string `json:"model,omitempty"`
}

// TurnMessages pairs the persisted messages of a completed turn.
type TurnMessages struct {
	User *model.Message `json:"user"`
	AI   *model.Message `json:"ai"`
}

// TurnEnvelope is the server's buffered JSON turn response.
type TurnEnvelope struct {
	IsNewChat  bool              `json:"isNewChat"`
	Chat       model.ChatSummary `json:"chat"`
	Messages   TurnMessages      `json:"messages"`
	AIResponse string            `json:"aiResponse,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// TurnResponse is the result of a chat turn. Exactly one of the two
// shapes is populated, discriminated by the server's Content-Type:
// a streamed reply fills ChatID/Title/Text, a JSON reply fills
// Envelope.
type TurnResponse struct {
	// Streamed shape. ChatID is always set; Title only when the server
	// created the chat for this turn.
	ChatID string
	Title  string
	Text   string

	// Envelope is set instead when the server answered with the
	// buffered JSON shape (including 207 partial success).
	Envelope *TurnEnvelope
}

// IsNew reports whether this turn created the chat.
func (t *TurnResponse) IsNew() bool {
	if t.Envelope != nil {
		return t.Envelope.IsNewChat
	}
	return t.Title != ""
}

// ChunkFunc receives decoded reply fragments in arrival order. Each
// fragment is valid UTF-8 even when the transport split a rune.
type ChunkFunc func(text string)

// SendMessage performs one chat turn, invoking onChunk for each piece
// of the streamed reply. Pass a nil onChunk to skip incremental
// delivery; the full text is always in the returned TurnResponse.
//
// Streaming is bounded by ctx, not by the client timeout.
func (c *Client) SendMessage(ctx context.Context, req TurnRequest, onChunk ChunkFunc) (*TurnResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A JSON body means either an error envelope or the buffered turn
	// shape (200 or 207).
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
			return nil, decodeError(resp)
		}
		var envelope TurnEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, fmt.Errorf("failed to decode turn envelope: %w", err)
		}
		return &TurnResponse{Envelope: &envelope}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	turn := &TurnResponse{
		ChatID: resp.Header.Get("X-Chat-Id"),
		Title:  resp.Header.Get("X-Chat-Title"),
	}

	// Re-chunk the body on rune boundaries as it arrives.
	var full strings.Builder
	decoder := NewChunkDecoder()
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if text := decoder.Write(buf[:n]); text != "" {
				full.WriteString(text)
				if onChunk != nil {
					onChunk(text)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}
	if tail := decoder.Flush(); tail != "" {
		full.WriteString(tail)
		if onChunk != nil {
			onChunk(tail)
		}
	}

	turn.Text = full.String()
	return turn, nil
}

// =============================================================================
// CHAT CRUD
// =============================================================================

// NewChat creates an empty chat titled from the given prompt.
func (c *Client) NewChat(ctx context.Context, prompt string) (*model.Chat, error) {
	var out struct {
		NewChat *model.Chat `json:"newChat"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/new",
		map[string]string{"prompt": prompt}, &out)
	if err != nil {
		return nil, err
	}
	return out.NewChat, nil
}

// ChatDetail is a chat with its full message history.
type ChatDetail struct {
	Chat    *model.Chat     `json:"chat"`
	History []model.Message `json:"chatHistory"`
}

// GetChat fetches a chat and its history.
func (c *Client) GetChat(ctx context.Context, chatID string) (*ChatDetail, error) {
	var out ChatDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/"+chatID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChats returns the user's chats, most recently updated first.
func (c *Client) ListChats(ctx context.Context) ([]model.ChatSummary, error) {
	var out []model.ChatSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RenameChat sets a chat's title and returns the updated chat.
func (c *Client) RenameChat(ctx context.Context, chatID, title string) (*model.Chat, error) {
	var out model.Chat
	err := c.doJSON(ctx, http.MethodPatch, "/api/chat/"+chatID,
		map[string]string{"title": title}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChat removes a chat and its messages.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/chats/"+chatID, nil, nil)
}

// DeleteAllChats removes every chat owned by the user.
func (c *Client) DeleteAllChats(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/chats", nil, nil)
}

// Models lists the model identifiers the server accepts.
func (c *Client) Models(ctx context.Context) (models []string, defaultModel string, err error) {
	var out struct {
		Models  []string `json:"models"`
		Default string   `json:"default"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, "", err
	}
	return out.Models, out.Default, nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// doJSON issues a request with an optional JSON body and decodes the
// JSON response into out (skipped when out is nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// decodeError turns a non-2xx response into an APIError, pulling the
// message from the server's error envelope when present.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// IsNotFound checks whether an error is the not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized checks whether an error is the auth failure error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
