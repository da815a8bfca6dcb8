// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini provides the HTTP client for the Gemini generative
// language API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Gemini client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches client errors by type so sentinels work with errors.Is.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNoAPIKey
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeRateLimited
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNoAPIKey      = &ClientError{Type: ErrTypeNoAPIKey, Message: "Gemini API key is not configured"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrRateLimited   = &ClientError{Type: ErrTypeRateLimited, Message: "rate limited by the API"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL is the production Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ClientConfig holds configuration options for the Gemini client.
type ClientConfig struct {
	// APIKey is the API credential. Requests fail closed without it.
	APIKey string

	// BaseURL is the API base URL (default: DefaultBaseURL). Tests
	// point this at a local httptest server.
	BaseURL string

	// Model is the default model identifier (default: gemini-2.0-flash)
	Model string

	// Timeout for non-streaming requests (default: 60s). Streaming
	// requests are bounded by their context instead.
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: DefaultBaseURL,
		Model:   "gemini-2.0-flash",
		Timeout: 60 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Gemini API.
//
// The Client is safe for concurrent use.
//
// Example:
//
//	client := gemini.NewClient(&gemini.ClientConfig{APIKey: key})
//	err := client.GenerateStream(ctx, "", turns, func(chunk gemini.StreamChunk) {
//	    fmt.Print(chunk.Text)
//	})
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new Gemini client. Zero values in config are
// filled from DefaultConfig.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// DefaultModel returns the configured default model identifier.
func (c *Client) DefaultModel() string {
	return c.config.Model
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate sends a blocking completion request and returns the full
// response text.
func (c *Client) Generate(ctx context.Context, model string, contents []Content) (*GenerateResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = c.config.Model
	}

	resp, err := c.post(ctx, c.httpClient, c.url(model, "generateContent", false), contents)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &result, nil
}

// StreamCallback is called for each chunk received during streaming.
type StreamCallback func(chunk StreamChunk)

// GenerateStream sends a streaming completion request and calls the
// callback for each chunk, in arrival order, on the calling goroutine.
// Returns when the stream completes or fails.
func (c *Client) GenerateStream(ctx context.Context, model string, contents []Content, callback StreamCallback) error {
	if !c.IsConfigured() {
		return ErrNoAPIKey
	}
	if model == "" {
		model = c.config.Model
	}

	// Streaming is bounded by the caller's context, not a client timeout.
	streamClient := &http.Client{}

	resp, err := c.post(ctx, streamClient, c.url(model, "streamGenerateContent", true), contents)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	reader := NewStreamReader(resp.Body)
	return reader.Process(ctx, callback)
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// url builds the request URL for an API method.
func (c *Client) url(model, method string, sse bool) string {
	u := c.config.BaseURL + "/models/" + model + ":" + method + "?key=" + c.config.APIKey
	if sse {
		u += "&alt=sse"
	}
	return u
}

// post issues a JSON POST with the given conversation contents.
func (c *Client) post(ctx context.Context, client *http.Client, url string, contents []Content) (*http.Response, error) {
	body, err := json.Marshal(GenerateRequest{Contents: contents})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ErrTimeout
		}
		return nil, &ClientError{Type: ErrTypeConnection, Message: "request failed", Cause: err}
	}
	return resp, nil
}

// checkStatus maps non-200 statuses to typed errors. The response body
// is consumed on error.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}

	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error.Message}
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: "generate request failed: " + resp.Status}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNoAPIKey checks whether an error is the missing-credential error.
func IsNoAPIKey(err error) bool {
	return errors.Is(err, ErrNoAPIKey)
}

// IsTimeout checks whether an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
