// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for chat orchestration.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/chatd/internal/gemini"
	"github.com/jeranaias/chatd/internal/model"
	"github.com/jeranaias/chatd/internal/util"
)

// ============================================================================
// CHAT TURN TYPES
// ============================================================================

// ChatRequest is the body for POST /api/chat.
type ChatRequest struct {
	// Prompt is the user's message. Must be non-empty after trimming.
	Prompt string `json:"prompt"`

	// ChatID targets an existing chat. Empty starts a new one.
	ChatID string `json:"chatId,omitempty"`

	// Model optionally overrides the default model for this turn.
	Model string `json:"model,omitempty"`
}

// TurnMessages pairs the two messages a completed turn persists.
type TurnMessages struct {
	User *model.Message `json:"user"`
	AI   *model.Message `json:"ai"`
}

// TurnEnvelope is the buffered JSON response for a chat turn.
type TurnEnvelope struct {
	IsNewChat bool              `json:"isNewChat"`
	Chat      model.ChatSummary `json:"chat"`
	Messages  TurnMessages      `json:"messages"`

	// AIResponse and Error are set on a 207: the model answered but
	// the reply could not be persisted.
	AIResponse string `json:"aiResponse,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ============================================================================
// CHAT TURN HANDLER
// ============================================================================

// handleChat handles POST /api/chat: one full orchestrated turn.
//
// The user message is persisted before the model is invoked, so a model
// failure never loses the prompt. The default response is the raw model
// reply streamed as it arrives, with chat identity in response headers;
// Accept: application/json switches to a buffered envelope.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		s.writeError(w, http.StatusBadRequest, "Prompt must not be empty")
		return
	}
	if util.RuneLen(prompt) > MaxMessageLength {
		s.writeError(w, http.StatusBadRequest, "Prompt too long")
		return
	}
	if req.ChatID != "" && model.IsTempID(req.ChatID) {
		s.writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	if req.Model != "" && !s.modelAllowed(req.Model) {
		s.writeError(w, http.StatusBadRequest, "Unknown model")
		return
	}

	if !s.gemini.IsConfigured() {
		s.writeError(w, http.StatusInternalServerError, "Model is not configured")
		return
	}

	ctx := r.Context()
	userID := UserID(ctx)

	// Resolve the chat: create with a derived title, or check ownership.
	var chat *model.Chat
	isNewChat := req.ChatID == ""
	if isNewChat {
		chat = model.NewChat(userID, model.GenerateTitle(prompt))
		if err := s.store.CreateChat(ctx, chat); err != nil {
			s.logger.Error("create chat failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "Failed to create chat")
			return
		}
	} else {
		var err error
		chat, err = s.store.GetChat(ctx, userID, req.ChatID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
	}

	// Persist the prompt before the model call so it survives any
	// downstream failure.
	userMsg := model.NewUserMessage(chat.ID, prompt)
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		s.logger.Error("save user message failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to save message")
		return
	}

	contents, err := s.loadHistory(ctx, userID, chat.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.gemini.DefaultModel()
	}

	if acceptsJSON(r) {
		s.completeTurnJSON(w, r, chat, isNewChat, userMsg, modelName, contents)
		return
	}
	s.completeTurnStream(w, r, chat, isNewChat, modelName, contents)
}

// completeTurnStream streams the model reply as plain text.
func (s *Server) completeTurnStream(w http.ResponseWriter, r *http.Request, chat *model.Chat, isNewChat bool, modelName string, contents []gemini.Content) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Headers must be staged before the first body write commits them.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Chat-Id", chat.ID)
	if isNewChat {
		w.Header().Set("X-Chat-Title", util.SanitizeHeaderValue(chat.Title))
	}

	acc := gemini.NewStreamAccumulator()
	streamed := false

	err := s.gemini.GenerateStream(r.Context(), modelName, contents, func(chunk gemini.StreamChunk) {
		acc.Add(chunk)
		if chunk.Text != "" {
			w.Write([]byte(chunk.Text))
			flusher.Flush()
			streamed = true
		}
	})

	if err != nil && !streamed {
		// Nothing committed yet; the client gets a proper status.
		s.logger.Error("model request failed",
			zap.String("chat_id", chat.ID),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Model request failed")
		return
	}
	if err != nil {
		// Mid-stream failure: the stream just ends short.
		s.logger.Error("stream interrupted",
			zap.String("chat_id", chat.ID),
			zap.Error(err))
	}

	s.persistModelReply(r.Context(), chat.ID, acc.Content(), modelName)
}

// completeTurnJSON buffers the whole reply into a JSON envelope.
func (s *Server) completeTurnJSON(w http.ResponseWriter, r *http.Request, chat *model.Chat, isNewChat bool, userMsg *model.Message, modelName string, contents []gemini.Content) {
	acc := gemini.NewStreamAccumulator()
	err := s.gemini.GenerateStream(r.Context(), modelName, contents, acc.Add)
	if err != nil {
		s.logger.Error("model request failed",
			zap.String("chat_id", chat.ID),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Model request failed")
		return
	}

	aiMsg := s.persistModelReply(r.Context(), chat.ID, acc.Content(), modelName)

	envelope := TurnEnvelope{
		IsNewChat: isNewChat,
		Chat:      chat.Summary(),
		Messages:  TurnMessages{User: userMsg, AI: aiMsg},
	}

	if aiMsg == nil {
		// The model answered but the reply could not be stored. The
		// caller still gets the text, flagged as unsaved.
		envelope.AIResponse = acc.Content()
		envelope.Error = "model reply was not persisted"
		s.writeJSON(w, http.StatusMultiStatus, envelope)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope)
}

// persistModelReply writes the completed model message. The write uses
// a context detached from the request so a client disconnect after the
// final token does not lose the reply. Returns nil if nothing was
// persisted.
func (s *Server) persistModelReply(ctx context.Context, chatID, text, modelName string) *model.Message {
	if text == "" {
		return nil
	}

	msg := model.NewModelMessage(chatID, text, modelName)
	if err := s.store.SaveMessage(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Error("save model message failed",
			zap.String("chat_id", chatID),
			zap.Error(err))
		return nil
	}
	return msg
}

// ============================================================================
// TEMPORARY CHAT
// ============================================================================

// TempChatRequest is the body for POST /api/chat/temp: a stateless
// turn. The caller carries the history; the server stores nothing.
type TempChatRequest struct {
	Prompt  string       `json:"prompt"`
	History []model.Turn `json:"history,omitempty"`
	Model   string       `json:"model,omitempty"`
}

// handleTempChat handles POST /api/chat/temp. The turn runs entirely in
// memory: client-supplied history plus the prompt go to the model, the
// reply streams back, and no chat or message record is created.
func (s *Server) handleTempChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req TempChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		s.writeError(w, http.StatusBadRequest, "Prompt must not be empty")
		return
	}
	if util.RuneLen(prompt) > MaxMessageLength {
		s.writeError(w, http.StatusBadRequest, "Prompt too long")
		return
	}
	if req.Model != "" && !s.modelAllowed(req.Model) {
		s.writeError(w, http.StatusBadRequest, "Unknown model")
		return
	}
	if !s.gemini.IsConfigured() {
		s.writeError(w, http.StatusInternalServerError, "Model is not configured")
		return
	}

	contents := make([]gemini.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := turn.Role
		if !role.Valid() {
			role = model.RoleUser
		}
		contents = append(contents, gemini.Content{
			Role:  role.String(),
			Parts: []gemini.Part{{Text: turn.Text}},
		})
	}
	contents = append(contents, gemini.Content{
		Role:  model.RoleUser.String(),
		Parts: []gemini.Part{{Text: prompt}},
	})

	modelName := req.Model
	if modelName == "" {
		modelName = s.gemini.DefaultModel()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	streamed := false
	err := s.gemini.GenerateStream(r.Context(), modelName, contents, func(chunk gemini.StreamChunk) {
		if chunk.Text != "" {
			w.Write([]byte(chunk.Text))
			flusher.Flush()
			streamed = true
		}
	})

	if err != nil && !streamed {
		s.logger.Error("model request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Model request failed")
		return
	}
	if err != nil {
		s.logger.Error("stream interrupted", zap.Error(err))
	}
}

// ============================================================================
// TURN HELPERS
// ============================================================================

// loadHistory fetches the chat's messages and projects them to the
// role/text turns the model accepts.
func (s *Server) loadHistory(ctx context.Context, userID, chatID string) ([]gemini.Content, error) {
	messages, err := s.store.History(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	contents := make([]gemini.Content, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		if !role.Valid() {
			role = model.RoleUser
		}
		contents = append(contents, gemini.Content{
			Role:  role.String(),
			Parts: []gemini.Part{{Text: msg.Text}},
		})
	}
	return contents, nil
}

// modelAllowed reports whether a requested model identifier is in the
// configured list. An empty list allows anything.
func (s *Server) modelAllowed(name string) bool {
	if len(s.models) == 0 {
		return true
	}
	for _, m := range s.models {
		if m == name {
			return true
		}
	}
	return false
}

// acceptsJSON reports whether the client asked for the buffered JSON
// envelope instead of a stream.
func acceptsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
