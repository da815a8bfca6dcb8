// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for chat orchestration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/chatd/internal/config"
	"github.com/jeranaias/chatd/internal/gemini"
	"github.com/jeranaias/chatd/internal/model"
	"github.com/jeranaias/chatd/internal/store"
	"github.com/jeranaias/chatd/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8790"

	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum prompt length in runes.
	MaxMessageLength = 100000

	// MaxTitleLength is the maximum rename title length in runes.
	MaxTitleLength = 200

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the chat orchestration HTTP server.
type Server struct {
	addr   string
	router *http.ServeMux
	server *http.Server
	logger *zap.Logger

	store  *store.Store
	gemini *gemini.Client
	auth   *AuthConfig

	limiter *RateLimiter
	models  []string

	writeTimeout time.Duration
	readTimeout  time.Duration
}

// NewServer creates a Server wired to the given store and model client.
func NewServer(cfg *config.Config, st *store.Store, gc *gemini.Client, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		addr:         cfg.Server.Addr,
		router:       http.NewServeMux(),
		logger:       logger,
		store:        st,
		gemini:       gc,
		limiter:      NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		models:       cfg.Gemini.Models,
		readTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		writeTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		auth: &AuthConfig{
			Enabled: cfg.Auth.Enabled,
			Tokens:  cfg.Auth.Tokens,
		},
	}

	s.setupRoutes()
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(auth *AuthConfig) *Server {
	s.auth = auth
	return s
}

// WithRateLimiter sets a custom rate limiter.
func (s *Server) WithRateLimiter(limiter *RateLimiter) *Server {
	s.limiter = limiter
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Chat turns
	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("POST /api/chat/temp", s.handleTempChat)

	// Chat CRUD
	s.router.HandleFunc("POST /api/chat/new", s.handleNewChat)
	s.router.HandleFunc("GET /api/chat/{id}", s.handleGetChat)
	s.router.HandleFunc("PATCH /api/chat/{id}", s.handleRenameChat)
	s.router.HandleFunc("GET /api/chats", s.handleListChats)
	s.router.HandleFunc("DELETE /api/chats", s.handleDeleteAllChats)
	s.router.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)

	// Discovery and health
	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the fully assembled handler with middleware applied.
// Exposed so tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	handler := Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.limiter, s.logger),
		AuthMiddleware(s.auth, s.logger),
	)(s.router)

	return handler
}

// ============================================================================
// CHAT CRUD HANDLERS
// ============================================================================

// NewChatRequest is the body for POST /api/chat/new. The title is
// derived from the prompt; no message is sent.
type NewChatRequest struct {
	Prompt string `json:"prompt"`
}

// handleNewChat handles POST /api/chat/new.
func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req NewChatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	chat := model.NewChat(UserID(r.Context()), model.GenerateTitle(req.Prompt))
	if err := s.store.CreateChat(r.Context(), chat); err != nil {
		s.logger.Error("create chat failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]*model.Chat{"newChat": chat})
}

// ChatDetail is the response for GET /api/chat/{id}.
type ChatDetail struct {
	Chat    *model.Chat     `json:"chat"`
	History []model.Message `json:"chatHistory"`
}

// handleGetChat handles GET /api/chat/{id}.
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	chatID := r.PathValue("id")

	chat, err := s.store.GetChat(r.Context(), userID, chatID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	messages, err := s.store.History(r.Context(), userID, chatID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ChatDetail{Chat: chat, History: messages})
}

// RenameRequest is the body for PATCH /api/chat/{id}.
type RenameRequest struct {
	Title string `json:"title"`
}

// handleRenameChat handles PATCH /api/chat/{id}.
func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	title := model.NormalizeTitle(req.Title)
	if title == "" {
		s.writeError(w, http.StatusBadRequest, "Title must not be empty")
		return
	}
	if util.RuneLen(title) > MaxTitleLength {
		s.writeError(w, http.StatusBadRequest, "Title too long")
		return
	}

	chat, err := s.store.UpdateTitle(r.Context(), UserID(r.Context()), r.PathValue("id"), title)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, chat)
}

// handleListChats handles GET /api/chats.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, chats)
}

// handleDeleteChat handles DELETE /api/chats/{id}.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteChat(r.Context(), UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteAllChats handles DELETE /api/chats.
func (s *Server) handleDeleteAllChats(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteAllChats(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// ModelsResponse lists the model identifiers a client may request.
type ModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := s.models
	if len(models) == 0 {
		models = []string{s.gemini.DefaultModel()}
	}

	s.writeJSON(w, http.StatusOK, ModelsResponse{
		Models:  models,
		Default: s.gemini.DefaultModel(),
	})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	ModelConfigured bool   `json:"model_configured"`
	StoreOK         bool   `json:"store_ok"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:          "ok",
		Version:         Version,
		ModelConfigured: s.gemini.IsConfigured(),
		StoreOK:         s.store.Ping(r.Context()) == nil,
	}

	if !health.ModelConfigured || !health.StoreOK {
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		// Write timeout must cover an entire streamed model reply.
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("server starting",
		zap.String("addr", s.addr),
		zap.String("version", Version))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}

// writeStoreError maps persistence errors to HTTP statuses. A chat the
// user does not own is reported exactly like a missing one.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrChatNotFound) {
		s.writeError(w, http.StatusNotFound, "Chat not found")
		return
	}

	s.logger.Error("store error", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "Storage failure")
}
