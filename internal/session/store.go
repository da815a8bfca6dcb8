// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the client-side state of one chat session.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/chatd/internal/client"
	"github.com/jeranaias/chatd/internal/model"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// API is the slice of the chatd HTTP client the session store uses.
type API interface {
	SendMessage(ctx context.Context, req client.TurnRequest, onChunk client.ChunkFunc) (*client.TurnResponse, error)
	GetChat(ctx context.Context, chatID string) (*client.ChatDetail, error)
	ListChats(ctx context.Context) ([]model.ChatSummary, error)
	RenameChat(ctx context.Context, chatID, title string) (*model.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	DeleteAllChats(ctx context.Context) error
	Models(ctx context.Context) ([]string, string, error)
}

// Navigator receives route changes. Implemented by the UI layer; a nil
// navigator is valid and ignores navigation.
type Navigator interface {
	Navigate(chatID string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(chatID string)

// Navigate calls the wrapped function.
func (f NavigatorFunc) Navigate(chatID string) { f(chatID) }

// =============================================================================
// SESSION STORE
// =============================================================================

// Store tracks the visible state of one chat session.
type Store struct {
	mu sync.Mutex

	api       API
	navigator Navigator
	logger    *zap.Logger

	// Current chat
	currentChatID string
	messages      []*model.Message

	// Chat list (memoized; mutations keep it current in place)
	chats        []model.ChatSummary
	chatsFetched bool

	// Turn state
	inFlight   bool
	lastPrompt string
	err        error

	// Model selection
	selectedModel string

	// chunkListener observes decoded reply fragments as they arrive.
	chunkListener func(text string)

	// reconciled maps temporary identifiers to the authoritative ones
	// the server assigned.
	reconciled map[string]string
}

// NewStore creates a session store backed by the given API client.
func NewStore(api API, navigator Navigator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:        api,
		navigator:  navigator,
		logger:     logger,
		reconciled: make(map[string]string),
	}
}

// =============================================================================
// SNAPSHOT ACCESSORS
// =============================================================================

// CurrentChatID returns the active chat's identifier. Empty means a
// fresh, not-yet-created chat. The identifier is temporary while a
// first turn is in flight.
func (s *Store) CurrentChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentChatID
}

// Messages returns a snapshot of the visible messages.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// Chats returns a snapshot of the chat list, most recent first.
func (s *Store) Chats() []model.ChatSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatSummary(nil), s.chats...)
}

// IsStreaming reports whether a turn is in flight.
func (s *Store) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Err returns the last turn failure, if any. Cleared on the next send.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastPrompt returns the most recently sent prompt. Survives failures
// so the UI can offer retry after the input box has been cleared.
func (s *Store) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrompt
}

// SelectedModel returns the model override, empty for server default.
func (s *Store) SelectedModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedModel
}

// SetChunkListener registers a callback invoked with each reply
// fragment as it streams in, in arrival order and outside the store's
// lock. The growing text is also visible through Messages. A nil
// listener disables incremental delivery.
func (s *Store) SetChunkListener(fn func(text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkListener = fn
}

// Resolve maps a temporary identifier to its authoritative one, if the
// server has confirmed it.
func (s *Store) Resolve(tempID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.reconciled[tempID]
	return id, ok
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

// SendMessage performs one optimistic chat turn. Blocks until the
// streamed reply completes, so callers run it in their own goroutine.
//
// Empty prompts and sends while a turn is in flight are no-ops.
func (s *Store) SendMessage(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)

	s.mu.Lock()
	if prompt == "" || s.inFlight {
		s.mu.Unlock()
		return nil
	}

	s.inFlight = true
	s.err = nil
	s.lastPrompt = prompt

	chatID := s.currentChatID
	isNewChat := chatID == ""

	// Optimistic user message, visible immediately.
	userMsg := &model.Message{
		ID:        model.NewTempID(),
		ChatID:    chatID,
		Role:      model.RoleUser,
		Text:      prompt,
		Timestamp: time.Now(),
	}
	s.messages = append(s.messages, userMsg)

	// First message of a fresh chat also creates a provisional list
	// entry and navigates to it.
	var tempChatID string
	if isNewChat {
		tempChatID = model.NewTempID()
		s.currentChatID = tempChatID
		userMsg.ChatID = tempChatID
		s.chats = append([]model.ChatSummary{{
			ID:        tempChatID,
			Title:     model.GenerateTitle(prompt),
			UpdatedAt: time.Now(),
		}}, s.chats...)
	}

	// Placeholder the streamed reply grows into.
	aiMsg := &model.Message{
		ID:        model.NewTempID(),
		ChatID:    s.currentChatID,
		Role:      model.RoleModel,
		ModelName: s.selectedModel,
		Timestamp: time.Now(),
	}
	s.messages = append(s.messages, aiMsg)

	modelName := s.selectedModel
	navigator := s.navigator
	s.mu.Unlock()

	if isNewChat && navigator != nil {
		navigator.Navigate(tempChatID)
	}

	// The server resolves an empty chatId to a new chat.
	reqChatID := chatID
	turn, err := s.api.SendMessage(ctx, client.TurnRequest{
		Prompt: prompt,
		ChatID: reqChatID,
		Model:  modelName,
	}, func(text string) {
		s.mu.Lock()
		aiMsg.Text += text
		listener := s.chunkListener
		s.mu.Unlock()

		if listener != nil {
			listener(text)
		}
	})

	if err != nil {
		s.rollback(userMsg, aiMsg, tempChatID, isNewChat, err)
		return err
	}

	s.reconcile(turn, userMsg, aiMsg, tempChatID, isNewChat)
	return nil
}

// rollback removes the optimistic state of a failed turn. The prompt
// stays in lastPrompt for retry.
func (s *Store) rollback(userMsg, aiMsg *model.Message, tempChatID string, isNewChat bool, cause error) {
	s.mu.Lock()

	s.err = cause
	s.inFlight = false
	s.removeMessage(aiMsg.ID)
	s.removeMessage(userMsg.ID)

	if isNewChat {
		s.removeChat(tempChatID)
		s.currentChatID = ""
	}

	navigator := s.navigator
	s.mu.Unlock()

	s.logger.Warn("turn failed", zap.Error(cause))

	if isNewChat && navigator != nil {
		navigator.Navigate("")
	}
}

// reconcile swaps temporary identifiers for the authoritative ones the
// server assigned. Safe to call with an already-reconciled turn.
func (s *Store) reconcile(turn *client.TurnResponse, userMsg, aiMsg *model.Message, tempChatID string, isNewChat bool) {
	chatID, title, text := turnIdentity(turn)

	s.mu.Lock()

	s.inFlight = false

	// The buffered envelope carries the persisted messages; adopt
	// their identities. The streamed shape keeps the local ones.
	if turn.Envelope != nil {
		if turn.Envelope.Messages.User != nil {
			userMsg.ID = turn.Envelope.Messages.User.ID
			userMsg.Timestamp = turn.Envelope.Messages.User.Timestamp
		}
		if turn.Envelope.Messages.AI != nil {
			aiMsg.ID = turn.Envelope.Messages.AI.ID
			aiMsg.Timestamp = turn.Envelope.Messages.AI.Timestamp
		}
	}
	if text != "" && aiMsg.Text == "" {
		aiMsg.Text = text
	}

	if chatID != "" {
		userMsg.ChatID = chatID
		aiMsg.ChatID = chatID
	}

	var navigate bool
	if isNewChat && chatID != "" {
		s.reconciled[tempChatID] = chatID
		s.currentChatID = chatID

		for i := range s.chats {
			if s.chats[i].ID == tempChatID {
				s.chats[i].ID = chatID
				if title != "" {
					s.chats[i].Title = title
				}
				s.chats[i].UpdatedAt = time.Now()
				break
			}
		}
		navigate = true
	} else if chatID != "" {
		s.touchChat(chatID)
	}

	navigator := s.navigator
	s.mu.Unlock()

	if navigate && navigator != nil {
		navigator.Navigate(chatID)
	}
}

// turnIdentity extracts chat id, title, and reply text from either
// turn shape.
func turnIdentity(turn *client.TurnResponse) (chatID, title, text string) {
	if turn.Envelope != nil {
		chatID = turn.Envelope.Chat.ID
		title = turn.Envelope.Chat.Title
		if turn.Envelope.Messages.AI != nil {
			text = turn.Envelope.Messages.AI.Text
		} else {
			text = turn.Envelope.AIResponse
		}
		return chatID, title, text
	}
	return turn.ChatID, turn.Title, turn.Text
}

// =============================================================================
// CHAT NAVIGATION
// =============================================================================

// OpenChat loads an existing chat and makes it current.
func (s *Store) OpenChat(ctx context.Context, chatID string) error {
	// A temp id the server has since confirmed still opens the chat.
	if real, ok := s.Resolve(chatID); ok {
		chatID = real
	}

	detail, err := s.api.GetChat(ctx, chatID)
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.currentChatID = detail.Chat.ID
	s.messages = make([]*model.Message, len(detail.History))
	for i := range detail.History {
		msg := detail.History[i]
		s.messages[i] = &msg
	}
	s.err = nil
	navigator := s.navigator
	s.mu.Unlock()

	if navigator != nil {
		navigator.Navigate(detail.Chat.ID)
	}
	return nil
}

// NewChat resets to a fresh, not-yet-created chat. The chat itself is
// created server-side by the first message.
func (s *Store) NewChat() {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return
	}
	s.currentChatID = ""
	s.messages = nil
	s.err = nil
	navigator := s.navigator
	s.mu.Unlock()

	if navigator != nil {
		navigator.Navigate("")
	}
}

// =============================================================================
// CHAT LIST
// =============================================================================

// FetchChats returns the chat list, fetching it from the server only
// on first use. Mutations keep the cached list current.
func (s *Store) FetchChats(ctx context.Context) ([]model.ChatSummary, error) {
	s.mu.Lock()
	if s.chatsFetched {
		cached := append([]model.ChatSummary(nil), s.chats...)
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	chats, err := s.api.ListChats(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.chats = chats
	s.chatsFetched = true
	out := append([]model.ChatSummary(nil), s.chats...)
	s.mu.Unlock()
	return out, nil
}

// RefreshChats forces a refetch of the chat list.
func (s *Store) RefreshChats(ctx context.Context) ([]model.ChatSummary, error) {
	s.mu.Lock()
	s.chatsFetched = false
	s.mu.Unlock()
	return s.FetchChats(ctx)
}

// RenameChat renames a chat and updates the cached list entry.
func (s *Store) RenameChat(ctx context.Context, chatID, title string) error {
	if real, ok := s.Resolve(chatID); ok {
		chatID = real
	}

	chat, err := s.api.RenameChat(ctx, chatID, title)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.chats {
		if s.chats[i].ID == chat.ID {
			s.chats[i].Title = chat.Title
			s.chats[i].UpdatedAt = chat.UpdatedAt
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// DeleteChat removes a chat. Deleting the current chat resets to a
// fresh one.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if real, ok := s.Resolve(chatID); ok {
		chatID = real
	}

	if err := s.api.DeleteChat(ctx, chatID); err != nil {
		return err
	}

	s.mu.Lock()
	s.removeChat(chatID)
	wasCurrent := s.currentChatID == chatID
	if wasCurrent {
		s.currentChatID = ""
		s.messages = nil
	}
	navigator := s.navigator
	s.mu.Unlock()

	if wasCurrent && navigator != nil {
		navigator.Navigate("")
	}
	return nil
}

// DeleteAllChats removes every chat and resets the session.
func (s *Store) DeleteAllChats(ctx context.Context) error {
	if err := s.api.DeleteAllChats(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.chats = nil
	s.chatsFetched = true
	s.currentChatID = ""
	s.messages = nil
	navigator := s.navigator
	s.mu.Unlock()

	if navigator != nil {
		navigator.Navigate("")
	}
	return nil
}

// =============================================================================
// MODEL SELECTION
// =============================================================================

// SelectModel sets the model override used for subsequent turns.
// Empty restores the server default.
func (s *Store) SelectModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedModel = name
}

// AvailableModels lists the model identifiers the server accepts.
func (s *Store) AvailableModels(ctx context.Context) ([]string, string, error) {
	return s.api.Models(ctx)
}

// =============================================================================
// INTERNAL HELPERS (callers hold s.mu)
// =============================================================================

func (s *Store) removeMessage(id string) {
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Store) removeChat(id string) {
	for i, c := range s.chats {
		if c.ID == id {
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			return
		}
	}
}

// touchChat moves a chat to the top of the list with a fresh
// activity time.
func (s *Store) touchChat(id string) {
	for i := range s.chats {
		if s.chats[i].ID == id {
			entry := s.chats[i]
			entry.UpdatedAt = time.Now()
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			s.chats = append([]model.ChatSummary{entry}, s.chats...)
			return
		}
	}
}
