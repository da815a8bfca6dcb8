// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the client-side state of one chat session.
package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatd/internal/client"
	"github.com/jeranaias/chatd/internal/model"
)

// =============================================================================
// FAKE API
// =============================================================================

type fakeAPI struct {
	mu sync.Mutex

	sendFunc  func(ctx context.Context, req client.TurnRequest, onChunk client.ChunkFunc) (*client.TurnResponse, error)
	listCalls int
	chats     []model.ChatSummary
	sendCalls int
}

func (f *fakeAPI) SendMessage(ctx context.Context, req client.TurnRequest, onChunk client.ChunkFunc) (*client.TurnResponse, error) {
	f.mu.Lock()
	f.sendCalls++
	fn := f.sendFunc
	f.mu.Unlock()
	return fn(ctx, req, onChunk)
}

func (f *fakeAPI) GetChat(ctx context.Context, chatID string) (*client.ChatDetail, error) {
	return &client.ChatDetail{
		Chat: &model.Chat{ID: chatID, Title: "Opened"},
		History: []model.Message{
			{ID: "m1", ChatID: chatID, Role: model.RoleUser, Text: "earlier"},
			{ID: "m2", ChatID: chatID, Role: model.RoleModel, Text: "reply"},
		},
	}, nil
}

func (f *fakeAPI) ListChats(ctx context.Context) ([]model.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]model.ChatSummary(nil), f.chats...), nil
}

func (f *fakeAPI) RenameChat(ctx context.Context, chatID, title string) (*model.Chat, error) {
	return &model.Chat{ID: chatID, Title: title, UpdatedAt: time.Now()}, nil
}

func (f *fakeAPI) DeleteChat(ctx context.Context, chatID string) error { return nil }

func (f *fakeAPI) DeleteAllChats(ctx context.Context) error { return nil }

func (f *fakeAPI) Models(ctx context.Context) ([]string, string, error) {
	return []string{"gemini-2.0-flash"}, "gemini-2.0-flash", nil
}

// streamTurn returns a sendFunc that streams the fragments and then
// confirms the turn with the given identity.
func streamTurn(chatID, title string, fragments ...string) func(context.Context, client.TurnRequest, client.ChunkFunc) (*client.TurnResponse, error) {
	return func(ctx context.Context, req client.TurnRequest, onChunk client.ChunkFunc) (*client.TurnResponse, error) {
		var full string
		for _, frag := range fragments {
			full += frag
			if onChunk != nil {
				onChunk(frag)
			}
		}
		resp := &client.TurnResponse{ChatID: chatID, Text: full}
		if req.ChatID == "" {
			resp.Title = title
		}
		return resp, nil
	}
}

// recorder captures navigation calls.
type recorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *recorder) Navigate(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, chatID)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes...)
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSendMessage_NewChatReconciles(t *testing.T) {
	api := &fakeAPI{sendFunc: streamTurn("real-1", "Hello there", "Hi ", "back")}
	nav := &recorder{}
	s := NewStore(api, nav, nil)

	require.NoError(t, s.SendMessage(context.Background(), "Hello there"))

	assert.Equal(t, "real-1", s.CurrentChatID())
	assert.False(t, s.IsStreaming())
	assert.NoError(t, s.Err())

	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "Hello there", messages[0].Text)
	assert.Equal(t, model.RoleModel, messages[1].Role)
	assert.Equal(t, "Hi back", messages[1].Text)
	assert.Equal(t, "real-1", messages[0].ChatID)
	assert.Equal(t, "real-1", messages[1].ChatID)

	// Exactly one list entry, no temp ids left.
	chats := s.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "real-1", chats[0].ID)
	assert.Equal(t, "Hello there", chats[0].Title)
	assert.False(t, model.IsTempID(chats[0].ID))

	// Navigated to the provisional chat first, then the real one.
	routes := nav.all()
	require.Len(t, routes, 2)
	assert.True(t, model.IsTempID(routes[0]))
	assert.Equal(t, "real-1", routes[1])

	// The temp id stays resolvable.
	real, ok := s.Resolve(routes[0])
	assert.True(t, ok)
	assert.Equal(t, "real-1", real)
}

func TestSendMessage_EmptyPromptIsNoOp(t *testing.T) {
	api := &fakeAPI{sendFunc: streamTurn("real-1", "t", "x")}
	s := NewStore(api, nil, nil)

	require.NoError(t, s.SendMessage(context.Background(), "   "))

	assert.Empty(t, s.Messages())
	assert.Equal(t, 0, api.sendCalls)
}

func TestSendMessage_SingleInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	api := &fakeAPI{}
	api.sendFunc = func(ctx context.Context, req client.TurnRequest, onChunk client.ChunkFunc) (*client.TurnResponse, error) {
		close(started)
		<-release
		return &client.TurnResponse{ChatID: "real-1", Title: "t", Text: "done"}, nil
	}

	s := NewStore(api, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.SendMessage(context.Background(), "first") }()
	<-started

	assert.True(t, s.IsStreaming())

	// Second send while streaming: swallowed, not queued.
	require.NoError(t, s.SendMessage(context.Background(), "second"))

	close(release)
	require.NoError(t, <-done)

	api.mu.Lock()
	calls := api.sendCalls
	api.mu.Unlock()
	assert.Equal(t, 1, calls)

	// Only the first turn's messages exist.
	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Text)
}

func TestSendMessage_RollbackRestoresState(t *testing.T) {
	boom := errors.New("connection refused")
	api := &fakeAPI{}
	api.sendFunc = func(ctx context.Context, req client.TurnRequest, onChunk client.ChunkFunc) (*client.TurnResponse, error) {
		return nil, boom
	}
	nav := &recorder{}
	s := NewStore(api, nav, nil)

	err := s.SendMessage(context.Background(), "doomed prompt")
	require.ErrorIs(t, err, boom)

	// Pre-send state restored.
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.Chats())
	assert.Equal(t, "", s.CurrentChatID())
	assert.False(t, s.IsStreaming())

	// Error observable, prompt kept for retry.
	assert.ErrorIs(t, s.Err(), boom)
	assert.Equal(t, "doomed prompt", s.LastPrompt())

	// Navigated to the provisional chat and back home.
	routes := nav.all()
	require.Len(t, routes, 2)
	assert.Equal(t, "", routes[1])
}

func TestSendMessage_ExistingChatKeepsList(t *testing.T) {
	api := &fakeAPI{sendFunc: streamTurn("chat-7", "", "more")}
	s := NewStore(api, nil, nil)

	// Simulate an opened chat with a fetched list.
	require.NoError(t, func() error {
		api.chats = []model.ChatSummary{{ID: "other"}, {ID: "chat-7", Title: "Seventh"}}
		_, err := s.FetchChats(context.Background())
		return err
	}())
	require.NoError(t, s.OpenChat(context.Background(), "chat-7"))

	require.NoError(t, s.SendMessage(context.Background(), "continue"))

	messages := s.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "continue", messages[2].Text)
	assert.Equal(t, "more", messages[3].Text)

	// The active chat moved to the top of the list.
	chats := s.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, "chat-7", chats[0].ID)
	assert.Equal(t, "Seventh", chats[0].Title)
}

func TestSendMessage_StreamedChunksArriveInOrder(t *testing.T) {
	// Fragments re-chunked on rune boundaries by the transport layer.
	api := &fakeAPI{sendFunc: streamTurn("real-1", "t", "こん", "にちは", " 世界")}
	s := NewStore(api, nil, nil)

	require.NoError(t, s.SendMessage(context.Background(), "greet me"))

	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "こんにちは 世界", messages[1].Text)
}

func TestSendMessage_ChunkListenerObservesStream(t *testing.T) {
	api := &fakeAPI{sendFunc: streamTurn("real-1", "t", "one ", "two ", "three")}
	s := NewStore(api, nil, nil)

	var seen []string
	s.SetChunkListener(func(text string) {
		seen = append(seen, text)
	})

	require.NoError(t, s.SendMessage(context.Background(), "count"))

	// Fragments arrive in order and concatenate to the full reply.
	assert.Equal(t, []string{"one ", "two ", "three"}, seen)
	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "one two three", messages[1].Text)
}

func TestSendMessage_EnvelopeAdoptsServerIdentity(t *testing.T) {
	api := &fakeAPI{}
	api.sendFunc = func(ctx context.Context, req client.TurnRequest, onChunk client.ChunkFunc) (*client.TurnResponse, error) {
		return &client.TurnResponse{Envelope: &client.TurnEnvelope{
			IsNewChat: true,
			Chat:      model.ChatSummary{ID: "real-9", Title: "Server title"},
			Messages: client.TurnMessages{
				User: &model.Message{ID: "srv-u", Text: "question"},
				AI:   &model.Message{ID: "srv-a", Text: "buffered answer"},
			},
		}}, nil
	}
	s := NewStore(api, nil, nil)

	require.NoError(t, s.SendMessage(context.Background(), "question"))

	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "srv-u", messages[0].ID)
	assert.Equal(t, "srv-a", messages[1].ID)
	assert.Equal(t, "buffered answer", messages[1].Text)
	assert.Equal(t, "real-9", s.CurrentChatID())

	chats := s.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "Server title", chats[0].Title)
}

// =============================================================================
// CHAT LIST TESTS
// =============================================================================

func TestFetchChats_Memoized(t *testing.T) {
	api := &fakeAPI{chats: []model.ChatSummary{{ID: "c1", Title: "One"}}}
	s := NewStore(api, nil, nil)
	ctx := context.Background()

	first, err := s.FetchChats(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = s.FetchChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, api.listCalls)

	_, err = s.RefreshChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, api.listCalls)
}

func TestRenameChat_UpdatesCache(t *testing.T) {
	api := &fakeAPI{chats: []model.ChatSummary{{ID: "c1", Title: "Old"}}}
	s := NewStore(api, nil, nil)
	ctx := context.Background()

	_, err := s.FetchChats(ctx)
	require.NoError(t, err)

	require.NoError(t, s.RenameChat(ctx, "c1", "New"))

	chats := s.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "New", chats[0].Title)
}

func TestDeleteChat_CurrentResets(t *testing.T) {
	api := &fakeAPI{chats: []model.ChatSummary{{ID: "c1"}, {ID: "c2"}}}
	nav := &recorder{}
	s := NewStore(api, nav, nil)
	ctx := context.Background()

	_, err := s.FetchChats(ctx)
	require.NoError(t, err)
	require.NoError(t, s.OpenChat(ctx, "c1"))

	require.NoError(t, s.DeleteChat(ctx, "c1"))

	assert.Equal(t, "", s.CurrentChatID())
	assert.Empty(t, s.Messages())

	chats := s.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "c2", chats[0].ID)

	routes := nav.all()
	assert.Equal(t, "", routes[len(routes)-1])
}

func TestDeleteAllChats_ClearsEverything(t *testing.T) {
	api := &fakeAPI{chats: []model.ChatSummary{{ID: "c1"}, {ID: "c2"}}}
	s := NewStore(api, nil, nil)
	ctx := context.Background()

	_, err := s.FetchChats(ctx)
	require.NoError(t, err)
	require.NoError(t, s.OpenChat(ctx, "c2"))

	require.NoError(t, s.DeleteAllChats(ctx))

	assert.Empty(t, s.Chats())
	assert.Empty(t, s.Messages())
	assert.Equal(t, "", s.CurrentChatID())

	// The empty list is authoritative; no refetch needed.
	chats, err := s.FetchChats(ctx)
	require.NoError(t, err)
	assert.Empty(t, chats)
	assert.Equal(t, 1, api.listCalls)
}

// =============================================================================
// MODEL SELECTION TESTS
// =============================================================================

func TestSelectModel_PassedOnTurns(t *testing.T) {
	var gotModel string
	api := &fakeAPI{}
	api.sendFunc = func(ctx context.Context, req client.TurnRequest, onChunk client.ChunkFunc) (*client.TurnResponse, error) {
		gotModel = req.Model
		return &client.TurnResponse{ChatID: "c1", Title: "t", Text: "ok"}, nil
	}
	s := NewStore(api, nil, nil)

	s.SelectModel("gemini-1.5-pro")
	require.NoError(t, s.SendMessage(context.Background(), "hi"))
	assert.Equal(t, "gemini-1.5-pro", gotModel)

	messages := s.Messages()
	assert.Equal(t, "gemini-1.5-pro", messages[1].ModelName)
}
