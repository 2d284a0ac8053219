package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"chat-backend/internal/auth"
	"chat-backend/internal/chatstore"
	"chat-backend/internal/database"
	"chat-backend/internal/llm"
	"chat-backend/internal/messaging"
	"chat-backend/internal/stream"
	"chat-backend/pkg/api"
)

type fakeGenerator struct {
	deltas []string
	parts  []api.ContentPart
	err    error

	lastMessages []api.Message
	lastPrompt   string
}

func (g *fakeGenerator) Generate(ctx context.Context, messages []api.Message, systemPrompt string, onDelta llm.StreamFunc) (*llm.Response, error) {
	g.lastMessages = messages
	g.lastPrompt = systemPrompt

	for _, delta := range g.deltas {
		if err := onDelta(ctx, delta); err != nil {
			return nil, err
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{Messages: []api.Message{{ID: "resp-1", Role: api.RoleAssistant, Parts: g.parts}}}, nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	ctxErr   error
	payloads []messaging.SaveTranscriptPayload
}

func (p *capturingPublisher) PublishSaveTranscript(ctx context.Context, payload messaging.SaveTranscriptPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctxErr = ctx.Err()
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturingPublisher) Close() {}

type chatTestEnv struct {
	router   chi.Router
	store    *chatstore.Store
	service  *ChatService
	sessions *auth.Sessions
	token    string
}

func setupChatEnv(t *testing.T) *chatTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	store := chatstore.NewStore(t.TempDir())
	registry := stream.NewRegistry(time.Minute, 64)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)
	messaging.NewWorker(store, queue).Start()

	service := NewChatService(db, store, registry, queue, llm.DefaultCatalog, time.Minute)

	sessions := auth.NewSessions(db, time.Hour)
	token, err := sessions.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Use(sessions.Middleware)
		service.AddRoutes(r)
	})

	return &chatTestEnv{router: router, store: store, service: service, sessions: sessions, token: token}
}

func (env *chatTestEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, target, reader)
	r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: env.token})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	return w
}

func (env *chatTestEnv) createChat(t *testing.T) string {
	t.Helper()

	w := env.do(t, http.MethodPost, "/api/chats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.CreateChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ChatID)
	return resp.ChatID
}

func TestSendMessageRequiresSession(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	body, err := json.Marshal(api.ChatRequest{
		ID:       chatID,
		Messages: []api.Message{api.TextMessage("m1", api.RoleUser, "hi")},
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Rejected before any side effect: no stream id was recorded.
	ids, err := env.store.LoadStreamIDs(chatID, "user-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSendMessageStreamsAndPersists(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	gen := &fakeGenerator{
		deltas: []string{"Hel", "lo the", "re"},
		parts: []api.ContentPart{
			{Type: api.PartTypeText, Text: "Hello"},
			{Type: api.PartTypeText, Text: "there"},
		},
	}
	env.service.resolve = func(ctx context.Context, spec string, keys llm.Keys) (llm.Generator, error) {
		assert.Equal(t, "openai:gpt-4o", spec)
		return gen, nil
	}

	w := env.do(t, http.MethodPost, "/api/chat", api.ChatRequest{
		ID:       chatID,
		Model:    "openai:gpt-4o",
		Messages: []api.Message{api.TextMessage("m1", api.RoleUser, "hi")},
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "0:\"Hel\"\n")
	assert.Contains(t, body, "0:\"lo the\"\n")
	assert.Contains(t, body, "0:\"re\"\n")
	assert.Contains(t, body, "d:")
	assert.Less(t, strings.Index(body, "0:\"Hel\""), strings.Index(body, "0:\"re\""))

	// The transcript is persisted asynchronously, user turn plus the
	// normalized assistant reply.
	assert.Eventually(t, func() bool {
		messages, err := env.store.LoadChat(chatID, "user-1")
		return err == nil && len(messages) == 2
	}, 5*time.Second, 10*time.Millisecond)

	messages, err := env.store.LoadChat(chatID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, api.RoleUser, messages[0].Role)
	assert.Equal(t, api.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello there", messages[1].Content)

	// A stream id was recorded for the attempt.
	ids, err := env.store.LoadStreamIDs(chatID, "user-1")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestSendMessageRejectsBadModelBeforeStreaming(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	for _, model := range []string{"cohere:command-r", "not-a-model", "openai:gpt-4o"} {
		w := env.do(t, http.MethodPost, "/api/chat", api.ChatRequest{
			ID:       chatID,
			Model:    model,
			Messages: []api.Message{api.TextMessage("m1", api.RoleUser, "hi")},
		})
		// No provider keys are configured, so even well-formed specifiers
		// fail resolution.
		assert.Equal(t, http.StatusBadRequest, w.Code, "model %q", model)
	}

	// Failed resolution must leave no stream id behind.
	ids, err := env.store.LoadStreamIDs(chatID, "user-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSendMessageReportsGenerationErrorInStream(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	env.service.resolve = func(ctx context.Context, spec string, keys llm.Keys) (llm.Generator, error) {
		return &fakeGenerator{deltas: []string{"par"}, err: errors.New("upstream exploded")}, nil
	}

	w := env.do(t, http.MethodPost, "/api/chat", api.ChatRequest{
		ID:       chatID,
		Messages: []api.Message{api.TextMessage("m1", api.RoleUser, "hi")},
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "0:\"par\"\n")
	assert.Contains(t, body, "3:\"upstream exploded\"\n")
	assert.NotContains(t, body, "d:")

	// Failed generations are not persisted.
	time.Sleep(50 * time.Millisecond)
	messages, err := env.store.LoadChat(chatID, "user-1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSendMessagePassesAttachmentsToModel(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	gen := &fakeGenerator{parts: []api.ContentPart{{Type: api.PartTypeText, Text: "nice cat"}}}
	env.service.resolve = func(ctx context.Context, spec string, keys llm.Keys) (llm.Generator, error) {
		return gen, nil
	}

	w := env.do(t, http.MethodPost, "/api/chat", api.ChatRequest{
		ID:       chatID,
		FileUrls: []string{"http://localhost/files/cat.png"},
		Messages: []api.Message{api.TextMessage("m1", api.RoleUser, "look at this")},
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, gen.lastMessages, 1)
	parts := gen.lastMessages[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, api.ContentPart{Type: api.PartTypeText, Text: "look at this"}, parts[0])
	assert.Equal(t, api.ContentPart{Type: api.PartTypeImage, Image: "http://localhost/files/cat.png"}, parts[1])

	// The rewrite only shapes the model input; the persisted transcript
	// keeps the message exactly as the user sent it.
	assert.Eventually(t, func() bool {
		messages, err := env.store.LoadChat(chatID, "user-1")
		return err == nil && len(messages) == 2
	}, 5*time.Second, 10*time.Millisecond)

	persisted, err := env.store.LoadChat(chatID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "look at this", persisted[0].Content)
	assert.Nil(t, persisted[0].Parts)
	assert.Equal(t, "nice cat", persisted[1].Content)
}

func TestTranscriptSaveOutlivesGenerationDeadline(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	pub := &capturingPublisher{}
	env.service.publisher = pub
	// Leave essentially no generation budget; the fake generator replies
	// instantly but the deadline is already behind it by publish time.
	env.service.generationTimeout = time.Nanosecond
	env.service.resolve = func(ctx context.Context, spec string, keys llm.Keys) (llm.Generator, error) {
		return &fakeGenerator{parts: []api.ContentPart{{Type: api.PartTypeText, Text: "done"}}}, nil
	}

	w := env.do(t, http.MethodPost, "/api/chat", api.ChatRequest{
		ID:       chatID,
		Messages: []api.Message{api.TextMessage("m1", api.RoleUser, "hi")},
	})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.payloads) == 1
	}, 5*time.Second, 10*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.NoError(t, pub.ctxErr)
	require.Len(t, pub.payloads[0].Messages, 2)
}

func TestResumeStreamReplaysFrames(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	env.service.resolve = func(ctx context.Context, spec string, keys llm.Keys) (llm.Generator, error) {
		return &fakeGenerator{
			deltas: []string{"a", "b"},
			parts:  []api.ContentPart{{Type: api.PartTypeText, Text: "ab"}},
		}, nil
	}

	first := env.do(t, http.MethodPost, "/api/chat", api.ChatRequest{
		ID:       chatID,
		Messages: []api.Message{api.TextMessage("m1", api.RoleUser, "hi")},
	})
	require.Equal(t, http.StatusOK, first.Code)

	// The completed stream is retained in the registry, so a reconnect
	// observes the identical frame sequence.
	resumed := env.do(t, http.MethodGet, "/api/chat?chatId="+chatID, nil)
	require.Equal(t, http.StatusOK, resumed.Code)
	assert.Equal(t, first.Body.String(), resumed.Body.String())
}

func TestResumeStreamValidation(t *testing.T) {
	env := setupChatEnv(t)

	w := env.do(t, http.MethodGet, "/api/chat", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/chat?chatId=no-such-chat", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResumeStreamFallsBackToPersistedMessage(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	require.NoError(t, env.store.SaveChat(chatID, []api.Message{
		api.TextMessage("m1", api.RoleUser, "hi"),
		api.TextMessage("m2", api.RoleAssistant, "hello!"),
	}, "user-1"))
	// A stream id exists but the stream itself is long gone from the
	// registry.
	require.NoError(t, env.store.AppendStreamID(chatID, "expired-stream", "user-1"))

	w := env.do(t, http.MethodGet, "/api/chat?chatId="+chatID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	frame, err := stream.ParseFrame(bytes.TrimSuffix(w.Body.Bytes(), []byte("\n")))
	require.NoError(t, err)
	assert.Equal(t, stream.TypeData, frame.Type)

	events, err := frame.DataEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.AppendMessageEvent, events[0].Type)
	assert.Contains(t, events[0].Message, "hello!")
}

func TestResumeStreamFallbackWithoutAssistantReply(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	require.NoError(t, env.store.SaveChat(chatID, []api.Message{
		api.TextMessage("m1", api.RoleUser, "hi"),
	}, "user-1"))
	require.NoError(t, env.store.AppendStreamID(chatID, "expired-stream", "user-1"))

	w := env.do(t, http.MethodGet, "/api/chat?chatId="+chatID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestGetMessages(t *testing.T) {
	env := setupChatEnv(t)
	chatID := env.createChat(t)

	require.NoError(t, env.store.SaveChat(chatID, []api.Message{
		api.TextMessage("m1", api.RoleUser, "hi"),
		api.TextMessage("m2", api.RoleAssistant, "hello!"),
	}, "user-1"))

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/chats/%s/messages", chatID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var messages []api.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "hello!", messages[1].Content)

	w = env.do(t, http.MethodGet, "/api/chats/not-a-uuid/messages", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetModels(t *testing.T) {
	env := setupChatEnv(t)

	w := env.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var catalog []api.ModelConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &catalog))
	assert.NotEmpty(t, catalog)
}

func TestRewriteAttachmentsRewritesLastUserMessage(t *testing.T) {
	messages := []api.Message{
		api.TextMessage("m1", api.RoleAssistant, "earlier reply"),
		api.TextMessage("m2", api.RoleUser, "Hello"),
	}

	out := rewriteAttachments(messages, []string{"https://x/a.png", "https://x/b.png"})

	assert.Empty(t, out[1].Content)
	assert.Equal(t, []api.ContentPart{
		{Type: api.PartTypeText, Text: "Hello"},
		{Type: api.PartTypeImage, Image: "https://x/a.png"},
		{Type: api.PartTypeImage, Image: "https://x/b.png"},
	}, out[1].Parts)

	// The input slice is left untouched.
	assert.Equal(t, "Hello", messages[1].Content)
}

func TestRewriteAttachmentsDropsWhenLastMessageNotPlainText(t *testing.T) {
	// Attachments apply only to a trailing plain-text user message; anything
	// else drops them without error.
	endsWithAssistant := []api.Message{
		api.TextMessage("m1", api.RoleUser, "look"),
		api.TextMessage("m2", api.RoleAssistant, "reply"),
	}
	out := rewriteAttachments(endsWithAssistant, []string{"http://x/a.png"})
	assert.Nil(t, out[1].Parts)
	assert.Equal(t, "reply", out[1].Content)

	endsWithParts := []api.Message{
		{ID: "m1", Role: api.RoleUser, Parts: []api.ContentPart{{Type: api.PartTypeText, Text: "parts only"}}},
	}
	out = rewriteAttachments(endsWithParts, []string{"http://x/a.png"})
	require.Len(t, out[0].Parts, 1)
}

func TestNormalizeResponseJoinsTextParts(t *testing.T) {
	out := normalizeResponse([]api.Message{{
		Role: api.RoleAssistant,
		Parts: []api.ContentPart{
			{Type: api.PartTypeText, Text: "A"},
			{Type: api.PartTypeImage, Image: "http://x/a.png"},
			{Type: api.PartTypeText, Text: "B"},
		},
	}})

	require.Len(t, out, 1)
	assert.Equal(t, "A B", out[0].Content)
	assert.NotEmpty(t, out[0].ID)
}
