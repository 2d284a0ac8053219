package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"chat-backend/internal/auth"
	"chat-backend/internal/chatstore"
	"chat-backend/internal/database"
	"chat-backend/internal/llm"
	"chat-backend/internal/messaging"
	"chat-backend/internal/stream"
	"chat-backend/pkg/api"
)

const (
	DefaultGenerationTimeout = 5 * time.Minute

	saveEnqueueTimeout = 30 * time.Second
)

type ChatService struct {
	db        *gorm.DB
	store     *chatstore.Store
	streams   *stream.Registry
	publisher messaging.Publisher
	catalog   []api.ModelConfig

	generationTimeout time.Duration

	// resolve is swapped out in tests to avoid real provider clients.
	resolve func(ctx context.Context, spec string, keys llm.Keys) (llm.Generator, error)
}

func NewChatService(db *gorm.DB, store *chatstore.Store, streams *stream.Registry, publisher messaging.Publisher, catalog []api.ModelConfig, generationTimeout time.Duration) *ChatService {
	if generationTimeout <= 0 {
		generationTimeout = DefaultGenerationTimeout
	}
	return &ChatService{
		db:                db,
		store:             store,
		streams:           streams,
		publisher:         publisher,
		catalog:           catalog,
		generationTimeout: generationTimeout,
		resolve:           llm.Resolve,
	}
}

func (s *ChatService) AddRoutes(r chi.Router) {
	r.Post("/chat", s.SendMessage)
	r.Get("/chat", s.ResumeStream)

	r.Post("/chats", RestHandler(s.CreateChat))
	r.Get("/chats/{chat_id}/messages", RestHandler(s.GetMessages))

	r.Get("/models", RestHandler(s.GetModels))
}

func (s *ChatService) CreateChat(r *http.Request) (any, error) {
	chatID, err := s.store.CreateChat(auth.UserID(r))
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create chat: %v", err)
	}
	return api.CreateChatResponse{ChatID: chatID}, nil
}

func (s *ChatService) GetMessages(r *http.Request) (any, error) {
	chatID, err := URLParamUUID(r, "chat_id")
	if err != nil {
		return nil, err
	}

	messages, err := s.store.LoadChat(chatID.String(), auth.UserID(r))
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to load chat: %v", err)
	}
	return messages, nil
}

func (s *ChatService) GetModels(r *http.Request) (any, error) {
	return s.catalog, nil
}

// SendMessage accepts the full conversation so far, opens a resumable stream,
// and relays model output to the client as newline-delimited frames. The
// model is resolved before the stream id is recorded so invalid requests fail
// with a clean HTTP error instead of a broken stream.
func (s *ChatService) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r)

	req, err := ParseRequest[api.ChatRequest](r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if req.ID == "" {
		WriteError(w, CodedErrorf(http.StatusBadRequest, "missing chat id"))
		return
	}
	if len(req.Messages) == 0 {
		WriteError(w, CodedErrorf(http.StatusBadRequest, "no messages provided"))
		return
	}

	settings, err := loadOrCreateSettings(r.Context(), s.db, userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	model := req.Model
	if model == "" {
		model = settings.DefaultModel
	}

	generator, err := s.resolve(r.Context(), model, providerKeys(settings))
	if err != nil {
		WriteError(w, resolveError(err))
		return
	}

	llmMessages := rewriteAttachments(req.Messages, req.FileUrls)

	streamID := uuid.NewString()
	if err := s.store.AppendStreamID(req.ID, streamID, userID); err != nil {
		WriteError(w, CodedErrorf(http.StatusInternalServerError, "failed to record stream: %v", err))
		return
	}

	live, err := s.streams.Create(streamID)
	if err != nil {
		WriteError(w, CodedErrorf(http.StatusInternalServerError, "failed to register stream: %v", err))
		return
	}

	systemPrompt := settings.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = api.DefaultSystemPrompt
	}

	// Generation runs detached from the request context so that a client
	// disconnect does not abort it; the stream stays resumable until the
	// model finishes or the timeout fires.
	go s.generate(live, generator, req.Messages, llmMessages, systemPrompt, req.ID, userID)

	s.follow(w, r, live)
}

// ResumeStream re-attaches the client to the most recent stream for a chat.
// If that stream is live (or recently completed) its frames are replayed;
// otherwise the last persisted assistant message, if any, is sent as an
// append-message event.
func (s *ChatService) ResumeStream(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r)

	params, err := ParseRequestQueryParams[api.ResumeChatRequest](r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if params.ChatID == "" {
		WriteError(w, CodedErrorf(http.StatusBadRequest, "missing chatId query parameter"))
		return
	}

	streamIDs, err := s.store.LoadStreamIDs(params.ChatID, userID)
	if err != nil {
		WriteError(w, CodedErrorf(http.StatusInternalServerError, "failed to load streams: %v", err))
		return
	}
	if len(streamIDs) == 0 {
		WriteError(w, CodedErrorf(http.StatusNotFound, "no streams found for chat"))
		return
	}

	latest := streamIDs[len(streamIDs)-1]
	if live, ok := s.streams.Lookup(latest); ok {
		s.follow(w, r, live)
		return
	}

	// The stream is gone from the registry. Fall back to the persisted
	// transcript: replay the final assistant message if generation got that
	// far, otherwise there is nothing to send.
	messages, err := s.store.LoadChat(params.ChatID, userID)
	if err != nil {
		WriteError(w, CodedErrorf(http.StatusInternalServerError, "failed to load chat: %v", err))
		return
	}
	if len(messages) == 0 {
		WriteError(w, CodedErrorf(http.StatusNotFound, "no live stream or persisted transcript for chat"))
		return
	}

	streamHeaders(w)
	if messages[len(messages)-1].Role != api.RoleAssistant {
		return
	}

	last, err := json.Marshal(messages[len(messages)-1])
	if err != nil {
		slog.Error("error encoding persisted message", "chat_id", params.ChatID, "error", err)
		return
	}
	if _, err := w.Write(stream.DataFrame(stream.DataEvent{Type: stream.AppendMessageEvent, Message: string(last)})); err != nil {
		slog.Error("error writing resume frame", "chat_id", params.ChatID, "error", err)
	}
}

// follow streams frames to the client until the stream closes or the client
// goes away.
func (s *ChatService) follow(w http.ResponseWriter, r *http.Request, live *stream.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("response writer does not support flushing")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	streamHeaders(w)
	flusher.Flush()

	if err := live.WriteTo(r.Context(), w, flusher.Flush); err != nil {
		// Client disconnects are routine; generation carries on without us.
		slog.Info("stream follower detached", "error", err)
	}
}

func streamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func (s *ChatService) generate(live *stream.Stream, generator llm.Generator, transcript, llmMessages []api.Message, systemPrompt, chatID, userID string) {
	defer live.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.generationTimeout)
	defer cancel()

	resp, err := generator.Generate(ctx, llmMessages, systemPrompt, func(ctx context.Context, delta string) error {
		live.Publish(stream.TextFrame(delta))
		return nil
	})
	if err != nil {
		slog.Error("generation failed", "chat_id", chatID, "error", err)
		live.Publish(stream.ErrorFrame(err.Error()))
		return
	}

	live.Publish(stream.FinishFrame("stop"))

	// The transcript keeps the messages as the user sent them; the
	// attachment rewrite only shapes what the model sees.
	final := make([]api.Message, 0, len(transcript)+len(resp.Messages))
	final = append(final, transcript...)
	final = append(final, normalizeResponse(resp.Messages)...)

	// The save gets its own deadline so a reply that finished just under
	// the generation deadline still enqueues.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), saveEnqueueTimeout)
	defer saveCancel()
	if err := s.publisher.PublishSaveTranscript(saveCtx, messaging.SaveTranscriptPayload{
		ChatID:   chatID,
		UserID:   userID,
		Messages: final,
	}); err != nil {
		// Persistence is best effort: the client already has the reply.
		slog.Error("failed to enqueue transcript save", "chat_id", chatID, "error", err)
	}
}

// normalizeResponse flattens provider reply messages to plain text content,
// joining text parts with a single space.
func normalizeResponse(messages []api.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, api.Message{ID: id, Role: msg.Role, Content: msg.PlainText()})
	}
	return out
}

// rewriteAttachments folds uploaded file URLs into the final message,
// converting it to a text part followed by one image part per URL. The final
// message must be a plain-text user message; otherwise the URLs are dropped
// without error. That boundary is questionable but deliberate, see DESIGN.md.
func rewriteAttachments(messages []api.Message, fileUrls []string) []api.Message {
	if len(fileUrls) == 0 || len(messages) == 0 {
		return messages
	}

	out := make([]api.Message, len(messages))
	copy(out, messages)

	last := &out[len(out)-1]
	if last.Role != api.RoleUser || last.Parts != nil {
		slog.Warn("last message is not plain text user message, dropping attachments", "count", len(fileUrls))
		return out
	}

	parts := []api.ContentPart{{Type: api.PartTypeText, Text: last.Content}}
	for _, url := range fileUrls {
		parts = append(parts, api.ContentPart{Type: api.PartTypeImage, Image: url})
	}
	last.Parts = parts
	last.Content = ""
	return out
}

func resolveError(err error) error {
	switch {
	case errors.Is(err, llm.ErrInvalidModel), errors.Is(err, llm.ErrUnknownProvider), errors.Is(err, llm.ErrMissingKey):
		return CodedError(http.StatusBadRequest, err)
	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}

func providerKeys(record database.UserSettings) llm.Keys {
	return llm.Keys{
		OpenAI:     record.OpenAIKey.String,
		Anthropic:  record.AnthropicKey.String,
		Google:     record.GoogleKey.String,
		OpenRouter: record.OpenRouterKey.String,
	}
}
