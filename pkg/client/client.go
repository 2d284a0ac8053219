package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"chat-backend/internal/stream"
	"chat-backend/pkg/api"
)

// PendingMarker is the placeholder content shown while the reply streams in.
const PendingMarker = "Thinking..."

// ErrorMarker replaces the placeholder when a send fails. The loop never
// retries on its own; a retry is a fresh Send.
const ErrorMarker = "Something went wrong, please try again."

const sessionCookie = "session_token"

// Phase of the send/receive loop.
type Phase int

const (
	Idle Phase = iota
	Sending
	Streaming
	SettledSuccess
	SettledError
)

// Client drives one conversation against the chat API.
type Client struct {
	http  *resty.Client
	store *Store

	mu    sync.Mutex
	phase Phase
}

func New(baseURL, sessionToken string, store *Store) *Client {
	httpClient := resty.New().SetBaseURL(baseURL)
	if sessionToken != "" {
		httpClient.SetCookie(&http.Cookie{Name: sessionCookie, Value: sessionToken})
	}
	return &Client{http: httpClient, store: store}
}

func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Client) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Send submits text as the next user turn and streams the assistant reply
// into the store. It blocks until the stream settles; incremental content is
// observable through the store while it runs.
func (c *Client) Send(ctx context.Context, model, text string, fileUrls []string) error {
	// The request carries the transcript plus the new user turn; the
	// placeholder below is local-only and must not be part of the payload.
	userMsg := api.TextMessage(uuid.NewString(), api.RoleUser, text)
	payload := api.ChatRequest{
		Messages: append(c.store.Messages(), userMsg),
		ID:       c.store.ChatID(),
		Model:    model,
		FileUrls: fileUrls,
	}

	c.store.AddMessage(userMsg)
	placeholderID := uuid.NewString()
	c.store.AddMessage(api.TextMessage(placeholderID, api.RoleAssistant, PendingMarker))
	c.setPhase(Sending)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetDoNotParseResponse(true).
		Post("/api/chat")
	if err != nil {
		return c.settleError(placeholderID, err)
	}
	defer resp.RawBody().Close()

	if resp.StatusCode() != http.StatusOK {
		body, _ := io.ReadAll(resp.RawBody())
		return c.settleError(placeholderID, fmt.Errorf("chat request failed with status %d: %s", resp.StatusCode(), body))
	}

	c.setPhase(Streaming)
	if err := c.consume(resp.RawBody(), placeholderID); err != nil {
		return c.settleError(placeholderID, err)
	}

	c.setPhase(SettledSuccess)
	return nil
}

// Resume re-attaches to the most recent stream for the current chat and
// applies whatever the server replays: live deltas land in a fresh assistant
// message, append-message events are appended verbatim.
func (c *Client) Resume(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("chatId", c.store.ChatID()).
		SetDoNotParseResponse(true).
		Get("/api/chat")
	if err != nil {
		c.setPhase(SettledError)
		return err
	}
	defer resp.RawBody().Close()

	if resp.StatusCode() != http.StatusOK {
		body, _ := io.ReadAll(resp.RawBody())
		c.setPhase(SettledError)
		return fmt.Errorf("resume request failed with status %d: %s", resp.StatusCode(), body)
	}

	c.setPhase(Streaming)
	if err := c.consume(resp.RawBody(), ""); err != nil {
		c.setPhase(SettledError)
		return err
	}

	c.setPhase(SettledSuccess)
	return nil
}

// consume reads frames until EOF, updating the placeholder message (created
// on demand when placeholderID is empty) with the accumulated text.
func (c *Client) consume(r io.Reader, placeholderID string) error {
	var buf stream.LineBuffer
	var accumulator string

	chunk := make([]byte, 4096)
	for {
		n, readErr := r.Read(chunk)
		for _, line := range buf.Feed(chunk[:n]) {
			frame, err := stream.ParseFrame(line)
			if err != nil {
				return err
			}

			switch frame.Type {
			case stream.TypeText:
				delta, err := frame.TextDelta()
				if err != nil {
					return err
				}
				accumulator += delta
				if placeholderID == "" {
					placeholderID = uuid.NewString()
					c.store.AddMessage(api.TextMessage(placeholderID, api.RoleAssistant, ""))
				}
				c.store.UpdateMessage(placeholderID, accumulator)
			case stream.TypeData:
				events, err := frame.DataEvents()
				if err != nil {
					return err
				}
				for _, event := range events {
					if event.Type != stream.AppendMessageEvent {
						continue
					}
					var msg api.Message
					if err := json.Unmarshal([]byte(event.Message), &msg); err != nil {
						return fmt.Errorf("invalid append-message payload: %w", err)
					}
					c.store.AddMessage(msg)
				}
			case stream.TypeError:
				var message string
				if err := json.Unmarshal(frame.Payload, &message); err != nil {
					message = string(frame.Payload)
				}
				return fmt.Errorf("stream error: %s", message)
			default:
				// Finish and unknown control frames are pass-through.
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (c *Client) settleError(placeholderID string, err error) error {
	c.store.UpdateMessage(placeholderID, ErrorMarker)
	c.setPhase(SettledError)
	return err
}
