// Package messaging carries transcript persistence off the request path.
// Saves are published to a queue and applied by a background worker; a
// RabbitMQ backend is available for multi-process deployments and an
// in-memory queue for single-process ones.
package messaging

import (
	"context"
	"time"

	"chat-backend/pkg/api"
)

const (
	SaveTranscriptQueue = "save_transcript_queue"
	RetryDelay          = 5 * time.Second
	MaxConnectRetry     = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type SaveTranscriptPayload struct {
	ChatID   string        `json:"chat_id"`
	UserID   string        `json:"user_id"`
	Messages []api.Message `json:"messages"`
}

type Publisher interface {
	PublishSaveTranscript(ctx context.Context, payload SaveTranscriptPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
