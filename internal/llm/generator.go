// Package llm adapts the upstream model SDKs behind a single streaming
// Generator interface keyed by "provider:model" specifiers.
package llm

import (
	"context"

	"github.com/google/uuid"

	"chat-backend/pkg/api"
)

// StreamFunc receives each text delta as the model produces it. Returning an
// error aborts the generation.
type StreamFunc func(ctx context.Context, delta string) error

// Generator produces an assistant reply for a conversation. Implementations
// stream text deltas through onDelta as they arrive and return the complete
// reply once the upstream stream ends.
type Generator interface {
	Generate(ctx context.Context, messages []api.Message, systemPrompt string, onDelta StreamFunc) (*Response, error)
}

type Response struct {
	Messages []api.Message
}

func assistantMessage(text string) api.Message {
	return api.Message{
		ID:    uuid.NewString(),
		Role:  api.RoleAssistant,
		Parts: []api.ContentPart{{Type: api.PartTypeText, Text: text}},
	}
}
