package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"

	"chat-backend/pkg/api"
)

// langchainGenerator covers the providers we reach through langchaingo.
type langchainGenerator struct {
	client llms.Model
}

func newAnthropicGenerator(model, apiKey string) (Generator, error) {
	client, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("could not create Anthropic client: %w", err)
	}
	return &langchainGenerator{client: client}, nil
}

func newGoogleGenerator(ctx context.Context, model, apiKey string) (Generator, error) {
	client, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("could not create Google client: %w", err)
	}
	return &langchainGenerator{client: client}, nil
}

func (g *langchainGenerator) Generate(ctx context.Context, messages []api.Message, systemPrompt string, onDelta StreamFunc) (*Response, error) {
	resp, err := g.client.GenerateContent(ctx, toLangchainMessages(messages, systemPrompt),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if onDelta == nil || len(chunk) == 0 {
				return nil
			}
			return onDelta(ctx, string(chunk))
		}))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}

	return &Response{Messages: []api.Message{assistantMessage(resp.Choices[0].Content)}}, nil
}

func toLangchainMessages(messages []api.Message, systemPrompt string) []llms.MessageContent {
	var out []llms.MessageContent
	if systemPrompt != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}

	for _, msg := range messages {
		role := llms.ChatMessageTypeHuman
		switch msg.Role {
		case api.RoleAssistant:
			role = llms.ChatMessageTypeAI
		case api.RoleSystem:
			role = llms.ChatMessageTypeSystem
		}

		if len(msg.Parts) == 0 {
			out = append(out, llms.TextParts(role, msg.Content))
			continue
		}

		content := llms.MessageContent{Role: role}
		for _, part := range msg.Parts {
			switch part.Type {
			case api.PartTypeImage:
				content.Parts = append(content.Parts, llms.ImageURLPart(part.Image))
			default:
				content.Parts = append(content.Parts, llms.TextPart(part.Text))
			}
		}
		out = append(out, content)
	}
	return out
}
