package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"chat-backend/pkg/api"
)

// openAIGenerator serves both the openai and openrouter providers; the latter
// is the same wire protocol behind a different base URL.
type openAIGenerator struct {
	client openai.Client
	model  string
}

func newOpenAIGenerator(model, apiKey, baseURL string) Generator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openAIGenerator{client: openai.NewClient(opts...), model: model}
}

func (g *openAIGenerator) Generate(ctx context.Context, messages []api.Message, systemPrompt string, onDelta StreamFunc) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: toOpenAIMessages(messages, systemPrompt),
	}

	stream := g.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(ctx, delta); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapOpenAIError(err)
	}

	return &Response{Messages: []api.Message{assistantMessage(text.String())}}, nil
}

func toOpenAIMessages(messages []api.Message, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range messages {
		switch msg.Role {
		case api.RoleSystem:
			out = append(out, openai.SystemMessage(msg.PlainText()))
		case api.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.PlainText()))
		default:
			if len(msg.Parts) == 0 {
				out = append(out, openai.UserMessage(msg.Content))
				continue
			}
			var parts []openai.ChatCompletionContentPartUnionParam
			for _, part := range msg.Parts {
				switch part.Type {
				case api.PartTypeImage:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: part.Image}))
				default:
					parts = append(parts, openai.TextContentPart(part.Text))
				}
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

func wrapOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrUpstreamAuth, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrUpstreamRateLimit, err)
		}
	}
	return err
}
