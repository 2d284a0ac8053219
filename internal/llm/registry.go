package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrInvalidModel    = errors.New("invalid model specifier")
	ErrMissingKey      = errors.New("missing API key for provider")

	ErrUpstreamAuth      = errors.New("upstream provider rejected credentials")
	ErrUpstreamRateLimit = errors.New("upstream provider rate limited the request")
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Keys holds the per-provider API keys of the requesting user.
type Keys struct {
	OpenAI     string
	Anthropic  string
	Google     string
	OpenRouter string
}

// Resolve parses a "provider:model" specifier and constructs the generator
// for it. Resolution fails fast on unknown providers and missing keys so the
// caller can reject the request before any stream is opened.
func Resolve(ctx context.Context, spec string, keys Keys) (Generator, error) {
	provider, model, found := strings.Cut(spec, ":")
	if !found || provider == "" || model == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidModel, spec)
	}

	switch provider {
	case "openai":
		if keys.OpenAI == "" {
			return nil, fmt.Errorf("%w: openai", ErrMissingKey)
		}
		return newOpenAIGenerator(model, keys.OpenAI, ""), nil
	case "openrouter":
		// OpenRouter speaks the OpenAI wire protocol, only the base URL and
		// key differ.
		if keys.OpenRouter == "" {
			return nil, fmt.Errorf("%w: openrouter", ErrMissingKey)
		}
		return newOpenAIGenerator(model, keys.OpenRouter, openRouterBaseURL), nil
	case "anthropic":
		if keys.Anthropic == "" {
			return nil, fmt.Errorf("%w: anthropic", ErrMissingKey)
		}
		return newAnthropicGenerator(model, keys.Anthropic)
	case "google":
		if keys.Google == "" {
			return nil, fmt.Errorf("%w: google", ErrMissingKey)
		}
		return newGoogleGenerator(ctx, model, keys.Google)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}
