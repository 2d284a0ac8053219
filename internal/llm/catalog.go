package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"chat-backend/pkg/api"
)

// DefaultCatalog lists the models the frontend offers out of the box. A
// deployment can replace it with a YAML file via LoadCatalog.
var DefaultCatalog = []api.ModelConfig{
	{ID: "openai:gpt-4o", Name: "GPT-4o", Provider: "openai", Description: "Flagship multimodal model"},
	{ID: "openai:gpt-4", Name: "GPT-4", Provider: "openai", Description: "Previous generation flagship"},
	{ID: "openai:gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai", Description: "Fast and inexpensive"},
	{ID: "anthropic:claude-3-5-sonnet-latest", Name: "Claude 3.5 Sonnet", Provider: "anthropic", Description: "Balanced intelligence and speed"},
	{ID: "anthropic:claude-3-haiku-20240307", Name: "Claude 3 Haiku", Provider: "anthropic", Description: "Fastest Claude model"},
	{ID: "google:gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: "google", HasSearch: true, Description: "Fast Gemini model with search grounding"},
	{ID: "google:gemini-1.5-pro", Name: "Gemini 1.5 Pro", Provider: "google", Description: "Long context Gemini model"},
	{ID: "openrouter:meta-llama/llama-3.1-70b-instruct", Name: "Llama 3.1 70B", Provider: "openrouter", Description: "Open weights model via OpenRouter"},
}

// LoadCatalog reads a model catalog from a YAML file. An empty path returns
// the built-in catalog.
func LoadCatalog(path string) ([]api.ModelConfig, error) {
	if path == "" {
		return DefaultCatalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}

	var catalog []api.ModelConfig
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog %s: %w", path, err)
	}
	return catalog, nil
}
