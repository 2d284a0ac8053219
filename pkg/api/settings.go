package api

// DefaultSystemPrompt is used when a user has not configured one.
const DefaultSystemPrompt = "You are a helpful assistant."

const DefaultModel = "openai:gpt-4o"

type ModelParams struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	MaxTokens   int     `json:"maxTokens"`
	SearchMode  bool    `json:"searchMode"`
}

func DefaultModelParams() ModelParams {
	return ModelParams{Temperature: 0.7, TopP: 1, MaxTokens: 1000, SearchMode: false}
}

type MemoryConfig struct {
	MaxMemories     int                `json:"maxMemories"`
	MinPriority     float64            `json:"minPriority"`
	RecencyWeight   float64            `json:"recencyWeight"`
	CategoryWeights map[string]float64 `json:"categoryWeights"`
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{MaxMemories: 10, MinPriority: 0, RecencyWeight: 0.5, CategoryWeights: map[string]float64{}}
}

type InstructionTypes struct {
	Personality bool `json:"personality"`
	Knowledge   bool `json:"knowledge"`
	Behavior    bool `json:"behavior"`
	Style       bool `json:"style"`
}

func DefaultInstructionTypes() InstructionTypes {
	return InstructionTypes{Personality: true, Knowledge: true, Behavior: true, Style: true}
}

type StreamChunkSize struct {
	Tokens     int `json:"tokens"`
	Characters int `json:"characters"`
}

func DefaultStreamChunkSize() StreamChunkSize {
	return StreamChunkSize{Tokens: 100, Characters: 1000}
}

type MaxContextLength struct {
	Messages int `json:"messages"`
	Tokens   int `json:"tokens"`
}

func DefaultMaxContextLength() MaxContextLength {
	return MaxContextLength{Messages: 100, Tokens: 4000}
}

// UserSettings is the API representation of one user's settings record.
// API key fields are nil when the user has not supplied a key.
type UserSettings struct {
	Theme                   string           `json:"theme"`
	DefaultModel            string           `json:"defaultModel"`
	SystemPrompt            string           `json:"systemPrompt,omitempty"`
	DefaultModelParameters  ModelParams      `json:"defaultModelParameters"`
	MemoryConfig            MemoryConfig     `json:"memoryConfig"`
	EnabledInstructionTypes InstructionTypes `json:"enabledInstructionTypes"`
	StreamChunkSize         StreamChunkSize  `json:"streamChunkSize"`
	MaxContextLength        MaxContextLength `json:"maxContextLength"`

	OpenAIAPIKey     *string `json:"openaiApiKey"`
	AnthropicAPIKey  *string `json:"anthropicApiKey"`
	GoogleAPIKey     *string `json:"googleApiKey"`
	OpenRouterAPIKey *string `json:"openrouterApiKey"`
	PerplexityAPIKey *string `json:"perplexityApiKey"`
	CohereAPIKey     *string `json:"cohereApiKey"`
}

// UpdateUserSettingsRequest is a partial update: nil fields are left
// untouched, non-nil fields overwrite the stored value wholesale.
type UpdateUserSettingsRequest struct {
	Theme                   *string           `json:"theme"`
	DefaultModel            *string           `json:"defaultModel"`
	SystemPrompt            *string           `json:"systemPrompt"`
	DefaultModelParameters  *ModelParams      `json:"defaultModelParameters"`
	MemoryConfig            *MemoryConfig     `json:"memoryConfig"`
	EnabledInstructionTypes *InstructionTypes `json:"enabledInstructionTypes"`
	StreamChunkSize         *StreamChunkSize  `json:"streamChunkSize"`
	MaxContextLength        *MaxContextLength `json:"maxContextLength"`

	OpenAIAPIKey     *string `json:"openaiApiKey"`
	AnthropicAPIKey  *string `json:"anthropicApiKey"`
	GoogleAPIKey     *string `json:"googleApiKey"`
	OpenRouterAPIKey *string `json:"openrouterApiKey"`
	PerplexityAPIKey *string `json:"perplexityApiKey"`
	CohereAPIKey     *string `json:"cohereApiKey"`
}
