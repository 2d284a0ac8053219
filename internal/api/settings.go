package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"chat-backend/internal/auth"
	"chat-backend/internal/database"
	"chat-backend/pkg/api"
)

type SettingsService struct {
	db *gorm.DB
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{db: db}
}

func (s *SettingsService) AddRoutes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", RestHandler(s.GetSettings))
		r.Patch("/", RestHandler(s.UpdateSettings))
	})
}

func (s *SettingsService) GetSettings(r *http.Request) (any, error) {
	record, err := loadOrCreateSettings(r.Context(), s.db, auth.UserID(r))
	if err != nil {
		return nil, err
	}
	return toAPISettings(record)
}

func (s *SettingsService) UpdateSettings(r *http.Request) (any, error) {
	req, err := ParseRequest[api.UpdateUserSettingsRequest](r)
	if err != nil {
		return nil, err
	}

	record, err := loadOrCreateSettings(r.Context(), s.db, auth.UserID(r))
	if err != nil {
		return nil, err
	}

	if err := applySettingsUpdate(&record, req); err != nil {
		return nil, err
	}
	record.UpdateTime = time.Now().UTC()

	if err := s.db.WithContext(r.Context()).Save(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	return toAPISettings(record)
}

func mustJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal settings value: %v", err))
	}
	return datatypes.JSON(data)
}

func defaultSettingsRecord(userID string) database.UserSettings {
	now := time.Now().UTC()
	return database.UserSettings{
		Id:               uuid.New(),
		UserID:           userID,
		Theme:            "system",
		DefaultModel:     api.DefaultModel,
		ModelParams:      mustJSON(api.DefaultModelParams()),
		Memory:           mustJSON(api.DefaultMemoryConfig()),
		Instructions:     mustJSON(api.DefaultInstructionTypes()),
		StreamChunkSize:  mustJSON(api.DefaultStreamChunkSize()),
		MaxContextLength: mustJSON(api.DefaultMaxContextLength()),
		CreationTime:     now,
		UpdateTime:       now,
	}
}

// loadOrCreateSettings returns the user's settings record, creating the
// default record on first access.
func loadOrCreateSettings(ctx context.Context, db *gorm.DB, userID string) (database.UserSettings, error) {
	var record database.UserSettings
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return record, fmt.Errorf("failed to load settings: %w", err)
	}

	record = defaultSettingsRecord(userID)
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		return record, fmt.Errorf("failed to create default settings: %w", err)
	}
	return record, nil
}

func toAPISettings(record database.UserSettings) (api.UserSettings, error) {
	settings := api.UserSettings{
		Theme:        record.Theme,
		DefaultModel: record.DefaultModel,
		SystemPrompt: record.SystemPrompt,

		OpenAIAPIKey:     nullableString(record.OpenAIKey),
		AnthropicAPIKey:  nullableString(record.AnthropicKey),
		GoogleAPIKey:     nullableString(record.GoogleKey),
		OpenRouterAPIKey: nullableString(record.OpenRouterKey),
		PerplexityAPIKey: nullableString(record.PerplexityKey),
		CohereAPIKey:     nullableString(record.CohereKey),
	}

	for _, field := range []struct {
		raw  datatypes.JSON
		dest any
	}{
		{record.ModelParams, &settings.DefaultModelParameters},
		{record.Memory, &settings.MemoryConfig},
		{record.Instructions, &settings.EnabledInstructionTypes},
		{record.StreamChunkSize, &settings.StreamChunkSize},
		{record.MaxContextLength, &settings.MaxContextLength},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return settings, fmt.Errorf("corrupt settings record: %w", err)
		}
	}

	return settings, nil
}

func applySettingsUpdate(record *database.UserSettings, req api.UpdateUserSettingsRequest) error {
	if req.Theme != nil {
		record.Theme = *req.Theme
	}
	if req.DefaultModel != nil {
		record.DefaultModel = *req.DefaultModel
	}
	if req.SystemPrompt != nil {
		record.SystemPrompt = *req.SystemPrompt
	}
	if req.DefaultModelParameters != nil {
		record.ModelParams = mustJSON(*req.DefaultModelParameters)
	}
	if req.MemoryConfig != nil {
		record.Memory = mustJSON(*req.MemoryConfig)
	}
	if req.EnabledInstructionTypes != nil {
		record.Instructions = mustJSON(*req.EnabledInstructionTypes)
	}
	if req.StreamChunkSize != nil {
		record.StreamChunkSize = mustJSON(*req.StreamChunkSize)
	}
	if req.MaxContextLength != nil {
		record.MaxContextLength = mustJSON(*req.MaxContextLength)
	}

	if req.OpenAIAPIKey != nil {
		record.OpenAIKey = sql.NullString{String: *req.OpenAIAPIKey, Valid: *req.OpenAIAPIKey != ""}
	}
	if req.AnthropicAPIKey != nil {
		record.AnthropicKey = sql.NullString{String: *req.AnthropicAPIKey, Valid: *req.AnthropicAPIKey != ""}
	}
	if req.GoogleAPIKey != nil {
		record.GoogleKey = sql.NullString{String: *req.GoogleAPIKey, Valid: *req.GoogleAPIKey != ""}
	}
	if req.OpenRouterAPIKey != nil {
		record.OpenRouterKey = sql.NullString{String: *req.OpenRouterAPIKey, Valid: *req.OpenRouterAPIKey != ""}
	}
	if req.PerplexityAPIKey != nil {
		record.PerplexityKey = sql.NullString{String: *req.PerplexityAPIKey, Valid: *req.PerplexityAPIKey != ""}
	}
	if req.CohereAPIKey != nil {
		record.CohereKey = sql.NullString{String: *req.CohereAPIKey, Valid: *req.CohereAPIKey != ""}
	}

	return nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
