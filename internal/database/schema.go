package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type UserSettings struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserID string `gorm:"uniqueIndex;not null"`

	Theme        string `gorm:"size:20;not null"`
	DefaultModel string `gorm:"not null"`
	SystemPrompt string

	ModelParams      datatypes.JSON `gorm:"type:jsonb"`
	Memory           datatypes.JSON `gorm:"type:jsonb"`
	Instructions     datatypes.JSON `gorm:"type:jsonb"`
	StreamChunkSize  datatypes.JSON `gorm:"type:jsonb"`
	MaxContextLength datatypes.JSON `gorm:"type:jsonb"`

	OpenAIKey     sql.NullString
	AnthropicKey  sql.NullString
	GoogleKey     sql.NullString
	OpenRouterKey sql.NullString
	PerplexityKey sql.NullString
	CohereKey     sql.NullString

	CreationTime time.Time
	UpdateTime   time.Time
}

type AuthSession struct {
	Token  string `gorm:"primaryKey"`
	UserID string `gorm:"index;not null"`

	CreationTime time.Time
	ExpiryTime   time.Time
}
