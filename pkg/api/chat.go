package api

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	PartTypeText  = "text"
	PartTypeImage = "image"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Message is a single conversation turn. The wire format of the content
// field is either a JSON string or a sequence of parts; Parts takes
// precedence over Content when non-nil.
type Message struct {
	ID      string
	Role    string
	Content string
	Parts   []ContentPart
}

func TextMessage(id, role, content string) Message {
	return Message{ID: id, Role: role, Content: content}
}

type messageJSON struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content any = m.Content
	if m.Parts != nil {
		content = m.Parts
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{ID: m.ID, Role: m.Role, Content: raw})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return err
	}
	m.ID = mj.ID
	m.Role = mj.Role
	m.Content = ""
	m.Parts = nil

	raw := bytes.TrimSpace(mj.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		return json.Unmarshal(raw, &m.Content)
	}
	return json.Unmarshal(raw, &m.Parts)
}

// PlainText returns the textual body of the message: the Content string, or
// for multimodal messages the text parts joined with a single space.
// Non-text parts are dropped.
func (m Message) PlainText() string {
	if m.Parts == nil {
		return m.Content
	}
	return JoinTextParts(m.Parts)
}

// JoinTextParts concatenates the text of all text-typed parts, in order,
// separated by a single space.
func JoinTextParts(parts []ContentPart) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type == PartTypeText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, " ")
}

type ChatRequest struct {
	Messages []Message `json:"messages"`
	ID       string    `json:"id"`
	Model    string    `json:"model"`
	FileUrls []string  `json:"fileUrls,omitempty"`
}

type ResumeChatRequest struct {
	ChatID string `schema:"chatId"`
}

type CreateChatResponse struct {
	ChatID string `json:"chatId"`
}

type UploadResponse struct {
	FileUrls []string `json:"fileUrls"`
}

type ModelConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Provider    string `json:"provider" yaml:"provider"`
	HasSearch   bool   `json:"hasSearch" yaml:"hasSearch"`
	Description string `json:"description" yaml:"description"`
}
