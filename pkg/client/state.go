// Package client is a Go client for the chat API: a local message store with
// reducer-style transitions, plus the send/receive loop that drives the
// streaming endpoints.
package client

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"chat-backend/pkg/api"
)

// Store holds the local view of one conversation. Transitions are pure state
// updates; persistence is a separate boundary (Save/Load).
type Store struct {
	mu       sync.Mutex
	chatID   string
	messages []api.Message
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// NewChat resets the store to an empty conversation under chatID.
func (s *Store) NewChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = chatID
	s.messages = nil
}

func (s *Store) AddMessage(msg api.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// UpdateMessage replaces the content of the message with the given id. An
// unknown id is a no-op.
func (s *Store) UpdateMessage(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			s.messages[i].Parts = nil
			return
		}
	}
}

func (s *Store) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Messages returns a copy of the current transcript.
func (s *Store) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

type storeSnapshot struct {
	ChatID   string        `json:"chatId"`
	Messages []api.Message `json:"messages"`
}

// Save writes the store state to a JSON file.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	snapshot := storeSnapshot{ChatID: s.chatID, Messages: s.messages}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	return nil
}

// Load replaces the store state from a JSON file.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}

	var snapshot storeSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to parse store %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = snapshot.ChatID
	s.messages = snapshot.Messages
	return nil
}
