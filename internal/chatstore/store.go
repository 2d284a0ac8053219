// Package chatstore persists chat transcripts and stream-id lists as JSON
// documents on disk, one pair of files per user and chat.
package chatstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"chat-backend/pkg/api"
)

type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) chatDir(userID string) (string, error) {
	dir := filepath.Join(s.baseDir, userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create chat directory: %w", err)
	}
	return dir, nil
}

func (s *Store) chatFile(chatID, userID string) (string, error) {
	dir, err := s.chatDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, chatID+".json"), nil
}

func (s *Store) streamsFile(chatID, userID string) (string, error) {
	dir, err := s.chatDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, chatID+".streams.json"), nil
}

// CreateChat initializes an empty transcript and stream-id list and returns
// the new chat id.
func (s *Store) CreateChat(userID string) (string, error) {
	chatID := uuid.NewString()

	chatPath, err := s.chatFile(chatID, userID)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(chatPath, []byte("[]"), 0644); err != nil {
		return "", fmt.Errorf("failed to initialize transcript: %w", err)
	}

	streamsPath, err := s.streamsFile(chatID, userID)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(streamsPath, []byte("[]"), 0644); err != nil {
		return "", fmt.Errorf("failed to initialize stream list: %w", err)
	}

	return chatID, nil
}

// LoadChat returns the persisted transcript. A chat with no record yet reads
// as an empty transcript, not an error.
func (s *Store) LoadChat(chatID, userID string) ([]api.Message, error) {
	path, err := s.chatFile(chatID, userID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []api.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	var messages []api.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse transcript %s: %w", path, err)
	}
	return messages, nil
}

// SaveChat overwrites the full transcript for the chat. Note that concurrent
// writers race at the file level and the last write wins; see DESIGN.md.
func (s *Store) SaveChat(chatID string, messages []api.Message, userID string) error {
	path, err := s.chatFile(chatID, userID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// LoadStreamIDs returns the stream ids recorded for the chat in append
// order; the most recent id is last. Absent records read as empty.
func (s *Store) LoadStreamIDs(chatID, userID string) ([]string, error) {
	path, err := s.streamsFile(chatID, userID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream list: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse stream list %s: %w", path, err)
	}
	return ids, nil
}

// AppendStreamID records a new generation attempt for the chat. This is a
// read-modify-write of the whole list.
func (s *Store) AppendStreamID(chatID, streamID, userID string) error {
	ids, err := s.LoadStreamIDs(chatID, userID)
	if err != nil {
		return err
	}
	ids = append(ids, streamID)

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stream list: %w", err)
	}

	path, err := s.streamsFile(chatID, userID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write stream list: %w", err)
	}
	return nil
}
