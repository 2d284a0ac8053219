package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalObjectStore keeps attachments on the local filesystem. The files are
// served back by the API process under /files/.
type LocalObjectStore struct {
	baseDir string
	baseURL string
}

var _ ObjectStore = (*LocalObjectStore)(nil)

func NewLocalObjectStore(dir, baseURL string) (*LocalObjectStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}
	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", baseDir, err)
	}

	return &LocalObjectStore{baseDir: baseDir, baseURL: baseURL}, nil
}

// Dir is the directory the API serves under /files/.
func (s *LocalObjectStore) Dir() string {
	return s.baseDir
}

func (s *LocalObjectStore) PutObject(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory for %s/%s: %w", s.baseDir, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s/%s: %w", s.baseDir, key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return "", fmt.Errorf("failed to write file %s/%s: %w", s.baseDir, key, err)
	}

	return s.baseURL + "/files/" + key, nil
}
