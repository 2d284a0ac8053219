package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chat-backend/internal/storage"
	"chat-backend/pkg/api"
)

const maxUploadBytes = 32 << 20

type UploadService struct {
	objects storage.ObjectStore
}

func NewUploadService(objects storage.ObjectStore) *UploadService {
	return &UploadService{objects: objects}
}

func (s *UploadService) AddRoutes(r chi.Router) {
	r.Post("/upload", RestHandler(s.Upload))
}

// Upload stores each file from the multipart form and returns the URLs the
// client embeds as attachments in its next message.
func (s *UploadService) Upload(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form: %v", err)
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "no files provided")
	}

	urls := make([]string, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "unable to read uploaded file %s: %v", header.Filename, err)
		}

		key := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), sanitizeFilename(header.Filename))
		url, err := s.objects.PutObject(r.Context(), key, header.Header.Get("Content-Type"), file)
		file.Close()
		if err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to store upload: %v", err)
		}

		urls = append(urls, url)
	}

	return api.UploadResponse{FileUrls: urls}, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
