// Package storage provides the object stores backing attachment uploads.
package storage

import (
	"context"
	"io"
)

// ObjectStore persists uploaded attachments and hands back the URL a client
// embeds in its next message.
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, data io.Reader) (string, error)
}
