package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a key has no stored object
var ErrNotFound = errors.New("stored file not found")

// FileStore keeps document files. Keys are slash separated and double as the
// file reference persisted on documents and signatures.
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ContentType guesses the MIME type of a file from its extension
func ContentType(filename string) string {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}
