package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Namespaces for stored blobs.
const (
	KindDocuments = "documents"
	KindVoices    = "voices"
)

var ErrInvalidKey = errors.New("invalid storage key")

// BlobStore persists uploaded files under relative keys such as
// "documents/<random>.pdf".
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Locate returns an absolute locator the relay can open: a filesystem
	// path for local storage, a pre-signed URL for object storage.
	Locate(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// NewKey builds a fresh random key under kind, keeping the lowercased
// extension of the original filename.
func NewKey(kind, originalName string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(originalName, "\\", "/")))
	if ext == "." || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	return kind + "/" + strings.ReplaceAll(uuid.NewString(), "-", "") + ext
}

// cleanKey rejects keys that could escape the storage root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
