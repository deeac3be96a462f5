// Package storage keeps issued document blobs on the local filesystem or in MinIO.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/topasig/PolicyBroker/internal/config"
)

// ErrNotFound is returned when a key has no blob.
var ErrNotFound = errors.New("storage: object not found")

// Backend names.
const (
	BackendLocal = "local"
	BackendMinIO = "minio"
)

// Storage is a flat key/value blob store.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		return NewLocal(cfg.LocalDir)
	case BackendMinIO:
		return NewMinIO(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", cfg.Backend)
	}
}

// DatedKey places name under a YYYY-MM-DD prefix.
func DatedKey(now time.Time, name string) string {
	return path.Join(now.UTC().Format("2006-01-02"), path.Base(name))
}

// cleanKey rejects keys that would escape the storage root.
func cleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if trimmed == "" {
		return "", fmt.Errorf("storage: empty key")
	}
	cleaned := path.Clean("/" + trimmed)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return "", fmt.Errorf("storage: invalid key %q", key)
		}
	}
	return cleaned, nil
}
