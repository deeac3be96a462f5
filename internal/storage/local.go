package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/topasig/PolicyBroker/internal/util"
)

// Local stores blobs as files under a root directory.
type Local struct {
	root string
}

// NewLocal creates root if needed. A relative root resolves against the writable path.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = "media"
	}
	if !filepath.IsAbs(root) {
		if base := util.WritablePath(); base != "" {
			root = filepath.Join(base, root)
		}
	}
	if errMkdir := os.MkdirAll(root, 0o755); errMkdir != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, errMkdir)
	}
	return &Local{root: root}, nil
}

// Root returns the base directory.
func (l *Local) Root() string { return l.root }

func (l *Local) path(key string) (string, error) {
	cleaned, errKey := cleanKey(key)
	if errKey != nil {
		return "", errKey
	}
	return filepath.Join(l.root, filepath.FromSlash(cleaned)), nil
}

// Put writes data atomically through a temporary file.
func (l *Local) Put(ctx context.Context, key string, data []byte, contentType string) error {
	target, errPath := l.path(key)
	if errPath != nil {
		return errPath
	}
	if errMkdir := os.MkdirAll(filepath.Dir(target), 0o755); errMkdir != nil {
		return fmt.Errorf("storage: create dir: %w", errMkdir)
	}
	tmp, errTemp := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if errTemp != nil {
		return fmt.Errorf("storage: temp file: %w", errTemp)
	}
	tmpName := tmp.Name()
	if _, errWrite := tmp.Write(data); errWrite != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", key, errWrite)
	}
	if errClose := tmp.Close(); errClose != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: close %s: %w", key, errClose)
	}
	if errRename := os.Rename(tmpName, target); errRename != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: rename %s: %w", key, errRename)
	}
	return nil
}

// Get reads the blob at key.
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	target, errPath := l.path(key)
	if errPath != nil {
		return nil, errPath
	}
	data, errRead := os.ReadFile(target)
	if errors.Is(errRead, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if errRead != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, errRead)
	}
	return data, nil
}

// Delete removes the blob at key. Missing blobs are not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	target, errPath := l.path(key)
	if errPath != nil {
		return errPath
	}
	if errRemove := os.Remove(target); errRemove != nil && !errors.Is(errRemove, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", key, errRemove)
	}
	return nil
}
