package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/topasig/PolicyBroker/internal/config"
)

func TestLocalPutGetDelete(t *testing.T) {
	root := t.TempDir()
	store, errNew := NewLocal(root)
	if errNew != nil {
		t.Fatalf("new local: %v", errNew)
	}
	ctx := context.Background()
	key := DatedKey(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), "DOC-1.pdf")
	if key != "2026-03-01/DOC-1.pdf" {
		t.Fatalf("unexpected key %s", key)
	}

	if errPut := store.Put(ctx, key, []byte("%PDF-1.7"), "application/pdf"); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	if _, errStat := os.Stat(filepath.Join(root, "2026-03-01", "DOC-1.pdf")); errStat != nil {
		t.Fatalf("expected file on disk: %v", errStat)
	}
	data, errGet := store.Get(ctx, key)
	if errGet != nil || string(data) != "%PDF-1.7" {
		t.Fatalf("get: %q %v", data, errGet)
	}
	if errDelete := store.Delete(ctx, key); errDelete != nil {
		t.Fatalf("delete: %v", errDelete)
	}
	if _, errGet = store.Get(ctx, key); !errors.Is(errGet, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errGet)
	}
	if errDelete := store.Delete(ctx, key); errDelete != nil {
		t.Fatalf("second delete: %v", errDelete)
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, errNew := NewLocal(t.TempDir())
	if errNew != nil {
		t.Fatalf("new local: %v", errNew)
	}
	for _, key := range []string{"", "../secret", "a/../../b", `..\x`} {
		if errPut := store.Put(context.Background(), key, []byte("x"), ""); errPut == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestNewSelectsBackend(t *testing.T) {
	local, errNew := New(context.Background(), config.StorageConfig{LocalDir: t.TempDir()})
	if errNew != nil {
		t.Fatalf("new default: %v", errNew)
	}
	if _, ok := local.(*Local); !ok {
		t.Fatalf("expected local backend, got %T", local)
	}
	if _, errNew = New(context.Background(), config.StorageConfig{Backend: "minio"}); errNew == nil {
		t.Fatalf("expected minio without endpoint to fail")
	}
	if _, errNew = New(context.Background(), config.StorageConfig{Backend: "ftp"}); errNew == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}
