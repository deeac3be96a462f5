package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/topasig/PolicyBroker/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetupWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WRITABLE_PATH", "")
	closer, err := Setup(config.LoggingConfig{Level: "debug", Format: "json", Dir: dir, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() {
		_ = closer.Close()
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{})
		log.SetLevel(log.InfoLevel)
	})

	log.Debug("rotating file check")

	data, errRead := os.ReadFile(filepath.Join(dir, LogFileName))
	if errRead != nil {
		t.Fatalf("read log file: %v", errRead)
	}
	if len(data) == 0 {
		t.Fatalf("expected log output in file")
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if _, err := Setup(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestResolveDirUsesWritablePath(t *testing.T) {
	t.Setenv("WRITABLE_PATH", "/var/lib/broker")
	if got := resolveDir("logs"); got != filepath.Join("/var/lib/broker", "logs") {
		t.Fatalf("unexpected dir %q", got)
	}
	if got := resolveDir("/abs/logs"); got != "/abs/logs" {
		t.Fatalf("absolute dir should be kept, got %q", got)
	}
	if got := resolveDir(" "); got != "" {
		t.Fatalf("blank dir should disable file output, got %q", got)
	}
}
