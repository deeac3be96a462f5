package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if errWrite := os.WriteFile(path, []byte(body), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: file:test.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != DefaultServerAddr {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.RCA.Timeout != 30*time.Second || cfg.Medical.Timeout != 30*time.Second || cfg.QR.Timeout != 30*time.Second {
		t.Fatalf("expected 30s provider timeouts, got rca=%s medical=%s qr=%s", cfg.RCA.Timeout, cfg.Medical.Timeout, cfg.QR.Timeout)
	}
	if cfg.Reconcile.ExpiryWindow != 15*time.Minute {
		t.Fatalf("expected 15m expiry window, got %s", cfg.Reconcile.ExpiryWindow)
	}
	if cfg.QR.Provider != "victoria" || cfg.Storage.Backend != "local" {
		t.Fatalf("unexpected provider/backend defaults: %q %q", cfg.QR.Provider, cfg.Storage.Backend)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: file:test.db
rca:
  url: https://rca.example/service.svc
  timeout: 10s
qr:
  provider: MAIB
`)
	t.Setenv("RCA_PASSWORD", "from-env")
	t.Setenv("DATABASE_DSN", "file:override.db")
	t.Setenv("STAMP_PATH", "/srv/assets/stamp.png")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RCA.Password != "from-env" {
		t.Fatalf("expected env password, got %q", cfg.RCA.Password)
	}
	if cfg.Database.DSN != "file:override.db" {
		t.Fatalf("expected env dsn, got %q", cfg.Database.DSN)
	}
	if cfg.RCA.Timeout != 10*time.Second {
		t.Fatalf("expected file timeout 10s, got %s", cfg.RCA.Timeout)
	}
	if cfg.QR.Provider != "maib" {
		t.Fatalf("expected normalized provider maib, got %q", cfg.QR.Provider)
	}
	if cfg.Assets.StampPath != "/srv/assets/stamp.png" {
		t.Fatalf("expected env stamp path, got %q", cfg.Assets.StampPath)
	}
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: ':9000'\n")
	t.Setenv("DATABASE_DSN", "")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestValidateRejectsUnknownStorage(t *testing.T) {
	cfg := AppConfig{Database: DatabaseConfig{DSN: "file:x.db"}, QR: QRConfig{Provider: "victoria"}, Storage: StorageConfig{Backend: "ftp"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown storage backend")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("POLICYBROKER_CONFIG", "")
	if got := ResolveConfigPath(""); got != DefaultConfigPath {
		t.Fatalf("expected default path, got %q", got)
	}
	t.Setenv("POLICYBROKER_CONFIG", "/etc/broker/config.yaml")
	if got := ResolveConfigPath(""); got != "/etc/broker/config.yaml" {
		t.Fatalf("expected env path, got %q", got)
	}
	if got := ResolveConfigPath("./local.yaml"); got != "local.yaml" {
		t.Fatalf("expected flag path, got %q", got)
	}
}
