// Package config loads the process configuration once at startup.
//
// Values come from a YAML file and may be overridden by environment variables,
// optionally seeded from a .env file. The resulting AppConfig is passed explicitly
// to every constructor that needs it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when neither a flag nor POLICYBROKER_CONFIG is set.
const DefaultConfigPath = "config.yaml"

// Default values applied when the configuration leaves them empty.
const (
	DefaultServerAddr        = ":8000"
	DefaultProviderTimeout   = 30 * time.Second
	DefaultReconcileInterval = time.Minute
	DefaultExpiryWindow      = 15 * time.Minute
	DefaultReconcileWorkers  = 5
	DefaultDebugPaidDelay    = 30 * time.Second
	DefaultRedisQueue        = "policybroker:tasks"
	DefaultStorageDir        = "media"
	DefaultMinIOBucket       = "media"
	DefaultLogoURL           = "/static/public/Logo.png"
	DefaultQRProvider        = "victoria"
	DefaultLogMaxSizeMB      = 50
	DefaultLogMaxBackups     = 5
	DefaultLogMaxAgeDays     = 14
)

// AppConfig is the full process configuration.
type AppConfig struct {
	Path string `yaml:"-"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	RCA       RCAConfig       `yaml:"rca"`
	Medical   MedicalConfig   `yaml:"medical"`
	QR        QRConfig        `yaml:"qr"`
	Storage   StorageConfig   `yaml:"storage"`
	Mail      MailConfig      `yaml:"mail"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Assets    AssetsConfig    `yaml:"assets"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	PublicURL      string        `yaml:"public_url"`
	Debug          bool          `yaml:"debug"`
	DebugPaidDelay time.Duration `yaml:"debug_paid_delay"`
}

// DatabaseConfig holds the relational store DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the task queue broker. An empty Addr selects the in-process queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Queue    string `yaml:"queue"`
}

// LoggingConfig controls logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RCAConfig points at the national RCA/Green Card SOAP export service.
type RCAConfig struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MedicalConfig points at the travel medical insurance gateway.
type MedicalConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// QRConfig selects and configures the QR payment gateway.
type QRConfig struct {
	Provider     string        `yaml:"provider"`
	BaseURL      string        `yaml:"base_url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	SignatureKey string        `yaml:"signature_key"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Backend  string      `yaml:"backend"`
	LocalDir string      `yaml:"local_dir"`
	MinIO    MinIOConfig `yaml:"minio"`
}

// MinIOConfig configures S3-compatible object storage.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MailConfig configures outbound SMTP.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// ReconcileConfig controls the payment status poller.
type ReconcileConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ExpiryWindow   time.Duration `yaml:"expiry_window"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// AssetsConfig holds public asset locations.
type AssetsConfig struct {
	DefaultLogoURL string `yaml:"default_logo_url"`
	// StampPath is a PNG or JPEG placed on the last page of RCA and Green Card documents.
	// Empty disables stamping.
	StampPath string `yaml:"stamp_path"`
}

// ResolveConfigPath picks the config path from the flag value, the environment, or the default.
func ResolveConfigPath(flagValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv("POLICYBROKER_CONFIG")); env != "" {
		return filepath.Clean(env)
	}
	return DefaultConfigPath
}

// Load reads the YAML file at path (a missing file is allowed), applies .env and
// environment overrides, then fills defaults.
func Load(path string) (AppConfig, error) {
	cfg := AppConfig{Path: path}

	if errEnv := godotenv.Load(); errEnv != nil && !errors.Is(errEnv, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", errEnv)
	}

	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errYAML := yaml.Unmarshal(data, &cfg); errYAML != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, errYAML)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

// Validate reports configuration that would prevent the service from starting.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	switch c.QR.Provider {
	case "victoria", "maib":
	default:
		return fmt.Errorf("config: unsupported qr.provider %q", c.QR.Provider)
	}
	switch c.Storage.Backend {
	case "local":
	case "minio":
		if c.Storage.MinIO.Endpoint == "" {
			return errors.New("config: storage.minio.endpoint is required")
		}
	default:
		return fmt.Errorf("config: unsupported storage.backend %q", c.Storage.Backend)
	}
	return nil
}

func applyEnv(cfg *AppConfig) {
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Server.PublicURL, "PUBLIC_URL")
	setBool(&cfg.Server.Debug, "DEBUG")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Dir, "LOG_DIR")
	setString(&cfg.RCA.URL, "RCA_URL")
	setString(&cfg.RCA.Username, "RCA_USERNAME")
	setString(&cfg.RCA.Password, "RCA_PASSWORD")
	setString(&cfg.Medical.BaseURL, "DONARIS_BASE_URL")
	setString(&cfg.Medical.Username, "DONARIS_USERNAME")
	setString(&cfg.Medical.Password, "DONARIS_PASSWORD")
	setString(&cfg.QR.Provider, "QR_PROVIDER")
	setString(&cfg.QR.BaseURL, "QR_BASE_URL")
	setString(&cfg.QR.Username, "QR_USERNAME")
	setString(&cfg.QR.Password, "QR_PASSWORD")
	setString(&cfg.QR.ClientID, "QR_CLIENT_ID")
	setString(&cfg.QR.ClientSecret, "QR_CLIENT_SECRET")
	setString(&cfg.QR.SignatureKey, "QR_SIGNATURE_KEY")
	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.LocalDir, "STORAGE_LOCAL_DIR")
	setString(&cfg.Storage.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Storage.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Storage.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Storage.MinIO.Bucket, "MINIO_MEDIA_FILES_BUCKET")
	setBool(&cfg.Storage.MinIO.UseSSL, "MINIO_USE_SSL")
	setString(&cfg.Mail.Host, "EMAIL_HOST")
	setInt(&cfg.Mail.Port, "EMAIL_PORT")
	setString(&cfg.Mail.Username, "EMAIL_HOST_USER")
	setString(&cfg.Mail.Password, "EMAIL_HOST_PASSWORD")
	setString(&cfg.Mail.From, "DEFAULT_FROM_EMAIL")
	setString(&cfg.Assets.StampPath, "STAMP_PATH")
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")
	if cfg.Server.DebugPaidDelay <= 0 {
		cfg.Server.DebugPaidDelay = DefaultDebugPaidDelay
	}
	if cfg.Redis.Queue == "" {
		cfg.Redis.Queue = DefaultRedisQueue
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if cfg.Logging.MaxAgeDays <= 0 {
		cfg.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
	for _, timeout := range []*time.Duration{&cfg.RCA.Timeout, &cfg.Medical.Timeout, &cfg.QR.Timeout} {
		if *timeout <= 0 {
			*timeout = DefaultProviderTimeout
		}
	}
	cfg.QR.Provider = strings.ToLower(strings.TrimSpace(cfg.QR.Provider))
	if cfg.QR.Provider == "" {
		cfg.QR.Provider = DefaultQRProvider
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = DefaultStorageDir
	}
	if cfg.Storage.MinIO.Bucket == "" {
		cfg.Storage.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.Mail.Port == 0 {
		cfg.Mail.Port = 587
	}
	if cfg.Reconcile.Interval <= 0 {
		cfg.Reconcile.Interval = DefaultReconcileInterval
	}
	if cfg.Reconcile.ExpiryWindow <= 0 {
		cfg.Reconcile.ExpiryWindow = DefaultExpiryWindow
	}
	if cfg.Reconcile.MaxConcurrency <= 0 {
		cfg.Reconcile.MaxConcurrency = DefaultReconcileWorkers
	}
	if cfg.Assets.DefaultLogoURL == "" {
		cfg.Assets.DefaultLogoURL = DefaultLogoURL
	}
}

func setString(dst *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*dst = strings.TrimSpace(value)
	}
}

func setInt(dst *int, key string) {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, errParse := strconv.Atoi(strings.TrimSpace(value)); errParse == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, key string) {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, errParse := strconv.ParseBool(strings.TrimSpace(value)); errParse == nil {
			*dst = parsed
		}
	}
}
