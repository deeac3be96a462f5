// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/util"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the rotating log file created under the configured directory.
const LogFileName = "policybroker.log"

// Setup applies level, format and output from cfg. The returned closer flushes the
// rotating file, if any.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	level, errLevel := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if errLevel != nil {
		return nil, fmt.Errorf("logging: %w", errLevel)
	}
	log.SetLevel(level)
	log.SetFormatter(newFormatter(cfg.Format))

	dir := resolveDir(cfg.Dir)
	if dir == "" {
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}
	if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
		return nil, fmt.Errorf("logging: create %s: %w", dir, errMkdir)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, LogFileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

func newFormatter(format string) log.Formatter {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &log.JSONFormatter{}
	}
	return &log.TextFormatter{FullTimestamp: true}
}

// resolveDir places relative log directories under WRITABLE_PATH when it is set.
func resolveDir(dir string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return ""
	}
	if base := util.WritablePath(); base != "" && !filepath.IsAbs(dir) {
		return filepath.Join(base, dir)
	}
	return filepath.Clean(dir)
}
