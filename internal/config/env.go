package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"muwanx.dev/internal/persistence/r2s3"
)

// Env holds settings that stay out of the build file: publish credentials and
// where the build index and journal live.
type Env struct {
	R2Endpoint        string `env:"MUWANX_R2_ENDPOINT"`
	R2Bucket          string `env:"MUWANX_R2_BUCKET"`
	R2AccessKeyID     string `env:"MUWANX_R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"MUWANX_R2_SECRET_ACCESS_KEY"`
	R2Region          string `env:"MUWANX_R2_REGION" envDefault:"auto"`

	PublishPrefix   string        `env:"MUWANX_PUBLISH_PREFIX"`
	PublishWorkers  int           `env:"MUWANX_PUBLISH_WORKERS" envDefault:"4"`
	PublishAttempts int           `env:"MUWANX_PUBLISH_ATTEMPTS" envDefault:"4"`
	PublishBackoff  time.Duration `env:"MUWANX_PUBLISH_BACKOFF" envDefault:"200ms"`

	IndexPath  string `env:"MUWANX_INDEX_PATH"`
	JournalDir string `env:"MUWANX_JOURNAL_DIR"`
	LogLevel   string `env:"MUWANX_LOG_LEVEL" envDefault:"info"`
}

// ParseEnv reads the MUWANX_* variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

func (e Env) R2() r2s3.Config {
	return r2s3.Config{
		Endpoint:        e.R2Endpoint,
		Bucket:          e.R2Bucket,
		AccessKeyID:     e.R2AccessKeyID,
		SecretAccessKey: e.R2SecretAccessKey,
		Region:          e.R2Region,
	}
}

func (e Env) Publish(logger *slog.Logger) r2s3.PublishOptions {
	return r2s3.PublishOptions{
		Prefix:   e.PublishPrefix,
		Workers:  e.PublishWorkers,
		Attempts: e.PublishAttempts,
		Backoff:  e.PublishBackoff,
		Logger:   logger,
	}
}

// Level maps LogLevel to a slog level; unknown values mean info.
func (e Env) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(e.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
