// Package logging настраивает logrus для сервиса: уровень, формат и ротацию файлов.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Форматы вывода.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config описывает вывод логов. Пустой Path означает только stderr.
type Config struct {
	Level      string `yaml:"level" env:"RECONCILER_LOG_LEVEL" env-default:"info"`
	Format     string `yaml:"format" env:"RECONCILER_LOG_FORMAT" env-default:"text"`
	Path       string `yaml:"path" env:"RECONCILER_LOG_PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env-default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" env-default:"14"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Configure применяет Config к logger. Возвращённый Closer закрывает файл с логами.
func Configure(logger *log.Logger, cfg Config) (io.Closer, error) {
	level := log.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", FormatText:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	if cfg.Path == "" {
		logger.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, file))
	return file, nil
}
