package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/appconfig"
)

const defaultLogFile = "tabterm.log"

// withFileLogger swaps the context logger for one writing to a rotating file.
// An empty logging.file falls back to fallbackName under the state dir, and
// an empty fallbackName keeps the current logger.
func withFileLogger(ctx context.Context, cfg appconfig.Config, fallbackName string) (context.Context, io.Closer, error) {
	path := strings.TrimSpace(cfg.Logging.File)
	if path == "" {
		if fallbackName == "" {
			return ctx, nopCloser{}, nil
		}
		path = filepath.Join(cfg.StateDir, fallbackName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return ctx, nil, err
	}
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
	}
	logger := pslog.NewWithOptions(writer, fileLogOptions(cfg.Logging.Level))
	return pslog.ContextWithLogger(ctx, logger), writer, nil
}

func fileLogOptions(level string) pslog.Options {
	opts := pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.InfoLevel,
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		opts.MinLevel = pslog.TraceLevel
	case "debug":
		opts.MinLevel = pslog.DebugLevel
	case "error":
		opts.MinLevel = pslog.ErrorLevel
	}
	return opts
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
