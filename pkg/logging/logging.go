// Package logging provides named zap loggers for the soulcore components.
//
// Each component (api, kernel, router, heartbeat, search, store) obtains its
// own named logger, so log lines carry the originating subsystem the same way
// the log files are split in a per-module layout.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.Mutex
	base *zap.Logger
)

// Init configures the process-wide base logger.
//
// level is one of "debug", "info", "warn", "error"; unknown values fall back
// to info. Calling Init again replaces the base logger, which lets
// /system/reload pick up a changed log level.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
	base = logger
	return nil
}

// L returns the base logger, initializing a default one if Init was never called.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
		base = logger
	}
	return base
}

// Named returns a child logger carrying the component name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered log entries. Intended for process shutdown.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
}
