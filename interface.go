package loggo

import (
	"context"
	"os"
	"sync"
)

// Package level default manager used by the top level logging functions.
var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide manager, creating it on first use with a
// single Info route writing text to stdout.
func Default() *Manager {
	defaultOnce.Do(func() {
		route := MustRoute(LevelInfo,
			NewTextFormatter(WithStyle(AutoStyle(os.Stdout, ColorStyle()))),
			NewStdoutWriter())
		core, _ := NewCore([]*Route{route})
		defaultManager = NewManager(core)
	})
	return defaultManager
}

// Configure replaces the default manager's core. The previous core is closed
// once its in-flight calls return.
func Configure(core *Core) error {
	return Default().Reconfigure(core)
}

// ConfigureFrom builds cfg and makes it the default configuration.
func ConfigureFrom(cfg *Config, opts ...CoreOption) error {
	core, err := cfg.Build(opts...)
	if err != nil {
		return err
	}
	return Configure(core)
}

// Log logs a message at level through the default manager.
func Log(level Level, msg string, fields ...Field) {
	Default().Log(level, msg, fields...)
}

// Trace logs a message at trace level.
func Trace(msg string, fields ...Field) {
	Default().Log(LevelTrace, msg, fields...)
}

// Debug logs a message at debug level.
func Debug(msg string, fields ...Field) {
	Default().Log(LevelDebug, msg, fields...)
}

// Info logs a message at info level.
func Info(msg string, fields ...Field) {
	Default().Log(LevelInfo, msg, fields...)
}

// Warning logs a message at warning level.
func Warning(msg string, fields ...Field) {
	Default().Log(LevelWarning, msg, fields...)
}

// Error logs a message at error level.
func Error(msg string, fields ...Field) {
	Default().Log(LevelError, msg, fields...)
}

// Exception logs a message at exception level.
func Exception(msg string, fields ...Field) {
	Default().Log(LevelException, msg, fields...)
}

// Shutdown gracefully shuts down the default manager, waiting for in-flight
// calls and closing its writers. It respects context cancellation for timeout
// control. Later log calls are dropped.
func Shutdown(ctx ...context.Context) error {
	shutdownCtx := context.Background()
	if len(ctx) > 0 {
		shutdownCtx = ctx[0]
	}
	return Default().Shutdown(shutdownCtx)
}
