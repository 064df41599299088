// Package quick offers zero-setup logging through the engine's default
// manager, with alternating key, value arguments instead of typed fields.
package quick

import (
	"context"
	"fmt"
	"time"

	"github.com/LixenWraith/loggo"
)

// DefaultShutdownTimeout bounds Shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Trace logs a trace message with key, value pairs.
func Trace(msg string, args ...any) {
	loggo.Log(loggo.LevelTrace, msg, loggo.FromPairs(args...)...)
}

// Debug logs a debug message with key, value pairs.
// Message is dropped if logger's level is higher than debug.
func Debug(msg string, args ...any) {
	loggo.Log(loggo.LevelDebug, msg, loggo.FromPairs(args...)...)
}

// Info logs an info message with key, value pairs.
func Info(msg string, args ...any) {
	loggo.Log(loggo.LevelInfo, msg, loggo.FromPairs(args...)...)
}

// Warning logs a warning message with key, value pairs.
func Warning(msg string, args ...any) {
	loggo.Log(loggo.LevelWarning, msg, loggo.FromPairs(args...)...)
}

// Error logs an error message with key, value pairs.
func Error(msg string, args ...any) {
	loggo.Log(loggo.LevelError, msg, loggo.FromPairs(args...)...)
}

// Exception logs an exception message with key, value pairs.
func Exception(msg string, args ...any) {
	loggo.Log(loggo.LevelException, msg, loggo.FromPairs(args...)...)
}

// Config changes the logger configuration with string statements.
// e.g. quick.Config("level=debug", "path=./logs/app.log", "max_backups=5")
func Config(args ...string) error {
	if len(args) == 0 {
		return fmt.Errorf("no config provided")
	}

	s, err := config(args...)
	if err != nil {
		return err
	}

	return loggo.ConfigureFrom(s.toConfig())
}

// Shutdown performs a graceful shutdown of the default logger with the
// default timeout.
func Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return loggo.Shutdown(ctx)
}
