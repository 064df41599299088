package loggo

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Sentinel errors reported by the engine.
var (
	// ErrClosed is reported when a log call reaches a closed core or manager.
	ErrClosed = errors.New("loggo: use after close")
	// ErrWriterClosed is returned by a writer that was already closed.
	ErrWriterClosed = errors.New("loggo: writer closed")
	// ErrCaptureUnavailable is reported when scope or traceback cannot be resolved.
	ErrCaptureUnavailable = errors.New("loggo: caller capture unavailable")
)

// ConfigurationError is returned synchronously when a component cannot be constructed.
type ConfigurationError struct {
	Component string
	Field     string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("loggo: invalid %s configuration (%s): %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("loggo: invalid %s configuration: %v", e.Component, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// configError builds a ConfigurationError from a format string.
func configError(component, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Component: component, Field: field, Err: fmt.Errorf(format, args...)}
}

// WriteError reports a failed delivery to one route. It never aborts the log call.
type WriteError struct {
	RouteID uuid.UUID
	Err     error
}

func (e *WriteError) Error() string {
	if e.RouteID == uuid.Nil {
		return fmt.Sprintf("loggo: write failed: %v", e.Err)
	}
	return fmt.Sprintf("loggo: write failed on route %s: %v", e.RouteID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives errors that cannot be returned to the caller of a log call.
// Handlers may be invoked concurrently.
type ErrorHandler func(error)

// StderrErrorHandler writes reported errors to standard error.
func StderrErrorHandler(err error) {
	fmt.Fprintf(os.Stderr, "loggo: %v\n", err)
}

// errorKind classifies an error for the errors counter.
func errorKind(err error) string {
	var cfgErr *ConfigurationError
	var wErr *WriteError
	switch {
	case errors.Is(err, ErrClosed):
		return "use_after_close"
	case errors.Is(err, ErrCaptureUnavailable):
		return "capture_unavailable"
	case errors.As(err, &wErr):
		return "write"
	case errors.As(err, &cfgErr):
		return "configuration"
	default:
		return "other"
	}
}

// report counts err and forwards it to h. A nil handler only counts.
func report(h ErrorHandler, err error) {
	if err == nil {
		return
	}
	recordError(errorKind(err))
	if h != nil {
		h(err)
	}
}
