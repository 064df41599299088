// Package handle exposes the engine through opaque numeric identifiers for
// callers that cannot hold Go values, such as foreign language bindings.
// Every object is created and disposed explicitly; the zero ID is never valid.
package handle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"

	"github.com/LixenWraith/loggo"
)

// ID identifies an object owned by a Registry. Zero is the invalid ID.
type ID uint64

// ErrUnknownID is reported for an ID that was never issued or was disposed.
var ErrUnknownID = errors.New("handle: unknown id")

// ErrRegistryClosed is returned by every operation after Close.
var ErrRegistryClosed = errors.New("handle: registry closed")

// Registry owns styles, formatters, writers, routes and loggers by ID. It is
// safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	next       ID
	closed     bool
	styles     map[ID]loggo.Style
	formatters map[ID]loggo.Formatter
	writers    map[ID]loggo.Writer
	routes     map[ID]routeEntry
	loggers    map[ID]loggerEntry
	onError    loggo.ErrorHandler
}

type routeEntry struct {
	route *loggo.Route
	// core delivers EmitRoute calls to this route alone.
	core *loggo.Core
}

type loggerEntry struct {
	core *loggo.Core
}

// Option configures a Registry.
type Option func(*Registry)

// WithErrorHandler sets the handler receiving unknown id and logging errors.
func WithErrorHandler(h loggo.ErrorHandler) Option {
	return func(r *Registry) { r.onError = h }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		styles:     make(map[ID]loggo.Style),
		formatters: make(map[ID]loggo.Formatter),
		writers:    make(map[ID]loggo.Writer),
		routes:     make(map[ID]routeEntry),
		loggers:    make(map[ID]loggerEntry),
		onError:    loggo.StderrErrorHandler,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// issueLocked returns the next ID.
func (r *Registry) issueLocked() ID {
	r.next++
	return r.next
}

func unknown(kind string, id ID) error {
	return fmt.Errorf("%w: %s %d", ErrUnknownID, kind, id)
}

// reportUnknown passes unknown id errors to the error handler. Callers must
// not hold r.mu so the handler may use the registry.
func (r *Registry) reportUnknown(err error) error {
	if err != nil && errors.Is(err, ErrUnknownID) && r.onError != nil {
		r.onError(err)
	}
	return err
}

// NewStyle registers a style.
func (r *Registry) NewStyle(colorKeys, colorValues, colorLevel bool, keyColor, valueColor, reset string) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}
	id := r.issueLocked()
	r.styles[id] = loggo.NewStyle(colorKeys, colorValues, colorLevel, keyColor, valueColor, reset)
	return id, nil
}

// NewTextFormatter registers a text formatter. styleID 0 means no styling and
// maxDepth <= 0 selects the default depth.
func (r *Registry) NewTextFormatter(styleID ID, maxDepth int, encoding loggo.Encoding) (ID, error) {
	id, err := r.newTextFormatter(styleID, maxDepth, encoding)
	return id, r.reportUnknown(err)
}

func (r *Registry) newTextFormatter(styleID ID, maxDepth int, encoding loggo.Encoding) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}
	opts := []loggo.FormatterOption{loggo.WithMaxDepth(maxDepth), loggo.WithEncoding(encoding)}
	if styleID != 0 {
		style, ok := r.styles[styleID]
		if !ok {
			return 0, unknown("style", styleID)
		}
		opts = append(opts, loggo.WithStyle(style))
	}
	id := r.issueLocked()
	r.formatters[id] = loggo.NewTextFormatter(opts...)
	return id, nil
}

// NewJSONFormatter registers a JSON formatter.
func (r *Registry) NewJSONFormatter(maxDepth int) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}
	id := r.issueLocked()
	r.formatters[id] = loggo.NewJSONFormatter(loggo.WithMaxDepth(maxDepth))
	return id, nil
}

// NewStdoutWriter registers a standard output writer.
func (r *Registry) NewStdoutWriter() (ID, error) {
	return r.addWriter(loggo.NewStdoutWriter())
}

// NewStderrWriter registers a standard error writer.
func (r *Registry) NewStderrWriter() (ID, error) {
	return r.addWriter(loggo.NewStderrWriter())
}

// NewFileWriter registers a rotating file writer.
func (r *Registry) NewFileWriter(path string, maxSizeBytes int64, maxBackups int, interval, compress string) (ID, error) {
	w, err := loggo.NewRotatingFileWriter(loggo.FileConfig{
		Path:         path,
		MaxSizeBytes: maxSizeBytes,
		MaxBackups:   maxBackups,
		Interval:     loggo.RotateInterval(interval),
		Compress:     loggo.Compression(compress),
		ErrorHandler: r.onError,
	})
	if err != nil {
		return 0, err
	}
	id, err := r.addWriter(w)
	if err != nil {
		w.Close()
	}
	return id, err
}

func (r *Registry) addWriter(w loggo.Writer) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}
	id := r.issueLocked()
	r.writers[id] = w
	loggo.RetainWriter(w)
	return id, nil
}

// NewRoute registers a route over a registered formatter and writer.
func (r *Registry) NewRoute(level int, formatterID, writerID ID) (ID, error) {
	id, err := r.newRoute(level, formatterID, writerID)
	return id, r.reportUnknown(err)
}

func (r *Registry) newRoute(level int, formatterID, writerID ID) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}
	f, ok := r.formatters[formatterID]
	if !ok {
		return 0, unknown("formatter", formatterID)
	}
	w, ok := r.writers[writerID]
	if !ok {
		return 0, unknown("writer", writerID)
	}
	route, err := loggo.NewRoute(loggo.Level(level), f, w)
	if err != nil {
		return 0, err
	}
	core, err := loggo.NewCore([]*loggo.Route{route}, loggo.WithErrorHandler(r.onError))
	if err != nil {
		return 0, err
	}
	id := r.issueLocked()
	r.routes[id] = routeEntry{route: route, core: core}
	return id, nil
}

// NewLogger registers a logger dispatching to the given routes.
func (r *Registry) NewLogger(policy loggo.Policy, routeIDs ...ID) (ID, error) {
	id, err := r.newLogger(policy, routeIDs...)
	return id, r.reportUnknown(err)
}

func (r *Registry) newLogger(policy loggo.Policy, routeIDs ...ID) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}
	routes := make([]*loggo.Route, 0, len(routeIDs))
	for _, rid := range routeIDs {
		entry, ok := r.routes[rid]
		if !ok {
			return 0, unknown("route", rid)
		}
		routes = append(routes, entry.route)
	}
	core, err := loggo.NewCore(routes, loggo.WithPolicy(policy), loggo.WithErrorHandler(r.onError))
	if err != nil {
		return 0, err
	}
	id := r.issueLocked()
	r.loggers[id] = loggerEntry{core: core}
	return id, nil
}

// Emit logs through a registered logger. fields holds wire format A (NUL
// delimited pairs) or B (a JSON object, recognized by its leading brace);
// nil or empty means no fields.
func (r *Registry) Emit(level int, loggerID ID, msg string, fields []byte) error {
	r.mu.RLock()
	entry, ok := r.loggers[loggerID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRegistryClosed
	}
	if !ok {
		return r.reportUnknown(unknown("logger", loggerID))
	}
	return r.emit(entry.core, level, msg, fields)
}

// EmitRoute delivers to a single registered route, without a logger. The
// route's level gates the call and no caller capture is attached.
func (r *Registry) EmitRoute(level int, routeID ID, msg string, fields []byte) error {
	r.mu.RLock()
	entry, ok := r.routes[routeID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRegistryClosed
	}
	if !ok {
		return r.reportUnknown(unknown("route", routeID))
	}
	return r.emit(entry.core, level, msg, fields)
}

func (r *Registry) emit(core *loggo.Core, level int, msg string, fields []byte) error {
	if !core.Enabled(loggo.Level(level)) {
		return nil
	}
	fs, err := DecodeFields(fields)
	if err != nil {
		err = fmt.Errorf("handle: invalid fields: %w", err)
		if r.onError != nil {
			r.onError(err)
		}
		return err
	}
	core.Log(loggo.Level(level), msg, fs...)
	return nil
}

// Trace emits at trace level.
func (r *Registry) Trace(loggerID ID, msg string, fields []byte) error {
	return r.Emit(int(loggo.LevelTrace), loggerID, msg, fields)
}

// Debug emits at debug level.
func (r *Registry) Debug(loggerID ID, msg string, fields []byte) error {
	return r.Emit(int(loggo.LevelDebug), loggerID, msg, fields)
}

// Info emits at info level.
func (r *Registry) Info(loggerID ID, msg string, fields []byte) error {
	return r.Emit(int(loggo.LevelInfo), loggerID, msg, fields)
}

// Warning emits at warning level.
func (r *Registry) Warning(loggerID ID, msg string, fields []byte) error {
	return r.Emit(int(loggo.LevelWarning), loggerID, msg, fields)
}

// Error emits at error level.
func (r *Registry) Error(loggerID ID, msg string, fields []byte) error {
	return r.Emit(int(loggo.LevelError), loggerID, msg, fields)
}

// Exception emits at exception level.
func (r *Registry) Exception(loggerID ID, msg string, fields []byte) error {
	return r.Emit(int(loggo.LevelException), loggerID, msg, fields)
}

// TraceToRoute emits to one route at trace level.
func (r *Registry) TraceToRoute(routeID ID, msg string, fields []byte) error {
	return r.EmitRoute(int(loggo.LevelTrace), routeID, msg, fields)
}

// DebugToRoute emits to one route at debug level.
func (r *Registry) DebugToRoute(routeID ID, msg string, fields []byte) error {
	return r.EmitRoute(int(loggo.LevelDebug), routeID, msg, fields)
}

// InfoToRoute emits to one route at info level.
func (r *Registry) InfoToRoute(routeID ID, msg string, fields []byte) error {
	return r.EmitRoute(int(loggo.LevelInfo), routeID, msg, fields)
}

// WarningToRoute emits to one route at warning level.
func (r *Registry) WarningToRoute(routeID ID, msg string, fields []byte) error {
	return r.EmitRoute(int(loggo.LevelWarning), routeID, msg, fields)
}

// ErrorToRoute emits to one route at error level.
func (r *Registry) ErrorToRoute(routeID ID, msg string, fields []byte) error {
	return r.EmitRoute(int(loggo.LevelError), routeID, msg, fields)
}

// ExceptionToRoute emits to one route at exception level.
func (r *Registry) ExceptionToRoute(routeID ID, msg string, fields []byte) error {
	return r.EmitRoute(int(loggo.LevelException), routeID, msg, fields)
}

// DecodeFields parses wire format A or B into fields. Objects decoded from
// format B are rendered in sorted key order.
func DecodeFields(data []byte) (loggo.Fields, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != '{' {
		return loggo.DecodeCompact(data)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return loggo.FromMap(m), nil
}

// DisposeStyle forgets a style. Formatters built from it are unaffected.
func (r *Registry) DisposeStyle(id ID) error {
	r.mu.Lock()
	_, ok := r.styles[id]
	delete(r.styles, id)
	r.mu.Unlock()
	if !ok {
		return r.reportUnknown(unknown("style", id))
	}
	return nil
}

// DisposeFormatter forgets a formatter. Routes using it are unaffected.
func (r *Registry) DisposeFormatter(id ID) error {
	r.mu.Lock()
	_, ok := r.formatters[id]
	delete(r.formatters, id)
	r.mu.Unlock()
	if !ok {
		return r.reportUnknown(unknown("formatter", id))
	}
	return nil
}

// DisposeRoute forgets a route and waits for its EmitRoute calls. Loggers
// using it are unaffected.
func (r *Registry) DisposeRoute(id ID) error {
	r.mu.Lock()
	entry, ok := r.routes[id]
	delete(r.routes, id)
	r.mu.Unlock()
	if !ok {
		return r.reportUnknown(unknown("route", id))
	}
	return entry.core.Close()
}

// DisposeWriter forgets a writer. It closes once no live logger or route uses it.
func (r *Registry) DisposeWriter(id ID) error {
	r.mu.Lock()
	w, ok := r.writers[id]
	if !ok {
		r.mu.Unlock()
		return r.reportUnknown(unknown("writer", id))
	}
	delete(r.writers, id)
	r.mu.Unlock()
	return loggo.ReleaseWriter(w)
}

// DisposeLogger closes a logger, waiting for its in-flight calls. Writers
// already disposed and not used by another logger close with it.
func (r *Registry) DisposeLogger(id ID) error {
	r.mu.Lock()
	entry, ok := r.loggers[id]
	if !ok {
		r.mu.Unlock()
		return r.reportUnknown(unknown("logger", id))
	}
	delete(r.loggers, id)
	r.mu.Unlock()
	return entry.core.Close()
}

// Close disposes every logger, route and writer. Later calls return ErrRegistryClosed
// from constructors and Emit; Close itself is idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	loggers := r.loggers
	routes := r.routes
	writers := r.writers
	r.loggers = make(map[ID]loggerEntry)
	r.writers = make(map[ID]loggo.Writer)
	r.routes = make(map[ID]routeEntry)
	r.formatters = make(map[ID]loggo.Formatter)
	r.styles = make(map[ID]loggo.Style)
	r.mu.Unlock()

	var err error
	for _, l := range loggers {
		err = multierr.Append(err, l.core.Close())
	}
	for _, rt := range routes {
		err = multierr.Append(err, rt.core.Close())
	}
	for _, w := range writers {
		err = multierr.Append(err, loggo.ReleaseWriter(w))
	}
	return err
}
