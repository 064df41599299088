package loggo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
)

// Core is an immutable set of routes plus a capture policy. One Log call is
// dispatched to every route whose level accepts it. Core is safe for
// concurrent use; Close waits for in-flight calls before closing writers.
type Core struct {
	routes   []*Route
	writers  []Writer
	policy   Policy
	onError  ErrorHandler
	clock    clockwork.Clock
	minLevel Level

	inflight       atomic.Int64
	closed         atomic.Bool
	drained        chan struct{}
	drainOnce      sync.Once
	releaseOnce    sync.Once
	closedReported atomic.Bool
}

// CoreOption configures a Core at construction.
type CoreOption func(*Core)

// WithPolicy sets the caller capture policy.
func WithPolicy(p Policy) CoreOption {
	return func(c *Core) { c.policy = p }
}

// WithErrorHandler sets the handler for errors raised while logging.
// A nil handler only counts errors.
func WithErrorHandler(h ErrorHandler) CoreOption {
	return func(c *Core) { c.onError = h }
}

// WithClock sets the clock used to timestamp records.
func WithClock(clock clockwork.Clock) CoreOption {
	return func(c *Core) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCore creates a core over routes. The core takes a reference on every
// writer used by its routes and releases it on Close.
func NewCore(routes []*Route, opts ...CoreOption) (*Core, error) {
	c := &Core{
		policy:   DefaultPolicy(),
		onError:  StderrErrorHandler,
		clock:    clockwork.NewRealClock(),
		minLevel: LevelException + 1,
		drained:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.TracebackMaxDepth <= 0 {
		c.policy.TracebackMaxDepth = DefaultTracebackMaxDepth
	}

	seen := make(map[Writer]bool)
	c.routes = make([]*Route, 0, len(routes))
	for i, r := range routes {
		if r == nil {
			return nil, configError("core", fmt.Sprintf("routes[%d]", i), "route is nil")
		}
		c.routes = append(c.routes, r)
		if r.level < c.minLevel {
			c.minLevel = r.level
		}
		if shareable(r.writer) {
			if seen[r.writer] {
				continue
			}
			seen[r.writer] = true
		}
		c.writers = append(c.writers, r.writer)
	}
	for _, w := range c.writers {
		RetainWriter(w)
	}
	return c, nil
}

// Routes returns the core's routes in dispatch order.
func (c *Core) Routes() []*Route {
	out := make([]*Route, len(c.routes))
	copy(out, c.routes)
	return out
}

// Policy returns the capture policy.
func (c *Core) Policy() Policy {
	return c.policy
}

// Enabled reports whether any route accepts level.
func (c *Core) Enabled(level Level) bool {
	return level >= c.minLevel
}

// Log dispatches one record. An empty message without fields is ignored.
// Failures are reported through the error handler, never returned.
func (c *Core) Log(level Level, msg string, fields ...Field) {
	if !c.acquire() {
		c.reportClosed()
		return
	}
	defer c.release()
	c.dispatch(level, msg, fields)
}

// Trace logs at LevelTrace.
func (c *Core) Trace(msg string, fields ...Field) { c.Log(LevelTrace, msg, fields...) }

// Debug logs at LevelDebug.
func (c *Core) Debug(msg string, fields ...Field) { c.Log(LevelDebug, msg, fields...) }

// Info logs at LevelInfo.
func (c *Core) Info(msg string, fields ...Field) { c.Log(LevelInfo, msg, fields...) }

// Warning logs at LevelWarning.
func (c *Core) Warning(msg string, fields ...Field) { c.Log(LevelWarning, msg, fields...) }

// Error logs at LevelError.
func (c *Core) Error(msg string, fields ...Field) { c.Log(LevelError, msg, fields...) }

// Exception logs at LevelException.
func (c *Core) Exception(msg string, fields ...Field) { c.Log(LevelException, msg, fields...) }

// Sync flushes every writer that supports it.
func (c *Core) Sync() error {
	var err error
	for _, w := range c.writers {
		if s, ok := w.(Syncer); ok {
			err = multierr.Append(err, s.Sync())
		}
	}
	return err
}

// Close stops accepting records, waits for in-flight calls and releases the
// writers. Closing twice returns nil.
func (c *Core) Close() error {
	return c.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. When ctx expires first, the remaining wait
// and the writer release continue in the background and ctx.Err() is returned.
func (c *Core) Shutdown(ctx context.Context) error {
	c.markClosed()
	select {
	case <-c.drained:
		return c.releaseWriters()
	case <-ctx.Done():
		go func() {
			<-c.drained
			report(c.onError, c.releaseWriters())
		}()
		return ctx.Err()
	}
}

// acquire registers an in-flight call. It fails once the core is closed.
func (c *Core) acquire() bool {
	c.inflight.Add(1)
	if c.closed.Load() {
		c.release()
		return false
	}
	return true
}

// release ends an in-flight call.
func (c *Core) release() {
	if c.inflight.Add(-1) == 0 && c.closed.Load() {
		c.drainOnce.Do(func() { close(c.drained) })
	}
}

func (c *Core) markClosed() {
	c.closed.Store(true)
	if c.inflight.Load() == 0 {
		c.drainOnce.Do(func() { close(c.drained) })
	}
}

func (c *Core) releaseWriters() error {
	var err error
	c.releaseOnce.Do(func() {
		for _, w := range c.writers {
			if closeErr := ReleaseWriter(w); closeErr != nil {
				err = multierr.Append(err, fmt.Errorf("failed to close writer: %w", closeErr))
			}
		}
	})
	return err
}

func (c *Core) reportClosed() {
	if c.closedReported.CompareAndSwap(false, true) {
		report(c.onError, ErrClosed)
	}
}

// fieldPayload caches the serialized fields for one (encoding, depth) pair.
type fieldPayload struct {
	enc   Encoding
	depth int
	data  []byte
}

// dispatch runs one record through the routes. The caller holds an in-flight
// reference.
func (c *Core) dispatch(level Level, msg string, fields Fields) {
	if msg == "" && len(fields) == 0 {
		return
	}
	if level < c.minLevel {
		return
	}

	rec := Record{Time: c.clock.Now(), Level: level, Message: msg}
	c.capture(&rec)

	var payloads []fieldPayload
	delivered := false
	for _, r := range c.routes {
		if !r.Accepts(level) {
			continue
		}
		if err := c.deliver(r, rec, fields, &payloads); err != nil {
			report(c.onError, routeError(r.id, err))
			continue
		}
		delivered = true
	}
	if delivered {
		recordDispatch(level)
	}
}

// capture attaches a traceback or a scope, never both.
func (c *Core) capture(rec *Record) {
	var err error
	switch {
	case c.policy.wantsTraceback(rec.Level):
		rec.Traceback, err = c.policy.traceback()
	case c.policy.InjectScope:
		rec.Scope, err = c.policy.scope()
	}
	if err != nil {
		report(c.onError, err)
	}
}

// deliver serializes, formats and writes for one route. A panic in any of
// these steps is returned as an error.
func (c *Core) deliver(r *Route, rec Record, fields Fields, payloads *[]fieldPayload) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in route: %v", p)
		}
	}()

	enc, depth := r.formatter.Encoding(), r.formatter.MaxDepth()
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	rec.Fields = nil
	for _, p := range *payloads {
		if p.enc == enc && p.depth == depth {
			rec.Fields = p.data
			break
		}
	}
	if rec.Fields == nil {
		rec.Fields = SerializeFields(fields, depth, enc)
		*payloads = append(*payloads, fieldPayload{enc: enc, depth: depth, data: rec.Fields})
	}

	return r.writer.Write(r.formatter.Format(&rec))
}

// routeError tags err with the route id, replacing an untagged WriteError.
func routeError(id uuid.UUID, err error) error {
	var wErr *WriteError
	if errors.As(err, &wErr) && wErr.RouteID == uuid.Nil {
		err = wErr.Err
	}
	return &WriteError{RouteID: id, Err: err}
}
