package loggo

import (
	"context"
	"sync"
	"sync/atomic"
)

// Manager owns the active Core and swaps it at runtime. Log calls only load an
// atomic pointer and take an in-flight reference on the core they found; a call
// that raced with a swap retries on the new core.
type Manager struct {
	current atomic.Pointer[Core]
	closed  atomic.Bool

	mu             sync.Mutex // serializes Reconfigure and Shutdown
	onError        ErrorHandler
	closedReported atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerErrorHandler sets the handler for manager level errors such as
// use after close. Core errors go to the core's own handler.
func WithManagerErrorHandler(h ErrorHandler) ManagerOption {
	return func(m *Manager) { m.onError = h }
}

// NewManager creates a manager serving core. A nil core logs nowhere.
func NewManager(core *Core, opts ...ManagerOption) *Manager {
	m := &Manager{onError: StderrErrorHandler}
	for _, opt := range opts {
		opt(m)
	}
	if core == nil {
		core, _ = NewCore(nil, WithErrorHandler(m.onError))
	}
	m.current.Store(core)
	return m
}

// Core returns the active core.
func (m *Manager) Core() *Core {
	return m.current.Load()
}

// Closed reports whether the manager has been shut down.
func (m *Manager) Closed() bool {
	return m.closed.Load()
}

// Enabled reports whether the active core has a route accepting level.
func (m *Manager) Enabled(level Level) bool {
	return !m.closed.Load() && m.current.Load().Enabled(level)
}

// Log dispatches one record through the active core. After shutdown it is a
// no-op, reported once as ErrClosed.
func (m *Manager) Log(level Level, msg string, fields ...Field) {
	for {
		c := m.current.Load()
		if c.acquire() {
			c.dispatch(level, msg, fields)
			c.release()
			return
		}
		if m.current.Load() == c {
			m.reportClosed()
			return
		}
	}
}

// Trace logs at LevelTrace.
func (m *Manager) Trace(msg string, fields ...Field) { m.Log(LevelTrace, msg, fields...) }

// Debug logs at LevelDebug.
func (m *Manager) Debug(msg string, fields ...Field) { m.Log(LevelDebug, msg, fields...) }

// Info logs at LevelInfo.
func (m *Manager) Info(msg string, fields ...Field) { m.Log(LevelInfo, msg, fields...) }

// Warning logs at LevelWarning.
func (m *Manager) Warning(msg string, fields ...Field) { m.Log(LevelWarning, msg, fields...) }

// Error logs at LevelError.
func (m *Manager) Error(msg string, fields ...Field) { m.Log(LevelError, msg, fields...) }

// Exception logs at LevelException.
func (m *Manager) Exception(msg string, fields ...Field) { m.Log(LevelException, msg, fields...) }

// Reconfigure makes next the active core, then waits for calls still running
// on the previous core and closes it. Only the caller of Reconfigure blocks.
// After shutdown it closes next and returns ErrClosed.
func (m *Manager) Reconfigure(next *Core) error {
	if next == nil {
		return configError("manager", "core", "core is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		report(next.onError, next.Close())
		return ErrClosed
	}

	prev := m.current.Swap(next)
	ReconfigurationsTotal.Inc()
	if prev != nil && prev != next {
		report(m.onError, prev.Close())
	}
	return nil
}

// Sync flushes the writers of the active core.
func (m *Manager) Sync() error {
	return m.current.Load().Sync()
}

// Close shuts the manager down and waits for in-flight calls without bound.
func (m *Manager) Close() error {
	return m.Shutdown(context.Background())
}

// Shutdown moves the manager to its terminal state. It waits for in-flight
// calls and closes the active core's writers, giving up the wait when ctx
// expires. Calling it again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}
	return m.current.Load().Shutdown(ctx)
}

func (m *Manager) reportClosed() {
	if m.closedReported.CompareAndSwap(false, true) {
		report(m.onError, ErrClosed)
	}
}
