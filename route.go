package loggo

import (
	"github.com/google/uuid"
)

// Route binds a minimum level, a formatter and a writer. A record reaches the
// writer when its level is at or above the route's level. Routes are immutable;
// formatters and writers may be shared between routes.
type Route struct {
	id        uuid.UUID
	level     Level
	formatter Formatter
	writer    Writer
}

// NewRoute creates a route.
func NewRoute(level Level, formatter Formatter, writer Writer) (*Route, error) {
	if !level.Valid() {
		return nil, configError("route", "level", "unknown level %d", int(level))
	}
	if formatter == nil {
		return nil, configError("route", "formatter", "formatter is nil")
	}
	if writer == nil {
		return nil, configError("route", "writer", "writer is nil")
	}
	return &Route{
		id:        uuid.New(),
		level:     level,
		formatter: formatter,
		writer:    writer,
	}, nil
}

// MustRoute is like NewRoute but panics on error.
func MustRoute(level Level, formatter Formatter, writer Writer) *Route {
	r, err := NewRoute(level, formatter, writer)
	if err != nil {
		panic(err)
	}
	return r
}

// ID identifies the route in reported errors.
func (r *Route) ID() uuid.UUID { return r.id }

// Level is the route's minimum level.
func (r *Route) Level() Level { return r.level }

// Formatter returns the route's formatter.
func (r *Route) Formatter() Formatter { return r.formatter }

// Writer returns the route's writer.
func (r *Route) Writer() Writer { return r.writer }

// Accepts reports whether a record at level passes the route's threshold.
func (r *Route) Accepts(level Level) bool {
	return level >= r.level
}
