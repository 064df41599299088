// Package zapbridge lets code written against go.uber.org/zap log through a
// loggo Manager, so a reconfiguration of the manager also applies to zap loggers.
package zapbridge

import (
	"go.uber.org/zap/zapcore"

	"github.com/LixenWraith/loggo"
)

// SkipPackages lists the import paths to add to loggo.Policy.SkipPackages so
// captured scopes point past zap.
var SkipPackages = []string{"go.uber.org/zap"}

// Core implements zapcore.Core on top of a Manager.
type Core struct {
	manager *loggo.Manager
	fields  loggo.Fields
}

// NewCore wraps m.
//
//	logger := zap.New(zapbridge.NewCore(manager))
func NewCore(m *loggo.Manager) zapcore.Core {
	return &Core{manager: m}
}

// Enabled implements zapcore.LevelEnabler.
func (c *Core) Enabled(lvl zapcore.Level) bool {
	return c.manager.Enabled(Level(lvl))
}

// With returns a core carrying the extra context fields.
func (c *Core) With(fs []zapcore.Field) zapcore.Core {
	return &Core{
		manager: c.manager,
		fields:  c.fields.With(encodeFields(fs)...),
	}
}

// Check adds the core when the entry's level is enabled.
func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write forwards the entry. Errors surface through the manager's error
// handler, so Write itself never fails.
func (c *Core) Write(ent zapcore.Entry, fs []zapcore.Field) error {
	fields := make(loggo.Fields, 0, len(c.fields)+len(fs)+3)
	if ent.LoggerName != "" {
		fields = append(fields, loggo.F("logger", ent.LoggerName))
	}
	if ent.Caller.Defined {
		fields = append(fields, loggo.F("caller", ent.Caller.TrimmedPath()))
	}
	fields = append(fields, c.fields...)
	fields = append(fields, encodeFields(fs)...)
	if ent.Stack != "" {
		fields = append(fields, loggo.F("stacktrace", ent.Stack))
	}
	c.manager.Log(Level(ent.Level), ent.Message, fields...)
	return nil
}

// Sync flushes the manager's writers.
func (c *Core) Sync() error {
	return c.manager.Sync()
}

// Level maps a zap level to the closest engine level.
func Level(lvl zapcore.Level) loggo.Level {
	switch {
	case lvl < zapcore.DebugLevel:
		return loggo.LevelTrace
	case lvl == zapcore.DebugLevel:
		return loggo.LevelDebug
	case lvl == zapcore.InfoLevel:
		return loggo.LevelInfo
	case lvl == zapcore.WarnLevel:
		return loggo.LevelWarning
	case lvl == zapcore.ErrorLevel:
		return loggo.LevelError
	default:
		return loggo.LevelException
	}
}

// encodeFields renders zap fields through a map encoder. Keys come out sorted.
func encodeFields(fs []zapcore.Field) loggo.Fields {
	if len(fs) == 0 {
		return nil
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fs {
		f.AddTo(enc)
	}
	return loggo.FromMap(enc.Fields)
}
