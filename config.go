package loggo

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
// Nested keys are separated by a double underscore:
// LOGGO_CAPTURE__TRACEBACK_LEVEL sets capture.traceback_level.
const EnvPrefix = "LOGGO_"

// Config describes a complete logger: named styles, formatters and writers,
// an ordered list of routes referring to them by name, and the capture policy.
// All fields can be configured via YAML or JSON files and LOGGO_ variables.
type Config struct {
	Styles     map[string]StyleConfig     `koanf:"styles"`
	Formatters map[string]FormatterConfig `koanf:"formatters"`
	Writers    map[string]WriterConfig    `koanf:"writers"`
	Routes     []RouteConfig              `koanf:"routes"`
	Capture    CaptureConfig              `koanf:"capture"`
}

// StyleConfig configures a Style. Auto disables colors when the writer is not a terminal.
type StyleConfig struct {
	ColorKeys   bool   `koanf:"color_keys"`
	ColorValues bool   `koanf:"color_values"`
	ColorLevel  bool   `koanf:"color_level"`
	KeyColor    string `koanf:"key_color"`
	ValueColor  string `koanf:"value_color"`
	Reset       string `koanf:"reset"`
	Auto        bool   `koanf:"auto"`
}

// FormatterConfig configures a formatter.
type FormatterConfig struct {
	Type       string `koanf:"type"`        // text, json
	Style      string `koanf:"style"`       // name in Styles
	Encoding   string `koanf:"encoding"`    // compact, json (text only)
	MaxDepth   int    `koanf:"max_depth"`   // nesting bound, 3 when zero
	TimeFormat string `koanf:"time_format"` // Go time layout
}

// WriterConfig configures a writer.
type WriterConfig struct {
	Type         string `koanf:"type"`           // stdout, stderr, file
	Path         string `koanf:"path"`           // file only
	MaxSizeBytes int64  `koanf:"max_size_bytes"` // 0 disables size rotation
	MaxSizeMB    int64  `koanf:"max_size_mb"`    // used when max_size_bytes is zero
	MaxBackups   int    `koanf:"max_backups"`    // 0 keeps all
	Interval     string `koanf:"interval"`       // day, week, month
	Compress     string `koanf:"compress"`       // gz
}

// RouteConfig binds a level to a formatter and a writer by name.
type RouteConfig struct {
	Level     string `koanf:"level"`
	Formatter string `koanf:"formatter"`
	Writer    string `koanf:"writer"`
}

// CaptureConfig configures the capture Policy.
type CaptureConfig struct {
	Scope             bool     `koanf:"scope"`
	Traceback         bool     `koanf:"traceback"`
	TracebackLevel    string   `koanf:"traceback_level"`
	TracebackMaxDepth int      `koanf:"traceback_max_depth"`
	SkipPackages      []string `koanf:"skip_packages"`
}

// DefaultConfig is one Info route writing text to stdout.
func DefaultConfig() *Config {
	return &Config{
		Styles: map[string]StyleConfig{
			"default": {KeyColor: ColorBlue, ValueColor: ColorYellow, Reset: ColorReset},
		},
		Formatters: map[string]FormatterConfig{
			"text": {Type: "text", Style: "default", Encoding: "compact", MaxDepth: DefaultMaxDepth},
		},
		Writers: map[string]WriterConfig{
			"stdout": {Type: "stdout"},
		},
		Routes: []RouteConfig{
			{Level: "info", Formatter: "text", Writer: "stdout"},
		},
		Capture: CaptureConfig{
			TracebackLevel:    "error",
			TracebackMaxDepth: DefaultTracebackMaxDepth,
		},
	}
}

// LoadConfig layers defaults, the file at path (YAML or JSON, skipped when
// path is empty) and LOGGO_ environment variables, then validates the result.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, &ConfigurationError{Component: "config", Field: "path", Err: err}
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, &ConfigurationError{Component: "config", Field: "path",
				Err: fmt.Errorf("failed to load config file %s: %w", path, err)}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, &ConfigurationError{Component: "config", Err: fmt.Errorf("failed to unmarshal configuration: %w", err)}
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransformFunc maps LOGGO_WRITERS__FILE__MAX_BACKUPS to writers.file.max_backups.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// applyDefaults fills zero values with their defaults.
func (cfg *Config) applyDefaults() {
	def := DefaultConfig()
	for name, fc := range cfg.Formatters {
		fc.Type = getConfigValue("text", strings.ToLower(fc.Type))
		fc.MaxDepth = getConfigValue(DefaultMaxDepth, fc.MaxDepth)
		cfg.Formatters[name] = fc
	}
	for name, wc := range cfg.Writers {
		wc.Type = getConfigValue("stdout", strings.ToLower(wc.Type))
		wc.MaxSizeBytes = getConfigValue(wc.MaxSizeMB*1024*1024, wc.MaxSizeBytes)
		cfg.Writers[name] = wc
	}
	for i := range cfg.Routes {
		cfg.Routes[i].Level = getConfigValue("info", cfg.Routes[i].Level)
	}
	cfg.Capture.TracebackLevel = getConfigValue(def.Capture.TracebackLevel, cfg.Capture.TracebackLevel)
	cfg.Capture.TracebackMaxDepth = getConfigValue(def.Capture.TracebackMaxDepth, cfg.Capture.TracebackMaxDepth)
}

// getConfigValue returns defaultVal if cfgVal equals the zero value for type T,
// otherwise returns cfgVal.
func getConfigValue[T comparable](defaultVal, cfgVal T) T {
	var zero T
	if cfgVal == zero {
		return defaultVal
	}
	return cfgVal
}

// Validate checks names, levels and enumerations without creating anything.
func (cfg *Config) Validate() error {
	var errs error
	for _, name := range sortedKeys(cfg.Formatters) {
		fc := cfg.Formatters[name]
		field := "formatters." + name
		switch strings.ToLower(fc.Type) {
		case "", "text", "json":
		default:
			errs = multierr.Append(errs, configError("config", field+".type", "unknown formatter type %q", fc.Type))
		}
		if _, err := ParseEncoding(fc.Encoding, EncodingCompact); err != nil {
			errs = multierr.Append(errs, &ConfigurationError{Component: "config", Field: field + ".encoding", Err: err})
		}
		if fc.MaxDepth < 0 {
			errs = multierr.Append(errs, configError("config", field+".max_depth", "must not be negative, got %d", fc.MaxDepth))
		}
		if fc.Style != "" {
			if _, ok := cfg.Styles[fc.Style]; !ok {
				errs = multierr.Append(errs, configError("config", field+".style", "unknown style %q", fc.Style))
			}
		}
	}
	for _, name := range sortedKeys(cfg.Writers) {
		wc := cfg.Writers[name]
		field := "writers." + name
		switch strings.ToLower(wc.Type) {
		case "", "stdout", "stderr":
		case "file":
			if err := wc.fileConfig(nil).validate(); err != nil {
				var cfgErr *ConfigurationError
				if errors.As(err, &cfgErr) {
					err = &ConfigurationError{Component: "config", Field: field + "." + cfgErr.Field, Err: cfgErr.Err}
				}
				errs = multierr.Append(errs, err)
			}
		default:
			errs = multierr.Append(errs, configError("config", field+".type", "unknown writer type %q", wc.Type))
		}
	}
	for i, rc := range cfg.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if _, err := ParseLevel(getConfigValue("info", rc.Level)); err != nil {
			errs = multierr.Append(errs, &ConfigurationError{Component: "config", Field: field + ".level", Err: err})
		}
		if _, ok := cfg.Formatters[rc.Formatter]; !ok {
			errs = multierr.Append(errs, configError("config", field+".formatter", "unknown formatter %q", rc.Formatter))
		}
		if _, ok := cfg.Writers[rc.Writer]; !ok {
			errs = multierr.Append(errs, configError("config", field+".writer", "unknown writer %q", rc.Writer))
		}
	}
	if cfg.Capture.TracebackLevel != "" {
		if _, err := ParseLevel(cfg.Capture.TracebackLevel); err != nil {
			errs = multierr.Append(errs, &ConfigurationError{Component: "config", Field: "capture.traceback_level", Err: err})
		}
	}
	if cfg.Capture.TracebackMaxDepth < 0 {
		errs = multierr.Append(errs, configError("config", "capture.traceback_max_depth", "must not be negative, got %d", cfg.Capture.TracebackMaxDepth))
	}
	return errs
}

// Policy converts the capture section.
func (cfg *Config) Policy() Policy {
	p := DefaultPolicy()
	p.InjectScope = cfg.Capture.Scope
	p.InjectTraceback = cfg.Capture.Traceback
	if lvl, err := ParseLevel(cfg.Capture.TracebackLevel); err == nil && cfg.Capture.TracebackLevel != "" {
		p.TracebackMinLevel = lvl
	}
	p.TracebackMaxDepth = getConfigValue(DefaultTracebackMaxDepth, cfg.Capture.TracebackMaxDepth)
	p.SkipPackages = append([]string(nil), cfg.Capture.SkipPackages...)
	return p
}

// Build creates the writers, formatters and routes of the configuration and
// returns a Core over them. Writers and formatters referenced by several routes
// are shared. On failure every writer created so far is closed.
func (cfg *Config) Build(opts ...CoreOption) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	settings := &Core{onError: StderrErrorHandler}
	for _, opt := range opts {
		opt(settings)
	}

	formatters := make(map[string]Formatter)
	writers := make(map[string]Writer)
	var created []Writer
	fail := func(err error) (*Core, error) {
		for _, w := range created {
			err = multierr.Append(err, w.Close())
		}
		return nil, err
	}

	routes := make([]*Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		w, ok := writers[rc.Writer]
		if !ok {
			var err error
			w, err = cfg.Writers[rc.Writer].build(settings.onError)
			if err != nil {
				return fail(err)
			}
			writers[rc.Writer] = w
			created = append(created, w)
		}

		f, ok := formatters[rc.Formatter]
		if !ok {
			f = cfg.buildFormatter(cfg.Formatters[rc.Formatter], w)
			formatters[rc.Formatter] = f
		}

		level, _ := ParseLevel(getConfigValue("info", rc.Level))
		r, err := NewRoute(level, f, w)
		if err != nil {
			return fail(err)
		}
		routes = append(routes, r)
	}

	core, err := NewCore(routes, append([]CoreOption{WithPolicy(cfg.Policy())}, opts...)...)
	if err != nil {
		return fail(err)
	}
	return core, nil
}

// buildFormatter creates a formatter. The style is resolved against the
// writer the formatter is first used with.
func (cfg *Config) buildFormatter(fc FormatterConfig, w Writer) Formatter {
	opts := []FormatterOption{
		WithMaxDepth(fc.MaxDepth),
		WithTimeFormat(fc.TimeFormat),
	}
	if sc, ok := cfg.Styles[fc.Style]; ok {
		style := NewStyle(sc.ColorKeys, sc.ColorValues, sc.ColorLevel, sc.KeyColor, sc.ValueColor, sc.Reset)
		if sc.Auto {
			style = AutoStyle(writerFile(w), style)
		}
		opts = append(opts, WithStyle(style))
	}
	if strings.ToLower(fc.Type) == "json" {
		return NewJSONFormatter(opts...)
	}
	enc, _ := ParseEncoding(fc.Encoding, EncodingCompact)
	return NewTextFormatter(append(opts, WithEncoding(enc))...)
}

// fileConfig converts a file writer section.
func (wc WriterConfig) fileConfig(onError ErrorHandler) FileConfig {
	return FileConfig{
		Path:         wc.Path,
		MaxSizeBytes: getConfigValue(wc.MaxSizeMB*1024*1024, wc.MaxSizeBytes),
		MaxBackups:   wc.MaxBackups,
		Interval:     RotateInterval(strings.ToLower(wc.Interval)),
		Compress:     Compression(strings.ToLower(wc.Compress)),
		ErrorHandler: onError,
	}
}

func (wc WriterConfig) build(onError ErrorHandler) (Writer, error) {
	switch strings.ToLower(wc.Type) {
	case "file":
		return NewRotatingFileWriter(wc.fileConfig(onError))
	case "stderr":
		return NewStderrWriter(), nil
	default:
		return NewStdoutWriter(), nil
	}
}

// writerFile returns the terminal candidate behind a stream writer.
func writerFile(w Writer) *os.File {
	if s, ok := w.(*StreamWriter); ok {
		if f, ok := s.out.(*os.File); ok {
			return f
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
