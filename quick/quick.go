package quick

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/LixenWraith/loggo"
)

// settings is the flat set of options accepted by Config.
type settings struct {
	Level          string `key:"level"`           // trace, debug, info, warning, error, exception
	Format         string `key:"format"`          // text, json
	Encoding       string `key:"encoding"`        // compact, json (text format only)
	MaxDepth       int64  `key:"max_depth"`       // field nesting bound
	Color          bool   `key:"color"`           // colored text on terminals
	Output         string `key:"output"`          // stdout, stderr, file
	Path           string `key:"path"`            // log file path, implies output=file
	MaxSizeMB      int64  `key:"max_size_mb"`     // size rotation threshold
	MaxBackups     int64  `key:"max_backups"`     // retained backups, 0 keeps all
	Interval       string `key:"interval"`        // day, week, month
	Compress       string `key:"compress"`        // gz
	Scope          bool   `key:"scope"`           // attach caller scope
	Traceback      bool   `key:"traceback"`       // attach traceback
	TracebackLevel string `key:"traceback_level"` // minimum level for traceback
}

// config parses configuration strings into settings.
// Each argument should be in "key=value" format where key matches a settings tag.
func config(args ...string) (*settings, error) {
	cfg := &settings{}
	for _, arg := range args {
		key, value, err := parseKeyValue(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid config format: %s", arg)
		}

		if err := setValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("config error: %s", err)
		}
	}
	return cfg, nil
}

// parseKeyValue splits a configuration string into key and value parts.
// Leading and trailing spaces are removed from both parts.
func parseKeyValue(arg string) (string, string, error) {
	key, value, ok := strings.Cut(strings.TrimSpace(arg), "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid format")
	}
	return key, strings.TrimSpace(value), nil
}

// setValue updates a settings field using reflection. Key matching is
// case-insensitive and levels are validated while parsing.
func setValue(cfg *settings, key, value string) error {
	key = strings.ToLower(key)

	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if tag := field.Tag.Get("key"); tag != key {
			continue
		}
		f := v.Field(i)

		switch f.Kind() {
		case reflect.Int64:
			val, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value for %s: %s", key, value)
			}
			f.SetInt(val)

		case reflect.String:
			switch key {
			case "level", "traceback_level":
				if _, err := loggo.ParseLevel(value); err != nil {
					return err
				}
				f.SetString(strings.ToLower(value))
			case "path":
				// Keep original case for paths
				f.SetString(value)
			default:
				f.SetString(strings.ToLower(value))
			}

		case reflect.Bool:
			val, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid bool value for %s: %s", key, value)
			}
			f.SetBool(val)

		default:
			return fmt.Errorf("unsupported config type for %s", key)
		}
		return nil
	}
	return fmt.Errorf("unknown config key: %s", key)
}

// toConfig converts settings to a single-route engine configuration.
func (s *settings) toConfig() *loggo.Config {
	cfg := loggo.DefaultConfig()

	style := cfg.Styles["default"]
	if s.Color {
		style.ColorKeys, style.ColorValues, style.ColorLevel, style.Auto = true, true, true, true
	}
	cfg.Styles["default"] = style

	cfg.Formatters = map[string]loggo.FormatterConfig{
		"main": {
			Type:     getValue("text", s.Format),
			Style:    "default",
			Encoding: s.Encoding,
			MaxDepth: int(s.MaxDepth),
		},
	}

	output := s.Output
	if output == "" && s.Path != "" {
		output = "file"
	}
	cfg.Writers = map[string]loggo.WriterConfig{
		"main": {
			Type:       getValue("stdout", output),
			Path:       s.Path,
			MaxSizeMB:  s.MaxSizeMB,
			MaxBackups: int(s.MaxBackups),
			Interval:   s.Interval,
			Compress:   s.Compress,
		},
	}

	cfg.Routes = []loggo.RouteConfig{
		{Level: getValue("info", s.Level), Formatter: "main", Writer: "main"},
	}
	cfg.Capture.Scope = s.Scope
	cfg.Capture.Traceback = s.Traceback
	cfg.Capture.TracebackLevel = getValue(cfg.Capture.TracebackLevel, s.TracebackLevel)
	return cfg
}

func getValue(defaultVal, val string) string {
	if val == "" {
		return defaultVal
	}
	return val
}
