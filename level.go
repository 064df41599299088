package loggo

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the severity of a log record. Values are stable and shared with
// binding layers, so they must not be renumbered.
type Level int

// Log level constants. A record at level L reaches a route with threshold T iff L >= T.
const (
	LevelTrace     Level = 0
	LevelDebug     Level = 10
	LevelInfo      Level = 20
	LevelWarning   Level = 30
	LevelError     Level = 40
	LevelException Level = 50
)

// levelNameWidth is the column width used to align level names in text output.
const levelNameWidth = 9

// String converts the level to the upper-case name written in log records.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelException:
		return "EXCEPTION"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// color returns the ANSI escape code used when level coloring is enabled.
func (l Level) color() string {
	switch l {
	case LevelTrace:
		return "\033[90m" // gray
	case LevelDebug:
		return "\033[34m" // blue
	case LevelInfo:
		return "\033[32m" // green
	case LevelWarning:
		return "\033[33m" // yellow
	case LevelError:
		return "\033[31m" // red
	case LevelException:
		return "\033[1;31m" // bold red
	default:
		return ""
	}
}

// Valid reports whether l is one of the six defined levels.
func (l Level) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarning, LevelError, LevelException:
		return true
	}
	return false
}

// ParseLevel parses a level name (case-insensitive, "WARN" accepted) or its
// numeric value.
func ParseLevel(text string) (Level, error) {
	s := strings.ToUpper(strings.TrimSpace(text))
	switch s {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "EXCEPTION":
		return LevelException, nil
	}
	if n, err := strconv.Atoi(s); err == nil && Level(n).Valid() {
		return Level(n), nil
	}
	return LevelInfo, fmt.Errorf("invalid level: %q", text)
}
