package loggo

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Default ANSI codes used by DefaultStyle.
const (
	ColorBlue   = "\033[34m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorReset  = "\033[0m"
)

// Style holds presentation options for text output. It is a value type and is
// copied into formatters, so a Style never changes after a formatter is built.
// The zero Style means no styling.
type Style struct {
	ColorKeys   bool
	ColorValues bool
	ColorLevel  bool

	KeyColor   string
	ValueColor string
	Reset      string
}

// NewStyle creates a fully customized style.
func NewStyle(colorKeys, colorValues, colorLevel bool, keyColor, valueColor, reset string) Style {
	return Style{
		ColorKeys:   colorKeys,
		ColorValues: colorValues,
		ColorLevel:  colorLevel,
		KeyColor:    keyColor,
		ValueColor:  valueColor,
		Reset:       reset,
	}
}

// DefaultStyle has coloring disabled but carries blue keys, yellow values and
// the reset code, so enabling a flag is enough to get colors.
func DefaultStyle() Style {
	return NewStyle(false, false, false, ColorBlue, ColorYellow, ColorReset)
}

// ColorStyle enables key, value and level coloring with the default codes.
func ColorStyle() Style {
	return NewStyle(true, true, true, ColorBlue, ColorYellow, ColorReset)
}

// AutoStyle returns s when f is a terminal and s with all coloring disabled otherwise.
func AutoStyle(f *os.File, s Style) Style {
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return s
	}
	s.ColorKeys, s.ColorValues, s.ColorLevel = false, false, false
	return s
}

// appendKey appends a field key, wrapped in the key color when enabled.
func (s Style) appendKey(buf []byte, key []byte) []byte {
	if s.ColorKeys {
		buf = append(buf, s.KeyColor...)
		buf = append(buf, key...)
		return append(buf, s.Reset...)
	}
	return append(buf, key...)
}

// appendValue appends a rendered value, wrapped in the value color when enabled.
func (s Style) appendValue(buf []byte, value []byte) []byte {
	if s.ColorValues {
		buf = append(buf, s.ValueColor...)
		buf = append(buf, value...)
		return append(buf, s.Reset...)
	}
	return append(buf, value...)
}

// appendLevel appends the padded level name, colored by level when enabled.
func (s Style) appendLevel(buf []byte, level Level) []byte {
	name := level.String()
	if s.ColorLevel {
		reset := s.Reset
		if reset == "" {
			reset = ColorReset
		}
		buf = append(buf, level.color()...)
		buf = append(buf, name...)
		buf = append(buf, reset...)
	} else {
		buf = append(buf, name...)
	}
	for i := len(name); i < levelNameWidth; i++ {
		buf = append(buf, ' ')
	}
	return buf
}
