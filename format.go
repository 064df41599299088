package loggo

import (
	"bytes"
	"strings"
	"time"
)

// Reserved keys under which the core attaches captured context.
const (
	ScopeKey     = "scope"
	TracebackKey = "tb"
)

// Default timestamp layouts.
const (
	TextTimeFormat = "2006-01-02 15:04:05.000"
	JSONTimeFormat = time.RFC3339Nano
)

// Record is one log event as seen by a formatter. Fields holds the mapping
// already serialized with the formatter's Encoding.
type Record struct {
	Time      time.Time
	Level     Level
	Message   string
	Fields    []byte
	Scope     string
	Traceback string
}

// Formatter renders records to bytes. Implementations must be safe for
// concurrent use and must not retain the record after Format returns.
type Formatter interface {
	// Encoding is the field wire format the formatter expects in Record.Fields.
	Encoding() Encoding
	// MaxDepth is the nesting bound forwarded to the field serializer.
	MaxDepth() int
	// Format renders one newline-terminated entry.
	Format(rec *Record) []byte
}

// formatterOptions are shared by both formatter variants.
type formatterOptions struct {
	style      Style
	maxDepth   int
	encoding   Encoding
	timeFormat string
}

// FormatterOption configures a formatter at construction.
type FormatterOption func(*formatterOptions)

// WithStyle sets the presentation style.
func WithStyle(s Style) FormatterOption {
	return func(o *formatterOptions) { o.style = s }
}

// WithMaxDepth sets the field nesting bound. Values <= 0 keep the default.
func WithMaxDepth(depth int) FormatterOption {
	return func(o *formatterOptions) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

// WithEncoding sets the field encoding of a TextFormatter. JSONFormatter ignores it.
func WithEncoding(enc Encoding) FormatterOption {
	return func(o *formatterOptions) { o.encoding = enc }
}

// WithTimeFormat sets the timestamp layout.
func WithTimeFormat(layout string) FormatterOption {
	return func(o *formatterOptions) {
		if layout != "" {
			o.timeFormat = layout
		}
	}
}

// TextFormatter renders a single human-oriented line:
// timestamp, level, message, then key=value pairs.
type TextFormatter struct {
	opts formatterOptions
}

// NewTextFormatter creates a text formatter. The default field encoding is compact.
func NewTextFormatter(opts ...FormatterOption) *TextFormatter {
	o := formatterOptions{
		maxDepth:   DefaultMaxDepth,
		encoding:   EncodingCompact,
		timeFormat: TextTimeFormat,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &TextFormatter{opts: o}
}

// Encoding implements Formatter.
func (f *TextFormatter) Encoding() Encoding { return f.opts.encoding }

// MaxDepth implements Formatter.
func (f *TextFormatter) MaxDepth() int { return f.opts.maxDepth }

// Style returns the formatter's style.
func (f *TextFormatter) Style() Style { return f.opts.style }

// Format implements Formatter.
func (f *TextFormatter) Format(rec *Record) []byte {
	style := f.opts.style
	buf := make([]byte, 0, 128+len(rec.Message)+len(rec.Fields)+len(rec.Scope)+len(rec.Traceback))

	buf = rec.Time.AppendFormat(buf, f.opts.timeFormat)
	buf = append(buf, ' ')
	buf = style.appendLevel(buf, rec.Level)
	buf = append(buf, ' ')
	buf = append(buf, addMultilinePrefix(rec.Message)...)

	sepWritten := false
	sep := func() {
		if !sepWritten {
			buf = append(buf, " |"...)
			sepWritten = true
		}
	}

	switch f.opts.encoding {
	case EncodingCompact:
		compactPairs(rec.Fields, func(key, value []byte) {
			sep()
			buf = append(buf, ' ')
			buf = style.appendKey(buf, key)
			buf = append(buf, '=')
			buf = style.appendValue(buf, textValue(value))
		})
	default:
		if len(rec.Fields) > 0 && !bytes.Equal(rec.Fields, []byte("{}")) {
			sep()
			buf = append(buf, ' ')
			buf = style.appendValue(buf, rec.Fields)
		}
	}

	if rec.Scope != "" {
		sep()
		buf = append(buf, ' ')
		buf = style.appendKey(buf, []byte(ScopeKey))
		buf = append(buf, '=')
		buf = style.appendValue(buf, textValue([]byte(rec.Scope)))
	}
	if rec.Traceback != "" {
		sep()
		buf = append(buf, ' ')
		buf = style.appendKey(buf, []byte(TracebackKey))
		buf = append(buf, "=\n| "...)
		buf = append(buf, addMultilinePrefix(strings.TrimRight(rec.Traceback, "\n"))...)
	}

	return append(buf, '\n')
}

// JSONFormatter renders one JSON object per record with stable keys:
// time, level, message, fields and the optional scope or tb.
type JSONFormatter struct {
	opts formatterOptions
}

// NewJSONFormatter creates a JSON formatter. JSON output is never colored;
// the style is kept only so configuration can be shared with text routes.
func NewJSONFormatter(opts ...FormatterOption) *JSONFormatter {
	o := formatterOptions{
		maxDepth:   DefaultMaxDepth,
		timeFormat: JSONTimeFormat,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.encoding = EncodingJSON
	return &JSONFormatter{opts: o}
}

// Encoding implements Formatter.
func (f *JSONFormatter) Encoding() Encoding { return EncodingJSON }

// MaxDepth implements Formatter.
func (f *JSONFormatter) MaxDepth() int { return f.opts.maxDepth }

// Format implements Formatter.
func (f *JSONFormatter) Format(rec *Record) []byte {
	buf := make([]byte, 0, 128+len(rec.Message)+len(rec.Fields)+len(rec.Scope)+len(rec.Traceback))

	buf = append(buf, `{"time":"`...)
	buf = rec.Time.AppendFormat(buf, f.opts.timeFormat)
	buf = append(buf, `","level":"`...)
	buf = append(buf, rec.Level.String()...)
	buf = append(buf, `","message":"`...)
	buf = appendEscaped(buf, rec.Message)
	buf = append(buf, `","fields":`...)
	if len(rec.Fields) == 0 || rec.Fields[0] != '{' {
		buf = append(buf, "{}"...)
	} else {
		buf = append(buf, rec.Fields...)
	}
	if rec.Scope != "" {
		buf = append(buf, `,"`+ScopeKey+`":"`...)
		buf = appendEscaped(buf, rec.Scope)
		buf = append(buf, '"')
	}
	if rec.Traceback != "" {
		buf = append(buf, `,"`+TracebackKey+`":"`...)
		buf = appendEscaped(buf, rec.Traceback)
		buf = append(buf, '"')
	}
	return append(buf, '}', '\n')
}

// textValue quotes a raw value when it would be ambiguous in key=value form.
func textValue(raw []byte) []byte {
	if !needsQuotes(raw) {
		return raw
	}
	out := make([]byte, 0, len(raw)+2)
	out = append(out, '"')
	out = appendEscaped(out, string(raw))
	return append(out, '"')
}

// needsQuotes checks if a value needs to be quoted in text format.
func needsQuotes(s []byte) bool {
	if len(s) == 0 {
		return true
	}
	for _, c := range s {
		if c <= ' ' || c == '"' || c == '\\' || c == '=' {
			return true
		}
	}
	return false
}

// addMultilinePrefix inserts "| " after every line break so a multi-line
// message stays visually attached to its record.
func addMultilinePrefix(s string) string {
	if strings.IndexByte(s, '\n') == -1 {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\n| ")
}
