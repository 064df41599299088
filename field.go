package loggo

import (
	"fmt"
	"sort"
)

// Field is one key/value pair of log context.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered field mapping. Insertion order is preserved when rendered
// and duplicate keys are rendered in order without merging. A Fields value may
// itself be used as a field value to express a nested mapping.
type Fields []Field

// F creates a field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Group creates a field whose value is a nested mapping.
func Group(key string, fields ...Field) Field {
	return Field{Key: key, Value: Fields(fields)}
}

// With returns a new mapping with extra appended after the receiver's fields.
func (fs Fields) With(extra ...Field) Fields {
	out := make(Fields, 0, len(fs)+len(extra))
	out = append(out, fs...)
	return append(out, extra...)
}

// FromMap converts a map to Fields in sorted key order.
func FromMap(m map[string]any) Fields {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fs := make(Fields, 0, len(keys))
	for _, k := range keys {
		fs = append(fs, Field{Key: k, Value: m[k]})
	}
	return fs
}

// FromPairs converts alternating key, value arguments to Fields. A non-string
// key is formatted with fmt, a trailing key without value gets a nil value.
func FromPairs(args ...any) Fields {
	fs := make(Fields, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		var key string
		switch k := args[i].(type) {
		case string:
			key = k
		default:
			key = fmt.Sprint(k)
		}
		var value any
		if i+1 < len(args) {
			value = args[i+1]
		}
		fs = append(fs, Field{Key: key, Value: value})
	}
	return fs
}
