package loggo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Encoding selects the wire format produced by SerializeFields.
type Encoding int

const (
	// EncodingJSON is the structural encoding: a JSON object with full nesting.
	EncodingJSON Encoding = iota
	// EncodingCompact is the delimiter encoding: key NUL value NUL per pair.
	EncodingCompact
)

// DefaultMaxDepth is the nesting bound used when a formatter does not set one.
const DefaultMaxDepth = 3

// Reserved tokens of the wire formats.
const (
	depthPlaceholder = "<max_depth>"
	compactEmpty     = "0"
	compactSep       = 0
	maxPointerHops   = 16
)

// String returns the configuration name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingCompact:
		return "compact"
	default:
		return "unknown"
	}
}

// ParseEncoding converts a configuration name to an Encoding. Empty selects def.
func ParseEncoding(name string, def Encoding) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return def, nil
	case "json", "structural":
		return EncodingJSON, nil
	case "compact":
		return EncodingCompact, nil
	default:
		return def, fmt.Errorf("unknown encoding %q", name)
	}
}

// serializer appends encoded field values into a reusable buffer.
type serializer struct {
	buf      []byte
	maxDepth int
}

var serializerPool = sync.Pool{
	New: func() any { return &serializer{buf: make([]byte, 0, 512)} },
}

// SerializeFields encodes fields with the given encoding. Containers nested
// deeper than maxDepth (top-level values are at depth 1) are replaced by the
// "<max_depth>" placeholder. maxDepth <= 0 selects DefaultMaxDepth.
// The result is never empty: an empty mapping encodes as "{}" or "0".
func SerializeFields(fields Fields, maxDepth int, enc Encoding) []byte {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	s := serializerPool.Get().(*serializer)
	s.buf = s.buf[:0]
	s.maxDepth = maxDepth

	if enc == EncodingCompact {
		s.writeCompact(fields)
	} else {
		s.writeObject(fields, 0)
	}

	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	if cap(s.buf) <= 64<<10 {
		serializerPool.Put(s)
	}
	return out
}

// writeCompact writes the delimiter encoding of fields.
func (s *serializer) writeCompact(fields Fields) {
	if len(fields) == 0 {
		s.buf = append(s.buf, compactEmpty...)
		return
	}
	for _, f := range fields {
		s.buf = append(s.buf, f.Key...)
		s.buf = append(s.buf, compactSep)
		s.writeCompactValue(f.Value)
		s.buf = append(s.buf, compactSep)
	}
}

// writeCompactValue stringifies a value: strings raw, scalars literal,
// containers as their structural rendering.
func (s *serializer) writeCompactValue(v any) {
	switch val := v.(type) {
	case string:
		s.buf = append(s.buf, val...)
	case []byte:
		s.buf = append(s.buf, base64.StdEncoding.EncodeToString(val)...)
	case error:
		s.buf = append(s.buf, val.Error()...)
	case time.Time:
		s.buf = val.AppendFormat(s.buf, time.RFC3339Nano)
	case time.Duration:
		s.buf = append(s.buf, val.String()...)
	default:
		mark := len(s.buf)
		s.writeValue(v, 1)
		// a bare JSON string is unquoted in compact form
		if len(s.buf) > mark && s.buf[mark] == '"' {
			str, err := strconv.Unquote(string(s.buf[mark:]))
			if err == nil {
				s.buf = append(s.buf[:mark], str...)
			}
		}
	}
}

// writeObject writes an ordered mapping as a JSON object; level is the
// nesting level of the object itself.
func (s *serializer) writeObject(fields Fields, level int) {
	s.buf = append(s.buf, '{')
	for i, f := range fields {
		if i > 0 {
			s.buf = append(s.buf, ',')
		}
		s.writeString(f.Key)
		s.buf = append(s.buf, ':')
		s.writeValue(f.Value, level+1)
	}
	s.buf = append(s.buf, '}')
}

// writeValue writes the structural encoding of v found at nesting level.
func (s *serializer) writeValue(v any, level int) {
	switch val := v.(type) {
	case nil:
		s.buf = append(s.buf, "null"...)
	case string:
		s.writeString(val)
	case bool:
		s.buf = strconv.AppendBool(s.buf, val)
	case int:
		s.buf = strconv.AppendInt(s.buf, int64(val), 10)
	case int8:
		s.buf = strconv.AppendInt(s.buf, int64(val), 10)
	case int16:
		s.buf = strconv.AppendInt(s.buf, int64(val), 10)
	case int32:
		s.buf = strconv.AppendInt(s.buf, int64(val), 10)
	case int64:
		s.buf = strconv.AppendInt(s.buf, val, 10)
	case uint:
		s.buf = strconv.AppendUint(s.buf, uint64(val), 10)
	case uint8:
		s.buf = strconv.AppendUint(s.buf, uint64(val), 10)
	case uint16:
		s.buf = strconv.AppendUint(s.buf, uint64(val), 10)
	case uint32:
		s.buf = strconv.AppendUint(s.buf, uint64(val), 10)
	case uint64:
		s.buf = strconv.AppendUint(s.buf, val, 10)
	case float32:
		s.writeFloat(float64(val), 32)
	case float64:
		s.writeFloat(val, 64)
	case time.Time:
		s.buf = append(s.buf, '"')
		s.buf = val.AppendFormat(s.buf, time.RFC3339Nano)
		s.buf = append(s.buf, '"')
	case time.Duration:
		s.writeString(val.String())
	case []byte:
		s.writeString(base64.StdEncoding.EncodeToString(val))
	case error:
		s.writeString(val.Error())
	case Fields:
		if level > s.maxDepth {
			s.writeString(depthPlaceholder)
			return
		}
		s.writeObject(val, level)
	case Field:
		if level > s.maxDepth {
			s.writeString(depthPlaceholder)
			return
		}
		s.writeObject(Fields{val}, level)
	case map[string]any:
		if level > s.maxDepth {
			s.writeString(depthPlaceholder)
			return
		}
		s.writeObject(FromMap(val), level)
	case []any:
		if level > s.maxDepth {
			s.writeString(depthPlaceholder)
			return
		}
		s.buf = append(s.buf, '[')
		for i, item := range val {
			if i > 0 {
				s.buf = append(s.buf, ',')
			}
			s.writeValue(item, level+1)
		}
		s.buf = append(s.buf, ']')
	case fmt.Stringer:
		s.writeString(val.String())
	default:
		s.writeReflect(reflect.ValueOf(v), level)
	}
}

// writeReflect handles values without a fast path.
func (s *serializer) writeReflect(rv reflect.Value, level int) {
	for hops := 0; rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface; hops++ {
		if rv.IsNil() || hops >= maxPointerHops {
			s.buf = append(s.buf, "null"...)
			return
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		s.buf = append(s.buf, "null"...)
		return
	}
	if rv.CanInterface() {
		switch rv.Kind() {
		case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		default:
			// scalars of named types go back through the fast path
			if base, ok := scalarOf(rv); ok {
				s.writeValue(base, level)
				return
			}
		}
	}

	switch rv.Kind() {
	case reflect.Map:
		if level > s.maxDepth {
			s.writeString(depthPlaceholder)
			return
		}
		if rv.Type().Key().Kind() != reflect.String {
			s.writeString(fmt.Sprintf("%v", rv.Interface()))
			return
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		s.buf = append(s.buf, '{')
		for i, k := range keys {
			if i > 0 {
				s.buf = append(s.buf, ',')
			}
			s.writeString(k.String())
			s.buf = append(s.buf, ':')
			s.writeReflectElem(rv.MapIndex(k), level+1)
		}
		s.buf = append(s.buf, '}')
	case reflect.Slice, reflect.Array:
		if level > s.maxDepth {
			s.writeString(depthPlaceholder)
			return
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			bs := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(bs), rv)
			s.writeString(base64.StdEncoding.EncodeToString(bs))
			return
		}
		s.buf = append(s.buf, '[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				s.buf = append(s.buf, ',')
			}
			s.writeReflectElem(rv.Index(i), level+1)
		}
		s.buf = append(s.buf, ']')
	case reflect.Struct:
		if level > s.maxDepth {
			s.writeString(depthPlaceholder)
			return
		}
		s.writeStruct(rv, level)
	default:
		s.writeString(fmt.Sprintf("<unsupported:%s>", rv.Kind()))
	}
}

// writeReflectElem writes an element reached through reflection.
func (s *serializer) writeReflectElem(rv reflect.Value, level int) {
	if rv.CanInterface() {
		s.writeValue(rv.Interface(), level)
		return
	}
	s.writeReflect(rv, level)
}

// writeStruct writes exported struct fields in declaration order, honoring
// json tag names and "-".
func (s *serializer) writeStruct(rv reflect.Value, level int) {
	t := rv.Type()
	s.buf = append(s.buf, '{')
	first := true
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		key := sf.Name
		if tag := sf.Tag.Get("json"); tag != "" {
			name, _, _ := strings.Cut(tag, ",")
			if name == "-" {
				continue
			}
			if name != "" {
				key = name
			}
		}
		if !first {
			s.buf = append(s.buf, ',')
		}
		first = false
		s.writeString(key)
		s.buf = append(s.buf, ':')
		s.writeReflectElem(rv.Field(i), level+1)
	}
	s.buf = append(s.buf, '}')
}

// scalarOf converts named scalar kinds to their builtin type.
func scalarOf(rv reflect.Value) (any, bool) {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.String:
		return rv.String(), true
	}
	return nil, false
}

// writeFloat writes a float as a JSON number, NaN and infinities as strings.
func (s *serializer) writeFloat(f float64, bits int) {
	switch {
	case math.IsNaN(f):
		s.writeString("NaN")
	case math.IsInf(f, 1):
		s.writeString("Infinity")
	case math.IsInf(f, -1):
		s.writeString("-Infinity")
	default:
		format := byte('f')
		if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
			format = 'e'
		}
		s.buf = strconv.AppendFloat(s.buf, f, format, -1, bits)
	}
}

// writeString appends a quoted string, escaping backslash, quote, newline,
// carriage return, tab and the remaining control bytes.
func (s *serializer) writeString(str string) {
	s.buf = append(s.buf, '"')
	s.buf = appendEscaped(s.buf, str)
	s.buf = append(s.buf, '"')
}

const hexDigits = "0123456789abcdef"

// appendEscaped appends str with JSON string escaping and no surrounding quotes.
func appendEscaped(buf []byte, str string) []byte {
	for i := 0; i < len(str); {
		c := str[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(str[i:])
			if r == utf8.RuneError && size == 1 {
				buf = append(buf, "\ufffd"...)
			} else {
				buf = append(buf, str[i:i+size]...)
			}
			i += size
			continue
		}
		switch c {
		case '\\', '"':
			buf = append(buf, '\\', c)
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if c < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				buf = append(buf, c)
			}
		}
		i++
	}
	return buf
}

// errOddCompact is returned for a compact payload with a dangling key.
var errOddCompact = errors.New("compact fields: key without value")

// DecodeCompact parses the compact encoding back into string-valued fields.
// The "0" sentinel and an empty payload decode to no fields.
func DecodeCompact(data []byte) (Fields, error) {
	if len(data) == 0 || string(data) == compactEmpty {
		return nil, nil
	}
	if data[len(data)-1] != compactSep {
		return nil, fmt.Errorf("compact fields: missing trailing delimiter")
	}
	parts := bytes.Split(data[:len(data)-1], []byte{compactSep})
	if len(parts)%2 != 0 {
		return nil, errOddCompact
	}
	fs := make(Fields, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		fs = append(fs, Field{Key: string(parts[i]), Value: string(parts[i+1])})
	}
	return fs, nil
}

// compactPairs iterates over the key/value pairs of a compact payload without
// allocating fields. Malformed trailing data is ignored.
func compactPairs(data []byte, fn func(key, value []byte)) {
	if len(data) == 0 || string(data) == compactEmpty {
		return
	}
	for len(data) > 0 {
		k := bytes.IndexByte(data, compactSep)
		if k < 0 {
			return
		}
		rest := data[k+1:]
		v := bytes.IndexByte(rest, compactSep)
		if v < 0 {
			return
		}
		fn(data[:k], rest[:v])
		data = rest[v+1:]
	}
}
