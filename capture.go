package loggo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"unicode"
)

// Placeholders rendered when caller information cannot be resolved.
const (
	scopeUnavailable     = "<scope unavailable>"
	tracebackUnavailable = "<traceback unavailable>"
)

// DefaultTracebackMaxDepth bounds traceback frames when the policy does not.
const DefaultTracebackMaxDepth = 10

// maxCallerFrames bounds the raw stack walked while looking for the boundary.
const maxCallerFrames = 64

// modulePath is the import path prefix of every engine package. Frames from
// these packages are never reported as the caller.
var modulePath = reflect.TypeOf((*Core)(nil)).Elem().PkgPath()

// Policy controls caller context injection. When both are enabled and the
// level qualifies for a traceback, only the traceback is attached.
type Policy struct {
	InjectScope       bool
	InjectTraceback   bool
	TracebackMinLevel Level
	TracebackMaxDepth int
	// SkipPackages lists import path prefixes treated as part of the logging
	// machinery, for example wrappers or adapters around the engine.
	SkipPackages []string
}

// DefaultPolicy injects nothing. Tracebacks, once enabled, start at LevelError.
func DefaultPolicy() Policy {
	return Policy{
		TracebackMinLevel: LevelError,
		TracebackMaxDepth: DefaultTracebackMaxDepth,
	}
}

// wantsTraceback reports whether a record at level gets a traceback.
func (p *Policy) wantsTraceback(level Level) bool {
	return p.InjectTraceback && level >= p.TracebackMinLevel
}

// isMachinery reports whether a frame belongs to the logging machinery.
// Frames from test files always count as user code.
func (p *Policy) isMachinery(frame runtime.Frame) bool {
	if strings.HasSuffix(frame.File, "_test.go") {
		return false
	}
	fn := frame.Function
	if fn == "" || strings.HasPrefix(fn, "runtime.") {
		return true
	}
	if hasPackagePrefix(fn, modulePath) {
		return true
	}
	for _, prefix := range p.SkipPackages {
		if prefix != "" && hasPackagePrefix(fn, prefix) {
			return true
		}
	}
	return false
}

// hasPackagePrefix reports whether the qualified function name fn belongs to
// the package pkg or one of its subpackages.
func hasPackagePrefix(fn, pkg string) bool {
	if !strings.HasPrefix(fn, pkg) {
		return false
	}
	rest := fn[len(pkg):]
	return rest == "" || rest[0] == '.' || rest[0] == '/'
}

// callerFrames returns the stack above the logging machinery, innermost first.
func (p *Policy) callerFrames(limit int) []runtime.Frame {
	pc := make([]uintptr, maxCallerFrames)
	n := runtime.Callers(2, pc)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pc[:n])
	var out []runtime.Frame
	crossed := false
	for {
		frame, more := frames.Next()
		if !crossed {
			crossed = !p.isMachinery(frame)
		}
		if crossed && !p.isMachinery(frame) {
			out = append(out, frame)
			if len(out) >= limit {
				break
			}
		}
		if !more {
			break
		}
	}
	return out
}

// scope returns "file.go:line in func()" for the first caller outside the
// logging machinery.
func (p *Policy) scope() (string, error) {
	frames := p.callerFrames(1)
	if len(frames) == 0 {
		return scopeUnavailable, ErrCaptureUnavailable
	}
	f := frames[0]
	return fmt.Sprintf("%s:%d in %s()", filepath.Base(f.File), f.Line, shortFuncName(f.Function)), nil
}

// traceback renders the innermost TracebackMaxDepth caller frames in call
// order, outermost first and the logging call last.
func (p *Policy) traceback() (string, error) {
	depth := p.TracebackMaxDepth
	if depth <= 0 {
		depth = DefaultTracebackMaxDepth
	}
	frames := p.callerFrames(depth)
	if len(frames) == 0 {
		return tracebackUnavailable, ErrCaptureUnavailable
	}

	var sb strings.Builder
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		fmt.Fprintf(&sb, "  File %q, line %d, in %s()\n", filepath.Base(f.File), f.Line, shortFuncName(f.Function))
		if line := sources.line(f.File, f.Line); line != "" {
			sb.WriteString("    ")
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// shortFuncName strips the import path from a function name and marks
// anonymous functions.
func shortFuncName(function string) string {
	funcName := filepath.Base(function)
	parts := strings.Split(funcName, ".")
	lastPart := parts[len(parts)-1]
	if strings.HasPrefix(lastPart, "func") {
		// Check if rest is just digits
		afterFunc := lastPart[4:]
		isAnonymous := afterFunc != ""
		for _, c := range afterFunc {
			if !unicode.IsDigit(c) {
				isAnonymous = false
				break
			}
		}
		if isAnonymous {
			funcName = fmt.Sprintf("(anonymous %s)", funcName)
		}
	}
	return funcName
}

// maxCachedSources bounds the number of source files kept in memory.
const maxCachedSources = 128

// sourceCache holds the lines of source files referenced by tracebacks.
type sourceCache struct {
	mu    sync.Mutex
	files map[string][]string
}

var sources = &sourceCache{files: make(map[string][]string)}

// line returns the trimmed source line, or "" when the file is unreadable.
func (c *sourceCache) line(path string, n int) string {
	c.mu.Lock()
	lines, ok := c.files[path]
	c.mu.Unlock()

	if !ok {
		lines = readLines(path)
		c.mu.Lock()
		if len(c.files) >= maxCachedSources {
			clear(c.files)
		}
		c.files[path] = lines
		c.mu.Unlock()
	}

	if n < 1 || n > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[n-1])
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
