package loggo

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
)

// Writer persists formatted entries. Each Write receives one complete entry and
// must append it atomically with respect to other writes on the same writer.
type Writer interface {
	Write(p []byte) error
	Close() error
}

// Syncer is implemented by writers that can flush to stable storage.
type Syncer interface {
	Sync() error
}

// StreamWriter writes entries to an io.Writer, one underlying Write per entry.
type StreamWriter struct {
	mu     sync.Mutex
	out    io.Writer
	name   string
	closed bool
}

// NewStreamWriter wraps w. Closing the StreamWriter does not close w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{out: w, name: "stream"}
}

// NewStdoutWriter writes to the process standard output.
func NewStdoutWriter() *StreamWriter {
	return &StreamWriter{out: os.Stdout, name: "stdout"}
}

// NewStderrWriter writes to the process standard error.
func NewStderrWriter() *StreamWriter {
	return &StreamWriter{out: os.Stderr, name: "stderr"}
}

// Write implements Writer.
func (s *StreamWriter) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &WriteError{Err: ErrWriterClosed}
	}
	n, err := s.out.Write(p)
	if err != nil {
		return fmt.Errorf("failed to write to %s: %w", s.name, err)
	}
	if n < len(p) {
		return fmt.Errorf("failed to write to %s: %w", s.name, io.ErrShortWrite)
	}
	return nil
}

// Sync flushes the stream when it supports it.
func (s *StreamWriter) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.out.(*os.File); ok && !s.closed {
		// terminals and pipes reject fsync
		_ = f.Sync()
	}
	return nil
}

// Close stops the writer. The underlying stream stays open.
func (s *StreamWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Writers can be shared by several cores, for example across a reconfiguration
// that keeps the same output. Each core retains the writers it uses and
// releases them on close; the writer itself closes on the last release.
// Other owners, such as registries, use RetainWriter and ReleaseWriter the same way.
var writerRefs = struct {
	sync.Mutex
	counts map[Writer]int
}{counts: make(map[Writer]int)}

// RetainWriter registers one more owner of w.
func RetainWriter(w Writer) {
	if !shareable(w) {
		return
	}
	writerRefs.Lock()
	writerRefs.counts[w]++
	writerRefs.Unlock()
}

// ReleaseWriter drops one owner of w and closes it when none remain.
// Writers whose type cannot be tracked are closed immediately.
func ReleaseWriter(w Writer) error {
	if !shareable(w) {
		return w.Close()
	}
	writerRefs.Lock()
	n := writerRefs.counts[w] - 1
	if n > 0 {
		writerRefs.counts[w] = n
		writerRefs.Unlock()
		return nil
	}
	delete(writerRefs.counts, w)
	writerRefs.Unlock()
	return w.Close()
}

// shareable reports whether w can be used as a map key.
func shareable(w Writer) bool {
	return w != nil && reflect.TypeOf(w).Comparable()
}
