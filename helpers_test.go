package loggo

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// memWriter collects entries in memory.
type memWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
	closed int
	err    error
}

func (w *memWriter) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed > 0 {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}
	w.buf.Write(p)
	w.writes++
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func (w *memWriter) output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *memWriter) lines() []string {
	out := strings.TrimSuffix(w.output(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func (w *memWriter) writeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func (w *memWriter) closeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// blockingWriter holds every Write until release is closed.
type blockingWriter struct {
	memWriter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingWriter() *blockingWriter {
	return &blockingWriter{entered: make(chan struct{}), release: make(chan struct{})}
}

func (w *blockingWriter) Write(p []byte) error {
	w.once.Do(func() { close(w.entered) })
	<-w.release
	return w.memWriter.Write(p)
}

// recordingFormatter keeps a copy of every record it formats.
type recordingFormatter struct {
	mu      sync.Mutex
	enc     Encoding
	depth   int
	records []Record
}

func (f *recordingFormatter) Encoding() Encoding { return f.enc }

func (f *recordingFormatter) MaxDepth() int { return f.depth }

func (f *recordingFormatter) Format(rec *Record) []byte {
	f.mu.Lock()
	f.records = append(f.records, *rec)
	f.mu.Unlock()
	return []byte(rec.Message + "\n")
}

func (f *recordingFormatter) all() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, len(f.records))
	copy(out, f.records)
	return out
}

// panicFormatter panics on every record.
type panicFormatter struct{}

func (panicFormatter) Encoding() Encoding { return EncodingJSON }

func (panicFormatter) MaxDepth() int { return DefaultMaxDepth }

func (panicFormatter) Format(*Record) []byte { panic("formatter exploded") }

// errSink collects reported errors.
type errSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errSink) handle(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

func (s *errSink) count(target error) int {
	n := 0
	for _, err := range s.all() {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

// writerOwners reports how many owners currently hold w.
func writerOwners(w Writer) int {
	if !shareable(w) {
		return 0
	}
	writerRefs.Lock()
	defer writerRefs.Unlock()
	return writerRefs.counts[w]
}
