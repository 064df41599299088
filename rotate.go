package loggo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RotateInterval selects calendar based rotation.
type RotateInterval string

const (
	IntervalNone  RotateInterval = ""
	IntervalDay   RotateInterval = "day"
	IntervalWeek  RotateInterval = "week"
	IntervalMonth RotateInterval = "month"
)

// Compression selects how rotated backups are compressed.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gz"
)

// backupTimeFormat is the timestamp appended to rotated files.
const backupTimeFormat = "20060102T150405.000"

// FileConfig configures a RotatingFileWriter.
type FileConfig struct {
	// Path of the active log file. Backups are created next to it.
	Path string
	// MaxSizeBytes rotates before a write that would exceed it. 0 disables.
	MaxSizeBytes int64
	// MaxBackups bounds the number of retained backups. 0 keeps all.
	MaxBackups int
	// Interval rotates when the calendar period changes.
	Interval RotateInterval
	// Compress compresses backups in the background.
	Compress Compression
	// Perm is the mode of newly created files, 0644 when zero.
	Perm os.FileMode
	// Clock drives time based rotation, the real clock when nil.
	Clock clockwork.Clock
	// ErrorHandler receives background compression and pruning failures.
	ErrorHandler ErrorHandler
}

// RotatingFileWriter appends entries to a file and rotates it by size and
// calendar period, retaining a bounded set of optionally compressed backups.
type RotatingFileWriter struct {
	cfg   FileConfig
	clock clockwork.Clock

	mu           sync.Mutex
	file         *os.File
	size         int64
	lastRotation time.Time
	backups      []string // newest first
	pending      map[string]struct{}
	queue        []string
	closed       bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewRotatingFileWriter validates cfg, creates the parent directory and opens
// the active file in append mode.
func NewRotatingFileWriter(cfg FileConfig) (*RotatingFileWriter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Perm == 0 {
		cfg.Perm = 0644
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, &ConfigurationError{Component: "file writer", Field: "path",
			Err: fmt.Errorf("failed to create log directory: %w", err)}
	}

	w := &RotatingFileWriter{
		cfg:     cfg,
		clock:   clock,
		pending: make(map[string]struct{}),
	}
	if err := w.openLocked(); err != nil {
		return nil, &ConfigurationError{Component: "file writer", Field: "path", Err: err}
	}

	w.lastRotation = clock.Now()
	if w.size > 0 {
		if info, err := w.file.Stat(); err == nil {
			w.lastRotation = info.ModTime()
		}
	}

	backups, err := discoverBackups(cfg.Path)
	if err != nil {
		w.file.Close()
		return nil, &ConfigurationError{Component: "file writer", Field: "path",
			Err: fmt.Errorf("failed to scan backups: %w", err)}
	}
	w.backups = backups

	if cfg.Compress != CompressionNone {
		w.wake = make(chan struct{}, 1)
		w.stop = make(chan struct{})
		w.done = make(chan struct{})
		go w.compressLoop()
	}

	w.mu.Lock()
	pruneErr := w.pruneBackupsLocked()
	w.mu.Unlock()
	report(cfg.ErrorHandler, pruneErr)

	return w, nil
}

func (c FileConfig) validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return configError("file writer", "path", "path is empty")
	}
	if c.MaxSizeBytes < 0 {
		return configError("file writer", "max_size_bytes", "must not be negative, got %d", c.MaxSizeBytes)
	}
	if c.MaxBackups < 0 {
		return configError("file writer", "max_backups", "must not be negative, got %d", c.MaxBackups)
	}
	switch c.Interval {
	case IntervalNone, IntervalDay, IntervalWeek, IntervalMonth:
	default:
		return configError("file writer", "interval", "unknown interval %q", c.Interval)
	}
	switch c.Compress {
	case CompressionNone, CompressionGzip:
	default:
		return configError("file writer", "compress", "unknown compression %q", c.Compress)
	}
	return nil
}

// Path returns the active file path.
func (w *RotatingFileWriter) Path() string {
	return w.cfg.Path
}

// Backups returns the retained backup paths, newest first.
func (w *RotatingFileWriter) Backups() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.backups))
	copy(out, w.backups)
	return out
}

// Write appends p, rotating first when a size or time trigger fires.
func (w *RotatingFileWriter) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &WriteError{Err: ErrWriterClosed}
	}

	if w.shouldRotateLocked(len(p)) {
		if err := w.rotateLocked(); err != nil {
			report(w.cfg.ErrorHandler, fmt.Errorf("failed to rotate %s: %w", w.cfg.Path, err))
		}
	}
	if w.file == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write log file: %w", err)
	}
	return nil
}

// Rotate forces a rotation regardless of triggers.
func (w *RotatingFileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	return w.rotateLocked()
}

// Sync flushes the active file to stable storage.
func (w *RotatingFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the active file and waits for queued compressions. It is
// idempotent.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	var err error
	if w.file != nil {
		if syncErr := w.file.Sync(); syncErr != nil {
			err = fmt.Errorf("failed to sync log file: %w", syncErr)
		}
		if closeErr := w.file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close log file: %w", closeErr)
		}
		w.file = nil
	}
	w.mu.Unlock()

	if w.done != nil {
		close(w.stop)
		<-w.done
	}
	return err
}

// shouldRotateLocked evaluates the size and time triggers for an incoming write.
func (w *RotatingFileWriter) shouldRotateLocked(n int) bool {
	if w.cfg.MaxSizeBytes > 0 && w.size > 0 && w.size+int64(n) > w.cfg.MaxSizeBytes {
		return true
	}
	if w.cfg.Interval != IntervalNone {
		return !periodStart(w.clock.Now(), w.cfg.Interval).Equal(periodStart(w.lastRotation, w.cfg.Interval))
	}
	return false
}

// rotateLocked renames the active file to a unique backup name, queues it for
// compression, applies retention and reopens the active path.
func (w *RotatingFileWriter) rotateLocked() error {
	now := w.clock.Now()

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			report(w.cfg.ErrorHandler, fmt.Errorf("failed to close log file: %w", err))
		}
		w.file = nil
	}

	var rotateErr error
	backup, err := backupName(w.cfg.Path, now)
	if err == nil {
		err = os.Rename(w.cfg.Path, backup)
	}
	if err != nil {
		rotateErr = fmt.Errorf("failed to rename log file: %w", err)
	} else {
		w.backups = append([]string{backup}, w.backups...)
		if w.done != nil {
			w.pending[backup] = struct{}{}
			w.queue = append(w.queue, backup)
			select {
			case w.wake <- struct{}{}:
			default:
			}
		}
		RotationsTotal.Inc()
	}

	if err := w.openLocked(); err != nil {
		return err
	}
	w.lastRotation = now

	if err := w.pruneBackupsLocked(); err != nil {
		report(w.cfg.ErrorHandler, err)
	}
	return rotateErr
}

// openLocked opens the active file in append mode and records its size.
func (w *RotatingFileWriter) openLocked() error {
	file, err := os.OpenFile(w.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, w.cfg.Perm)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// periodStart returns the local start of the calendar period containing t.
// Weeks start on Monday.
func periodStart(t time.Time, interval RotateInterval) time.Time {
	t = t.Local()
	y, m, d := t.Date()
	switch interval {
	case IntervalDay:
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	case IntervalWeek:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, time.Local)
	case IntervalMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.Local)
	default:
		return time.Time{}
	}
}

// backupName creates a unique backup path for a rotation at timestamp. A
// numeric suffix is added while the name, or its compressed form, exists.
func backupName(path string, timestamp time.Time) (string, error) {
	base := path + "." + timestamp.Format(backupTimeFormat)
	candidate := base
	for n := 1; n <= 1000; n++ {
		if !exists(candidate) && !exists(candidate+".gz") {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("failed to generate unique backup name for %s", path)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
