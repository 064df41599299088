package loggo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"
)

// backupSuffix matches the part of a backup name after "<path>.".
var backupSuffix = regexp.MustCompile(`^\d{8}T\d{6}\.\d{3}(-\d+)?(\.gz)?$`)

// discoverBackups lists existing backups of path, newest first by
// modification time.
func discoverBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type backupFile struct {
		path    string
		modTime time.Time
	}

	var found []backupFile
	for _, entry := range entries {
		fname := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fname, prefix) {
			continue
		}
		if !backupSuffix.MatchString(strings.TrimPrefix(fname, prefix)) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, backupFile{path: filepath.Join(dir, fname), modTime: info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].modTime.Equal(found[j].modTime) {
			return found[i].path > found[j].path
		}
		return found[i].modTime.After(found[j].modTime)
	})

	backups := make([]string, len(found))
	for i, b := range found {
		backups[i] = b.path
	}
	return backups, nil
}

// pruneBackupsLocked removes the oldest backups beyond MaxBackups. It stops at
// a backup still queued for compression; the compressor prunes again when done.
func (w *RotatingFileWriter) pruneBackupsLocked() error {
	if w.cfg.MaxBackups <= 0 {
		return nil
	}
	var errs error
	for len(w.backups) > w.cfg.MaxBackups {
		oldest := w.backups[len(w.backups)-1]
		if _, queued := w.pending[oldest]; queued {
			break
		}
		w.backups = w.backups[:len(w.backups)-1]
		if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, fmt.Errorf("failed to remove backup %s: %w", oldest, err))
			continue
		}
		PrunedBackupsTotal.Inc()
	}
	return errs
}

// compressLoop compresses queued backups until the writer closes, then drains
// what is left in the queue.
func (w *RotatingFileWriter) compressLoop() {
	defer close(w.done)
	for {
		if src, ok := w.nextCompression(); ok {
			w.compressBackup(src)
			continue
		}
		select {
		case <-w.wake:
		case <-w.stop:
			for {
				src, ok := w.nextCompression()
				if !ok {
					return
				}
				w.compressBackup(src)
			}
		}
	}
}

func (w *RotatingFileWriter) nextCompression() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return "", false
	}
	src := w.queue[0]
	w.queue = w.queue[1:]
	return src, true
}

// compressBackup compresses one backup and swaps its entry for the .gz path.
func (w *RotatingFileWriter) compressBackup(src string) {
	dst := src + ".gz"
	err := compressFile(src, dst)
	recordCompression(err)

	w.mu.Lock()
	delete(w.pending, src)
	if err == nil {
		for i, b := range w.backups {
			if b == src {
				w.backups[i] = dst
				break
			}
		}
	}
	pruneErr := w.pruneBackupsLocked()
	w.mu.Unlock()

	if err != nil {
		report(w.cfg.ErrorHandler, fmt.Errorf("failed to compress backup %s: %w", src, err))
	}
	report(w.cfg.ErrorHandler, pruneErr)
}

// compressFile gzips src into dst, keeps the source modification time and
// removes src. A partial dst is removed on failure.
func compressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(src)
	gz.ModTime = info.ModTime()
	if _, err = io.Copy(gz, in); err != nil {
		return err
	}
	if err = gz.Close(); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, dst); err != nil {
		return err
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	in.Close()
	return os.Remove(src)
}
