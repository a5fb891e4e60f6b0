// Package runlog provides the rotating file sink that backs the DAQ's
// structured run log: a zapcore.WriteSyncer that rotates by size, keeps a
// bounded number of gzip-compressed backups, and retries transient file
// operations the way the rest of the stack does.
package runlog

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agilira/go-timecache"

	"github.com/apdcam10g/daqcore/internal/fsutil"
)

const (
	defaultMaxSizeBytes = 100 * 1024 * 1024
	defaultFileMode     = 0640
	defaultRetryCount   = 3
	defaultRetryDelay   = 10 * time.Millisecond
)

// RunLog is an append-only log file that rotates itself once it exceeds
// MaxSizeBytes, keeping at most MaxBackups rotated copies (oldest deleted
// first) and optionally gzip-compressing them. It is safe for concurrent
// writers.
type RunLog struct {
	// Path is the active log file path; parent directories are created
	// on first write.
	Path string
	// MaxSizeBytes is the rotation threshold; zero uses
	// defaultMaxSizeBytes.
	MaxSizeBytes int64
	// MaxBackups caps the number of rotated files kept; zero keeps all
	// of them.
	MaxBackups int
	// Compress gzips a file immediately after it is rotated out.
	Compress bool
	// LocalTime uses the local timezone in backup filenames instead of
	// UTC.
	LocalTime bool
	// FileMode is the permission used when creating the log file and
	// its rotated backups.
	FileMode os.FileMode

	mu      sync.Mutex
	file    *os.File
	size    int64
	clock   *timecache.TimeCache
	started bool
}

func (r *RunLog) clockNow() time.Time {
	if r.clock == nil {
		r.clock = timecache.NewWithResolution(time.Millisecond)
	}
	return r.clock.CachedTime()
}

func (r *RunLog) open() error {
	if dir := filepath.Dir(r.Path); dir != "." {
		if err := fsutil.RetryFileOperation(func() error {
			return os.MkdirAll(dir, 0750)
		}, defaultRetryCount, defaultRetryDelay); err != nil {
			return fmt.Errorf("runlog: create directory: %w", err)
		}
	}

	mode := r.FileMode
	if mode == 0 {
		mode = defaultFileMode
	}

	var f *os.File
	err := fsutil.RetryFileOperation(func() error {
		var err error
		f, err = os.OpenFile(r.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, mode)
		return err
	}, defaultRetryCount, defaultRetryDelay)
	if err != nil {
		return fmt.Errorf("runlog: open %q: %w", r.Path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("runlog: stat %q: %w", r.Path, err)
	}

	r.file = f
	r.size = info.Size()
	r.started = true
	return nil
}

// Write implements io.Writer, rotating the file first if p would push it
// past MaxSizeBytes.
func (r *RunLog) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	max := r.MaxSizeBytes
	if max <= 0 {
		max = defaultMaxSizeBytes
	}
	if r.size+int64(len(p)) > max && r.size > 0 {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Sync implements zapcore.WriteSyncer.
func (r *RunLog) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close flushes and closes the active file.
func (r *RunLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clock != nil {
		r.clock.Stop()
	}
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

func (r *RunLog) rotate() error {
	now := r.clockNow()
	if !r.LocalTime {
		now = now.UTC()
	}
	backup := fmt.Sprintf("%s.%s", r.Path, now.Format("2006-01-02-15-04-05"))

	if err := fsutil.RetryFileOperation(r.file.Close, defaultRetryCount, defaultRetryDelay); err != nil {
		return fmt.Errorf("runlog: close before rotate: %w", err)
	}
	if err := fsutil.RetryFileOperation(func() error {
		return os.Rename(r.Path, backup)
	}, defaultRetryCount, defaultRetryDelay); err != nil {
		return fmt.Errorf("runlog: rename to backup: %w", err)
	}

	mode := r.FileMode
	if mode == 0 {
		mode = defaultFileMode
	}
	var f *os.File
	if err := fsutil.RetryFileOperation(func() error {
		var err error
		f, err = os.OpenFile(r.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, mode)
		return err
	}, defaultRetryCount, defaultRetryDelay); err != nil {
		return fmt.Errorf("runlog: create new file after rotate: %w", err)
	}
	r.file = f
	r.size = 0

	if r.Compress {
		go r.compress(backup)
	} else {
		go r.cleanupOldBackups()
	}
	return nil
}

func (r *RunLog) compress(backup string) {
	defer r.cleanupOldBackups()

	src, err := os.Open(backup)
	if err != nil {
		return
	}
	defer src.Close()

	tmp := backup + ".gz.tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(tmp)
		return
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, backup+".gz"); err != nil {
		os.Remove(tmp)
		return
	}
	os.Remove(backup)
}

func (r *RunLog) cleanupOldBackups() {
	if r.MaxBackups <= 0 {
		return
	}
	matches, err := filepath.Glob(r.Path + ".*")
	if err != nil {
		return
	}

	type backupFile struct {
		name    string
		modTime time.Time
	}
	var files []backupFile
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, backupFile{m, info.ModTime()})
	}
	if len(files) <= r.MaxBackups {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files[:len(files)-r.MaxBackups] {
		os.Remove(f.name)
	}
}
