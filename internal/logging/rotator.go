package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const megabyte = 1 << 20

// FileRotator is the io.Writer behind file output. The active file is
// renamed to name-<timestamp>.ext when the next write would push it past
// MaxSize or when the local date changes. Archives are gzipped when Compress
// is set and pruned to MaxBackups files no older than MaxAge days.
type FileRotator struct {
	path       string
	maxBytes   int64
	maxAge     int
	maxBackups int
	compress   bool

	mu     sync.Mutex
	file   *os.File
	size   int64
	opened time.Time
	now    func() time.Time

	// archive work running after a rotation
	bg sync.WaitGroup
}

// NewFileRotator opens cfg.FilePath for appending, creating its directory.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{
		path:       cfg.FilePath,
		maxBytes:   cfg.MaxSize * megabyte,
		maxAge:     cfg.MaxAge,
		maxBackups: cfg.MaxBackups,
		compress:   cfg.Compress,
		now:        time.Now,
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := r.reopen(); err != nil {
		return nil, err
	}
	return r, nil
}

// reopen opens the active path; callers hold mu or own r exclusively.
func (r *FileRotator) reopen() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file, r.size, r.opened = f, st.Size(), r.now()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.reopen(); err != nil {
			return 0, err
		}
	}
	if r.due(len(p)) {
		if err := r.rotateLocked(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) due(pending int) bool {
	if r.size == 0 {
		return false
	}
	if r.maxBytes > 0 && r.size+int64(pending) > r.maxBytes {
		return true
	}
	y1, m1, d1 := r.opened.Date()
	y2, m2, d2 := r.now().Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func (r *FileRotator) rotateLocked() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	stem, ext := r.split()
	archive := filepath.Join(filepath.Dir(r.path),
		stem+"-"+r.now().Format("20060102-150405.000")+ext)
	if err := os.Rename(r.path, archive); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}
	if err := r.reopen(); err != nil {
		return err
	}

	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		if r.compress {
			if err := gzipFile(archive); err == nil {
				os.Remove(archive)
			}
		}
		r.prune()
	}()
	return nil
}

func (r *FileRotator) split() (stem, ext string) {
	base := filepath.Base(r.path)
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

// archives lists rotated files, compressed or not.
func (r *FileRotator) archives() ([]string, error) {
	stem, ext := r.split()
	return filepath.Glob(filepath.Join(filepath.Dir(r.path), stem+"-*"+ext+"*"))
}

func gzipFile(src string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dst := src + ".gz"
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	zw := gzip.NewWriter(out)
	zw.Name = filepath.Base(src)
	if _, err = io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (r *FileRotator) prune() {
	paths, err := r.archives()
	if err != nil || len(paths) == 0 {
		return
	}

	type archive struct {
		path string
		mod  time.Time
	}
	list := make([]archive, 0, len(paths))
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil {
			list = append(list, archive{p, st.ModTime()})
		}
	}
	slices.SortFunc(list, func(a, b archive) int { return b.mod.Compare(a.mod) })

	oldest := r.now().AddDate(0, 0, -r.maxAge)
	for i, a := range list {
		if (r.maxBackups > 0 && i >= r.maxBackups) || (r.maxAge > 0 && a.mod.Before(oldest)) {
			os.Remove(a.path)
		}
	}
}

// Close waits for archive work and closes the active file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bg.Wait()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Sync commits the active file to disk.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Files lists the active file first, then archives.
func (r *FileRotator) Files() ([]string, error) {
	paths, err := r.archives()
	return append([]string{r.path}, paths...), err
}
