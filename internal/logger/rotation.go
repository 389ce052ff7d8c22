package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const rotatedSuffixLayout = "20060102-150405.000000000"

// RotatingWriter is a size-capped log file. When a write would take the
// file over its limit the file is renamed with a timestamp suffix, optionally
// gzipped, and a fresh file is opened. Rotated files older than maxAge days
// are removed. Safe for concurrent use.
type RotatingWriter struct {
	filename string
	maxSize  int64
	maxAge   int
	compress bool
	now      func() time.Time

	mu   sync.Mutex
	file *os.File
	size int64

	background sync.WaitGroup
}

// NewRotatingWriter opens filename for appending, rotating at maxSizeMB.
func NewRotatingWriter(filename string, maxSizeMB int, maxAge int, compress bool) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("max size must be positive, got %d", maxSizeMB)
	}
	return newRotatingWriter(filename, int64(maxSizeMB)*1024*1024, maxAge, compress)
}

func newRotatingWriter(filename string, maxBytes int64, maxAge int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		filename: filename,
		maxSize:  maxBytes,
		maxAge:   maxAge,
		compress: compress,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	w.background.Add(1)
	go func() {
		defer w.background.Done()
		w.removeExpired()
	}()

	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first if p would not fit. A single write larger
// than the limit still goes to one file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file and waits for pending compression.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.background.Wait()
	return err
}

// rotate must be called with mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	rotated := w.rotatedName()
	if err := os.Rename(w.filename, rotated); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}

	w.background.Add(1)
	go func() {
		defer w.background.Done()
		if w.compress {
			_ = compressFile(rotated)
		}
		w.removeExpired()
	}()

	return nil
}

func (w *RotatingWriter) rotatedName() string {
	base := w.filename + "." + w.now().Format(rotatedSuffixLayout)
	name := base
	for i := 1; ; i++ {
		_, errPlain := os.Stat(name)
		_, errGz := os.Stat(name + ".gz")
		if os.IsNotExist(errPlain) && os.IsNotExist(errGz) {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

// Rotated lists rotated files, oldest first.
func (w *RotatingWriter) Rotated() ([]string, error) {
	files, err := filepath.Glob(w.filename + ".*")
	if err != nil {
		return nil, err
	}
	// Suffixes are fixed-width timestamps so lexical order is age order.
	return files, nil
}

func (w *RotatingWriter) removeExpired() {
	if w.maxAge <= 0 {
		return
	}

	files, err := w.Rotated()
	if err != nil {
		return
	}

	cutoff := w.now().AddDate(0, 0, -w.maxAge)
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

func compressFile(path string) error {
	if strings.HasSuffix(path, ".gz") {
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
