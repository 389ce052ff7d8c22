package logstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileStore keeps one append-only text file per channel.
type FileStore struct {
	dir  string
	sync bool

	mu     sync.Mutex
	files  map[string]*channelFile
	closed bool
}

type channelFile struct {
	path string

	mu   sync.RWMutex
	f    *os.File
	size int64
}

// NewFileStore creates a file-backed store writing channel_<id>.log files
// into dir.
func NewFileStore(dir string, opts Options) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log.Info().Str("dir", dir).Bool("sync", opts.Sync).Msg("File log store initialized")

	return &FileStore{
		dir:   dir,
		sync:  opts.Sync,
		files: make(map[string]*channelFile),
	}, nil
}

// Path returns the file backing channel.
func (s *FileStore) Path(channel string) string {
	return filepath.Join(s.dir, fmt.Sprintf("channel_%s.log", channel))
}

func (s *FileStore) channel(channel string) (*channelFile, error) {
	if err := ValidateChannel(channel); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if cf, ok := s.files[channel]; ok {
		return cf, nil
	}

	path := s.Path(channel)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat channel log: %w", err)
	}

	cf := &channelFile{path: path, f: f, size: info.Size()}
	s.files[channel] = cf

	log.Debug().Str("channel", channel).Int64("size", cf.size).Msg("Channel log opened")
	return cf, nil
}

// Append writes rec as one line and returns the byte offset it starts at.
func (s *FileStore) Append(ctx context.Context, channel string, rec Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cf, err := s.channel(channel)
	if err != nil {
		return 0, err
	}

	line := FormatLine(rec) + "\n"

	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.f == nil {
		return 0, ErrClosed
	}

	offset := cf.size
	n, err := cf.f.WriteString(line)
	cf.size += int64(n)
	if err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	if n != len(line) {
		return 0, fmt.Errorf("failed to write record: %w", io.ErrShortWrite)
	}

	if s.sync {
		if err := cf.f.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync channel log: %w", err)
		}
	}

	return offset, nil
}

// ReadFrom yields records starting at offset. The end of the sequence is
// fixed when iteration starts, so a line being appended concurrently is never
// observed half-written.
func (s *FileStore) ReadFrom(ctx context.Context, channel string, offset int64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if offset < 0 {
			yield(Entry{Offset: offset}, ErrNegativeOffset)
			return
		}

		cf, err := s.channel(channel)
		if err != nil {
			yield(Entry{Offset: offset}, err)
			return
		}

		cf.mu.RLock()
		end := cf.size
		cf.mu.RUnlock()

		if offset >= end {
			return
		}

		f, err := os.Open(cf.path)
		if err != nil {
			yield(Entry{Offset: offset}, fmt.Errorf("failed to open channel log for reading: %w", err))
			return
		}
		defer f.Close()

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			yield(Entry{Offset: offset}, fmt.Errorf("failed to seek channel log: %w", err))
			return
		}

		r := bufio.NewReader(io.LimitReader(f, end-offset))
		pos := offset
		for {
			if err := ctx.Err(); err != nil {
				yield(Entry{Offset: pos}, err)
				return
			}

			raw, err := r.ReadString('\n')
			if errors.Is(err, io.EOF) {
				if raw != "" {
					yield(Entry{Offset: pos}, fmt.Errorf("%w: unterminated line at offset %d", ErrCorruptRecord, pos))
				}
				return
			}
			if err != nil {
				yield(Entry{Offset: pos}, fmt.Errorf("failed to read channel log: %w", err))
				return
			}

			rec, perr := ParseLine(raw)
			line := raw[:len(raw)-1]
			entry := Entry{Offset: pos, Record: rec, Line: line}
			pos += int64(len(raw))

			if perr != nil {
				yield(entry, perr)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// Close closes every open channel file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for channel, cf := range s.files {
		cf.mu.Lock()
		if err := cf.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close channel log %s: %w", channel, err)
		}
		cf.f = nil
		cf.mu.Unlock()
	}

	return firstErr
}
