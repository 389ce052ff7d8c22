package logstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("log store is closed")

	// ErrNegativeOffset is returned when a read starts before the log.
	ErrNegativeOffset = errors.New("offset cannot be negative")
)

// Store is a durable, append-only, per-channel record sequence.
type Store interface {
	// Append writes rec at the tail of channel's log and returns its offset.
	Append(ctx context.Context, channel string, rec Record) (int64, error)

	// ReadFrom lazily yields the records at or after offset, ending at the
	// last record written when the read started.
	ReadFrom(ctx context.Context, channel string, offset int64) iter.Seq2[Entry, error]

	Close() error
}

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Options tunes store behaviour.
type Options struct {
	// Sync forces the file backend to fsync after every append.
	Sync bool
}

// Open constructs the store named by driver rooted at dir.
func Open(driver, dir string, opts Options) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(dir, opts)
	case DriverSQLite:
		return OpenSQLite(filepath.Join(dir, "chatrelay.db"))
	default:
		return nil, fmt.Errorf("unknown log store driver %q", driver)
	}
}

// lineSize is the number of bytes a record occupies on disk.
func lineSize(line string) int64 {
	return int64(len(line)) + 1
}

// ValidateChannel rejects channel ids that are unsafe as storage keys.
func ValidateChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("channel cannot be empty")
	}
	for _, r := range channel {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("channel %q contains invalid character %q", channel, r)
		}
	}
	return nil
}
