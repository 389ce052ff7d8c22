package logstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS log_records (
	channel TEXT NOT NULL,
	pos     INTEGER NOT NULL,
	line    TEXT NOT NULL,
	PRIMARY KEY (channel, pos)
);`

// SQLiteStore keeps channel logs as rows in a single SQLite database. Offsets
// follow the same byte arithmetic as FileStore, so a log exported line by
// line reproduces the file layout exactly.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.Mutex
	tails  map[string]int64
	closed bool
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite log store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite log store: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite log store initialized")

	return &SQLiteStore{
		db:    db,
		tails: make(map[string]int64),
	}, nil
}

// tail returns the next free offset for channel. Caller holds s.mu.
func (s *SQLiteStore) tail(ctx context.Context, channel string) (int64, error) {
	if off, ok := s.tails[channel]; ok {
		return off, nil
	}

	var pos, size sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT pos, length(CAST(line AS BLOB)) FROM log_records WHERE channel = ? ORDER BY pos DESC LIMIT 1`,
		channel,
	).Scan(&pos, &size)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.tails[channel] = 0
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to load channel tail: %w", err)
	}

	next := pos.Int64 + size.Int64 + 1
	s.tails[channel] = next
	return next, nil
}

// Append inserts rec and returns its offset.
func (s *SQLiteStore) Append(ctx context.Context, channel string, rec Record) (int64, error) {
	if err := ValidateChannel(channel); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	offset, err := s.tail(ctx, channel)
	if err != nil {
		return 0, err
	}

	line := FormatLine(rec)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO log_records (channel, pos, line) VALUES (?, ?, ?)`,
		channel, offset, line,
	); err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}

	s.tails[channel] = offset + lineSize(line)
	return offset, nil
}

// ReadFrom streams rows at or after offset up to the tail observed when
// iteration starts.
func (s *SQLiteStore) ReadFrom(ctx context.Context, channel string, offset int64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if offset < 0 {
			yield(Entry{Offset: offset}, ErrNegativeOffset)
			return
		}
		if err := ValidateChannel(channel); err != nil {
			yield(Entry{Offset: offset}, err)
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			yield(Entry{Offset: offset}, ErrClosed)
			return
		}
		end, err := s.tail(ctx, channel)
		s.mu.Unlock()
		if err != nil {
			yield(Entry{Offset: offset}, err)
			return
		}
		if offset >= end {
			return
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT pos, line FROM log_records WHERE channel = ? AND pos >= ? AND pos < ? ORDER BY pos`,
			channel, offset, end,
		)
		if err != nil {
			yield(Entry{Offset: offset}, fmt.Errorf("failed to query channel log: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var entry Entry
			if err := rows.Scan(&entry.Offset, &entry.Line); err != nil {
				yield(entry, fmt.Errorf("failed to scan record: %w", err))
				return
			}
			rec, err := ParseLine(entry.Line)
			entry.Record = rec
			if err != nil {
				yield(entry, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Entry{Offset: offset}, fmt.Errorf("failed to read channel log: %w", err))
		}
	}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
