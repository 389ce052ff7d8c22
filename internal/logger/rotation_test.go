package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates directory and file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "relay.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		_, err := NewRotatingWriter(filepath.Join(t.TempDir(), "relay.log"), 0, 7, false)
		assert.Error(t, err)
	})
}

func TestRotatingWriter_Rotates(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "relay.log")

	rw, err := newRotatingWriter(logFile, 64, 0, false)
	require.NoError(t, err)

	line := []byte(strings.Repeat("x", 39) + "\n")
	for i := 0; i < 3; i++ {
		n, err := rw.Write(line)
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}
	require.NoError(t, rw.Close())

	rotated, err := rw.Rotated()
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, line, current)
}

func TestRotatingWriter_Compresses(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "relay.log")

	rw, err := newRotatingWriter(logFile, 16, 0, true)
	require.NoError(t, err)

	_, err = rw.Write([]byte("first line here\n"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	rotated, err := rw.Rotated()
	require.NoError(t, err)
	require.Len(t, rotated, 1)
	require.True(t, strings.HasSuffix(rotated[0], ".gz"))

	f, err := os.Open(rotated[0])
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "first line here\n", string(data))
}

func TestRotatingWriter_RemovesExpired(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "relay.log")

	old := logFile + ".20000101-000000.000000000"
	require.NoError(t, os.WriteFile(old, []byte("old\n"), 0644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	recent := logFile + ".20990101-000000.000000000"
	require.NoError(t, os.WriteFile(recent, []byte("recent\n"), 0644))

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recent)
	assert.NoError(t, err)
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "relay.log")

	rw, err := newRotatingWriter(logFile, 1024, 0, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := rw.Write([]byte("0123456789abcdef\n"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, rw.Close())

	files, err := rw.Rotated()
	require.NoError(t, err)
	files = append(files, logFile)

	var total int
	for _, path := range files {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		total += len(data)
	}
	assert.Equal(t, 8*50*17, total)
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "relay.log"), 1, 0, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
