package cli

import (
	"os"
	"os/exec"
	"strconv"
	"testing"

	"github.com/harun/chatrelay/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := runCLI(t, "stop", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "gracefully")
		assert.Contains(t, out, "--timeout")
	})

	t.Run("not running", func(t *testing.T) {
		path, _ := writeConfig(t, nil)

		_, err := runCLI(t, "stop", "--config", path)
		require.ErrorIs(t, err, ErrNotRunning)
	})

	t.Run("refuses own process", func(t *testing.T) {
		path, cfg := writeConfig(t, nil)
		require.NoError(t, os.MkdirAll(cfg.DataDir, 0755))
		require.NoError(t, os.WriteFile(daemon.PIDFilePath(cfg.DataDir), []byte(strconv.Itoa(os.Getpid())), 0644))

		_, err := runCLI(t, "stop", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "refusing")
	})

	t.Run("terminates process", func(t *testing.T) {
		sleeper := exec.Command("sleep", "30")
		if err := sleeper.Start(); err != nil {
			t.Skipf("sleep unavailable: %v", err)
		}
		exited := make(chan struct{})
		go func() {
			_ = sleeper.Wait()
			close(exited)
		}()
		defer func() { _ = sleeper.Process.Kill() }()

		path, cfg := writeConfig(t, nil)
		require.NoError(t, os.MkdirAll(cfg.DataDir, 0755))
		require.NoError(t, os.WriteFile(daemon.PIDFilePath(cfg.DataDir), []byte(strconv.Itoa(sleeper.Process.Pid)), 0644))

		out, err := runCLI(t, "stop", "--config", path, "--timeout", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "Relay stopped successfully")
		<-exited
	})
}
