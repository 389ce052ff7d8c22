package cli

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/harun/chatrelay/internal/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ErrNotRunning is returned by stop when no live relay owns the PID file.
var ErrNotRunning = errors.New("chatrelay is not running")

var (
	stopTimeout int
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running chat relay",
	Long: `Stop a running chat relay gracefully.
Sends SIGTERM to the process named in the PID file and waits for it to shut down.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for the relay to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lm := daemon.NewLifecycleManager(cfg.DataDir, zerolog.Nop())
	if !lm.IsRunning() {
		return ErrNotRunning
	}
	pid, err := lm.GetPID()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal own process %d", pid)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	out := cmd.OutOrStdout()
	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !lm.IsRunning() {
			fmt.Fprintln(out, "Relay stopped successfully")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Force kill if timeout
	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	_ = lm.Stop()
	fmt.Fprintln(out, "Relay killed")
	return nil
}
