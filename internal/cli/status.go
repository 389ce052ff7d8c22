package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/harun/chatrelay/internal/config"
	"github.com/harun/chatrelay/internal/daemon"
	"github.com/harun/chatrelay/pkg/relay"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay status",
	Long: `Show whether the chat relay is running and, when it is, the open
connection count and per-channel hub stats it reports.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	lm := daemon.NewLifecycleManager(cfg.DataDir, zerolog.Nop())
	if !lm.IsRunning() {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := lm.GetPID()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	// The PID file is written at startup.
	if info, err := os.Stat(daemon.PIDFilePath(cfg.DataDir)); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	stats, err := fetchStats(ctx, statsURL(cfg.Server))
	if err != nil {
		fmt.Fprintf(out, "Stats: unavailable (%v)\n", err)
		return nil
	}
	printStats(out, stats)
	return nil
}

// statsURL addresses the relay's stats endpoint from the local host.
func statsURL(s config.ServerConfig) string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + "/stats"
}

func fetchStats(ctx context.Context, url string) (*relay.StatsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var stats relay.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("invalid stats response: %w", err)
	}
	return &stats, nil
}

func printStats(w io.Writer, stats *relay.StatsResponse) {
	fmt.Fprintf(w, "Connections: %d\n", stats.Connections)
	for _, h := range stats.Hubs {
		state := "ok"
		if h.Dead {
			state = "dead: " + h.Error
		}
		fmt.Fprintf(w, "  %-16s subscribers=%d last_offset=%d appended=%d %s\n",
			h.Channel, h.Subscribers, h.LastOffset, h.Appended, state)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
