package cli

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/harun/chatrelay/internal/config"
	"github.com/harun/chatrelay/internal/daemon"
	"github.com/harun/chatrelay/pkg/hub"
	"github.com/harun/chatrelay/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := runCLI(t, "status", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "status")
	})

	t.Run("stopped", func(t *testing.T) {
		path, _ := writeConfig(t, nil)

		out, err := runCLI(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})

	t.Run("running with stats", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/stats", r.URL.Path)
			_ = json.NewEncoder(w).Encode(relay.StatsResponse{
				Connections: 2,
				Hubs: []hub.Stats{
					{Channel: "general", Subscribers: 2, LastOffset: 120, Appended: 3},
					{Channel: "tech", Dead: true, Error: "disk full"},
				},
			})
		}))
		defer srv.Close()

		host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
		require.NoError(t, err)
		portNum, err := strconv.Atoi(port)
		require.NoError(t, err)

		path, cfg := writeConfig(t, func(c *config.Config) {
			c.Server.Host = host
			c.Server.Port = portNum
		})
		require.NoError(t, os.MkdirAll(cfg.DataDir, 0755))
		require.NoError(t, os.WriteFile(daemon.PIDFilePath(cfg.DataDir), []byte(strconv.Itoa(os.Getpid())), 0644))

		out, err := runCLI(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, out, "Connections: 2")
		assert.Contains(t, out, "last_offset=120")
		assert.Contains(t, out, "dead: disk full")
	})

	t.Run("running without reachable stats", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		path, cfg := writeConfig(t, func(c *config.Config) {
			c.Server.Host = "127.0.0.1"
			c.Server.Port = port
		})
		require.NoError(t, os.MkdirAll(cfg.DataDir, 0755))
		require.NoError(t, os.WriteFile(daemon.PIDFilePath(cfg.DataDir), []byte(strconv.Itoa(os.Getpid())), 0644))

		out, err := runCLI(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "Stats: unavailable")
	})
}

func TestStatsURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:1337/stats", statsURL(config.ServerConfig{Host: "0.0.0.0", Port: 1337}))
	assert.Equal(t, "http://127.0.0.1:80/stats", statsURL(config.ServerConfig{Port: 80}))
	assert.Equal(t, "http://[::1]:9000/stats", statsURL(config.ServerConfig{Host: "::1", Port: 9000}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
