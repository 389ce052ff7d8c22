package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/chatrelay/internal/config"
	"github.com/harun/chatrelay/internal/logger"
	"github.com/harun/chatrelay/pkg/logstore"
	"github.com/harun/chatrelay/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Stats.Interval = 0
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

type running struct {
	d      *Daemon
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startDaemon(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{d: d, cancel: cancel, done: make(chan struct{})}
	go func() {
		r.err = d.Run(ctx)
		close(r.done)
	}()

	select {
	case <-d.Ready():
	case <-r.done:
		t.Fatalf("daemon exited early: %v", r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
		}
	})
	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case <-r.done:
		return r.err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func dialRelay(t *testing.T, addr net.Addr, channel, handle string) *websocket.Conn {
	t.Helper()
	u := fmt.Sprintf("ws://%s/?channel=%s&handle=%s", addr, channel, handle)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readChat(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.DecodeEnvelope(data)
	require.NoError(t, err)
	require.True(t, env.Success, env.Message)
	require.NotNil(t, env.Data)
	return env.Data.Message
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testLogger(t))
	assert.Error(t, err)

	_, err = New(testConfig(t), nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Store.Driver = "tape"
	_, err = New(cfg, testLogger(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Channels = map[string]string{"Bad Id": "x"}
	_, err = New(cfg, testLogger(t))
	assert.Error(t, err)
}

func TestDaemon_RunServesAndStops(t *testing.T) {
	cfg := testConfig(t)
	r := startDaemon(t, cfg)

	status := r.d.Status()
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.Addr)

	pid, err := ReadPID(PIDFilePath(cfg.DataDir))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	conn := dialRelay(t, r.d.Addr(), "general", "alice")
	assert.True(t, strings.HasSuffix(readChat(t, conn), "System: alice has joined the chat"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","handle":"alice","message":"hello"}`)))
	assert.True(t, strings.HasSuffix(readChat(t, conn), "alice: hello"))

	require.Eventually(t, func() bool { return r.d.Status().Joined == 1 }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, r.stop(t))

	// the server closes the connection with a shutdown reason
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	assert.False(t, r.d.Status().Running)
	_, err = os.Stat(PIDFilePath(cfg.DataDir))
	assert.True(t, os.IsNotExist(err))

	err = r.d.Run(context.Background())
	assert.Error(t, err)
}

func TestDaemon_LogSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)

	first := startDaemon(t, cfg)
	conn := dialRelay(t, first.d.Addr(), "tech", "bob")
	readChat(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","handle":"bob","message":"persisted"}`)))
	readChat(t, conn)
	require.NoError(t, first.stop(t))

	second := startDaemon(t, cfg)
	conn = dialRelay(t, second.d.Addr(), "tech", "carol")

	var lines []string
	for len(lines) < 4 {
		lines = append(lines, readChat(t, conn))
	}
	assert.True(t, strings.HasSuffix(lines[0], "System: bob has joined the chat"))
	assert.True(t, strings.HasSuffix(lines[1], "bob: persisted"))
	assert.True(t, strings.HasSuffix(lines[2], "System: bob has left the chat"))
	assert.True(t, strings.HasSuffix(lines[3], "System: carol has joined the chat"))
}

func TestDaemon_SQLiteDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = logstore.DriverSQLite

	r := startDaemon(t, cfg)
	conn := dialRelay(t, r.d.Addr(), "general", "dave")
	assert.True(t, strings.HasSuffix(readChat(t, conn), "System: dave has joined the chat"))
	require.NoError(t, r.stop(t))
}

func TestDaemon_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)

	err = d.Run(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.False(t, d.Status().Running)
}

func TestDaemon_ConfiguredMessageLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Protocol.MaxMessageLength = 5

	r := startDaemon(t, cfg)
	conn := dialRelay(t, r.d.Addr(), "general", "erin")
	readChat(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","handle":"erin","message":"too long"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.DecodeEnvelope(data)
	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Equal(t, protocol.ReasonTooLong, env.Message)
}
