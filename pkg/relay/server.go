package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/channels"
	"github.com/harun/chatrelay/pkg/hub"
	"github.com/harun/chatrelay/pkg/protocol"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// DefaultReadLimit caps one inbound frame in bytes.
const DefaultReadLimit int64 = 64 * 1024

// Config holds server configuration.
type Config struct {
	// Path is where websocket clients connect. Defaults to "/".
	Path string
	// ReadLimit caps inbound frames in bytes.
	ReadLimit int64
	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	Channels *channels.Set
	Hubs     *hub.Manager
	Codec    *protocol.Codec
	Logger   zerolog.Logger
}

// Server accepts websocket connections and runs a Session for each.
type Server struct {
	path        string
	readLimit   int64
	idleTimeout time.Duration
	channels    *channels.Set
	hubs        *hub.Manager
	codec       *protocol.Codec
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	mu             sync.Mutex
	sessions       map[string]*Session
	isShuttingDown bool
	httpServer     *http.Server
	wg             sync.WaitGroup
}

// NewServer creates a relay server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Channels == nil {
		return nil, fmt.Errorf("channel set is required")
	}
	if cfg.Hubs == nil {
		return nil, fmt.Errorf("hub manager is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("protocol codec is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("invalid idle timeout: %s", cfg.IdleTimeout)
	}

	return &Server{
		path:        cfg.Path,
		readLimit:   cfg.ReadLimit,
		idleTimeout: cfg.IdleTimeout,
		channels:    cfg.Channels,
		hubs:        cfg.Hubs,
		codec:       cfg.Codec,
		logger:      cfg.Logger.With().Str("component", "relay").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*Session),
	}, nil
}

// Handler returns the HTTP handler serving websocket clients, /metrics,
// /healthz and /stats.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.isShuttingDown {
		s.mu.Unlock()
		_ = ln.Close()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Msg("Starting relay server")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, closes every session and waits for
// them to leave their hubs or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.isShuttingDown = true
	srv := s.httpServer
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.logger.Info().Int("sessions", len(sessions)).Msg("Shutting down relay server")

	var shutdownErr error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}

	failure := protocol.Failure(ReasonShutdown)
	for _, sess := range sessions {
		sess.terminate(&failure, websocket.CloseGoingAway, ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All sessions closed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, sessions still open")
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}

	return shutdownErr
}

// Sessions returns the number of open connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	Connections int         `json:"connections"`
	Hubs        []hub.Stats `json:"hubs"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		Connections: s.Sessions(),
		Hubs:        s.hubs.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode stats")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.isShuttingDown {
		s.mu.Unlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(s.readLimit)

	connID, err := gonanoid.New()
	if err != nil {
		connID = tracing.NewTraceID()
	}
	ctx := tracing.NewConnectionContext(context.WithoutCancel(r.Context()), connID)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	sess := newSession(connID, s, conn, r.URL.Query(), logger)

	s.mu.Lock()
	s.sessions[connID] = sess
	closing := s.isShuttingDown
	s.mu.Unlock()
	observability.ConnectionOpened()

	logger.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	defer func() {
		s.mu.Lock()
		delete(s.sessions, connID)
		s.mu.Unlock()
		observability.ConnectionClosed()
		logger.Info().Msg("Client disconnected")
	}()

	// Shutdown may have taken its session snapshot before this one was added.
	if closing {
		sess.reject(ctx, hub.ErrHubClosed)
		return
	}

	sess.run(ctx)
}
