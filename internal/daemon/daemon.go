package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/harun/chatrelay/internal/config"
	"github.com/harun/chatrelay/internal/logger"
	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/channels"
	"github.com/harun/chatrelay/pkg/hub"
	"github.com/harun/chatrelay/pkg/logstore"
	"github.com/harun/chatrelay/pkg/protocol"
	"github.com/harun/chatrelay/pkg/registry"
	"github.com/harun/chatrelay/pkg/relay"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Status represents daemon status
type Status struct {
	Running   bool          `json:"running"`
	Addr      string        `json:"addr,omitempty"`
	StartTime time.Time     `json:"startTime,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Sessions  int           `json:"sessions"`
	Joined    int           `json:"joined"`
}

// Daemon owns every long-lived component of a relay process.
type Daemon struct {
	config *config.Config
	logger zerolog.Logger

	channels  *channels.Set
	store     logstore.Store
	registry  *registry.Registry
	hubs      *hub.Manager
	server    *relay.Server
	reporter  *StatsReporter
	lifecycle *LifecycleManager

	mu        sync.RWMutex
	running   bool
	stopped   bool
	startTime time.Time
	addr      net.Addr
	ready     chan struct{}

	tracingEnabled bool
	auditEnabled   bool
}

// New creates a daemon from a validated configuration.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := &Daemon{
		config: cfg,
		logger: log.Component("daemon"),
		ready:  make(chan struct{}),
	}

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("chatrelay"); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		d.tracingEnabled = true
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			d.logger.Warn().Err(err).Str("path", cfg.Logging.AuditFile).Msg("Failed to initialize audit logger")
		} else {
			d.auditEnabled = true
			d.logger.Info().Str("path", cfg.Logging.AuditFile).Msg("Audit logger initialized")
		}
	}

	if err := d.initialize(log); err != nil {
		d.release()
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(cfg.DataDir, d.logger)
	return d, nil
}

func (d *Daemon) initialize(log *logger.Logger) error {
	set, err := d.config.ChannelSet()
	if err != nil {
		return fmt.Errorf("invalid channels: %w", err)
	}
	d.channels = set

	store, err := logstore.Open(d.config.Store.Driver, d.config.DataDir, logstore.Options{Sync: d.config.Store.Sync})
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	d.store = store
	d.logger.Info().
		Str("driver", d.config.Store.Driver).
		Str("dir", d.config.DataDir).
		Msg("Log store opened")

	d.registry = registry.New()

	hubs, err := hub.NewManager(hub.ManagerConfig{
		Channels: set,
		Store:    store,
		Registry: d.registry,
		Options: hub.Options{
			SubscriberBuffer: d.config.Hub.SubscriberBuffer,
			QueueSize:        d.config.Hub.QueueSize,
		},
		Logger: log.Component("hub"),
	})
	if err != nil {
		return fmt.Errorf("failed to create hub manager: %w", err)
	}
	d.hubs = hubs

	codec, err := protocol.NewCodec(d.config.Protocol.MaxMessageLength)
	if err != nil {
		return fmt.Errorf("failed to create protocol codec: %w", err)
	}

	server, err := relay.NewServer(relay.Config{
		Path:        d.config.Server.Path,
		ReadLimit:   d.config.Server.ReadLimit,
		IdleTimeout: d.config.Server.IdleTimeout,
		Channels:    set,
		Hubs:        hubs,
		Codec:       codec,
		Logger:      log.Component("relay"),
	})
	if err != nil {
		return fmt.Errorf("failed to create relay server: %w", err)
	}
	d.server = server

	d.reporter = NewStatsReporter(hubs, d.registry, server, log.Component("stats"))
	return nil
}

// release closes what New opened when startup fails part way.
func (d *Daemon) release() {
	if d.hubs != nil {
		d.hubs.Close()
	}
	if d.registry != nil {
		d.registry.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	d.closeObservability()
}

func (d *Daemon) closeObservability() {
	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
	if d.auditEnabled {
		if err := observability.CloseAuditLogger(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close audit logger")
		}
		d.auditEnabled = false
	}
}

// Run serves until ctx is cancelled, then shuts every component down in
// reverse dependency order. It returns the first serve or shutdown error.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon cannot be restarted")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.With().Str("trace_id", traceID).Logger()
	log.Info().Int("channels", d.channels.Len()).Msg("Starting chatrelay daemon")

	addr := net.JoinHostPort(d.config.Server.Host, strconv.Itoa(d.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		d.setStopped()
		d.release()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if err := d.lifecycle.Start(); err != nil {
		_ = ln.Close()
		d.setStopped()
		d.release()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.reporter.Start(d.config.Stats.Interval); err != nil {
		_ = ln.Close()
		_ = d.lifecycle.Stop()
		d.setStopped()
		d.release()
		return fmt.Errorf("failed to start stats reporter: %w", err)
	}

	d.mu.Lock()
	d.addr = ln.Addr()
	d.mu.Unlock()
	close(d.ready)

	log.Info().Str("addr", ln.Addr().String()).Msg("Daemon started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		return d.shutdown(log)
	})

	err = g.Wait()
	d.setStopped()
	if err != nil {
		log.Error().Err(err).Msg("Daemon stopped with error")
		return err
	}
	log.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) shutdown(log zerolog.Logger) error {
	log.Info().Msg("Stopping chatrelay daemon")

	var errs []error

	timeout := d.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := d.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("relay server: %w", err))
	}
	cancel()

	d.reporter.Stop()
	d.hubs.Close()
	d.registry.Close()

	if err := d.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("log store: %w", err))
	}
	if err := d.lifecycle.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle: %w", err))
	}
	d.closeObservability()

	return errors.Join(errs...)
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.stopped = true
	d.mu.Unlock()
}

// Ready is closed once the listener is bound.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the bound listener address, or nil before Run binds it.
func (d *Daemon) Addr() net.Addr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addr
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.server.Sessions(),
		Joined:   d.registry.Len(),
	}
	if d.addr != nil {
		status.Addr = d.addr.String()
	}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}
	return status
}

// Wait runs the daemon until SIGINT or SIGTERM.
func (d *Daemon) Wait() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

// Config returns the daemon configuration
func (d *Daemon) Config() *config.Config {
	return d.config
}
