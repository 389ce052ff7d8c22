package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/pkg/hub"
	"github.com/harun/chatrelay/pkg/registry"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type hubStatser interface {
	Stats() []hub.Stats
}

type sessionCounter interface {
	Sessions() int
}

// StatsReporter periodically logs hub and session counts and refreshes the
// session gauges.
type StatsReporter struct {
	hubs     hubStatser
	registry *registry.Registry
	sessions sessionCounter
	logger   zerolog.Logger

	mu        sync.Mutex
	scheduler *cron.Cron
}

// NewStatsReporter creates a reporter. Start schedules it.
func NewStatsReporter(hubs hubStatser, reg *registry.Registry, sessions sessionCounter, logger zerolog.Logger) *StatsReporter {
	return &StatsReporter{
		hubs:     hubs,
		registry: reg,
		sessions: sessions,
		logger:   logger,
	}
}

// Start schedules Report every interval. A zero interval disables reporting.
func (r *StatsReporter) Start(interval time.Duration) error {
	if interval <= 0 {
		r.logger.Debug().Msg("Stats reporting disabled")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return fmt.Errorf("stats reporter already started")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+interval.String(), r.Report); err != nil {
		return fmt.Errorf("invalid stats interval %s: %w", interval, err)
	}
	scheduler.Start()
	r.scheduler = scheduler

	r.logger.Info().Dur("interval", interval).Msg("Stats reporter started")
	return nil
}

// Stop cancels the schedule and waits for a running report to finish.
func (r *StatsReporter) Stop() {
	r.mu.Lock()
	scheduler := r.scheduler
	r.scheduler = nil
	r.mu.Unlock()

	if scheduler == nil {
		return
	}
	<-scheduler.Stop().Done()
}

// Report logs one snapshot.
func (r *StatsReporter) Report() {
	joined := r.registry.Len()
	observability.SetActiveSessions(joined)

	stats := r.hubs.Stats()
	r.logger.Info().
		Int("connections", r.sessions.Sessions()).
		Int("joined", joined).
		Int("hubs", len(stats)).
		Msg("Relay stats")

	for _, s := range stats {
		ev := r.logger.Info()
		if s.Dead {
			ev = r.logger.Warn().Str("error", s.Error)
		}
		ev.Str("channel", s.Channel).
			Int("subscribers", s.Subscribers).
			Int64("last_offset", s.LastOffset).
			Uint64("appended", s.Appended).
			Bool("dead", s.Dead).
			Msg("Hub stats")
	}
}
