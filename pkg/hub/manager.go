package hub

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/chatrelay/pkg/channels"
	"github.com/harun/chatrelay/pkg/logstore"
	"github.com/harun/chatrelay/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Options tunes every hub created by a Manager.
type Options struct {
	// SubscriberBuffer caps pending deliveries per subscriber; 0 is unbounded.
	SubscriberBuffer int
	// QueueSize is the hub request queue length.
	QueueSize int
	// Now stamps new records. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		SubscriberBuffer: 1024,
		QueueSize:        64,
		Now:              time.Now,
	}
}

// ManagerConfig holds Manager dependencies.
type ManagerConfig struct {
	Channels *channels.Set
	Store    logstore.Store
	Registry *registry.Registry
	Options  Options
	Logger   zerolog.Logger
}

// Manager owns one Hub per configured channel, created on first use and kept
// for the life of the process.
type Manager struct {
	channels *channels.Set
	store    logstore.Store
	registry *registry.Registry
	opts     Options
	logger   zerolog.Logger

	mu     sync.Mutex
	hubs   map[string]*Hub
	closed bool
}

// NewManager creates a hub manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Channels == nil {
		return nil, fmt.Errorf("channel set is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("log store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}

	opts := cfg.Options
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	if opts.SubscriberBuffer < 0 {
		opts.SubscriberBuffer = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		channels: cfg.Channels,
		store:    cfg.Store,
		registry: cfg.Registry,
		opts:     opts,
		logger:   cfg.Logger,
		hubs:     make(map[string]*Hub),
	}, nil
}

// Get returns the hub for channel, starting it on first reference.
func (m *Manager) Get(channel string) (*Hub, error) {
	if !m.channels.Contains(channel) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrHubClosed
	}
	if h, ok := m.hubs[channel]; ok {
		return h, nil
	}

	h := newHub(channel, m.store, m.registry, m.opts, m.logger)
	m.hubs[channel] = h
	return h, nil
}

// Stats returns a snapshot for every started hub ordered by channel.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	hubs := lo.Values(m.hubs)
	m.mu.Unlock()

	stats := lo.Map(hubs, func(h *Hub, _ int) Stats {
		return h.Stats()
	})
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Channel < stats[j].Channel
	})
	return stats
}

// Close stops every hub. Further Get calls fail with ErrHubClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	hubs := lo.Values(m.hubs)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range hubs {
		wg.Add(1)
		go func(h *Hub) {
			defer wg.Done()
			h.Close()
		}(h)
	}
	wg.Wait()

	m.logger.Info().Int("hubs", len(hubs)).Msg("Hubs stopped")
}
