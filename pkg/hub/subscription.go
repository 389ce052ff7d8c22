package hub

import (
	"context"
	"sync"

	"github.com/harun/chatrelay/pkg/logstore"
)

// Subscription is one joined (handle, channel) pair's delivery queue. The hub
// pushes entries in append order; the owning session drains them with Next.
type Subscription struct {
	ID      uint64
	Handle  string
	Channel string

	limit int

	mu     sync.Mutex
	queue  []logstore.Entry
	notify chan struct{}
	err    error
	closed bool

	// left is owned by the hub goroutine.
	left bool
}

func newSubscription(id uint64, handle, channel string, limit int) *Subscription {
	return &Subscription{
		ID:      id,
		Handle:  handle,
		Channel: channel,
		limit:   limit,
		notify:  make(chan struct{}, 1),
	}
}

// push queues entry and reports false if the queue is over its limit.
func (s *Subscription) push(entry logstore.Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	if s.limit > 0 && len(s.queue) >= s.limit {
		return false
	}
	s.queue = append(s.queue, entry)
	s.signal()
	return true
}

// close ends the subscription. Entries already queued are still delivered
// before Next reports err.
func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if err == nil {
		err = ErrSubscriptionClosed
	}
	s.closed = true
	s.err = err
	s.signal()
}

// fail is close, but drops anything still queued so a fatal error is
// reported immediately.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if !s.closed {
		s.queue = nil
	}
	s.mu.Unlock()
	s.close(err)
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an entry is available, the subscription is closed, or
// ctx is done.
func (s *Subscription) Next(ctx context.Context) (logstore.Entry, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			entry := s.queue[0]
			s.queue[0] = logstore.Entry{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return entry, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			return logstore.Entry{}, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return logstore.Entry{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Pending returns the number of queued entries.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Err returns the reason the subscription closed, or nil while open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
