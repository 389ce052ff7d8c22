// Package registry tracks which (handle, channel) pairs are currently joined.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrClosed is returned when registering against a closed registry.
var ErrClosed = errors.New("session registry is closed")

// Key identifies one active session.
type Key struct {
	Handle  string
	Channel string
}

// Registry holds the active-session key set. At most one entry exists per
// Key at any instant. Construct one per process (or per test) with New.
type Registry struct {
	mu     sync.Mutex
	active map[Key]struct{}
	closed bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		active: make(map[Key]struct{}),
	}
}

// TryRegister claims (handle, channel) and reports whether the claim
// succeeded. The presence check and the insert happen under one lock.
func (r *Registry) TryRegister(handle, channel string) bool {
	ok, _ := r.Claim(handle, channel)
	return ok
}

// Claim is TryRegister with the closed-registry case surfaced as an error.
func (r *Registry) Claim(handle, channel string) (bool, error) {
	key := Key{Handle: handle, Channel: channel}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}
	if _, exists := r.active[key]; exists {
		return false, nil
	}
	r.active[key] = struct{}{}
	return true, nil
}

// Unregister releases (handle, channel). Releasing an absent key is a no-op.
func (r *Registry) Unregister(handle, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, Key{Handle: handle, Channel: channel})
}

// IsRegistered reports whether (handle, channel) is currently claimed.
func (r *Registry) IsRegistered(handle, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.active[Key{Handle: handle, Channel: channel}]
	return ok
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.active)
}

// Active returns the claimed keys ordered by channel then handle.
func (r *Registry) Active() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.active))
	for key := range r.active {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Channel != keys[j].Channel {
			return keys[i].Channel < keys[j].Channel
		}
		return keys[i].Handle < keys[j].Handle
	})
	return keys
}

// Close drops every entry and refuses further claims.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.active = make(map[Key]struct{})
}
