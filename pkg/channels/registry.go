package channels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Set is the enumerable channel set known at startup. It is immutable once
// constructed and safe for concurrent use.
type Set struct {
	byID map[string]Channel
	ids  []string
}

// NewSet builds a channel set from an id -> display name map.
func NewSet(names map[string]string) (*Set, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	byID := make(map[string]Channel, len(names))
	for id, display := range names {
		if err := ValidateID(id); err != nil {
			return nil, err
		}
		display = strings.TrimSpace(display)
		if display == "" {
			display = id
		}
		byID[id] = Channel{ID: id, DisplayName: display}
	}

	ids := lo.Keys(byID)
	sort.Strings(ids)

	return &Set{byID: byID, ids: ids}, nil
}

// MustNewSet is NewSet for static inputs; it panics on error.
func MustNewSet(names map[string]string) *Set {
	s, err := NewSet(names)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup returns the channel with the given id.
func (s *Set) Lookup(id string) (Channel, bool) {
	ch, ok := s.byID[id]
	return ch, ok
}

// Contains reports whether id names a configured channel.
func (s *Set) Contains(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// DisplayName returns the human-readable name, or "" for unknown ids.
func (s *Set) DisplayName(id string) string {
	return s.byID[id].DisplayName
}

// IDs returns the sorted channel ids.
func (s *Set) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// All returns every channel ordered by id.
func (s *Set) All() []Channel {
	return lo.Map(s.ids, func(id string, _ int) Channel {
		return s.byID[id]
	})
}

// Len returns the number of channels.
func (s *Set) Len() int {
	return len(s.ids)
}
