package daemon

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/harun/chatrelay/pkg/hub"
	"github.com/harun/chatrelay/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHubs struct {
	mu    sync.Mutex
	calls int
	stats []hub.Stats
}

func (f *fakeHubs) Stats() []hub.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stats
}

func (f *fakeHubs) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSessions int

func (f fakeSessions) Sessions() int { return int(f) }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStatsReporter_Report(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	require.True(t, reg.TryRegister("alice", "general"))

	hubs := &fakeHubs{stats: []hub.Stats{
		{Channel: "general", Subscribers: 1, LastOffset: 42, Appended: 1},
		{Channel: "tech", Dead: true, Error: "disk full"},
	}}

	var out syncBuffer
	r := NewStatsReporter(hubs, reg, fakeSessions(3), zerolog.New(&out))
	r.Report()

	logged := out.String()
	assert.Contains(t, logged, `"connections":3`)
	assert.Contains(t, logged, `"joined":1`)
	assert.Contains(t, logged, `"channel":"general"`)
	assert.Contains(t, logged, `"last_offset":42`)
	assert.Contains(t, logged, `"level":"warn"`)
	assert.Contains(t, logged, `"error":"disk full"`)
}

func TestStatsReporter_Schedule(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	hubs := &fakeHubs{}

	r := NewStatsReporter(hubs, reg, fakeSessions(0), zerolog.Nop())
	require.NoError(t, r.Start(time.Second))
	assert.Error(t, r.Start(time.Second))

	require.Eventually(t, func() bool { return hubs.Calls() > 0 }, 3*time.Second, 50*time.Millisecond)

	r.Stop()
	calls := hubs.Calls()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, calls, hubs.Calls())

	// stopping an idle reporter is a no-op
	r.Stop()
}

func TestStatsReporter_Disabled(t *testing.T) {
	reg := registry.New()
	defer reg.Close()

	r := NewStatsReporter(&fakeHubs{}, reg, fakeSessions(0), zerolog.Nop())
	require.NoError(t, r.Start(0))
	assert.Nil(t, r.scheduler)
	r.Stop()
}
