package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_TryRegister(t *testing.T) {
	r := New()

	assert.True(t, r.TryRegister("Alice", "general"))
	assert.False(t, r.TryRegister("Alice", "general"))

	// Same handle in another channel and another handle in the same channel
	// are independent keys.
	assert.True(t, r.TryRegister("Alice", "tech"))
	assert.True(t, r.TryRegister("Bob", "general"))

	assert.Equal(t, 3, r.Len())
	assert.True(t, r.IsRegistered("Alice", "general"))
	assert.False(t, r.IsRegistered("Carol", "general"))
}

func TestRegistry_UnregisterFreesKey(t *testing.T) {
	r := New()

	require.True(t, r.TryRegister("Alice", "general"))
	r.Unregister("Alice", "general")
	r.Unregister("Alice", "general")

	assert.Equal(t, 0, r.Len())
	assert.True(t, r.TryRegister("Alice", "general"))
}

func TestRegistry_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	r := New()

	const contenders = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if r.TryRegister("Alice", "general") {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Active(t *testing.T) {
	r := New()
	r.TryRegister("bob", "tech")
	r.TryRegister("carol", "general")
	r.TryRegister("alice", "general")

	assert.Equal(t, []Key{
		{Handle: "alice", Channel: "general"},
		{Handle: "carol", Channel: "general"},
		{Handle: "bob", Channel: "tech"},
	}, r.Active())
}

func TestRegistry_Close(t *testing.T) {
	r := New()
	require.True(t, r.TryRegister("Alice", "general"))

	r.Close()

	assert.Equal(t, 0, r.Len())
	ok, err := r.Claim("Alice", "general")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, r.TryRegister("Bob", "general"))
}

func TestRegistry_IndependentInstances(t *testing.T) {
	a, b := New(), New()

	for i := 0; i < 3; i++ {
		require.True(t, a.TryRegister(fmt.Sprintf("user%d", i), "general"))
	}
	assert.True(t, b.TryRegister("user0", "general"))
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 1, b.Len())
}
