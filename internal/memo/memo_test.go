package memo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetCachesAndRecomputesAfterTTL(t *testing.T) {
	var calls int
	var mu sync.Mutex
	awaySet := map[string]bool{"alice": true, "bob": false}

	fn := func(nick string) bool {
		mu.Lock()
		calls++
		mu.Unlock()
		return awaySet[nick]
	}

	b := New(fn, 50*time.Millisecond, 20*time.Millisecond)

	assert.True(t, b.Get("alice"))
	assert.False(t, b.Get("bob"))
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()

	// within TTL, cached
	b.Get("alice")
	b.Get("bob")
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()

	time.Sleep(25 * time.Millisecond)
	b.Get("bob") // false TTL expired, recomputes
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()

	b.Get("alice") // true TTL not yet expired
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestInvalidateForcesRecompute(t *testing.T) {
	var calls int
	b := New(func(string) bool { calls++; return true }, time.Hour, time.Hour)
	b.Get("x")
	b.Get("x")
	assert.Equal(t, 1, calls)
	b.Invalidate("x")
	b.Get("x")
	assert.Equal(t, 2, calls)
}

func TestClearForcesRecomputeForAllKeys(t *testing.T) {
	var calls int
	b := New(func(string) bool { calls++; return true }, time.Hour, time.Hour)
	b.Get("x")
	b.Get("y")
	assert.Equal(t, 2, calls)
	b.Clear()
	b.Get("x")
	b.Get("y")
	assert.Equal(t, 4, calls)
}
