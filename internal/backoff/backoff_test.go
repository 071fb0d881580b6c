package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedAlwaysReturnsSameDelay(t *testing.T) {
	f := NewFixed(5 * time.Second)
	for i := 0; i < 5; i++ {
		d, ok := f.Next()
		assert.True(t, ok)
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestExponentialGrowsAndCaps(t *testing.T) {
	e := &Exponential{Initial: time.Second, Multiplier: 2, Max: 10 * time.Second, Jitter: false}
	d1, _ := e.Next()
	d2, _ := e.Next()
	d3, _ := e.Next()
	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 2*time.Second, d2)
	assert.Equal(t, 4*time.Second, d3)

	for i := 0; i < 10; i++ {
		d, _ := e.Next()
		assert.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestExponentialResetRestartsSequence(t *testing.T) {
	e := &Exponential{Initial: time.Second, Multiplier: 2, Max: 0, Jitter: false}
	e.Next()
	e.Next()
	e.Reset()
	d, _ := e.Next()
	assert.Equal(t, time.Second, d)
}

func TestExponentialMaxAttemptGivesUp(t *testing.T) {
	e := &Exponential{Initial: time.Millisecond, Multiplier: 2, MaxAttempt: 2}
	_, ok1 := e.Next()
	_, ok2 := e.Next()
	_, ok3 := e.Next()
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}
