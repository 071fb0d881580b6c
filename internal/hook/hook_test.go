package hook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationOrderAtSamePriority(t *testing.T) {
	r := NewRegistry[int](Signal)
	var order []string
	r.Register("a", "", func(int) error { order = append(order, "a"); return nil })
	r.Register("b", "", func(int) error { order = append(order, "b"); return nil })
	r.Register("c", "", func(int) error { order = append(order, "c"); return nil })

	r.Dispatch(0)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestPriorityOrdering(t *testing.T) {
	r := NewRegistry[int](Signal)
	var order []string
	r.RegisterWithPriority("late", "", func(int) error { order = append(order, "late"); return nil }, 10)
	r.RegisterWithPriority("early", "", func(int) error { order = append(order, "early"); return nil }, -10)
	r.RegisterWithPriority("mid", "", func(int) error { order = append(order, "mid"); return nil }, 0)

	r.Dispatch(0)
	assert.Equal(t, []string{"early", "mid", "late"}, order)
}

// TestUnhookDuringOwnDispatchNoSecondCall verifies property 8: a hook that
// unhooks itself during its own first dispatch must not be dispatched again,
// and the current frame (including its own later statements) still runs.
func TestUnhookDuringOwnDispatchNoSecondCall(t *testing.T) {
	r := NewRegistry[int](Signal)
	calls := 0
	var id ID
	id = r.Register("self-unhook", "", func(int) error {
		calls++
		r.Unhook(id)
		calls++ // the current frame completes after unhooking
		return nil
	})

	r.Dispatch(0)
	require.Equal(t, 2, calls)
	r.Dispatch(0)
	require.Equal(t, 2, calls, "hook must not fire on a later dispatch after unhooking itself")
}

func TestPanicIsolatedAndDispatchContinues(t *testing.T) {
	r := NewRegistry[int](Signal)
	var ranSecond bool
	r.Register("panics", "", func(int) error { panic("boom") })
	r.Register("second", "", func(int) error { ranSecond = true; return nil })

	errsOut := r.Dispatch(0)
	require.NotNil(t, errsOut)
	assert.Contains(t, errsOut["panics"].Error(), "boom")
	assert.True(t, ranSecond, "dispatch must continue to the next subscriber after a panic")
}

func TestErrorIsolatedPerCallback(t *testing.T) {
	r := NewRegistry[int](Signal)
	sentinel := errors.New("fail")
	r.Register("bad", "", func(int) error { return sentinel })
	ranNext := false
	r.Register("good", "", func(int) error { ranNext = true; return nil })

	errsOut := r.Dispatch(0)
	assert.ErrorIs(t, errsOut["bad"], sentinel)
	assert.True(t, ranNext)
}

func TestUnhookOwnerRemovesAllItsSubscriptions(t *testing.T) {
	r := NewRegistry[int](Command)
	calls := 0
	r.Register("a", "pluginX", func(int) error { calls++; return nil })
	r.Register("b", "pluginX", func(int) error { calls++; return nil })
	r.Register("c", "pluginY", func(int) error { calls++; return nil })

	r.UnhookOwner("pluginX")
	r.Dispatch(0)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, r.Count())
}
