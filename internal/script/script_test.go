package script

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weecore/weecore/internal/hook"
)

func TestLoadRejectsEmptyName(t *testing.T) {
	h := NewHost()
	_, err := h.Load(Registration{})
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateName(t *testing.T) {
	h := NewHost()
	_, err := h.Load(Registration{Name: "greeter"})
	require.NoError(t, err)
	_, err = h.Load(Registration{Name: "greeter"})
	assert.Error(t, err)
}

func TestHookDispatchesToScriptCallback(t *testing.T) {
	h := NewHost()
	s, err := h.Load(Registration{Name: "greeter"})
	require.NoError(t, err)

	var seen Args
	_, err = h.Hook(s, hook.Command, "hello", func(args Args) (Result, error) {
		seen = args
		return Result{Int: 1}, nil
	})
	require.NoError(t, err)

	errs := h.Dispatch(hook.Command, Args{"text": "hi"})
	assert.Nil(t, errs)
	assert.Equal(t, "hi", seen["text"])
}

func TestHookRejectsNonScriptReachableKind(t *testing.T) {
	h := NewHost()
	s, err := h.Load(Registration{Name: "greeter"})
	require.NoError(t, err)
	_, err = h.Hook(s, hook.FD, "x", func(Args) (Result, error) { return Result{}, nil })
	assert.Error(t, err)
}

func TestUnloadCallsShutdownAndRemovesHooks(t *testing.T) {
	h := NewHost()
	shutdownCalled := false
	s, err := h.Load(Registration{Name: "greeter", Shutdown: func() error {
		shutdownCalled = true
		return nil
	}})
	require.NoError(t, err)

	calls := 0
	_, err = h.Hook(s, hook.Print, "watch", func(Args) (Result, error) {
		calls++
		return Result{}, nil
	})
	require.NoError(t, err)

	h.Dispatch(hook.Print, Args{})
	require.Equal(t, 1, calls)

	require.NoError(t, h.Unload("greeter"))
	assert.True(t, shutdownCalled)
	assert.False(t, h.Loaded("greeter"))

	h.Dispatch(hook.Print, Args{})
	assert.Equal(t, 1, calls, "hook must not fire after unload")
}

func TestUnloadPropagatesShutdownError(t *testing.T) {
	h := NewHost()
	s, err := h.Load(Registration{Name: "flaky", Shutdown: func() error {
		return errors.New("boom")
	}})
	require.NoError(t, err)
	_ = s
	err = h.Unload("flaky")
	assert.EqualError(t, err, "boom")
}

func TestUnloadUnknownScriptErrors(t *testing.T) {
	h := NewHost()
	assert.Error(t, h.Unload("nope"))
}

func TestScriptCallbackPanicIsIsolated(t *testing.T) {
	h := NewHost()
	s, err := h.Load(Registration{Name: "panicky"})
	require.NoError(t, err)
	_, err = h.Hook(s, hook.Modifier, "boom", func(Args) (Result, error) {
		panic("script exploded")
	})
	require.NoError(t, err)

	errs := h.Dispatch(hook.Modifier, Args{})
	require.NotNil(t, errs)
	assert.Contains(t, errs["boom"].Error(), "script exploded")
}
