// Package script defines the scripting bridge contract: what a host
// exposes to an embedded interpreter and how script-registered callbacks
// participate in the hook registry. No interpreter is implemented here —
// this is the Go-side adapter any interpreter binding (Python, Lua,
// Tcl, ...) would sit behind, expressed as interfaces over internal/hook's
// generic Registry, since a script-registered callback is just another
// hook subscriber whose args happen to be marshalled strings.
package script

import (
	"fmt"
	"sync"

	"github.com/weecore/weecore/internal/hook"
)

// Registration is the argument set a script's register() call must
// supply (spec §4.12 point 2); a call that omits Name is rejected.
type Registration struct {
	Name        string
	Author      string
	Version     string
	License     string
	Description string
	Charset     string

	// Shutdown is the shutdown_fn the host invokes on unload, if the
	// script provided one.
	Shutdown func() error
}

// Args is a hook callback's arguments marshalled to the interpreter's
// string/number representation (spec §4.12 point 3): every value a
// script callback receives or returns crosses this boundary as a string,
// the host and the interpreter binding agreeing on representation
// (e.g. "1"/"0" for booleans, decimal for integers).
type Args map[string]string

// Result is a hook callback's return value, marshalled back. Host.Hook
// discards it: only the callback's error reaches the hook registry, and
// neither Int nor Str is read for any hook kind.
type Result struct {
	Int int
	Str string
}

// Callback is a script-side hook handler: fn receives marshalled args and
// returns a marshalled result or an error. The host logs errors with the
// script and function name and converts them to the hook's neutral
// failure return; it never lets a script exception escape to a native
// caller (spec §4.12 "Failure semantics").
type Callback func(args Args) (Result, error)

// Script is one loaded script instance, tracked so unload can remove
// everything it owns (spec §3 Hook invariant: "on plugin/script unload
// all its hooks are removed before any subsequent dispatch").
type Script struct {
	Registration
	owner string // hook.Registry owner key; == Registration.Name, kept distinct for clarity at call sites

	mu      sync.Mutex
	unhooks []func()
}

func (s *Script) trackUnhook(fn func()) {
	s.mu.Lock()
	s.unhooks = append(s.unhooks, fn)
	s.mu.Unlock()
}

// Host is the native-side half of the bridge: it owns one Registry[Args]
// per hook.Kind a script can subscribe to, and tracks loaded scripts so
// Unload can tear one down completely.
type Host struct {
	mu       sync.Mutex
	scripts  map[string]*Script
	registry map[hook.Kind]*hook.Registry[Args]
}

// NewHost builds a Host with an empty registry for every script-reachable
// hook kind. FD and Signal are native-only in this implementation (no
// script fd/signal subscription path exists yet) and are intentionally
// absent from kinds.
func NewHost() *Host {
	kinds := []hook.Kind{
		hook.Command, hook.CommandRun, hook.Timer, hook.Print,
		hook.Modifier, hook.Config, hook.Completion, hook.Info, hook.Infolist,
	}
	h := &Host{
		scripts:  make(map[string]*Script),
		registry: make(map[hook.Kind]*hook.Registry[Args]),
	}
	for _, k := range kinds {
		h.registry[k] = hook.NewRegistry[Args](k)
	}
	return h
}

// Load records a script's register() call (spec §4.12 point 2). A call
// with no Name is the "register() was never called" case and is
// rejected.
func (h *Host) Load(reg Registration) (*Script, error) {
	if reg.Name == "" {
		return nil, fmt.Errorf("script: register() requires a non-empty name")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.scripts[reg.Name]; exists {
		return nil, fmt.Errorf("script: %q already loaded", reg.Name)
	}
	s := &Script{Registration: reg, owner: reg.Name}
	h.scripts[reg.Name] = s
	return s, nil
}

// Hook registers cb under kind for script s, at priority 0, tagged with
// s as owner so Unload can remove it. Returns the hook.ID for an
// explicit early unhook.
func (h *Host) Hook(s *Script, kind hook.Kind, name string, cb Callback) (hook.ID, error) {
	r, ok := h.registry[kind]
	if !ok {
		return 0, fmt.Errorf("script: hook kind %q is not script-reachable", kind)
	}
	id := r.Register(name, s.owner, func(args Args) error {
		_, err := cb(args)
		return err
	})
	s.trackUnhook(func() { r.Unhook(id) })
	return id, nil
}

// Dispatch runs every live subscriber of kind with args, the same
// isolation and ordering guarantees as a native hook.Registry.Dispatch
// (spec §4.3, §7).
func (h *Host) Dispatch(kind hook.Kind, args Args) map[string]error {
	r, ok := h.registry[kind]
	if !ok {
		return nil
	}
	return r.Dispatch(args)
}

// Unload invokes s's shutdown_fn (if set) and then removes every hook it
// registered (spec §4.12 point 4). Buffer/bar-item/config-file cleanup
// is the caller's responsibility — Host only owns the hook half of a
// script's resources, the rest belonging to internal/buffer and
// internal/option, which Host does not import to avoid a cycle back
// into the packages that will eventually drive it.
func (h *Host) Unload(name string) error {
	h.mu.Lock()
	s, ok := h.scripts[name]
	if ok {
		delete(h.scripts, name)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("script: %q is not loaded", name)
	}

	var shutdownErr error
	if s.Shutdown != nil {
		shutdownErr = s.Shutdown()
	}

	s.mu.Lock()
	unhooks := s.unhooks
	s.unhooks = nil
	s.mu.Unlock()
	for _, fn := range unhooks {
		fn()
	}
	for _, r := range h.registry {
		r.UnhookOwner(s.owner)
	}
	return shutdownErr
}

// Loaded reports whether name is currently loaded.
func (h *Host) Loaded(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.scripts[name]
	return ok
}

// Scripts returns the names of every currently loaded script.
func (h *Host) Scripts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.scripts))
	for name := range h.scripts {
		names = append(names, name)
	}
	return names
}
