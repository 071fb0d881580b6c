// Package eventloop implements the single-threaded cooperative loop from
// spec §4.1: wait on the union of every ready source (IRC sockets, DCC
// sockets, the relay listener and its clients, script fds), dispatch one
// round of ready work, run due timers, then repeat.
//
// Grounded on irc/server/server.go's acceptConnections/handleConnection
// split (one goroutine per listener, select against a quit channel),
// generalized from "accept IRC clients" to "wait on N heterogeneous
// sources" — a dynamic channel set, which stdlib net/http-shaped code in
// the pack never needed, so this is one of the few places implemented
// directly on top of the standard library rather than a pack dependency:
// reflect.Select is the only idiomatic way to wait on a channel set whose
// size isn't known at compile time, and no repo in the pack imports a
// library for this (see DESIGN.md).
package eventloop

import (
	"container/heap"
	"context"
	"reflect"
	"sync"
	"time"
)

// Handle identifies a scheduled timer for Cancel.
type Handle uint64

type timerEntry struct {
	handle   Handle
	at       time.Time
	interval time.Duration // 0 for a one-shot timer
	fn       func(time.Time)
	canceled bool
}

// timerHeap is a container/heap.Interface ordering entries by fire time.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// source is one registered readiness channel.
type source struct {
	name  string
	ready reflect.Value // chan struct{} or similar, reflected for Select
	fn    func()
}

// Loop is the cooperative scheduler. Zero value is not usable; use New.
type Loop struct {
	mu      sync.Mutex
	timers  timerHeap
	nextID  Handle
	sources map[Handle]*source
	nextSrc Handle

	wake chan struct{} // nudges Run to recompute its select set
}

// New returns an empty Loop.
func New() *Loop {
	return &Loop{
		sources: make(map[Handle]*source),
		wake:    make(chan struct{}, 1),
	}
}

func (l *Loop) nudge() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Schedule runs fn once, after delay has elapsed.
func (l *Loop) Schedule(delay time.Duration, fn func(time.Time)) Handle {
	return l.schedule(delay, 0, fn)
}

// ScheduleRepeating runs fn every interval, starting after the first
// interval elapses. Backs hook.Timer subscriptions and the
// lag-probe/backoff/ack-timeout timers elsewhere in this module.
func (l *Loop) ScheduleRepeating(interval time.Duration, fn func(time.Time)) Handle {
	return l.schedule(interval, interval, fn)
}

func (l *Loop) schedule(delay, interval time.Duration, fn func(time.Time)) Handle {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	heap.Push(&l.timers, &timerEntry{
		handle:   id,
		at:       now().Add(delay),
		interval: interval,
		fn:       fn,
	})
	l.mu.Unlock()
	l.nudge()
	return id
}

// Cancel stops a scheduled timer. Canceling an already-fired one-shot
// timer, or an unknown handle, is a no-op.
func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	for _, e := range l.timers {
		if e.handle == h {
			e.canceled = true
		}
	}
	l.mu.Unlock()
	l.nudge()
}

// Register adds a readiness source: whenever ready receives (or is
// closed), fn runs on the loop goroutine and the source is re-armed.
// Returns an unregister function. ready must be a channel value (e.g.
// <-chan struct{}, <-chan net.Conn) — this is the fd/socket/relay-client
// "select on everything" half of spec §4.1 step 2, expressed over Go
// channels instead of raw fds since every socket in this module already
// has a goroutine feeding a channel (girc's handlers, relay's accept
// loop, dcc's transfer goroutines) rather than a raw fd this loop would
// poll directly.
func (l *Loop) Register(name string, ready interface{}, fn func()) func() {
	rv := reflect.ValueOf(ready)
	l.mu.Lock()
	l.nextSrc++
	id := l.nextSrc
	l.sources[id] = &source{name: name, ready: rv, fn: fn}
	l.mu.Unlock()
	l.nudge()
	return func() {
		l.mu.Lock()
		delete(l.sources, id)
		l.mu.Unlock()
		l.nudge()
	}
}

// Run executes the loop until ctx is canceled. Each iteration: block
// until either the next timer is due or some registered source becomes
// ready or a registration changes the wait set, run every due timer,
// run the ready source's callback, repeat.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.runDueTimers()

		cases, fns := l.buildSelectSet(ctx)
		chosen, _, _ := reflect.Select(cases)

		switch {
		case chosen == 0: // ctx.Done()
			return ctx.Err()
		case chosen == 1: // wake / timer deadline
		default:
			if fn := fns[chosen]; fn != nil {
				fn()
			}
		}
	}
}

func (l *Loop) buildSelectSet(ctx context.Context) ([]reflect.SelectCase, []func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timeout := 24 * time.Hour
	if len(l.timers) > 0 {
		d := l.timers[0].at.Sub(now())
		if d < 0 {
			d = 0
		}
		timeout = d
	}

	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timeAfterOrWake(l.wake, timeout))},
	}
	fns := []func(){nil, nil}

	for _, s := range l.sources {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: s.ready})
		fns = append(fns, s.fn)
	}
	return cases, fns
}

// timeAfterOrWake merges a timeout and the wake channel into one channel
// so reflect.Select only needs one case for "either a timer is due or
// the wait set changed."
func timeAfterOrWake(wake chan struct{}, timeout time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		select {
		case <-wake:
		case <-time.After(timeout):
		}
		out <- struct{}{}
	}()
	return out
}

func (l *Loop) runDueTimers() {
	t := now()

	l.mu.Lock()
	var fired []*timerEntry
	for len(l.timers) > 0 && !l.timers[0].at.After(t) {
		e := heap.Pop(&l.timers).(*timerEntry)
		if e.canceled {
			continue
		}
		fired = append(fired, e)
		if e.interval > 0 {
			// Reschedule from the deadline that just fired, not from now,
			// so dispatch latency doesn't accumulate drift. If that next
			// deadline is already past (a long stall), fall back to
			// wall-clock now rather than firing a backlog of catch-up ticks.
			next := e.at.Add(e.interval)
			if !next.After(t) {
				next = t.Add(e.interval)
			}
			e.at = next
			heap.Push(&l.timers, e)
		}
	}
	l.mu.Unlock()

	// Run callbacks without mu held: a callback may itself call
	// Schedule/Cancel/Register, each of which only needs mu briefly.
	for _, e := range fired {
		e.fn(t)
	}
}

// now is a var, not a direct time.Now() call, so tests can't accidentally
// rely on wall-clock timing flakiness for the fast paths; production
// always uses the real clock.
var now = time.Now
