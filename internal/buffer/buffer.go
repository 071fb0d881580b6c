package buffer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/weecore/weecore/internal/hook"
)

// Kind is the buffer's type, per spec §3.
type Kind int

const (
	KindFormatted Kind = iota
	KindFree
)

// Line is a single appended line, per spec §3. ID is assigned at append
// time, never reused, and strictly increasing within its buffer.
type Line struct {
	ID          uint64
	Date        time.Time
	Micro       int
	Prefix      string
	Message     string
	Tags        []string
	Displayed   bool
	Highlighted bool
}

// HasTag reports whether t is one of the line's tags.
func (l *Line) HasTag(t string) bool {
	for _, tag := range l.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// Input holds the text being composed in a buffer, per spec §3.
type Input struct {
	Text   string
	Cursor int
	Scroll int
}

// CommandResult is the return discipline for a command hook (spec §4.3).
type CommandResult int

const (
	CmdOK CommandResult = iota
	CmdOKEat
	CmdError
)

// CommandDispatcher offers a fully-formed command line to the command hook
// set; Buffer.HandleInput calls it for any "/verb ..." input. Implemented
// by the runtime's command table (internal/ircsession), kept as an
// interface here so the buffer engine does not depend on IRC specifics.
type CommandDispatcher interface {
	Dispatch(buf *Buffer, argv []string, argvEOL string) (CommandResult, error)
}

// PrintEvent is the payload delivered to Print hooks after a line is
// appended (spec §4.3/§4.4).
type PrintEvent struct {
	Buffer *Buffer
	Line   *Line
}

// LogWriter appends a pre-formatted log record for a buffer; nil disables
// on-disk logging (spec §4.4: "if the buffer's on-disk log is enabled").
type LogWriter interface {
	WriteLogLine(pluginName, bufferName, record string) error
}

// Set owns every Buffer, enforcing the (plugin,name) uniqueness invariant
// from spec §3 and the shared Print hook registry all buffers dispatch
// through.
type Set struct {
	mu      sync.Mutex
	byKey   map[string]*Buffer
	order   []*Buffer
	PrintHooks *hook.Registry[*PrintEvent]
	Log     LogWriter

	// StripColorsFromIncoming mirrors the option of the same intent from
	// spec §4.4 ("strip colors from incoming messages").
	StripColorsFromIncoming bool
}

// NewSet creates an empty buffer set.
func NewSet() *Set {
	return &Set{
		byKey:      make(map[string]*Buffer),
		PrintHooks: hook.NewRegistry[*PrintEvent](hook.Print),
	}
}

func key(plugin, name string) string { return plugin + "\x00" + name }

// New creates and registers a buffer. Returns (nil, false) if a buffer for
// (plugin,name) already exists (spec §3 invariant).
func (s *Set) New(plugin, name string, kind Kind, closeCB func(*Buffer)) (*Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(plugin, name)
	if _, exists := s.byKey[k]; exists {
		return nil, false
	}
	b := &Buffer{
		Plugin:  plugin,
		Name:    name,
		Kind:    kind,
		History: NewHistory(0),
		Vars:    make(map[string]string),
		CloseCB: closeCB,
		set:     s,
	}
	s.byKey[k] = b
	s.order = append(s.order, b)
	return b, true
}

// Lookup finds an existing buffer by (plugin,name).
func (s *Set) Lookup(plugin, name string) (*Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byKey[key(plugin, name)]
	return b, ok
}

// All returns every live buffer, creation order.
func (s *Set) All() []*Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Buffer, len(s.order))
	copy(out, s.order)
	return out
}

// Close destroys b: fires its close callback exactly once, detaches every
// hook bound to it, then deallocates (spec §3 Lifecycle, §4.4 close).
func (s *Set) Close(b *Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.CloseCB != nil {
		b.CloseCB(b)
	}
	b.detachAllHooks()
	delete(s.byKey, key(b.Plugin, b.Name))
	for i, bb := range s.order {
		if bb == b {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Buffer is a named sink for lines, per spec §3.
type Buffer struct {
	Plugin string
	Name   string
	Kind   Kind

	Input   Input
	History *History
	Vars    map[string]string

	InputCB func(b *Buffer, text string) error
	CloseCB func(b *Buffer)

	mu      sync.Mutex
	lines   []*Line
	nextID  uint64
	closed  bool
	set     *Set

	ownedHookIDs []func() // each entry unhooks one subscription this buffer owns
}

// FullName returns "plugin.name", the buffer's unique identity.
func (b *Buffer) FullName() string { return b.Plugin + "." + b.Name }

// TrackHook registers an unhook callback so Set.Close can detach every
// hook this buffer owns (spec §3 Buffer lifecycle, §4.4 close).
func (b *Buffer) TrackHook(unhook func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ownedHookIDs = append(b.ownedHookIDs, unhook)
}

func (b *Buffer) detachAllHooks() {
	b.mu.Lock()
	ids := b.ownedHookIDs
	b.ownedHookIDs = nil
	b.mu.Unlock()
	for _, unhook := range ids {
		unhook()
	}
}

// Append assigns the next id, records the date, applies color-stripping
// and the no_log tag mask, appends the line, then dispatches matching
// Print hooks and (if enabled) writes the on-disk log record. Spec §4.4.
func (b *Buffer) Append(prefix, message string, tags []string) *Line {
	now := time.Now()
	msg := message
	if b.set != nil && b.set.StripColorsFromIncoming {
		msg = stripColors(msg)
	}

	b.mu.Lock()
	b.nextID++
	line := &Line{
		ID:        b.nextID,
		Date:      now,
		Micro:     now.Nanosecond() / 1000,
		Prefix:    prefix,
		Message:   msg,
		Tags:      tags,
		Displayed: true,
	}
	b.lines = append(b.lines, line)
	b.mu.Unlock()

	if b.set != nil {
		b.set.PrintHooks.Dispatch(&PrintEvent{Buffer: b, Line: line})
		if b.set.Log != nil && !line.HasTag("no_log") {
			record := fmt.Sprintf("%s %s\t%s", now.Format("2006-01-02 15:04:05"), prefix, msg)
			_ = b.set.Log.WriteLogLine(b.Plugin, b.Name, record)
		}
	}
	return line
}

// Lines returns a snapshot of the buffer's lines, oldest first.
func (b *Buffer) Lines() []*Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// Clear removes all lines and resets scroll (spec §4.4).
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
	b.Input.Scroll = 0
}

// HandleInput implements the input-path dispatch from spec §4.4:
//   - "/x..." (x != '/')  -> offered to the command hook set
//   - "//..."             -> literal message, leading '/' stripped
//   - anything else       -> the buffer's input callback
//
// History-add precedes dispatch so the command remains recallable even if
// it errors.
func (b *Buffer) HandleInput(text string, dispatcher CommandDispatcher) (CommandResult, error) {
	b.History.Add(text)

	if strings.HasPrefix(text, "//") {
		literal := text[1:]
		if b.InputCB != nil {
			return CmdOK, b.InputCB(b, literal)
		}
		return CmdOK, nil
	}
	if strings.HasPrefix(text, "/") && len(text) > 1 {
		argv, argvEOL := TokenizeCommand(text[1:])
		if dispatcher == nil {
			return CmdError, fmt.Errorf("no command dispatcher configured")
		}
		return dispatcher.Dispatch(b, argv, argvEOL)
	}
	if b.InputCB != nil {
		return CmdOK, b.InputCB(b, text)
	}
	return CmdOK, nil
}

// TokenizeCommand splits a command line (the text after the leading '/')
// into its whitespace-separated argv and the untouched eol form, the
// latter needed so SendRaw handlers can recover the original spacing of
// trailing arguments. Exported so CommandDispatcher implementations can
// re-tokenize a line after rewriting it (e.g. alias expansion).
func TokenizeCommand(s string) (argv []string, argvEOL string) {
	argvEOL = s
	argv = strings.Fields(s)
	return
}

// stripColors removes WeeChat/mIRC-style color escape sequences. The UI
// layer owns real rendering; this is the minimal filter the "strip colors
// from incoming messages" option needs at the core layer (spec §4.4).
func stripColors(s string) string {
	var out strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case 0x03: // mIRC color code, optionally followed by digits and ",digits"
			i++
			for i < len(runes) && (isDigit(runes[i])) {
				i++
			}
			if i < len(runes) && runes[i] == ',' {
				i++
				for i < len(runes) && isDigit(runes[i]) {
					i++
				}
			}
			i--
		case 0x02, 0x1D, 0x1F, 0x16, 0x0F: // bold, italic, underline, reverse, reset
			// no-op, just consumed
		default:
			out.WriteRune(runes[i])
		}
	}
	return out.String()
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
