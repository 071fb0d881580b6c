// Package relay implements the relay listener and client lifecycle from
// spec §4.9: one listening socket per configured port, a client record per
// accepted connection progressing authenticating -> active -> disconnected,
// and a signal bus every face subscribes to for broadcast.
//
// Grounded on irc/server/server.go's accept loop (NewServer/Start/
// acceptConnections) and irc/server/client.go's per-client lifecycle
// (NewClient/Handle/Quit/cleanup), generalized from "I am the IRC server"
// to "I mirror an upstream session to relay clients" and from a single
// face (raw IRC text) to a pluggable Face interface so the same listener
// serves both the IRC face and the API face.
package relay

import (
	"crypto/subtle"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weecore/weecore/internal/buffer"
	"github.com/weecore/weecore/internal/hook"
)

// State is a relay client's lifecycle stage, per spec §4.9.
type State int

const (
	StateAuthenticating State = iota
	StateActive
	StateDisconnected
)

// AuthTimeout is how long a connection may sit in authenticating before
// being dropped (spec §4.9 "Timeout during authenticating -> disconnect").
const AuthTimeout = 60 * time.Second

// BufferSignal is published whenever a line is appended to any buffer the
// relay mirrors. It is the signal-bus translation of buffer.PrintEvent.
type BufferSignal struct {
	Plugin string
	Buffer string
	Line   *buffer.Line
	// Origin is the relay client id that produced this line, if any; it is
	// set so the face that owns that client can skip echoing it back (spec
	// §4.9: "messages sent by the relay face on behalf of a client are
	// tagged with relay_client_<id>... skips notifying that client").
	Origin string
}

// NicklistSignal is published when a channel's nick list changes.
type NicklistSignal struct {
	Buffer string
	Nick   string
	Added  bool
}

// Face is implemented once per relay protocol (IRC face, API face). The
// listener owns the socket and the client record; a Face owns wire format.
type Face interface {
	// Greet runs once, right after authentication succeeds.
	Greet(c *Client) error
	// HandleLine is called once per line read from the client.
	HandleLine(c *Client, line string) error
	// Deliver pushes a server-originated signal down to this client, in
	// whatever framing the face uses. It is never called for a signal
	// whose Origin equals c.ID (echo suppression, spec §4.9/property 7).
	Deliver(c *Client, sig *BufferSignal) error
}

// Client is one accepted relay connection (spec §3 "Relay client").
type Client struct {
	ID        string
	Conn      net.Conn
	StartTime time.Time
	EndTime   time.Time

	mu    sync.Mutex
	state State

	// SyncChannels is the set of buffer full-names this client has scoped
	// its subscription to (spec §4.9 "filters by its sync scope"). A nil
	// map means "everything".
	SyncChannels map[string]bool

	face     Face
	listener *Listener
	unhook   func()
}

// Listener returns the relay listener that accepted this client, so a
// face can call back into it (e.g. CheckAuth, Activate) without the
// listener needing to be threaded through every face call explicitly.
func (c *Client) Listener() *Listener { return c.listener }

// State returns the client's current lifecycle stage.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	if s == StateDisconnected && c.EndTime.IsZero() {
		c.EndTime = time.Now()
	}
	c.mu.Unlock()
}

// InScope reports whether bufferName passes this client's sync filter.
func (c *Client) InScope(bufferName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SyncChannels == nil {
		return true
	}
	return c.SyncChannels[bufferName]
}

// SetScope narrows this client's sync subscription to the given buffer
// full-names; an empty/nil set restores "everything".
func (c *Client) SetScope(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		c.SyncChannels = nil
		return
	}
	c.SyncChannels = make(map[string]bool, len(names))
	for _, n := range names {
		c.SyncChannels[n] = true
	}
}

// SendRaw writes a pre-framed line to the client's connection.
func (c *Client) SendRaw(line string) error {
	_, err := c.Conn.Write([]byte(line))
	return err
}

// Quit transitions the client to disconnected, closing its connection
// exactly once. Safe to call concurrently and more than once.
func (c *Client) Quit() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	if c.EndTime.IsZero() {
		c.EndTime = time.Now()
	}
	c.mu.Unlock()

	if c.unhook != nil {
		c.unhook()
	}
	c.Conn.Close()
}

// Authenticator checks credentials presented during the authenticating
// stage; both faces call it with whatever password material their wire
// format carries (PASS command text, or an Authorization header value).
type Authenticator func(presented string) bool

// PasswordAuthenticator returns an Authenticator doing a constant-time
// comparison against the configured shared password (spec §4.9).
func PasswordAuthenticator(password string) Authenticator {
	return func(presented string) bool {
		return subtle.ConstantTimeCompare([]byte(presented), []byte(password)) == 1
	}
}

// Listener owns one relay socket and every client accepted on it.
type Listener struct {
	Name string
	Auth Authenticator
	Face Face

	ln net.Listener

	mu      sync.Mutex
	clients map[string]*Client

	Signals *hook.Registry[*BufferSignal]
	Nicklist *hook.Registry[*NicklistSignal]

	quit chan struct{}
}

// NewListener builds a relay listener serving face, gated by auth. Call
// Serve with a net.Listener to start accepting.
func NewListener(name string, face Face, auth Authenticator) *Listener {
	return &Listener{
		Name:     name,
		Auth:     auth,
		Face:     face,
		clients:  make(map[string]*Client),
		Signals:  hook.NewRegistry[*BufferSignal](hook.Signal),
		Nicklist: hook.NewRegistry[*NicklistSignal](hook.Signal),
		quit:     make(chan struct{}),
	}
}

// Serve accepts connections on ln until Close is called. Grounded on
// irc/server/server.go's acceptConnections loop.
func (l *Listener) Serve(ln net.Listener) {
	l.ln = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
				log.Printf("relay[%s]: accept: %v", l.Name, err)
				continue
			}
		}
		go l.handle(conn)
	}
}

// Close stops accepting and disconnects every client.
func (l *Listener) Close() error {
	close(l.quit)
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	l.mu.Lock()
	clients := make([]*Client, 0, len(l.clients))
	for _, c := range l.clients {
		clients = append(clients, c)
	}
	l.mu.Unlock()
	for _, c := range clients {
		c.Quit()
	}
	return err
}

// PublishLine feeds a buffer.PrintEvent into the relay signal bus, tagged
// with origin (empty if the line didn't originate from a relay client).
// The runtime wires this as a subscriber on buffer.Set.PrintHooks.
func (l *Listener) PublishLine(plugin, bufferName string, line *buffer.Line, origin string) {
	l.Signals.Dispatch(&BufferSignal{Plugin: plugin, Buffer: bufferName, Line: line, Origin: origin})
}

// PublishNicklist feeds a nicklist change into the signal bus.
func (l *Listener) PublishNicklist(bufferName, nick string, added bool) {
	l.Nicklist.Dispatch(&NicklistSignal{Buffer: bufferName, Nick: nick, Added: added})
}

func (l *Listener) handle(conn net.Conn) {
	c := &Client{
		ID:        uuid.NewString(),
		Conn:      conn,
		StartTime: time.Now(),
		state:     StateAuthenticating,
		face:      l.Face,
		listener:  l,
	}

	l.mu.Lock()
	l.clients[c.ID] = c
	l.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(AuthTimeout))

	id := l.Signals.Register("deliver:"+c.ID, "", func(sig *BufferSignal) error {
		if sig.Origin == c.ID {
			return nil // echo suppression, spec §4.9/property 7
		}
		if c.State() != StateActive {
			return nil
		}
		if !c.InScope(sig.Buffer) {
			return nil
		}
		return l.Face.Deliver(c, sig)
	})
	c.unhook = func() { l.Signals.Unhook(id) }

	defer l.cleanup(c)

	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := indexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := string(trimCR(pending[:i]))
				pending = pending[i+1:]
				if hErr := l.dispatchLine(c, line); hErr != nil {
					log.Printf("relay[%s]: client %s: %v", l.Name, c.ID, hErr)
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// dispatchLine hands every inbound line to the face unconditionally; a
// face decides for itself what, during the authenticating stage, counts as
// the credential (PASS command text, an Authorization header value) and
// calls CheckAuth/Activate once it has it.
func (l *Listener) dispatchLine(c *Client, line string) error {
	return l.Face.HandleLine(c, line)
}

// CheckAuth reports whether presented satisfies the listener's configured
// Authenticator. A face calls this with whatever it parsed as the
// credential out of the wire format it owns.
func (l *Listener) CheckAuth(presented string) bool {
	return l.Auth == nil || l.Auth(presented)
}

// Activate is called by a Face once it has verified credentials and
// finished its registration handshake; it flips state and runs Greet.
func (l *Listener) Activate(c *Client) error {
	c.Conn.SetReadDeadline(time.Time{})
	c.setState(StateActive)
	return l.Face.Greet(c)
}

func (l *Listener) cleanup(c *Client) {
	c.Quit()
	// Purge: terminal clients are dropped from the map so long-lived
	// listeners don't accumulate dead entries (spec §4.9 "a purge action
	// removes clients in terminal states").
	l.mu.Lock()
	delete(l.clients, c.ID)
	l.mu.Unlock()
}

// Clients returns a snapshot of every currently tracked client.
func (l *Listener) Clients() []*Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Client, 0, len(l.clients))
	for _, c := range l.clients {
		out = append(out, c)
	}
	return out
}

// Purge removes every client in a terminal (disconnected) state.
func (l *Listener) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, c := range l.clients {
		if c.State() == StateDisconnected {
			delete(l.clients, id)
			n++
		}
	}
	return n
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}
