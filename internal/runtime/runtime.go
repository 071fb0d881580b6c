// Package runtime is the Runtime aggregate from spec §9's redesign note:
// one struct owning every subsystem (option store, buffer set, server
// list, relay listeners, DCC transfers, script host) in place of the
// package-level globals the original program used. It is the adapter
// layer that turns the narrow interfaces internal/relay/ircface,
// internal/relay/api, and internal/console declare into concrete callers
// over internal/ircsession and internal/buffer, so none of those packages
// import each other directly.
//
// Grounded on irc/server/server.go's Server struct (one struct already
// centralizes listeners/clients/state there; this generalizes that shape
// from "one IRC network" to "every configured network plus every relay
// listener").
package runtime

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/weecore/weecore/internal/backoff"
	"github.com/weecore/weecore/internal/buffer"
	"github.com/weecore/weecore/internal/config"
	"github.com/weecore/weecore/internal/console"
	"github.com/weecore/weecore/internal/dcc"
	"github.com/weecore/weecore/internal/errs"
	"github.com/weecore/weecore/internal/eventloop"
	"github.com/weecore/weecore/internal/ircsession"
	"github.com/weecore/weecore/internal/option"
	"github.com/weecore/weecore/internal/proxy"
	"github.com/weecore/weecore/internal/relay"
	"github.com/weecore/weecore/internal/relay/api"
	"github.com/weecore/weecore/internal/relay/ircface"
	"github.com/weecore/weecore/internal/script"
	"github.com/weecore/weecore/internal/store"
)

// lagProbeInterval is how often each connected server gets a lag-probe
// PING, per spec §4.5.
const lagProbeInterval = 60 * time.Second

// Runtime owns every live subsystem for one running weecore process.
type Runtime struct {
	Settings *config.Settings

	Buffers      *buffer.Set
	CommandTable *ircsession.Table
	Scripts      *script.Host
	Store        *store.Store // nil if no persistence path configured
	Loop         *eventloop.Loop

	// Aliases holds the "[alias]"-section expansion table every
	// Dispatcher this Runtime creates consults before command lookup
	// (spec §9 historical-ambiguity note). Populate via LoadAliases.
	Aliases *option.File

	mu              sync.Mutex
	servers         map[string]*ircsession.Server
	dispatchers     map[string]*ircsession.Dispatcher
	relays          map[string]*relay.Listener
	transfers       map[string]*dcc.Transfer
	nextTransferID  uint64
	pendingDCC      map[pendingDCCKey]pendingDCCEntry
	bufferIDs       map[*buffer.Buffer]uint64
	buffersByID     map[uint64]*buffer.Buffer
	nextBufferID    uint64
	pendingOrigin   map[*buffer.Buffer]string // set only for the duration of a relay-originated Dispatch call
	lagProbeHandles map[string]eventloop.Handle

	consoleServer *console.Server
}

// New builds an empty Runtime: no servers, no relay listeners, an empty
// buffer set wired to forward every printed line to every configured
// relay listener (origin-tagged when the line came from a relay client's
// own Dispatch call, spec §4.9/§4.10 property 7).
func New(settings *config.Settings, st *store.Store) *Runtime {
	rt := &Runtime{
		Settings:        settings,
		Buffers:         buffer.NewSet(),
		CommandTable:    ircsession.DefaultTable(),
		Scripts:         script.NewHost(),
		Store:           st,
		Loop:            eventloop.New(),
		Aliases:         option.NewFile("alias", nil),
		servers:         make(map[string]*ircsession.Server),
		dispatchers:     make(map[string]*ircsession.Dispatcher),
		relays:          make(map[string]*relay.Listener),
		transfers:       make(map[string]*dcc.Transfer),
		pendingDCC:      make(map[pendingDCCKey]pendingDCCEntry),
		bufferIDs:       make(map[*buffer.Buffer]uint64),
		buffersByID:     make(map[uint64]*buffer.Buffer),
		pendingOrigin:   make(map[*buffer.Buffer]string),
		lagProbeHandles: make(map[string]eventloop.Handle),
	}
	if st != nil {
		rt.Buffers.Log = storeLogWriter{st}
	}
	rt.Buffers.PrintHooks.Register("relay-fanout", "", rt.onPrint)
	return rt
}

// Run drives this Runtime's cooperative event loop (spec §4.1: lag-probe
// timers and any other readiness source registered against rt.Loop) until
// ctx is canceled.
func (rt *Runtime) Run(ctx context.Context) error {
	return rt.Loop.Run(ctx)
}

// storeLogWriter adapts *store.Store to buffer.LogWriter.
type storeLogWriter struct{ st *store.Store }

func (w storeLogWriter) WriteLogLine(plugin, bufferName, record string) error {
	// record is "2006-01-02 15:04:05 <prefix>\t<message>" (buffer.Buffer.Append);
	// the date/time occupy the first two space-separated fields.
	parts := strings.SplitN(record, "\t", 2)
	prefix, message := "", record
	if len(parts) == 2 {
		message = parts[1]
		fields := strings.SplitN(parts[0], " ", 3)
		if len(fields) == 3 {
			prefix = fields[2]
		}
	}
	return w.st.AppendLine(store.HistoryRecord{
		Plugin:  plugin,
		Buffer:  bufferName,
		Date:    time.Now().Unix(),
		Prefix:  prefix,
		Message: message,
	})
}

// onPrint fans a just-appended line out to every relay listener,
// attaching the pending origin (if this append happened inside a
// relay-originated Dispatch call) so that client's own face skips it.
func (rt *Runtime) onPrint(ev *buffer.PrintEvent) error {
	rt.mu.Lock()
	origin := rt.pendingOrigin[ev.Buffer]
	listeners := make([]*relay.Listener, 0, len(rt.relays))
	for _, l := range rt.relays {
		listeners = append(listeners, l)
	}
	rt.mu.Unlock()

	for _, l := range listeners {
		l.PublishLine(ev.Buffer.Plugin, ev.Buffer.FullName(), ev.Line, origin)
	}
	return nil
}

// bufferName is the (plugin, name) weecore uses for a server's own
// buffer and each of its channel buffers.
func serverBufferName(serverName string) string { return serverName }
func channelBufferName(serverName, channel string) string {
	return serverName + "." + channel
}

// AddServer configures and registers a new IRC network connection,
// creating its server buffer and command dispatcher. The server starts
// disconnected; call Connect to dial.
func (rt *Runtime) AddServer(name string, cfg ircsession.Config) (*ircsession.Server, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.servers[name]; exists {
		return nil, errs.New(errs.UserInputInvalid, "AddServer", fmt.Errorf("server %q already configured", name))
	}

	buf, ok := rt.Buffers.New("irc", serverBufferName(name), buffer.KindFormatted, nil)
	if !ok {
		return nil, errs.New(errs.UserInputInvalid, "AddServer", fmt.Errorf("buffer for %q already exists", name))
	}
	rt.registerBufferLocked(buf)

	srv := ircsession.NewServer(name, cfg, ircsession.ThreeStepPolicy{}, backoff.NewExponentialJitter(time.Second, time.Minute), buf)
	srv.CommandScheduler = func(delay time.Duration, fn func()) {
		rt.Loop.Schedule(delay, func(time.Time) { fn() })
	}
	srv.OnDCCAdvertisement = func(from string, ad dcc.Advertisement) {
		rt.handleDCCAdvertisement(name, srv, from, ad)
	}
	d := &ircsession.Dispatcher{Table: rt.CommandTable, CurrentSrv: func() *ircsession.Server { return srv }, Aliases: rt.Aliases}

	rt.servers[name] = srv
	rt.dispatchers[name] = d
	rt.lagProbeHandles[name] = rt.Loop.ScheduleRepeating(lagProbeInterval, func(time.Time) {
		if srv.IsConnected() {
			srv.ProbeLag(strconv.FormatInt(time.Now().UnixNano(), 10))
		}
	})
	return srv, nil
}

// ConnectServer dials serverName's configured network in a background
// goroutine. If the server's config has Autoreconnect set, a dropped or
// failed connection schedules another attempt through rt.Loop, delayed by
// srv.Reconnect's backoff (spec §4.5 reconnect_wait); a successful
// connection resets that backoff. ConnectServer returns once the first
// attempt has been launched, not once it succeeds.
func (rt *Runtime) ConnectServer(name string) error {
	rt.mu.Lock()
	srv, ok := rt.servers[name]
	rt.mu.Unlock()
	if !ok {
		return errs.New(errs.UserInputInvalid, "ConnectServer", fmt.Errorf("no such server %q", name))
	}
	go rt.runConnectLoop(srv)
	return nil
}

func (rt *Runtime) runConnectLoop(srv *ircsession.Server) {
	for {
		err := srv.Connect()
		if err == nil {
			return // Client.Close() was called deliberately
		}
		if !srv.Cfg.Autoreconnect {
			return
		}
		delay, ok := srv.Reconnect.Next()
		if !ok {
			return
		}
		woken := make(chan struct{})
		rt.Loop.Schedule(delay, func(time.Time) { close(woken) })
		<-woken
	}
}

// LoadAliases reads an "[alias]"-section config file into rt.Aliases, so
// every server's Dispatcher picks up the new substitutions immediately
// (they share the same *option.File).
func (rt *Runtime) LoadAliases(r io.Reader) ([]string, error) {
	return rt.Aliases.Read(r)
}

// SetServerProxy dials the SSH tunnel cfg describes and stores it as
// serverName's Cfg.Proxy, per the "proxy" server attribute (spec §3): the
// server's next Connect, and every DCC transfer AddTransfer registers
// afterwards, route through it.
func (rt *Runtime) SetServerProxy(ctx context.Context, serverName string, cfg proxy.Config) error {
	rt.mu.Lock()
	srv, ok := rt.servers[serverName]
	rt.mu.Unlock()
	if !ok {
		return errs.New(errs.UserInputInvalid, "SetServerProxy", fmt.Errorf("no such server %q", serverName))
	}
	d, err := proxy.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	srv.Cfg.Proxy = d
	return nil
}

// AddTransfer registers a DCC transfer against serverName, assigning it an
// ID and, if that server has a configured SSH proxy, routing the
// transfer's outgoing connection through it.
func (rt *Runtime) AddTransfer(serverName string, t *dcc.Transfer) (string, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	srv, ok := rt.servers[serverName]
	if !ok {
		return "", errs.New(errs.UserInputInvalid, "AddTransfer", fmt.Errorf("no such server %q", serverName))
	}
	if d := srv.ProxyDialer(); d != nil {
		t.Dialer = d
	}
	rt.nextTransferID++
	id := strconv.FormatUint(rt.nextTransferID, 10)
	rt.transfers[id] = t
	return id, nil
}

// Transfer looks up a registered DCC transfer by the ID AddTransfer
// returned.
func (rt *Runtime) Transfer(id string) (*dcc.Transfer, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	t, ok := rt.transfers[id]
	return t, ok
}

// Server looks up a configured server by name.
func (rt *Runtime) Server(name string) (*ircsession.Server, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.servers[name]
	return s, ok
}

// ChannelBuffer finds or creates the buffer for a channel on a
// configured server.
func (rt *Runtime) ChannelBuffer(serverName, channel string) (*buffer.Buffer, error) {
	name := channelBufferName(serverName, channel)
	if buf, ok := rt.Buffers.Lookup("irc", name); ok {
		return buf, nil
	}
	buf, ok := rt.Buffers.New("irc", name, buffer.KindFormatted, nil)
	if !ok {
		return nil, errs.New(errs.UserInputInvalid, "ChannelBuffer", fmt.Errorf("could not create buffer for %q", name))
	}
	rt.mu.Lock()
	rt.registerBufferLocked(buf)
	rt.mu.Unlock()
	return buf, nil
}

func (rt *Runtime) registerBufferLocked(buf *buffer.Buffer) {
	rt.nextBufferID++
	id := rt.nextBufferID
	rt.bufferIDs[buf] = id
	rt.buffersByID[id] = buf
}

// AddIRCRelay registers a relay listener speaking the IRC wire face for
// serverName, password-gated, and starts serving on ln.
func (rt *Runtime) AddIRCRelay(name, serverName, network, serverDisplayName, password string, ln net.Listener) (*relay.Listener, error) {
	rt.mu.Lock()
	srv, ok := rt.servers[serverName]
	dispatcher := rt.dispatchers[serverName]
	rt.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.UserInputInvalid, "AddIRCRelay", fmt.Errorf("no such server %q", serverName))
	}

	up := &serverUpstream{rt: rt, srv: srv, dispatcher: dispatcher}
	face := ircface.NewFace(serverDisplayName, network, up)
	l := relay.NewListener(name, face, relay.PasswordAuthenticator(password))

	rt.mu.Lock()
	rt.relays[name] = l
	rt.mu.Unlock()

	go l.Serve(ln)
	return l, nil
}

// AddAPIRelay registers a relay listener speaking the JSON/HTTP API face
// across every buffer this Runtime owns (spec §4.11), and starts it on
// addr.
func (rt *Runtime) AddAPIRelay(name, token, addr string) (*api.Face, error) {
	face := api.NewFace(token, &bufferSource{rt}, &signalBus{rt: rt, name: name})

	rt.mu.Lock()
	l := relay.NewListener(name, noopFace{}, relay.PasswordAuthenticator(token))
	rt.relays[name] = l
	rt.mu.Unlock()

	go func() {
		_ = face.Start(addr)
	}()
	return face, nil
}

// StartConsole builds and starts the admin console, backed by this
// Runtime's own server/channel/relay-client state.
func (rt *Runtime) StartConsole(cfg console.Config) error {
	srv, err := console.New(cfg, rt)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	rt.consoleServer = srv
	rt.mu.Unlock()
	return srv.Start()
}

// StopConsole gracefully shuts the admin console down, if running.
func (rt *Runtime) StopConsole(ctx context.Context) error {
	rt.mu.Lock()
	srv := rt.consoleServer
	rt.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Stop(ctx)
}

// --- console.Source ---

func (rt *Runtime) Servers() []console.ServerSummary {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]console.ServerSummary, 0, len(rt.servers))
	for name, s := range rt.servers {
		out = append(out, console.ServerSummary{
			Name:        name,
			Connected:   s.IsConnected(),
			CurrentNick: s.CurrentNick(),
			Lag:         s.Lag(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (rt *Runtime) Channels() []console.ChannelSummary {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []console.ChannelSummary
	for name, s := range rt.servers {
		for chName, ch := range s.Channels {
			var ops []string
			for _, n := range ch.Nicks {
				if n.Flags.Has(ircsession.FlagOp) {
					ops = append(ops, n.Name)
				}
			}
			sort.Strings(ops)
			out = append(out, console.ChannelSummary{
				Server:    name,
				Name:      chName,
				Topic:     ch.Topic,
				UserCount: len(ch.Nicks),
				Operators: ops,
			})
		}
	}
	return out
}

func (rt *Runtime) RelayClients() []console.RelayClientSummary {
	rt.mu.Lock()
	listeners := make([]*relay.Listener, 0, len(rt.relays))
	for _, l := range rt.relays {
		listeners = append(listeners, l)
	}
	rt.mu.Unlock()

	var out []console.RelayClientSummary
	for _, l := range listeners {
		for _, c := range l.Clients() {
			state := "authenticating"
			switch c.State() {
			case relay.StateActive:
				state = "active"
			case relay.StateDisconnected:
				state = "disconnected"
			}
			out = append(out, console.RelayClientSummary{
				ID:         c.ID,
				RemoteAddr: c.Conn.RemoteAddr().String(),
				State:      state,
				Since:      c.StartTime,
			})
		}
	}
	return out
}

// --- api.BufferSource ---

type bufferSource struct{ rt *Runtime }

func (b *bufferSource) BufferByID(id uint64) (*buffer.Buffer, bool) {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	buf, ok := b.rt.buffersByID[id]
	return buf, ok
}

func (b *bufferSource) AllBuffers() []uint64 {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	ids := make([]uint64, 0, len(b.rt.buffersByID))
	for id := range b.rt.buffersByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *bufferSource) InputEngine() func(id uint64, text string) error {
	return func(id uint64, text string) error {
		buf, ok := b.BufferByID(id)
		if !ok {
			return errs.New(errs.UserInputInvalid, "InputEngine", fmt.Errorf("no buffer %d", id))
		}
		server := serverNameForBuffer(buf)
		b.rt.mu.Lock()
		d := b.rt.dispatchers[server]
		b.rt.mu.Unlock()
		_, err := buf.HandleInput(text, d)
		return err
	}
}

// serverNameForBuffer recovers which configured server owns buf from its
// "server" or "server.channel" buffer name.
func serverNameForBuffer(buf *buffer.Buffer) string {
	if i := strings.IndexByte(buf.Name, '.'); i >= 0 {
		return buf.Name[:i]
	}
	return buf.Name
}

// --- api.SignalSource ---

// signalBus adapts a named relay.Listener's Signals/Nicklist registries
// to api.SignalSource, translating buffer full-names to the ids the API
// face's JSON surface uses.
type signalBus struct {
	rt   *Runtime
	name string
}

func (s *signalBus) Subscribe(onLine func(uint64, *buffer.Line), onNicklist func(uint64, string, bool)) func() {
	s.rt.mu.Lock()
	l := s.rt.relays[s.name]
	s.rt.mu.Unlock()
	if l == nil {
		return func() {}
	}

	lineID := l.Signals.Register("api-sync", "", func(sig *relay.BufferSignal) error {
		if id, ok := s.bufferIDFor(sig.Buffer); ok {
			onLine(id, sig.Line)
		}
		return nil
	})
	nickID := l.Nicklist.Register("api-sync", "", func(sig *relay.NicklistSignal) error {
		if id, ok := s.bufferIDFor(sig.Buffer); ok && onNicklist != nil {
			onNicklist(id, sig.Nick, sig.Added)
		}
		return nil
	})
	return func() {
		l.Signals.Unhook(lineID)
		l.Nicklist.Unhook(nickID)
	}
}

func (s *signalBus) bufferIDFor(fullName string) (uint64, bool) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	for buf, id := range s.rt.bufferIDs {
		if buf.FullName() == fullName {
			return id, true
		}
	}
	return 0, false
}

// --- ircface.Upstream ---

// serverUpstream adapts one configured *ircsession.Server to
// ircface.Upstream, so a single relay listener can mirror that one
// network to IRC-protocol relay clients.
type serverUpstream struct {
	rt         *Runtime
	srv        *ircsession.Server
	dispatcher *ircsession.Dispatcher
}

func (u *serverUpstream) SendRaw(line string) {
	if u.srv.Client != nil {
		u.srv.Client.Cmd.SendRaw(line)
	}
}

func (u *serverUpstream) Channels() map[string]*ircsession.Channel {
	return u.srv.Channels
}

func (u *serverUpstream) Buffers() func(string) *buffer.Buffer {
	return func(channel string) *buffer.Buffer {
		buf, _ := u.rt.Buffers.Lookup("irc", channelBufferName(u.srv.Name, channel))
		return buf
	}
}

// Dispatch runs argv/argvEOL through the server's command dispatcher,
// recording relayOrigin for the duration of the call so the Print-hook
// relay fan-out (Runtime.onPrint) can tag the resulting line with it
// (spec §4.9/§4.10 echo suppression).
func (u *serverUpstream) Dispatch(buf *buffer.Buffer, argv []string, argvEOL string, relayOrigin string) error {
	u.rt.mu.Lock()
	u.rt.pendingOrigin[buf] = relayOrigin
	u.rt.mu.Unlock()
	defer func() {
		u.rt.mu.Lock()
		delete(u.rt.pendingOrigin, buf)
		u.rt.mu.Unlock()
	}()

	_, err := u.dispatcher.Dispatch(buf, argv, argvEOL)
	return err
}

// noopFace is a placeholder relay.Face for listeners whose real protocol
// surface (the API face) doesn't speak the line-oriented relay.Face
// contract; AddAPIRelay registers the listener only to keep it in
// Runtime.relays for RelayClients()/onPrint fan-out bookkeeping, while
// api.Face's own echo server is what clients actually connect to.
type noopFace struct{}

func (noopFace) Greet(*relay.Client) error                        { return nil }
func (noopFace) HandleLine(*relay.Client, string) error           { return nil }
func (noopFace) Deliver(*relay.Client, *relay.BufferSignal) error { return nil }
