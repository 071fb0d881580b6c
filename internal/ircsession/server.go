package ircsession

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"

	"github.com/weecore/weecore/internal/backoff"
	"github.com/weecore/weecore/internal/buffer"
	"github.com/weecore/weecore/internal/ctcp"
	"github.com/weecore/weecore/internal/dcc"
	"github.com/weecore/weecore/internal/hook"
	"github.com/weecore/weecore/internal/memo"
)

// State is the server connection lifecycle from spec §4.5.
type State int

const (
	StateDisconnected State = iota
	StateResolving
	StateConnecting
	StateAuthenticating
	StateRegistered
	StateReconnectWait
)

// Config holds the user-supplied half of a server record (spec §3 "IRC
// server").
type Config struct {
	Address          string
	Port             int
	IPv6             bool
	SSL              bool
	Password         string
	Nicks            []string
	User             string
	RealName         string
	Autoconnect      bool
	Autoreconnect    bool
	Autojoin         []string
	CommandOnConnect []string
	CommandDelay     time.Duration
	Charset          string

	// Proxy, if set, is the SSH tunnel this server's "proxy" attribute
	// names (spec §3). Connect rides it through girc's DialerConnect
	// when set; DCC peer connections for this server reuse the same
	// tunnel, which the runtime reads through Server.ProxyDialer().
	Proxy ProxyDialer
}

// ProxyDialer is the narrow slice of *internal/proxy.Dialer this package
// needs, kept local so ircsession doesn't import proxy just for DCC's
// benefit — the runtime wires a real *proxy.Dialer in here.
type ProxyDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Server is the per-network connection: girc.Client drives the wire, this
// type layers WeeChat session semantics on top (spec §4.5–§4.7).
type Server struct {
	Name string
	Cfg  Config

	mu           sync.Mutex
	state        State
	isConnected  bool
	currentNick  string
	nickModes    string
	nickAttempt  int
	pingSentAt   time.Time
	lagMs        time.Duration
	lagNextCheck time.Time

	Channels     map[string]*Channel
	ServerBuffer *buffer.Buffer

	Client     *girc.Client
	NickPolicy NickPolicy
	Reconnect  backoff.Strategy
	AwayCache  *memo.Bool[string]

	ConfigHooks *hook.Registry[*Config] // fires on command-on-connect list changes etc.

	// sendNick is overridable for tests; defaults to Client.Cmd.Nick.
	sendNick func(nick string)
	// onDisconnect is overridable for tests to observe give-up reasons.
	onDisconnect func(reason string)
	// CommandScheduler runs fn after delay; defaults to time.AfterFunc but
	// the runtime overrides it to go through eventloop.Loop.Schedule so
	// the on-connect command delay (spec §4.5) is just another loop timer
	// instead of a bare goroutine.
	CommandScheduler func(delay time.Duration, fn func())

	// OnDCCAdvertisement, if set, is invoked for every parsed inbound CTCP
	// "DCC SEND"/"CHAT"/"RESUME"/"ACCEPT" payload (spec §4.8); the runtime
	// wires this to its transfer auto-accept/resume policy.
	OnDCCAdvertisement func(from string, ad dcc.Advertisement)
}

// NewServer builds a Server in state Disconnected. policy defaults to
// ThreeStepPolicy and rec to backoff.NewExponentialJitter if nil.
func NewServer(name string, cfg Config, policy NickPolicy, rec backoff.Strategy, serverBuf *buffer.Buffer) *Server {
	if policy == nil {
		policy = ThreeStepPolicy{}
	}
	if rec == nil {
		rec = backoff.NewExponentialJitter(5*time.Second, 5*time.Minute)
	}
	s := &Server{
		Name:         name,
		Cfg:          cfg,
		Channels:     make(map[string]*Channel),
		ServerBuffer: serverBuf,
		NickPolicy:   policy,
		Reconnect:    rec,
		AwayCache:    memo.New(func(string) bool { return false }, 30*time.Second, 5*time.Second),
		ConfigHooks:  hook.NewRegistry[*Config](hook.Config),
	}
	s.sendNick = func(nick string) {
		if s.Client != nil {
			s.Client.Cmd.Nick(nick)
		}
	}
	s.CommandScheduler = func(delay time.Duration, fn func()) {
		time.AfterFunc(delay, fn)
	}
	return s
}

// State reports the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports the socket-valid invariant from spec §3.
func (s *Server) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isConnected
}

// CurrentNick is set once the server assigns welcome (001), per spec §3
// invariant.
func (s *Server) CurrentNick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentNick
}

// Lag returns the most recently measured round trip.
func (s *Server) Lag() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagMs
}

// ProxyDialer returns the SSH tunnel DCC peer connections for this server
// should ride, or nil if Cfg.Proxy was never set.
func (s *Server) ProxyDialer() ProxyDialer {
	return s.Cfg.Proxy
}

// buildClient constructs the girc.Client for this server's Cfg. Kept
// separate from Connect so tests can construct a Server without dialing.
func (s *Server) buildClient() *girc.Client {
	conf := girc.Config{
		Server:    s.Cfg.Address,
		Port:      s.Cfg.Port,
		Nick:      s.Cfg.Nicks[0],
		User:      s.Cfg.User,
		Name:      s.Cfg.RealName,
		SSL:       s.Cfg.SSL,
		ServerPass: s.Cfg.Password,
	}
	c := girc.New(conf)
	s.wireHandlers(c)
	return c
}

func (s *Server) wireHandlers(c *girc.Client) {
	c.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		s.onConnected(c)
	})
	c.Handlers.Add(girc.DISCONNECTED, func(c *girc.Client, e girc.Event) {
		s.onDisconnected()
	})
	c.Handlers.Add("433", func(c *girc.Client, e girc.Event) {
		var rejected string
		if len(e.Params) > 1 {
			rejected = e.Params[1]
		}
		s.handleNickInUse(rejected)
	})
	c.Handlers.Add(girc.PRIVMSG, func(c *girc.Client, e girc.Event) {
		s.onPrivmsg(e)
	})
	c.Handlers.Add(girc.JOIN, func(c *girc.Client, e girc.Event) {
		s.onJoin(e)
	})
	c.Handlers.Add(girc.PART, func(c *girc.Client, e girc.Event) {
		s.onPart(e)
	})
	c.Handlers.Add(girc.NICK, func(c *girc.Client, e girc.Event) {
		s.onNick(e)
	})
	c.Handlers.Add("MODE", func(c *girc.Client, e girc.Event) {
		s.onMode(e)
	})
	c.Handlers.Add("PONG", func(c *girc.Client, e girc.Event) {
		s.onPong(e)
	})
}

// gircDialer adapts a ProxyDialer (context-aware) to girc.Dialer, which
// predates context.Context and takes none.
type gircDialer struct{ d ProxyDialer }

func (g gircDialer) Dial(network, address string) (net.Conn, error) {
	return g.d.DialContext(context.Background(), network, address)
}

// Connect dials this server's configured network and runs girc's
// blocking read loop until the connection drops, the remote closes, or
// Client.Close is called; callers run this in its own goroutine. If
// Cfg.Proxy is set, the connection rides that SSH tunnel instead of
// dialing the network directly. Reconnect scheduling (spec §4.5
// reconnect_wait) is the caller's responsibility, not this method's.
func (s *Server) Connect() error {
	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	c := s.buildClient()
	s.mu.Lock()
	s.Client = c
	s.mu.Unlock()

	if s.Cfg.Proxy != nil {
		return c.DialerConnect(gircDialer{s.Cfg.Proxy})
	}
	return c.Connect()
}

func (s *Server) onConnected(c *girc.Client) {
	s.mu.Lock()
	s.state = StateRegistered
	s.isConnected = true
	s.currentNick = c.GetNick()
	s.nickAttempt = 0
	s.mu.Unlock()
	s.Reconnect.Reset()

	s.runCommandOnConnect(c)
}

// runCommandOnConnect sends Cfg.CommandOnConnect, delayed by
// Cfg.CommandDelay, then joins Cfg.Autojoin — in that order, per spec
// §4.5 ("run the configured on-connect command list ... then auto-join").
func (s *Server) runCommandOnConnect(c *girc.Client) {
	run := func() {
		for _, raw := range s.Cfg.CommandOnConnect {
			if raw == "" {
				continue
			}
			c.Cmd.SendRaw(raw)
		}
		for _, ch := range s.Cfg.Autojoin {
			c.Cmd.Join(ch)
		}
	}
	if len(s.Cfg.CommandOnConnect) == 0 || s.Cfg.CommandDelay <= 0 {
		run()
		return
	}
	s.CommandScheduler(s.Cfg.CommandDelay, run)
}

func (s *Server) onDisconnected() {
	s.mu.Lock()
	s.isConnected = false
	s.state = StateDisconnected
	s.mu.Unlock()
}

// handleNickInUse implements the 433 cascade from spec §4.5 and scenario
// S2. attempt indexing: nickAttempt is the index into Cfg.Nicks that was
// just rejected.
func (s *Server) handleNickInUse(rejected string) {
	s.mu.Lock()
	attempt := s.nickAttempt
	s.mu.Unlock()

	next, ok := s.NickPolicy.Next(s.Cfg.Nicks, attempt)
	if !ok {
		s.mu.Lock()
		s.state = StateDisconnected
		s.isConnected = false
		s.mu.Unlock()
		if s.onDisconnect != nil {
			s.onDisconnect("all nicks in use")
		}
		if s.Client != nil {
			s.Client.Close()
		}
		return
	}

	s.mu.Lock()
	s.nickAttempt = attempt + 1
	s.currentNick = next
	s.mu.Unlock()
	s.sendNick(next)
}

func (s *Server) onPong(e girc.Event) {
	if len(e.Params) == 0 {
		return
	}
	s.mu.Lock()
	if !s.pingSentAt.IsZero() {
		s.lagMs = time.Since(s.pingSentAt)
	}
	s.pingSentAt = time.Time{}
	s.mu.Unlock()
}

// ProbeLag sends a lag-probe PING carrying a local token, per spec §4.5.
func (s *Server) ProbeLag(token string) {
	s.mu.Lock()
	s.pingSentAt = time.Now()
	s.mu.Unlock()
	if s.Client != nil {
		s.Client.Cmd.SendRaw("PING " + token)
	}
}

func (s *Server) onPrivmsg(e girc.Event) {
	if len(e.Params) < 2 {
		return
	}
	target := e.Params[0]
	payload := e.Params[len(e.Params)-1]
	if msg, ok := ctcp.Decode(payload); ok {
		s.handleCTCP(e.Source.Name, target, msg)
		return
	}
	_ = target // normal PRIVMSG delivery into buffers is wired by the runtime
}

// handleCTCP answers VERSION/PING, renders ACTION, and parses DCC
// advertisements per spec §4.7/§4.8; anything else is left to the caller
// to display unhandled.
func (s *Server) handleCTCP(from, target string, msg ctcp.Message) {
	switch msg.Command {
	case "VERSION":
		reply := ctcp.Encode("VERSION", "weecore 0.1.0 ("+buildStamp()+")")
		if s.Client != nil {
			s.Client.Cmd.Notice(from, reply)
		}
	case "PING":
		reply := ctcp.Encode("PING", msg.Params)
		if s.Client != nil {
			s.Client.Cmd.Notice(from, reply)
		}
	case "ACTION":
		// rendered as "* nick text" by the buffer layer; no reply needed.
	case "DCC":
		ad, err := dcc.ParseAdvertisement(msg.Params)
		if err != nil {
			return
		}
		if s.OnDCCAdvertisement != nil {
			s.OnDCCAdvertisement(from, ad)
		}
	}
}

// SendCTCP sends a CTCP request (PRIVMSG-framed, per girc's
// Commands.SendCTCP) to target — used for outbound DCC RESUME/ACCEPT
// messages as well as ordinary CTCP requests.
func (s *Server) SendCTCP(target, command, params string) {
	if s.Client != nil {
		s.Client.Cmd.SendCTCP(target, command, params)
	}
}

func buildStamp() string { return "adapted" }

func (s *Server) onJoin(e girc.Event) {
	if len(e.Params) == 0 {
		return
	}
	chName := e.Params[0]
	ch, ok := s.Channels[strings.ToLower(chName)]
	if !ok {
		ch = NewChannel(chName, ChannelTypeChannel)
		s.Channels[strings.ToLower(chName)] = ch
	}
	ch.AddNick(e.Source.Name, e.Source.Host)
}

func (s *Server) onPart(e girc.Event) {
	if len(e.Params) == 0 {
		return
	}
	ch, ok := s.Channels[strings.ToLower(e.Params[0])]
	if !ok {
		return
	}
	ch.RemoveNick(e.Source.Name)
	if strings.EqualFold(e.Source.Name, s.CurrentNick()) {
		delete(s.Channels, strings.ToLower(e.Params[0]))
	}
}

func (s *Server) onNick(e girc.Event) {
	if len(e.Params) == 0 {
		return
	}
	newNick := e.Params[0]
	for _, ch := range s.Channels {
		if _, ok := ch.Nick(e.Source.Name); ok {
			ch.RenameNick(e.Source.Name, newNick)
		}
	}
	if strings.EqualFold(e.Source.Name, s.CurrentNick()) {
		s.mu.Lock()
		s.currentNick = newNick
		s.mu.Unlock()
	}
}

func (s *Server) onMode(e girc.Event) {
	if len(e.Params) < 2 {
		return
	}
	ch, ok := s.Channels[strings.ToLower(e.Params[0])]
	if !ok {
		return // user-mode MODE line, not a channel
	}
	_ = ApplyMode(ch, e.Params[1], e.Params[2:])
}
