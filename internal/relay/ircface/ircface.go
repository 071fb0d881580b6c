// Package ircface makes a relay listener look like an IRC server to a
// connecting client (spec §4.10): NICK/USER registration, synthetic
// channel state, inbound message routing with echo-suppression tagging,
// and raw forwarding for everything else.
//
// Grounded on irc/server/client.go's SendNumeric/SendServerLine/SendReply
// helpers and the registration sequence in SendWelcome, adapted from "the
// numerics this IRCd itself defines for its own clients" to "mirror an
// upstream session's already-established state to a relay client."
package ircface

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/weecore/weecore/internal/buffer"
	"github.com/weecore/weecore/internal/ircsession"
	"github.com/weecore/weecore/internal/relay"
)

const (
	RPL_WELCOME    = 1
	RPL_YOURHOST   = 2
	RPL_CREATED    = 3
	RPL_MYINFO     = 4
	RPL_ISUPPORT   = 5
	RPL_NAMREPLY   = 353
	RPL_ENDOFNAMES = 366
)

// ignoreFromRemote lists commands the face must never forward upstream
// verbatim (spec §4.10).
var ignoreFromRemote = map[string]bool{
	"QUIT": true,
	"PONG": true,
	"PASS": true,
}

// Upstream is the slice of *ircsession.Server this face mirrors.
type Upstream interface {
	SendRaw(line string) // forwards a raw line to the real IRC server
	Channels() map[string]*ircsession.Channel
	Buffers() func(channel string) *buffer.Buffer // buffer lookup by channel name
	Dispatch(buf *buffer.Buffer, argv []string, argvEOL string, relayOrigin string) error
}

// Face implements relay.Face for the IRC wire protocol.
type Face struct {
	ServerName string
	Network    string
	Upstream   Upstream

	mu    sync.Mutex
	state map[string]*regState
}

type regState struct {
	nick, user string
	passOK     bool
	registered bool
}

// NewFace builds an IRC-protocol relay face mirroring up.
func NewFace(serverName, network string, up Upstream) *Face {
	return &Face{ServerName: serverName, Network: network, Upstream: up, state: make(map[string]*regState)}
}

func (f *Face) stateFor(c *relay.Client) *regState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.state[c.ID]
	if !ok {
		s = &regState{}
		f.state[c.ID] = s
	}
	return s
}

// Greet sends 001-005 plus synthetic JOIN/353/366 for every channel the
// upstream session is in, once NICK+USER+PASS have all arrived and the
// listener has flipped the client to active.
func (f *Face) Greet(c *relay.Client) error {
	st := f.stateFor(c)
	return f.activateGreeting(c, st.nick)
}

// HandleLine processes one line received from the relay client.
func (f *Face) HandleLine(c *relay.Client, line string) error {
	st := f.stateFor(c)
	verb, rest := splitVerb(line)
	verb = strings.ToUpper(verb)

	if !st.registered {
		switch verb {
		case "PASS":
			st.passOK = c.Listener().CheckAuth(strings.TrimPrefix(rest, ":"))
			return nil
		case "NICK":
			st.nick = strings.TrimSpace(rest)
		case "USER":
			st.user = firstField(rest)
		case "PING":
			return c.SendRaw(fmt.Sprintf(":%s PONG %s :%s\r\n", f.ServerName, f.ServerName, strings.TrimPrefix(rest, ":")))
		}
		if st.nick != "" && st.user != "" {
			if !st.passOK {
				return c.SendRaw(fmt.Sprintf(":%s 464 * :Password incorrect\r\n", f.ServerName))
			}
			st.registered = true
			return c.Listener().Activate(c)
		}
		return nil
	}

	switch verb {
	case "PING":
		return c.SendRaw(fmt.Sprintf(":%s PONG %s :%s\r\n", f.ServerName, f.ServerName, strings.TrimPrefix(rest, ":")))
	case "PRIVMSG", "NOTICE":
		return f.routeLocal(c, verb, rest)
	default:
		if ignoreFromRemote[verb] {
			return nil
		}
		f.Upstream.SendRaw(line)
		return nil
	}
}

// routeLocal sends a PRIVMSG/NOTICE the remote typed as if it had been
// typed on the matching local buffer, tagging the send with this client's
// id for echo suppression (spec §4.10, property 7, scenario S5).
func (f *Face) routeLocal(c *relay.Client, verb, rest string) error {
	target, text, ok := splitTargetText(rest)
	if !ok {
		return nil
	}
	buffers := f.Upstream.Buffers()
	buf := buffers(target)
	if buf == nil {
		return nil
	}
	argv := []string{strings.ToLower(verb), target}
	argvEOL := strings.ToLower(verb) + " " + target + " :" + text
	return f.Upstream.Dispatch(buf, argv, argvEOL, c.ID)
}

// Deliver pushes an upstream-originated line down to this client as a
// PRIVMSG/NOTICE with the original prefix, or a synthetic one if unknown.
func (f *Face) Deliver(c *relay.Client, sig *relay.BufferSignal) error {
	prefix := sig.Line.Prefix
	if prefix == "" {
		prefix = "weechat.relay.irc"
	}
	cmd := "PRIVMSG"
	if sig.Line.HasTag("notice") {
		cmd = "NOTICE"
	}
	return c.SendRaw(fmt.Sprintf(":%s %s %s :%s\r\n", prefix, cmd, sig.Buffer, sig.Line.Message))
}

// activateGreeting sends 001-005 plus synthetic JOIN/353/366 for every
// channel the upstream session is in.
func (f *Face) activateGreeting(c *relay.Client, nick string) error {
	lines := []string{
		fmt.Sprintf(":%s %03d %s :Welcome to the %s relay %s\r\n", f.ServerName, RPL_WELCOME, nick, f.Network, nick),
		fmt.Sprintf(":%s %03d %s :Your host is %s, relaying weecore\r\n", f.ServerName, RPL_YOURHOST, nick, f.ServerName),
		fmt.Sprintf(":%s %03d %s :This server was created %s\r\n", f.ServerName, RPL_CREATED, nick, time.Now().Format(time.RFC1123)),
		fmt.Sprintf(":%s %03d %s weecore-1.0 -- --\r\n", f.ServerName, RPL_MYINFO, nick),
		fmt.Sprintf(":%s %03d %s NETWORK=%s :are supported by this server\r\n", f.ServerName, RPL_ISUPPORT, nick, f.Network),
	}
	for _, l := range lines {
		if err := c.SendRaw(l); err != nil {
			return err
		}
	}
	for name, ch := range f.Upstream.Channels() {
		if err := f.synthChannel(c, nick, name, ch); err != nil {
			return err
		}
	}
	return nil
}

func (f *Face) synthChannel(c *relay.Client, nick, name string, ch *ircsession.Channel) error {
	if err := c.SendRaw(fmt.Sprintf(":%s!relay@weecore JOIN %s\r\n", nick, name)); err != nil {
		return err
	}
	var names []string
	for _, n := range ch.Nicks {
		prefix := ""
		if n.Flags.Has(ircsession.FlagOp) {
			prefix = "@"
		} else if n.Flags.Has(ircsession.FlagVoice) {
			prefix = "+"
		}
		names = append(names, prefix+n.Name)
	}
	if err := c.SendRaw(fmt.Sprintf(":%s %03d %s = %s :%s\r\n", f.ServerName, RPL_NAMREPLY, nick, name, strings.Join(names, " "))); err != nil {
		return err
	}
	return c.SendRaw(fmt.Sprintf(":%s %03d %s %s :End of /NAMES list.\r\n", f.ServerName, RPL_ENDOFNAMES, nick, name))
}

func splitVerb(line string) (verb, rest string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], line[i+1:]
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func splitTargetText(rest string) (target, text string, ok bool) {
	i := strings.IndexByte(rest, ' ')
	if i < 0 {
		return "", "", false
	}
	target = rest[:i]
	tail := strings.TrimSpace(rest[i+1:])
	text = strings.TrimPrefix(tail, ":")
	return target, text, true
}
