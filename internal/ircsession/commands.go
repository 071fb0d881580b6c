package ircsession

import (
	"fmt"
	"strings"

	"github.com/weecore/weecore/internal/buffer"
	"github.com/weecore/weecore/internal/option"
)

// Command is one declarative command-table row (spec §4.7). Exactly one
// of SendArgs/SendRaw is populated for a send-capable command; numeric
// reply rows only populate RecvFn.
type Command struct {
	Name               string
	HelpDesc           string
	HelpArgs           string
	HelpArgsDesc       string
	CompletionTemplate string
	MinArgc            int
	MaxArgc            int // -1 means unbounded
	ConvertsArgs       bool
	NeedsConnection    bool

	SendArgs func(s *Server, ch *buffer.Buffer, argv []string, argvEOL string) error
	SendRaw  func(s *Server, ch *buffer.Buffer, raw string) error
	RecvFn   func(s *Server, host string, args []string) error
}

// Table is the name → Command map the runtime dispatches through.
type Table struct {
	byName map[string]*Command
}

// NewTable builds an empty command table.
func NewTable() *Table { return &Table{byName: make(map[string]*Command)} }

// Register adds or replaces a command row.
func (t *Table) Register(c *Command) { t.byName[strings.ToLower(c.Name)] = c }

// Lookup finds a command by verb, case-insensitively.
func (t *Table) Lookup(name string) (*Command, bool) {
	c, ok := t.byName[strings.ToLower(name)]
	return c, ok
}

// Dispatcher adapts a Table + the currently-selected Server into the
// buffer.CommandDispatcher interface, so Buffer.HandleInput's "/verb..."
// path reaches the command table (spec §4.4/§4.7).
type Dispatcher struct {
	Table      *Table
	CurrentSrv func() *Server

	// Aliases, if set, is consulted before Table.Lookup: if argv[0] names
	// an alias, the line is substituted and re-tokenized before dispatch
	// (spec §9 historical-ambiguity note).
	Aliases *option.File
}

func (d *Dispatcher) Dispatch(buf *buffer.Buffer, argv []string, argvEOL string) (buffer.CommandResult, error) {
	if len(argv) == 0 {
		return buffer.CmdError, fmt.Errorf("ircsession: empty command")
	}
	if d.Aliases != nil {
		expanded, err := d.Aliases.ExpandAlias(argvEOL)
		if err != nil {
			return buffer.CmdError, fmt.Errorf("ircsession: %w", err)
		}
		if expanded != argvEOL {
			argv, argvEOL = buffer.TokenizeCommand(expanded)
		}
	}
	cmd, ok := d.Table.Lookup(argv[0])
	if !ok {
		return buffer.CmdError, fmt.Errorf("ircsession: unknown command %q", argv[0])
	}

	argc := len(argv) - 1
	if argc < cmd.MinArgc || (cmd.MaxArgc >= 0 && argc > cmd.MaxArgc) {
		return buffer.CmdError, fmt.Errorf("ircsession: %s takes %d-%d arguments, got %d", cmd.Name, cmd.MinArgc, cmd.MaxArgc, argc)
	}

	var srv *Server
	if d.CurrentSrv != nil {
		srv = d.CurrentSrv()
	}
	if cmd.NeedsConnection && (srv == nil || !srv.IsConnected()) {
		return buffer.CmdError, fmt.Errorf("ircsession: %s requires a connected server", cmd.Name)
	}

	var err error
	switch {
	case cmd.SendRaw != nil:
		raw := argvEOL
		if len(argv) > 1 {
			raw = strings.Join(argv[1:], " ")
			if i := strings.Index(argvEOL, argv[1]); i >= 0 {
				raw = argvEOL[i:]
			}
		}
		err = cmd.SendRaw(srv, buf, raw)
	case cmd.SendArgs != nil:
		err = cmd.SendArgs(srv, buf, argv[1:], argvEOL)
	default:
		return buffer.CmdError, fmt.Errorf("ircsession: %s has no send handler", cmd.Name)
	}
	if err != nil {
		return buffer.CmdError, err
	}
	return buffer.CmdOK, nil
}

// DefaultTable builds the core join/part/msg/nick/quit rows. Handlers
// that manipulate "the current channel" refuse cleanly when buf isn't a
// channel buffer, per spec §4.7.
func DefaultTable() *Table {
	t := NewTable()
	t.Register(&Command{
		Name: "join", MinArgc: 1, MaxArgc: 2, NeedsConnection: true,
		HelpDesc: "join a channel",
		SendArgs: func(s *Server, buf *buffer.Buffer, argv []string, _ string) error {
			if s.Client == nil {
				return fmt.Errorf("ircsession: no live connection")
			}
			if len(argv) > 1 {
				s.Client.Cmd.JoinKey(argv[0], argv[1])
			} else {
				s.Client.Cmd.Join(argv[0])
			}
			return nil
		},
	})
	t.Register(&Command{
		Name: "part", MinArgc: 0, MaxArgc: 2, NeedsConnection: true,
		HelpDesc: "leave a channel",
		SendArgs: func(s *Server, buf *buffer.Buffer, argv []string, _ string) error {
			target := buf.Name
			if len(argv) > 0 {
				target = argv[0]
			}
			if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
				return fmt.Errorf("ircsession: part requires a channel buffer or name")
			}
			s.Client.Cmd.Part(target)
			return nil
		},
	})
	t.Register(&Command{
		Name: "msg", MinArgc: 2, MaxArgc: -1, NeedsConnection: true,
		HelpDesc: "send a message to a nick or channel",
		SendArgs: func(s *Server, buf *buffer.Buffer, argv []string, argvEOL string) error {
			msg := strings.Join(argv[1:], " ")
			s.Client.Cmd.Message(argv[0], msg)
			buf.Append(s.CurrentNick(), msg, nil)
			return nil
		},
	})
	// privmsg/notice are the relay face's send path (spec §4.10): a relay
	// client's typed PRIVMSG/NOTICE arrives here as "<target> :<text>"
	// rather than the space-joined form /msg takes from a human typing at
	// a prompt, so text is recovered from argvEOL's first colon instead
	// of from argv.
	t.Register(&Command{
		Name: "privmsg", MinArgc: 1, MaxArgc: 1, NeedsConnection: true,
		HelpDesc: "send a message to a nick or channel (relay wire form)",
		SendArgs: func(s *Server, buf *buffer.Buffer, argv []string, argvEOL string) error {
			text := textAfterColon(argvEOL)
			s.Client.Cmd.Message(argv[0], text)
			buf.Append(s.CurrentNick(), text, nil)
			return nil
		},
	})
	t.Register(&Command{
		Name: "notice", MinArgc: 1, MaxArgc: 1, NeedsConnection: true,
		HelpDesc: "send a notice to a nick or channel (relay wire form)",
		SendArgs: func(s *Server, buf *buffer.Buffer, argv []string, argvEOL string) error {
			text := textAfterColon(argvEOL)
			s.Client.Cmd.Notice(argv[0], text)
			buf.Append(s.CurrentNick(), text, []string{"notice"})
			return nil
		},
	})
	t.Register(&Command{
		Name: "nick", MinArgc: 1, MaxArgc: 1, NeedsConnection: true,
		HelpDesc: "change nickname",
		SendArgs: func(s *Server, buf *buffer.Buffer, argv []string, _ string) error {
			s.Client.Cmd.Nick(argv[0])
			return nil
		},
	})
	t.Register(&Command{
		Name: "quit", MinArgc: 0, MaxArgc: -1, NeedsConnection: false,
		HelpDesc: "disconnect",
		SendRaw: func(s *Server, buf *buffer.Buffer, raw string) error {
			if s != nil && s.Client != nil {
				s.Client.Cmd.Quit(raw)
			}
			return nil
		},
	})
	return t
}

// textAfterColon returns everything following the first ':' in s, or s
// unchanged if there is none.
func textAfterColon(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}
