package runtime

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/weecore/weecore/internal/ircsession"
	"github.com/weecore/weecore/internal/option"
)

// serverSectionPrefix names every section holding one server's connection
// settings, e.g. "server.freenode" (spec §6's persisted "[section]" /
// "key = value" format, generalized from one fixed options list to one
// section per configured IRC server).
const serverSectionPrefix = "server."

// SaveServerDefs writes every configured server's connection settings to w
// in option.File's line format, one section per server.
func (rt *Runtime) SaveServerDefs(w io.Writer) error {
	rt.mu.Lock()
	names := make([]string, 0, len(rt.servers))
	for name := range rt.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	srvs := make(map[string]*ircsession.Server, len(names))
	for _, name := range names {
		srvs[name] = rt.servers[name]
	}
	rt.mu.Unlock()

	f := option.NewFile("irc", nil)
	for _, name := range names {
		cfg := srvs[name].Cfg
		s := f.NewSection(serverSectionPrefix+name, false, false)
		if err := writeServerOptions(s, cfg); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func writeServerOptions(s *option.Section, cfg ircsession.Config) error {
	str := func(n, v string) error {
		_, err := s.NewOption(n, option.TypeString, "", nil, 0, 0, v, v, true, nil, nil, nil)
		return err
	}
	intOpt := func(n string, v int) error {
		_, err := s.NewOption(n, option.TypeInt, "", nil, 0, 1<<30, strconv.Itoa(v), strconv.Itoa(v), false, nil, nil, nil)
		return err
	}
	boolOpt := func(n string, v bool) error {
		val := "off"
		if v {
			val = "on"
		}
		_, err := s.NewOption(n, option.TypeBool, "", nil, 0, 0, val, val, false, nil, nil, nil)
		return err
	}

	for _, fn := range []func() error{
		func() error { return str("address", cfg.Address) },
		func() error { return intOpt("port", cfg.Port) },
		func() error { return boolOpt("ipv6", cfg.IPv6) },
		func() error { return boolOpt("ssl", cfg.SSL) },
		func() error { return str("password", cfg.Password) },
		func() error { return str("nicks", strings.Join(cfg.Nicks, ",")) },
		func() error { return str("username", cfg.User) },
		func() error { return str("realname", cfg.RealName) },
		func() error { return boolOpt("autoconnect", cfg.Autoconnect) },
		func() error { return boolOpt("autoreconnect", cfg.Autoreconnect) },
		func() error { return str("autojoin", strings.Join(cfg.Autojoin, ",")) },
		func() error { return str("command_on_connect", strings.Join(cfg.CommandOnConnect, ";")) },
		func() error { return intOpt("command_delay_ms", int(cfg.CommandDelay/time.Millisecond)) },
		func() error { return str("charset", cfg.Charset) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// LoadServerDefs reads r in option.File's line format and calls AddServer
// for every "server.<name>" section found, returning the names added and
// any non-fatal parse warnings. A server name already configured on this
// Runtime is skipped, not an error, so a definitions file can be reloaded
// without tearing down live connections first.
//
// option.File.Read only stores a key under a section that already knows
// about it (spec §4.2's "unknown option, ignored"); since a definitions
// file's sections aren't known ahead of time, this pre-scans for section
// headers and gives each one an AllowAdd CreateOptionCB that accepts any
// key as a plain string option, then parses for real.
func (rt *Runtime) LoadServerDefs(r io.Reader) ([]string, []string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}

	f := option.NewFile("irc", nil)
	for _, name := range scanSectionNames(data) {
		s := f.NewSection(name, true, true)
		s.CreateOptionCB = func(sec *option.Section, key, value string) error {
			_, err := sec.NewOption(key, option.TypeString, "", nil, 0, 0, value, value, true, nil, nil, nil)
			return err
		}
	}
	warnings, err := f.Read(bytes.NewReader(data))
	if err != nil {
		return nil, warnings, err
	}

	var added []string
	for _, s := range f.Sections() {
		name := strings.TrimPrefix(s.Name, serverSectionPrefix)
		if name == s.Name {
			continue // not a server section
		}
		if _, exists := rt.Server(name); exists {
			continue
		}
		cfg, err := readServerOptions(s)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("server %q: %v", name, err))
			continue
		}
		if _, err := rt.AddServer(name, cfg); err != nil {
			warnings = append(warnings, fmt.Sprintf("server %q: %v", name, err))
			continue
		}
		added = append(added, name)
	}
	return added, warnings, nil
}

func readServerOptions(s *option.Section) (ircsession.Config, error) {
	var cfg ircsession.Config
	get := func(n string) string {
		o, ok := s.Option(n)
		if !ok {
			return ""
		}
		return o.Current
	}
	port, err := strconv.Atoi(get("port"))
	if err != nil && get("port") != "" {
		return cfg, fmt.Errorf("invalid port: %w", err)
	}
	delayMs, _ := strconv.Atoi(get("command_delay_ms"))

	cfg = ircsession.Config{
		Address:       get("address"),
		Port:          port,
		IPv6:          get("ipv6") == "on",
		SSL:           get("ssl") == "on",
		Password:      get("password"),
		Nicks:         splitNonEmpty(get("nicks")),
		User:          get("username"),
		RealName:      get("realname"),
		Autoconnect:   get("autoconnect") == "on",
		Autoreconnect: get("autoreconnect") == "on",
		Autojoin:      splitNonEmpty(get("autojoin")),
		CommandDelay:  time.Duration(delayMs) * time.Millisecond,
		Charset:       get("charset"),
	}
	if raw := get("command_on_connect"); raw != "" {
		cfg.CommandOnConnect = strings.Split(raw, ";")
	}
	if len(cfg.Nicks) == 0 {
		return cfg, fmt.Errorf("at least one nick is required")
	}
	return cfg, nil
}

func scanSectionNames(data []byte) []string {
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") && len(t) > 2 {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(t, "["), "]"))
		}
	}
	return names
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
