package ircsession

import "strings"

// ChannelType distinguishes the three room shapes spec §3/GLOSSARY unify
// under one record.
type ChannelType int

const (
	ChannelTypeChannel ChannelType = iota
	ChannelTypePrivate
	ChannelTypeDCCChat
)

// Channel is one joined room, keyed case-insensitively by name (spec §3
// "IRC channel"). Attribute modes without a flag-per-nick meaning (key,
// limit) live in Modes; per-nick flags live on each Nick.
type Channel struct {
	Name             string
	Type             ChannelType
	Topic            string
	Modes            map[byte]string // e.g. 'k' -> key, 'l' -> limit
	Nicks            map[string]*Nick // keyed by lowercased nick
	ShowCreationDate bool
	AwayCheck        bool
}

// NewChannel allocates an empty channel ready for membership.
func NewChannel(name string, typ ChannelType) *Channel {
	return &Channel{
		Name:  name,
		Type:  typ,
		Modes: make(map[byte]string),
		Nicks: make(map[string]*Nick),
	}
}

func nickKey(name string) string { return strings.ToLower(name) }

// AddNick registers a membership entry with no flags set, per JOIN
// (self or observed) in spec §4.6.
func (c *Channel) AddNick(name, host string) *Nick {
	n := &Nick{Name: name, Host: host, Color: ColorFor(name)}
	c.Nicks[nickKey(name)] = n
	return n
}

// Nick looks up a member by name, case-insensitively.
func (c *Channel) Nick(name string) (*Nick, bool) {
	n, ok := c.Nicks[nickKey(name)]
	return n, ok
}

// RemoveNick drops a membership entry (PART/KICK, spec §4.6).
func (c *Channel) RemoveNick(name string) {
	delete(c.Nicks, nickKey(name))
}

// RenameNick moves a membership entry to a new name on NICK change,
// preserving its flags and host (spec §4.6 "update all channels
// containing the old nick").
func (c *Channel) RenameNick(oldName, newName string) {
	n, ok := c.Nicks[nickKey(oldName)]
	if !ok {
		return
	}
	delete(c.Nicks, nickKey(oldName))
	n.Name = newName
	n.Color = ColorFor(newName)
	c.Nicks[nickKey(newName)] = n
}
