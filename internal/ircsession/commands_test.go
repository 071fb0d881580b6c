package ircsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weecore/weecore/internal/buffer"
	"github.com/weecore/weecore/internal/option"
)

func TestDispatchUnknownCommandErrors(t *testing.T) {
	d := &Dispatcher{Table: DefaultTable()}
	set := buffer.NewSet()
	buf, _ := set.New("irc", "#chan", buffer.KindFormatted, nil)

	res, err := d.Dispatch(buf, []string{"bogus"}, "bogus")
	assert.Equal(t, buffer.CmdError, res)
	assert.Error(t, err)
}

func TestDispatchRefusesWhenNotConnected(t *testing.T) {
	d := &Dispatcher{Table: DefaultTable(), CurrentSrv: func() *Server { return nil }}
	set := buffer.NewSet()
	buf, _ := set.New("irc", "#chan", buffer.KindFormatted, nil)

	res, err := d.Dispatch(buf, []string{"join", "#other"}, "join #other")
	assert.Equal(t, buffer.CmdError, res)
	assert.Error(t, err)
}

func TestDispatchArgcValidation(t *testing.T) {
	d := &Dispatcher{Table: DefaultTable()}
	set := buffer.NewSet()
	buf, _ := set.New("irc", "#chan", buffer.KindFormatted, nil)

	res, err := d.Dispatch(buf, []string{"msg", "onlyone"}, "msg onlyone")
	assert.Equal(t, buffer.CmdError, res)
	assert.Error(t, err)
}

func TestPrivmsgAndNoticeAreRegistered(t *testing.T) {
	table := DefaultTable()
	for _, name := range []string{"privmsg", "notice"} {
		cmd, ok := table.Lookup(name)
		assert.True(t, ok, "%s should be registered", name)
		assert.NotNil(t, cmd.SendArgs)
		assert.Equal(t, 1, cmd.MinArgc)
		assert.Equal(t, 1, cmd.MaxArgc)
	}
}

func TestTextAfterColonSplitsOnFirstColon(t *testing.T) {
	assert.Equal(t, "hello world", textAfterColon("#chan :hello world"))
	assert.Equal(t, "no colon here", textAfterColon("no colon here"))
	assert.Equal(t, "", textAfterColon("#chan :"))
}

func TestDispatchExpandsAliasBeforeLookup(t *testing.T) {
	aliases := option.NewFile("alias", nil)
	aliases.Aliases["byebye"] = "quit"
	d := &Dispatcher{Table: DefaultTable(), Aliases: aliases}
	set := buffer.NewSet()
	buf, _ := set.New("irc", "#chan", buffer.KindFormatted, nil)

	res, err := d.Dispatch(buf, []string{"byebye", "goodnight"}, "byebye goodnight")
	require.NoError(t, err)
	assert.Equal(t, buffer.CmdOK, res)
}

func TestDispatchWithNilAliasesSkipsExpansion(t *testing.T) {
	d := &Dispatcher{Table: DefaultTable()}
	set := buffer.NewSet()
	buf, _ := set.New("irc", "#chan", buffer.KindFormatted, nil)

	res, err := d.Dispatch(buf, []string{"bogus"}, "bogus")
	assert.Equal(t, buffer.CmdError, res)
	assert.Error(t, err)
}

func TestDispatchRefusesPrivmsgWhenNotConnected(t *testing.T) {
	d := &Dispatcher{Table: DefaultTable(), CurrentSrv: func() *Server { return nil }}
	set := buffer.NewSet()
	buf, _ := set.New("irc", "#chan", buffer.KindFormatted, nil)

	res, err := d.Dispatch(buf, []string{"privmsg", "#chan"}, "privmsg #chan :hi")
	assert.Equal(t, buffer.CmdError, res)
	assert.Error(t, err)
}
