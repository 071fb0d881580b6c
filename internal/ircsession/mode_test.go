package ircsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestS3ChannelModeWithParameter implements scenario S3 literally.
func TestS3ChannelModeWithParameter(t *testing.T) {
	ch := NewChannel("#t", ChannelTypeChannel)
	ch.AddNick("bob", "")

	require.NoError(t, ApplyMode(ch, "+o", []string{"bob"}))
	n, _ := ch.Nick("bob")
	assert.True(t, n.Flags.Has(FlagOp))

	require.NoError(t, ApplyMode(ch, "-o+v", []string{"bob", "bob"}))
	n, _ = ch.Nick("bob")
	assert.False(t, n.Flags.Has(FlagOp))
	assert.True(t, n.Flags.Has(FlagVoice))
}

// TestModeRoundTripRestoresFlags implements property 4.
func TestModeRoundTripRestoresFlags(t *testing.T) {
	ch := NewChannel("#t", ChannelTypeChannel)
	ch.AddNick("nick", "")

	require.NoError(t, ApplyMode(ch, "+o", []string{"nick"}))
	n, _ := ch.Nick("nick")
	assert.True(t, n.Flags.Has(FlagOp))

	require.NoError(t, ApplyMode(ch, "-o", []string{"nick"}))
	n, _ = ch.Nick("nick")
	assert.False(t, n.Flags.Has(FlagOp))
}

func TestModeKeyAndLimitDoNotConsumeParamOnRemove(t *testing.T) {
	ch := NewChannel("#t", ChannelTypeChannel)
	require.NoError(t, ApplyMode(ch, "+lk", []string{"50", "secret"}))
	assert.Equal(t, "50", ch.Modes['l'])
	assert.Equal(t, "secret", ch.Modes['k'])

	require.NoError(t, ApplyMode(ch, "-lk", nil))
	_, hasL := ch.Modes['l']
	_, hasK := ch.Modes['k']
	assert.False(t, hasL)
	assert.False(t, hasK)
}

func TestUnknownModeLetterAcceptedSilently(t *testing.T) {
	ch := NewChannel("#t", ChannelTypeChannel)
	assert.NoError(t, ApplyMode(ch, "+z", nil))
	assert.Equal(t, "", ch.Modes['z'])
}
