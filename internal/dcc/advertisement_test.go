package dcc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAdvertisementSend(t *testing.T) {
	// 127.0.0.1 as a big-endian uint32 is 2130706433.
	ad, err := ParseAdvertisement("SEND foo.txt 2130706433 5000 1234")
	require.NoError(t, err)
	assert.Equal(t, AdSend, ad.Kind)
	assert.Equal(t, "foo.txt", ad.Filename)
	assert.Equal(t, "127.0.0.1", ad.Addr)
	assert.Equal(t, 5000, ad.Port)
	assert.Equal(t, int64(1234), ad.Size)
}

func TestParseAdvertisementChat(t *testing.T) {
	ad, err := ParseAdvertisement("CHAT chat 2130706433 5001")
	require.NoError(t, err)
	assert.Equal(t, AdChat, ad.Kind)
	assert.Equal(t, "127.0.0.1", ad.Addr)
	assert.Equal(t, 5001, ad.Port)
}

func TestParseAdvertisementResumeAndAccept(t *testing.T) {
	ad, err := ParseAdvertisement("RESUME foo.txt 5000 400")
	require.NoError(t, err)
	assert.Equal(t, AdResume, ad.Kind)
	assert.Equal(t, "foo.txt", ad.Filename)
	assert.Equal(t, 5000, ad.Port)
	assert.Equal(t, int64(400), ad.Offset)

	ad, err = ParseAdvertisement("ACCEPT foo.txt 5000 400")
	require.NoError(t, err)
	assert.Equal(t, AdAccept, ad.Kind)
	assert.Equal(t, int64(400), ad.Offset)
}

func TestParseAdvertisementRejectsMalformedAndUnknown(t *testing.T) {
	_, err := ParseAdvertisement("")
	assert.Error(t, err)

	_, err = ParseAdvertisement("SEND foo.txt 2130706433")
	assert.Error(t, err)

	_, err = ParseAdvertisement("SEND foo.txt notanumber 5000 1234")
	assert.Error(t, err)

	_, err = ParseAdvertisement("XYZZY foo")
	assert.Error(t, err)
}

func TestEncodeAddrRoundTripsThroughParseAdvertisement(t *testing.T) {
	n, err := EncodeAddr(net.ParseIP("127.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(2130706433), n)

	_, err = EncodeAddr(net.ParseIP("::1"))
	assert.Error(t, err)
}

func TestFormatResumeAndAccept(t *testing.T) {
	assert.Equal(t, "RESUME foo.txt 5000 400", FormatResume("foo.txt", 5000, 400))
	assert.Equal(t, "ACCEPT foo.txt 5000 400", FormatAccept("foo.txt", 5000, 400))
}
