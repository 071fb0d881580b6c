package ircface

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weecore/weecore/internal/buffer"
	"github.com/weecore/weecore/internal/ircsession"
	"github.com/weecore/weecore/internal/relay"
)

type dispatchCall struct {
	argv        []string
	argvEOL     string
	relayOrigin string
}

type fakeUpstream struct {
	mu        sync.Mutex
	raw       []string
	dispatchd []dispatchCall
	channels  map[string]*ircsession.Channel
	bufs      map[string]*buffer.Buffer
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{channels: map[string]*ircsession.Channel{}, bufs: map[string]*buffer.Buffer{}}
}

func (f *fakeUpstream) SendRaw(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, line)
}

func (f *fakeUpstream) Channels() map[string]*ircsession.Channel { return f.channels }

func (f *fakeUpstream) Buffers() func(string) *buffer.Buffer {
	return func(name string) *buffer.Buffer { return f.bufs[name] }
}

func (f *fakeUpstream) Dispatch(buf *buffer.Buffer, argv []string, argvEOL string, relayOrigin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchd = append(f.dispatchd, dispatchCall{argv, argvEOL, relayOrigin})
	return nil
}

func startFace(t *testing.T, up *fakeUpstream, auth relay.Authenticator) (net.Listener, *relay.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	face := NewFace("weecore.relay", "weecorenet", up)
	l := relay.NewListener("irc", face, auth)
	go l.Serve(ln)
	t.Cleanup(func() { l.Close() })
	return ln, l
}

func registerClient(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte("PASS secret\r\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("NICK alice\r\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("USER alice 0 * :Alice\r\n"))
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	return conn, r
}

func TestRegistrationSendsWelcomeBurst(t *testing.T) {
	up := newFakeUpstream()
	ln, _ := startFace(t, up, relay.PasswordAuthenticator("secret"))
	conn, r := registerClient(t, ln.Addr().String())
	defer conn.Close()

	welcome, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, welcome, "001")
	assert.Contains(t, welcome, "alice")
}

func TestPrivmsgRoutesToLocalDispatchWithOrigin(t *testing.T) {
	up := newFakeUpstream()
	up.bufs["#ch"] = &buffer.Buffer{Plugin: "irc", Name: "#ch"}
	ln, _ := startFace(t, up, relay.PasswordAuthenticator("secret"))
	conn, r := registerClient(t, ln.Addr().String())
	defer conn.Close()

	_, err := r.ReadString('\n') // 001
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _ = r.ReadString('\n') // drain 002-004
	}

	_, err = conn.Write([]byte("PRIVMSG #ch :hello there\r\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		up.mu.Lock()
		defer up.mu.Unlock()
		return len(up.dispatchd) == 1
	}, time.Second, 10*time.Millisecond)

	up.mu.Lock()
	defer up.mu.Unlock()
	require.Len(t, up.dispatchd, 1)
	assert.Equal(t, []string{"privmsg", "#ch"}, up.dispatchd[0].argv)
	assert.NotEmpty(t, up.dispatchd[0].relayOrigin)
}

func TestUnknownVerbForwardedRaw(t *testing.T) {
	up := newFakeUpstream()
	ln, _ := startFace(t, up, relay.PasswordAuthenticator("secret"))
	conn, r := registerClient(t, ln.Addr().String())
	defer conn.Close()
	for i := 0; i < 4; i++ {
		_, _ = r.ReadString('\n')
	}

	_, err := conn.Write([]byte("WHOIS bob\r\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		up.mu.Lock()
		defer up.mu.Unlock()
		return len(up.raw) == 1
	}, time.Second, 10*time.Millisecond)
	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, "WHOIS bob", up.raw[0])
}

func TestQuitAndPongAreNotForwarded(t *testing.T) {
	up := newFakeUpstream()
	ln, _ := startFace(t, up, relay.PasswordAuthenticator("secret"))
	conn, r := registerClient(t, ln.Addr().String())
	defer conn.Close()
	for i := 0; i < 4; i++ {
		_, _ = r.ReadString('\n')
	}

	_, err := conn.Write([]byte("QUIT :bye\r\nPONG server\r\n"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Empty(t, up.raw)
}
