package relay

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weecore/weecore/internal/buffer"
)

// echoFace is a minimal relay.Face: authenticate on the first line via
// CheckAuth and ignore every later line; Deliver writes each published
// signal's message to the client verbatim, exercising exactly the
// echo-suppression path PublishLine/Deliver drive in production.
type echoFace struct{}

func (echoFace) Greet(c *Client) error { return c.SendRaw("GREETED\n") }

func (echoFace) HandleLine(c *Client, line string) error {
	if c.State() == StateAuthenticating {
		if !c.Listener().CheckAuth(line) {
			return nil
		}
		return c.Listener().Activate(c)
	}
	return nil
}

func (echoFace) Deliver(c *Client, sig *BufferSignal) error {
	return c.SendRaw(sig.Line.Message + "\n")
}

func startListener(t *testing.T, auth Authenticator) (*Listener, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	l := NewListener("test", echoFace{}, auth)
	go l.Serve(ln)
	t.Cleanup(func() { l.Close() })
	return l, ln
}

func dialAndAuth(t *testing.T, addr string, password string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte(password + "\n"))
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	greet, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "GREETED\n", greet)
	return conn, r
}

// TestS5EchoSuppression implements scenario S5 / property 7: the client
// that originated a published line never receives it back, but other
// clients do.
func TestS5EchoSuppression(t *testing.T) {
	l, ln := startListener(t, PasswordAuthenticator("secret"))

	connA, rA := dialAndAuth(t, ln.Addr().String(), "secret")
	defer connA.Close()
	connB, rB := dialAndAuth(t, ln.Addr().String(), "secret")
	defer connB.Close()

	// give the accept goroutines time to register their Signals subscriber
	time.Sleep(50 * time.Millisecond)

	clients := l.Clients()
	require.Len(t, clients, 2)
	var originID string
	for _, c := range clients {
		if c.Conn.RemoteAddr().String() == connA.LocalAddr().String() {
			originID = c.ID
		}
	}
	require.NotEmpty(t, originID)

	line := &buffer.Line{Message: "yo"}
	l.PublishLine("irc", "#ch", line, originID)

	readWithTimeout := func(r *bufio.Reader) (string, bool) {
		type res struct {
			s   string
			err error
		}
		ch := make(chan res, 1)
		go func() {
			s, err := r.ReadString('\n')
			ch <- res{s, err}
		}()
		select {
		case got := <-ch:
			return got.s, got.err == nil
		case <-time.After(300 * time.Millisecond):
			return "", false
		}
	}

	gotB, ok := readWithTimeout(rB)
	require.True(t, ok, "B should receive the relayed line")
	assert.Equal(t, "yo\n", gotB)

	_, ok = readWithTimeout(rA)
	assert.False(t, ok, "A (the origin) must not receive its own line back")
}

func TestAuthFailureNeverActivates(t *testing.T) {
	_, ln := startListener(t, PasswordAuthenticator("secret"))

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("wrong\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	r := bufio.NewReader(conn)
	_, err = r.ReadString('\n')
	assert.Error(t, err) // no GREETED line ever arrives
}

func TestPurgeRemovesDisconnectedClients(t *testing.T) {
	l, ln := startListener(t, PasswordAuthenticator("secret"))

	conn, _ := dialAndAuth(t, ln.Addr().String(), "secret")
	time.Sleep(50 * time.Millisecond)
	require.Len(t, l.Clients(), 1)

	conn.Close()
	// give the server-side read loop time to observe EOF and clean up
	require.Eventually(t, func() bool { return len(l.Clients()) == 0 }, time.Second, 10*time.Millisecond)
}
