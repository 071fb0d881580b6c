package dcc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDialer wraps net.Dial and records that it was used, standing
// in for a proxy.Dialer in tests.
type recordingDialer struct {
	used int32
}

func (d *recordingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.used = 1
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, addr)
}

// TestTransferMonotonicityAndTerminalStatus implements property 9: a
// full send/recv round trip over loopback TCP, end to end.
func TestTransferMonotonicityAndTerminalStatus(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	payload := make([]byte, 50000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)

	sender, err := SendFile("peer", ln, srcPath, 4096)
	require.NoError(t, err)

	dstPath := filepath.Join(dir, "dst.bin")
	recv := NewIncomingFile("peer", "127.0.0.1", addr.Port, "src.bin", int64(len(payload)))

	var lastPos int64
	recv.Progress = func(pos, size int64) {
		assert.GreaterOrEqual(t, pos, lastPos)
		assert.LessOrEqual(t, pos, size)
		lastPos = pos
	}
	require.NoError(t, recv.AcceptIncoming(dstPath))

	waitDone(t, sender, 5*time.Second)
	waitDone(t, recv, 5*time.Second)

	assert.True(t, recv.Status().Terminal())
	assert.Contains(t, []Status{StatusDone}, recv.Status())
	assert.Equal(t, int64(len(payload)), recv.Pos())

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// TestS6DCCResume implements scenario S6.
func TestS6DCCResume(t *testing.T) {
	dir := t.TempDir()
	full := make([]byte, 1000)
	for i := range full {
		full[i] = byte(i)
	}

	dstPath := filepath.Join(dir, "foo")
	require.NoError(t, os.WriteFile(dstPath, full[:400], 0o644))

	srcPath := filepath.Join(dir, "foo.src")
	require.NoError(t, os.WriteFile(srcPath, full, 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)

	recv := NewIncomingFile("peer", "127.0.0.1", addr.Port, "foo", 1000)
	recv.Resume(400) // "DCC RESUME foo <port> 400" was issued; peer answered ACCEPT
	assert.Equal(t, int64(400), recv.Pos())

	sender, err := SendFile("peer", ln, srcPath, 4096)
	require.NoError(t, err)
	sender.Resume(400)

	require.NoError(t, recv.AcceptIncoming(dstPath))

	waitDone(t, sender, 5*time.Second)
	waitDone(t, recv, 5*time.Second)

	assert.Equal(t, StatusDone, recv.Status())
	assert.Equal(t, int64(1000), recv.Pos())

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestResolveDestinationAutoRename(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o644))

	got := ResolveDestination(dir, "file.txt", true)
	assert.Equal(t, filepath.Join(dir, "file.txt.1"), got)

	gotNoRename := ResolveDestination(dir, "file.txt", false)
	assert.Equal(t, filepath.Join(dir, "file.txt"), gotNoRename)
}

func TestAcceptIncomingUsesConfiguredDialer(t *testing.T) {
	dir := t.TempDir()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)

	dialer := &recordingDialer{}
	recv := NewIncomingFile("peer", "127.0.0.1", addr.Port, "via-proxy", 3)
	recv.Dialer = dialer

	sender, err := SendFile("peer", ln, writeTempFile(t, dir, "abc"), 4096)
	require.NoError(t, err)

	require.NoError(t, recv.AcceptIncoming(filepath.Join(dir, "out")))
	waitDone(t, sender, 5*time.Second)
	waitDone(t, recv, 5*time.Second)

	assert.EqualValues(t, 1, dialer.used)
	assert.Equal(t, StatusDone, recv.Status())
}

func writeTempFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestAbortTransitionsToAborted(t *testing.T) {
	dir := t.TempDir()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)

	recv := NewIncomingFile("peer", "127.0.0.1", addr.Port, "never-sent", 0)
	require.NoError(t, recv.AcceptIncoming(filepath.Join(dir, "out")))
	recv.Abort()
	waitDone(t, recv, 5*time.Second)
	assert.True(t, recv.Status().Terminal())
}

func waitDone(t *testing.T, tr *Transfer, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() { tr.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("transfer did not finish in time")
	}
}
