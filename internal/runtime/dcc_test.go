package runtime

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lrstanley/girc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weecore/weecore/internal/config"
	"github.com/weecore/weecore/internal/dcc"
	"github.com/weecore/weecore/internal/ircsession"
)

func debugGircClient(buf *bytes.Buffer) *girc.Client {
	return girc.New(girc.Config{Server: "irc.example.org", Nick: "alice", Debug: buf})
}

// TestHandleDCCAdvertisementImplementsScenarioS6 reproduces spec scenario
// S6 end to end: a partial 400-byte local file plus an incoming
// advertisement for the full 1000-byte remote file must produce an
// outbound "DCC RESUME foo 5000 400"-shaped request, and once the peer's
// "DCC ACCEPT" arrives, the transfer resumes at 400 and reaches done at
// 1000.
func TestHandleDCCAdvertisementImplementsScenarioS6(t *testing.T) {
	dir := t.TempDir()
	full := make([]byte, 1000)
	for i := range full {
		full[i] = byte(i % 251)
	}
	srcPath := filepath.Join(dir, "src-foo.bin")
	require.NoError(t, os.WriteFile(srcPath, full, 0o644))

	localPath := filepath.Join(dir, "foo")
	require.NoError(t, os.WriteFile(localPath, full[:400], 0o644))

	settings := config.Defaults()
	settings.DCC.DownloadDir = dir
	settings.DCC.AutoResume = true
	settings.DCC.AutoRename = false
	settings.DCC.AutoAcceptMaxBytes = 0

	rt := New(settings, nil)
	srv, err := rt.AddServer("freenode", ircsession.Config{Nicks: []string{"alice"}})
	require.NoError(t, err)

	var sent bytes.Buffer
	srv.Client = debugGircClient(&sent)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	rt.handleDCCAdvertisement("freenode", srv, "bob", dcc.Advertisement{
		Kind:     dcc.AdSend,
		Filename: "foo",
		Addr:     "127.0.0.1",
		Port:     port,
		Size:     1000,
	})

	assert.Contains(t, sent.String(), "DCC RESUME foo")
	assert.Contains(t, sent.String(), "400")

	sender, err := dcc.SendFile("alice", ln, srcPath, 4096)
	require.NoError(t, err)
	sender.Resume(400)

	rt.handleDCCAdvertisement("freenode", srv, "bob", dcc.Advertisement{
		Kind:     dcc.AdAccept,
		Filename: "foo",
		Port:     port,
		Offset:   400,
	})

	deadline := time.After(5 * time.Second)
	for {
		rt.mu.Lock()
		_, pending := rt.pendingDCC[pendingDCCKey{server: "freenode", peer: "bob", filename: "foo", port: port}]
		rt.mu.Unlock()
		if !pending {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for resume to be accepted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sender.Wait()

	out, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, full, out)
}

func TestHandleDCCAdvertisementAutoAcceptsWithinCap(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("hello world")
	srcPath := filepath.Join(dir, "src-small.bin")
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	settings := config.Defaults()
	settings.DCC.DownloadDir = dir
	settings.DCC.AutoAcceptMaxBytes = int64(len(payload))
	settings.DCC.AutoRename = false

	rt := New(settings, nil)
	srv, err := rt.AddServer("freenode", ircsession.Config{Nicks: []string{"alice"}})
	require.NoError(t, err)

	var sent bytes.Buffer
	srv.Client = debugGircClient(&sent)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	sender, err := dcc.SendFile("alice", ln, srcPath, 4096)
	require.NoError(t, err)

	rt.handleDCCAdvertisement("freenode", srv, "bob", dcc.Advertisement{
		Kind:     dcc.AdSend,
		Filename: "small.bin",
		Addr:     "127.0.0.1",
		Port:     port,
		Size:     int64(len(payload)),
	})

	sender.Wait()
	out, err := os.ReadFile(filepath.Join(dir, "small.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	assert.Empty(t, sent.String(), "auto-accept should not send a RESUME request")
}

func TestHandleDCCAdvertisementWaitsWhenOverCapAndNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	settings := config.Defaults()
	settings.DCC.DownloadDir = dir
	settings.DCC.AutoAcceptMaxBytes = 10
	settings.DCC.AutoResume = true

	rt := New(settings, nil)
	srv, err := rt.AddServer("freenode", ircsession.Config{Nicks: []string{"alice"}})
	require.NoError(t, err)

	var sent bytes.Buffer
	srv.Client = debugGircClient(&sent)

	rt.handleDCCAdvertisement("freenode", srv, "bob", dcc.Advertisement{
		Kind:     dcc.AdSend,
		Filename: "big.bin",
		Addr:     "127.0.0.1",
		Port:     5000,
		Size:     1000,
	})

	assert.Empty(t, sent.String())
	assert.Empty(t, rt.transfers)
	_, err = os.Stat(filepath.Join(dir, "big.bin"))
	assert.True(t, os.IsNotExist(err))
}
