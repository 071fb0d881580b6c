package runtime

import (
	"os"

	"github.com/weecore/weecore/internal/dcc"
	"github.com/weecore/weecore/internal/ircsession"
)

// pendingDCCKey identifies one inbound "DCC SEND" advertisement a RESUME
// request has been sent for, awaiting the peer's "DCC ACCEPT" before the
// transfer actually starts (scenario S6).
type pendingDCCKey struct {
	server   string
	peer     string
	filename string
	port     int
}

type pendingDCCEntry struct {
	transfer  *dcc.Transfer
	localPath string
}

// handleDCCAdvertisement implements spec §4.8's inbound DCC policy: a SEND
// whose size is within the configured cap is auto-accepted immediately; one
// that instead matches a partial local file, with auto-resume enabled,
// gets a RESUME request instead and waits for the peer's ACCEPT; anything
// else is left waiting for a user command to accept it explicitly.
func (rt *Runtime) handleDCCAdvertisement(serverName string, srv *ircsession.Server, from string, ad dcc.Advertisement) {
	switch ad.Kind {
	case dcc.AdSend:
		rt.handleIncomingSend(serverName, srv, from, ad)
	case dcc.AdAccept:
		rt.handleIncomingAccept(serverName, from, ad)
	}
}

func (rt *Runtime) downloadDir() string {
	if rt.Settings != nil && rt.Settings.DCC.DownloadDir != "" {
		return rt.Settings.DCC.DownloadDir
	}
	return "."
}

func (rt *Runtime) handleIncomingSend(serverName string, srv *ircsession.Server, from string, ad dcc.Advertisement) {
	var autoRename, autoResume bool
	var cap int64
	if rt.Settings != nil {
		autoRename = rt.Settings.DCC.AutoRename
		autoResume = rt.Settings.DCC.AutoResume
		cap = rt.Settings.DCC.AutoAcceptMaxBytes
	}

	localPath := dcc.ResolveDestination(rt.downloadDir(), ad.Filename, autoRename)

	if info, err := os.Stat(localPath); err == nil && autoResume && info.Size() > 0 && info.Size() < ad.Size {
		t := dcc.NewIncomingFile(from, ad.Addr, ad.Port, ad.Filename, ad.Size)
		key := pendingDCCKey{server: serverName, peer: from, filename: ad.Filename, port: ad.Port}
		rt.mu.Lock()
		rt.pendingDCC[key] = pendingDCCEntry{transfer: t, localPath: localPath}
		rt.mu.Unlock()
		srv.SendCTCP(from, "DCC", dcc.FormatResume(ad.Filename, ad.Port, info.Size()))
		return
	}

	if cap > 0 && ad.Size <= cap {
		t := dcc.NewIncomingFile(from, ad.Addr, ad.Port, ad.Filename, ad.Size)
		if _, err := rt.AddTransfer(serverName, t); err != nil {
			return
		}
		_ = t.AcceptIncoming(localPath)
	}
}

func (rt *Runtime) handleIncomingAccept(serverName, from string, ad dcc.Advertisement) {
	key := pendingDCCKey{server: serverName, peer: from, filename: ad.Filename, port: ad.Port}
	rt.mu.Lock()
	entry, ok := rt.pendingDCC[key]
	if ok {
		delete(rt.pendingDCC, key)
	}
	rt.mu.Unlock()
	if !ok {
		return
	}

	entry.transfer.Resume(ad.Offset)
	if _, err := rt.AddTransfer(serverName, entry.transfer); err != nil {
		return
	}
	_ = entry.transfer.AcceptIncoming(entry.localPath)
}
