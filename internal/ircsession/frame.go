// Package ircsession implements the per-server IRC connection state
// machine (spec §4.5–§4.8): line framing, channel/nick state, the
// command table, CTCP, and DCC advertisement handling. The live
// transport is github.com/lrstanley/girc; this package layers WeeChat
// session semantics on top of it.
package ircsession

// Framer reassembles a byte stream into complete IRC lines, splitting on
// "\r\n" or bare "\n" and holding any trailing partial line across
// writes (spec §4.5 "Line framing"). It is transport-agnostic: the girc
// client performs equivalent framing internally for the wire path this
// package drives, but Framer stays a standalone, directly testable unit
// so spec property 3 (dispatch order) and scenario S1 (split framing)
// can be exercised without a live socket, and so a future non-girc
// transport (e.g. dialed through internal/proxy) has something to feed.
type Framer struct {
	partial string
}

// Feed appends chunk to the reassembly buffer and returns every newly
// completed line, in receive order. An unterminated remainder — including
// a trailing lone '\r' that might still turn out to be half of "\r\n" —
// is kept for the next call. A '\r' is a terminator in its own right
// (spec §4.5 "split on \r\n OR \n") except when immediately followed by
// '\n', in which case the pair counts as a single terminator; a '\r'
// with no following byte yet available is ambiguous and held back.
func (f *Framer) Feed(chunk string) []string {
	buf := f.partial + chunk

	var lines []string
	lineStart := 0
	i := 0
	for i < len(buf) {
		switch buf[i] {
		case '\r':
			if i+1 >= len(buf) {
				// last byte of what we have; might pair with a '\n' next call
				i = len(buf)
				continue
			}
			lines = append(lines, buf[lineStart:i])
			if buf[i+1] == '\n' {
				i += 2
			} else {
				i++
			}
			lineStart = i
		case '\n':
			lines = append(lines, buf[lineStart:i])
			i++
			lineStart = i
		default:
			i++
		}
	}
	f.partial = buf[lineStart:]
	return lines
}

// Pending reports the bytes held back awaiting a terminator.
func (f *Framer) Pending() string { return f.partial }
