package ircsession

import "hash/fnv"

// Flags is the per-channel membership bitfield from spec §3 ("IRC nick").
type Flags uint8

const (
	FlagChanOwner Flags = 1 << iota // q, non-standard
	FlagChanAdmin                   // a, non-standard
	FlagOp                          // o
	FlagHalfop                      // h
	FlagVoice                       // v
	FlagAway
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Nick is one membership record; the same person on N channels yields N
// independent Nick entries (spec §3 invariant).
type Nick struct {
	Name  string
	Host  string
	Flags Flags
	Color string
}

// nickPalette mirrors the fixed display-color set WeeChat assigns nicks
// from by hashing the name (spec §4.6 "color is assigned by hashing the
// nick into the nick palette").
var nickPalette = []string{
	"cyan", "magenta", "green", "yellow", "blue", "lightcyan",
	"lightmagenta", "lightgreen", "lightyellow", "lightblue", "brown",
	"red", "lightred",
}

// ColorFor hashes nick into the palette, giving a stable color per name.
func ColorFor(nick string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nick))
	return nickPalette[h.Sum32()%uint32(len(nickPalette))]
}
