package dcc

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// AdKind is which CTCP DCC subcommand an Advertisement was parsed from.
type AdKind int

const (
	AdSend AdKind = iota
	AdChat
	AdResume
	AdAccept
)

// Advertisement is a parsed CTCP "DCC ..." payload (spec §4.8/§6). Addr and
// Port are only meaningful for AdSend/AdChat; Offset only for
// AdResume/AdAccept.
type Advertisement struct {
	Kind     AdKind
	Filename string
	Addr     string
	Port     int
	Size     int64
	Offset   int64
}

// ParseAdvertisement decodes the params half of a CTCP "DCC" message (i.e.
// everything after the literal "DCC " token) into an Advertisement. addr
// fields are a 32-bit unsigned decimal that spec §6 says to reinterpret as
// a network-order (big-endian) IPv4 address, the same encoding
// _examples/kofany-go-ircevo's irc_dcc.go uses via ip2int on the send side.
func ParseAdvertisement(params string) (Advertisement, error) {
	fields := strings.Fields(params)
	if len(fields) == 0 {
		return Advertisement{}, fmt.Errorf("dcc: empty DCC payload")
	}

	switch strings.ToUpper(fields[0]) {
	case "SEND":
		if len(fields) < 5 {
			return Advertisement{}, fmt.Errorf("dcc: malformed SEND %q", params)
		}
		addr, err := decodeAddr(fields[2])
		if err != nil {
			return Advertisement{}, err
		}
		port, err := strconv.Atoi(fields[3])
		if err != nil {
			return Advertisement{}, fmt.Errorf("dcc: bad SEND port %q: %w", fields[3], err)
		}
		size, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return Advertisement{}, fmt.Errorf("dcc: bad SEND size %q: %w", fields[4], err)
		}
		return Advertisement{Kind: AdSend, Filename: fields[1], Addr: addr, Port: port, Size: size}, nil

	case "CHAT":
		if len(fields) < 4 {
			return Advertisement{}, fmt.Errorf("dcc: malformed CHAT %q", params)
		}
		addr, err := decodeAddr(fields[2])
		if err != nil {
			return Advertisement{}, err
		}
		port, err := strconv.Atoi(fields[3])
		if err != nil {
			return Advertisement{}, fmt.Errorf("dcc: bad CHAT port %q: %w", fields[3], err)
		}
		return Advertisement{Kind: AdChat, Addr: addr, Port: port}, nil

	case "RESUME":
		ad, err := parseResumeLike(fields)
		if err != nil {
			return Advertisement{}, err
		}
		ad.Kind = AdResume
		return ad, nil

	case "ACCEPT":
		ad, err := parseResumeLike(fields)
		if err != nil {
			return Advertisement{}, err
		}
		ad.Kind = AdAccept
		return ad, nil

	default:
		return Advertisement{}, fmt.Errorf("dcc: unknown DCC subcommand %q", fields[0])
	}
}

// parseResumeLike handles the shared "<SUBCMD> filename port offset" shape
// of RESUME and ACCEPT.
func parseResumeLike(fields []string) (Advertisement, error) {
	if len(fields) < 4 {
		return Advertisement{}, fmt.Errorf("dcc: malformed %s %q", fields[0], strings.Join(fields, " "))
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return Advertisement{}, fmt.Errorf("dcc: bad %s port %q: %w", fields[0], fields[2], err)
	}
	offset, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Advertisement{}, fmt.Errorf("dcc: bad %s offset %q: %w", fields[0], fields[3], err)
	}
	return Advertisement{Filename: fields[1], Port: port, Offset: offset}, nil
}

// decodeAddr turns a 32-bit unsigned decimal string into a dotted-quad
// IPv4 address.
func decodeAddr(s string) (string, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return "", fmt.Errorf("dcc: bad addr %q: %w", s, err)
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n))
	return net.IP(b).String(), nil
}

// EncodeAddr is decodeAddr's inverse, used when this side advertises its
// own address in an outbound "DCC SEND"/"DCC CHAT".
func EncodeAddr(ip net.IP) (uint32, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("dcc: %s is not an IPv4 address", ip)
	}
	return binary.BigEndian.Uint32(v4), nil
}

// FormatResume renders the "RESUME filename port offset" params half of a
// CTCP DCC RESUME request (scenario S6).
func FormatResume(filename string, port int, offset int64) string {
	return fmt.Sprintf("RESUME %s %d %d", filename, port, offset)
}

// FormatAccept renders the "ACCEPT filename port offset" params half of a
// CTCP DCC ACCEPT confirmation.
func FormatAccept(filename string, port int, offset int64) string {
	return fmt.Sprintf("ACCEPT %s %d %d", filename, port, offset)
}
