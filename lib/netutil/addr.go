package netutil

import (
	"errors"
	"net/netip"
	"strconv"
)

// DEFAULT_PORT is used when a host entry carries no port.
const DEFAULT_PORT = 6346

// ErrInvalidData is returned for packed addresses that do not decode.
var ErrInvalidData = errors.New("invalid address data")

var documentation = netip.MustParsePrefix("2001:db8::/32")

// ValidPort reports whether port fits in 1..65535.
func ValidPort(port int) bool {
	return port > 0 && port <= 0xFFFF
}

// ValidAddr rejects the unspecified address, IPv4 addresses whose first
// octet is 0 or 255 and IPv6 documentation addresses.
func ValidAddr(a netip.Addr) bool {
	if !a.IsValid() || a.IsUnspecified() {
		return false
	}
	if a.Is4() || a.Is4In6() {
		b := a.Unmap().As4()
		return b[0] != 0x00 && b[0] != 0xFF
	}
	return !documentation.Contains(a)
}

// ValidBytes reports whether 4 raw IPv4 bytes form a valid address.
func ValidBytes(ip []byte) bool {
	a, ok := netip.AddrFromSlice(ip)
	return ok && ValidAddr(a)
}

// PrivateAddr reports whether a is not routable on the public internet:
// unspecified, invalid, loopback, link-local, site-local, unique local,
// broadcast or documentation addresses.
func PrivateAddr(a netip.Addr) bool {
	if !ValidAddr(a) {
		return true
	}
	a = a.Unmap()
	if a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsPrivate() {
		return true
	}
	if a.Is6() {
		b := a.As16()
		// deprecated site-local fec0::/10
		return b[0] == 0xFE && b[1]&0xC0 == 0xC0
	}
	return false
}

// AddrFrom4 converts 4 network-order bytes to an address.
func AddrFrom4(b []byte) netip.Addr {
	var ip [4]byte
	copy(ip[:], b)
	return netip.AddrFrom4(ip)
}

// Endpoint is an IPv4 host and port as carried in Gnutella messages.
type Endpoint struct {
	Addr netip.Addr
	Port int
	TLS  bool
}

// NewEndpoint builds an Endpoint from an address and port.
func NewEndpoint(ap netip.AddrPort) Endpoint {
	return Endpoint{Addr: ap.Addr().Unmap(), Port: int(ap.Port())}
}

// Valid reports whether both the address and port are valid.
func (e Endpoint) Valid() bool {
	return ValidAddr(e.Addr) && ValidPort(e.Port)
}

func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, uint16(e.Port))
}

func (e Endpoint) String() string {
	return e.AddrPort().String()
}

// Host is a host cache entry whose host part may be a name.
type Host struct {
	Name string
	Port int
}

func (h Host) String() string {
	return h.Name + ":" + strconv.Itoa(h.Port)
}
