// Package guid creates and inspects the 16-byte identifiers that head every
// Gnutella message.
//
// Locally created GUIDs are tagged: bytes 9-10 hold a checksum derived from
// bytes 4-7 so a peer can recognise them. Requery GUIDs carry a second tag in
// bytes 13-14. Address-encoded GUIDs, used for out-of-band replies, hold the
// reply IPv4 address in bytes 0-3 and the port, little-endian, in bytes 13-14.
package guid

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/go-gnutella/go-gnutella/lib/netutil"
	"github.com/samber/oops"
)

const SIZE = 16

var (
	ErrBadLength = errors.New("guid must be 16 bytes")
	ErrBadAddr   = errors.New("invalid address for guid")
)

// GUID is a 16 byte message identifier.
type GUID [SIZE]byte

// FromBytes copies b into a GUID.
func FromBytes(b []byte) (GUID, error) {
	var g GUID
	if len(b) != SIZE {
		return g, oops.Wrapf(ErrBadLength, "got %d bytes", len(b))
	}
	copy(g[:], b)
	return g, nil
}

// ParseHex reads the 32 character hex form written by String.
func ParseHex(s string) (GUID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return GUID{}, oops.Wrapf(err, "parsing guid %q", s)
	}
	return FromBytes(b)
}

func random() GUID {
	var g GUID
	if _, err := rand.Read(g[:]); err != nil {
		panic(oops.Wrapf(err, "guid: crypto/rand failed"))
	}
	return g
}

// tag mixes two little-endian shorts the way tagged GUIDs expect.
func tag(a, b int16) int16 {
	return int16((int32(a) + 2) * (int32(b) + 3) >> 8)
}

func (g *GUID) short(i int) int16 {
	return int16(binary.LittleEndian.Uint16(g[i:]))
}

func (g *GUID) tag(first, second, mark int) {
	binary.LittleEndian.PutUint16(g[mark:], uint16(tag(g.short(first), g.short(second))))
}

func (g GUID) matches(first, second, found int) bool {
	return g.short(found) == tag(g.short(first), g.short(second))
}

// New returns a random tagged GUID with version byte 0.
func New() GUID {
	g := random()
	g[15] = 0x00
	g.tag(4, 6, 9)
	return g
}

// NewRequery returns a GUID tagged as a requery.
func NewRequery() GUID {
	g := New()
	g.tag(0, 11, 13)
	return g
}

// NewAddressEncoded returns a tagged GUID carrying ap.
func NewAddressEncoded(ap netip.AddrPort) (GUID, error) {
	return AddressEncode(New(), ap)
}

// AddressEncode writes the IPv4 address and port of ap into g.
func AddressEncode(g GUID, ap netip.AddrPort) (GUID, error) {
	addr := ap.Addr().Unmap()
	if !addr.Is4() || !netutil.ValidAddr(addr) {
		return g, oops.Wrapf(ErrBadAddr, "address %s", addr)
	}
	if !netutil.ValidPort(int(ap.Port())) {
		return g, oops.Wrapf(ErrBadAddr, "port %d", ap.Port())
	}
	ip := addr.As4()
	copy(g[:4], ip[:])
	binary.LittleEndian.PutUint16(g[13:], ap.Port())
	return g, nil
}

// IsLime reports whether g carries the local creation tag.
func (g GUID) IsLime() bool {
	return g.matches(4, 6, 9)
}

// IsLimeRequery reports whether g carries the requery tag of the given
// version (0, 1 or 2).
func (g GUID) IsLimeRequery(version int) bool {
	switch version {
	case 0:
		return g.matches(0, 9, 13)
	case 1:
		return g.matches(0, 2, 13)
	default:
		return g.matches(0, 11, 13)
	}
}

// IsAnyLimeRequery reports whether g carries any version of the requery tag.
func (g GUID) IsAnyLimeRequery() bool {
	return g.IsLimeRequery(0) || g.IsLimeRequery(1) || g.IsLimeRequery(2)
}

// Addr returns the IPv4 address held in bytes 0-3.
func (g GUID) Addr() netip.Addr {
	return netutil.AddrFrom4(g[:4])
}

// Port returns the port held in bytes 13-14.
func (g GUID) Port() int {
	return int(binary.LittleEndian.Uint16(g[13:]))
}

// AddressesMatch reports whether g encodes ap.
func (g GUID) AddressesMatch(ap netip.AddrPort) bool {
	addr := ap.Addr().Unmap()
	if !addr.Is4() || !netutil.ValidAddr(addr) || !netutil.ValidPort(int(ap.Port())) {
		return false
	}
	return g.Addr() == addr && g.Port() == int(ap.Port())
}

// Stamp writes the current time in seconds into bytes 4, 5, 6 and 15.
func (g *GUID) Stamp(now time.Time) {
	s := uint32(now.Unix())
	g[4] = byte(s >> 24)
	g[5] = byte(s >> 16)
	g[6] = byte(s >> 8)
	g[15] = byte(s)
}

// Timestamp reads the time written by Stamp.
func (g GUID) Timestamp() time.Time {
	s := uint32(g[4])<<24 | uint32(g[5])<<16 | uint32(g[6])<<8 | uint32(g[15])
	return time.Unix(int64(s), 0)
}

func (g GUID) Bytes() []byte {
	return append([]byte(nil), g[:]...)
}

func (g GUID) Compare(other GUID) int {
	return bytes.Compare(g[:], other[:])
}

func (g GUID) IsZero() bool {
	return g == GUID{}
}

// String returns the uppercase hex form.
func (g GUID) String() string {
	return strings.ToUpper(hex.EncodeToString(g[:]))
}
