package netutil

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// IPPORT_SIZE is the size of one packed IPv4 address and port.
const IPPORT_SIZE = 6

// PutIPPort writes e as 4 address bytes and a little-endian port.
func PutIPPort(dst []byte, e Endpoint) {
	ip := e.Addr.Unmap().As4()
	copy(dst, ip[:])
	binary.LittleEndian.PutUint16(dst[4:], uint16(e.Port))
}

// DecodeIPPort reads one packed entry and validates it.
func DecodeIPPort(b []byte) (Endpoint, error) {
	if len(b) < IPPORT_SIZE {
		return Endpoint{}, oops.Wrapf(ErrInvalidData, "%d bytes", len(b))
	}
	e := Endpoint{
		Addr: AddrFrom4(b[:4]),
		Port: int(binary.LittleEndian.Uint16(b[4:6])),
	}
	if !ValidPort(e.Port) {
		return Endpoint{}, oops.Wrapf(ErrInvalidData, "bad port %d", e.Port)
	}
	if !ValidAddr(e.Addr) {
		return Endpoint{}, oops.Wrapf(ErrInvalidData, "bad address %s", e.Addr)
	}
	return e, nil
}

// Pack concatenates the 6-byte encoding of each endpoint.
func Pack(eps []Endpoint) []byte {
	out := make([]byte, len(eps)*IPPORT_SIZE)
	for i, e := range eps {
		PutIPPort(out[i*IPPORT_SIZE:], e)
	}
	return out
}

// Unpack decodes a packed list. Any invalid entry fails the whole list.
func Unpack(data []byte) ([]Endpoint, error) {
	if len(data)%IPPORT_SIZE != 0 {
		return nil, oops.Wrapf(ErrInvalidData, "length %d is not a multiple of %d", len(data), IPPORT_SIZE)
	}
	out := make([]Endpoint, 0, len(data)/IPPORT_SIZE)
	for i := 0; i < len(data); i += IPPORT_SIZE {
		e, err := DecodeIPPort(data[i : i+IPPORT_SIZE])
		if err != nil {
			return nil, oops.Wrapf(err, "entry %d", i/IPPORT_SIZE)
		}
		out = append(out, e)
	}
	return out, nil
}

// TLSBits returns the bitmap of TLS-capable endpoints.
func TLSBits(eps []Endpoint) BitNumbers {
	bn := NewBitNumbers(len(eps))
	for i, e := range eps {
		if e.TLS {
			bn.Set(i)
		}
	}
	return bn
}

// MarkTLS sets the TLS flag on every endpoint whose bit is set.
func MarkTLS(eps []Endpoint, bn BitNumbers) {
	for i := range eps {
		if bn.IsSet(i) {
			eps[i].TLS = true
		}
	}
}

// ParseHostList reads a newline separated list of host[:port] entries.
// Anything after '&' in an entry is ignored. Entries with an empty host or a
// bad port are skipped. Host names are kept as given.
func ParseHostList(s string) []Host {
	var out []Host
	for _, line := range strings.Split(s, "\n") {
		if i := strings.IndexByte(line, '&'); i >= 0 {
			line = line[:i]
		}
		if line == "" {
			continue
		}
		host, port := line, DEFAULT_PORT
		if i := strings.IndexByte(line, ':'); i >= 0 {
			if i == 0 {
				continue
			}
			p, err := strconv.Atoi(line[i+1:])
			if err != nil {
				continue
			}
			host, port = line[:i], p
		}
		if !ValidPort(port) {
			continue
		}
		out = append(out, Host{Name: host, Port: port})
	}
	return out
}

// FormatHostList is the inverse of ParseHostList.
func FormatHostList(hosts []Host) string {
	parts := make([]string, len(hosts))
	for i, h := range hosts {
		parts[i] = h.String()
	}
	return strings.Join(parts, "\n")
}
