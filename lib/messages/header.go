package messages

import (
	"encoding/binary"

	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/samber/oops"
)

/*
Header
	+----+----+----+----+----+----+----+----+
	|  guid (0..15)                         |
	+----+----+----+----+----+----+----+----+
	| 16 | 17 | 18 | 19   20   21   22      |
	|func| ttl|hops| payload length, LE     |
	+----+----+----+------------------------+

ttl and hops are signed bytes. The length is read as a signed 32 bit value
so that a peer sending a length with the high bit set is rejected rather
than treated as a huge payload.
*/

// Header is the decoded form of the 23 header bytes.
type Header struct {
	GUID     guid.GUID
	Function byte
	TTL      int
	Hops     int
	Length   int
}

// ParseHeader decodes the first 23 bytes of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HEADER_SIZE {
		return Header{}, oops.Errorf("header needs %d bytes, got %d", HEADER_SIZE, len(data))
	}
	var h Header
	copy(h.GUID[:], data[:guid.SIZE])
	h.Function = data[16]
	h.TTL = int(int8(data[17]))
	h.Hops = int(int8(data[18]))
	h.Length = int(int32(binary.LittleEndian.Uint32(data[19:23])))
	return h, nil
}

// MarshalBinary writes the 23 header bytes.
func (h Header) MarshalBinary() ([]byte, error) {
	out := make([]byte, HEADER_SIZE)
	h.put(out)
	return out, nil
}

func (h Header) put(out []byte) {
	copy(out, h.GUID[:])
	out[16] = h.Function
	out[17] = byte(h.TTL)
	out[18] = byte(h.Hops)
	binary.LittleEndian.PutUint32(out[19:23], uint32(h.Length))
}
