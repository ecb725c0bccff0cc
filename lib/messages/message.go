package messages

import (
	"io"
	"net/netip"
	"time"

	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/samber/oops"
)

// Message is implemented by every decoded or constructed message.
type Message interface {
	MessageIdentifier
	MessageRouting
	MessageSerializer
}

// MessageIdentifier exposes the fields that never change.
type MessageIdentifier interface {
	GUID() guid.GUID
	Function() byte
	Network() Network
	Source() netip.AddrPort
	CreationTime() time.Time
}

// MessageRouting exposes the fields that change as a message is forwarded.
type MessageRouting interface {
	TTL() int
	SetTTL(ttl int) error
	Hops() int
	SetHops(hops int) error
	Hop() int
	Priority() int
	SetPriority(priority int)
	Compare(other Message) int
}

// MessageSerializer writes the framed message.
type MessageSerializer interface {
	Length() int
	TotalLength() int
	Payload() []byte
	MarshalBinary() ([]byte, error)
	WriteTo(w io.Writer) (int64, error)
}

// Envelope holds the header fields of a message along with its payload.
type Envelope struct {
	guid     guid.GUID
	function byte
	ttl      int
	hops     int
	priority int
	network  Network
	source   netip.AddrPort
	created  time.Time
	payload  []byte
}

var _ Message = (*Envelope)(nil)

func newEnvelope(s *Settings, g guid.GUID, function byte, ttl, hops int, payload []byte, network Network) *Envelope {
	return &Envelope{
		guid:     g,
		function: function,
		ttl:      ttl,
		hops:     hops,
		network:  network,
		created:  s.clock().Now(),
		payload:  payload,
	}
}

// envelopeFor builds the envelope of a decoded frame.
func envelopeFor(s *Settings, f Frame) *Envelope {
	e := newEnvelope(s, f.Header.GUID, f.Header.Function, f.Header.TTL, f.Header.Hops, f.Payload, f.Network)
	e.source = f.Addr
	return e
}

// NewEnvelope creates a message with an opaque payload.
func NewEnvelope(s *Settings, g guid.GUID, function byte, ttl int, payload []byte) (*Envelope, error) {
	if ttl < 0 || ttl > MAX_TTL {
		return nil, oops.Wrapf(ErrInvalidTTL, "ttl %d", ttl)
	}
	return newEnvelope(s, g, function, ttl, 0, payload, NETWORK_UNKNOWN), nil
}

func (e *Envelope) GUID() guid.GUID {
	return e.guid
}

func (e *Envelope) Function() byte {
	return e.function
}

func (e *Envelope) Network() Network {
	return e.network
}

func (e *Envelope) IsTCP() bool       { return e.network == NETWORK_TCP }
func (e *Envelope) IsUDP() bool       { return e.network == NETWORK_UDP }
func (e *Envelope) IsMulticast() bool { return e.network == NETWORK_MULTICAST }

// Source is the peer the message was read from, or the zero value for a
// message built locally.
func (e *Envelope) Source() netip.AddrPort {
	return e.source
}

func (e *Envelope) CreationTime() time.Time {
	return e.created
}

func (e *Envelope) TTL() int {
	return e.ttl
}

// SetTTL fails for values a header byte cannot carry.
func (e *Envelope) SetTTL(ttl int) error {
	if ttl < 0 || ttl > MAX_TTL {
		return oops.Wrapf(ErrInvalidTTL, "ttl %d", ttl)
	}
	e.ttl = ttl
	return nil
}

func (e *Envelope) Hops() int {
	return e.hops
}

func (e *Envelope) SetHops(hops int) error {
	if hops < 0 || hops > MAX_TTL {
		return oops.Wrapf(ErrInvalidHops, "hops %d", hops)
	}
	e.hops = hops
	return nil
}

// Hop records one more hop travelled. It increments hops, decrements a
// positive TTL and returns the TTL as it was before the decrement.
func (e *Envelope) Hop() int {
	e.hops++
	ttl := e.ttl
	if e.ttl > 0 {
		e.ttl--
	}
	return ttl
}

// Priority orders outbound messages. Lower is more urgent.
func (e *Envelope) Priority() int {
	return e.priority
}

func (e *Envelope) SetPriority(priority int) {
	e.priority = priority
}

// Compare is positive when e is more urgent than other.
func (e *Envelope) Compare(other Message) int {
	return other.Priority() - e.priority
}

// Length is the payload length.
func (e *Envelope) Length() int {
	return len(e.payload)
}

func (e *Envelope) TotalLength() int {
	return HEADER_SIZE + len(e.payload)
}

// Payload returns the raw payload. Callers must not modify it.
func (e *Envelope) Payload() []byte {
	return e.payload
}

func (e *Envelope) Header() Header {
	return Header{
		GUID:     e.guid,
		Function: e.function,
		TTL:      e.ttl,
		Hops:     e.hops,
		Length:   len(e.payload),
	}
}

func (e *Envelope) MarshalBinary() ([]byte, error) {
	out := make([]byte, e.TotalLength())
	e.Header().put(out)
	copy(out[HEADER_SIZE:], e.payload)
	return out, nil
}

func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	b, _ := e.MarshalBinary()
	n, err := w.Write(b)
	if err != nil {
		return int64(n), oops.Wrapf(err, "writing %s", FunctionName(e.function))
	}
	return int64(n), nil
}

// HigherPriority reports whether a should be sent before b.
func HigherPriority(a, b Message) bool {
	return a.Compare(b) > 0
}
