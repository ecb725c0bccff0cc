package messages

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"os"

	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

// Frame is one message as read off the wire, before per-type decoding.
type Frame struct {
	Header  Header
	Payload []byte
	Network Network
	// Addr is the peer the bytes came from, when known.
	Addr netip.AddrPort
}

// Decoder turns a frame into a typed message. Errors should be
// BadPacketErrors; anything else is wrapped as one.
type Decoder func(s *Settings, f Frame) (Message, error)

// Factory reads framed messages and dispatches them by function id.
// Decoders are registered before the first read; the table is read only
// afterwards.
type Factory struct {
	settings *Settings
	decoders map[byte]Decoder
}

// NewFactory returns a factory with a decoder for every known function id.
func NewFactory(s *Settings) *Factory {
	f := NewEmptyFactory(s)
	f.Register(FUNC_PING, DecodePing)
	f.Register(FUNC_PING_REPLY, DecodePong)
	f.Register(FUNC_PUSH, DecodePush)
	f.Register(FUNC_QUERY, DecodeQuery)
	f.Register(FUNC_QUERY_REPLY, DecodeQueryReply)
	f.Register(FUNC_ROUTE_TABLE, decodeOpaque)
	f.Register(FUNC_VENDOR, decodeOpaque)
	f.Register(FUNC_VENDOR_STABLE, decodeOpaque)
	f.Register(FUNC_UDP_CONNECTION, decodeOpaque)
	return f
}

// NewEmptyFactory returns a factory with no decoders.
func NewEmptyFactory(s *Settings) *Factory {
	if s == nil {
		s = DefaultSettings()
	}
	return &Factory{settings: s, decoders: make(map[byte]Decoder)}
}

// Register installs d for function. Registering a function twice panics.
func (f *Factory) Register(function byte, d Decoder) {
	if _, ok := f.decoders[function]; ok {
		log.WithFields(logger.Fields{
			"at":       "messages.Factory.Register",
			"function": function,
		}).Error("decoder_already_registered")
		panic(oops.Errorf("decoder for function 0x%02x already registered", function))
	}
	f.decoders[function] = d
}

// Decoder returns the decoder registered for function.
func (f *Factory) Decoder(function byte) (Decoder, bool) {
	d, ok := f.decoders[function]
	return d, ok
}

func (f *Factory) Settings() *Settings {
	return f.settings
}

// decodeOpaque keeps the payload of function ids this package has no codec
// for.
func decodeOpaque(s *Settings, fr Frame) (Message, error) {
	return envelopeFor(s, fr), nil
}

// Read reads one message from r.
//
// It returns (nil, nil) when the read timed out before any byte arrived and
// (nil, io.EOF) when the stream ended cleanly between messages. A
// BadPacketError means the message was consumed and dropped; read again. A
// TransportError means the stream is out of step and must be closed.
func (f *Factory) Read(r io.Reader, network Network, softMax int, addr netip.AddrPort) (Message, error) {
	rec := f.settings.recorder()
	buf := make([]byte, HEADER_SIZE)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if n == 0 && isTimeout(err) {
			return nil, nil
		}
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		rec.FatalRead(REASON_SHORT_HEADER)
		return nil, transportError(REASON_SHORT_HEADER, oops.Wrapf(err, "read %d of %d header bytes", n, HEADER_SIZE))
	}
	h, _ := ParseHeader(buf)
	if h.Length < 0 || h.Length > f.settings.MaxLength {
		rec.FatalRead(REASON_BAD_LENGTH)
		return nil, transportError(REASON_BAD_LENGTH, oops.Errorf("payload length %d, max %d", h.Length, f.settings.MaxLength))
	}
	payload := make([]byte, h.Length)
	if n, err := io.ReadFull(r, payload); err != nil {
		rec.FatalRead(REASON_SHORT_PAYLOAD)
		return nil, transportError(REASON_SHORT_PAYLOAD, oops.Wrapf(err, "read %d of %d payload bytes", n, h.Length))
	}
	return f.Dispatch(Frame{Header: h, Payload: payload, Network: network, Addr: addr}, softMax)
}

// ReadDatagram decodes a message that arrived whole, as in a UDP packet.
// Trailing bytes beyond the declared length are ignored; missing bytes make
// the packet bad rather than fatal.
func (f *Factory) ReadDatagram(data []byte, network Network, softMax int, addr netip.AddrPort) (Message, error) {
	h, err := ParseHeader(data)
	if err != nil {
		f.settings.recorder().BadPacket(FunctionName(0xFF), REASON_TOO_SHORT)
		return nil, badPacket(0xFF, REASON_TOO_SHORT, err)
	}
	if h.Length < 0 || h.Length > f.settings.MaxLength || HEADER_SIZE+h.Length > len(data) {
		f.settings.recorder().BadPacket(FunctionName(h.Function), REASON_TOO_SHORT)
		return nil, badPacketf(h.Function, REASON_TOO_SHORT, "declared %d payload bytes, have %d", h.Length, len(data)-HEADER_SIZE)
	}
	payload := make([]byte, h.Length)
	copy(payload, data[HEADER_SIZE:])
	return f.Dispatch(Frame{Header: h, Payload: payload, Network: network, Addr: addr}, softMax)
}

// Dispatch applies the hop budget to a complete frame and decodes it.
//
// Outside pongs, a message that has travelled more than softMax hops is
// dropped, and one whose ttl+hops exceeds softMax has its TTL lowered to
// softMax-hops.
func (f *Factory) Dispatch(fr Frame, softMax int) (Message, error) {
	rec := f.settings.recorder()
	h := &fr.Header
	name := FunctionName(h.Function)
	fail := func(err error) (Message, error) {
		rec.BadPacket(name, Reason(err))
		log.WithFields(logger.Fields{
			"at":       "messages.Factory.Dispatch",
			"function": name,
			"hops":     h.Hops,
			"ttl":      h.TTL,
			"addr":     fr.Addr.String(),
		}).WithError(err).Debug("dropping_bad_packet")
		return nil, err
	}

	if h.TTL < 0 {
		return fail(badPacketf(h.Function, REASON_NEGATIVE_TTL, "ttl %d", h.TTL))
	}
	if h.Hops < 0 {
		return fail(badPacketf(h.Function, REASON_NEGATIVE_HOPS, "hops %d", h.Hops))
	}
	if h.Function != FUNC_PING_REPLY {
		if h.Hops > softMax {
			return fail(badPacketf(h.Function, REASON_TOO_MANY_HOPS, "hops %d above soft max %d", h.Hops, softMax))
		}
		if h.TTL+h.Hops > softMax {
			rec.Clamped(name)
			h.TTL = softMax - h.Hops
		}
	}

	d, ok := f.decoders[h.Function]
	if !ok {
		return fail(badPacketf(h.Function, REASON_UNKNOWN_FUNCTION, "function 0x%02x", h.Function))
	}
	m, err := d(f.settings, fr)
	if err != nil {
		if !IsBadPacket(err) {
			err = badPacket(h.Function, REASON_INVALID_PAYLOAD, err)
		}
		return fail(err)
	}
	rec.Decoded(name)
	return m, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
