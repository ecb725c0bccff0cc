package messages

import (
	"encoding/binary"
	"math"
	"net/netip"
	"sync"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/netutil"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

/*
Push
	+------------------------------------+
	| client guid (16)                   |
	+----+----+----+----+----+----+----+----+----+----+
	| file index LE4    | ip (network order)| port LE |
	+----+----+----+----+----+----+----+----+----+----+
	| optional GGEP: TLS                  |
	+------------------------------------+
*/

const (
	PUSH_PAYLOAD_SIZE = 26
	// FW_TRANS_INDEX asks the firewalled host for a firewall-to-firewall
	// transfer instead of a file.
	FW_TRANS_INDEX int64 = math.MaxInt32 - 2
)

// Push asks a firewalled host to connect out to the requester.
type Push struct {
	*Envelope

	once sync.Once
	tls  bool
}

// NewPush builds a push for clientGUID asking it to connect to ep. TLS on
// ep is advertised in a GGEP block.
func NewPush(s *Settings, g guid.GUID, ttl int, clientGUID guid.GUID, index int64, ep netutil.Endpoint, network Network) (*Push, error) {
	if ttl < 0 || ttl > MAX_TTL {
		return nil, oops.Wrapf(ErrInvalidTTL, "ttl %d", ttl)
	}
	if index < 0 || index > math.MaxUint32 {
		return nil, oops.Errorf("file index %d does not fit 4 bytes", index)
	}
	if !netutil.ValidPort(ep.Port) {
		return nil, oops.Wrapf(ErrInvalidPort, "port %d", ep.Port)
	}
	if !ep.Addr.Unmap().Is4() || !netutil.ValidAddr(ep.Addr) {
		return nil, oops.Wrapf(ErrInvalidAddress, "address %s", ep.Addr)
	}
	payload := make([]byte, PUSH_PAYLOAD_SIZE)
	copy(payload, clientGUID[:])
	binary.LittleEndian.PutUint32(payload[16:], uint32(index))
	netutil.PutIPPort(payload[20:], ep)
	if ep.TLS {
		block := ggep.New()
		if err := block.PutFlag(ggep.KEY_TLS_SUPPORT); err != nil {
			return nil, err
		}
		ext, err := block.MarshalBinary()
		if err != nil {
			return nil, oops.Wrapf(err, "writing push extensions")
		}
		payload = append(payload, ext...)
	}
	return &Push{Envelope: newEnvelope(s, g, FUNC_PUSH, ttl, 0, payload, network)}, nil
}

// DecodePush rejects short payloads and bad addresses.
func DecodePush(s *Settings, f Frame) (Message, error) {
	if len(f.Payload) < PUSH_PAYLOAD_SIZE {
		return nil, badPacketf(FUNC_PUSH, REASON_TOO_SHORT, "push payload of %d bytes", len(f.Payload))
	}
	p := &Push{Envelope: envelopeFor(s, f)}
	if !netutil.ValidPort(p.Port()) {
		return nil, badPacketf(FUNC_PUSH, REASON_INVALID_PORT, "port %d", p.Port())
	}
	if !netutil.ValidAddr(p.Addr()) {
		return nil, badPacketf(FUNC_PUSH, REASON_INVALID_ADDRESS, "address %s", p.Addr())
	}
	return p, nil
}

// ClientGUID is the servent id of the firewalled host.
func (p *Push) ClientGUID() guid.GUID {
	var g guid.GUID
	copy(g[:], p.payload[:16])
	return g
}

func (p *Push) Index() int64 {
	return int64(binary.LittleEndian.Uint32(p.payload[16:20]))
}

func (p *Push) IsFirewallTransferPush() bool {
	return p.Index() == FW_TRANS_INDEX
}

func (p *Push) Addr() netip.Addr {
	return netutil.AddrFrom4(p.payload[20:24])
}

func (p *Push) Port() int {
	return int(binary.LittleEndian.Uint16(p.payload[24:26]))
}

// IsTLSCapable reports whether the requester accepts TLS connections.
func (p *Push) IsTLSCapable() bool {
	p.once.Do(func() {
		if len(p.payload) <= PUSH_PAYLOAD_SIZE {
			return
		}
		g, _, err := ggep.Parse(p.payload, PUSH_PAYLOAD_SIZE)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":   "messages.Push.IsTLSCapable",
				"guid": p.guid.String(),
			}).WithError(err).Debug("ignoring_bad_push_ggep")
			return
		}
		p.tls = g.Has(ggep.KEY_TLS_SUPPORT)
	})
	return p.tls
}

func (p *Push) Endpoint() netutil.Endpoint {
	return netutil.Endpoint{Addr: p.Addr(), Port: p.Port(), TLS: p.IsTLSCapable()}
}
