package messages

import (
	"bytes"
	"net/netip"
	"strings"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/huge"
	"github.com/go-gnutella/go-gnutella/lib/security"
	"github.com/go-gnutella/go-gnutella/lib/urn"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

// NewRequery searches for sha1 under a requery GUID.
func NewRequery(s *Settings, sha1 urn.URN) (*Query, error) {
	if !sha1.IsSHA1() {
		return nil, oops.Wrapf(ErrInvalidQuery, "requery needs a sha1 urn, got %s", sha1)
	}
	return NewQuery(s, QueryParams{
		GUID:  guid.NewRequery(),
		TTL:   DEFAULT_QUERY_TTL,
		Query: DEFAULT_URN_QUERY,
		URNs:  []urn.URN{sha1},
	})
}

// NewURNQuery searches by URN only.
func NewURNQuery(s *Settings, urns ...urn.URN) (*Query, error) {
	if len(urns) == 0 {
		return nil, badPacketf(FUNC_QUERY, REASON_EMPTY_QUERY, "no urns")
	}
	return NewQuery(s, QueryParams{
		GUID:  guid.New(),
		TTL:   DEFAULT_QUERY_TTL,
		Query: DEFAULT_URN_QUERY,
		URNs:  urns,
	})
}

// NewOutOfBandQuery builds a query whose replies go to reply by UDP. The
// address is encoded in the GUID.
func NewOutOfBandQuery(s *Settings, reply netip.AddrPort, query, richQuery string, metaMask int) (*Query, error) {
	g, err := guid.NewAddressEncoded(reply)
	if err != nil {
		return nil, oops.Wrapf(err, "out of band reply address")
	}
	return NewOutOfBandQueryWithGUID(s, g, query, richQuery, metaMask)
}

// NewOutOfBandQueryWithGUID is NewOutOfBandQuery for a GUID that already
// carries the reply address.
func NewOutOfBandQueryWithGUID(s *Settings, g guid.GUID, query, richQuery string, metaMask int) (*Query, error) {
	if richQuery != "" && !strings.HasPrefix(richQuery, "<?xml") {
		return nil, oops.Wrapf(ErrInvalidQuery, "rich query is not an xml document")
	}
	return NewQuery(s, QueryParams{
		GUID:          g,
		TTL:           DEFAULT_QUERY_TTL,
		Query:         query,
		RichQuery:     richQuery,
		CanReceiveOOB: true,
		MetaMask:      metaMask,
	})
}

// NewWhatIsNewQuery asks for recently added files.
func NewWhatIsNewQuery(s *Settings, g guid.GUID, ttl int, metaMask int, oob bool) (*Query, error) {
	if ttl < 1 {
		return nil, oops.Wrapf(ErrInvalidTTL, "what is new ttl %d", ttl)
	}
	return NewQuery(s, QueryParams{
		GUID:            g,
		TTL:             ttl,
		Query:           WHAT_IS_NEW_QUERY_STRING,
		CanReceiveOOB:   oob,
		FeatureSelector: FEATURE_WHAT_IS_NEW,
		MetaMask:        metaMask,
	})
}

// NewQueryKeyQuery builds a single-hop query carrying a query key.
func NewQueryKeyQuery(s *Settings, query string, qk security.QueryKey) (*Query, error) {
	if len(qk) == 0 {
		return nil, oops.Wrapf(ErrInvalidQuery, "missing query key")
	}
	return NewQuery(s, QueryParams{
		GUID:     guid.New(),
		TTL:      1,
		Query:    query,
		QueryKey: qk,
	})
}

// WithTTL re-decodes the same payload under a new TTL.
func (q *Query) WithTTL(s *Settings, ttl int) (*Query, error) {
	if ttl < 0 || ttl > MAX_TTL {
		return nil, oops.Wrapf(ErrInvalidTTL, "ttl %d", ttl)
	}
	return parseQuery(s, newEnvelope(s, q.guid, FUNC_QUERY, ttl, q.hops, q.payload, q.network))
}

// ProxyFor returns an out-of-band copy of q under g, as a leaf's ultrapeer
// sends it on the leaf's behalf.
func (q *Query) ProxyFor(s *Settings, g guid.GUID) (*Query, error) {
	payload := append([]byte(nil), q.payload...)
	payload[0] |= SPECIAL_OUTOFBAND_MASK
	keys := ggep.NewCOBS()
	if err := keys.PutFlag(ggep.KEY_SECURE_OOB); err != nil {
		return nil, err
	}
	patched, err := PatchInGGEP(payload, q.hugeStart, q.ext, keys)
	if err != nil {
		return nil, oops.Wrapf(err, "adding secure oob flag")
	}
	p, err := parseQuery(s, newEnvelope(s, g, FUNC_QUERY, q.ttl, q.hops, patched, q.network))
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		"at":       "messages.Query.ProxyFor",
		"original": q.guid.String(),
		"proxied":  g.String(),
	}).Debug("proxied_query")
	return p, nil
}

// WithDoNotProxy returns a copy of a query this host originated that asks
// ultrapeers not to proxy it.
func (q *Query) WithDoNotProxy(s *Settings) (*Query, error) {
	if !q.guid.IsLime() {
		return nil, oops.Wrapf(ErrInvalidQuery, "guid %s was not created here", q.guid)
	}
	if !q.originated {
		return nil, oops.Wrapf(ErrInvalidQuery, "query was not originated here")
	}
	if q.noProxy {
		return q, nil
	}
	p := q.params()
	p.DoNotProxy = true
	return NewQuery(s, p)
}

// UnmarkOOB returns a copy that asks for replies over the query path.
func (q *Query) UnmarkOOB(s *Settings) (*Query, error) {
	p := q.params()
	p.MinSpeed = (p.MinSpeed | SPECIAL_MINSPEED_MASK | SPECIAL_XML_MASK) &^ SPECIAL_OUTOFBAND_MASK
	p.CanReceiveOOB = false
	u, err := NewQuery(s, p)
	if err != nil {
		return nil, err
	}
	u.originated = q.originated
	return u, nil
}

// Multicast returns a single-hop copy of q under g for the local network.
func (q *Query) Multicast(s *Settings, g guid.GUID) (*Query, error) {
	p := q.params()
	p.GUID = g
	p.TTL = 1
	p.Network = NETWORK_MULTICAST
	p.MinSpeed = (p.MinSpeed | SPECIAL_MINSPEED_MASK | SPECIAL_XML_MASK) &^ SPECIAL_OUTOFBAND_MASK
	p.CanReceiveOOB = false
	return NewQuery(s, p)
}

// PatchInGGEP adds keys to the HUGE area of a query payload starting at
// hugeStart. When the area already has a GGEP block the keys are merged into
// it, replacing existing ones; otherwise a new COBS block is added at the end
// of the area.
func PatchInGGEP(payload []byte, hugeStart int, ext *huge.Extension, keys *ggep.GGEP) ([]byte, error) {
	if ext != nil {
		if block, ok := ext.LastBlock(); ok {
			merged := ggep.NewCOBS()
			merged.Merge(block.GGEP)
			merged.Merge(keys)
			b, err := merged.MarshalBinary()
			if err != nil {
				return nil, err
			}
			var out bytes.Buffer
			out.Write(payload[:hugeStart+block.Start])
			out.Write(b)
			out.Write(payload[hugeStart+block.End:])
			return out.Bytes(), nil
		}
	}

	b, err := keys.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if hugeStart > len(payload) {
		hugeStart = len(payload)
	}
	area := payload[hugeStart:]
	var out bytes.Buffer
	out.Write(payload[:hugeStart])
	switch {
	case len(area) == 0:
		out.Write(b)
	case area[len(area)-1] == huge.TERMINATOR:
		body := area[:len(area)-1]
		out.Write(body)
		if len(body) > 0 && body[len(body)-1] != huge.DELIMITER {
			out.WriteByte(huge.DELIMITER)
		}
		out.Write(b)
	default:
		out.Write(area)
		if area[len(area)-1] != huge.DELIMITER {
			out.WriteByte(huge.DELIMITER)
		}
		out.Write(b)
	}
	out.WriteByte(huge.TERMINATOR)
	return out.Bytes(), nil
}
