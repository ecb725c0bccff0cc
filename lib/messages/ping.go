package messages

import (
	"sync"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

/*
Ping
	empty, or one GGEP block:
	  LOC     client locale
	  SCP     wants cached pongs; bit 0 of the value set by ultrapeers
	  IP      asks the receiver to echo our address
	  QK      asks for a query key
	  DHTIPP  asks for DHT hosts
*/

// SCP_ULTRAPEER is set in the SCP byte when the sender is an ultrapeer.
const SCP_ULTRAPEER = 0x01

// PingOptions selects the extensions written into a ping.
type PingOptions struct {
	Locale          string
	CachedPongs     bool
	Ultrapeer       bool
	RequestIP       bool
	RequestQueryKey bool
	RequestDHTIPP   bool
}

func (o PingOptions) ggep() (*ggep.GGEP, error) {
	g := ggep.New()
	var err error
	put := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	if o.Locale != "" {
		put(func() error { return g.PutString(ggep.KEY_CLIENT_LOCALE, o.Locale) })
	}
	if o.CachedPongs {
		var b byte
		if o.Ultrapeer {
			b |= SCP_ULTRAPEER
		}
		put(func() error { return g.PutByte(ggep.KEY_SUPPORT_CACHE_PONGS, b) })
	}
	if o.RequestIP {
		put(func() error { return g.PutFlag(ggep.KEY_IP_PORT) })
	}
	if o.RequestQueryKey {
		put(func() error { return g.PutFlag(ggep.KEY_QUERY_KEY_SUPPORT) })
	}
	if o.RequestDHTIPP {
		put(func() error { return g.PutFlag(ggep.KEY_DHT_IPPORTS) })
	}
	return g, err
}

// Ping is a ping request.
type Ping struct {
	*Envelope
	defaultLocale string

	once sync.Once
	ext  *ggep.GGEP
}

// NewPing creates a ping with no extensions and a fresh GUID.
func NewPing(s *Settings, ttl int) (*Ping, error) {
	return NewPingWithOptions(s, guid.New(), ttl, PingOptions{})
}

// NewPingWithOptions creates a ping carrying the extensions in opts.
func NewPingWithOptions(s *Settings, g guid.GUID, ttl int, opts PingOptions) (*Ping, error) {
	if ttl < 0 || ttl > MAX_TTL {
		return nil, oops.Wrapf(ErrInvalidTTL, "ttl %d", ttl)
	}
	ext, err := opts.ggep()
	if err != nil {
		return nil, oops.Wrapf(err, "building ping extensions")
	}
	payload, err := ext.MarshalBinary()
	if err != nil {
		return nil, oops.Wrapf(err, "writing ping extensions")
	}
	p := &Ping{
		Envelope:      newEnvelope(s, g, FUNC_PING, ttl, 0, payload, NETWORK_UNKNOWN),
		defaultLocale: s.Locale,
	}
	return p, nil
}

// NewQueryKeyRequest creates the one hop ping sent over UDP to obtain a
// query key.
func NewQueryKeyRequest(s *Settings) (*Ping, error) {
	return NewPingWithOptions(s, guid.New(), 1, PingOptions{RequestQueryKey: true})
}

// NewUDPPing creates the ping sent to UDP host caches: it asks for our
// address and for cached pongs.
func NewUDPPing(s *Settings, ultrapeer bool) (*Ping, error) {
	return NewPingWithOptions(s, guid.New(), 1, PingOptions{
		Locale:      s.Locale,
		CachedPongs: true,
		Ultrapeer:   ultrapeer,
		RequestIP:   true,
	})
}

// DecodePing never fails: a payload that is not a valid GGEP block is
// treated as carrying no extensions.
func DecodePing(s *Settings, f Frame) (Message, error) {
	return &Ping{Envelope: envelopeFor(s, f), defaultLocale: s.Locale}, nil
}

func (p *Ping) extensions() *ggep.GGEP {
	p.once.Do(func() {
		if len(p.payload) == 0 {
			return
		}
		g, _, err := ggep.Parse(p.payload, 0)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":   "messages.Ping.extensions",
				"guid": p.guid.String(),
			}).WithError(err).Debug("ignoring_bad_ping_ggep")
			return
		}
		p.ext = g
	})
	return p.ext
}

// GGEP returns the ping's extension block, or nil.
func (p *Ping) GGEP() *ggep.GGEP {
	return p.extensions()
}

func (p *Ping) HasGGEP() bool {
	g := p.extensions()
	return g != nil && !g.IsEmpty()
}

// IsHeartbeat reports whether this is a keep-alive ping: one hop travelled
// and no TTL left.
func (p *Ping) IsHeartbeat() bool {
	return p.hops == 1 && p.ttl == 0
}

func (p *Ping) has(key string) bool {
	g := p.extensions()
	return g != nil && g.Has(key)
}

func (p *Ping) SupportsCachedPongs() bool {
	return p.has(ggep.KEY_SUPPORT_CACHE_PONGS)
}

// SCPData returns the value of the SCP key, or nil.
func (p *Ping) SCPData() []byte {
	g := p.extensions()
	if g == nil {
		return nil
	}
	v, _ := g.Get(ggep.KEY_SUPPORT_CACHE_PONGS)
	return v
}

// WantsUltrapeers reports whether the sender is an ultrapeer asking for
// ultrapeer pongs.
func (p *Ping) WantsUltrapeers() bool {
	d := p.SCPData()
	return len(d) > 0 && d[0]&SCP_ULTRAPEER != 0
}

func (p *Ping) RequestsIP() bool {
	return p.has(ggep.KEY_IP_PORT)
}

func (p *Ping) RequestsQueryKey() bool {
	return p.has(ggep.KEY_QUERY_KEY_SUPPORT)
}

func (p *Ping) RequestsDHTIPP() bool {
	return p.has(ggep.KEY_DHT_IPPORTS)
}

// Locale returns the locale the sender advertised, or the local default.
func (p *Ping) Locale() string {
	g := p.extensions()
	if g != nil {
		if loc, err := g.GetString(ggep.KEY_CLIENT_LOCALE); err == nil && loc != "" {
			return loc
		}
	}
	return p.defaultLocale
}
