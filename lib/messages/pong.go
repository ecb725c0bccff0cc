package messages

import (
	"encoding/binary"
	"math"
	"net/netip"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/netutil"
	"github.com/go-gnutella/go-gnutella/lib/security"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

/*
Pong
	+----+----+----+----+----+----+----+
	| port LE |  ip (network order)    |
	+----+----+----+----+----+----+----+
	|  files LE4        |  kbytes LE4       |
	+----+----+----+----+----+----+----+----+
	| optional GGEP block from offset 14    |
	+----+----+----+----+----+----+----+----+

A pong from an ultrapeer carries a kbytes value rounded to a power of two
of at least 8.
*/

const PONG_PREFIX_SIZE = 14

// DHTMode is the low nibble of the third DHT extension byte.
type DHTMode byte

const (
	DHT_INACTIVE     DHTMode = 0x00
	DHT_ACTIVE       DHTMode = 0x01
	DHT_PASSIVE      DHTMode = 0x02
	DHT_PASSIVE_LEAF DHTMode = 0x04

	DHT_MODE_MASK = 0x0F
)

func (m DHTMode) valid() bool {
	switch m {
	case DHT_INACTIVE, DHT_ACTIVE, DHT_PASSIVE, DHT_PASSIVE_LEAF:
		return true
	}
	return false
}

func (m DHTMode) String() string {
	switch m {
	case DHT_INACTIVE:
		return "inactive"
	case DHT_ACTIVE:
		return "active"
	case DHT_PASSIVE:
		return "passive"
	case DHT_PASSIVE_LEAF:
		return "passive_leaf"
	}
	return "unknown"
}

// PongParams describes an outgoing pong. Zero values leave the matching
// extension out, except where noted.
type PongParams struct {
	GUID guid.GUID
	TTL  int

	Port  int
	Addr  netip.Addr
	Files int64
	KB    int64

	// Ultrapeer marks KB and writes the UP extension.
	Ultrapeer          bool
	FreeLeafSlots      int
	FreeUltrapeerSlots int
	// GUESS writes GUE for ultrapeers.
	GUESS bool

	// DailyUptime in seconds; negative omits DU.
	DailyUptime int

	// DHTVersion negative omits DHT.
	DHTVersion int
	DHTMode    DHTMode

	Locale      string
	LocaleSlots int

	// MyAddress echoes the receiver's address in IP.
	MyAddress netip.AddrPort

	Hosts    []netutil.Endpoint
	DHTHosts []netutil.Endpoint

	// UDPHostCache advertises the sender as a UDP host cache under Name;
	// an empty name means the pong address.
	UDPHostCache     bool
	UDPHostCacheName string
	HostCaches       []netutil.Host

	TLS      bool
	QueryKey security.QueryKey
}

// DefaultPongParams returns params with every optional numeric field set to
// its "absent" value.
func DefaultPongParams() PongParams {
	return PongParams{GUID: guid.New(), TTL: 1, DailyUptime: -1, DHTVersion: -1}
}

func (p PongParams) ggep() (*ggep.GGEP, error) {
	g := ggep.New()
	var err error
	put := func(key string, value []byte) {
		if err == nil {
			err = g.Put(key, value)
		}
	}
	if p.DailyUptime >= 0 {
		err = g.PutInt(ggep.KEY_DAILY_AVERAGE_UPTIME, p.DailyUptime)
	}
	if p.GUESS && p.Ultrapeer {
		put(ggep.KEY_UNICAST_SUPPORT, nil)
	}
	if p.Ultrapeer {
		put(ggep.KEY_UP_SUPPORT, []byte{0, byte(p.FreeLeafSlots), byte(p.FreeUltrapeerSlots)})
	}
	if p.DHTVersion >= 0 {
		v := make([]byte, 3)
		binary.BigEndian.PutUint16(v, uint16(p.DHTVersion))
		v[2] = byte(p.DHTMode)
		put(ggep.KEY_DHT_SUPPORT, v)
	}
	if p.TLS {
		put(ggep.KEY_TLS_SUPPORT, nil)
	}
	if p.Locale != "" {
		if len(p.Locale) < 2 {
			return nil, oops.Errorf("locale %q needs two letters", p.Locale)
		}
		put(ggep.KEY_CLIENT_LOCALE, []byte{p.Locale[0], p.Locale[1], byte(p.LocaleSlots)})
	}
	if p.MyAddress.IsValid() {
		v := make([]byte, netutil.IPPORT_SIZE)
		netutil.PutIPPort(v, netutil.NewEndpoint(p.MyAddress))
		put(ggep.KEY_IP_PORT, v)
	}
	if len(p.Hosts) > 0 {
		put(ggep.KEY_PACKED_IP_PORTS, netutil.Pack(p.Hosts))
		if tls := netutil.TLSBits(p.Hosts).Bytes(); len(tls) > 0 {
			put(ggep.KEY_PACKED_IP_PORTS_TLS, tls)
		}
	}
	if len(p.DHTHosts) > 0 {
		put(ggep.KEY_DHT_IPPORTS, netutil.Pack(p.DHTHosts))
	}
	if p.UDPHostCache {
		if p.UDPHostCacheName == "" {
			put(ggep.KEY_UDP_HOST_CACHE, nil)
		} else {
			put(ggep.KEY_UDP_HOST_CACHE, []byte(p.UDPHostCacheName))
		}
	}
	if len(p.HostCaches) > 0 {
		put(ggep.KEY_PACKED_HOSTCACHES, []byte(netutil.FormatHostList(p.HostCaches)))
	}
	if len(p.QueryKey) > 0 {
		put(ggep.KEY_QUERY_KEY_SUPPORT, p.QueryKey)
	}
	return g, err
}

// Pong is a ping reply.
type Pong struct {
	*Envelope

	port  int
	addr  netip.Addr
	files int64
	kb    int64

	ext       *ggep.GGEP
	uptime    int
	unicast   bool
	queryKey  security.QueryKey
	leafSlots int
	upSlots   int
	dhtVer    int
	dhtMode   DHTMode
	locale    string
	locSlots  int
	myAddr    netip.AddrPort
	cache     string
	isCache   bool
	hosts     []netutil.Endpoint
	dhtHosts  []netutil.Endpoint
	caches    []netutil.Host
	tls       bool
}

// NewPong builds a pong from p.
func NewPong(s *Settings, p PongParams) (*Pong, error) {
	if !netutil.ValidPort(p.Port) {
		return nil, oops.Wrapf(ErrInvalidPort, "port %d", p.Port)
	}
	if !p.Addr.Is4() && !p.Addr.Is4In6() || !netutil.ValidAddr(p.Addr) {
		return nil, oops.Wrapf(ErrInvalidAddress, "address %s", p.Addr)
	}
	if p.TTL < 0 || p.TTL > MAX_TTL {
		return nil, oops.Wrapf(ErrInvalidTTL, "ttl %d", p.TTL)
	}
	ext, err := p.ggep()
	if err != nil {
		return nil, oops.Wrapf(err, "building pong extensions")
	}
	extBytes, err := ext.MarshalBinary()
	if err != nil {
		return nil, oops.Wrapf(err, "writing pong extensions")
	}
	kb := p.KB
	if p.Ultrapeer {
		kb = mark(kb)
	}
	payload := make([]byte, PONG_PREFIX_SIZE, PONG_PREFIX_SIZE+len(extBytes))
	binary.LittleEndian.PutUint16(payload[0:], uint16(p.Port))
	ip := p.Addr.Unmap().As4()
	copy(payload[2:6], ip[:])
	binary.LittleEndian.PutUint32(payload[6:], uint32(p.Files))
	binary.LittleEndian.PutUint32(payload[10:], uint32(kb))
	payload = append(payload, extBytes...)

	pong, err := parsePong(s, newEnvelope(s, p.GUID, FUNC_PING_REPLY, p.TTL, 0, payload, NETWORK_UNKNOWN))
	if err != nil {
		return nil, oops.Wrapf(err, "pong did not round trip")
	}
	return pong, nil
}

// NewQueryKeyPong answers a query key request.
func NewQueryKeyPong(s *Settings, g guid.GUID, ep netutil.Endpoint, qk security.QueryKey) (*Pong, error) {
	p := DefaultPongParams()
	p.GUID = g
	p.Port = ep.Port
	p.Addr = ep.Addr
	p.QueryKey = qk
	return NewPong(s, p)
}

// mark rounds kbytes to the nearest power of two, at least 8 and at most
// 1<<30.
func mark(kbytes int64) int64 {
	x := clampInt32(kbytes)
	for i := 3; i < 30; i++ {
		low := int64(1) << i
		split := (low + low<<1) / 2
		if x < split {
			return low
		}
	}
	return 1 << 30
}

func clampInt32(v int64) int64 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return v
}

// DecodePong validates the prefix, the GGEP keys that must be well formed
// and the address.
func DecodePong(s *Settings, f Frame) (Message, error) {
	return parsePong(s, envelopeFor(s, f))
}

func parsePong(s *Settings, e *Envelope) (*Pong, error) {
	data := e.payload
	if len(data) < PONG_PREFIX_SIZE {
		return nil, badPacketf(FUNC_PING_REPLY, REASON_TOO_SHORT, "pong payload of %d bytes", len(data))
	}
	p := &Pong{
		Envelope:  e,
		port:      int(binary.LittleEndian.Uint16(data[0:])),
		addr:      netutil.AddrFrom4(data[2:6]),
		files:     int64(binary.LittleEndian.Uint32(data[6:])),
		kb:        int64(binary.LittleEndian.Uint32(data[10:])),
		uptime:    -1,
		leafSlots: -1,
		upSlots:   -1,
		dhtVer:    -1,
		locale:    s.Locale,
		locSlots:  -1,
	}
	if !netutil.ValidPort(p.port) {
		return nil, badPacketf(FUNC_PING_REPLY, REASON_INVALID_PORT, "port %d", p.port)
	}
	if len(data) > PONG_PREFIX_SIZE {
		g, _, err := ggep.Parse(data, PONG_PREFIX_SIZE)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":   "messages.parsePong",
				"guid": e.guid.String(),
			}).WithError(err).Debug("ignoring_bad_pong_ggep")
		} else {
			p.ext = g
		}
	}
	if p.ext != nil {
		if err := p.readExtensions(); err != nil {
			return nil, err
		}
	}
	if !netutil.ValidAddr(p.addr) {
		return nil, badPacketf(FUNC_PING_REPLY, REASON_INVALID_ADDRESS, "address %s", p.addr)
	}
	if p.isCache && p.cache == "" {
		p.cache = p.addr.String()
	}
	return p, nil
}

func (p *Pong) readExtensions() error {
	g := p.ext
	if g.Has(ggep.KEY_CLIENT_LOCALE) {
		b, err := g.GetBytes(ggep.KEY_CLIENT_LOCALE)
		if err != nil {
			return badPacket(FUNC_PING_REPLY, REASON_INVALID_PAYLOAD, err)
		}
		if len(b) >= 2 {
			p.locale = string(b[:2])
		}
		if len(b) >= 3 {
			p.locSlots = int(b[2])
		}
	}
	if g.Has(ggep.KEY_PACKED_IP_PORTS) {
		b, err := g.GetBytes(ggep.KEY_PACKED_IP_PORTS)
		if err != nil {
			return badPacket(FUNC_PING_REPLY, REASON_INVALID_PAYLOAD, err)
		}
		if len(b)%netutil.IPPORT_SIZE != 0 {
			return badPacketf(FUNC_PING_REPLY, REASON_INVALID_PAYLOAD, "IPP of %d bytes", len(b))
		}
		if hosts, err := netutil.Unpack(b); err == nil {
			if tls, ok := g.Get(ggep.KEY_PACKED_IP_PORTS_TLS); ok && len(tls) > 0 {
				netutil.MarkTLS(hosts, netutil.BitNumbersFromBytes(tls))
			}
			p.hosts = hosts
		}
	}
	if g.Has(ggep.KEY_PACKED_HOSTCACHES) {
		s, err := g.GetString(ggep.KEY_PACKED_HOSTCACHES)
		if err != nil {
			return badPacket(FUNC_PING_REPLY, REASON_INVALID_PAYLOAD, err)
		}
		p.caches = netutil.ParseHostList(s)
	}
	if g.Has(ggep.KEY_UDP_HOST_CACHE) {
		p.isCache = true
		// Host names are kept as given; only a literal address replaces the
		// pong address.
		if name, err := g.GetString(ggep.KEY_UDP_HOST_CACHE); err == nil {
			p.cache = name
			if a, err := netip.ParseAddr(name); err == nil && a.Unmap().Is4() {
				p.addr = a.Unmap()
			}
		}
	}
	if g.Has(ggep.KEY_QUERY_KEY_SUPPORT) {
		b, _ := g.Get(ggep.KEY_QUERY_KEY_SUPPORT)
		qk, err := security.ParseQueryKey(b)
		if err != nil {
			return badPacket(FUNC_PING_REPLY, REASON_INVALID_PAYLOAD, err)
		}
		p.queryKey = qk
	}

	if v, err := g.GetInt(ggep.KEY_DAILY_AVERAGE_UPTIME); err == nil {
		p.uptime = v
	}
	p.unicast = g.Has(ggep.KEY_UNICAST_SUPPORT)
	if b, ok := g.Get(ggep.KEY_UP_SUPPORT); ok && len(b) >= 3 {
		p.leafSlots = int(int8(b[1]))
		p.upSlots = int(int8(b[2]))
	}
	if b, ok := g.Get(ggep.KEY_DHT_SUPPORT); ok && len(b) >= 3 {
		p.dhtVer = int(binary.BigEndian.Uint16(b))
		p.dhtMode = DHTMode(b[2] & DHT_MODE_MASK)
		if !p.dhtMode.valid() {
			p.dhtVer = -1
		}
	}
	if b, ok := g.Get(ggep.KEY_IP_PORT); ok && len(b) >= netutil.IPPORT_SIZE {
		a := netutil.AddrFrom4(b[:4])
		port := int(binary.LittleEndian.Uint16(b[4:6]))
		if netutil.ValidAddr(a) && !netutil.PrivateAddr(a) && netutil.ValidPort(port) {
			p.myAddr = netip.AddrPortFrom(a, uint16(port))
		}
	}
	if b, ok := g.Get(ggep.KEY_DHT_IPPORTS); ok {
		if hosts, err := netutil.Unpack(b); err == nil {
			p.dhtHosts = hosts
		}
	}
	p.tls = g.Has(ggep.KEY_TLS_SUPPORT)
	return nil
}

// MutateGUID returns a copy of p carrying g.
func (p *Pong) MutateGUID(s *Settings, g guid.GUID) (*Pong, error) {
	e := newEnvelope(s, g, FUNC_PING_REPLY, p.ttl, p.hops, p.payload, p.network)
	e.source = p.source
	out, err := parsePong(s, e)
	if err != nil {
		return nil, oops.Wrapf(err, "mutating pong guid")
	}
	return out, nil
}

func (p *Pong) Port() int        { return p.port }
func (p *Pong) Addr() netip.Addr { return p.addr }
func (p *Pong) Files() int64     { return p.files }
func (p *Pong) KB() int64        { return p.kb }
func (p *Pong) GGEP() *ggep.GGEP { return p.ext }
func (p *Pong) HasGGEP() bool    { return p.ext != nil }
func (p *Pong) DailyUptime() int { return p.uptime }
func (p *Pong) SupportsUnicast() bool {
	return p.unicast
}

func (p *Pong) Endpoint() netutil.Endpoint {
	return netutil.Endpoint{Addr: p.addr, Port: p.port, TLS: p.tls}
}

// IPBytes returns the 4 address bytes as they appear in the payload.
func (p *Pong) IPBytes() []byte {
	return append([]byte(nil), p.payload[2:6]...)
}

// QueryKey returns the query key carried in QK, or nil.
func (p *Pong) QueryKey() security.QueryKey { return p.queryKey }

func (p *Pong) FreeLeafSlots() int      { return p.leafSlots }
func (p *Pong) FreeUltrapeerSlots() int { return p.upSlots }
func (p *Pong) HasFreeLeafSlots() bool  { return p.leafSlots > 0 }
func (p *Pong) HasFreeUltrapeerSlots() bool {
	return p.upSlots > 0
}

func (p *Pong) HasFreeSlots() bool {
	return p.HasFreeLeafSlots() || p.HasFreeUltrapeerSlots()
}

// DHTVersion is -1 when absent or when the mode is not recognised.
func (p *Pong) DHTVersion() int    { return p.dhtVer }
func (p *Pong) DHTMode() DHTMode   { return p.dhtMode }
func (p *Pong) Locale() string     { return p.locale }
func (p *Pong) LocaleSlots() int   { return p.locSlots }
func (p *Pong) IsTLSCapable() bool { return p.tls }

// MyAddr is the public address the sender saw us at, if it told us.
func (p *Pong) MyAddr() (netip.AddrPort, bool) {
	return p.myAddr, p.myAddr.IsValid()
}

func (p *Pong) IsUDPHostCache() bool { return p.isCache }

// UDPCacheAddress is the host cache name, or the pong address when the
// sender gave none.
func (p *Pong) UDPCacheAddress() string { return p.cache }

func (p *Pong) Hosts() []netutil.Endpoint    { return p.hosts }
func (p *Pong) DHTHosts() []netutil.Endpoint { return p.dhtHosts }
func (p *Pong) HostCaches() []netutil.Host   { return p.caches }

// IsUltrapeer reports whether the kbytes field is marked.
func (p *Pong) IsUltrapeer() bool {
	if p.kb < 8 {
		return false
	}
	x := clampInt32(p.kb)
	return x&(x-1) == 0
}
