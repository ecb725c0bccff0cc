package messages

import (
	"net/netip"
	"testing"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/netutil"
	"github.com/go-gnutella/go-gnutella/lib/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicPong() PongParams {
	p := DefaultPongParams()
	p.Port = 6346
	p.Addr = publicAddr
	p.Files = 120
	p.KB = 5000
	return p
}

func TestPongPrefix(t *testing.T) {
	pong, err := NewPong(DefaultSettings(), basicPong())
	require.NoError(t, err)
	assert.Equal(t, PONG_PREFIX_SIZE, pong.Length())
	assert.False(t, pong.HasGGEP())

	got := redecode(t, pong).(*Pong)
	assert.Equal(t, 6346, got.Port())
	assert.Equal(t, publicAddr, got.Addr())
	assert.Equal(t, int64(120), got.Files())
	assert.Equal(t, int64(5000), got.KB())
	assert.Equal(t, publicAddr.AsSlice(), got.IPBytes())
	assert.False(t, got.IsUltrapeer())
	assert.Equal(t, -1, got.DailyUptime())
	assert.Equal(t, -1, got.DHTVersion())
	assert.Equal(t, "en", got.Locale())
}

func TestPongMarking(t *testing.T) {
	cases := map[int64]int64{0: 8, 11: 8, 12: 16, 100: 128, 5000: 4096, 1 << 40: 1 << 30}
	for in, want := range cases {
		assert.Equal(t, want, mark(in), "mark(%d)", in)
	}

	p := basicPong()
	p.Ultrapeer = true
	p.FreeLeafSlots = 20
	p.FreeUltrapeerSlots = 3
	p.GUESS = true
	pong, err := NewPong(DefaultSettings(), p)
	require.NoError(t, err)

	got := redecode(t, pong).(*Pong)
	assert.Equal(t, int64(4096), got.KB())
	assert.True(t, got.IsUltrapeer())
	assert.True(t, got.SupportsUnicast())
	assert.Equal(t, 20, got.FreeLeafSlots())
	assert.Equal(t, 3, got.FreeUltrapeerSlots())
	assert.True(t, got.HasFreeSlots())
}

func TestPongExtensions(t *testing.T) {
	qk, err := security.ParseQueryKey([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	hosts := []netutil.Endpoint{
		{Addr: otherAddr, Port: 6346},
		{Addr: publicAddr, Port: 6347, TLS: true},
	}
	p := basicPong()
	p.DailyUptime = 3600
	p.DHTVersion = 2
	p.DHTMode = DHT_PASSIVE
	p.Locale = "fr"
	p.LocaleSlots = 4
	p.MyAddress = netip.AddrPortFrom(otherAddr, 1234)
	p.Hosts = hosts
	p.DHTHosts = hosts[:1]
	p.HostCaches = []netutil.Host{{Name: "cache.example.com", Port: 6346}}
	p.TLS = true
	p.QueryKey = qk
	pong, err := NewPong(DefaultSettings(), p)
	require.NoError(t, err)

	got := redecode(t, pong).(*Pong)
	assert.Equal(t, 3600, got.DailyUptime())
	assert.Equal(t, 2, got.DHTVersion())
	assert.Equal(t, DHT_PASSIVE, got.DHTMode())
	assert.Equal(t, "fr", got.Locale())
	assert.Equal(t, 4, got.LocaleSlots())
	my, ok := got.MyAddr()
	require.True(t, ok)
	assert.Equal(t, netip.AddrPortFrom(otherAddr, 1234), my)
	assert.Equal(t, hosts, got.Hosts())
	assert.Equal(t, hosts[:1], got.DHTHosts())
	assert.Equal(t, p.HostCaches, got.HostCaches())
	assert.True(t, got.IsTLSCapable())
	assert.Equal(t, qk, got.QueryKey())
	assert.True(t, got.Endpoint().TLS)
}

func TestPongUnknownDHTMode(t *testing.T) {
	p := basicPong()
	p.DHTVersion = 1
	p.DHTMode = DHTMode(0x07)
	pong, err := NewPong(DefaultSettings(), p)
	require.NoError(t, err)
	assert.Equal(t, -1, pong.DHTVersion())
}

func TestUDPHostCachePong(t *testing.T) {
	p := basicPong()
	p.UDPHostCache = true
	pong, err := NewPong(DefaultSettings(), p)
	require.NoError(t, err)
	assert.True(t, pong.IsUDPHostCache())
	assert.Equal(t, publicAddr.String(), pong.UDPCacheAddress())

	p.UDPHostCacheName = "uhc.example.net"
	pong, err = NewPong(DefaultSettings(), p)
	require.NoError(t, err)
	assert.Equal(t, "uhc.example.net", pong.UDPCacheAddress())
	assert.Equal(t, publicAddr, pong.Addr())

	p.UDPHostCacheName = otherAddr.String()
	pong, err = NewPong(DefaultSettings(), p)
	require.NoError(t, err)
	assert.Equal(t, otherAddr, pong.Addr())
}

func TestPongRejectsBadPrefix(t *testing.T) {
	s := DefaultSettings()
	p := basicPong()
	p.Port = 0
	_, err := NewPong(s, p)
	assert.ErrorIs(t, err, ErrInvalidPort)

	p = basicPong()
	p.Addr = netip.MustParseAddr("255.1.2.3")
	_, err = NewPong(s, p)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	f := NewFactory(s)
	_, err = f.ReadDatagram(frameBytes(guid.New(), FUNC_PING_REPLY, 1, 0, make([]byte, 10)), NETWORK_UDP, 7, publicAddrPort())
	assert.Equal(t, REASON_TOO_SHORT, Reason(err))
}

func TestPongRejectsBadIPP(t *testing.T) {
	g := ggep.New()
	require.NoError(t, g.Put(ggep.KEY_PACKED_IP_PORTS, []byte{1, 2, 3, 4, 5}))
	ext, err := g.MarshalBinary()
	require.NoError(t, err)

	payload := make([]byte, PONG_PREFIX_SIZE)
	payload[0] = 1
	copy(payload[2:6], publicAddr.AsSlice())
	payload = append(payload, ext...)
	_, err = NewFactory(DefaultSettings()).ReadDatagram(
		frameBytes(guid.New(), FUNC_PING_REPLY, 1, 0, payload), NETWORK_UDP, 7, publicAddrPort())
	assert.True(t, IsBadPacket(err))
	assert.Equal(t, REASON_INVALID_PAYLOAD, Reason(err))
}

func TestPongMutateGUID(t *testing.T) {
	pong, err := NewPong(DefaultSettings(), basicPong())
	require.NoError(t, err)
	g := guid.New()
	out, err := pong.MutateGUID(DefaultSettings(), g)
	require.NoError(t, err)
	assert.Equal(t, g, out.GUID())
	assert.Equal(t, pong.Payload(), out.Payload())
	assert.NotEqual(t, g, pong.GUID())
}

func TestQueryKeyPong(t *testing.T) {
	qk := security.QueryKey{9, 9, 9, 9}
	pong, err := NewQueryKeyPong(DefaultSettings(), guid.New(), netutil.Endpoint{Addr: publicAddr, Port: 6346}, qk)
	require.NoError(t, err)
	assert.Equal(t, qk, redecode(t, pong).(*Pong).QueryKey())
}
