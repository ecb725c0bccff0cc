package messages

import (
	"bytes"
	"net/netip"
	"sync"
	"testing"

	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/stretchr/testify/require"
)

var (
	publicAddr = netip.MustParseAddr("18.239.0.1")
	otherAddr  = netip.MustParseAddr("64.61.25.171")
)

// wire encodes m as it would travel on a connection.
func wire(t *testing.T, m Message) []byte {
	t.Helper()
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	return b
}

// frameBytes builds raw header and payload bytes.
func frameBytes(g guid.GUID, function byte, ttl, hops int, payload []byte) []byte {
	h := Header{GUID: g, Function: function, TTL: ttl, Hops: hops, Length: len(payload)}
	out := make([]byte, HEADER_SIZE, HEADER_SIZE+len(payload))
	h.put(out)
	return append(out, payload...)
}

// redecode runs m through a default factory.
func redecode(t *testing.T, m Message) Message {
	t.Helper()
	f := NewFactory(DefaultSettings())
	got, err := f.Read(bytes.NewReader(wire(t, m)), NETWORK_TCP, MAX_TTL, netip.AddrPort{})
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

// recorder counts metric events.
type recorder struct {
	mu      sync.Mutex
	decoded map[string]int
	bad     map[string]int
	clamped map[string]int
	fatal   map[string]int
}

func newRecorder() *recorder {
	return &recorder{
		decoded: map[string]int{},
		bad:     map[string]int{},
		clamped: map[string]int{},
		fatal:   map[string]int{},
	}
}

func (r *recorder) Decoded(function string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoded[function]++
}

func (r *recorder) BadPacket(function, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bad[function+"/"+reason]++
}

func (r *recorder) Clamped(function string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clamped[function]++
}

func (r *recorder) FatalRead(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatal[reason]++
}

func publicAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(publicAddr, 6346)
}
