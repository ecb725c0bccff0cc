package netutil

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidAddr(t *testing.T) {
	for s, want := range map[string]bool{
		"1.2.3.4":         true,
		"0.1.2.3":         false,
		"255.1.1.1":       false,
		"0.0.0.0":         false,
		"::":              false,
		"2001:db8::1":     false,
		"2607:f8b0::1":    true,
		"::ffff:0.1.2.3":  false,
		"::ffff:18.1.2.3": true,
		"192.168.1.1":     true,
		"127.0.0.1":       true,
	} {
		assert.Equal(t, want, ValidAddr(netip.MustParseAddr(s)), s)
	}
	assert.False(t, ValidAddr(netip.Addr{}))
}

func TestPrivateAddr(t *testing.T) {
	for s, want := range map[string]bool{
		"10.0.0.1":        true,
		"172.16.5.4":      true,
		"172.32.5.4":      false,
		"192.168.0.1":     true,
		"169.254.1.1":     true,
		"127.0.0.1":       true,
		"255.255.255.255": true,
		"0.0.0.0":         true,
		"18.239.0.1":      false,
		"fc00::1":         true,
		"fe80::1":         true,
		"fec0::1":         true,
		"2001:db8::1":     true,
		"2607:f8b0::1":    false,
	} {
		assert.Equal(t, want, PrivateAddr(netip.MustParseAddr(s)), s)
	}
}

func TestValidPort(t *testing.T) {
	assert.False(t, ValidPort(0))
	assert.True(t, ValidPort(1))
	assert.True(t, ValidPort(65535))
	assert.False(t, ValidPort(65536))
}

func TestPackUnpack(t *testing.T) {
	eps := []Endpoint{
		{Addr: netip.MustParseAddr("1.2.3.4"), Port: 6346},
		{Addr: netip.MustParseAddr("5.6.7.8"), Port: 1, TLS: true},
	}
	data := Pack(eps)
	assert.Equal(t, []byte{1, 2, 3, 4, 0xCA, 0x18, 5, 6, 7, 8, 1, 0}, data)

	got, err := Unpack(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, eps[0], got[0])
	assert.False(t, got[1].TLS)

	MarkTLS(got, BitNumbersFromBytes(TLSBits(eps).Bytes()))
	assert.True(t, got[1].TLS)
	assert.False(t, got[0].TLS)
}

func TestUnpackRejects(t *testing.T) {
	_, err := Unpack([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrInvalidData)
	_, err = Unpack([]byte{1, 2, 3, 4, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidData)
	_, err = Unpack([]byte{0, 2, 3, 4, 1, 0})
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestBitNumbers(t *testing.T) {
	bn := NewBitNumbers(20)
	assert.True(t, bn.IsEmpty())
	bn.Set(0)
	bn.Set(9)
	assert.Equal(t, []byte{0x80, 0x40}, bn.Bytes())
	assert.True(t, bn.IsSet(9))
	assert.False(t, bn.IsSet(10))
	assert.False(t, bn.IsSet(100))
	assert.Equal(t, 24, bn.Max())
}

func TestParseHostList(t *testing.T) {
	hosts := ParseHostList("cache.example.com:1234\nother.example.net\n:99\nbad:port\n1.2.3.4:70000\nhost:6347&feature")
	assert.Equal(t, []Host{
		{Name: "cache.example.com", Port: 1234},
		{Name: "other.example.net", Port: DEFAULT_PORT},
		{Name: "host", Port: 6347},
	}, hosts)
	assert.Equal(t, "a:1\nb:2", FormatHostList([]Host{{"a", 1}, {"b", 2}}))
}
