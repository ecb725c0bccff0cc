package security

import (
	"net/netip"
	"testing"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	s, err := NewBlake2bSigner([]byte("secret"))
	require.NoError(t, err)
	sig, err := s.Sign([]byte("data"))
	require.NoError(t, err)
	assert.Len(t, sig, SIGNATURE_SIZE)
	assert.True(t, s.Verify([]byte("data"), sig))
	assert.True(t, s.Verify([]byte("data"), sig[:8]))
	assert.False(t, s.Verify([]byte("other"), sig))
	assert.False(t, s.Verify([]byte("data"), nil))

	other, err := NewBlake2bSigner(nil)
	require.NoError(t, err)
	assert.False(t, other.Verify([]byte("data"), sig))

	_, err = NewBlake2bSigner(make([]byte, 65))
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestQueryKeys(t *testing.T) {
	s, err := NewBlake2bSigner(nil)
	require.NoError(t, err)
	ap := netip.MustParseAddrPort("18.239.0.144:6346")
	qk, err := NewQueryKey(s, ap)
	require.NoError(t, err)
	assert.Len(t, qk, QUERY_KEY_SIZE)
	assert.True(t, ValidQueryKey(s, qk, ap))
	assert.False(t, ValidQueryKey(s, qk, netip.MustParseAddrPort("18.239.0.144:6347")))

	_, err = ParseQueryKey([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = ParseQueryKey(make([]byte, 17))
	assert.ErrorIs(t, err, ErrInvalidToken)
	parsed, err := ParseQueryKey(qk)
	require.NoError(t, err)
	assert.Equal(t, qk, parsed)
}

func TestSecureBlock(t *testing.T) {
	s, err := NewBlake2bSigner(nil)
	require.NoError(t, err)
	prefix := []byte("payload before")
	block, err := SignBlock(s, prefix)
	require.NoError(t, err)
	enc, err := block.MarshalBinary()
	require.NoError(t, err)
	payload := append(append([]byte{}, prefix...), enc...)

	res := ggep.Scan(payload, 0)
	require.NotNil(t, res.Secure)
	assert.True(t, VerifyBlock(s, payload, res))

	payload[0] ^= 0xFF
	assert.False(t, VerifyBlock(s, payload, res))
	assert.False(t, VerifyBlock(s, payload, &ggep.ScanResult{}))
}
