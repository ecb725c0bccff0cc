package ggep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(t *testing.T, kv ...string) []byte {
	t.Helper()
	g := New()
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, g.PutString(kv[i], kv[i+1]))
	}
	b, err := g.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestScanMergesNormalBlocks(t *testing.T) {
	first := block(t, "A", "1", "B", "1")
	second := block(t, "B", "2")
	data := append([]byte("junk"), first...)
	data = append(data, second...)

	res := Scan(data, 0)
	require.NotNil(t, res.Normal)
	assert.Nil(t, res.Secure)
	assert.Equal(t, 4, res.NormalStart)
	assert.Equal(t, len(data), res.NormalEnd)
	v, _ := res.Normal.GetString("B")
	assert.Equal(t, "2", v)
	assert.True(t, res.Normal.Has("A"))
}

func TestScanStopsAtSecureBlock(t *testing.T) {
	normal := block(t, "A", "1")
	secure := block(t, KEY_SECURE_BLOCK, "x", KEY_SIGNATURE, "sig")
	after := block(t, "C", "3")
	data := append(append(append([]byte{}, normal...), secure...), after...)

	res := Scan(data, 0)
	require.NotNil(t, res.Secure)
	assert.False(t, res.Normal.Has("C"))
	assert.Equal(t, len(normal), res.SecureStart)
	assert.Equal(t, len(normal)+len(secure), res.SecureEnd)

	signed := res.SignedBytes(data)
	assert.Equal(t, append(append([]byte{}, normal...), after...), signed)
}

func TestScanSkipsBadBlocks(t *testing.T) {
	good := block(t, "A", "1")
	data := append([]byte{MAGIC, 0x91, 'Z', 0x40}, good...)
	res := Scan(data, 0)
	require.NotNil(t, res.Normal)
	assert.Equal(t, 4, res.NormalStart)
}

func TestScanNothing(t *testing.T) {
	res := Scan([]byte("no blocks here"), 0)
	assert.Nil(t, res.Normal)
	assert.Nil(t, res.Secure)
	assert.Nil(t, res.SignedBytes(nil))
}
