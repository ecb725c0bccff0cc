package ggep

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyBlockWritesNothing(t *testing.T) {
	b, err := New().MarshalBinary()
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestSingleFlagEncoding(t *testing.T) {
	g := New()
	require.NoError(t, g.PutFlag(KEY_BROWSE_HOST))
	b, err := g.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{MAGIC, FLAG_LAST | 2, 'B', 'H', LENGTH_LAST}, b)
}

func TestRoundTripMixedValues(t *testing.T) {
	g := New()
	require.NoError(t, g.PutFlag(KEY_TLS_SUPPORT))
	require.NoError(t, g.PutInt(KEY_DAILY_AVERAGE_UPTIME, 86399))
	require.NoError(t, g.PutLong(KEY_LARGE_FILE, 1<<40))
	require.NoError(t, g.PutString(KEY_CLIENT_LOCALE, "en"))
	require.NoError(t, g.Put(KEY_PUSH_PROXY, bytes.Repeat([]byte{1, 2, 3, 4, 5, 6}, 700)))

	b, err := g.MarshalBinary()
	require.NoError(t, err)
	parsed, n, err := Parse(b, 0)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.True(t, g.Equal(parsed))

	du, err := parsed.GetInt(KEY_DAILY_AVERAGE_UPTIME)
	require.NoError(t, err)
	assert.Equal(t, 86399, du)
	lf, err := parsed.GetLong(KEY_LARGE_FILE)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), lf)
	loc, err := parsed.GetString(KEY_CLIENT_LOCALE)
	require.NoError(t, err)
	assert.Equal(t, "en", loc)
	assert.True(t, parsed.Has(KEY_TLS_SUPPORT))
	assert.False(t, parsed.HasValue(KEY_TLS_SUPPORT))
	_, err = parsed.GetBytes(KEY_TLS_SUPPORT)
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestLengthEncodingWidths(t *testing.T) {
	for _, size := range []int{1, 0x3F, 0x40, 0xFFF, 0x1000, MAX_VALUE_SIZE} {
		g := New()
		require.NoError(t, g.Put("X", bytes.Repeat([]byte{7}, size)))
		b, err := g.MarshalBinary()
		require.NoError(t, err)
		overhead, err := g.HeaderOverhead("X")
		require.NoError(t, err)
		assert.Equal(t, len(b)-1, overhead, "size %d", size)
		parsed, _, err := Parse(b, 0)
		require.NoError(t, err, "size %d", size)
		v, _ := parsed.Get("X")
		assert.Len(t, v, size)
	}
}

func TestCOBSOnlyWhenRequested(t *testing.T) {
	value := []byte{0, 1, 0, 0, 2}

	plain := New()
	require.NoError(t, plain.Put("QK", value))
	b, err := plain.MarshalBinary()
	require.NoError(t, err)
	assert.Contains(t, string(b[1:]), "\x00")

	cobs := NewCOBS()
	require.NoError(t, cobs.Put("QK", value))
	b, err = cobs.MarshalBinary()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "\x00")
	assert.NotZero(t, b[1]&FLAG_COBS)

	parsed, _, err := Parse(b, 0)
	require.NoError(t, err)
	assert.True(t, parsed.UsesCOBS())
	got, _ := parsed.Get("QK")
	assert.Equal(t, value, got)
}

func TestCOBSCodec(t *testing.T) {
	long := bytes.Repeat([]byte{9}, 600)
	for _, in := range [][]byte{
		{0},
		{0, 0},
		{1, 2, 3},
		{1, 0, 2, 0},
		long,
		append(append([]byte{}, long[:254]...), 0, 5),
	} {
		enc := cobsEncode(in)
		assert.NotContains(t, string(enc), "\x00")
		dec, err := cobsDecode(enc)
		require.NoError(t, err)
		assert.Equal(t, in, dec)
	}
	_, err := cobsDecode([]byte{5, 1, 2})
	assert.ErrorIs(t, err, ErrBadBlock)
}

func TestCompressedValue(t *testing.T) {
	value := bytes.Repeat([]byte("compress me "), 200)
	g := New()
	require.NoError(t, g.PutCompressed("XQ", value))
	b, err := g.MarshalBinary()
	require.NoError(t, err)
	assert.Less(t, len(b), len(value))
	assert.NotZero(t, b[1]&FLAG_COMPRESSED)

	parsed, _, err := Parse(b, 0)
	require.NoError(t, err)
	got, _ := parsed.Get("XQ")
	assert.Equal(t, value, got)
}

func TestParseRejectsMalformedBlocks(t *testing.T) {
	cases := map[string][]byte{
		"too short":      {MAGIC, 0x81, 'A'},
		"no magic":       {0x00, 0x81, 'A', 0x40},
		"reserved bit":   {MAGIC, 0x91, 'A', 0x40},
		"empty key":      {MAGIC, 0x80, 0x40, 0x40},
		"long length":    {MAGIC, 0x81, 'A', 0x81, 0x81, 0x81, 0x40},
		"value overruns": {MAGIC, 0x81, 'A', 0x45, 1, 2},
		"no last key":    {MAGIC, 0x01, 'A', 0x40},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Parse(data, 0)
			assert.ErrorIs(t, err, ErrBadBlock)
		})
	}
}

func TestPutValidation(t *testing.T) {
	g := New()
	assert.ErrorIs(t, g.Put("", []byte{1}), ErrInvalidKey)
	assert.ErrorIs(t, g.Put("ABCDEFGHIJKLMNOP", []byte{1}), ErrInvalidKey)
	assert.ErrorIs(t, g.Put("A\x00", []byte{1}), ErrInvalidKey)
	assert.ErrorIs(t, g.Put("A", make([]byte, MAX_VALUE_SIZE+1)), ErrValueTooBig)
	assert.ErrorIs(t, g.PutInt("A", -1), ErrNegative)
	assert.ErrorIs(t, g.PutLong("A", -1), ErrNegative)
}

func TestGetIntWidth(t *testing.T) {
	g := New()
	require.NoError(t, g.Put("A", []byte{1, 2, 3, 4, 5}))
	_, err := g.GetInt("A")
	assert.ErrorIs(t, err, ErrBadProperty)
	v, err := g.GetLong("A")
	require.NoError(t, err)
	assert.Equal(t, int64(0x0504030201), v)

	require.NoError(t, g.PutInt("Z", 0))
	z, _ := g.Get("Z")
	assert.Equal(t, []byte{0}, z)
}

func TestMergeLaterKeysWin(t *testing.T) {
	a := New()
	require.NoError(t, a.PutString("A", "1"))
	require.NoError(t, a.PutString("B", "1"))
	b := New()
	require.NoError(t, b.PutString("B", "2"))
	require.NoError(t, b.PutString("C", "2"))
	a.Merge(b)
	assert.Equal(t, []string{"A", "B", "C"}, a.Keys())
	v, _ := a.GetString("B")
	assert.Equal(t, "2", v)
}

func TestReturnPathSuffix(t *testing.T) {
	g := New()
	assert.Equal(t, 0, g.ReturnPathSuffix())
	require.NoError(t, g.PutByte(KEY_RETURN_PATH_HOPS+"0", 1))
	require.NoError(t, g.PutByte(KEY_RETURN_PATH_TTL+"1", 1))
	assert.Equal(t, 2, g.ReturnPathSuffix())
}
