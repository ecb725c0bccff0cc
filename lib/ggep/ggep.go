package ggep

import (
	"bytes"
	"compress/zlib"
	"io"
	"sort"
	"unicode/utf8"

	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLogger()

// GGEP is a set of extensions keyed by short ASCII names. A key present with a
// nil value is a flag. Values are stored decoded; COBS and deflate are applied
// only when the block is written.
type GGEP struct {
	props      map[string][]byte
	compressed map[string]bool
	useCOBS    bool
}

// New returns an empty block that never COBS-encodes its values.
func New() *GGEP {
	return &GGEP{props: map[string][]byte{}, compressed: map[string]bool{}}
}

// NewCOBS returns an empty block that COBS-encodes any value containing a
// 0x00 byte, so the block can sit inside null-terminated fields.
func NewCOBS() *GGEP {
	g := New()
	g.useCOBS = true
	return g
}

// UsesCOBS reports whether values containing 0x00 are COBS-encoded on write.
func (g *GGEP) UsesCOBS() bool {
	return g.useCOBS
}

func validateKey(key string) error {
	if key == "" || len(key) > MAX_KEY_SIZE {
		return oops.Wrapf(ErrInvalidKey, "key length %d", len(key))
	}
	for i := 0; i < len(key); i++ {
		if key[i] == 0 || key[i] >= utf8.RuneSelf {
			return oops.Wrapf(ErrInvalidKey, "key %q is not printable ascii", key)
		}
	}
	return nil
}

func validateValue(value []byte) error {
	if len(value) > MAX_VALUE_SIZE {
		return oops.Wrapf(ErrValueTooBig, "%d bytes", len(value))
	}
	return nil
}

// Put stores value under key. A nil value stores a flag.
func (g *GGEP) Put(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	g.props[key] = value
	delete(g.compressed, key)
	return nil
}

// PutFlag stores key with no value.
func (g *GGEP) PutFlag(key string) error {
	return g.Put(key, nil)
}

// PutCompressed stores value under key and marks it for deflate on write.
func (g *GGEP) PutCompressed(key string, value []byte) error {
	if value == nil {
		return oops.Wrapf(ErrNoValue, "compressed value for %s", key)
	}
	if err := g.Put(key, value); err != nil {
		return err
	}
	g.compressed[key] = true
	return nil
}

// PutString stores the UTF-8 bytes of value.
func (g *GGEP) PutString(key, value string) error {
	return g.Put(key, []byte(value))
}

// PutByte stores a single byte value.
func (g *GGEP) PutByte(key string, value byte) error {
	return g.Put(key, []byte{value})
}

// PutInt stores value in the fewest little-endian bytes.
func (g *GGEP) PutInt(key string, value int) error {
	if value < 0 {
		return oops.Wrapf(ErrNegative, "int %d for %s", value, key)
	}
	return g.Put(key, minLE(uint64(value)))
}

// PutLong stores value in the fewest little-endian bytes.
func (g *GGEP) PutLong(key string, value int64) error {
	if value < 0 {
		return oops.Wrapf(ErrNegative, "long %d for %s", value, key)
	}
	return g.Put(key, minLE(uint64(value)))
}

// Get returns the value stored under key and whether the key is present.
// Flags return a nil value.
func (g *GGEP) Get(key string) ([]byte, bool) {
	v, ok := g.props[key]
	return v, ok
}

// Has reports whether key is present, with or without a value.
func (g *GGEP) Has(key string) bool {
	_, ok := g.props[key]
	return ok
}

// HasValue reports whether key is present with a non-empty value.
func (g *GGEP) HasValue(key string) bool {
	return len(g.props[key]) > 0
}

// GetBytes returns the value of key or ErrNoValue if the key is absent or a flag.
func (g *GGEP) GetBytes(key string) ([]byte, error) {
	v, ok := g.props[key]
	if !ok || v == nil {
		return nil, oops.Wrapf(ErrNoValue, "key %s", key)
	}
	return v, nil
}

// GetString returns the value of key as a string.
func (g *GGEP) GetString(key string) (string, error) {
	v, err := g.GetBytes(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// GetInt decodes a 1 to 4 byte little-endian value.
func (g *GGEP) GetInt(key string) (int, error) {
	v, err := g.GetBytes(key)
	if err != nil {
		return 0, err
	}
	if len(v) < 1 || len(v) > 4 {
		return 0, oops.Wrapf(ErrBadProperty, "int %s has %d bytes", key, len(v))
	}
	return int(leInt(v)), nil
}

// GetLong decodes a 1 to 8 byte little-endian value.
func (g *GGEP) GetLong(key string) (int64, error) {
	v, err := g.GetBytes(key)
	if err != nil {
		return 0, err
	}
	if len(v) < 1 || len(v) > 8 {
		return 0, oops.Wrapf(ErrBadProperty, "long %s has %d bytes", key, len(v))
	}
	return int64(leInt(v)), nil
}

// Keys returns the keys in the order they are written.
func (g *GGEP) Keys() []string {
	keys := make([]string, 0, len(g.props))
	for k := range g.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (g *GGEP) Len() int {
	return len(g.props)
}

func (g *GGEP) IsEmpty() bool {
	return len(g.props) == 0
}

// Merge copies every key of other into g. Keys already in g are replaced.
func (g *GGEP) Merge(other *GGEP) {
	if other == nil {
		return
	}
	for k, v := range other.props {
		g.props[k] = v
		if other.compressed[k] {
			g.compressed[k] = true
		} else {
			delete(g.compressed, k)
		}
	}
}

// Equal compares keys and values. Encoding options are ignored.
func (g *GGEP) Equal(other *GGEP) bool {
	if other == nil || len(g.props) != len(other.props) {
		return false
	}
	for k, v := range g.props {
		ov, ok := other.props[k]
		if !ok || (v == nil) != (ov == nil) || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// HeaderOverhead returns the bytes key and its value add to an encoded block,
// assuming an uncompressed value with no COBS expansion.
func (g *GGEP) HeaderOverhead(key string) (int, error) {
	v, ok := g.props[key]
	if !ok {
		return 0, oops.Wrapf(ErrNoValue, "key %s", key)
	}
	n := 1 + len(key) + len(v) + 1
	if len(v) > 0x3F {
		n++
	}
	if len(v) > 0xFFF {
		n++
	}
	return n, nil
}

// MarshalBinary encodes the block. An empty block encodes to no bytes.
func (g *GGEP) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := g.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the encoded block to w.
func (g *GGEP) WriteTo(w io.Writer) (int64, error) {
	if g.IsEmpty() {
		return 0, nil
	}
	buf := []byte{MAGIC}
	keys := g.Keys()
	for i, key := range keys {
		value := g.props[key]
		compressed := g.compressed[key]
		encoded := g.useCOBS && bytes.IndexByte(value, 0) >= 0
		if value != nil && compressed {
			deflated, err := deflate(value)
			if err != nil {
				return 0, err
			}
			if len(deflated) > MAX_VALUE_SIZE {
				return 0, oops.Wrapf(ErrValueTooBig, "%s after compression", key)
			}
			value = deflated
			// COBS applies to the bytes that reach the wire
			encoded = g.useCOBS && bytes.IndexByte(value, 0) >= 0
		}
		if encoded {
			value = cobsEncode(value)
		}
		flags := byte(len(key))
		if i == len(keys)-1 {
			flags |= FLAG_LAST
		}
		if encoded {
			flags |= FLAG_COBS
		}
		if compressed {
			flags |= FLAG_COMPRESSED
		}
		buf = append(buf, flags)
		buf = append(buf, key...)
		buf = appendLength(buf, len(value))
		buf = append(buf, value...)
	}
	n, err := w.Write(buf)
	return int64(n), err
}

func appendLength(buf []byte, n int) []byte {
	if n > 0xFFF {
		buf = append(buf, LENGTH_MORE|byte((n&0x3F000)>>12))
	}
	if n > 0x3F {
		buf = append(buf, LENGTH_MORE|byte((n&0xFC0)>>6))
	}
	return append(buf, LENGTH_LAST|byte(n&LENGTH_MASK))
}

// Parse decodes the block that starts at data[offset] and returns it with the
// number of bytes it occupies.
func Parse(data []byte, offset int) (*GGEP, int, error) {
	if offset < 0 || len(data)-offset < 4 {
		return nil, 0, oops.Wrapf(ErrBadBlock, "%d bytes from offset %d", len(data)-offset, offset)
	}
	if data[offset] != MAGIC {
		return nil, 0, oops.Wrapf(ErrBadBlock, "missing magic at %d", offset)
	}
	g := New()
	i := offset + 1
	for last := false; !last; {
		if i >= len(data) {
			return nil, 0, oops.Wrapf(ErrBadBlock, "truncated before extension header")
		}
		flags := data[i]
		if flags&FLAG_RESERVED != 0 {
			return nil, 0, oops.Wrapf(ErrBadBlock, "reserved flag set at %d", i)
		}
		keyLen := int(flags & KEY_LENGTH_MASK)
		if keyLen == 0 {
			return nil, 0, oops.Wrapf(ErrBadBlock, "zero length key at %d", i)
		}
		last = flags&FLAG_LAST != 0
		encoded := flags&FLAG_COBS != 0
		compressed := flags&FLAG_COMPRESSED != 0
		i++
		if i+keyLen > len(data) {
			return nil, 0, oops.Wrapf(ErrBadBlock, "truncated key")
		}
		key := string(data[i : i+keyLen])
		i += keyLen
		length, n, err := readLength(data, i)
		if err != nil {
			return nil, 0, err
		}
		i += n
		var value []byte
		if length > 0 {
			if i+length > len(data) {
				return nil, 0, oops.Wrapf(ErrBadBlock, "value of %s overruns payload", key)
			}
			value = append([]byte(nil), data[i:i+length]...)
			i += length
			if encoded {
				g.useCOBS = true
				if value, err = cobsDecode(value); err != nil {
					return nil, 0, err
				}
			}
			if compressed {
				if value, err = inflate(value); err != nil {
					return nil, 0, oops.Wrapf(ErrBadBlock, "bad compressed value for %s: %v", key, err)
				}
			}
		}
		g.props[key] = value
		if compressed {
			g.compressed[key] = true
		}
	}
	log.WithFields(logger.Fields{
		"at":     "ggep.Parse",
		"offset": offset,
		"keys":   g.Len(),
	}).Debug("parsed_block")
	return g, i - offset, nil
}

func readLength(data []byte, i int) (int, int, error) {
	length := 0
	for n := 1; ; n++ {
		if n > MAX_LENGTH_BYTES {
			return 0, 0, oops.Wrapf(ErrBadBlock, "data length longer than %d bytes", MAX_LENGTH_BYTES)
		}
		if i >= len(data) {
			return 0, 0, oops.Wrapf(ErrBadBlock, "truncated data length")
		}
		b := data[i]
		i++
		length = length<<6 | int(b&LENGTH_MASK)
		if b&LENGTH_LAST != 0 {
			return length, n, nil
		}
	}
}

func deflate(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(value); err != nil {
		return nil, oops.Wrapf(err, "deflate")
	}
	if err := zw.Close(); err != nil {
		return nil, oops.Wrapf(err, "deflate")
	}
	return buf.Bytes(), nil
}

func inflate(value []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, MAX_VALUE_SIZE+1))
}
