package ggep

// minLE encodes v little-endian using the fewest bytes that hold it. Zero
// encodes as a single 0x00 byte.
func minLE(v uint64) []byte {
	out := []byte{byte(v)}
	for v >>= 8; v != 0; v >>= 8 {
		out = append(out, byte(v))
	}
	return out
}

// leInt interprets 1 to 8 bytes as a little-endian unsigned integer.
func leInt(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
