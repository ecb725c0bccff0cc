package ggep

import "github.com/samber/oops"

// cobsEncode applies Consistent Overhead Byte Stuffing so the result holds
// no 0x00 bytes.
func cobsEncode(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/254+2)
	code := byte(1)
	start := -1
	finish := func(end int) {
		out = append(out, code)
		if start > -1 {
			out = append(out, src[start:end+1]...)
		}
		code = 1
		start = -1
	}
	for i, b := range src {
		if b == 0 {
			finish(i - 1)
			continue
		}
		if start < 0 {
			start = i
		}
		code++
		if code == 0xFF {
			finish(i)
		}
	}
	finish(len(src) - 1)
	return out
}

// cobsDecode reverses cobsEncode. The implicit zero after the final run is
// not emitted.
func cobsDecode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	i := 0
	for i < len(src) {
		code := int(src[i])
		i++
		if code == 0 || i+code-2 >= len(src) {
			return nil, oops.Wrapf(ErrBadBlock, "truncated cobs run at %d", i-1)
		}
		out = append(out, src[i:i+code-1]...)
		i += code - 1
		if i < len(src) && code < 0xFF {
			out = append(out, 0)
		}
	}
	return out, nil
}
