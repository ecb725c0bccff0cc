package netutil

// BitNumbers is a bitmap where bit i lives in byte i/8 under mask 0x80>>(i%8).
type BitNumbers struct {
	bits []byte
}

// NewBitNumbers returns a bitmap able to hold n bits.
func NewBitNumbers(n int) BitNumbers {
	return BitNumbers{bits: make([]byte, (n+7)/8)}
}

// BitNumbersFromBytes wraps an encoded bitmap.
func BitNumbersFromBytes(b []byte) BitNumbers {
	return BitNumbers{bits: append([]byte(nil), b...)}
}

func (b *BitNumbers) Set(i int) {
	if i < 0 {
		return
	}
	for i/8 >= len(b.bits) {
		b.bits = append(b.bits, 0)
	}
	b.bits[i/8] |= 0x80 >> (i % 8)
}

func (b BitNumbers) IsSet(i int) bool {
	if i < 0 || i/8 >= len(b.bits) {
		return false
	}
	return b.bits[i/8]&(0x80>>(i%8)) != 0
}

// Max returns the number of bits the bitmap can address.
func (b BitNumbers) Max() int {
	return len(b.bits) * 8
}

func (b BitNumbers) IsEmpty() bool {
	return len(b.Bytes()) == 0
}

// Bytes returns the encoding with trailing zero bytes removed.
func (b BitNumbers) Bytes() []byte {
	n := len(b.bits)
	for n > 0 && b.bits[n-1] == 0 {
		n--
	}
	return append([]byte(nil), b.bits[:n]...)
}
