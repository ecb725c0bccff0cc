package ggep

import "errors"

// MAGIC is the byte that opens every GGEP block.
const MAGIC = 0xC3

const (
	MAX_KEY_SIZE   = 15
	MAX_VALUE_SIZE = 262143
)

// extension header flag bits
const (
	FLAG_LAST       = 0x80
	FLAG_COBS       = 0x40
	FLAG_COMPRESSED = 0x20
	FLAG_RESERVED   = 0x10
	KEY_LENGTH_MASK = 0x0F
)

// length encoding
const (
	LENGTH_LAST      = 0x40
	LENGTH_MORE      = 0x80
	LENGTH_MASK      = 0x3F
	MAX_LENGTH_BYTES = 3
)

// GGEP errors. These use errors.New so callers can match them with errors.Is().
var (
	ErrBadBlock    = errors.New("bad ggep block")
	ErrBadProperty = errors.New("bad ggep property")
	ErrNoValue     = errors.New("ggep key has no value")
	ErrInvalidKey  = errors.New("invalid ggep key")
	ErrValueTooBig = errors.New("ggep value too large")
	ErrNegative    = errors.New("negative ggep integer")
)
