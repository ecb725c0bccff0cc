// Package ggep implements the Gnutella Generic Extension Protocol block format.
//
// A GGEP block starts with the magic byte 0xC3 and carries one or more
// extensions. Each extension is laid out as:
//
//	+-------+-----------+-------------+--------------------+
//	| flags | key (1-15)| length(1-3) | value (0..262143)  |
//	+-------+-----------+-------------+--------------------+
//
// The flags byte holds the last-extension bit (0x80), the COBS bit (0x40),
// the deflate bit (0x20) and the key length in its low nibble. Bit 0x10 is
// reserved and must be clear. The length is written in 6-bit groups, the
// final group marked with 0x40.
//
// Blocks are self-delimiting so several of them can be concatenated inside a
// message payload and located again with Scan. A block carrying the SB key is
// a secure block: scanning stops there and the block is returned separately
// together with its byte range so the signature over the rest of the payload
// can be checked.
package ggep
