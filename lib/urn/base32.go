package urn

import (
	b32 "encoding/base32"
	"strings"
)

// EncodeAlphabet is the RFC 4648 base32 alphabet used by hash URNs.
const EncodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// Encoding is the unpadded base32 encoding used for URN hashes.
var Encoding *b32.Encoding = b32.NewEncoding(EncodeAlphabet).WithPadding(b32.NoPadding)

// EncodeToString encodes []byte to an uppercase base32 string
func EncodeToString(data []byte) string {
	return Encoding.EncodeToString(data)
}

// DecodeString decodes an unpadded base32 string, upper or lower case.
func DecodeString(data string) ([]byte, error) {
	return Encoding.DecodeString(strings.ToUpper(data))
}
