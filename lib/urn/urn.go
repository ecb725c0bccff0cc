// Package urn implements the hash URNs Gnutella peers exchange in queries,
// query replies and HUGE extensions, e.g. urn:sha1:PLSTHIPQGSSZTS5FJUPAKUZWUGYQYPFB.
package urn

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

// NAMESPACE prefixes every URN and every URN type string.
const NAMESPACE = "urn:"

// ErrInvalid is returned for strings and byte slices that are not a
// well-formed URN of a known type.
var ErrInvalid = errors.New("invalid urn")

// Type identifies the hash a URN carries.
type Type int

const (
	INVALID Type = iota
	ANY
	SHA1
	BITPRINT
	BTIH
	TTROOT
	NMS1
	GUID
)

type typeInfo struct {
	descriptor string
	length     int
}

var types = map[Type]typeInfo{
	ANY:      {"", -1},
	SHA1:     {"sha1:", 32},
	BITPRINT: {"bitprint:", 72},
	BTIH:     {"btih:", 32},
	TTROOT:   {"ttroot:", 39},
	NMS1:     {"nms1:", 32},
	GUID:     {"guid:", 32},
}

// Descriptor returns the type name with its trailing colon, e.g. "sha1:".
func (t Type) Descriptor() string {
	return types[t].descriptor
}

// Length returns the length of the namespace specific string, or -1 when the
// type carries no value.
func (t Type) Length() int {
	if info, ok := types[t]; ok {
		return info.length
	}
	return -1
}

// String returns the URN type string, e.g. "urn:sha1:".
func (t Type) String() string {
	if t == INVALID {
		return "urn:invalid"
	}
	return NAMESPACE + t.Descriptor()
}

// ParseType recognizes a URN type string such as "urn:" or "urn:sha1:".
// Matching ignores case and surrounding whitespace.
func ParseType(s string) (Type, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := range types {
		if t.String() == s {
			return t, true
		}
	}
	return INVALID, false
}

// URN is a validated URN with a lowercase namespace and uppercase hash.
type URN struct {
	value string
	typ   Type
}

// Parse validates s and returns the canonical URN.
func Parse(s string) (URN, error) {
	s = strings.TrimSpace(s)
	first := strings.IndexByte(s, ':')
	if first < 3 {
		return URN{}, oops.Wrapf(ErrInvalid, "%q has no namespace", s)
	}
	second := strings.IndexByte(s[first+1:], ':')
	if second < 0 {
		return URN{}, oops.Wrapf(ErrInvalid, "%q has no type", s)
	}
	second += first + 1
	t, ok := ParseType(s[:second+1])
	if !ok || t == ANY {
		return URN{}, oops.Wrapf(ErrInvalid, "%q has unknown type", s)
	}
	hash := s[second+1:]
	if len(hash) != t.Length() {
		return URN{}, oops.Wrapf(ErrInvalid, "%q hash length %d, want %d", s, len(hash), t.Length())
	}
	return URN{value: t.String() + strings.ToUpper(hash), typ: t}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constants.
func MustParse(s string) URN {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// IsURN reports whether s parses as a URN.
func IsURN(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func fromBytes(t Type, b []byte, want int) (URN, error) {
	if len(b) != want {
		return URN{}, oops.Wrapf(ErrInvalid, "%s from %d bytes, want %d", t, len(b), want)
	}
	return URN{value: t.String() + EncodeToString(b), typ: t}, nil
}

// FromSHA1 builds a urn:sha1: from a 20 byte digest.
func FromSHA1(b []byte) (URN, error) {
	return fromBytes(SHA1, b, 20)
}

// FromNMS1 builds a urn:nms1: (non-metadata sha1) from a 20 byte digest.
func FromNMS1(b []byte) (URN, error) {
	return fromBytes(NMS1, b, 20)
}

// FromTTRoot builds a urn:ttroot: from a 24 byte tiger tree root.
func FromTTRoot(b []byte) (URN, error) {
	return fromBytes(TTROOT, b, 24)
}

func (u URN) Type() Type {
	return u.typ
}

func (u URN) String() string {
	return u.value
}

func (u URN) IsZero() bool {
	return u.value == ""
}

func (u URN) IsSHA1() bool   { return u.typ == SHA1 }
func (u URN) IsTTRoot() bool { return u.typ == TTROOT }
func (u URN) IsNMS1() bool   { return u.typ == NMS1 }
func (u URN) IsGUID() bool   { return u.typ == GUID }

// Hash returns the namespace specific string.
func (u URN) Hash() string {
	return u.value[strings.LastIndexByte(u.value, ':')+1:]
}

// Bytes decodes the base32 hash.
func (u URN) Bytes() ([]byte, error) {
	b, err := DecodeString(u.Hash())
	if err != nil {
		return nil, oops.Wrapf(ErrInvalid, "%s: %v", u.value, err)
	}
	return b, nil
}
