// Package security provides the opaque token signing the codecs call into:
// query keys bound to an address, out-of-band reply tokens and the signature
// carried by a secure GGEP block.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"
)

var log = logger.GetLogger()

const (
	MIN_QUERY_KEY_SIZE = 4
	MAX_QUERY_KEY_SIZE = 16
	// QUERY_KEY_SIZE is the length of query keys this package issues.
	QUERY_KEY_SIZE   = 8
	DEFAULT_KEY_SIZE = 32
	SIGNATURE_SIZE   = 32
)

var (
	ErrInvalidToken = errors.New("invalid security token")
	ErrBadKey       = errors.New("invalid signing key")
)

// Signer produces tokens over arbitrary bytes.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Verifier checks a token produced by the matching Signer.
type Verifier interface {
	Verify(data, token []byte) bool
}

// TokenSigner both signs and verifies.
type TokenSigner interface {
	Signer
	Verifier
}

// Blake2bSigner signs with keyed BLAKE2b-256.
type Blake2bSigner struct {
	key []byte
}

var _ TokenSigner = (*Blake2bSigner)(nil)

// NewBlake2bSigner returns a signer using key, which must be 1 to 64 bytes.
// A nil key is replaced with a random one.
func NewBlake2bSigner(key []byte) (*Blake2bSigner, error) {
	if key == nil {
		key = make([]byte, DEFAULT_KEY_SIZE)
		if _, err := rand.Read(key); err != nil {
			return nil, oops.Wrapf(err, "generating signing key")
		}
		log.WithField("at", "security.NewBlake2bSigner").Debug("generated_signing_key")
	}
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, oops.Wrapf(ErrBadKey, "key length %d", len(key))
	}
	return &Blake2bSigner{key: append([]byte(nil), key...)}, nil
}

func (s *Blake2bSigner) Sign(data []byte) ([]byte, error) {
	h, err := blake2b.New256(s.key)
	if err != nil {
		return nil, oops.Wrapf(err, "blake2b")
	}
	h.Write(data)
	return h.Sum(nil), nil
}

func (s *Blake2bSigner) Verify(data, token []byte) bool {
	want, err := s.Sign(data)
	if err != nil || len(token) == 0 || len(token) > len(want) {
		return false
	}
	return subtle.ConstantTimeCompare(want[:len(token)], token) == 1
}

// QueryKey is the address-bound token a host must present to run a query
// over UDP.
type QueryKey []byte

// ParseQueryKey validates the length of a received query key.
func ParseQueryKey(b []byte) (QueryKey, error) {
	if len(b) < MIN_QUERY_KEY_SIZE || len(b) > MAX_QUERY_KEY_SIZE {
		return nil, oops.Wrapf(ErrInvalidToken, "query key of %d bytes", len(b))
	}
	return QueryKey(append([]byte(nil), b...)), nil
}

func addrBytes(ap netip.AddrPort) []byte {
	ip := ap.Addr().Unmap().AsSlice()
	out := make([]byte, len(ip)+2)
	copy(out, ip)
	binary.BigEndian.PutUint16(out[len(ip):], ap.Port())
	return out
}

// NewQueryKey issues a query key for ap.
func NewQueryKey(s Signer, ap netip.AddrPort) (QueryKey, error) {
	sig, err := s.Sign(addrBytes(ap))
	if err != nil {
		return nil, err
	}
	return QueryKey(sig[:QUERY_KEY_SIZE]), nil
}

// ValidQueryKey reports whether qk was issued for ap.
func ValidQueryKey(v Verifier, qk QueryKey, ap netip.AddrPort) bool {
	if len(qk) < MIN_QUERY_KEY_SIZE || len(qk) > MAX_QUERY_KEY_SIZE {
		return false
	}
	return v.Verify(addrBytes(ap), qk)
}

// SignBlock returns a secure GGEP block signing payload. Append the encoded
// block to payload to publish it.
func SignBlock(s Signer, payload []byte) (*ggep.GGEP, error) {
	sig, err := s.Sign(payload)
	if err != nil {
		return nil, err
	}
	g := ggep.New()
	if err := g.PutFlag(ggep.KEY_SECURE_BLOCK); err != nil {
		return nil, err
	}
	if err := g.Put(ggep.KEY_SIGNATURE, sig); err != nil {
		return nil, err
	}
	return g, nil
}

// VerifyBlock checks the SIG value of the secure block found by a scan of
// payload against every byte of payload outside that block.
func VerifyBlock(v Verifier, payload []byte, res *ggep.ScanResult) bool {
	if res == nil || res.Secure == nil {
		return false
	}
	sig, err := res.Secure.GetBytes(ggep.KEY_SIGNATURE)
	if err != nil {
		return false
	}
	return v.Verify(res.SignedBytes(payload), sig)
}
