package ggep

import (
	"bytes"

	"github.com/go-gnutella/go-gnutella/lib/util/logger"
)

// ScanResult holds the blocks found by Scan. Offsets are absolute positions
// in the scanned buffer; End offsets are exclusive. A nil block means none
// was found.
type ScanResult struct {
	Normal      *GGEP
	Secure      *GGEP
	NormalStart int
	NormalEnd   int
	SecureStart int
	SecureEnd   int
}

// Scan walks data from start, parsing every GGEP block it finds. Ordinary
// blocks are merged into Normal, later keys replacing earlier ones. The first
// block that carries the SB key becomes Secure and ends the scan. Bytes that do
// not parse are skipped one at a time.
func Scan(data []byte, start int) *ScanResult {
	res := &ScanResult{NormalStart: -1, NormalEnd: -1, SecureStart: -1, SecureEnd: -1}
	if start < 0 {
		start = 0
	}
	for i := start; i < len(data); {
		idx := bytes.IndexByte(data[i:], MAGIC)
		if idx < 0 {
			break
		}
		i += idx
		g, n, err := Parse(data, i)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":     "ggep.Scan",
				"offset": i,
			}).WithError(err).Debug("skipping_bad_block")
			i++
			continue
		}
		if g.Has(KEY_SECURE_BLOCK) {
			res.Secure = g
			res.SecureStart = i
			res.SecureEnd = i + n
			break
		}
		if res.Normal == nil {
			res.Normal = g
			res.NormalStart = i
		} else {
			res.Normal.Merge(g)
		}
		res.NormalEnd = i + n
		i += n
	}
	return res
}

// SignedBytes returns data without the secure block, the bytes a secure
// block signature covers. It returns nil when no secure block was found.
func (r *ScanResult) SignedBytes(data []byte) []byte {
	if r.Secure == nil || r.SecureEnd > len(data) {
		return nil
	}
	out := make([]byte, 0, len(data)-(r.SecureEnd-r.SecureStart))
	out = append(out, data[:r.SecureStart]...)
	return append(out, data[r.SecureEnd:]...)
}
