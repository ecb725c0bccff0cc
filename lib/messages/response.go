package messages

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/huge"
	"github.com/go-gnutella/go-gnutella/lib/intervals"
	"github.com/go-gnutella/go-gnutella/lib/netutil"
	"github.com/go-gnutella/go-gnutella/lib/urn"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

/*
Response record
	+----+----+----+----+----+----+----+----+------------+----+-----------+----+
	| file index LE4    | file size LE4     | name UTF-8 | 00 | HUGE area | 00 |
	+----+----+----+----+----+----+----+----+------------+----+-----------+----+

Sizes above 2^31-1 are written as 0xFFFFFFFF with the real size in LF.
*/

const (
	// MAX_FILE_SIZE is the largest file size a record may advertise.
	MAX_FILE_SIZE = 0xFFFFFFFFFF
	// MAX_ALT_LOCATIONS caps the ALT list written per record.
	MAX_ALT_LOCATIONS = 10

	LARGE_SIZE_MARKER = 0xFFFFFFFF
	RESPONSE_MIN_SIZE = 10
)

// Response is one file result carried by a query reply.
type Response struct {
	Index int64
	Size  int64
	Name  string

	URNs      *urn.Set
	Locations []netutil.Endpoint
	// CreateTime is zero when unknown. Carried with second precision.
	CreateTime time.Time
	// Ranges is nil for complete files.
	Ranges   *intervals.Set
	Verified bool
	TTRoot   urn.URN
	NMS1     urn.URN

	// XML is the metadata document for the file. It travels in the reply's
	// XML block, not in the record.
	XML string
	// Misc holds free-text HUGE tokens found on decode.
	Misc []string

	ext      []byte
	extKey   string
	incoming int
}

// NewResponse returns a record for a complete file.
func NewResponse(index, size int64, name string, urns ...urn.URN) (*Response, error) {
	r := &Response{Index: index, Size: size, Name: name, URNs: urn.NewSet(urns...)}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Response) validate() error {
	if r.Index < 0 || r.Index > math.MaxUint32 {
		return oops.Wrapf(ErrInvalidReply, "file index %d", r.Index)
	}
	if r.Size < 0 || r.Size > MAX_FILE_SIZE {
		return oops.Wrapf(ErrInvalidReply, "file size %d", r.Size)
	}
	return nil
}

func checkFileName(name string) error {
	if name == "" {
		return oops.Wrapf(ErrInvalidReply, "empty file name")
	}
	if strings.ContainsAny(name, "/\n\r") {
		return oops.Wrapf(ErrInvalidReply, "illegal file name %q", name)
	}
	return nil
}

// IsMetaFile reports whether the result is a torrent file.
func (r *Response) IsMetaFile() bool {
	return strings.HasSuffix(strings.ToLower(r.Name), ".torrent")
}

// IsPartial reports whether the record advertises only some ranges.
func (r *Response) IsPartial() bool {
	return r.Ranges != nil
}

// SHA1 returns the record's sha1 URN if it has one.
func (r *Response) SHA1() (urn.URN, bool) {
	if r.URNs == nil {
		return urn.URN{}, false
	}
	return r.URNs.First(urn.SHA1)
}

func (r *Response) hasGGEP() bool {
	return len(r.Locations) > 0 ||
		!r.CreateTime.IsZero() ||
		r.Size > math.MaxInt32 ||
		r.Ranges != nil ||
		!r.TTRoot.IsZero() ||
		!r.NMS1.IsZero()
}

func (r *Response) buildGGEP() (*ggep.GGEP, error) {
	g := ggep.NewCOBS()
	if locs := r.Locations; len(locs) > 0 {
		if len(locs) > MAX_ALT_LOCATIONS {
			locs = locs[:MAX_ALT_LOCATIONS]
		}
		if err := g.Put(ggep.KEY_ALTS, netutil.Pack(locs)); err != nil {
			return nil, err
		}
		if bn := netutil.TLSBits(locs); !bn.IsEmpty() {
			if err := g.Put(ggep.KEY_ALTS_TLS, bn.Bytes()); err != nil {
				return nil, err
			}
		}
	}
	if !r.CreateTime.IsZero() {
		if err := g.PutLong(ggep.KEY_CREATE_TIME, r.CreateTime.Unix()); err != nil {
			return nil, err
		}
	}
	if r.Size > math.MaxInt32 {
		if err := g.PutLong(ggep.KEY_LARGE_FILE, r.Size); err != nil {
			return nil, err
		}
	}
	if r.Ranges != nil {
		if err := intervals.Encode(r.Size, r.Ranges, g, intervals.DEFAULT_BUDGET); err != nil {
			return nil, err
		}
		if !r.Verified {
			if err := g.PutFlag(ggep.KEY_PARTIAL_RESULT_UNVERIFIED); err != nil {
				return nil, err
			}
		}
	}
	if !r.TTRoot.IsZero() {
		b, err := r.TTRoot.Bytes()
		if err != nil {
			return nil, err
		}
		if err := g.Put(ggep.KEY_TTROOT, b); err != nil {
			return nil, err
		}
	}
	if !r.NMS1.IsZero() {
		b, err := r.NMS1.Bytes()
		if err != nil {
			return nil, err
		}
		if err := g.Put(ggep.KEY_NMS1, b); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// extensionKey summarises every field the HUGE area is built from.
func (r *Response) extensionKey() string {
	var b strings.Builder
	if r.URNs != nil {
		for _, u := range r.URNs.Slice() {
			b.WriteString(u.String())
			b.WriteByte(' ')
		}
	}
	b.WriteByte('|')
	for _, ep := range r.Locations {
		fmt.Fprintf(&b, "%s:%d:%t ", ep.Addr, ep.Port, ep.TLS)
	}
	fmt.Fprintf(&b, "|%d|%t|%d|%t|%s|%s|", r.Size, r.CreateTime.IsZero(), r.CreateTime.Unix(), r.Verified, r.TTRoot, r.NMS1)
	if r.Ranges == nil {
		b.WriteString("complete")
	} else {
		for _, rg := range r.Ranges.Ranges() {
			fmt.Fprintf(&b, "%d-%d ", rg.Low, rg.High)
		}
	}
	return b.String()
}

// extensionBytes returns the HUGE area. It is rebuilt whenever a field it
// depends on has changed; records read off the wire keep the bytes they
// arrived with until then.
func (r *Response) extensionBytes() ([]byte, error) {
	key := r.extensionKey()
	if r.ext != nil && r.extKey == key {
		return r.ext, nil
	}
	var buf bytes.Buffer
	if r.URNs != nil {
		for _, u := range r.URNs.Slice() {
			if !u.IsSHA1() {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte(huge.DELIMITER)
			}
			buf.WriteString(u.String())
		}
	}
	if r.hasGGEP() {
		g, err := r.buildGGEP()
		if err != nil {
			return nil, oops.Wrapf(err, "building extensions for %q", r.Name)
		}
		b, err := g.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if buf.Len() > 0 {
			buf.WriteByte(huge.DELIMITER)
		}
		buf.Write(b)
	}
	r.ext = buf.Bytes()
	r.extKey = key
	return r.ext, nil
}

// AppendBinary appends the wire encoding of r to dst.
func (r *Response) AppendBinary(dst []byte) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	ext, err := r.extensionBytes()
	if err != nil {
		return nil, err
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Index))
	if r.Size > math.MaxInt32 {
		dst = binary.LittleEndian.AppendUint32(dst, LARGE_SIZE_MARKER)
	} else {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Size))
	}
	dst = append(dst, r.Name...)
	dst = append(dst, 0)
	dst = append(dst, ext...)
	return append(dst, 0), nil
}

func (r *Response) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(nil)
}

// WireSize is the encoded length of r.
func (r *Response) WireSize() int {
	ext, err := r.extensionBytes()
	if err != nil {
		ext = nil
	}
	return RESPONSE_MIN_SIZE + len(r.Name) + len(ext)
}

// IncomingLength is the number of bytes the record used on the wire, or its
// encoded length for local records.
func (r *Response) IncomingLength() int {
	if r.incoming > 0 {
		return r.incoming
	}
	return r.WireSize()
}

// DecodeResponse reads one record starting at data[offset] and returns it
// with the offset just past it.
func DecodeResponse(data []byte, offset int) (*Response, int, error) {
	if len(data)-offset < 8 {
		return nil, 0, oops.Wrapf(ErrInvalidReply, "%d bytes left for a response", len(data)-offset)
	}
	r := &Response{
		Index: int64(binary.LittleEndian.Uint32(data[offset:])),
		Size:  int64(binary.LittleEndian.Uint32(data[offset+4:])),
	}
	i := offset + 8
	end := bytes.IndexByte(data[i:], 0)
	if end < 0 {
		return nil, 0, oops.Wrapf(ErrInvalidReply, "file name not terminated")
	}
	r.Name = strings.ToValidUTF8(string(data[i:i+end]), "\uFFFD")
	if err := checkFileName(r.Name); err != nil {
		return nil, 0, err
	}
	i += end + 1
	end = bytes.IndexByte(data[i:], 0)
	if end < 0 {
		return nil, 0, oops.Wrapf(ErrInvalidReply, "extensions of %q not terminated", r.Name)
	}
	raw := data[i : i+end]
	i += end + 1
	r.incoming = i - offset
	r.ext = append([]byte{}, raw...)
	r.URNs = urn.NewSet()

	if len(raw) == 0 {
		if len(data)-i < guid.SIZE {
			return nil, 0, oops.Wrapf(ErrInvalidReply, "no room for the client guid after %q", r.Name)
		}
		r.extKey = r.extensionKey()
		return r, i, nil
	}

	ext := huge.Parse(raw)
	r.URNs = ext.URNs
	r.Misc = ext.Misc
	if err := r.readGGEP(ext.GGEP); err != nil {
		return nil, 0, err
	}
	if !r.NMS1.IsZero() {
		r.URNs.Add(r.NMS1)
	}
	r.extKey = r.extensionKey()
	return r, i, nil
}

func (r *Response) readGGEP(g *ggep.GGEP) error {
	if g == nil {
		return nil
	}
	at := logger.Fields{"at": "messages.Response.readGGEP", "name": r.Name}
	if g.HasValue(ggep.KEY_ALTS) {
		var tls *netutil.BitNumbers
		if b, err := g.GetBytes(ggep.KEY_ALTS_TLS); err == nil {
			bn := netutil.BitNumbersFromBytes(b)
			tls = &bn
		}
		r.Locations = parseLocations(g, tls)
	}
	if g.HasValue(ggep.KEY_CREATE_TIME) {
		if v, err := g.GetLong(ggep.KEY_CREATE_TIME); err == nil {
			r.CreateTime = time.Unix(v, 0)
		}
	}
	if g.HasValue(ggep.KEY_LARGE_FILE) {
		v, err := g.GetLong(ggep.KEY_LARGE_FILE)
		if err == nil {
			if v > MAX_FILE_SIZE || v < 0 {
				return oops.Wrapf(ErrInvalidReply, "file too large: %d", v)
			}
			if v > math.MaxInt32 {
				r.Size = v
			}
		}
	}
	if g.HasValue(ggep.KEY_TTROOT) {
		b, _ := g.Get(ggep.KEY_TTROOT)
		if u, err := urn.FromTTRoot(b); err == nil {
			r.TTRoot = u
		}
	}
	if g.HasValue(ggep.KEY_NMS1) {
		b, _ := g.Get(ggep.KEY_NMS1)
		u, err := urn.FromNMS1(b)
		if err != nil {
			log.WithFields(at).WithError(err).Debug("invalid_nms1_urn")
		} else {
			r.NMS1 = u
		}
	}
	ranges, ok, err := intervals.Decode(r.Size, g)
	if err != nil {
		log.WithFields(at).WithError(err).Debug("invalid_partial_ranges")
	} else if ok {
		r.Ranges = ranges
		r.Verified = !g.Has(ggep.KEY_PARTIAL_RESULT_UNVERIFIED)
	}
	return nil
}

// parseLocations skips invalid entries. After the first invalid entry the
// TLS bitmap no longer lines up and is ignored.
func parseLocations(g *ggep.GGEP, tls *netutil.BitNumbers) []netutil.Endpoint {
	data, _ := g.Get(ggep.KEY_ALTS)
	if len(data)%netutil.IPPORT_SIZE != 0 {
		return nil
	}
	var out []netutil.Endpoint
	for i := 0; i < len(data)/netutil.IPPORT_SIZE; i++ {
		e, err := netutil.DecodeIPPort(data[i*netutil.IPPORT_SIZE:])
		if err != nil {
			tls = nil
			continue
		}
		if tls != nil && tls.IsSet(i) {
			e.TLS = true
		}
		out = append(out, e)
	}
	return out
}

// Equal compares the fields that identify a result.
func (r *Response) Equal(other *Response) bool {
	if other == nil {
		return false
	}
	if r.Index != other.Index || r.Size != other.Size || r.Name != other.Name || r.XML != other.XML {
		return false
	}
	a, b := r.URNs, other.URNs
	if a == nil {
		a = urn.NewSet()
	}
	if b == nil {
		b = urn.NewSet()
	}
	if a.Len() != b.Len() {
		return false
	}
	for _, u := range a.Slice() {
		if !b.Contains(u) {
			return false
		}
	}
	return true
}
