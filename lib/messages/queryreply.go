package messages

import (
	"bytes"
	"encoding/binary"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/netutil"
	"github.com/go-gnutella/go-gnutella/lib/security"
	"github.com/go-gnutella/go-gnutella/lib/urn"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

/*
Query Reply
	+-----+----+----+----+----+----+----+----+----+----+----+
	|count| port LE2 | IPv4              | speed LE4         |
	+-----+----+----+----+----+----+----+----+----+----+----+
	| result records ...                                     |
	+----+----+----+----+-----+--------+--------+----+----+--------+
	| vendor code       | len | flags  | ctrls  | xml size+1 LE2   |
	+----+----+----+----+-----+--------+--------+----+----+--------+
	| private | GGEP ... | secure GGEP ... | XML ... | 00 |
	+---------+----------+-----------------+---------+----+
	| client GUID (16 bytes)                              |
	+-----------------------------------------------------+

The block from the vendor code to the XML terminator is the query hit
descriptor. Each tri-state flag takes a value bit in one byte and a defined
bit in the other; push keeps its value in the first byte, the rest in the
second.
*/

const (
	QHD_PUSH_MASK     = 0x01
	QHD_BUSY_MASK     = 0x04
	QHD_UPLOADED_MASK = 0x08
	QHD_SPEED_MASK    = 0x10
	QHD_GGEP_MASK     = 0x20
	QHD_CHAT_MASK     = 0x01

	QHD_VENDOR         = "LIME"
	COMMON_PAYLOAD_LEN = 4

	REPLY_PREFIX_SIZE = 11
	MAX_REPLY_RESULTS = 255
	MAX_PUSH_PROXIES  = 4
	// FW_TRANSFER_VERSION is the reliable UDP version advertised in FW.
	FW_TRANSFER_VERSION = 1
)

// Tri is a flag that a reply may leave undefined.
type Tri int8

const (
	TRI_UNDEFINED Tri = iota
	TRI_FALSE
	TRI_TRUE
)

func triOf(b bool) Tri {
	if b {
		return TRI_TRUE
	}
	return TRI_FALSE
}

func (t Tri) String() string {
	switch t {
	case TRI_TRUE:
		return "true"
	case TRI_FALSE:
		return "false"
	default:
		return "undefined"
	}
}

// Bool returns the flag value, or ErrUndefinedFlag.
func (t Tri) Bool() (bool, error) {
	if t == TRI_UNDEFINED {
		return false, ErrUndefinedFlag
	}
	return t == TRI_TRUE, nil
}

// ReplyParams describes an outgoing query reply.
type ReplyParams struct {
	GUID       guid.GUID
	TTL        int
	Port       int
	Addr       netip.Addr
	Speed      int64
	Responses  []*Response
	ClientGUID guid.GUID
	// XML is the encoded XML block, as produced by CompressXML.
	XML []byte

	// IncludeQHD adds the descriptor even when nothing below needs it.
	IncludeQHD         bool
	NeedsPush          bool
	Busy               bool
	FinishedUpload     bool
	MeasuredSpeed      bool
	SupportsChat       bool
	SupportsBrowseHost bool
	MulticastReply     bool
	SupportsFWTransfer bool
	TLS                bool
	Proxies            []netutil.Endpoint
	SecurityToken      []byte
	// Signer, when set, appends a secure block signing the descriptor.
	Signer security.Signer
}

// replyData is everything derived from the payload past the fixed prefix.
type replyData struct {
	responses []*Response
	resultErr error

	uniqueURNs int
	partial    int

	qhdErr     error
	vendor     string
	push       Tri
	busy       Tri
	uploaded   Tri
	measured   Tri
	chat       bool
	browseHost bool
	multicast  bool
	fwt        bool
	fwtVersion byte
	proxies    []netutil.Endpoint
	token      []byte
	tls        bool
	xml        []byte

	qhdOffset int
	ggep      *ggep.GGEP
	ggepStart int
	ggepEnd   int
	secure    *ggep.GGEP
	secStart  int
	secEnd    int
	xmlStart  int
}

// QueryReply carries search results back along the query path.
type QueryReply struct {
	*Envelope

	settings *Settings
	addr     netip.Addr
	local    bool

	multicastAllowed atomic.Bool

	once sync.Once
	data *replyData
}

// NewQueryReply validates p and encodes a reply.
func NewQueryReply(s *Settings, p ReplyParams) (*QueryReply, error) {
	if !netutil.ValidPort(p.Port) {
		return nil, oops.Wrapf(ErrInvalidPort, "port %d", p.Port)
	}
	addr := p.Addr.Unmap()
	if !addr.Is4() || !netutil.ValidAddr(addr) {
		return nil, oops.Wrapf(ErrInvalidAddress, "address %s", p.Addr)
	}
	if p.Speed < 0 || p.Speed > math.MaxUint32 {
		return nil, oops.Wrapf(ErrInvalidReply, "speed %d", p.Speed)
	}
	if len(p.Responses) > MAX_REPLY_RESULTS {
		return nil, oops.Wrapf(ErrTooManyResults, "%d responses", len(p.Responses))
	}
	if len(p.XML) > XML_MAX_SIZE {
		return nil, oops.Wrapf(ErrInvalidReply, "xml block of %d bytes", len(p.XML))
	}
	if p.TTL < 0 || p.TTL > MAX_TTL {
		return nil, oops.Wrapf(ErrInvalidTTL, "ttl %d", p.TTL)
	}

	buf := []byte{byte(len(p.Responses))}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(p.Port))
	ip := addr.As4()
	buf = append(buf, ip[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Speed))
	var err error
	for _, r := range p.Responses {
		if buf, err = r.AppendBinary(buf); err != nil {
			return nil, oops.Wrapf(err, "encoding response %q", r.Name)
		}
	}

	if p.wantsQHD() {
		if buf, err = appendQHD(buf, p); err != nil {
			return nil, err
		}
	}
	buf = append(buf, p.ClientGUID[:]...)

	e := newEnvelope(s, p.GUID, FUNC_QUERY_REPLY, p.TTL, 0, buf, NETWORK_UNKNOWN)
	qr, err := parseQueryReply(s, e)
	if err != nil {
		return nil, oops.Wrapf(err, "reply did not round trip")
	}
	qr.local = true
	qr.d()
	return qr, nil
}

// wantsQHD reports whether anything in p needs the descriptor.
func (p ReplyParams) wantsQHD() bool {
	return p.IncludeQHD || p.NeedsPush || p.Busy || p.FinishedUpload ||
		p.MeasuredSpeed || p.SupportsChat || p.SupportsBrowseHost ||
		p.MulticastReply || p.SupportsFWTransfer || p.TLS ||
		len(p.Proxies) > 0 || len(p.SecurityToken) > 0 || len(p.XML) > 0 ||
		p.Signer != nil
}

func appendQHD(buf []byte, p ReplyParams) ([]byte, error) {
	buf = append(buf, QHD_VENDOR...)
	buf = append(buf, COMMON_PAYLOAD_LEN)

	g, err := replyGGEP(p)
	if err != nil {
		return nil, err
	}
	var push byte
	if p.NeedsPush && !p.MulticastReply {
		push = QHD_PUSH_MASK
	}
	flags := push | QHD_BUSY_MASK | QHD_UPLOADED_MASK | QHD_SPEED_MASK | QHD_GGEP_MASK
	controls := byte(QHD_PUSH_MASK)
	if p.Busy && !p.MulticastReply {
		controls |= QHD_BUSY_MASK
	}
	if p.FinishedUpload {
		controls |= QHD_UPLOADED_MASK
	}
	if p.MeasuredSpeed || p.MulticastReply {
		controls |= QHD_SPEED_MASK
	}
	if !g.IsEmpty() || p.Signer != nil {
		controls |= QHD_GGEP_MASK
	}
	buf = append(buf, flags, controls)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.XML)+1))
	var private byte
	if p.SupportsChat {
		private = QHD_CHAT_MASK
	}
	buf = append(buf, private)
	if buf, err = appendGGEP(buf, g); err != nil {
		return nil, err
	}
	if p.Signer != nil {
		signed := make([]byte, 0, len(buf)+len(p.XML)+1)
		signed = append(append(append(signed, buf...), p.XML...), 0)
		sb, err := security.SignBlock(p.Signer, signed)
		if err != nil {
			return nil, oops.Wrapf(err, "signing reply")
		}
		if buf, err = appendGGEP(buf, sb); err != nil {
			return nil, err
		}
	}
	buf = append(buf, p.XML...)
	return append(buf, 0), nil
}

func appendGGEP(buf []byte, g *ggep.GGEP) ([]byte, error) {
	b, err := g.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(buf, b...), nil
}

func replyGGEP(p ReplyParams) (*ggep.GGEP, error) {
	g := ggep.NewCOBS()
	var err error
	put := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	if p.SupportsBrowseHost {
		put(func() error { return g.PutFlag(ggep.KEY_BROWSE_HOST) })
	}
	if p.MulticastReply {
		put(func() error { return g.PutFlag(ggep.KEY_MULTICAST_RESPONSE) })
	}
	if p.TLS {
		put(func() error { return g.PutFlag(ggep.KEY_TLS_SUPPORT) })
	}
	if p.SupportsFWTransfer {
		put(func() error { return g.Put(ggep.KEY_FW_TRANSFER, []byte{FW_TRANSFER_VERSION}) })
	}
	if len(p.SecurityToken) > 0 {
		put(func() error { return g.Put(ggep.KEY_SECURE_OOB, p.SecurityToken) })
	}
	if proxies := p.Proxies; len(proxies) > 0 {
		if len(proxies) > MAX_PUSH_PROXIES {
			proxies = proxies[:MAX_PUSH_PROXIES]
		}
		put(func() error { return g.Put(ggep.KEY_PUSH_PROXY, netutil.Pack(proxies)) })
		if bn := netutil.TLSBits(proxies); !bn.IsEmpty() {
			put(func() error { return g.Put(ggep.KEY_PUSH_PROXY_TLS, bn.Bytes()) })
		}
	}
	if err != nil {
		return nil, oops.Wrapf(err, "building reply extensions")
	}
	return g, nil
}

// DecodeQueryReply checks the fixed prefix. Results and the descriptor are
// parsed on first use.
func DecodeQueryReply(s *Settings, f Frame) (Message, error) {
	return parseQueryReply(s, envelopeFor(s, f))
}

func parseQueryReply(s *Settings, e *Envelope) (*QueryReply, error) {
	data := e.payload
	if len(data) < REPLY_PREFIX_SIZE+guid.SIZE {
		return nil, badPacketf(FUNC_QUERY_REPLY, REASON_TOO_SHORT, "reply payload of %d bytes", len(data))
	}
	qr := &QueryReply{Envelope: e, settings: s, addr: netutil.AddrFrom4(data[3:7])}
	if port := qr.Port(); !netutil.ValidPort(port) {
		return nil, badPacketf(FUNC_QUERY_REPLY, REASON_INVALID_PORT, "port %d", port)
	}
	if !netutil.ValidAddr(qr.addr) {
		return nil, badPacketf(FUNC_QUERY_REPLY, REASON_INVALID_ADDRESS, "address %s", qr.addr)
	}
	return qr, nil
}

// d parses the results and descriptor on first use.
func (qr *QueryReply) d() *replyData {
	qr.once.Do(func() {
		qr.data = parseReplyData(qr.settings, qr.payload)
		if qr.data.resultErr != nil || qr.data.qhdErr != nil {
			log.WithFields(logger.Fields{
				"at":      "messages.QueryReply.parse",
				"guid":    qr.guid.String(),
				"results": qr.data.resultErr,
			}).WithError(qr.data.qhdErr).Debug("unparseable_reply")
		}
	})
	return qr.data
}

func parseReplyData(s *Settings, payload []byte) *replyData {
	d := &replyData{qhdOffset: -1, ggepStart: -1, ggepEnd: -1, secStart: -1, secEnd: -1, xmlStart: -1}
	maxResults := MAX_REPLY_RESULTS
	if s != nil && s.MaxResponses > 0 {
		maxResults = s.MaxResponses
	}
	count := int(payload[0])
	if count > maxResults {
		d.resultErr = oops.Wrapf(ErrTooManyResults, "%d results, max %d", count, maxResults)
		d.qhdErr = d.resultErr
		return d
	}

	i := REPLY_PREFIX_SIZE
	urns := urn.NewSet()
	unique, partial := 0, 0
	responses := make([]*Response, 0, count)
	for n := 0; n < count; n++ {
		r, next, err := DecodeResponse(payload, i)
		if err != nil {
			d.resultErr = oops.Wrapf(err, "result %d of %d", n+1, count)
			d.qhdErr = d.resultErr
			return d
		}
		if r.Ranges != nil && r.Ranges.Size() > 0 {
			partial++
		}
		if r.URNs.Len() == 0 {
			unique++
		} else {
			for _, u := range r.URNs.Slice() {
				urns.Add(u)
			}
		}
		responses = append(responses, r)
		i = next
	}
	d.responses = responses
	d.uniqueURNs = unique + urns.Len()
	d.partial = min(d.uniqueURNs, partial)

	d.qhdErr = d.parseQHD(payload, i)
	return d
}

func (d *replyData) parseQHD(payload []byte, i int) error {
	end := len(payload) - guid.SIZE
	if i+5 > end {
		return oops.Wrapf(ErrNoQHD, "%d bytes before the client guid", end-i)
	}
	vendor := string(payload[i : i+4])
	i += 4
	length := int(payload[i])
	if length == 0 {
		return oops.Wrapf(ErrNoQHD, "common area length zero")
	}
	i++
	if i+length > end {
		return oops.Wrapf(ErrNoQHD, "common area of %d bytes overruns payload", length)
	}
	d.qhdOffset = i - 1

	xmlStart := end
	if length >= 4 {
		xmlSize := int(binary.LittleEndian.Uint16(payload[i+2:]))
		if xmlSize > 0 {
			xmlStart = end - xmlSize
			if xmlStart < i+length {
				return oops.Wrapf(ErrNoQHD, "xml size %d overruns descriptor", xmlSize)
			}
			d.xml = append([]byte{}, payload[xmlStart:end-1]...)
		}
	}

	if length > 1 {
		control, flags := payload[i], payload[i+1]
		if flags&QHD_PUSH_MASK != 0 {
			d.push = triOf(control&QHD_PUSH_MASK != 0)
		}
		if control&QHD_BUSY_MASK != 0 {
			d.busy = triOf(flags&QHD_BUSY_MASK != 0)
		}
		if control&QHD_UPLOADED_MASK != 0 {
			d.uploaded = triOf(flags&QHD_UPLOADED_MASK != 0)
		}
		if control&QHD_SPEED_MASK != 0 {
			d.measured = triOf(flags&QHD_SPEED_MASK != 0)
		}
		if control&QHD_GGEP_MASK != 0 && flags&QHD_GGEP_MASK != 0 {
			if err := d.readGGEP(payload[:xmlStart], i+2); err != nil {
				return err
			}
		}
	}
	i += length
	d.xmlStart = xmlStart

	if i < xmlStart && (vendor == "LIME" || vendor == "RAZA") {
		d.chat = payload[i]&QHD_CHAT_MASK != 0
	}
	d.vendor = strings.ToUpper(vendor)
	return nil
}

func (d *replyData) readGGEP(region []byte, start int) error {
	res := ggep.Scan(region, start)
	if res.Secure != nil {
		d.secure, d.secStart, d.secEnd = res.Secure, res.SecureStart, res.SecureEnd
	}
	g := res.Normal
	if g == nil {
		return nil
	}
	d.ggep, d.ggepStart, d.ggepEnd = g, res.NormalStart, res.NormalEnd
	d.browseHost = g.Has(ggep.KEY_BROWSE_HOST)
	if g.HasValue(ggep.KEY_FW_TRANSFER) {
		v, _ := g.Get(ggep.KEY_FW_TRANSFER)
		d.fwtVersion = v[0]
		d.fwt = d.fwtVersion > 0
	}
	d.multicast = g.Has(ggep.KEY_MULTICAST_RESPONSE)
	d.proxies = pushProxies(g)
	if g.Has(ggep.KEY_SECURE_OOB) {
		token, _ := g.Get(ggep.KEY_SECURE_OOB)
		if len(token) == 0 {
			return oops.Wrapf(ErrNoQHD, "empty out of band security token")
		}
		d.token = token
	}
	d.tls = g.Has(ggep.KEY_TLS_SUPPORT)
	return nil
}

// pushProxies skips entries that do not decode.
func pushProxies(g *ggep.GGEP) []netutil.Endpoint {
	data, ok := g.Get(ggep.KEY_PUSH_PROXY)
	if !ok || len(data) == 0 {
		return nil
	}
	var bn netutil.BitNumbers
	if b, ok := g.Get(ggep.KEY_PUSH_PROXY_TLS); ok {
		bn = netutil.BitNumbersFromBytes(b)
	}
	var out []netutil.Endpoint
	for i := 0; (i+1)*netutil.IPPORT_SIZE <= len(data); i++ {
		e, err := netutil.DecodeIPPort(data[i*netutil.IPPORT_SIZE:])
		if err != nil {
			continue
		}
		e.TLS = bn.IsSet(i)
		out = append(out, e)
	}
	return out
}

// ResultCount is the count byte of the prefix, whether or not the results
// parse.
func (qr *QueryReply) ResultCount() int {
	return int(qr.payload[0])
}

func (qr *QueryReply) Port() int {
	return int(binary.LittleEndian.Uint16(qr.payload[1:3]))
}

func (qr *QueryReply) Addr() netip.Addr {
	return qr.addr
}

func (qr *QueryReply) IPBytes() []byte {
	ip := qr.addr.As4()
	return ip[:]
}

// Endpoint is where the results can be fetched.
func (qr *QueryReply) Endpoint() netutil.Endpoint {
	return netutil.Endpoint{Addr: qr.addr, Port: qr.Port(), TLS: qr.IsTLSCapable()}
}

func (qr *QueryReply) speed() int64 {
	return int64(binary.LittleEndian.Uint32(qr.payload[7:11]))
}

// Speed reports MaxInt32 for replies to multicast queries.
func (qr *QueryReply) Speed() int64 {
	if qr.IsReplyToMulticastQuery() {
		return math.MaxInt32
	}
	return qr.speed()
}

// ClientGUID is the servent id in the last 16 bytes.
func (qr *QueryReply) ClientGUID() guid.GUID {
	var g guid.GUID
	copy(g[:], qr.payload[len(qr.payload)-guid.SIZE:])
	return g
}

// IsLocal reports whether the reply was built here rather than decoded.
func (qr *QueryReply) IsLocal() bool { return qr.local }

// Results returns every result record, or an error if any record failed to
// decode.
func (qr *QueryReply) Results() ([]*Response, error) {
	d := qr.d()
	if d.resultErr != nil {
		return nil, badPacket(FUNC_QUERY_REPLY, REASON_INVALID_PAYLOAD, d.resultErr)
	}
	return append([]*Response(nil), d.responses...), nil
}

// Validate parses the reply and reports whether it is usable.
func (qr *QueryReply) Validate() error {
	d := qr.d()
	if d.resultErr != nil {
		return badPacket(FUNC_QUERY_REPLY, REASON_INVALID_PAYLOAD, d.resultErr)
	}
	if d.qhdErr != nil {
		return badPacket(FUNC_QUERY_REPLY, REASON_INVALID_PAYLOAD, d.qhdErr)
	}
	return nil
}

func (qr *QueryReply) UniqueResultCount() int  { return qr.d().uniqueURNs }
func (qr *QueryReply) PartialResultCount() int { return qr.d().partial }

// Vendor is the upper-cased vendor code, empty when there is no usable
// descriptor.
func (qr *QueryReply) Vendor() string {
	d := qr.d()
	if d.qhdErr != nil {
		return ""
	}
	return d.vendor
}

func (qr *QueryReply) PushFlag() Tri     { return qr.d().push }
func (qr *QueryReply) BusyFlag() Tri     { return qr.d().busy }
func (qr *QueryReply) UploadedFlag() Tri { return qr.d().uploaded }
func (qr *QueryReply) MeasuredFlag() Tri { return qr.d().measured }

func (qr *QueryReply) NeedsPush() (bool, error)           { return qr.PushFlag().Bool() }
func (qr *QueryReply) IsBusy() (bool, error)              { return qr.BusyFlag().Bool() }
func (qr *QueryReply) HadSuccessfulUpload() (bool, error) { return qr.UploadedFlag().Bool() }
func (qr *QueryReply) IsMeasuredSpeed() (bool, error)     { return qr.MeasuredFlag().Bool() }

// firewalled treats an undefined push flag as firewalled.
func (qr *QueryReply) firewalled() bool {
	push, err := qr.NeedsPush()
	return err != nil || push || netutil.PrivateAddr(qr.addr)
}

// SupportsChat is false for firewalled hosts.
func (qr *QueryReply) SupportsChat() bool {
	return qr.d().chat && !qr.firewalled()
}

// IsFirewalled reports whether the results need a push. Replies to
// multicast queries never do.
func (qr *QueryReply) IsFirewalled() bool {
	return qr.firewalled() && !qr.IsReplyToMulticastQuery()
}

func (qr *QueryReply) SupportsBrowseHost() bool        { return qr.d().browseHost }
func (qr *QueryReply) SupportsFWTransfer() bool        { return qr.d().fwt }
func (qr *QueryReply) FWTransferVersion() byte         { return qr.d().fwtVersion }
func (qr *QueryReply) IsTLSCapable() bool              { return qr.d().tls }
func (qr *QueryReply) SecurityToken() []byte           { return qr.d().token }
func (qr *QueryReply) PushProxies() []netutil.Endpoint { return qr.d().proxies }

// XMLBytes is the raw XML block, still prefixed and possibly compressed.
func (qr *QueryReply) XMLBytes() []byte { return qr.d().xml }

// XML decodes the XML block.
func (qr *QueryReply) XML() (string, error) {
	return DecompressXML(qr.d().xml)
}

// GGEP returns the descriptor's extension block, or nil.
func (qr *QueryReply) GGEP() *ggep.GGEP { return qr.d().ggep }

// SetMulticastAllowed records whether the reply arrived where a multicast
// reply is legitimate.
func (qr *QueryReply) SetMulticastAllowed(allowed bool) {
	qr.multicastAllowed.Store(allowed)
}

func (qr *QueryReply) IsReplyToMulticastQuery() bool {
	return qr.multicastAllowed.Load() && qr.d().multicast
}

// IsFakeMulticast reports a multicast marker on a reply that did not come
// over multicast.
func (qr *QueryReply) IsFakeMulticast() bool {
	return !qr.multicastAllowed.Load() && qr.d().multicast
}

func (qr *QueryReply) HasSecureData() bool { return qr.d().secure != nil }

// SecureSignature returns the SIG value of the secure block.
func (qr *QueryReply) SecureSignature() []byte {
	d := qr.d()
	if d.secure == nil {
		return nil
	}
	sig, err := d.secure.GetBytes(ggep.KEY_SIGNATURE)
	if err != nil {
		return nil
	}
	return sig
}

// SignedBytes returns the payload a secure block signature covers: every
// byte but the block itself and the client GUID.
func (qr *QueryReply) SignedBytes() []byte {
	d := qr.d()
	if d.secure == nil {
		return nil
	}
	end := len(qr.payload) - guid.SIZE
	out := make([]byte, 0, end-(d.secEnd-d.secStart))
	out = append(out, qr.payload[:d.secStart]...)
	return append(out, qr.payload[d.secEnd:end]...)
}

// VerifySignature checks the secure block with v.
func (qr *QueryReply) VerifySignature(v security.Verifier) bool {
	sig := qr.SecureSignature()
	if sig == nil {
		return false
	}
	return v.Verify(qr.SignedBytes(), sig)
}

// SetOOBAddress points the reply at ap, as done when results are delivered
// out of band. The port and IP are written to a fresh copy of the payload;
// the GUID and any envelope sharing the old payload are left alone. It must
// not race with other readers of qr.
func (qr *QueryReply) SetOOBAddress(ap netip.AddrPort) error {
	addr := ap.Addr().Unmap()
	if !addr.Is4() || !netutil.ValidAddr(addr) {
		return oops.Wrapf(ErrInvalidAddress, "address %s", ap.Addr())
	}
	if !netutil.ValidPort(int(ap.Port())) {
		return oops.Wrapf(ErrInvalidPort, "port %d", ap.Port())
	}
	qr.d()
	payload := append([]byte(nil), qr.payload...)
	binary.LittleEndian.PutUint16(payload[1:3], ap.Port())
	ip := addr.As4()
	copy(payload[3:7], ip[:])
	qr.payload = payload
	qr.addr = addr
	return nil
}

// LocalHost is what QualityOfService needs to know about this servent.
type LocalHost struct {
	Addr             netip.Addr
	AcceptedIncoming bool
	CanDoFWT         bool
}

// QualityOfService rates how likely a download from this reply is to work,
// from -1 (impossible) to 4.
func (qr *QueryReply) QualityOfService(me LocalHost) int {
	if me.Addr.IsValid() && me.Addr.Unmap() == qr.addr {
		return 3
	}
	if qr.IsReplyToMulticastQuery() {
		return 4
	}
	d := qr.d()
	iFirewalled := !me.AcceptedIncoming
	heFirewalled := d.push
	if netutil.PrivateAddr(qr.addr) {
		heFirewalled = TRI_TRUE
	}
	if d.fwt && me.CanDoFWT {
		iFirewalled = false
		heFirewalled = TRI_FALSE
	}
	if iFirewalled && heFirewalled == TRI_TRUE {
		return -1
	}
	switch {
	case d.busy == TRI_UNDEFINED || heFirewalled == TRI_UNDEFINED:
		return 0
	case d.busy == TRI_TRUE:
		if heFirewalled == TRI_TRUE {
			return 0
		}
		return 1
	case heFirewalled == TRI_TRUE && len(d.proxies) <= 1:
		return 2
	default:
		return 3
	}
}

// WithGUID re-decodes the payload under g.
func (qr *QueryReply) WithGUID(s *Settings, g guid.GUID) (*QueryReply, error) {
	return parseQueryReply(s, newEnvelope(s, g, FUNC_QUERY_REPLY, qr.ttl, qr.hops, qr.payload, qr.network))
}

// WithNewAddress returns a copy advertising addr.
func (qr *QueryReply) WithNewAddress(s *Settings, addr netip.Addr) (*QueryReply, error) {
	addr = addr.Unmap()
	if addr == qr.addr {
		return qr, nil
	}
	if !addr.Is4() {
		return nil, oops.Wrapf(ErrInvalidAddress, "address %s", addr)
	}
	payload := append([]byte(nil), qr.payload...)
	ip := addr.As4()
	copy(payload[3:7], ip[:])
	return parseQueryReply(s, newEnvelope(s, qr.guid, FUNC_QUERY_REPLY, qr.ttl, qr.hops, payload, qr.network))
}

// WithNewGGEP returns a copy whose descriptor extension block is replaced by
// g. Replies without a descriptor are returned unchanged.
func (qr *QueryReply) WithNewGGEP(s *Settings, g *ggep.GGEP) (*QueryReply, error) {
	d := qr.d()
	if d.qhdOffset < 0 {
		return qr, nil
	}
	block, err := g.MarshalBinary()
	if err != nil {
		return nil, err
	}
	p := qr.payload
	off := d.qhdOffset
	length := int(p[off])
	var out bytes.Buffer
	out.Write(p[:off])
	if length == 1 {
		flag := p[off+1] | QHD_GGEP_MASK
		out.Write([]byte{2, flag, flag})
	} else {
		out.WriteByte(byte(length))
		out.WriteByte(p[off+1] | QHD_GGEP_MASK)
		out.WriteByte(p[off+2] | QHD_GGEP_MASK)
		out.Write(p[off+3 : off+1+length])
	}
	commonEnd := off + 1 + length
	if d.ggepStart >= 0 {
		out.Write(p[commonEnd:d.ggepStart])
		out.Write(block)
		out.Write(p[d.ggepEnd:])
	} else {
		rest := d.xmlStart
		if d.secStart >= 0 {
			rest = d.secStart
		}
		if rest < commonEnd {
			rest = commonEnd
		}
		out.Write(p[commonEnd:rest])
		out.Write(block)
		out.Write(p[rest:])
	}
	return parseQueryReply(s, newEnvelope(s, qr.guid, FUNC_QUERY_REPLY, qr.ttl, qr.hops, out.Bytes(), qr.network))
}

// WithReturnPathInfo records the hop this reply took. me is skipped when
// not valid.
func (qr *QueryReply) WithReturnPathInfo(s *Settings, me, source netip.AddrPort) (*QueryReply, error) {
	g := ggep.New()
	if cur := qr.d().ggep; cur != nil {
		g.Merge(cur)
	}
	suffix := strconv.Itoa(g.ReturnPathSuffix())
	if me.IsValid() {
		if err := g.Put(ggep.KEY_RETURN_PATH_ME+suffix, returnPathAddr(me)); err != nil {
			return nil, err
		}
	}
	if err := g.Put(ggep.KEY_RETURN_PATH_SOURCE+suffix, returnPathAddr(source)); err != nil {
		return nil, err
	}
	if err := g.PutByte(ggep.KEY_RETURN_PATH_HOPS+suffix, byte(qr.hops)); err != nil {
		return nil, err
	}
	if err := g.PutByte(ggep.KEY_RETURN_PATH_TTL+suffix, byte(qr.ttl)); err != nil {
		return nil, err
	}
	return qr.WithNewGGEP(s, g)
}

// returnPathAddr packs the address and a big-endian port.
func returnPathAddr(ap netip.AddrPort) []byte {
	out := make([]byte, 6)
	if ip := ap.Addr().Unmap(); ip.Is4() {
		b := ip.As4()
		copy(out, b[:])
	}
	binary.BigEndian.PutUint16(out[4:], ap.Port())
	return out
}

// ReturnPath is one RPI/RPS/RPH/RPT annotation.
type ReturnPath struct {
	Me     netip.AddrPort
	Source netip.AddrPort
	Hops   int
	TTL    int
}

// ReturnPaths lists the annotations in suffix order.
func (qr *QueryReply) ReturnPaths() []ReturnPath {
	g := qr.d().ggep
	if g == nil {
		return nil
	}
	var out []ReturnPath
	for i := 0; ; i++ {
		suffix := strconv.Itoa(i)
		src, ok := g.Get(ggep.KEY_RETURN_PATH_SOURCE + suffix)
		if !ok {
			return out
		}
		rp := ReturnPath{Source: readReturnPathAddr(src)}
		if me, ok := g.Get(ggep.KEY_RETURN_PATH_ME + suffix); ok {
			rp.Me = readReturnPathAddr(me)
		}
		if v, ok := g.Get(ggep.KEY_RETURN_PATH_HOPS + suffix); ok && len(v) > 0 {
			rp.Hops = int(v[0])
		}
		if v, ok := g.Get(ggep.KEY_RETURN_PATH_TTL + suffix); ok && len(v) > 0 {
			rp.TTL = int(v[0])
		}
		out = append(out, rp)
	}
}

func readReturnPathAddr(b []byte) netip.AddrPort {
	if len(b) != 6 {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(netutil.AddrFrom4(b[:4]), binary.BigEndian.Uint16(b[4:]))
}
