package messages

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/huge"
	"github.com/go-gnutella/go-gnutella/lib/security"
	"github.com/go-gnutella/go-gnutella/lib/urn"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
	"golang.org/x/text/unicode/norm"
)

/*
Query
	+----+----+-----------------+----+----------------------------+----+
	| min speed LE2 | query UTF-8 | 00 | HUGE area                  | 00 |
	+----+----+-----------------+----+----------------------------+----+

The HUGE area holds the XML rich query, requested URNs and one GGEP block,
separated by 0x1C. Query strings longer than 30 characters are cut down to
keywords in the legacy field and sent whole in XQ.
*/

// Min speed flags. SPECIAL marks the field as flags rather than a speed.
const (
	SPECIAL_MINSPEED_MASK  = 0x0080
	SPECIAL_FIREWALL_MASK  = 0x0040
	SPECIAL_XML_MASK       = 0x0020
	SPECIAL_OUTOFBAND_MASK = 0x0004
	SPECIAL_FWTRANS_MASK   = 0x0002
)

// Result type masks carried in the M key.
const (
	AUDIO_MASK    = 0x0004
	VIDEO_MASK    = 0x0008
	DOC_MASK      = 0x0010
	IMAGE_MASK    = 0x0020
	WIN_PROG_MASK = 0x0040
	LIN_PROG_MASK = 0x0080
	TORRENT_MASK  = 0x0100

	// MAX_META_MASK is every mask but the smallest; asking for all types
	// means sending no mask.
	MAX_META_MASK = 504
	// MAX_RECEIVED_META_MASK is the largest mask honoured on decode.
	MAX_RECEIVED_META_MASK = 248
)

const (
	DEFAULT_QUERY_TTL = 6
	// DEFAULT_URN_QUERY is the query string of a search by URN only.
	DEFAULT_URN_QUERY = "\\"
	// INDEXING_QUERY asks for every shared file.
	INDEXING_QUERY           = "    "
	BROWSE_QUERY             = "*.*"
	WHAT_IS_NEW_QUERY_STRING = "WhatIsNewXOXO"
	// FEATURE_WHAT_IS_NEW is the WH selector of a what-is-new search.
	FEATURE_WHAT_IS_NEW = 1

	OLD_MAX_QUERY_FIELD_LEN = 30
)

// QueryParams describes an outgoing query.
type QueryParams struct {
	GUID    guid.GUID
	TTL     int
	Network Network

	// MinSpeed zero means compute the flags from the fields below.
	MinSpeed int

	Query     string
	RichQuery string
	URNs      []urn.URN
	QueryKey  security.QueryKey

	Firewalled    bool
	CanDoFWT      bool
	CanReceiveOOB bool
	DoNotProxy    bool

	FeatureSelector int
	MetaMask        int

	// Normalize applies NFKC and lower case to Query.
	Normalize bool
}

// NewQueryGUID returns a GUID for a new search.
func NewQueryGUID(requery bool) guid.GUID {
	if requery {
		return guid.NewRequery()
	}
	return guid.New()
}

// Query is a search request.
type Query struct {
	*Envelope

	minSpeed  int
	query     string
	field     string
	richQuery string
	urns      *urn.Set
	urnTypes  []urn.Type
	queryKey  security.QueryKey
	feature   int
	noProxy   bool
	metaMask  int
	secureOOB bool
	partial   bool
	nms1      bool
	ext       *huge.Extension
	hugeStart int

	originated bool
}

// NormalizeQuery lower cases q and applies NFKC.
func NormalizeQuery(q string) string {
	return norm.NFKC.String(strings.ToLower(q))
}

// NewQuery validates p and builds the payload.
func NewQuery(s *Settings, p QueryParams) (*Query, error) {
	if p.Normalize {
		p.Query = NormalizeQuery(p.Query)
	}
	if err := s.validateQuery(p.Query, p.RichQuery, len(p.URNs)); err != nil {
		return nil, err
	}
	if p.TTL < 0 || p.TTL > MAX_TTL {
		return nil, oops.Wrapf(ErrInvalidTTL, "ttl %d", p.TTL)
	}
	if p.FeatureSelector < 0 {
		return nil, oops.Wrapf(ErrInvalidQuery, "feature selector %d", p.FeatureSelector)
	}
	if (p.MetaMask > 0 && p.MetaMask < 4) || p.MetaMask > MAX_META_MASK {
		return nil, oops.Wrapf(ErrInvalidQuery, "meta mask %d", p.MetaMask)
	}

	minSpeed := p.MinSpeed
	if minSpeed == 0 {
		minSpeed = SPECIAL_MINSPEED_MASK
		if p.Firewalled && p.Network != NETWORK_MULTICAST {
			minSpeed |= SPECIAL_FIREWALL_MASK
		}
		if p.Firewalled && p.CanDoFWT {
			minSpeed |= SPECIAL_FWTRANS_MASK
		}
		if !p.CanReceiveOOB {
			minSpeed |= SPECIAL_XML_MASK
		} else {
			minSpeed |= SPECIAL_OUTOFBAND_MASK
		}
	}

	var buf bytes.Buffer
	var ms [2]byte
	binary.LittleEndian.PutUint16(ms[:], uint16(minSpeed))
	buf.Write(ms[:])
	buf.WriteString(queryFieldValue(p.Query))
	buf.WriteByte(0)

	delimit := false
	writeExt := func(b []byte) {
		if len(b) == 0 {
			return
		}
		if delimit {
			buf.WriteByte(huge.DELIMITER)
		}
		buf.Write(b)
		delimit = true
	}
	writeExt([]byte(p.RichQuery))
	for _, u := range urn.NewSet(p.URNs...).Slice() {
		writeExt([]byte(u.String()))
	}

	g := ggep.NewCOBS()
	var err error
	put := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	if len(p.QueryKey) > 0 {
		put(func() error { return g.Put(ggep.KEY_QUERY_KEY_SUPPORT, p.QueryKey) })
	}
	if p.FeatureSelector > 0 {
		put(func() error { return g.PutInt(ggep.KEY_FEATURE_QUERY, p.FeatureSelector) })
	}
	if p.DoNotProxy {
		put(func() error { return g.PutFlag(ggep.KEY_NO_PROXY) })
	}
	if p.MetaMask > 0 {
		put(func() error { return g.PutInt(ggep.KEY_META, p.MetaMask) })
	}
	if p.CanReceiveOOB {
		put(func() error { return g.PutFlag(ggep.KEY_SECURE_OOB) })
	}
	if s.PartialResults {
		put(func() error { return g.PutFlag(ggep.KEY_PARTIAL_RESULT) })
	}
	if s.DesireNMS1 {
		put(func() error { return g.PutFlag(ggep.KEY_NMS1) })
	}
	if utf8.RuneCountInString(p.Query) > OLD_MAX_QUERY_FIELD_LEN {
		put(func() error { return g.PutString(ggep.KEY_EXTENDED_QUERY, p.Query) })
	}
	if err != nil {
		return nil, oops.Wrapf(err, "building query extensions")
	}
	ext, err := g.MarshalBinary()
	if err != nil {
		return nil, oops.Wrapf(err, "writing query extensions")
	}
	writeExt(ext)
	buf.WriteByte(0)

	q, err := parseQuery(s, newEnvelope(s, p.GUID, FUNC_QUERY, p.TTL, 0, buf.Bytes(), p.Network))
	if err != nil {
		return nil, oops.Wrapf(err, "query did not round trip")
	}
	q.originated = true
	return q, nil
}

// queryFieldValue returns what goes in the legacy query field: the query
// itself when short, else as many of its keywords as fit.
func queryFieldValue(q string) string {
	if utf8.RuneCountInString(q) <= OLD_MAX_QUERY_FIELD_LEN {
		return q
	}
	keywords := extractKeywords(q)
	if len(keywords) == 0 {
		return q
	}
	var b strings.Builder
	for _, k := range keywords {
		n := utf8.RuneCountInString(k)
		cur := utf8.RuneCountInString(b.String())
		if cur > 0 {
			n++
		}
		if cur+n > OLD_MAX_QUERY_FIELD_LEN {
			continue
		}
		if cur > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
	}
	return b.String()
}

// extractKeywords splits q on anything that is not a letter or digit and
// drops duplicates, keeping first occurrence order.
func extractKeywords(q string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func (s *Settings) validateQuery(query, richQuery string, urnCount int) error {
	if query == "" && richQuery == "" && urnCount == 0 {
		return badPacketf(FUNC_QUERY, REASON_EMPTY_QUERY, "empty query")
	}
	if utf8.RuneCountInString(query) > s.MaxQueryLength {
		return badPacket(FUNC_QUERY, REASON_INVALID_QUERY, oops.Wrapf(ErrInvalidQuery, "query of %d characters", utf8.RuneCountInString(query)))
	}
	if utf8.RuneCountInString(richQuery) > s.MaxXMLLength {
		return badPacket(FUNC_QUERY, REASON_INVALID_QUERY, oops.Wrapf(ErrInvalidQuery, "xml query of %d characters", utf8.RuneCountInString(richQuery)))
	}
	if !(urnCount > 0 && query == DEFAULT_URN_QUERY) && s.hasIllegalChars(query) {
		return badPacket(FUNC_QUERY, REASON_ILLEGAL_CHARS, oops.Wrapf(ErrInvalidQuery, "illegal characters in %q", query))
	}
	return nil
}

// DecodeQuery parses and validates a query from the network.
func DecodeQuery(s *Settings, f Frame) (Message, error) {
	return parseQuery(s, envelopeFor(s, f))
}

func readNullTerminated(data []byte, i int) ([]byte, int) {
	if i >= len(data) {
		return nil, len(data)
	}
	end := bytes.IndexByte(data[i:], 0)
	if end < 0 {
		return data[i:], len(data)
	}
	return data[i : i+end], i + end + 1
}

func parseQuery(s *Settings, e *Envelope) (*Query, error) {
	data := e.payload
	if len(data) < 2 {
		return nil, badPacketf(FUNC_QUERY, REASON_TOO_SHORT, "query payload of %d bytes", len(data))
	}
	q := &Query{Envelope: e, minSpeed: int(binary.LittleEndian.Uint16(data))}
	raw, next := readNullTerminated(data, 2)
	q.query = strings.ToValidUTF8(string(raw), "\uFFFD")
	q.field = q.query
	q.hugeStart = next
	if next < len(data) {
		q.ext = huge.Parse(data[next:])
	} else {
		q.ext = huge.Parse(nil)
	}
	q.urns = q.ext.URNs
	q.urnTypes = q.ext.URNTypes
	q.richQuery = q.ext.RichQuery()
	if g := q.ext.GGEP; g != nil {
		if err := q.readGGEP(g); err != nil {
			log.WithFields(logger.Fields{
				"at":   "messages.parseQuery",
				"guid": e.guid.String(),
			}).WithError(err).Debug("stopped_at_bad_query_ggep_key")
		}
	}
	if err := s.validateQuery(q.query, q.richQuery, q.urns.Len()); err != nil {
		return nil, err
	}
	return q, nil
}

// readGGEP stops at the first malformed key; keys read before it stay.
func (q *Query) readGGEP(g *ggep.GGEP) error {
	if g.Has(ggep.KEY_QUERY_KEY_SUPPORT) {
		b, _ := g.Get(ggep.KEY_QUERY_KEY_SUPPORT)
		qk, err := security.ParseQueryKey(b)
		if err != nil {
			return err
		}
		q.queryKey = qk
	}
	if g.Has(ggep.KEY_FEATURE_QUERY) {
		v, err := g.GetInt(ggep.KEY_FEATURE_QUERY)
		if err != nil {
			return err
		}
		q.feature = v
	}
	q.noProxy = g.Has(ggep.KEY_NO_PROXY)
	if g.Has(ggep.KEY_META) {
		v, err := g.GetInt(ggep.KEY_META)
		if err != nil {
			return err
		}
		if v >= 4 && v <= MAX_RECEIVED_META_MASK {
			q.metaMask = v
		}
	}
	q.secureOOB = g.Has(ggep.KEY_SECURE_OOB)
	q.partial = g.Has(ggep.KEY_PARTIAL_RESULT)
	q.nms1 = g.Has(ggep.KEY_NMS1)
	if g.Has(ggep.KEY_EXTENDED_QUERY) {
		v, err := g.GetString(ggep.KEY_EXTENDED_QUERY)
		if err != nil {
			return err
		}
		q.query = v
	}
	return nil
}

func (q *Query) special(mask int) bool {
	return q.minSpeed&SPECIAL_MINSPEED_MASK != 0 && q.minSpeed&mask != 0
}

func (q *Query) MinSpeed() int     { return q.minSpeed }
func (q *Query) Query() string     { return q.query }
func (q *Query) RichQuery() string { return q.richQuery }

// OriginalQuery is the legacy query field as sent, before XQ replaced it.
func (q *Query) OriginalQuery() string { return q.field }

// URNs returns the requested URNs. The set must not be modified.
func (q *Query) URNs() *urn.Set     { return q.urns }
func (q *Query) HasQueryURNs() bool { return q.urns.Len() > 0 }
func (q *Query) RequestedURNTypes() []urn.Type {
	return q.urnTypes
}

// Extension returns the parsed HUGE area.
func (q *Query) Extension() *huge.Extension { return q.ext }

func (q *Query) QueryKey() security.QueryKey { return q.queryKey }

// IsFirewalledSource is never true for multicast queries.
func (q *Query) IsFirewalledSource() bool {
	return !q.IsMulticast() && q.special(SPECIAL_FIREWALL_MASK)
}

func (q *Query) DesiresXMLResponses() bool {
	return q.special(SPECIAL_XML_MASK)
}

func (q *Query) CanDoFirewalledTransfer() bool {
	return q.special(SPECIAL_FWTRANS_MASK)
}

func (q *Query) DesiresOutOfBandReplies() bool {
	return q.DesiresOutOfBandRepliesV2() || q.DesiresOutOfBandRepliesV3()
}

func (q *Query) DesiresOutOfBandRepliesV2() bool {
	return q.special(SPECIAL_OUTOFBAND_MASK)
}

func (q *Query) DesiresOutOfBandRepliesV3() bool {
	return q.secureOOB
}

func (q *Query) IsSecurityTokenRequired() bool { return q.secureOOB }
func (q *Query) DoNotProxy() bool              { return q.noProxy }
func (q *Query) FeatureSelector() int          { return q.feature }
func (q *Query) IsFeatureQuery() bool          { return q.feature > 0 }
func (q *Query) IsWhatIsNewRequest() bool      { return q.feature == FEATURE_WHAT_IS_NEW }
func (q *Query) IsBrowseHostQuery() bool       { return q.query == INDEXING_QUERY }
func (q *Query) DesiresPartialResults() bool   { return q.partial }
func (q *Query) DesiresNMS1URN() bool          { return q.nms1 }

// ShouldIncludeXMLInResponse reports whether replies should carry XML.
func (q *Query) ShouldIncludeXMLInResponse() bool {
	return q.DesiresXMLResponses() || q.DesiresOutOfBandReplies()
}

// ReplyAddr is the out-of-band reply address encoded in the GUID.
func (q *Query) ReplyAddr() netip.AddrPort {
	return netip.AddrPortFrom(q.guid.Addr(), uint16(q.guid.Port()))
}

// MatchesReplyAddress reports whether the GUID encodes ap.
func (q *Query) MatchesReplyAddress(ap netip.AddrPort) bool {
	return q.guid.AddressesMatch(ap)
}

func (q *Query) IsLimeRequery() bool {
	return q.guid.IsAnyLimeRequery()
}

// MetaMask is zero when every result type is wanted.
func (q *Query) MetaMask() int    { return q.metaMask }
func (q *Query) DesiresAll() bool { return q.metaMask == 0 }

func (q *Query) hasMetaMask(mask int) bool {
	return q.metaMask == 0 || q.metaMask&mask != 0
}

func (q *Query) DesiresAudio() bool            { return q.hasMetaMask(AUDIO_MASK) }
func (q *Query) DesiresVideo() bool            { return q.hasMetaMask(VIDEO_MASK) }
func (q *Query) DesiresDocuments() bool        { return q.hasMetaMask(DOC_MASK) }
func (q *Query) DesiresImages() bool           { return q.hasMetaMask(IMAGE_MASK) }
func (q *Query) DesiresWindowsPrograms() bool  { return q.hasMetaMask(WIN_PROG_MASK) }
func (q *Query) DesiresLinuxOSXPrograms() bool { return q.hasMetaMask(LIN_PROG_MASK) }
func (q *Query) DesiresTorrents() bool         { return q.hasMetaMask(TORRENT_MASK) }

// Originate marks the query as sent by this host.
func (q *Query) Originate()         { q.originated = true }
func (q *Query) IsOriginated() bool { return q.originated }

// params rebuilds construction parameters from a decoded query.
func (q *Query) params() QueryParams {
	return QueryParams{
		GUID:            q.guid,
		TTL:             q.ttl,
		Network:         q.network,
		MinSpeed:        q.minSpeed,
		Query:           q.query,
		RichQuery:       q.richQuery,
		URNs:            q.urns.Slice(),
		QueryKey:        q.queryKey,
		Firewalled:      q.IsFirewalledSource(),
		CanReceiveOOB:   q.DesiresOutOfBandReplies(),
		DoNotProxy:      q.noProxy,
		FeatureSelector: q.feature,
		MetaMask:        q.metaMask,
	}
}
