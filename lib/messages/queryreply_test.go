package messages

import (
	"math"
	"net/netip"
	"testing"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/guid"
	"github.com/go-gnutella/go-gnutella/lib/intervals"
	"github.com/go-gnutella/go-gnutella/lib/netutil"
	"github.com/go-gnutella/go-gnutella/lib/security"
	"github.com/go-gnutella/go-gnutella/lib/urn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otherSHA1 = "urn:sha1:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func testResponses(t *testing.T, n int) []*Response {
	t.Helper()
	out := make([]*Response, n)
	for i := range out {
		r, err := NewResponse(int64(i), int64(1000+i), "file"+string(rune('a'+i%26))+".txt")
		require.NoError(t, err)
		out[i] = r
	}
	return out
}

func baseReply(responses ...*Response) ReplyParams {
	return ReplyParams{
		GUID:       guid.New(),
		TTL:        3,
		Port:       6346,
		Addr:       publicAddr,
		Speed:      1000,
		Responses:  responses,
		ClientGUID: guid.New(),
	}
}

func newTestReply(t *testing.T, p ReplyParams) *QueryReply {
	t.Helper()
	qr, err := NewQueryReply(DefaultSettings(), p)
	require.NoError(t, err)
	return qr
}

func TestQueryReplyRoundTrip(t *testing.T) {
	doc := `<?xml version="1.0"?><audios><audio index="0"/></audios>`
	xml, err := CompressXML(doc)
	require.NoError(t, err)
	proxies := []netutil.Endpoint{
		{Addr: otherAddr, Port: 6346},
		{Addr: otherAddr, Port: 443, TLS: true},
	}
	p := baseReply(testResponses(t, 2)...)
	p.XML = xml
	p.Busy = true
	p.FinishedUpload = true
	p.SupportsChat = true
	p.SupportsBrowseHost = true
	p.SupportsFWTransfer = true
	p.TLS = true
	p.Proxies = proxies
	p.SecurityToken = []byte{7, 7, 7}
	qr := newTestReply(t, p)
	assert.True(t, qr.IsLocal())

	got := redecode(t, qr).(*QueryReply)
	assert.False(t, got.IsLocal())
	require.NoError(t, got.Validate())
	assert.Equal(t, 2, got.ResultCount())
	results, err := got.Results()
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, r := range results {
		assert.True(t, p.Responses[i].Equal(r))
	}
	assert.Equal(t, p.ClientGUID, got.ClientGUID())
	assert.Equal(t, 6346, got.Port())
	assert.Equal(t, publicAddr, got.Addr())
	assert.Equal(t, publicAddr.AsSlice(), got.IPBytes())
	assert.Equal(t, int64(1000), got.Speed())

	assert.Equal(t, QHD_VENDOR, got.Vendor())
	assert.Equal(t, TRI_FALSE, got.PushFlag())
	assert.Equal(t, TRI_TRUE, got.BusyFlag())
	assert.Equal(t, TRI_TRUE, got.UploadedFlag())
	assert.Equal(t, TRI_FALSE, got.MeasuredFlag())
	assert.False(t, got.IsFirewalled())
	assert.True(t, got.SupportsChat())
	assert.True(t, got.SupportsBrowseHost())
	assert.True(t, got.SupportsFWTransfer())
	assert.Equal(t, byte(FW_TRANSFER_VERSION), got.FWTransferVersion())
	assert.True(t, got.IsTLSCapable())
	assert.True(t, got.Endpoint().TLS)
	assert.Equal(t, []byte{7, 7, 7}, got.SecurityToken())
	assert.Equal(t, proxies, got.PushProxies())
	assert.Equal(t, xml, got.XMLBytes())
	out, err := got.XML()
	require.NoError(t, err)
	assert.Equal(t, doc, out)
	assert.False(t, got.HasSecureData())
}

func TestQueryReplyWithoutDescriptor(t *testing.T) {
	got := redecode(t, newTestReply(t, baseReply(testResponses(t, 1)...))).(*QueryReply)
	results, err := got.Results()
	require.NoError(t, err)
	assert.Len(t, results, 1)

	assert.ErrorIs(t, got.Validate(), ErrNoQHD)
	assert.Equal(t, "", got.Vendor())
	assert.Equal(t, TRI_UNDEFINED, got.PushFlag())
	_, err = got.NeedsPush()
	assert.ErrorIs(t, err, ErrUndefinedFlag)
	assert.True(t, got.IsFirewalled())
	assert.Nil(t, got.GGEP())
	assert.Empty(t, got.XMLBytes())
}

func TestQueryReplyPushFlag(t *testing.T) {
	p := baseReply(testResponses(t, 1)...)
	p.IncludeQHD = true
	p.NeedsPush = true
	p.SupportsChat = true
	got := redecode(t, newTestReply(t, p)).(*QueryReply)
	push, err := got.NeedsPush()
	require.NoError(t, err)
	assert.True(t, push)
	assert.True(t, got.IsFirewalled())
	assert.False(t, got.SupportsChat())
	busy, err := got.IsBusy()
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestQueryReplyResultsAllOrNothing(t *testing.T) {
	p := baseReply(testResponses(t, 2)...)
	p.IncludeQHD = true
	qr := newTestReply(t, p)
	payload := append([]byte(nil), qr.Payload()...)
	payload[0] = 3

	m, err := NewFactory(DefaultSettings()).ReadDatagram(
		frameBytes(guid.New(), FUNC_QUERY_REPLY, 1, 0, payload), NETWORK_UDP, 7, publicAddrPort())
	require.NoError(t, err)
	got := m.(*QueryReply)
	results, err := got.Results()
	assert.Nil(t, results)
	assert.True(t, IsBadPacket(err))
	assert.Error(t, got.Validate())
	assert.Equal(t, "", got.Vendor())
	assert.Equal(t, 3, got.ResultCount())
}

func TestQueryReplyTooManyResults(t *testing.T) {
	qr := newTestReply(t, baseReply(testResponses(t, 11)...))
	_, err := qr.Results()
	assert.ErrorIs(t, err, ErrTooManyResults)

	s := DefaultSettings()
	s.MaxResponses = MAX_REPLY_RESULTS
	qr, err = NewQueryReply(s, baseReply(testResponses(t, 11)...))
	require.NoError(t, err)
	results, err := qr.Results()
	require.NoError(t, err)
	assert.Len(t, results, 11)

	_, err = NewQueryReply(s, baseReply(make([]*Response, MAX_REPLY_RESULTS+1)...))
	assert.ErrorIs(t, err, ErrTooManyResults)
}

func TestQueryReplyPrefixChecks(t *testing.T) {
	f := NewFactory(DefaultSettings())
	read := func(payload []byte) error {
		_, err := f.ReadDatagram(frameBytes(guid.New(), FUNC_QUERY_REPLY, 1, 0, payload), NETWORK_UDP, 7, publicAddrPort())
		return err
	}
	assert.Equal(t, REASON_TOO_SHORT, Reason(read(make([]byte, 20))))

	payload := make([]byte, REPLY_PREFIX_SIZE+guid.SIZE)
	copy(payload[3:7], publicAddr.AsSlice())
	assert.Equal(t, REASON_INVALID_PORT, Reason(read(payload)))

	payload[1] = 1
	copy(payload[3:7], []byte{0, 0, 0, 1})
	assert.Equal(t, REASON_INVALID_ADDRESS, Reason(read(payload)))

	copy(payload[3:7], publicAddr.AsSlice())
	assert.NoError(t, read(payload))
}

func TestQueryReplyConstructionChecks(t *testing.T) {
	s := DefaultSettings()
	p := baseReply()
	p.Port = 0
	_, err := NewQueryReply(s, p)
	assert.ErrorIs(t, err, ErrInvalidPort)

	p = baseReply()
	p.Addr = netip.MustParseAddr("::1")
	_, err = NewQueryReply(s, p)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	p = baseReply()
	p.Speed = math.MaxUint32 + 1
	_, err = NewQueryReply(s, p)
	assert.ErrorIs(t, err, ErrInvalidReply)

	p = baseReply()
	p.XML = make([]byte, XML_MAX_SIZE+1)
	_, err = NewQueryReply(s, p)
	assert.ErrorIs(t, err, ErrInvalidReply)
}

func TestUniqueAndPartialCounts(t *testing.T) {
	sha1 := urn.MustParse(testSHA1)
	other := urn.MustParse(otherSHA1)
	plain, err := NewResponse(0, 10, "plain.txt")
	require.NoError(t, err)
	a, err := NewResponse(1, 10, "a.txt", sha1)
	require.NoError(t, err)
	b, err := NewResponse(2, 10, "b.txt", sha1)
	require.NoError(t, err)
	part, err := NewResponse(3, 10240, "part.txt", other)
	require.NoError(t, err)
	part.Ranges = intervals.NewSet(intervals.Range{Low: 0, High: 2048})

	got := redecode(t, newTestReply(t, baseReply(plain, a, b, part))).(*QueryReply)
	assert.Equal(t, 3, got.UniqueResultCount())
	assert.Equal(t, 1, got.PartialResultCount())
}

func TestTri(t *testing.T) {
	v, err := TRI_TRUE.Bool()
	require.NoError(t, err)
	assert.True(t, v)
	v, err = TRI_FALSE.Bool()
	require.NoError(t, err)
	assert.False(t, v)
	_, err = TRI_UNDEFINED.Bool()
	assert.ErrorIs(t, err, ErrUndefinedFlag)
	assert.Equal(t, "undefined", TRI_UNDEFINED.String())
}

func TestMulticastReply(t *testing.T) {
	p := baseReply(testResponses(t, 1)...)
	p.MulticastReply = true
	p.NeedsPush = true
	p.Busy = true
	got := redecode(t, newTestReply(t, p)).(*QueryReply)

	assert.True(t, got.IsFakeMulticast())
	assert.False(t, got.IsReplyToMulticastQuery())
	assert.Equal(t, int64(1000), got.Speed())

	got.SetMulticastAllowed(true)
	assert.False(t, got.IsFakeMulticast())
	assert.True(t, got.IsReplyToMulticastQuery())
	assert.Equal(t, int64(math.MaxInt32), got.Speed())
	assert.False(t, got.IsFirewalled())
	assert.Equal(t, TRI_FALSE, got.PushFlag())
	assert.Equal(t, TRI_FALSE, got.BusyFlag())
	assert.Equal(t, TRI_TRUE, got.MeasuredFlag())
	assert.Equal(t, 4, got.QualityOfService(LocalHost{}))
}

func TestSignedReply(t *testing.T) {
	signer, err := security.NewBlake2bSigner([]byte("reply signing key"))
	require.NoError(t, err)
	xml, err := CompressXML("<?xml version=\"1.0\"?><signed/>")
	require.NoError(t, err)
	p := baseReply(testResponses(t, 2)...)
	p.Signer = signer
	p.XML = xml
	p.SupportsBrowseHost = true

	got := redecode(t, newTestReply(t, p)).(*QueryReply)
	require.NoError(t, got.Validate())
	assert.True(t, got.HasSecureData())
	assert.Len(t, got.SecureSignature(), security.SIGNATURE_SIZE)
	assert.True(t, got.VerifySignature(signer))
	assert.True(t, got.SupportsBrowseHost())
	assert.Equal(t, xml, got.XMLBytes())

	other, err := security.NewBlake2bSigner([]byte("another key"))
	require.NoError(t, err)
	assert.False(t, got.VerifySignature(other))

	moved, err := got.WithNewAddress(DefaultSettings(), otherAddr)
	require.NoError(t, err)
	assert.False(t, moved.VerifySignature(signer))
}

func TestSignedReplyWithoutOtherExtensions(t *testing.T) {
	signer, err := security.NewBlake2bSigner(nil)
	require.NoError(t, err)
	p := baseReply(testResponses(t, 1)...)
	p.Signer = signer
	got := redecode(t, newTestReply(t, p)).(*QueryReply)
	assert.True(t, got.HasSecureData())
	assert.True(t, got.VerifySignature(signer))
	assert.Nil(t, got.GGEP())
}

func TestWithNewAddress(t *testing.T) {
	p := baseReply(testResponses(t, 2)...)
	p.IncludeQHD = true
	qr := newTestReply(t, p)

	same, err := qr.WithNewAddress(DefaultSettings(), publicAddr)
	require.NoError(t, err)
	assert.Same(t, qr, same)

	moved, err := qr.WithNewAddress(DefaultSettings(), otherAddr)
	require.NoError(t, err)
	assert.Equal(t, otherAddr, moved.Addr())
	assert.Equal(t, publicAddr, qr.Addr())
	assert.Equal(t, qr.Port(), moved.Port())
	assert.Equal(t, qr.ClientGUID(), moved.ClientGUID())
	results, err := moved.Results()
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, QHD_VENDOR, moved.Vendor())

	_, err = qr.WithNewAddress(DefaultSettings(), netip.MustParseAddr("2001:db8::1"))
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestWithNewGGEPReplacesBlock(t *testing.T) {
	xml, err := CompressXML("<?xml version=\"1.0\"?><keep/>")
	require.NoError(t, err)
	p := baseReply(testResponses(t, 2)...)
	p.XML = xml
	p.SupportsChat = true
	p.SupportsBrowseHost = true
	qr := newTestReply(t, p)

	g := ggep.New()
	require.NoError(t, g.PutFlag(ggep.KEY_TLS_SUPPORT))
	out, err := qr.WithNewGGEP(DefaultSettings(), g)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	assert.True(t, out.IsTLSCapable())
	assert.False(t, out.SupportsBrowseHost())
	assert.True(t, out.SupportsChat())
	assert.Equal(t, xml, out.XMLBytes())
	results, err := out.Results()
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestWithNewGGEPAddsBlock(t *testing.T) {
	xml, err := CompressXML("<?xml version=\"1.0\"?><add/>")
	require.NoError(t, err)
	p := baseReply(testResponses(t, 1)...)
	p.XML = xml
	qr := newTestReply(t, p)
	require.Nil(t, qr.GGEP())

	g := ggep.New()
	require.NoError(t, g.PutFlag(ggep.KEY_BROWSE_HOST))
	out, err := qr.WithNewGGEP(DefaultSettings(), g)
	require.NoError(t, err)
	assert.True(t, out.SupportsBrowseHost())
	assert.Equal(t, xml, out.XMLBytes())
	assert.Equal(t, TRI_FALSE, out.PushFlag())

	bare := newTestReply(t, baseReply(testResponses(t, 1)...))
	same, err := bare.WithNewGGEP(DefaultSettings(), g)
	require.NoError(t, err)
	assert.Same(t, bare, same)
}

func TestWithReturnPathInfo(t *testing.T) {
	p := baseReply(testResponses(t, 1)...)
	p.SupportsBrowseHost = true
	qr := newTestReply(t, p)
	me := netip.AddrPortFrom(otherAddr, 6346)
	src := netip.AddrPortFrom(publicAddr, 6347)

	first, err := qr.WithReturnPathInfo(DefaultSettings(), me, src)
	require.NoError(t, err)
	first.Hop()
	second, err := first.WithReturnPathInfo(DefaultSettings(), netip.AddrPort{}, me)
	require.NoError(t, err)

	paths := second.ReturnPaths()
	require.Len(t, paths, 2)
	assert.Equal(t, ReturnPath{Me: me, Source: src, Hops: 0, TTL: 3}, paths[0])
	assert.Equal(t, ReturnPath{Source: me, Hops: 1, TTL: 2}, paths[1])
	assert.True(t, second.SupportsBrowseHost())
	assert.False(t, second.GGEP().Has(ggep.KEY_RETURN_PATH_ME+"1"))
}

func TestSetOOBAddress(t *testing.T) {
	qr := redecode(t, newTestReply(t, baseReply(testResponses(t, 1)...))).(*QueryReply)
	before := append([]byte(nil), qr.Payload()...)
	sibling, err := qr.WithGUID(qr.settings, guid.New())
	require.NoError(t, err)
	ap := netip.AddrPortFrom(otherAddr, 7000)
	require.NoError(t, qr.SetOOBAddress(ap))
	assert.Equal(t, otherAddr, qr.Addr())
	assert.Equal(t, 7000, qr.Port())
	assert.Equal(t, otherAddr.AsSlice(), qr.Payload()[3:7])
	assert.Equal(t, before[7:], qr.Payload()[7:])
	results, err := qr.Results()
	require.NoError(t, err)
	assert.Len(t, results, 1)

	assert.Equal(t, before, sibling.Payload())
	assert.NotEqual(t, otherAddr, sibling.Addr())

	assert.ErrorIs(t, qr.SetOOBAddress(netip.AddrPortFrom(otherAddr, 0)), ErrInvalidPort)
}

func TestWithGUID(t *testing.T) {
	qr := newTestReply(t, baseReply(testResponses(t, 1)...))
	g := guid.New()
	out, err := qr.WithGUID(DefaultSettings(), g)
	require.NoError(t, err)
	assert.Equal(t, g, out.GUID())
	assert.Equal(t, qr.Payload(), out.Payload())
}

func TestQualityOfService(t *testing.T) {
	open := LocalHost{AcceptedIncoming: true}
	closed := LocalHost{}

	reply := func(mod func(*ReplyParams)) *QueryReply {
		p := baseReply(testResponses(t, 1)...)
		p.IncludeQHD = true
		mod(&p)
		return redecode(t, newTestReply(t, p)).(*QueryReply)
	}

	plain := reply(func(*ReplyParams) {})
	assert.Equal(t, 3, plain.QualityOfService(open))
	assert.Equal(t, 3, plain.QualityOfService(LocalHost{Addr: publicAddr}))

	busy := reply(func(p *ReplyParams) { p.Busy = true })
	assert.Equal(t, 1, busy.QualityOfService(open))

	pushed := reply(func(p *ReplyParams) { p.NeedsPush = true })
	assert.Equal(t, -1, pushed.QualityOfService(closed))
	assert.Equal(t, 2, pushed.QualityOfService(open))

	busyPushed := reply(func(p *ReplyParams) { p.NeedsPush = true; p.Busy = true })
	assert.Equal(t, 0, busyPushed.QualityOfService(open))

	proxied := reply(func(p *ReplyParams) {
		p.NeedsPush = true
		p.Proxies = []netutil.Endpoint{{Addr: otherAddr, Port: 1}, {Addr: otherAddr, Port: 2}}
	})
	assert.Equal(t, 3, proxied.QualityOfService(open))

	fwt := reply(func(p *ReplyParams) { p.NeedsPush = true; p.SupportsFWTransfer = true })
	assert.Equal(t, -1, fwt.QualityOfService(closed))
	assert.Equal(t, 3, fwt.QualityOfService(LocalHost{CanDoFWT: true}))

	bare := redecode(t, newTestReply(t, baseReply(testResponses(t, 1)...))).(*QueryReply)
	assert.Equal(t, 0, bare.QualityOfService(open))
	assert.Equal(t, 0, bare.QualityOfService(closed))
}
