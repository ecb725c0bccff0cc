package messages

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
)

// XML_DECLARATION opens every aggregated document.
const XML_DECLARATION = `<?xml version="1.0"?>`

type xmlGroup struct {
	root string
	body strings.Builder
}

// AggregateXML merges the metadata documents of responses into one document
// per root element. Each top-level child is tagged with index, the position
// of its response in responses, so receivers can hand the metadata back to
// the right result. Empty and malformed documents are skipped.
func AggregateXML(responses []*Response) string {
	var groups []*xmlGroup
	byRoot := make(map[string]*xmlGroup)
	for i, r := range responses {
		if r == nil || strings.TrimSpace(r.XML) == "" {
			continue
		}
		root, body, err := indexXML(r.XML, i)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":   "messages.AggregateXML",
				"name": r.Name,
			}).WithError(err).Debug("skipping_malformed_xml")
			continue
		}
		g, ok := byRoot[root]
		if !ok {
			g = &xmlGroup{root: root}
			byRoot[root] = g
			groups = append(groups, g)
		}
		g.body.WriteString(body)
	}
	var b strings.Builder
	for _, g := range groups {
		b.WriteString(XML_DECLARATION)
		b.WriteString(g.root)
		b.WriteString(g.body.String())
		b.WriteString("</")
		b.WriteString(rootName(g.root))
		b.WriteString(">")
	}
	return b.String()
}

// rootName returns the element name of an opening tag.
func rootName(open string) string {
	name := strings.TrimPrefix(open, "<")
	if i := strings.IndexAny(name, " >"); i >= 0 {
		name = name[:i]
	}
	return name
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func writeStart(b *strings.Builder, e xml.StartElement) {
	b.WriteString("<")
	b.WriteString(qualified(e.Name))
	for _, a := range e.Attr {
		b.WriteString(" ")
		b.WriteString(qualified(a.Name))
		b.WriteString(`="`)
		xml.EscapeText(b, []byte(a.Value))
		b.WriteString(`"`)
	}
	b.WriteString(">")
}

// indexXML returns the opening root tag of doc and its children, with an
// index attribute set on every top-level child.
func indexXML(doc string, index int) (string, string, error) {
	d := xml.NewDecoder(strings.NewReader(doc))
	var root, body strings.Builder
	depth := 0
	closed := false
	for !closed {
		tok, err := d.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", oops.Wrapf(err, "reading xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch depth {
			case 0:
				if root.Len() > 0 {
					return "", "", oops.Errorf("second root element %s", qualified(t.Name))
				}
				writeStart(&root, t)
			case 1:
				attrs := make([]xml.Attr, 0, len(t.Attr)+1)
				for _, a := range t.Attr {
					if a.Name.Space == "" && a.Name.Local == "index" {
						continue
					}
					attrs = append(attrs, a)
				}
				t.Attr = append(attrs, xml.Attr{Name: xml.Name{Local: "index"}, Value: strconv.Itoa(index)})
				writeStart(&body, t)
			default:
				writeStart(&body, t)
			}
			depth++
		case xml.EndElement:
			depth--
			if depth < 0 {
				return "", "", oops.Errorf("unbalanced </%s>", qualified(t.Name))
			}
			if depth == 0 {
				closed = true
				continue
			}
			body.WriteString("</")
			body.WriteString(qualified(t.Name))
			body.WriteString(">")
		case xml.CharData:
			if depth > 0 {
				xml.EscapeText(&body, t)
			}
		}
	}
	if root.Len() == 0 || !closed {
		return "", "", oops.Errorf("no complete root element")
	}
	return root.String(), body.String(), nil
}

// SplitResponses cuts responses into bundles of at most perReply.
func SplitResponses(responses []*Response, perReply int) [][]*Response {
	if perReply <= 0 || len(responses) <= perReply {
		return [][]*Response{responses}
	}
	var out [][]*Response
	for i := 0; i < len(responses); i += perReply {
		out = append(out, responses[i:min(i+perReply, len(responses))])
	}
	return out
}

func halve(responses []*Response) ([]*Response, []*Response) {
	mid := len(responses) / 2
	return responses[:mid], responses[mid:]
}

// NewQueryReplies packs responses into as many replies as needed. Each
// bundle of perReply responses whose encoded XML exceeds XML_MAX_SIZE is
// halved until it fits. A single response whose XML still does not fit is
// sent without XML. Zero perReply means the configured default.
func NewQueryReplies(s *Settings, tmpl ReplyParams, responses []*Response, perReply int) ([]*QueryReply, error) {
	if len(responses) == 0 {
		return nil, nil
	}
	if perReply <= 0 {
		perReply = s.PerReply
	}
	var replies []*QueryReply
	emit := func(bundle []*Response, xml []byte) error {
		p := tmpl
		p.Responses = bundle
		p.XML = xml
		qr, err := NewQueryReply(s, p)
		if err != nil {
			return err
		}
		replies = append(replies, qr)
		return nil
	}
	for _, bundle := range SplitResponses(responses, perReply) {
		queue := [][]*Response{bundle}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			xml, err := CompressXML(AggregateXML(cur))
			if err != nil {
				return nil, oops.Wrapf(err, "encoding xml for %d responses", len(cur))
			}
			if len(xml) > XML_MAX_SIZE {
				if len(cur) > 1 {
					a, b := halve(cur)
					queue = append(queue, a, b)
					continue
				}
				log.WithFields(logger.Fields{
					"at":   "messages.NewQueryReplies",
					"name": cur[0].Name,
					"xml":  len(xml),
				}).Warn("dropping_oversized_xml")
				xml = nil
			}
			if err := emit(cur, xml); err != nil {
				return nil, err
			}
		}
	}
	return replies, nil
}

// RepliesTo answers q. TTL and GUID come from the query; a reply to a
// multicast query that travelled one hop is marked as such.
func RepliesTo(s *Settings, q *Query, tmpl ReplyParams, responses []*Response) ([]*QueryReply, error) {
	tmpl.GUID = q.GUID()
	tmpl.MulticastReply = q.IsMulticast() && q.TTL()+q.Hops() == 1
	if tmpl.MulticastReply {
		tmpl.TTL = 1
	} else {
		tmpl.TTL = min(q.Hops()+1, MAX_TTL)
	}
	tmpl.SupportsFWTransfer = tmpl.SupportsFWTransfer && q.CanDoFirewalledTransfer()
	if q.DesiresOutOfBandRepliesV3() && len(tmpl.SecurityToken) == 0 {
		log.WithFields(logger.Fields{
			"at":   "messages.RepliesTo",
			"guid": q.GUID().String(),
		}).Debug("oob_reply_without_token")
	}
	return NewQueryReplies(s, tmpl, responses, 0)
}
