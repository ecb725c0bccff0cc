package messages

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"

	"github.com/samber/oops"
)

// XML block prefixes. Documents shorter than XML_COMPRESS_THRESHOLD travel
// as plain text.
const (
	XML_PREFIX_PLAIN     = "{}"
	XML_PREFIX_PLAINTEXT = "{plaintext}"
	XML_PREFIX_DEFLATE   = "{deflate}"
	XML_PREFIX_GZIP      = "{gzip}"

	XML_COMPRESS_THRESHOLD = 1000
	// XML_MAX_SIZE is the largest XML block a reply may carry.
	XML_MAX_SIZE = 32768
	// MAX_INFLATED_XML bounds decompression of untrusted blocks.
	MAX_INFLATED_XML = 1 << 20
)

// CompressXML encodes xml for the XML block of a query reply.
func CompressXML(xml string) ([]byte, error) {
	if xml == "" {
		return nil, nil
	}
	if len(xml) < XML_COMPRESS_THRESHOLD {
		return append([]byte(XML_PREFIX_PLAIN), xml...), nil
	}
	var buf bytes.Buffer
	buf.WriteString(XML_PREFIX_DEFLATE)
	w := zlib.NewWriter(&buf)
	if _, err := io.WriteString(w, xml); err != nil {
		return nil, oops.Wrapf(err, "deflating xml")
	}
	if err := w.Close(); err != nil {
		return nil, oops.Wrapf(err, "deflating xml")
	}
	return buf.Bytes(), nil
}

// DecompressXML reverses CompressXML. Blocks with no known prefix are
// returned as they are.
func DecompressXML(b []byte) (string, error) {
	switch {
	case len(b) == 0:
		return "", nil
	case bytes.HasPrefix(b, []byte(XML_PREFIX_PLAIN)):
		return string(b[len(XML_PREFIX_PLAIN):]), nil
	case bytes.HasPrefix(b, []byte(XML_PREFIX_PLAINTEXT)):
		return string(b[len(XML_PREFIX_PLAINTEXT):]), nil
	case bytes.HasPrefix(b, []byte(XML_PREFIX_DEFLATE)):
		r, err := zlib.NewReader(bytes.NewReader(b[len(XML_PREFIX_DEFLATE):]))
		if err != nil {
			return "", oops.Wrapf(ErrInvalidReply, "bad deflated xml: %v", err)
		}
		defer r.Close()
		return readInflated(r)
	case bytes.HasPrefix(b, []byte(XML_PREFIX_GZIP)):
		r, err := gzip.NewReader(bytes.NewReader(b[len(XML_PREFIX_GZIP):]))
		if err != nil {
			return "", oops.Wrapf(ErrInvalidReply, "bad gzipped xml: %v", err)
		}
		defer r.Close()
		return readInflated(r)
	default:
		return string(b), nil
	}
}

func readInflated(r io.Reader) (string, error) {
	out, err := io.ReadAll(io.LimitReader(r, MAX_INFLATED_XML+1))
	if err != nil {
		return "", oops.Wrapf(ErrInvalidReply, "inflating xml: %v", err)
	}
	if len(out) > MAX_INFLATED_XML {
		return "", oops.Wrapf(ErrInvalidReply, "xml inflates past %d bytes", MAX_INFLATED_XML)
	}
	return string(out), nil
}
