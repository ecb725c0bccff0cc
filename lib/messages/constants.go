package messages

import (
	"errors"

	"github.com/go-gnutella/go-gnutella/lib/util/logger"
)

var log = logger.GetLogger()

// Function ids.
const (
	FUNC_PING           byte = 0x00
	FUNC_PING_REPLY     byte = 0x01
	FUNC_ROUTE_TABLE    byte = 0x30
	FUNC_VENDOR         byte = 0x31
	FUNC_VENDOR_STABLE  byte = 0x32
	FUNC_PUSH           byte = 0x40
	FUNC_UDP_CONNECTION byte = 0x41
	FUNC_QUERY          byte = 0x80
	FUNC_QUERY_REPLY    byte = 0x81
)

const (
	HEADER_SIZE = 23
	// MAX_TTL is the largest TTL a signed header byte can carry.
	MAX_TTL = 127
)

// FunctionName returns the label used in logs and metrics.
func FunctionName(function byte) string {
	switch function {
	case FUNC_PING:
		return "ping"
	case FUNC_PING_REPLY:
		return "pong"
	case FUNC_ROUTE_TABLE:
		return "route_table"
	case FUNC_VENDOR:
		return "vendor"
	case FUNC_VENDOR_STABLE:
		return "vendor_stable"
	case FUNC_PUSH:
		return "push"
	case FUNC_UDP_CONNECTION:
		return "udp_connection"
	case FUNC_QUERY:
		return "query"
	case FUNC_QUERY_REPLY:
		return "query_reply"
	default:
		return "unknown"
	}
}

// Network is where a message came from.
type Network int

const (
	NETWORK_UNKNOWN Network = iota
	NETWORK_TCP
	NETWORK_UDP
	NETWORK_MULTICAST
)

func (n Network) String() string {
	switch n {
	case NETWORK_TCP:
		return "tcp"
	case NETWORK_UDP:
		return "udp"
	case NETWORK_MULTICAST:
		return "multicast"
	default:
		return "unknown"
	}
}

// Sentinel errors. Match with errors.Is.
var (
	// ErrBadPacket marks a message that must be dropped. The connection
	// survives.
	ErrBadPacket = errors.New("bad packet")
	// ErrTransport marks a read that broke the stream. The connection must be
	// closed.
	ErrTransport = errors.New("transport failure")

	ErrInvalidTTL     = errors.New("invalid ttl")
	ErrInvalidHops    = errors.New("invalid hops")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidPort    = errors.New("invalid port")
	ErrInvalidQuery   = errors.New("invalid query")
	ErrInvalidReply   = errors.New("invalid query reply")
	ErrTooManyResults = errors.New("too many results")
	ErrNoQHD          = errors.New("no usable query hit descriptor")
	ErrUndefinedFlag  = errors.New("flag not defined by sender")
)

// Bad packet reasons, used as metric labels.
const (
	REASON_UNKNOWN_FUNCTION = "unknown_function"
	REASON_TOO_MANY_HOPS    = "too_many_hops"
	REASON_NEGATIVE_TTL     = "negative_ttl"
	REASON_NEGATIVE_HOPS    = "negative_hops"
	REASON_TOO_SHORT        = "too_short"
	REASON_INVALID_PORT     = "invalid_port"
	REASON_INVALID_ADDRESS  = "invalid_address"
	REASON_INVALID_PAYLOAD  = "invalid_payload"
	REASON_INVALID_QUERY    = "invalid_query"
	REASON_ILLEGAL_CHARS    = "illegal_chars"
	REASON_EMPTY_QUERY      = "empty_query"
	REASON_TOO_MANY_RESULTS = "too_many_results"
)

// Fatal read reasons.
const (
	REASON_SHORT_HEADER  = "short_header"
	REASON_SHORT_PAYLOAD = "short_payload"
	REASON_BAD_LENGTH    = "bad_length"
)
