package messages

import (
	"errors"

	"github.com/samber/oops"
)

// BadPacketError is returned for a message that is dropped without closing
// the connection. It matches ErrBadPacket.
type BadPacketError struct {
	Function byte
	Reason   string
	Err      error
}

func (e *BadPacketError) Error() string {
	return "bad packet (" + FunctionName(e.Function) + ", " + e.Reason + "): " + e.Err.Error()
}

func (e *BadPacketError) Unwrap() []error {
	return []error{ErrBadPacket, e.Err}
}

func badPacket(function byte, reason string, err error) error {
	return &BadPacketError{Function: function, Reason: reason, Err: err}
}

func badPacketf(function byte, reason, format string, args ...interface{}) error {
	return badPacket(function, reason, oops.Errorf(format, args...))
}

// TransportError is returned when the stream is unusable. It matches
// ErrTransport.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	return "transport failure (" + e.Reason + "): " + e.Err.Error()
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

func transportError(reason string, err error) error {
	return &TransportError{Reason: reason, Err: err}
}

// IsBadPacket reports whether err means drop the message and keep reading.
func IsBadPacket(err error) bool {
	return errors.Is(err, ErrBadPacket)
}

// IsFatal reports whether err means close the connection.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransport)
}

// Reason returns the metric label carried by a BadPacketError or
// TransportError, or "" for any other error.
func Reason(err error) string {
	var bp *BadPacketError
	if errors.As(err, &bp) {
		return bp.Reason
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ""
}
