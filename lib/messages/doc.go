// Package messages encodes and decodes Gnutella messages.
//
// Every message is a 23 byte header followed by a payload:
//
//	+----+----+----+----+----+----+----+----+
//	|              GUID (16 bytes)          |
//	+----+----+----+----+----+----+----+----+
//	|func| ttl|hops| length (LE4)      |
//	+----+----+----+----+----+----+----+
//	|           payload (length bytes)      |
//	+----+----+----+----+----+----+----+----+
//
// The Envelope carries the header fields. TTL, hops and priority change as a
// message is routed; the payload bytes never do. Per-type messages (Ping,
// Pong, Push, Query, QueryReply) embed an Envelope and derive their fields
// from the payload.
//
// Inbound messages come from a Factory, which reads one framed message from a
// stream, applies the hop budget and hands the payload to the decoder
// registered for the function byte. Errors are of two kinds. ErrBadPacket
// means the message is dropped and the connection stays up. ErrTransport
// means the stream can no longer be trusted and must be closed.
package messages
