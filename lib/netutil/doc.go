// Package netutil holds the address rules and packed address formats shared
// by the Gnutella message codecs: port and IPv4 validity, private address
// classification, 6-byte IP:port entries, the BitNumbers bitmap that flags
// TLS-capable entries and the newline separated host cache list.
package netutil
