package message

import "bytes"

// Protocol classifies the first line of a freshly accepted connection
// so the listener can reject obviously misdialed traffic (an HTTP
// health-checker, an SSH client, a TLS ClientHello hitting the
// plaintext port) with a synthetic ERROR instead of waiting out a
// registration timeout.
type Protocol int

const (
	ProtocolIRC Protocol = iota
	ProtocolHTTP
	ProtocolSMTP
	ProtocolSSH
	ProtocolTLSClientHello
	ProtocolTelnet
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "HTTP"
	case ProtocolSMTP:
		return "SMTP"
	case ProtocolSSH:
		return "SSH"
	case ProtocolTLSClientHello:
		return "TLS-ClientHello"
	case ProtocolTelnet:
		return "Telnet"
	default:
		return "IRC"
	}
}

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("HEAD "), []byte("PUT "),
	[]byte("OPTIONS "), []byte("CONNECT "), []byte("DELETE "), []byte("PATCH "),
}

// SniffProtocol inspects the first few bytes of a connection (before
// any line framing is known to apply) and guesses what protocol they
// belong to. first should be at least 3 bytes when available; a prefix
// too short to match any signature is classified as IRC (the common
// case: a short NICK or PASS line), though a single leading 0x16 byte
// is already classified as a TLS ClientHello.
func SniffProtocol(first []byte) Protocol {
	if len(first) >= 3 && bytes.Equal(first[:3], []byte("SSH")) {
		return ProtocolSSH
	}
	if len(first) >= 1 && first[0] == 0x16 {
		// TLS record type 0x16 (handshake); byte 1-2 are the version.
		return ProtocolTLSClientHello
	}
	for _, m := range httpMethods {
		if bytes.HasPrefix(first, m) {
			return ProtocolHTTP
		}
	}
	if bytes.HasPrefix(first, []byte("HELO")) || bytes.HasPrefix(first, []byte("EHLO")) {
		return ProtocolSMTP
	}
	if len(first) >= 2 && first[0] == 0xFF && (first[1] >= 0xF0 && first[1] <= 0xFF) {
		return ProtocolTelnet
	}
	return ProtocolIRC
}
