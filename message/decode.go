package message

import (
	"bytes"
	"unicode/utf8"
)

// MessageRef is a decoded but not-yet-parsed view of one line: Decode
// copies the line out of the caller's receive buffer (so callers are
// free to reuse or overwrite that buffer immediately), but defers the
// prefix/command/param/tag split until Materialize is called.
type MessageRef struct {
	raw     []byte // the full line, without the terminating CRLF/LF
	tagsEnd int     // index into raw where the tag blob ends (-1 if none)
}

// Materialize parses the view into an owning Message.
func (r MessageRef) Materialize() (*Message, error) {
	return parseLine(r.raw)
}

// Decode consumes the next complete CRLF- or LF-terminated line from
// buf and returns the number of bytes consumed, a view of it (backed by
// a private copy of the line), and any decode error. When the buffer holds no complete line yet it
// returns (0, MessageRef{}, ErrNoCompleteLine) and the caller should
// read more and retry.
//
// Two independent limits are enforced against the raw line before any
// parsing: the tag blob (if present) must be <= MaxTagBytes, excluding
// the leading '@' and the separator space, and the remaining body must
// be <= MaxBodyBytes including the terminating CRLF.
func Decode(buf []byte) (consumed int, ref MessageRef, err error) {
	nl := bytes.IndexByte(buf, '\n')
	if nl < 0 {
		if len(buf) > MaxBodyBytes+MaxTagBytes {
			return 0, MessageRef{}, &DecodeError{Kind: ErrKindMessageTooLong, Pos: len(buf)}
		}
		return 0, MessageRef{}, ErrNoCompleteLine
	}
	consumed = nl + 1
	line := buf[:nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	tagsEnd := -1
	body := line
	if len(line) > 0 && line[0] == '@' {
		sp := bytes.IndexByte(line, ' ')
		var tagBlob []byte
		if sp < 0 {
			tagBlob = line[1:]
			body = nil
		} else {
			tagBlob = line[1:sp]
			body = bytes.TrimLeft(line[sp:], " ")
		}
		if len(tagBlob) > MaxTagBytes {
			return consumed, MessageRef{}, &DecodeError{Kind: ErrKindTagsTooLong, Pos: len(tagBlob)}
		}
		tagsEnd = 1 + len(tagBlob)
	}

	// Body length is measured against the wire form (+2 for CRLF), per
	// the 512-byte RFC limit.
	if len(body)+2 > MaxBodyBytes {
		return consumed, MessageRef{}, &DecodeError{Kind: ErrKindMessageTooLong, Pos: len(body)}
	}

	contentStart := lastParamOffset(line)
	if pos, bad := firstIllegalControl(line[:contentStart], false); bad {
		return consumed, MessageRef{}, &DecodeError{Kind: ErrKindIllegalControlChar, Pos: pos}
	}
	if pos, bad := firstIllegalControl(line[contentStart:], true); bad {
		return consumed, MessageRef{}, &DecodeError{Kind: ErrKindIllegalControlChar, Pos: contentStart + pos}
	}
	if !utf8.Valid(line) {
		return consumed, MessageRef{}, &DecodeError{
			Kind:        ErrKindInvalidUTF8,
			Pos:         firstInvalidUTF8(line),
			CommandHint: commandHint(body),
		}
	}

	return consumed, MessageRef{raw: append([]byte(nil), line...), tagsEnd: tagsEnd}, nil
}

// isCTCPOrFormatting reports whether c is one of the mIRC-style text
// formatting codes or the CTCP delimiter: bold, color, reset,
// monospace, reverse, italic, strikethrough, underline, \x01. Per
// §4.1 these are permitted in message content (the trailing/last
// parameter of commands like PRIVMSG/NOTICE/TOPIC) but never in
// nicknames, channel names, or usernames.
func isCTCPOrFormatting(c byte) bool {
	switch c {
	case 0x01, 0x02, 0x03, 0x0F, 0x11, 0x16, 0x1D, 0x1E, 0x1F:
		return true
	}
	return false
}

// firstIllegalControl rejects BEL (0x07) and other C0 control characters
// besides the tab/space class; NUL is always illegal. CR/LF can't occur
// here because the line has already been split on them. allowFormatting
// additionally exempts the CTCP/formatting byte set from rejection, for
// scanning the content region of a line rather than its nick/channel/
// command fields.
func firstIllegalControl(line []byte, allowFormatting bool) (int, bool) {
	for i, c := range line {
		if allowFormatting && isCTCPOrFormatting(c) {
			continue
		}
		if c == 0x00 || c == 0x07 || (c < 0x20 && c != 0x09) {
			return i, true
		}
	}
	return 0, false
}

// lastParamOffset returns the byte offset within line where its last
// parameter begins — the content region where formatting codes and
// the CTCP delimiter are permitted (§4.1). line may still carry its
// leading tag blob and prefix; both are skipped over. If line has no
// parameters at all (just a command, or just tags/prefix), it returns
// len(line), so the whole line is scanned strictly.
//
// Every reslice below keeps rest a suffix of the original line, so
// len(line)-len(rest) is always a valid offset back into line without
// any separate index bookkeeping.
func lastParamOffset(line []byte) int {
	rest := line
	if len(rest) > 0 && rest[0] == '@' {
		sp := bytes.IndexByte(rest, ' ')
		if sp < 0 {
			return len(line)
		}
		rest = bytes.TrimLeft(rest[sp:], " ")
	}
	if len(rest) > 0 && rest[0] == ':' {
		sp := bytes.IndexByte(rest, ' ')
		if sp < 0 {
			return len(line)
		}
		rest = bytes.TrimLeft(rest[sp:], " ")
	}
	if len(rest) == 0 {
		return len(line)
	}
	sp := bytes.IndexByte(rest, ' ')
	if sp < 0 {
		return len(line) // command only, no params
	}
	rest = bytes.TrimLeft(rest[sp:], " ")

	last := len(line) - len(rest)
	for len(rest) > 0 {
		last = len(line) - len(rest)
		if rest[0] == ':' {
			break
		}
		sp := bytes.IndexByte(rest, ' ')
		if sp < 0 {
			break
		}
		rest = bytes.TrimLeft(rest[sp:], " ")
	}
	return last
}

func firstInvalidUTF8(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}

func commandHint(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	fields := bytes.Fields(body)
	if len(fields) == 0 {
		return ""
	}
	if fields[0][0] == ':' && len(fields) > 1 {
		return string(fields[1])
	}
	return string(fields[0])
}

// parseLine turns an already-validated raw line (no CRLF, within
// limits) into an owning Message.
func parseLine(raw []byte) (*Message, error) {
	m := &Message{}
	rest := raw

	if len(rest) > 0 && rest[0] == '@' {
		sp := bytes.IndexByte(rest, ' ')
		var blob []byte
		if sp < 0 {
			blob = rest[1:]
			rest = nil
		} else {
			blob = rest[1:sp]
			rest = bytes.TrimLeft(rest[sp:], " ")
		}
		m.Tags = parseTagBlob(blob)
	}

	if len(rest) > 0 && rest[0] == ':' {
		sp := bytes.IndexByte(rest, ' ')
		var prefixStr string
		if sp < 0 {
			prefixStr = string(rest[1:])
			rest = nil
		} else {
			prefixStr = string(rest[1:sp])
			rest = bytes.TrimLeft(rest[sp:], " ")
		}
		m.Prefix = parsePrefix(prefixStr)
	}

	rest = bytes.TrimLeft(rest, " ")
	if len(rest) == 0 {
		return m, nil
	}

	// command is the first space-delimited token
	sp := bytes.IndexByte(rest, ' ')
	if sp < 0 {
		m.Command = string(rest)
		return m, nil
	}
	m.Command = string(rest[:sp])
	rest = bytes.TrimLeft(rest[sp:], " ")

	for len(rest) > 0 {
		if rest[0] == ':' {
			m.Params = append(m.Params, string(rest[1:]))
			break
		}
		sp := bytes.IndexByte(rest, ' ')
		if sp < 0 {
			m.Params = append(m.Params, string(rest))
			break
		}
		m.Params = append(m.Params, string(rest[:sp]))
		rest = bytes.TrimLeft(rest[sp:], " ")
	}
	return m, nil
}

func parseTagBlob(blob []byte) []Tag {
	if len(blob) == 0 {
		return nil
	}
	parts := bytes.Split(blob, []byte{';'})
	tags := make([]Tag, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		eq := bytes.IndexByte(p, '=')
		if eq < 0 {
			tags = append(tags, Tag{Key: string(p)})
			continue
		}
		key := string(p[:eq])
		val := UnescapeTagValue(string(p[eq+1:]))
		tags = append(tags, Tag{Key: key, Value: val})
	}
	return tags
}

func parsePrefix(s string) *Prefix {
	p := &Prefix{}
	if at := indexByte(s, '@'); at >= 0 {
		p.Host = s[at+1:]
		s = s[:at]
	}
	if bang := indexByte(s, '!'); bang >= 0 {
		p.User = s[bang+1:]
		s = s[:bang]
	}
	p.Name = s
	return p
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
