package message

import "strings"

// EscapeTagValue applies the IRCv3 tag-value escape codec: backslash
// must be escaped first so later substitutions aren't themselves escaped.
func EscapeTagValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeTagValue reverses EscapeTagValue. Unknown escape sequences
// drop the backslash and keep the following byte; a trailing backslash
// with nothing after it is dropped entirely. Both rules make
// Unescape(Escape(v)) == v hold for every v, and also make Unescape
// tolerant of values produced by other implementations.
func UnescapeTagValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			b.WriteByte(v[i])
			continue
		}
		if i+1 >= len(v) {
			break // trailing backslash: dropped
		}
		i++
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i]) // unknown escape: drop the backslash
		}
	}
	return b.String()
}
