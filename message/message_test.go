package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []string{
		"NICK alice\r\n",
		"USER alice 0 * :Alice Example\r\n",
		":alice!~alice@host PRIVMSG #test :hello there\r\n",
		"@time=2021-01-01T00:00:00.000Z;msgid=abc PRIVMSG #test :tagged\r\n",
		"PING :server.example\r\n",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			consumed, ref, err := Decode([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, len(raw), consumed)
			m, err := ref.Materialize()
			require.NoError(t, err)

			out, err := Encode(m)
			require.NoError(t, err)

			_, ref2, err := Decode(out)
			require.NoError(t, err)
			m2, err := ref2.Materialize()
			require.NoError(t, err)

			assert.Equal(t, m.Command, m2.Command)
			assert.Equal(t, m.Params, m2.Params)
		})
	}
}

func TestTagEscapeRoundTrip(t *testing.T) {
	values := []string{
		"hello world",
		"a;b\\c\rd\ne",
		"",
		"no-special-chars",
		`\`,
	}
	for _, v := range values {
		assert.Equal(t, v, UnescapeTagValue(EscapeTagValue(v)), "value=%q", v)
	}
}

func TestUnescapeDropsUnknownEscapeBackslash(t *testing.T) {
	assert.Equal(t, "x", UnescapeTagValue(`\x`))
	assert.Equal(t, "a", UnescapeTagValue(`a\`))
}

func TestCaseFold(t *testing.T) {
	assert.Equal(t, "hello{}|^world", CaseFold("HELLO[]\\~WORLD"))
	assert.True(t, CaseFoldEqual("Alice", "alice"))
	assert.False(t, CaseFoldEqual("Alice", "bob"))
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	line := "PRIVMSG #test :" + strings.Repeat("a", 600) + "\r\n"
	_, _, err := Decode([]byte(line))
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ErrKindMessageTooLong, de.Kind)
}

func TestDecodeBodyBoundary510511512(t *testing.T) {
	// exactly 510 body bytes before CRLF: must be accepted (512 total).
	body := "PRIVMSG a :" + strings.Repeat("x", 510-len("PRIVMSG a :"))
	require.Len(t, body, 510)
	_, _, err := Decode([]byte(body + "\r\n"))
	assert.NoError(t, err)

	// 511 body bytes plus CRLF is 513 on the wire: over the limit.
	body511 := body + "x"
	_, _, err = Decode([]byte(body511 + "\r\n"))
	assert.Error(t, err)

	body512 := body511 + "x"
	_, _, err = Decode([]byte(body512 + "\r\n"))
	require.Error(t, err)
}

func TestDecodeRejectsBareBEL(t *testing.T) {
	_, _, err := Decode([]byte("PRIVMSG #test :hi\x07there\r\n"))
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ErrKindIllegalControlChar, de.Kind)
}

func TestDecodeNoCompleteLine(t *testing.T) {
	_, _, err := Decode([]byte("NICK alice"))
	assert.ErrorIs(t, err, ErrNoCompleteLine)
}

func TestDecodeAcceptsBareLF(t *testing.T) {
	_, ref, err := Decode([]byte("NICK alice\n"))
	require.NoError(t, err)
	m, err := ref.Materialize()
	require.NoError(t, err)
	assert.Equal(t, "NICK", m.Command)
	assert.Equal(t, []string{"alice"}, m.Params)
}

func TestSniffProtocol(t *testing.T) {
	assert.Equal(t, ProtocolIRC, SniffProtocol([]byte("NICK alice\r\n")))
	assert.Equal(t, ProtocolHTTP, SniffProtocol([]byte("GET / HTTP/1.1\r\n")))
	assert.Equal(t, ProtocolSSH, SniffProtocol([]byte("SSH-2.0-OpenSSH\r\n")))
	assert.Equal(t, ProtocolTLSClientHello, SniffProtocol([]byte{0x16, 0x03, 0x01}))
}

func TestParseTagsPreservesOrderAndMessageSet(t *testing.T) {
	raw := "@a=1;b=2;c=3 PRIVMSG #x :hi\r\n"
	_, ref, err := Decode([]byte(raw))
	require.NoError(t, err)
	m, err := ref.Materialize()
	require.NoError(t, err)
	require.Len(t, m.Tags, 3)
	assert.Equal(t, "a", m.Tags[0].Key)
	assert.Equal(t, "b", m.Tags[1].Key)
	assert.Equal(t, "c", m.Tags[2].Key)

	m.Set("b", "9")
	v, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, "9", v)
	assert.Len(t, m.Tags, 3) // overwritten in place, not appended
}
