package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrationCompletesOnNickThenUser(t *testing.T) {
	s := New()
	assert.False(t, s.SetNick("alice"))
	assert.Equal(t, StateUnregistered, s.State())
	assert.True(t, s.SetUser("alice", "Alice A"))
	assert.Equal(t, StateRegistered, s.State())
}

func TestCapNegotiationPausesRegistration(t *testing.T) {
	s := New()
	s.BeginCapNegotiation()
	assert.Equal(t, StateNegotiating, s.State())

	s.SetNick("bob")
	assert.False(t, s.SetUser("bob", "Bob B"))
	assert.Equal(t, StateNegotiating, s.State())

	assert.True(t, s.EndCapNegotiation())
	assert.Equal(t, StateRegistered, s.State())
}

func TestTerminateIsSticky(t *testing.T) {
	s := New()
	s.Terminate()
	assert.False(t, s.SetNick("x"))
	assert.False(t, s.SetUser("x", "X"))
	assert.Equal(t, StateTerminated, s.State())
}

func TestSASLBufferCapEnforced(t *testing.T) {
	s := New()
	s.BeginSASL("PLAIN")
	require := assert.New(t)
	require.NoError(s.AppendSASLChunk(make([]byte, MaxSASLBufferBytes)))
	require.Error(s.AppendSASLChunk([]byte("x")))
}

func TestSASLPayloadClearedAfterTake(t *testing.T) {
	s := New()
	s.BeginSASL("PLAIN")
	assert.NoError(t, s.AppendSASLChunk([]byte("\x00alice\x00hunter2")))
	payload := s.TakeSASLPayload()
	assert.Equal(t, "\x00alice\x00hunter2", string(payload))

	second := s.TakeSASLPayload()
	assert.Empty(t, second)
}

func TestWebIRCTrust(t *testing.T) {
	s := New()
	s.TrustWebIRC("203.0.113.5", "gateway.example")
	reg := s.Registration()
	assert.True(t, reg.WebIRCTrusted)
	assert.Equal(t, "203.0.113.5", reg.WebIRCRealIP)
}
