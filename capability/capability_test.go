package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantAndConsumeOnce(t *testing.T) {
	a := NewAuthority([]byte("test-key"))
	cap, err := a.GrantKick("#test", "UID001ALI")
	require.NoError(t, err)
	assert.Equal(t, KindKick, cap.Kind())
	assert.Equal(t, "#test", cap.Scope())

	require.NoError(t, a.Consume(cap, KindKick, "#test"))

	// second consume of the same grant (even via a copy) fails.
	copyOfCap := cap
	err = a.Consume(copyOfCap, KindKick, "#test")
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestConsumeRejectsWrongKindOrScope(t *testing.T) {
	a := NewAuthority([]byte("test-key"))
	cap, err := a.GrantBan("#test", "UID001ALI")
	require.NoError(t, err)

	err = a.Consume(cap, KindKick, "#test")
	assert.ErrorIs(t, err, ErrWrongKind)

	cap2, err := a.GrantBan("#test", "UID001ALI")
	require.NoError(t, err)
	err = a.Consume(cap2, KindBan, "#other")
	assert.ErrorIs(t, err, ErrWrongScope)
}

func TestConsumeRejectsForeignAuthority(t *testing.T) {
	a := NewAuthority([]byte("key-a"))
	b := NewAuthority([]byte("key-b"))
	cap, err := a.GrantKill("UID001ALI")
	require.NoError(t, err)

	err = b.Consume(cap, KindKill, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestZeroValueCapIsNeverValid(t *testing.T) {
	a := NewAuthority([]byte("test-key"))
	var zero Cap
	err := a.Consume(zero, KindKick, "#test")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
