package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct{}

func (fakeSender) Send(line []byte) SendResult { return SendOK }

type fakeChannel struct{ name string }

func (c fakeChannel) Name() string { return c.name }

func TestRegisterUserClaimsNick(t *testing.T) {
	m := NewMatrix()
	u1 := NewUser("000AAAAAA", "000", "alice", "a", "Alice", "host", "cloak", fakeSender{})
	require.NoError(t, m.RegisterUser(u1))

	u2 := NewUser("000AAAAAB", "000", "Alice", "a", "Alice2", "host", "cloak", fakeSender{})
	assert.ErrorIs(t, m.RegisterUser(u2), ErrNickInUse)
}

func TestRenameUserMovesIndex(t *testing.T) {
	m := NewMatrix()
	u := NewUser("000AAAAAA", "000", "alice", "a", "Alice", "host", "cloak", fakeSender{})
	require.NoError(t, m.RegisterUser(u))

	require.NoError(t, m.RenameUser(u.UID, "bob"))
	assert.False(t, m.NickInUse("alice"))
	got, ok := m.UserByNick("bob")
	require.True(t, ok)
	assert.Equal(t, u.UID, got.UID)
}

func TestRenameCaseOnlyKeepsClaim(t *testing.T) {
	m := NewMatrix()
	u := NewUser("000AAAAAA", "000", "alice", "a", "Alice", "host", "cloak", fakeSender{})
	require.NoError(t, m.RegisterUser(u))

	require.NoError(t, m.RenameUser(u.UID, "Alice"))
	got, ok := m.UserByNick("ALICE")
	require.True(t, ok)
	assert.Equal(t, "Alice", got.Nick())
}

func TestRemoveUserReleasesNick(t *testing.T) {
	m := NewMatrix()
	u := NewUser("000AAAAAA", "000", "alice", "a", "Alice", "host", "cloak", fakeSender{})
	require.NoError(t, m.RegisterUser(u))

	m.RemoveUser(u.UID)
	assert.False(t, m.NickInUse("alice"))
	_, ok := m.UserByUID(u.UID)
	assert.False(t, ok)
}

// Property 6 (§8): the nickname index and UID index always agree, even
// under concurrent register/rename/remove churn on disjoint nicks.
func TestIndexesAgreeUnderConcurrency(t *testing.T) {
	m := NewMatrix()
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("000%06d", i)
			nick := fmt.Sprintf("user%d", i)
			u := NewUser(uid, "000", nick, "u", "U", "host", "cloak", fakeSender{})
			if err := m.RegisterUser(u); err != nil {
				return
			}
			_ = m.RenameUser(uid, nick+"x")
		}(i)
	}
	wg.Wait()

	for _, u := range m.AllUsers() {
		got, ok := m.UserByNick(u.Nick())
		assert.True(t, ok)
		assert.Equal(t, u.UID, got.UID)
	}
	assert.Equal(t, m.UserCount(), len(m.AllUsers()))
}

func TestChannelRegistration(t *testing.T) {
	m := NewMatrix()
	require.NoError(t, m.RegisterChannel(fakeChannel{"#general"}))
	assert.ErrorIs(t, m.RegisterChannel(fakeChannel{"#GENERAL"}), ErrChanExists)

	ch, ok := m.ChannelByName("#General")
	require.True(t, ok)
	assert.Equal(t, "#general", ch.Name())

	m.RemoveChannel("#general")
	_, ok = m.ChannelByName("#general")
	assert.False(t, ok)
}
