package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerion-net/ircd/crdt"
	"github.com/nerion-net/ircd/state"
)

const (
	assertTimeout = 2 * time.Second
	assertTick    = 10 * time.Millisecond
)

type recordingSender struct {
	lines [][]byte
}

func (r *recordingSender) Send(line []byte) state.SendResult {
	r.lines = append(r.lines, line)
	return state.SendOK
}

func newTestUser(uid, nick string) (*state.User, *recordingSender) {
	s := &recordingSender{}
	u := state.NewUser(uid, uid[:3], nick, "u", "Real Name", "host.example", "cloak.example", s)
	return u, s
}

func TestJoinFirstMemberGetsOp(t *testing.T) {
	ch := New("#test")
	defer ch.Stop()

	alice, _ := newTestUser("000AAAAAA", "alice")
	res := ch.Join(alice, "")
	require.True(t, res.OK)

	flags, ok := ch.MemberFlags(alice.UID)
	require.True(t, ok)
	assert.NotZero(t, flags&PrefixOp)
}

func TestJoinRejectsBanned(t *testing.T) {
	ch := New("#test")
	defer ch.Stop()

	op, _ := newTestUser("000AAAAAA", "op")
	require.True(t, ch.Join(op, "").OK)

	victim, _ := newTestUser("000AAAAAB", "victim")
	ch.ApplyModes([]Delta{{Add: true, Letter: 'b', Arg: "cloak.example"}}, false)

	res := ch.Join(victim, "")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrBanned)
}

func TestJoinRejectsBadKey(t *testing.T) {
	ch := New("#test")
	defer ch.Stop()

	op, _ := newTestUser("000AAAAAA", "op")
	require.True(t, ch.Join(op, "").OK)
	ch.ApplyModes([]Delta{{Add: true, Letter: 'k', Arg: "secret"}}, false)

	second, _ := newTestUser("000AAAAAB", "second")
	res := ch.Join(second, "wrong")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrBadKey)

	res = ch.Join(second, "secret")
	assert.True(t, res.OK)
}

func TestPartRemovesMember(t *testing.T) {
	ch := New("#test")
	defer ch.Stop()

	alice, _ := newTestUser("000AAAAAA", "alice")
	require.True(t, ch.Join(alice, "").OK)
	bob, bobSender := newTestUser("000AAAAAB", "bob")
	require.True(t, ch.Join(bob, "").OK)

	ch.Part(alice.UID, "goodbye")
	assert.Eventually(t, func() bool { return ch.MemberCount() == 1 }, assertTimeout, assertTick)
	assert.NotEmpty(t, bobSender.lines)
}

func TestKickAppliesCooldown(t *testing.T) {
	ch := New("#test")
	defer ch.Stop()

	op, _ := newTestUser("000AAAAAA", "op")
	require.True(t, ch.Join(op, "").OK)
	target, _ := newTestUser("000AAAAAB", "target")
	require.True(t, ch.Join(target, "").OK)

	ch.Kick(op.UID, "op", "u", "host", target.UID, "bye")
	assert.Eventually(t, func() bool { return ch.MemberCount() == 1 }, assertTimeout, assertTick)

	res := ch.Join(target, "")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrRecentKick)
}

func TestApplyModesCoalescesAndRejectsUnknownTarget(t *testing.T) {
	ch := New("#test")
	defer ch.Stop()

	op, _ := newTestUser("000AAAAAA", "op")
	require.True(t, ch.Join(op, "").OK)

	deltas := ch.ApplyModes([]Delta{
		{Add: true, Letter: 'n'},
		{Add: true, Letter: 'v', Arg: "nosuchnick"},
	}, false)

	require.Len(t, deltas, 2)
	assert.False(t, deltas[0].Rejected)
	assert.True(t, deltas[1].Rejected)
}

func TestSetTopicLWWKeepsNewerTimestamp(t *testing.T) {
	ch := New("#test")
	defer ch.Stop()

	clock := crdt.NewClock("AAA")
	ts1 := clock.Tick()
	ts2 := clock.Tick()

	assert.True(t, ch.SetTopic("first", "alice", ts1))
	assert.True(t, ch.SetTopic("second", "bob", ts2))
	assert.False(t, ch.SetTopic("stale", "eve", ts1))

	text, setter, has := ch.Topic()
	assert.True(t, has)
	assert.Equal(t, "second", text)
	assert.Equal(t, "bob", setter)
}

func TestInviteBypassesInviteOnly(t *testing.T) {
	ch := New("#test")
	defer ch.Stop()

	op, _ := newTestUser("000AAAAAA", "op")
	require.True(t, ch.Join(op, "").OK)
	ch.ApplyModes([]Delta{{Add: true, Letter: 'i'}}, false)

	guest, _ := newTestUser("000AAAAAB", "guest")
	res := ch.Join(guest, "")
	require.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrInviteOnly)

	ch.Invite("op!u@host", "guest")
	res = ch.Join(guest, "")
	assert.True(t, res.OK)
}
