package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerion-net/ircd/channel"
	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/session"
	"github.com/nerion-net/ircd/state"
)

type fakeDir struct {
	mu sync.Mutex
	m  map[string]*channel.Channel
}

func newFakeDir() *fakeDir { return &fakeDir{m: make(map[string]*channel.Channel)} }

func (d *fakeDir) GetOrCreate(name string) *channel.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.m[message.CaseFold(name)]; ok {
		return ch
	}
	ch := channel.New(name)
	d.m[message.CaseFold(name)] = ch
	return ch
}

func (d *fakeDir) Get(name string) (*channel.Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.m[message.CaseFold(name)]
	return ch, ok
}

type recordingSender struct{ lines [][]byte }

func (r *recordingSender) Send(line []byte) state.SendResult {
	r.lines = append(r.lines, line)
	return state.SendOK
}

func newCtx(uid, nick string, m *state.Matrix) (*Context, *recordingSender) {
	sender := &recordingSender{}
	u := state.NewUser(uid, uid[:3], nick, "u", "Real Name", "host", "cloak", sender)
	_ = m.RegisterUser(u)
	var replies []*message.Message
	ctx := &Context{
		ServerName: "irc.example.net",
		UID:        uid,
		Sess:       session.New(),
		Matrix:     m,
		Reply:      func(msg *message.Message) { replies = append(replies, msg) },
	}
	return ctx, sender
}

func TestHandleNICKRejectsDuplicateAndBadSyntax(t *testing.T) {
	m := state.NewMatrix()
	ctx, _ := newCtx("000AAAAAA", "alice", m)

	err := HandleNICK(ctx, &message.Message{Command: "NICK", Params: []string{"9bad"}})
	he, ok := err.(*HandlerErr)
	require.True(t, ok)
	assert.Equal(t, ErrErroneousNickname, he.Kind)

	other, _ := newCtx("000AAAAAB", "bob", m)
	_ = other
	err = HandleNICK(ctx, &message.Message{Command: "NICK", Params: []string{"bob"}})
	he, ok = err.(*HandlerErr)
	require.True(t, ok)
	assert.Equal(t, ErrNicknameInUse, he.Kind)
}

func TestHandleJOINAndPRIVMSGFlow(t *testing.T) {
	m := state.NewMatrix()
	dir := newFakeDir()

	alice, aliceSender := newCtx("000AAAAAA", "alice", m)
	bob, bobSender := newCtx("000AAAAAB", "bob", m)

	join := HandleJOIN(dir)
	require.NoError(t, join(alice, &message.Message{Command: "JOIN", Params: []string{"#test"}}))
	require.NoError(t, join(bob, &message.Message{Command: "JOIN", Params: []string{"#test"}}))

	msg := HandleMessageToTarget(dir, "PRIVMSG")
	require.NoError(t, msg(alice, &message.Message{Command: "PRIVMSG", Params: []string{"#test", "hello"}}))

	assert.NotEmpty(t, bobSender.lines)
	_ = aliceSender
}

func TestHandleMODEChannelRequiresOp(t *testing.T) {
	m := state.NewMatrix()
	dir := newFakeDir()

	alice, _ := newCtx("000AAAAAA", "alice", m)
	bob, _ := newCtx("000AAAAAB", "bob", m)

	join := HandleJOIN(dir)
	require.NoError(t, join(alice, &message.Message{Command: "JOIN", Params: []string{"#test"}}))
	require.NoError(t, join(bob, &message.Message{Command: "JOIN", Params: []string{"#test"}}))

	modeHandler := HandleMODE(dir)
	err := modeHandler(bob, &message.Message{Command: "MODE", Params: []string{"#test", "+n"}})
	he, ok := err.(*HandlerErr)
	require.True(t, ok)
	assert.Equal(t, ErrChanOpPrivsNeeded, he.Kind)

	require.NoError(t, modeHandler(alice, &message.Message{Command: "MODE", Params: []string{"#test", "+n"}}))
}

func TestRouterResolveRespectsState(t *testing.T) {
	r := New()
	r.PostRegistration["PRIVMSG"] = func(ctx *Context, cmd *message.Message) error { return nil }
	r.PreRegistration["NICK"] = func(ctx *Context, cmd *message.Message) error { return nil }

	_, err := r.Resolve(session.StateUnregistered, "PRIVMSG")
	require.NotNil(t, err)
	assert.Equal(t, ErrNotRegistered, err.Kind)

	h, err := r.Resolve(session.StateRegistered, "PRIVMSG")
	require.Nil(t, err)
	require.NotNil(t, h)
}
