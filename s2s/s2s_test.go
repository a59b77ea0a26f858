package s2s

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerion-net/ircd/channel"
	"github.com/nerion-net/ircd/crdt"
	"github.com/nerion-net/ircd/ircdlog"
	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/state"
)

// --- Topology cascade ---

func TestTopologyRemoveServerCascadesDescendants(t *testing.T) {
	topo := NewTopology("00A", "hub")
	require.NoError(t, topo.AddServer(ServerRecord{SID: "00B", Name: "leaf1", Hopcount: 1, ParentSID: "00A"}))
	require.NoError(t, topo.AddServer(ServerRecord{SID: "00C", Name: "leaf2", Hopcount: 2, ParentSID: "00B"}))
	require.NoError(t, topo.AddServer(ServerRecord{SID: "00D", Name: "unrelated", Hopcount: 1, ParentSID: "00A"}))

	removed := topo.RemoveServer("00B")
	assert.ElementsMatch(t, []string{"00B", "00C"}, removed)

	_, ok := topo.Server("00B")
	assert.False(t, ok)
	_, ok = topo.Server("00C")
	assert.False(t, ok)
	_, ok = topo.Server("00D")
	assert.True(t, ok, "server reachable through a different parent must survive")
}

func TestTopologyAddServerRejectsLocalAndDuplicate(t *testing.T) {
	topo := NewTopology("00A", "hub")
	assert.ErrorIs(t, topo.AddServer(ServerRecord{SID: "00A"}), ErrIsLocal)

	require.NoError(t, topo.AddServer(ServerRecord{SID: "00B", ParentSID: "00A"}))
	assert.ErrorIs(t, topo.AddServer(ServerRecord{SID: "00B", ParentSID: "00A"}), ErrServerExists)
}

// --- fake ChannelDirectory for Replicator tests ---

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

func (d *fakeDir) All() []*channel.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*channel.Channel, 0, len(d.m))
	for _, ch := range d.m {
		out = append(out, ch)
	}
	return out
}

func newTestReplicator(localSID string, dir *fakeDir) *Replicator {
	return NewReplicator(localSID, "test.local", "linkpass", state.NewMatrix(), dir, ircdlog.NewDiscard())
}

// --- UID / SJOIN burst application and idempotence ---

func TestApplyUIDRegistersRemoteUser(t *testing.T) {
	dir := newFakeDir()
	r := newTestReplicator("00A", dir)

	msg := &message.Message{
		Prefix:  &message.Prefix{Name: "00B"},
		Command: "UID",
		Params:  []string{"00BAAAAAA", "bob", "0", "bobuser", "host.example", "cloak.example", "*", "Bob Real Name"},
	}
	r.applyUID(nil, msg)

	u, ok := r.matrix.UserByUID("00BAAAAAA")
	require.True(t, ok)
	assert.Equal(t, "bob", u.Nick())
	assert.Equal(t, "00B", u.SID)
}

func TestApplyUIDTwiceIsIdempotent(t *testing.T) {
	dir := newFakeDir()
	r := newTestReplicator("00A", dir)

	msg := &message.Message{
		Prefix:  &message.Prefix{Name: "00B"},
		Command: "UID",
		Params:  []string{"00BAAAAAA", "bob", "0", "bobuser", "host.example", "cloak.example", "*", "Bob"},
	}
	r.applyUID(nil, msg)
	r.applyUID(nil, msg) // duplicate burst delivery must not error or duplicate the entry

	users := r.matrix.AllUsers()
	count := 0
	for _, u := range users {
		if u.UID == "00BAAAAAA" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestApplySJOINMergesMembership(t *testing.T) {
	dir := newFakeDir()
	r := newTestReplicator("00A", dir)

	msg := &message.Message{
		Command: "SJOIN",
		Params:  []string{"12345", "#general", "+nt", "@00BAAAAAA +00BAAAAAB 00BAAAAAC"},
	}
	r.applySJOIN(msg)

	ch, ok := dir.Get("#general")
	require.True(t, ok)
	defer ch.Stop()
	snap := ch.Snapshot()
	assert.Equal(t, 3, snap.Count)

	flags, ok := ch.MemberFlags("00BAAAAAA")
	require.True(t, ok)
	assert.NotZero(t, flags&channel.PrefixOp)
}

func TestApplySJOINTwiceConverges(t *testing.T) {
	dir := newFakeDir()
	r := newTestReplicator("00A", dir)

	msg := &message.Message{
		Command: "SJOIN",
		Params:  []string{"12345", "#general", "+nt", "@00BAAAAAA"},
	}
	r.applySJOIN(msg)
	r.applySJOIN(msg)

	ch, _ := dir.Get("#general")
	defer ch.Stop()
	assert.Equal(t, 1, ch.Snapshot().Count)
}

// --- TB / TMODE application ---

func TestApplyTBSetsTopic(t *testing.T) {
	dir := newFakeDir()
	r := newTestReplicator("00A", dir)
	ch := dir.GetOrCreate("#news")
	defer ch.Stop()

	ts := crdt.HLC{Physical: 1000, Logical: 0, SID: "00B"}
	msg := &message.Message{
		Command: "TB",
		Params:  []string{"#news", "1000.0.00B", "bob", "hello world"},
	}
	r.applyTB(msg)

	text, setter, has := ch.Topic()
	require.True(t, has)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "bob", setter)
	_ = ts
}

func TestParseTModeDeltas(t *testing.T) {
	deltas := parseTModeDeltas("+nt-s", nil)
	require.Len(t, deltas, 3)
	assert.Equal(t, byte('n'), deltas[0].Letter)
	assert.True(t, deltas[0].Add)
	assert.Equal(t, byte('t'), deltas[1].Letter)
	assert.True(t, deltas[1].Add)
	assert.Equal(t, byte('s'), deltas[2].Letter)
	assert.False(t, deltas[2].Add)
}

// --- LinkDown netsplit cascade ---

func TestLinkDownQuitsUsersFromRemovedServers(t *testing.T) {
	dir := newFakeDir()
	r := newTestReplicator("00A", dir)

	r.applyUID(nil, &message.Message{
		Prefix: &message.Prefix{Name: "00B"}, Command: "UID",
		Params: []string{"00BAAAAAA", "bob", "0", "bobuser", "host", "cloak", "*", "Bob"},
	})
	require.NoError(t, r.topo.AddServer(ServerRecord{SID: "00B", Name: "leaf", Hopcount: 1, ParentSID: "00A"}))

	ch := dir.GetOrCreate("#chat")
	defer ch.Stop()
	u, ok := r.matrix.UserByUID("00BAAAAAA")
	require.True(t, ok)
	res := ch.Join(u, "")
	require.True(t, res.OK)

	r.LinkDown("00B", "*.net *.split")

	_, stillThere := r.matrix.UserByUID("00BAAAAAA")
	assert.False(t, stillThere)
	_, isMember := ch.MemberFlags("00BAAAAAA")
	assert.False(t, isMember)
	_, knownServer := r.topo.Server("00B")
	assert.False(t, knownServer)
}

// --- Wire HLC tag round-trip ---

func TestStampAndReadHLCRoundTrip(t *testing.T) {
	ts := crdt.HLC{Physical: 42, Logical: 7, SID: "00A"}
	msg := &message.Message{Command: "TMODE"}
	stampHLC(msg, ts)

	got, ok := readHLC(msg)
	require.True(t, ok)
	assert.Equal(t, ts, got)
}

func TestReadHLCMissingTag(t *testing.T) {
	msg := &message.Message{Command: "PING"}
	_, ok := readHLC(msg)
	assert.False(t, ok)
}
