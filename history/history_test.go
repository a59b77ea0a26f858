package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, 5, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func env(ns int64, msgid, text string) Envelope {
	return Envelope{MsgID: msgid, Target: "#test", Sender: "alice", Command: "PRIVMSG", Text: text, Nanos: ns}
}

func TestStoreAndQueryOrdering(t *testing.T) {
	s := openTestStore(t)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.Store(env(i*1000, "m"+string(rune('0'+i)), "hello")))
	}
	out, err := s.Query("#test", 0, 0, 0, OrderAscending)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "m1", out[0].MsgID)
	assert.Equal(t, "m3", out[2].MsgID)
}

func TestPerTargetRingTrims(t *testing.T) {
	s := openTestStore(t)
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, s.Store(env(i*1000, "m", "hello")))
	}
	out, err := s.Query("#test", 0, 0, 0, OrderAscending)
	require.NoError(t, err)
	assert.Len(t, out, 5) // ring cap set to 5 in openTestStore
}

func TestLookupTimestampAndAround(t *testing.T) {
	s := openTestStore(t)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Store(env(i*1000, "m"+string(rune('0'+i)), "hello")))
	}
	ns, err := s.LookupTimestamp("#test", "m3")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), ns)

	around, err := s.Around("#test", ns, 3)
	require.NoError(t, err)
	require.NotEmpty(t, around)
}

func TestQueryTargets(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Store(Envelope{MsgID: "a", Target: "#one", Nanos: 1000}))
	require.NoError(t, s.Store(Envelope{MsgID: "b", Target: "#two", Nanos: 2000}))

	targets, err := s.QueryTargets(0, 0, 0, []string{"#one", "#two", "#three"})
	require.NoError(t, err)
	assert.Equal(t, []string{"#two", "#one"}, targets)
}

func TestPruneMovesOldEntriesToArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, 1000, time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Store(env(time.Now().Add(-time.Hour).UnixNano(), "old", "hi")))
	require.NoError(t, s.Prune())

	out, err := s.Query("#test", 0, 0, 0, OrderAscending)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBatchLinesWraps(t *testing.T) {
	envs := []Envelope{env(1000, "m1", "hello")}
	lines := BatchLines("ref1", "#test", envs)
	require.Len(t, lines, 3)
	assert.Equal(t, "BATCH", lines[0].Command)
	assert.Equal(t, "+ref1", lines[0].Params[0])
	assert.Equal(t, "PRIVMSG", lines[1].Command)
	assert.Equal(t, "-ref1", lines[2].Params[0])
}
