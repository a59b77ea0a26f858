package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockTickMonotonic(t *testing.T) {
	c := NewClock("001")
	a := c.Tick()
	b := c.Tick()
	assert.True(t, b.After(a))
}

func TestClockObserveAdvancesPastRemote(t *testing.T) {
	c := NewClock("001")
	remote := HLC{Physical: 1 << 40, Logical: 5, SID: "002"}
	got := c.Observe(remote)
	assert.True(t, got.After(remote))
}

func TestLWWRegisterHighestTimestampWins(t *testing.T) {
	r := NewLWWRegister[string]()
	t1 := HLC{Physical: 1, SID: "A"}
	t2 := HLC{Physical: 2, SID: "A"}
	r.Set("from-A", t1)
	applied := r.Set("from-B", t2)
	assert.True(t, applied)
	assert.Equal(t, "from-B", r.Value)

	// an older write never overrides a newer one
	applied = r.Set("stale", t1)
	assert.False(t, applied)
	assert.Equal(t, "from-B", r.Value)
}

func TestLWWMergeConvergesUnderPartition(t *testing.T) {
	// alice on A sets topic at t1, bob on B sets topic at t2>t1;
	// after merge both sides agree on bob's value (§8 network partition scenario).
	a := NewLWWRegister[string]()
	a.Set("from-A", HLC{Physical: 100, SID: "AAA"})

	b := NewLWWRegister[string]()
	b.Set("from-B", HLC{Physical: 200, SID: "BBB"})

	a.Merge(b)
	b.Merge(a)
	assert.Equal(t, "from-B", a.Value)
	assert.Equal(t, "from-B", b.Value)
}

func TestORSetConcurrentAddRemovePreserved(t *testing.T) {
	replicaA := NewORSet[string, struct{}]()
	replicaB := NewORSet[string, struct{}]()

	// both replicas add "alice" concurrently with distinct tags.
	replicaA.Add("alice", "tagA", struct{}{})
	replicaB.Add("alice", "tagB", struct{}{})

	// replicaA removes what it has observed (tagA only).
	replicaA.Remove("alice")

	replicaA.Merge(replicaB)
	replicaB.Merge(replicaA)

	// tagB's add was never observed by the remove, so it survives on both sides.
	assert.True(t, replicaA.Contains("alice"))
	assert.True(t, replicaB.Contains("alice"))
}

func TestORSetMergeIdempotentCommutativeAssociative(t *testing.T) {
	s1 := NewORSet[string, struct{}]()
	s1.Add("a", "t1", struct{}{})
	s2 := NewORSet[string, struct{}]()
	s2.Add("b", "t2", struct{}{})
	s3 := NewORSet[string, struct{}]()
	s3.Add("c", "t3", struct{}{})

	left := NewORSet[string, struct{}]()
	left.Merge(s1)
	left.Merge(s2)
	left.Merge(s3)

	right := NewORSet[string, struct{}]()
	right.Merge(s3)
	right.Merge(s1)
	right.Merge(s2)

	for _, e := range []string{"a", "b", "c"} {
		require.Equal(t, left.Contains(e), right.Contains(e))
	}

	// idempotence: merging with self changes nothing observable.
	before := left.Elements()
	left.Merge(left)
	after := left.Elements()
	assert.ElementsMatch(t, before, after)
}

func TestVectorClockDominatesAndMerge(t *testing.T) {
	a := NewVectorClock()
	a.Observe("001", 3)
	a.Observe("002", 1)

	b := NewVectorClock()
	b.Observe("001", 2)

	assert.True(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))

	b.Merge(a)
	assert.True(t, b.Dominates(a))
}
