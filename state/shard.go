// Package state holds the State Matrix (§3, §5): the concurrent
// indexes mapping UID<->User and folded-nickname/folded-channel-name to
// their handles. The teacher has no equivalent shared index — gravwell
// ingesters are single-writer — so the sharded-map construction here is
// new, but it follows the spec's own prescription in §5/§9 literally:
// "model as sharded maps; never hold a shard guard across an await...
// a helper pattern (get-cloned/iter-cloned) enforces this." xxhash
// (github.com/cespare/xxhash/v2), already a teacher dependency used
// elsewhere in the pack for fast key hashing, picks the shard.
package state

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Shard is a single lock-protected bucket of a ShardedMap.
type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// ShardedMap is a concurrent string-keyed map split across shardCount
// locks so unrelated keys rarely contend. Every read method clones its
// result and releases the lock before returning — callers must never
// hold a reference that assumes the lock is still held, and must never
// call back into the map while awaiting on a channel (the "no index
// guard held across .await" rule from §5).
type ShardedMap[V any] struct {
	shards [shardCount]*shard[V]
}

func NewShardedMap[V any]() *ShardedMap[V] {
	sm := &ShardedMap[V]{}
	for i := range sm.shards {
		sm.shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return sm
}

func (sm *ShardedMap[V]) shardFor(key string) *shard[V] {
	h := xxhash.Sum64String(key)
	return sm.shards[h%uint64(shardCount)]
}

// Get returns a cloned value (values are expected to be small handles:
// pointers, interfaces, or plain structs — never a lock itself).
func (sm *ShardedMap[V]) Get(key string) (V, bool) {
	s := sm.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (sm *ShardedMap[V]) Set(key string, v V) {
	s := sm.shardFor(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// SetIfAbsent is the atomic check-and-insert used by nick/UID
// reservation: it reports whether the insert happened.
func (sm *ShardedMap[V]) SetIfAbsent(key string, v V) bool {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[key]; exists {
		return false
	}
	s.m[key] = v
	return true
}

func (sm *ShardedMap[V]) Delete(key string) {
	s := sm.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// DeleteExact removes key only if its current value matches want,
// avoiding a race where a nick index entry is deleted out from under a
// concurrent nick change (compare-and-delete).
func (sm *ShardedMap[V]) DeleteExact(key string, want V, eq func(a, b V) bool) bool {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	if !ok || !eq(cur, want) {
		return false
	}
	delete(s.m, key)
	return true
}

// Len returns the total number of entries across all shards.
func (sm *ShardedMap[V]) Len() int {
	n := 0
	for _, s := range sm.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// CloneValues returns a snapshot slice of every value currently
// stored, released from all locks before it returns.
func (sm *ShardedMap[V]) CloneValues() []V {
	out := make([]V, 0, sm.Len())
	for _, s := range sm.shards {
		s.mu.RLock()
		for _, v := range s.m {
			out = append(out, v)
		}
		s.mu.RUnlock()
	}
	return out
}
