// Package crdt implements the replicated value types used by S2S
// anti-entropy: a hybrid logical clock, LWW registers, OR-Sets,
// AW-Sets, and per-server vector clocks. None of the teacher's
// ingest-pipeline code maintains replicated state across nodes — the
// shape closest to it is the idempotent-by-entry-ID dedup in
// ingest/muxer.go's acknowledgement tracking — so the timestamp
// encoding convention (a fixed-width, comparable struct, cf.
// entry/time.go's Timestamp) is reused but the merge algebra itself is
// new domain code, not adapted from an example.
package crdt

import (
	"fmt"
	"sync"
	"time"
)

// HLC is a hybrid logical clock: (physical ms, logical counter, sid).
// It provides a total order consistent with causality: ticking it
// locally always produces a value greater than anything previously
// observed, whether generated locally or received from a peer.
type HLC struct {
	Physical int64
	Logical  uint32
	SID      string
}

// Compare returns -1, 0, or 1 ordering a before, equal to, or after b.
// Physical time dominates; logical counter breaks ties within the same
// millisecond; SID is the final, arbitrary but deterministic tiebreak.
func (a HLC) Compare(b HLC) int {
	switch {
	case a.Physical < b.Physical:
		return -1
	case a.Physical > b.Physical:
		return 1
	}
	switch {
	case a.Logical < b.Logical:
		return -1
	case a.Logical > b.Logical:
		return 1
	}
	switch {
	case a.SID < b.SID:
		return -1
	case a.SID > b.SID:
		return 1
	}
	return 0
}

func (a HLC) Before(b HLC) bool { return a.Compare(b) < 0 }
func (a HLC) After(b HLC) bool  { return a.Compare(b) > 0 }

func (a HLC) String() string {
	return fmt.Sprintf("%d.%d@%s", a.Physical, a.Logical, a.SID)
}

// Clock is a mutable per-server HLC generator. One exists per ircd
// instance; every local or remote-originated op that needs a causal
// timestamp goes through it.
type Clock struct {
	mu   sync.Mutex
	last HLC
	sid  string
	now  func() time.Time // overridable for tests
}

func NewClock(sid string) *Clock {
	return &Clock{sid: sid, now: time.Now, last: HLC{SID: sid}}
}

// Tick produces a new local timestamp strictly greater than any
// previously produced or observed value.
func (c *Clock) Tick() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	phys := c.now().UnixMilli()
	if phys <= c.last.Physical {
		c.last.Logical++
	} else {
		c.last.Physical = phys
		c.last.Logical = 0
	}
	c.last.SID = c.sid
	return c.last
}

// Observe advances the clock to dominate a remote timestamp, per §4.7:
// "the receiver advances its local HLC to max(local, remote) + 1
// before applying." It returns the advanced local value, which is what
// gets recorded against the locally-applied copy of the remote op.
func (c *Clock) Observe(remote HLC) HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	phys := c.now().UnixMilli()
	switch {
	case phys > c.last.Physical && phys > remote.Physical:
		c.last.Physical = phys
		c.last.Logical = 0
	case remote.Physical > c.last.Physical:
		c.last.Physical = remote.Physical
		c.last.Logical = remote.Logical + 1
	case c.last.Physical > remote.Physical:
		c.last.Logical++
	default: // equal physical
		if remote.Logical >= c.last.Logical {
			c.last.Logical = remote.Logical + 1
		} else {
			c.last.Logical++
		}
	}
	c.last.SID = c.sid
	return c.last
}
