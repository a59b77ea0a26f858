// Package server wires together every package in this module into one
// running ircd: the state matrix, the channel actors, the capability
// authority, history storage, S2S replication and the client listeners.
// It is the connective tissue the teacher's cmd/gravwell binaries
// provide for ingest (flag parsing, config load, signal handling,
// supervised goroutines) generalized to this domain.
package server

import (
	"sync"

	"github.com/nerion-net/ircd/channel"
	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/state"
)

// ChannelRegistry implements both router.ChannelDirectory and
// s2s.ChannelDirectory over the shared state matrix: every channel
// actor it creates is also registered into the matrix so WHOIS-style
// lookups and S2S burst enumeration see the same set PRIVMSG/JOIN do.
type ChannelRegistry struct {
	matrix *state.Matrix

	mu sync.Mutex
	byName map[string]*channel.Channel // folded name -> channel, for All()
}

func NewChannelRegistry(matrix *state.Matrix) *ChannelRegistry {
	return &ChannelRegistry{matrix: matrix, byName: make(map[string]*channel.Channel)}
}

func (r *ChannelRegistry) GetOrCreate(name string) *channel.Channel {
	folded := message.CaseFold(name)
	r.mu.Lock()
	if ch, ok := r.byName[folded]; ok {
		r.mu.Unlock()
		return ch
	}
	ch := channel.New(name)
	r.byName[folded] = ch
	r.mu.Unlock()
	_ = r.matrix.RegisterChannel(ch)
	return ch
}

func (r *ChannelRegistry) Get(name string) (*channel.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.byName[message.CaseFold(name)]
	return ch, ok
}

func (r *ChannelRegistry) All() []*channel.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*channel.Channel, 0, len(r.byName))
	for _, ch := range r.byName {
		out = append(out, ch)
	}
	return out
}

// PruneEmpty stops and drops every channel with no members left. JOIN/
// PART/KICK/QUIT don't call this inline (the actor already serializes
// its own membership mutation cheaply); a periodic sweep from the
// server's main loop is simpler than threading a "was this the last
// member" signal back out of every channel-actor event.
func (r *ChannelRegistry) PruneEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for folded, ch := range r.byName {
		if ch.MemberCount() == 0 {
			ch.Stop()
			delete(r.byName, folded)
			r.matrix.RemoveChannel(ch.Name())
		}
	}
}
