package state

import "sync"

// whowasCap bounds how many past identities WHOWAS keeps per folded
// nick, the way ircd's own WHOWAS history has always been a short
// ring rather than a durable log — enough to answer "who was that"
// right after a QUIT or nick change.
const whowasCap = 3

// WhowasEntry is one past identity recorded for a nick: a snapshot
// taken at the moment the nick was vacated, either by QUIT/removal or
// by changing to a different nick.
type WhowasEntry struct {
	Nick     string
	Username string
	Cloak    string
	RealName string
}

// whowasHistory is a small bounded per-nick ring, guarded by one lock
// since WHOWAS traffic is rare enough not to warrant sharding the way
// the live nick/UID indexes are.
type whowasHistory struct {
	mu     sync.Mutex
	byNick map[string][]WhowasEntry
}

func newWhowasHistory() *whowasHistory {
	return &whowasHistory{byNick: make(map[string][]WhowasEntry)}
}

func (w *whowasHistory) record(folded string, e WhowasEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := append([]WhowasEntry{e}, w.byNick[folded]...)
	if len(entries) > whowasCap {
		entries = entries[:whowasCap]
	}
	w.byNick[folded] = entries
}

func (w *whowasHistory) lookup(folded string) []WhowasEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]WhowasEntry(nil), w.byNick[folded]...)
}
