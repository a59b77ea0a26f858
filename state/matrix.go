package state

import (
	"errors"

	"github.com/nerion-net/ircd/message"
)

var (
	ErrNickInUse    = errors.New("state: nickname already in use")
	ErrNoSuchUser   = errors.New("state: no such user")
	ErrNoSuchNick   = errors.New("state: no such nick")
	ErrNoSuchChan   = errors.New("state: no such channel")
	ErrChanExists   = errors.New("state: channel handle already registered")
)

// ChannelHandle is the subset of the channel actor's API the state
// matrix needs to hold a reference to. Kept here, rather than importing
// the channel package, to avoid state<->channel depending on each
// other: channel already needs to look users up in state.
type ChannelHandle interface {
	Name() string // canonical (non-folded) name
}

// Matrix is the State Matrix (§3, §5): the three concurrent indexes
// that must always agree:
//
//	UID -> *User
//	folded(nick) -> UID
//	folded(channel name) -> ChannelHandle
//
// Every mutating method here keeps that agreement atomic from the
// caller's point of view even though the underlying ShardedMap shards
// are independently locked — nick claim and UID insert, for instance,
// are ordered so a half-visible user is never observable: the nick is
// reserved first, and rolled back if the UID insert (which cannot
// fail, UIDs are minted uniquely) would ever fail.
type Matrix struct {
	byUID     *ShardedMap[*User]
	byNick    *ShardedMap[string] // folded nick -> UID
	byChannel *ShardedMap[ChannelHandle]
	whowas    *whowasHistory
}

func NewMatrix() *Matrix {
	return &Matrix{
		byUID:     NewShardedMap[*User](),
		byNick:    NewShardedMap[string](),
		byChannel: NewShardedMap[ChannelHandle](),
		whowas:    newWhowasHistory(),
	}
}

// RegisterUser inserts a new user, claiming its nickname atomically.
// Returns ErrNickInUse if the fold of u.Nick() is already claimed.
func (m *Matrix) RegisterUser(u *User) error {
	folded := message.CaseFold(u.Nick())
	if !m.byNick.SetIfAbsent(folded, u.UID) {
		return ErrNickInUse
	}
	m.byUID.Set(u.UID, u)
	return nil
}

// RemoveUser deletes a user from both indexes. It is idempotent.
// Recording into WHOWAS history happens here rather than at every
// call site (QUIT, KILL, netsplit cascade) since they all funnel
// through this one removal path.
func (m *Matrix) RemoveUser(uid string) {
	u, ok := m.byUID.Get(uid)
	if !ok {
		return
	}
	folded := message.CaseFold(u.Nick())
	m.byNick.DeleteExact(folded, uid, func(a, b string) bool { return a == b })
	m.byUID.Delete(uid)
	m.whowas.record(folded, WhowasEntry{Nick: u.Nick(), Username: u.Username, Cloak: u.Cloak, RealName: u.RealName})
	u.MarkQuit()
}

// RenameUser reassigns a user's nickname, claiming the new fold and
// releasing the old one. Returns ErrNickInUse if newNick's fold is
// already taken by a different UID.
func (m *Matrix) RenameUser(uid, newNick string) error {
	u, ok := m.byUID.Get(uid)
	if !ok {
		return ErrNoSuchUser
	}
	oldFolded := message.CaseFold(u.Nick())
	newFolded := message.CaseFold(newNick)

	if oldFolded == newFolded {
		// Case-only change: no index churn needed, just the display form.
		u.setNick(newNick)
		return nil
	}

	if !m.byNick.SetIfAbsent(newFolded, uid) {
		return ErrNickInUse
	}
	m.byNick.DeleteExact(oldFolded, uid, func(a, b string) bool { return a == b })
	m.whowas.record(oldFolded, WhowasEntry{Nick: u.Nick(), Username: u.Username, Cloak: u.Cloak, RealName: u.RealName})
	u.setNick(newNick)
	return nil
}

// Whowas returns up to the last few identities recorded for nick
// (§4.3 WHOWAS), most recent first, after it was vacated by a QUIT or
// a nick change.
func (m *Matrix) Whowas(nick string) []WhowasEntry {
	return m.whowas.lookup(message.CaseFold(nick))
}

func (m *Matrix) UserByUID(uid string) (*User, bool) { return m.byUID.Get(uid) }

func (m *Matrix) UserByNick(nick string) (*User, bool) {
	uid, ok := m.byNick.Get(message.CaseFold(nick))
	if !ok {
		return nil, false
	}
	return m.byUID.Get(uid)
}

func (m *Matrix) NickInUse(nick string) bool {
	_, ok := m.byNick.Get(message.CaseFold(nick))
	return ok
}

func (m *Matrix) AllUsers() []*User { return m.byUID.CloneValues() }

func (m *Matrix) UserCount() int { return m.byUID.Len() }

// RegisterChannel inserts a new channel handle. Returns ErrChanExists
// if the fold of name is already registered (callers should look the
// channel up and join it instead of creating a duplicate).
func (m *Matrix) RegisterChannel(ch ChannelHandle) error {
	if !m.byChannel.SetIfAbsent(message.CaseFold(ch.Name()), ch) {
		return ErrChanExists
	}
	return nil
}

func (m *Matrix) RemoveChannel(name string) { m.byChannel.Delete(message.CaseFold(name)) }

func (m *Matrix) ChannelByName(name string) (ChannelHandle, bool) {
	return m.byChannel.Get(message.CaseFold(name))
}

func (m *Matrix) AllChannels() []ChannelHandle { return m.byChannel.CloneValues() }

func (m *Matrix) ChannelCount() int { return m.byChannel.Len() }
