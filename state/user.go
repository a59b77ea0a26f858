package state

import (
	"sync"
	"sync/atomic"

	"github.com/nerion-net/ircd/message"
)

// Sender delivers one already-framed wire line to a user's session
// writer. Implemented by the session package; kept as an interface
// here so state has no dependency on session (state is a leaf package
// the rest of the core reads from).
type Sender interface {
	// Send enqueues line for delivery; it must never block the caller
	// for longer than one bounded-send attempt (§8 property 7).
	Send(line []byte) SendResult
}

type SendResult int

const (
	SendOK SendResult = iota
	SendQueueFull
	SendClosed
)

// User is a registered client (§3). Mutable fields are behind mu
// because multiple channel actors and the router may read/update a
// user's away message, capability set, or nickname concurrently.
type User struct {
	UID      string
	SID      string // first 3 chars of UID
	Username string
	RealName string
	Host     string // real host, visible to the user themself and opers
	Cloak    string // what everyone else sees

	mu           sync.RWMutex
	nick         string
	account      string
	modes        map[byte]bool
	awayMessage  string
	capsEnabled  map[string]bool
	monitoring   map[string]bool // folded nicks this user is MONITORing
	operPrivs    string          // "" if not an operator
	metadata     map[string]string // METADATA key/value store, §4.2

	sender Sender
	quit   atomic.Bool
}

func NewUser(uid, sid, nick, username, realname, host, cloak string, sender Sender) *User {
	return &User{
		UID: uid, SID: sid, Username: username, RealName: realname,
		Host: host, Cloak: cloak, nick: nick, sender: sender,
		modes:       make(map[byte]bool),
		capsEnabled: make(map[string]bool),
		monitoring:  make(map[string]bool),
		metadata:    make(map[string]string),
	}
}

// MaxMetadataKeys bounds how many METADATA keys a single user may
// hold, keeping an abusive SET loop from growing a user's footprint
// without bound.
const MaxMetadataKeys = 32

// Metadata returns the value of key and whether it is set.
func (u *User) Metadata(key string) (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	v, ok := u.metadata[key]
	return v, ok
}

// AllMetadata returns every key/value pair currently set, for
// METADATA LIST.
func (u *User) AllMetadata() map[string]string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[string]string, len(u.metadata))
	for k, v := range u.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata sets key to value, failing with false once
// MaxMetadataKeys distinct keys are already held and key is a new one.
func (u *User) SetMetadata(key, value string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.metadata[key]; !exists && len(u.metadata) >= MaxMetadataKeys {
		return false
	}
	u.metadata[key] = value
	return true
}

func (u *User) ClearMetadataKey(key string) { u.mu.Lock(); delete(u.metadata, key); u.mu.Unlock() }

func (u *User) ClearAllMetadata() { u.mu.Lock(); u.metadata = make(map[string]string); u.mu.Unlock() }

func (u *User) Nick() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.nick
}

func (u *User) setNick(n string) { u.mu.Lock(); u.nick = n; u.mu.Unlock() }

func (u *User) Account() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.account
}

func (u *User) SetAccount(a string) { u.mu.Lock(); u.account = a; u.mu.Unlock() }

func (u *User) HasMode(m byte) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.modes[m]
}

func (u *User) SetMode(m byte, on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if on {
		u.modes[m] = true
	} else {
		delete(u.modes, m)
	}
}

func (u *User) AwayMessage() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.awayMessage
}

func (u *User) SetAway(msg string) { u.mu.Lock(); u.awayMessage = msg; u.mu.Unlock() }

func (u *User) HasCap(name string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.capsEnabled[name]
}

func (u *User) SetCap(name string, on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if on {
		u.capsEnabled[name] = true
	} else {
		delete(u.capsEnabled, name)
	}
}

func (u *User) OperPrivileges() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.operPrivs
}

func (u *User) SetOperPrivileges(p string) { u.mu.Lock(); u.operPrivs = p; u.mu.Unlock() }

func (u *User) IsOper() bool { return u.OperPrivileges() != "" }

// SetRealName updates the GECOS field announced by SETNAME (§6).
func (u *User) SetRealName(name string) { u.mu.Lock(); u.RealName = name; u.mu.Unlock() }

// SetMonitoring adds or removes nick from this user's MONITOR watch
// list. Folding is the caller's responsibility to match the rest of
// the nick-lookup path (message.CaseFold).
func (u *User) SetMonitoring(nick string, on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if on {
		u.monitoring[nick] = true
	} else {
		delete(u.monitoring, nick)
	}
}

func (u *User) ClearMonitoring() {
	u.mu.Lock()
	u.monitoring = make(map[string]bool)
	u.mu.Unlock()
}

func (u *User) MonitoredNicks() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.monitoring))
	for n := range u.monitoring {
		out = append(out, n)
	}
	return out
}

// Send forwards a pre-encoded line to the user's session as is; no
// per-capability tags are added here or further downstream.
func (u *User) Send(line []byte) SendResult {
	if u.quit.Load() {
		return SendClosed
	}
	return u.sender.Send(line)
}

func (u *User) SendMessage(m *message.Message) SendResult {
	line, err := message.Encode(m)
	if err != nil {
		return SendClosed
	}
	return u.Send(line)
}

// MarkQuit flips the user into a terminal state; further Send calls
// report SendClosed without touching the (possibly already-freed)
// underlying session sender.
func (u *User) MarkQuit() { u.quit.Store(true) }
