// Package channel implements the Channel Actor (spec §4.4): each
// channel is an independent goroutine owning all of its state, reached
// only through a bounded inbox of typed events. This mirrors the
// teacher's ingest/muxer.go pattern of a single goroutine draining a
// channel of requests so no lock is needed around the thing it owns;
// here the owned thing is channel membership and modes instead of a
// connection table. Membership and list-mode replication use the
// crdt package's OR-Set/AW-Set so a netsplit/rejoin converges exactly
// like §8 prescribes, even though locally the actor already serializes
// every mutation.
package channel

import (
	"fmt"
	"time"

	"github.com/nerion-net/ircd/crdt"
	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/state"
)

const (
	DefaultInboxSize  = 500
	InviteLedgerSize  = 64
	InviteTTL         = 60 * time.Second
	KickCooldown      = 10 * time.Second
)

// Member is one channel participant: the user handle plus this
// channel's prefix-status bitmask for them.
type Member struct {
	User  *state.User
	Flags uint8
}

// Channel is the actor. All fields below the inbox are only ever
// touched from within run(); everything else reaches them by sending
// an event and, where a result is needed, waiting on a reply channel.
type Channel struct {
	name    string // canonical, non-folded
	created time.Time

	inbox chan event

	topicText   crdt.LWWRegister[string]
	topicSetter crdt.LWWRegister[string]

	flags map[byte]bool
	key   string
	limit int

	members map[string]*Member // UID -> Member
	memberCRDT crdt.ORSet[string, uint8]

	bans    crdt.AWSet
	excepts crdt.AWSet
	invex   crdt.AWSet

	invites    []inviteEntry
	kickCooldown map[string]time.Time // folded nick -> kicked-until

	done chan struct{}
}

type inviteEntry struct {
	nick     string // folded
	inviter  string
	expires  time.Time
}

func New(name string) *Channel {
	c := &Channel{
		name:         name,
		created:      time.Now(),
		inbox:        make(chan event, DefaultInboxSize),
		flags:        make(map[byte]bool),
		members:      make(map[string]*Member),
		memberCRDT:   crdt.NewORSet[string, uint8](),
		bans:         crdt.NewAWSet(),
		excepts:      crdt.NewAWSet(),
		invex:        crdt.NewAWSet(),
		kickCooldown: make(map[string]time.Time),
		done:         make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) Created() time.Time { return c.created }

// Stop tears the actor goroutine down; used when the channel is
// garbage collected (empty, not +P) or the server is shutting down.
func (c *Channel) Stop() { close(c.inbox) }

func (c *Channel) run() {
	defer close(c.done)
	for ev := range c.inbox {
		ev.apply(c)
	}
}

// send dispatches an event into the actor and blocks the caller until
// it's been applied (not until any broadcast I/O completes — those use
// TrySend and never block the actor loop itself).
func (c *Channel) send(ev event) { c.inbox <- ev }

type event interface{ apply(c *Channel) }

// ---- Join ----

type JoinResult struct {
	OK       bool
	Err      error
	Topic    string
	TopicSet string
	TopicAt  time.Time
	HasTopic bool
	Names    []NameEntry
}

type NameEntry struct {
	Nick  string
	Sigil byte
}

var (
	ErrBanned       = fmt.Errorf("channel: banned")
	ErrInviteOnly   = fmt.Errorf("channel: invite only")
	ErrBadKey       = fmt.Errorf("channel: bad key")
	ErrFull         = fmt.Errorf("channel: channel is full")
	ErrRecentKick   = fmt.Errorf("channel: rejoin refused, recent kick")
	ErrAlreadyIn    = fmt.Errorf("channel: already a member")
)

type joinEvent struct {
	u      *state.User
	key    string
	reply  chan JoinResult
}

func (c *Channel) Join(u *state.User, key string) JoinResult {
	reply := make(chan JoinResult, 1)
	c.send(joinEvent{u: u, key: key, reply: reply})
	return <-reply
}

func (e joinEvent) apply(c *Channel) {
	folded := message.CaseFold(e.u.Nick())
	if _, already := c.members[e.u.UID]; already {
		e.reply <- JoinResult{OK: false, Err: ErrAlreadyIn}
		return
	}
	if until, ok := c.kickCooldown[folded]; ok && time.Now().Before(until) {
		e.reply <- JoinResult{OK: false, Err: ErrRecentKick}
		return
	}
	if c.bans.Contains(e.u.Cloak) && !c.excepts.Contains(e.u.Cloak) {
		e.reply <- JoinResult{OK: false, Err: ErrBanned}
		return
	}
	if c.flags['i'] && !c.invex.Contains(folded) && !c.consumeInvite(folded) {
		e.reply <- JoinResult{OK: false, Err: ErrInviteOnly}
		return
	}
	if c.key != "" && e.key != c.key {
		e.reply <- JoinResult{OK: false, Err: ErrBadKey}
		return
	}
	if c.limit > 0 && len(c.members) >= c.limit {
		e.reply <- JoinResult{OK: false, Err: ErrFull}
		return
	}

	flags := uint8(0)
	if len(c.members) == 0 {
		flags = PrefixOp
	}
	c.members[e.u.UID] = &Member{User: e.u, Flags: flags}
	c.memberCRDT.Add(e.u.UID, crdt.Tag(e.u.UID+":"+folded), flags)

	names := c.namesLocked()
	hasTopic := c.topicText.IsSet()
	e.reply <- JoinResult{
		OK: true, Topic: c.topicText.Value, TopicSet: c.topicSetter.Value,
		HasTopic: hasTopic, Names: names,
	}
}

// consumeInvite removes and reports a matching, unexpired invite entry
// for foldedNick.
func (c *Channel) consumeInvite(foldedNick string) bool {
	now := time.Now()
	for i, inv := range c.invites {
		if inv.nick == foldedNick && now.Before(inv.expires) {
			c.invites = append(c.invites[:i], c.invites[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Channel) namesLocked() []NameEntry {
	out := make([]NameEntry, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, NameEntry{Nick: m.User.Nick(), Sigil: Sigil(m.Flags)})
	}
	return out
}

// ---- Part / Quit / Kick ----

type partEvent struct {
	uid, reason string
}

func (c *Channel) Part(uid, reason string) { c.send(partEvent{uid: uid, reason: reason}) }

func (e partEvent) apply(c *Channel) {
	m, ok := c.members[e.uid]
	if !ok {
		return
	}
	c.removeMemberLocked(e.uid)
	c.broadcastLocked(&message.Message{
		Prefix:  &message.Prefix{Name: m.User.Nick(), User: m.User.Username, Host: m.User.Cloak},
		Command: "PART",
		Params:  partParams(c.name, e.reason),
	}, "")
}

func partParams(name, reason string) []string {
	if reason == "" {
		return []string{name}
	}
	return []string{name, reason}
}

type quitEvent struct {
	uid, nick, user, host, reason string
}

func (c *Channel) Quit(uid, nick, user, host, reason string) {
	c.send(quitEvent{uid: uid, nick: nick, user: user, host: host, reason: reason})
}

func (e quitEvent) apply(c *Channel) {
	if _, ok := c.members[e.uid]; !ok {
		return
	}
	c.removeMemberLocked(e.uid)
	c.broadcastLocked(&message.Message{
		Prefix:  &message.Prefix{Name: e.nick, User: e.user, Host: e.host},
		Command: "QUIT",
		Params:  []string{e.reason},
	}, "")
}

type kickEvent struct {
	kicker, kickerNick, kickerUser, kickerHost string
	targetUID, reason                          string
}

func (c *Channel) Kick(kickerUID, kickerNick, kickerUser, kickerHost, targetUID, reason string) {
	c.send(kickEvent{
		kicker: kickerUID, kickerNick: kickerNick, kickerUser: kickerUser, kickerHost: kickerHost,
		targetUID: targetUID, reason: reason,
	})
}

func (e kickEvent) apply(c *Channel) {
	m, ok := c.members[e.targetUID]
	if !ok {
		return
	}
	foldedNick := message.CaseFold(m.User.Nick())
	c.removeMemberLocked(e.targetUID)
	c.kickCooldown[foldedNick] = time.Now().Add(KickCooldown)
	c.broadcastLocked(&message.Message{
		Prefix:  &message.Prefix{Name: e.kickerNick, User: e.kickerUser, Host: e.kickerHost},
		Command: "KICK",
		Params:  []string{c.name, m.User.Nick(), e.reason},
	}, "")
}

func (c *Channel) removeMemberLocked(uid string) {
	m := c.members[uid]
	delete(c.members, uid)
	if m != nil {
		c.memberCRDT.Remove(uid)
	}
	if len(c.members) == 0 && !c.flags['P'] {
		c.Stop()
	}
}

// ---- Topic ----

type setTopicEvent struct {
	text, setterDisplay string
	ts                   crdt.HLC
	reply                chan bool
}

func (c *Channel) SetTopic(text, setterDisplay string, ts crdt.HLC) bool {
	reply := make(chan bool, 1)
	c.send(setTopicEvent{text: text, setterDisplay: setterDisplay, ts: ts, reply: reply})
	return <-reply
}

func (e setTopicEvent) apply(c *Channel) {
	applied := c.topicText.Set(e.text, e.ts)
	c.topicSetter.Set(e.setterDisplay, e.ts)
	if applied {
		c.broadcastLocked(&message.Message{Command: "TOPIC", Params: []string{c.name, e.text}}, "")
	}
	e.reply <- applied
}

func (c *Channel) Topic() (text, setter string, has bool) {
	reply := make(chan [3]string, 1)
	c.send(readTopicEvent{reply: reply})
	r := <-reply
	return r[0], r[1], r[2] != ""
}

type readTopicEvent struct{ reply chan [3]string }

func (e readTopicEvent) apply(c *Channel) {
	has := ""
	if c.topicText.IsSet() {
		has = "1"
	}
	e.reply <- [3]string{c.topicText.Value, c.topicSetter.Value, has}
}

// ---- Invite / Knock ----

type inviteEvent struct {
	inviterDisplay, foldedNick string
}

func (c *Channel) Invite(inviterDisplay, nick string) {
	c.send(inviteEvent{inviterDisplay: inviterDisplay, foldedNick: message.CaseFold(nick)})
}

func (e inviteEvent) apply(c *Channel) {
	if len(c.invites) >= InviteLedgerSize {
		c.invites = c.invites[1:]
	}
	c.invites = append(c.invites, inviteEntry{
		nick: e.foldedNick, inviter: e.inviterDisplay, expires: time.Now().Add(InviteTTL),
	})
}

type knockEvent struct {
	knockerDisplay, text string
}

func (c *Channel) Knock(knockerDisplay, text string) {
	c.send(knockEvent{knockerDisplay: knockerDisplay, text: text})
}

func (e knockEvent) apply(c *Channel) {
	c.broadcastToOpsLocked(&message.Message{
		Command: "NOTICE",
		Params:  []string{c.name, fmt.Sprintf("[Knock] %s (%s)", e.knockerDisplay, e.text)},
	})
}

// ---- ApplyModes ----

type applyModesEvent struct {
	requested []Delta
	bySID     bool // remote-originated modes are never rejected for privilege
	reply     chan []Delta
}

func (c *Channel) ApplyModes(requested []Delta, bySID bool) []Delta {
	reply := make(chan []Delta, 1)
	c.send(applyModesEvent{requested: requested, bySID: bySID, reply: reply})
	return <-reply
}

func (e applyModesEvent) apply(c *Channel) {
	applied := make([]Delta, 0, len(e.requested))
	for _, d := range e.requested {
		kind := modeKind[d.Letter]
		switch kind {
		case ModeKindFlag:
			c.flags[d.Letter] = d.Add
			applied = append(applied, d)
		case ModeKindParamAlways:
			if d.Add {
				c.key = d.Arg
			} else {
				c.key = ""
			}
			applied = append(applied, d)
		case ModeKindParamOnSet:
			if d.Add {
				if n, err := fmt.Sscanf(d.Arg, "%d", &c.limit); err != nil || n != 1 {
					d.Rejected = true
				}
			} else {
				c.limit = 0
			}
			applied = append(applied, d)
		case ModeKindList:
			set := c.listFor(d.Letter)
			if d.Add {
				set.AddString(d.Arg, crdt.Tag(d.Arg+":"+time.Now().String()))
			} else {
				set.Remove(d.Arg)
			}
			applied = append(applied, d)
		case ModeKindMembership:
			uid := c.uidForNick(d.Arg)
			if uid == "" {
				d.Rejected = true
				applied = append(applied, d)
				continue
			}
			bit, _ := bitForLetter(d.Letter)
			m := c.members[uid]
			if m == nil {
				d.Rejected = true
				applied = append(applied, d)
				continue
			}
			if d.Add {
				m.Flags |= bit
			} else {
				m.Flags &^= bit
			}
			c.memberCRDT.Add(uid, crdt.Tag(uid+":mode:"+time.Now().String()), m.Flags)
			applied = append(applied, d)
		default:
			d.Rejected = true
			applied = append(applied, d)
		}
	}
	modeStr, args := ModeString(applied)
	if modeStr != "" {
		params := append([]string{c.name, modeStr}, args...)
		c.broadcastLocked(&message.Message{Command: "MODE", Params: params}, "")
	}
	e.reply <- applied
}

func (c *Channel) listFor(letter byte) *crdt.AWSet {
	switch letter {
	case 'b':
		return &c.bans
	case 'e':
		return &c.excepts
	case 'I':
		return &c.invex
	default:
		return &c.bans
	}
}

func (c *Channel) uidForNick(nick string) string {
	folded := message.CaseFold(nick)
	for uid, m := range c.members {
		if message.CaseFold(m.User.Nick()) == folded {
			return uid
		}
	}
	return ""
}

// ---- Broadcast ----

type broadcastEvent struct {
	msg    *message.Message
	except string // UID to skip, e.g. echo-message is handled by the sender's own session
}

func (c *Channel) Broadcast(msg *message.Message, exceptUID string) {
	c.send(broadcastEvent{msg: msg, except: exceptUID})
}

func (e broadcastEvent) apply(c *Channel) { c.broadcastLocked(e.msg, e.except) }

// broadcastLocked implements the §4.4 broadcast contract: a Full send
// queue gets a disconnect request, a Closed one is silently ignored;
// neither can block delivery to any other member.
func (c *Channel) broadcastLocked(msg *message.Message, exceptUID string) {
	for uid, m := range c.members {
		if uid == exceptUID {
			continue
		}
		switch m.User.SendMessage(msg) {
		case state.SendQueueFull:
			m.User.MarkQuit()
		case state.SendClosed:
		}
	}
}

func (c *Channel) broadcastToOpsLocked(msg *message.Message) {
	for _, m := range c.members {
		if m.Flags&(PrefixOp|PrefixAdmin|PrefixOwner) == 0 {
			continue
		}
		_ = m.User.SendMessage(msg)
	}
}

// BroadcastWithCap sends msgWith to members that have capName enabled
// and msgWithout to everyone else (§4.4), e.g. extended-join or
// account-tag variants.
type broadcastWithCapEvent struct {
	capName            string
	msgWith, msgWithout *message.Message
	except              string
}

func (c *Channel) BroadcastWithCap(capName string, msgWith, msgWithout *message.Message, exceptUID string) {
	c.send(broadcastWithCapEvent{capName: capName, msgWith: msgWith, msgWithout: msgWithout, except: exceptUID})
}

func (e broadcastWithCapEvent) apply(c *Channel) {
	for uid, m := range c.members {
		if uid == e.except {
			continue
		}
		msg := e.msgWithout
		if m.User.HasCap(e.capName) {
			msg = e.msgWith
		}
		if m.User.SendMessage(msg) == state.SendQueueFull {
			m.User.MarkQuit()
		}
	}
}

// ---- Introspection (read-only, safe to call from any goroutine) ----

type snapshotEvent struct{ reply chan Snapshot }

type Snapshot struct {
	Members []NameEntry
	Modes   map[byte]bool
	Key     string
	Limit   int
	Count   int
}

func (c *Channel) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	c.send(snapshotEvent{reply: reply})
	return <-reply
}

func (e snapshotEvent) apply(c *Channel) {
	modes := make(map[byte]bool, len(c.flags))
	for k, v := range c.flags {
		modes[k] = v
	}
	e.reply <- Snapshot{
		Members: c.namesLocked(), Modes: modes, Key: c.key, Limit: c.limit, Count: len(c.members),
	}
}

func (c *Channel) MemberCount() int { return c.Snapshot().Count }

// MemberFlags reports a member's prefix bitmask and whether uid is
// currently a member.
func (c *Channel) MemberFlags(uid string) (uint8, bool) {
	reply := make(chan memberFlagsReply, 1)
	c.send(memberFlagsEvent{uid: uid, reply: reply})
	r := <-reply
	return r.flags, r.ok
}

type memberFlagsReply struct {
	flags uint8
	ok    bool
}

type memberFlagsEvent struct {
	uid   string
	reply chan memberFlagsReply
}

func (e memberFlagsEvent) apply(c *Channel) {
	m, ok := c.members[e.uid]
	if !ok {
		e.reply <- memberFlagsReply{}
		return
	}
	e.reply <- memberFlagsReply{flags: m.Flags, ok: true}
}

// RemoteSync applies a burst of remote membership/mode state received
// over S2S (§4.7); it merges CRDT state rather than overwriting it.
type remoteSyncEvent struct {
	members crdt.ORSet[string, uint8]
	bans    crdt.AWSet
	reply   chan struct{}
}

func (c *Channel) RemoteSync(members crdt.ORSet[string, uint8], bans crdt.AWSet) {
	reply := make(chan struct{}, 1)
	c.send(remoteSyncEvent{members: members, bans: bans, reply: reply})
	<-reply
}

func (e remoteSyncEvent) apply(c *Channel) {
	c.memberCRDT.Merge(e.members)
	c.bans.Merge(e.bans)
	e.reply <- struct{}{}
}
