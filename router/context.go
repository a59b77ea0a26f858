package router

import (
	"github.com/nerion-net/ircd/capability"
	"github.com/nerion-net/ircd/crdt"
	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/session"
	"github.com/nerion-net/ircd/state"
)

// Context is the execution context every handler receives (§4.3): the
// session's identity and registration projection, the state matrix, a
// bounded reply sender, and the capability authority. Handlers never
// reach outside this struct for shared state.
type Context struct {
	ServerName string
	UID        string
	Sess       *session.Session
	Matrix     *state.Matrix
	Authority  *capability.Authority

	// Clock stamps locally-originated mutations (topic changes, mode
	// applications) with an HLC so they compare correctly against
	// remote ops of the same target once mirrored over S2S (§4.7). A
	// handler on a server with no peers still ticks it, since the LWW
	// register needs *a* timestamp either way.
	Clock *crdt.Clock

	// Replicator mirrors locally-applied mutations to S2S peers and is
	// nil on a standalone (unlinked) server; handlers must check for
	// nil before calling it. Kept as an interface so router does not
	// depend on the s2s package's concrete types.
	Replicator Replicator

	// Reply enqueues outbound messages to the originating connection.
	// Messages are encoded as built: no server-time, msgid, label, batch
	// or account tags are added on the way out.
	Reply func(*message.Message)

	// CompleteRegistration is called exactly once, the instant NICK and
	// USER are both known and no CAP negotiation is pausing the
	// transition (§4.2's Unregistered/Negotiating -> Registered edge).
	// It builds the *state.User (the connection wiring already knows
	// ctx.UID's host/cloak/SID) and inserts it into the matrix; a nick
	// collision discovered only at this final step is possible since
	// NickInUse is re-checked inside, so callers must handle a nil
	// return by terminating the connection rather than assuming success.
	CompleteRegistration func(nick, username, realname string) (*state.User, error)

	// Fingerprint returns the SHA-256 fingerprint of the connection's
	// TLS peer certificate, or "" if the connection isn't a TLS
	// connection or presented none. Supplied per-connection (unlike the
	// other SASL dependencies in BuildDeps, which are fixed at Build
	// time) since the certificate is a property of this one socket.
	Fingerprint func() string
}

// Replicator is the subset of *s2s.Replicator a handler needs to
// mirror a mutation it just applied locally. Handlers call these after
// the local channel-actor call succeeds, never before (§4.7: a local
// mutation is applied first, then mirrored).
type Replicator interface {
	MirrorTopic(channelName, text, setterUID string, ts crdt.HLC)
	MirrorKick(channelName, kickerUID, targetUID, reason string, ts crdt.HLC)
	MirrorJoin(channelName, uid string, sigil byte, ts crdt.HLC)
	MirrorPart(channelName, uid, reason string, ts crdt.HLC)
	MirrorQuit(uid, reason string, ts crdt.HLC)
	MirrorNick(uid, newNick string, ts crdt.HLC)
}

func (c *Context) user() (*state.User, bool) { return c.Matrix.UserByUID(c.UID) }

// clock returns c.Clock, or a fresh throwaway one if the context was
// built without one (tests). Production wiring always sets Clock.
func (c *Context) clock() *crdt.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return crdt.NewClock("000")
}

// SendNumeric is the convenience path used by most handlers: build and
// enqueue a numeric reply addressed to the caller's current nick.
func (c *Context) SendNumeric(code string, params []string, trailing string) {
	nick := c.currentNick()
	c.Reply(Numeric(c.ServerName, code, nick, params, trailing))
}

// noticeFromServer sends a server-sourced NOTICE to the calling
// connection, used by the operator-only admin commands that have no
// dedicated numeric in §7's taxonomy.
func (c *Context) noticeFromServer(text string) {
	c.Reply(&message.Message{
		Prefix:  &message.Prefix{Name: c.ServerName},
		Command: "NOTICE",
		Params:  []string{c.currentNick(), text},
	})
}

func (c *Context) SendHandlerErr(e *HandlerErr) {
	c.Reply(FromHandlerErr(c.ServerName, c.currentNick(), e))
}

func (c *Context) currentNick() string {
	if u, ok := c.user(); ok {
		return u.Nick()
	}
	if n := c.Sess.Registration().Nick; n != "" {
		return n
	}
	return "*"
}

// HandlerFunc is the shape every command handler implements. cmd is
// the parsed inbound message. A returned error is always a *HandlerErr
// (see errors.go); handlers never panic on malformed client input.
type HandlerFunc func(ctx *Context, cmd *message.Message) error

// Table is one of the three dispatch tables of §4.2: pre-registration,
// post-registration, and universal. Lookup is by uppercased command
// name (numerics are never dispatched inbound).
type Table map[string]HandlerFunc

// Router holds all three tables and resolves a command against
// exactly the ones reachable from the session's current state, per
// §4.2's "the router looks up the command only in tables reachable
// from the current state" rule.
type Router struct {
	PreRegistration  Table
	PostRegistration Table
	Universal        Table
}

func New() *Router {
	return &Router{
		PreRegistration:  Table{},
		PostRegistration: Table{},
		Universal:        Table{},
	}
}

// Resolve looks up cmd for a session currently in state st. It never
// falls through to a table not reachable from st — a post-registration
// verb sent while Unregistered is reported as ErrNotRegistered, not
// ErrUnknownCommand, and is never handed to its handler.
func (r *Router) Resolve(st session.ConnectionState, cmd string) (HandlerFunc, *HandlerErr) {
	if h, ok := r.Universal[cmd]; ok {
		return h, nil
	}
	switch st {
	case session.StateUnregistered, session.StateNegotiating:
		if h, ok := r.PreRegistration[cmd]; ok {
			return h, nil
		}
		if _, ok := r.PostRegistration[cmd]; ok {
			return nil, Fail(ErrNotRegistered, "You have not registered")
		}
		return nil, Fail(ErrUnknownCommand, "Unknown command", cmd)
	case session.StateRegistered:
		if h, ok := r.PostRegistration[cmd]; ok {
			return h, nil
		}
		if h, ok := r.PreRegistration[cmd]; ok {
			return h, nil // e.g. CAP remains callable after registration
		}
		return nil, Fail(ErrUnknownCommand, "Unknown command", cmd)
	default:
		return nil, Fail(ErrUnknownCommand, "Unknown command", cmd)
	}
}

func (r *Router) Dispatch(ctx *Context, st session.ConnectionState, cmd *message.Message) {
	h, rejErr := r.Resolve(st, cmd.Command)
	if rejErr != nil {
		ctx.SendHandlerErr(rejErr)
		return
	}
	if err := h(ctx, cmd); err != nil {
		if he, ok := err.(*HandlerErr); ok {
			ctx.SendHandlerErr(he)
		}
	}
}
