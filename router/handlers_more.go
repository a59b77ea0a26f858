package router

import (
	"strings"

	"github.com/nerion-net/ircd/capability"
	"github.com/nerion-net/ircd/channel"
	"github.com/nerion-net/ircd/message"
)

// HandlePING answers PING with PONG (§4.2 universal table).
func HandlePING(ctx *Context, cmd *message.Message) error {
	ctx.Reply(&message.Message{
		Prefix:  &message.Prefix{Name: ctx.ServerName},
		Command: "PONG",
		Params:  []string{ctx.ServerName, cmd.Trailing()},
	})
	return nil
}

// HandlePONG accepts a PONG and does nothing further. The server sends
// no keepalive PING and ratelimit.PingKeeper is not used; an idle
// registered client is dropped once its read deadline (PingTimeout
// after the last read) passes.
func HandlePONG(ctx *Context, cmd *message.Message) error { return nil }

// HandleQUIT implements the universal QUIT path. Actual connection
// teardown (broadcasting synthetic QUIT to every joined channel,
// removing matrix indexes, propagating to S2S peers) is the session
// supervisor's cancellation responsibility per §5; this handler only
// acknowledges and lets the caller close the connection.
func HandleQUIT(ctx *Context, cmd *message.Message) error {
	ctx.Sess.Terminate()
	return nil
}

// HandleTOPIC implements §4.3's TOPIC command: query with no trailing,
// set with one. Setting is gated on channel operator privilege unless
// +t (topic-lock) is absent.
func HandleTOPIC(dir ChannelDirectory) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 1 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "TOPIC")
		}
		name := cmd.Params[0]
		ch, ok := dir.Get(name)
		if !ok {
			return Fail(ErrNoSuchChannel, "No such channel", name)
		}
		if len(cmd.Params) < 2 && cmd.Trailing() == "" && len(cmd.Params) == 1 {
			text, setter, has := ch.Topic()
			if !has {
				ctx.SendNumeric("331", []string{name}, "No topic is set")
				return nil
			}
			ctx.SendNumeric("332", []string{name}, text)
			ctx.SendNumeric("333", []string{name, setter}, "")
			return nil
		}
		u, ok := ctx.user()
		if !ok {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		flags, isMember := ch.MemberFlags(ctx.UID)
		if ch.Snapshot().Modes['t'] && (!isMember || flags&(channel.PrefixOp|channel.PrefixAdmin|channel.PrefixOwner|channel.PrefixHalfop) == 0) {
			return Fail(ErrChanOpPrivsNeeded, "You're not a channel operator", name)
		}
		ts := ctx.clock().Tick()
		ch.SetTopic(cmd.Trailing(), u.Nick(), ts)
		if ctx.Replicator != nil {
			ctx.Replicator.MirrorTopic(name, cmd.Trailing(), ctx.UID, ts)
		}
		return nil
	}
}

// HandleKICK implements §4.3/§4.5's KICK: the ejecting user's
// operator-or-higher status is checked once, a Cap<KindKick> is
// minted and consumed immediately before the effect, exactly as §4.5
// requires ("authorization decisions are made once per command").
func HandleKICK(dir ChannelDirectory) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 2 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "KICK")
		}
		name := cmd.Params[0]
		ch, ok := dir.Get(name)
		if !ok {
			return Fail(ErrNoSuchChannel, "No such channel", name)
		}
		u, ok := ctx.user()
		if !ok {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		flags, isMember := ch.MemberFlags(ctx.UID)
		if !isMember || flags&(channel.PrefixOp|channel.PrefixAdmin|channel.PrefixOwner|channel.PrefixHalfop) == 0 {
			return Fail(ErrChanOpPrivsNeeded, "You're not a channel operator", name)
		}
		targetNick := cmd.Params[1]
		target, ok := ctx.Matrix.UserByNick(targetNick)
		if !ok {
			return Fail(ErrNoSuchNick, "No such nick/channel", targetNick)
		}
		if _, isMember := ch.MemberFlags(target.UID); !isMember {
			return Fail(ErrNoSuchNick, "They aren't on that channel", targetNick)
		}
		cap, err := ctx.Authority.GrantKick(name, ctx.UID)
		if err != nil {
			return Fail(ErrChanOpPrivsNeeded, "Could not authorize kick", name)
		}
		if err := ctx.Authority.Consume(cap, capability.KindKick, name); err != nil {
			return Fail(ErrChanOpPrivsNeeded, "Could not authorize kick", name)
		}
		reason := cmd.Trailing()
		if reason == "" {
			reason = u.Nick()
		}
		ch.Kick(u.UID, u.Nick(), u.Username, u.Cloak, target.UID, reason)
		if ctx.Replicator != nil {
			ctx.Replicator.MirrorKick(name, ctx.UID, target.UID, reason, ctx.clock().Tick())
		}
		return nil
	}
}

// HandleINVITE implements INVITE: only current members (any status) may
// invite, and the invite is recorded on the channel's TTL-bounded ledger.
func HandleINVITE(dir ChannelDirectory) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 2 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "INVITE")
		}
		targetNick, name := cmd.Params[0], cmd.Params[1]
		ch, ok := dir.Get(name)
		if !ok {
			return Fail(ErrNoSuchChannel, "No such channel", name)
		}
		u, ok := ctx.user()
		if !ok {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		if _, isMember := ch.MemberFlags(ctx.UID); !isMember {
			return Fail(ErrNotRegistered, "You're not on that channel")
		}
		target, ok := ctx.Matrix.UserByNick(targetNick)
		if !ok {
			return Fail(ErrNoSuchNick, "No such nick/channel", targetNick)
		}
		ch.Invite(u.Nick(), target.Nick())
		ctx.SendNumeric("341", []string{targetNick}, name)
		_ = target.SendMessage(&message.Message{
			Prefix:  &message.Prefix{Name: u.Nick(), User: u.Username, Host: u.Cloak},
			Command: "INVITE",
			Params:  []string{target.Nick(), name},
		})
		return nil
	}
}

// HandleAWAY implements AWAY: empty trailing clears away status.
func HandleAWAY(ctx *Context, cmd *message.Message) error {
	u, ok := ctx.user()
	if !ok {
		return Fail(ErrNotRegistered, "You have not registered")
	}
	msg := cmd.Trailing()
	u.SetAway(msg)
	if msg == "" {
		ctx.SendNumeric("305", nil, "You are no longer marked as being away")
	} else {
		ctx.SendNumeric("306", nil, "You have been marked as being away")
	}
	return nil
}

// HandleISON implements ISON (§4.3 post-registration table).
func HandleISON(ctx *Context, cmd *message.Message) error {
	var present []string
	for _, nick := range cmd.Params {
		for _, n := range strings.Fields(nick) {
			if u, ok := ctx.Matrix.UserByNick(n); ok {
				present = append(present, u.Nick())
			}
		}
	}
	ctx.SendNumeric("303", nil, strings.Join(present, " "))
	return nil
}

// HandleWHO implements a minimal WHO over a channel's membership.
func HandleWHO(dir ChannelDirectory) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 1 {
			ctx.SendNumeric("315", []string{"*"}, "End of /WHO list")
			return nil
		}
		name := cmd.Params[0]
		ch, ok := dir.Get(name)
		if !ok {
			ctx.SendNumeric("315", []string{name}, "End of /WHO list")
			return nil
		}
		for _, n := range ch.Snapshot().Members {
			u, ok := ctx.Matrix.UserByNick(n.Nick)
			if !ok {
				continue
			}
			ctx.SendNumeric("352", []string{name, u.Username, u.Cloak, ctx.ServerName, u.Nick(), "H"}, "0 "+u.RealName)
		}
		ctx.SendNumeric("315", []string{name}, "End of /WHO list")
		return nil
	}
}

// HandleWHOIS implements a single-server WHOIS.
func HandleWHOIS(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 1 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "WHOIS")
	}
	nick := cmd.Params[len(cmd.Params)-1]
	u, ok := ctx.Matrix.UserByNick(nick)
	if !ok {
		ctx.SendHandlerErr(Fail(ErrNoSuchNick, "No such nick/channel", nick))
		return nil
	}
	ctx.SendNumeric("311", []string{u.Nick(), u.Username, u.Cloak, "*"}, u.RealName)
	ctx.SendNumeric("312", []string{u.Nick(), ctx.ServerName}, "ircd")
	if away := u.AwayMessage(); away != "" {
		ctx.SendNumeric("301", []string{u.Nick()}, away)
	}
	if acct := u.Account(); acct != "" {
		ctx.SendNumeric("330", []string{u.Nick(), acct}, "is logged in as")
	}
	ctx.SendNumeric("318", []string{u.Nick()}, "End of /WHOIS list")
	return nil
}

// HandleWHOWAS implements WHOWAS (§4.2 post-registration table):
// answers from the short per-nick history state.Matrix keeps of
// recently vacated nicks (QUIT, KILL, netsplit, or nick change), not
// the live registry HandleWHOIS answers from.
func HandleWHOWAS(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 1 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "WHOWAS")
	}
	nick := cmd.Params[0]
	entries := ctx.Matrix.Whowas(nick)
	if len(entries) == 0 {
		ctx.SendHandlerErr(Fail(ErrWasNoSuchNick, "There was no such nickname", nick))
		ctx.SendNumeric("369", []string{nick}, "End of WHOWAS")
		return nil
	}
	for _, e := range entries {
		ctx.SendNumeric("314", []string{e.Nick, e.Username, e.Cloak, "*"}, e.RealName)
	}
	ctx.SendNumeric("369", []string{nick}, "End of WHOWAS")
	return nil
}

// HandleOPER implements OPER: password verification is delegated to
// the auth package (Argon2id, run off the reactor per §4.2); here we
// only react to the verdict and assign privileges on success.
func HandleOPER(verify func(name, password string) bool) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 2 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "OPER")
		}
		u, ok := ctx.user()
		if !ok {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		if !verify(cmd.Params[0], cmd.Params[1]) {
			return Fail(ErrPasswdMismatch, "Password incorrect")
		}
		u.SetOperPrivileges("oper")
		u.SetMode('o', true)
		ctx.SendNumeric("381", nil, "You are now an IRC operator")
		return nil
	}
}

// HandleKILL implements the operator-only KILL command, minting and
// consuming a Cap<KindKill> before the effect (§4.5).
func HandleKILL(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 1 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "KILL")
	}
	u, ok := ctx.user()
	if !ok || !u.IsOper() {
		return Fail(ErrNoPrivileges, "Permission Denied- You're not an IRC operator")
	}
	target, ok := ctx.Matrix.UserByNick(cmd.Params[0])
	if !ok {
		return Fail(ErrNoSuchNick, "No such nick/channel", cmd.Params[0])
	}
	cap, err := ctx.Authority.GrantKill(ctx.UID)
	if err != nil {
		return Fail(ErrNoPrivileges, "Could not authorize kill")
	}
	if err := ctx.Authority.Consume(cap, capability.KindKill, ""); err != nil {
		return Fail(ErrNoPrivileges, "Could not authorize kill")
	}
	reason := cmd.Trailing()
	if reason == "" {
		reason = "Killed"
	}
	_ = target.SendMessage(&message.Message{Command: "ERROR", Params: []string{"Closing Link: " + reason}})
	target.MarkQuit()
	ctx.Matrix.RemoveUser(target.UID)
	return nil
}
