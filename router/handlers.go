package router

import (
	"strings"

	"github.com/nerion-net/ircd/channel"
	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/state"
)

const (
	DefaultNickLen  = 30
	DefaultTargMax  = 4
	MaxChannelsJoin = 5  // flood-join limit per connection per 10s, per §4.3
	MaxChannelsUser = 20 // MAXCHANNELS: open question §9, resolved as "join up to the limit, reject the rest"
)

// channelsJoined counts how many of ctx's currently-known channels uid
// belongs to. This resolves the MAXCHANNELS open question from §9:
// rather than rejecting an entire multi-channel JOIN when it would
// cross the per-user limit, each comma-separated entry is still
// attempted in order until the limit is hit, then the remaining
// entries each get ERR_TOOMANYCHANNELS.
func channelsJoined(ctx *Context, uid string) int {
	n := 0
	for _, h := range ctx.Matrix.AllChannels() {
		if ch, ok := h.(*channel.Channel); ok {
			if _, isMember := ch.MemberFlags(uid); isMember {
				n++
			}
		}
	}
	return n
}

func isValidNickStart(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z':
		return true
	case strings.ContainsRune(`[]\{|}^_-`, rune(b)):
		return true
	}
	return false
}

func validNick(nick string) bool {
	if nick == "" || len(nick) > DefaultNickLen {
		return false
	}
	return isValidNickStart(nick[0])
}

// HandleNICK implements §4.3's NICK contract.
func HandleNICK(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 1 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "NICK")
	}
	nick := cmd.Params[0]
	if !validNick(nick) {
		return Fail(ErrErroneousNickname, "Erroneous nickname", nick)
	}
	if ctx.Matrix.NickInUse(nick) {
		owner, ok := ctx.Matrix.UserByNick(nick)
		if !ok || owner.UID != ctx.UID {
			return Fail(ErrNicknameInUse, "Nickname is already in use", nick)
		}
		if owner.Nick() == nick {
			return nil // no-op: renaming to the same nick
		}
		// case-only change: RenameUser below keeps the claim and updates the display form
	}

	if u, ok := ctx.user(); ok {
		oldNick := u.Nick()
		if err := ctx.Matrix.RenameUser(ctx.UID, nick); err != nil {
			return Fail(ErrNicknameInUse, "Nickname is already in use", nick)
		}
		ctx.Reply(&message.Message{
			Prefix:  &message.Prefix{Name: oldNick, User: u.Username, Host: u.Cloak},
			Command: "NICK",
			Params:  []string{nick},
		})
		if ctx.Replicator != nil {
			ctx.Replicator.MirrorNick(ctx.UID, nick, ctx.clock().Tick())
		}
		return nil
	}

	if ctx.Sess.SetNick(nick) {
		finishRegistration(ctx)
	}
	return nil
}

// finishRegistration runs the instant §4.2's typestate flips to
// Registered: mint the *state.User and send the welcome burst. A nick
// race lost at this final step (won by another connection between the
// NickInUse check above and here) aborts the connection instead of
// silently registering under a colliding nick.
func finishRegistration(ctx *Context) {
	reg := ctx.Sess.Registration()
	u, err := ctx.CompleteRegistration(reg.Nick, reg.User, reg.RealName)
	if err != nil || u == nil {
		ctx.Reply(&message.Message{Command: "ERROR", Params: []string{"Closing Link: nickname race"}})
		ctx.Sess.Terminate()
		return
	}
	ctx.SendNumeric("001", nil, "Welcome to the network, "+reg.Nick)
	ctx.SendNumeric("002", nil, "Your host is "+ctx.ServerName)
	ctx.SendNumeric("003", nil, "This server was created a while ago")
	ctx.SendNumeric("004", []string{ctx.ServerName, "ircd-1.0"}, "")
	ctx.SendNumeric("375", nil, "- Message of the day -")
	ctx.SendNumeric("376", nil, "End of /MOTD command")
}

// HandleUSER implements the USER half of registration.
func HandleUSER(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 4 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "USER")
	}
	if ctx.Sess.SetUser(cmd.Params[0], cmd.Trailing()) {
		finishRegistration(ctx)
	}
	return nil
}

// ChannelDirectory is the minimum the router needs to find-or-create a
// channel actor; implemented by the server package's registry so
// router does not depend on how channels are stored.
type ChannelDirectory interface {
	GetOrCreate(name string) *channel.Channel
	Get(name string) (*channel.Channel, bool)
}

// HandleJOIN implements §4.3's JOIN contract. dir is captured by the
// returned closure rather than carried on Context, so Context needs no
// channel directory of its own.
func HandleJOIN(dir ChannelDirectory) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 1 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "JOIN")
		}
		u, ok := ctx.user()
		if !ok {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		names := strings.Split(cmd.Params[0], ",")
		var keys []string
		if len(cmd.Params) > 1 {
			keys = strings.Split(cmd.Params[1], ",")
		}
		joined := channelsJoined(ctx, u.UID)
		for i, name := range names {
			if joined >= MaxChannelsUser {
				ctx.SendHandlerErr(Fail(ErrTooManyChannels, "You have joined too many channels", name))
				continue
			}
			key := ""
			if i < len(keys) {
				key = keys[i]
			}
			joinOne(ctx, dir, u.UID, name, key)
			joined++
		}
		return nil
	}
}

func joinOne(ctx *Context, dir ChannelDirectory, uid, name, key string) {
	if !isChannelTarget(name) {
		ctx.SendHandlerErr(Fail(ErrNoSuchChannel, "No such channel", name))
		return
	}
	ch := dir.GetOrCreate(name)
	u, _ := ctx.Matrix.UserByUID(uid)
	res := ch.Join(u, key)
	if !res.OK {
		ctx.SendHandlerErr(joinErrFor(res.Err, name))
		return
	}

	joinMsg := &message.Message{
		Prefix:  &message.Prefix{Name: u.Nick(), User: u.Username, Host: u.Cloak},
		Command: "JOIN",
		Params:  []string{ch.Name()},
	}
	ch.Broadcast(joinMsg, "")
	if ctx.Replicator != nil {
		sigil, _ := ch.MemberFlags(uid)
		ctx.Replicator.MirrorJoin(ch.Name(), uid, channel.Sigil(sigil), ctx.clock().Tick())
	}

	if res.HasTopic {
		ctx.SendNumeric("332", []string{ch.Name()}, res.Topic)
	} else {
		ctx.SendNumeric("331", []string{ch.Name()}, "No topic is set")
	}
	names := make([]string, 0, len(res.Names))
	for _, n := range res.Names {
		if n.Sigil != 0 {
			names = append(names, string(n.Sigil)+n.Nick)
		} else {
			names = append(names, n.Nick)
		}
	}
	ctx.SendNumeric("353", []string{"=", ch.Name()}, strings.Join(names, " "))
	ctx.SendNumeric("366", []string{ch.Name()}, "End of /NAMES list")
}

func joinErrFor(err error, name string) *HandlerErr {
	switch err {
	case channel.ErrBanned:
		return Fail(ErrBannedFromChan, "Cannot join channel (+b)", name)
	case channel.ErrInviteOnly:
		return Fail(ErrInviteOnlyChan, "Cannot join channel (+i)", name)
	case channel.ErrBadKey:
		return Fail(ErrBadChannelKey, "Cannot join channel (+k)", name)
	case channel.ErrFull:
		return Fail(ErrChannelIsFull, "Cannot join channel (+l)", name)
	case channel.ErrRecentKick:
		return Fail(ErrBannedFromChan, "Rejoin refused after recent kick", name)
	default:
		return Fail(ErrNoSuchChannel, "No such channel", name)
	}
}

// HandlePART implements PART.
func HandlePART(dir ChannelDirectory) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 1 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "PART")
		}
		for _, name := range strings.Split(cmd.Params[0], ",") {
			ch, ok := dir.Get(name)
			if !ok {
				ctx.SendHandlerErr(Fail(ErrNoSuchChannel, "No such channel", name))
				continue
			}
			ch.Part(ctx.UID, cmd.Trailing())
			if ctx.Replicator != nil {
				ctx.Replicator.MirrorPart(name, ctx.UID, cmd.Trailing(), ctx.clock().Tick())
			}
		}
		return nil
	}
}

// isChannelTarget reports whether a PRIVMSG/NOTICE/TAGMSG target names
// a channel (leading # or &).
func isChannelTarget(target string) bool {
	return len(target) > 0 && strings.ContainsAny(target[:1], "#&")
}

// documentedCTCP is the CTCP command set this server recognizes (§1
// non-goals: "no CTCP beyond the documented set"). A \x01-wrapped
// PRIVMSG/NOTICE naming anything else is dropped rather than relayed.
var documentedCTCP = map[string]bool{
	"VERSION":    true,
	"TIME":       true,
	"PING":       true,
	"CLIENTINFO": true,
	"ACTION":     true,
}

// ctcpVerb extracts the command token from a \x01...\x01-wrapped
// message body. ok is false when text isn't CTCP at all.
func ctcpVerb(text string) (verb string, ok bool) {
	if len(text) < 2 || text[0] != '\x01' || text[len(text)-1] != '\x01' {
		return "", false
	}
	inner := text[1 : len(text)-1]
	if sp := strings.IndexByte(inner, ' '); sp >= 0 {
		inner = inner[:sp]
	}
	return strings.ToUpper(inner), true
}

// HandleMessageToTarget implements PRIVMSG/NOTICE/TAGMSG (§4.3). cmdName
// distinguishes the three so NOTICE/TAGMSG never generate automatic
// error replies to the sender.
func HandleMessageToTarget(dir ChannelDirectory, cmdName string) HandlerFunc {
	silent := cmdName == "NOTICE" || cmdName == "TAGMSG"
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 1 {
			if silent {
				return nil
			}
			return Fail(ErrNeedMoreParams, "Not enough parameters", cmdName)
		}
		targets := strings.Split(cmd.Params[0], ",")
		if cmdName == "PRIVMSG" && len(targets) > DefaultTargMax {
			return Fail(ErrTooManyTargets, "Too many recipients", cmd.Params[0])
		}
		u, ok := ctx.user()
		if !ok {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		if verb, isCTCP := ctcpVerb(cmd.Trailing()); isCTCP && !documentedCTCP[verb] {
			return nil
		}
		text := cmd.Trailing()
		for _, target := range targets {
			deliverOne(ctx, dir, u, cmdName, target, text, silent, cmd.Tags)
		}
		return nil
	}
}

func deliverOne(ctx *Context, dir ChannelDirectory, u *state.User, cmdName, target, text string, silent bool, tags []message.Tag) {
	out := &message.Message{
		Prefix:  &message.Prefix{Name: u.Nick(), User: u.Username, Host: u.Cloak},
		Command: cmdName,
		Tags:    tags,
		Params:  []string{target, text},
	}
	if isChannelTarget(target) {
		ch, ok := dir.Get(target)
		if !ok {
			if !silent {
				ctx.SendHandlerErr(Fail(ErrNoSuchChannel, "No such channel", target))
			}
			return
		}
		if flags, member := ch.MemberFlags(u.UID); ch.Snapshot().Modes['n'] && !member {
			if !silent {
				ctx.SendHandlerErr(Fail(ErrCannotSendToChan, "Cannot send to channel", target))
			}
			return
		} else if ch.Snapshot().Modes['m'] && member && flags == 0 {
			if !silent {
				ctx.SendHandlerErr(Fail(ErrCannotSendToChan, "Cannot send to channel (+m)", target))
			}
			return
		}
		ch.Broadcast(out, u.UID)
		return
	}
	dest, ok := ctx.Matrix.UserByNick(target)
	if !ok {
		if !silent {
			ctx.SendHandlerErr(Fail(ErrNoSuchNick, "No such nick/channel", target))
		}
		return
	}
	_ = dest.SendMessage(out)
}

// HandleMODE dispatches to channel or user mode handling based on the
// target's first byte (§4.3).
func HandleMODE(dir ChannelDirectory) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 1 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "MODE")
		}
		target := cmd.Params[0]
		if isChannelTarget(target) {
			return handleChannelMode(ctx, dir, cmd, target)
		}
		return handleUserMode(ctx, cmd, target)
	}
}

func handleChannelMode(ctx *Context, dir ChannelDirectory, cmd *message.Message, target string) error {
	ch, ok := dir.Get(target)
	if !ok {
		return Fail(ErrNoSuchChannel, "No such channel", target)
	}
	if len(cmd.Params) < 2 {
		snap := ch.Snapshot()
		ctx.SendNumeric("324", []string{target}, modeQueryString(snap))
		return nil
	}
	deltas, err := ParseModeString(cmd.Params[1], cmd.Params[2:])
	if err != nil {
		return Fail(ErrUnknownMode, "is an unknown mode char", cmd.Params[1])
	}
	flags, isMember := ch.MemberFlags(ctx.UID)
	if !isMember || flags&(channel.PrefixOp|channel.PrefixAdmin|channel.PrefixOwner|channel.PrefixHalfop) == 0 {
		return Fail(ErrChanOpPrivsNeeded, "You're not a channel operator", target)
	}
	ch.ApplyModes(deltas, false)
	return nil
}

func modeQueryString(snap channel.Snapshot) string {
	var letters []byte
	for l, on := range snap.Modes {
		if on {
			letters = append(letters, l)
		}
	}
	return "+" + string(letters)
}

func handleUserMode(ctx *Context, cmd *message.Message, target string) error {
	u, ok := ctx.user()
	if !ok || u.Nick() != target {
		return Fail(ErrUsersDontMatch, "Cannot change mode for other users")
	}
	if len(cmd.Params) < 2 {
		return nil
	}
	for _, d := range parseSimpleModeString(cmd.Params[1]) {
		switch d.Letter {
		case 'i', 'w', 's', 'z':
			u.SetMode(d.Letter, d.Add)
		case 'o':
			if !d.Add {
				u.SetOperPrivileges("")
			}
		default:
			return Fail(ErrUModeUnknownFlag, "Unknown MODE flag")
		}
	}
	return nil
}
