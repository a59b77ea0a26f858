package router

import (
	"strings"

	"github.com/nerion-net/ircd/message"
)

// HandleUSERHOST implements USERHOST (§4.3 post-registration table):
// up to 5 nicks, each answered with nick[*][=[+|-]user@host.
func HandleUSERHOST(ctx *Context, cmd *message.Message) error {
	var out []string
	for i, nick := range cmd.Params {
		if i >= 5 {
			break
		}
		u, ok := ctx.Matrix.UserByNick(nick)
		if !ok {
			continue
		}
		sigil := "+"
		if u.AwayMessage() != "" {
			sigil = "-"
		}
		oper := ""
		if u.IsOper() {
			oper = "*"
		}
		out = append(out, u.Nick()+oper+"="+sigil+u.Username+"@"+u.Cloak)
	}
	ctx.SendNumeric("302", nil, strings.Join(out, " "))
	return nil
}

// HandleMETADATA implements a single-server subset of draft/metadata-2
// (§4.2 post-registration table): GET/LIST read a target's key/value
// store, SET/CLEAR mutate the caller's own. There is no cross-server
// sync and no visibility model (every key behaves as "public") since
// this module is a single standalone-or-linked-cluster server, not a
// network running independent services.
func HandleMETADATA(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 2 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "METADATA")
	}
	targetNick := cmd.Params[0]
	sub := strings.ToUpper(cmd.Params[1])
	target, ok := ctx.Matrix.UserByNick(targetNick)
	if !ok {
		return Fail(ErrNoSuchNick, "No such nick/channel", targetNick)
	}

	switch sub {
	case "LIST":
		for k, v := range target.AllMetadata() {
			ctx.SendNumeric("761", []string{target.Nick(), k, "*"}, v)
		}
		ctx.SendNumeric("762", []string{target.Nick()}, "end of metadata")
		return nil
	case "GET":
		for _, key := range cmd.Params[2:] {
			if v, ok := target.Metadata(key); ok {
				ctx.SendNumeric("761", []string{target.Nick(), key, "*"}, v)
			} else {
				ctx.SendNumeric("766", []string{target.Nick(), key}, "key not set")
			}
		}
		ctx.SendNumeric("762", []string{target.Nick()}, "end of metadata")
		return nil
	case "SET":
		u, reg := ctx.user()
		if !reg {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		if u.UID != target.UID {
			return Fail(ErrUsersDontMatch, "Can't set metadata for other users")
		}
		if len(cmd.Params) < 3 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "METADATA")
		}
		key := cmd.Params[2]
		value := ""
		if len(cmd.Params) > 3 {
			value = cmd.Params[3]
		}
		if !u.SetMetadata(key, value) {
			ctx.SendNumeric("764", []string{key}, "metadata limit reached")
			return nil
		}
		ctx.SendNumeric("761", []string{u.Nick(), key, "*"}, value)
		return nil
	case "CLEAR":
		u, reg := ctx.user()
		if !reg {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		if u.UID != target.UID {
			return Fail(ErrUsersDontMatch, "Can't clear metadata for other users")
		}
		u.ClearAllMetadata()
		ctx.SendNumeric("762", []string{u.Nick()}, "end of metadata")
		return nil
	default:
		return Fail(ErrUnknownCommand, "Unknown METADATA subcommand", sub)
	}
}

// HandleSETNAME implements the setname capability's SETNAME command:
// change realname and announce it to every channel the user shares
// membership in, mirroring how NICK's change is broadcast.
func HandleSETNAME(dir ChannelDirectory) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		u, ok := ctx.user()
		if !ok {
			return Fail(ErrNotRegistered, "You have not registered")
		}
		realname := cmd.Trailing()
		u.SetRealName(realname)
		setnameMsg := &message.Message{
			Prefix:  &message.Prefix{Name: u.Nick(), User: u.Username, Host: u.Cloak},
			Command: "SETNAME",
			Params:  []string{realname},
		}
		for _, h := range ctx.Matrix.AllChannels() {
			if ch, ok := dir.Get(h.Name()); ok {
				if _, isMember := ch.MemberFlags(u.UID); isMember {
					ch.Broadcast(setnameMsg, "")
				}
			}
		}
		return nil
	}
}

// HandleMONITOR implements MONITOR +/-/C/L/S (§4.3): tracking nick
// online/offline transitions is the connection supervisor's job once
// a nick is added (it consults ctx.Matrix on every registration/quit);
// this handler only maintains the per-session watch list and answers
// immediate queries.
func HandleMONITOR(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 1 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "MONITOR")
	}
	u, ok := ctx.user()
	if !ok {
		return Fail(ErrNotRegistered, "You have not registered")
	}
	sub := cmd.Params[0]
	switch sub {
	case "+":
		if len(cmd.Params) < 2 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "MONITOR")
		}
		var online, offline []string
		for _, nick := range strings.Split(cmd.Params[1], ",") {
			u.SetMonitoring(nick, true)
			if _, ok := ctx.Matrix.UserByNick(nick); ok {
				online = append(online, nick)
			} else {
				offline = append(offline, nick)
			}
		}
		if len(online) > 0 {
			ctx.SendNumeric("730", nil, strings.Join(online, ","))
		}
		if len(offline) > 0 {
			ctx.SendNumeric("731", nil, strings.Join(offline, ","))
		}
	case "-":
		if len(cmd.Params) < 2 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "MONITOR")
		}
		for _, nick := range strings.Split(cmd.Params[1], ",") {
			u.SetMonitoring(nick, false)
		}
	case "C":
		u.ClearMonitoring()
	case "L":
		for _, nick := range u.MonitoredNicks() {
			ctx.SendNumeric("732", nil, nick)
		}
		ctx.SendNumeric("733", nil, "End of MONITOR list")
	case "S":
		var online, offline []string
		for _, nick := range u.MonitoredNicks() {
			if _, ok := ctx.Matrix.UserByNick(nick); ok {
				online = append(online, nick)
			} else {
				offline = append(offline, nick)
			}
		}
		if len(online) > 0 {
			ctx.SendNumeric("730", nil, strings.Join(online, ","))
		}
		if len(offline) > 0 {
			ctx.SendNumeric("731", nil, strings.Join(offline, ","))
		}
	default:
		return Fail(ErrUnknownCommand, "Unknown MONITOR subcommand", sub)
	}
	return nil
}

// HandleWALLOPS implements the operator-only WALLOPS broadcast: every
// locally-connected user with usermode +w set receives it.
func HandleWALLOPS(ctx *Context, cmd *message.Message) error {
	u, ok := ctx.user()
	if !ok || !u.IsOper() {
		return Fail(ErrNoPrivileges, "Permission Denied- You're not an IRC operator")
	}
	out := &message.Message{
		Prefix:  &message.Prefix{Name: u.Nick(), User: u.Username, Host: u.Cloak},
		Command: "WALLOPS",
		Params:  []string{cmd.Trailing()},
	}
	for _, target := range ctx.Matrix.AllUsers() {
		if target.HasMode('w') {
			_ = target.SendMessage(out)
		}
	}
	return nil
}

// XlineStore is the ban repository subset needed by K/D/G/Z/R-line and
// SHUN (§6): CRUD with expiry, matched against user@host or a CIDR
// mask for D/Z-lines.
type XlineStore interface {
	Add(kind, mask, reason string, expirySeconds int, setBy string) error
	Remove(kind, mask string) error
}

// HandleXline implements the KLINE/DLINE/GLINE/ZLINE/RLINE/SHUN family
// and their UN- reversal forms as one parameterized handler, since all
// six share the same "mask [expiry] :reason" grammar (§6).
func HandleXline(kind string, remove bool, store XlineStore) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		u, ok := ctx.user()
		if !ok || !u.IsOper() {
			return Fail(ErrNoPrivileges, "Permission Denied- You're not an IRC operator")
		}
		if len(cmd.Params) < 1 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", kind)
		}
		mask := cmd.Params[0]
		if remove {
			if err := store.Remove(kind, mask); err != nil {
				return Fail(ErrNoSuchNick, "No such ban", mask)
			}
			ctx.noticeFromServer(kind + " removed for " + mask)
			return nil
		}
		expiry := 0
		if len(cmd.Params) > 1 {
			if n, err := parsePositiveInt(cmd.Params[1]); err == nil {
				expiry = n
			}
		}
		if err := store.Add(kind, mask, cmd.Trailing(), expiry, u.Nick()); err != nil {
			return Fail(ErrNoPrivileges, "Could not set ban", mask)
		}
		ctx.noticeFromServer(kind + " set for " + mask)
		return nil
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, Fail(ErrNeedMoreParams, "not a number")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// HandleREHASH reloads configuration (§6): security limits, oper
// blocks and link blocks apply immediately; listeners are not
// restarted. reload is supplied by the wiring layer, which owns the
// *ircdconfig.ServerConfig and the fsnotify watcher.
func HandleREHASH(reload func() error) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		u, ok := ctx.user()
		if !ok || !u.IsOper() {
			return Fail(ErrNoPrivileges, "Permission Denied- You're not an IRC operator")
		}
		if err := reload(); err != nil {
			ctx.SendNumeric("382", nil, "REHASH failed: "+err.Error())
			return nil
		}
		ctx.SendNumeric("382", nil, "Rehashing configuration")
		return nil
	}
}
