package s2s

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerion-net/ircd/crdt"
	"github.com/nerion-net/ircd/message"
)

// hlcTag is the message-tag key carrying a hybrid logical clock stamp
// on every routed S2S command, per §6: "every routed command carries
// the HLC stamp as a message tag on the wire when the peer negotiated
// the corresponding CAPAB token." This core always negotiates it.
const hlcTag = "hlc"

// stampHLC attaches ts to msg as the hlc tag, encoded "phys.logical.sid".
func stampHLC(msg *message.Message, ts crdt.HLC) {
	msg.Set(hlcTag, fmt.Sprintf("%d.%d.%s", ts.Physical, ts.Logical, ts.SID))
}

// readHLC extracts the hlc tag from msg, if present.
func readHLC(msg *message.Message) (crdt.HLC, bool) {
	raw, ok := msg.Get(hlcTag)
	if !ok {
		return crdt.HLC{}, false
	}
	parts := strings.SplitN(raw, ".", 3)
	if len(parts) != 3 {
		return crdt.HLC{}, false
	}
	phys, err1 := strconv.ParseInt(parts[0], 10, 64)
	logical, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return crdt.HLC{}, false
	}
	return crdt.HLC{Physical: phys, Logical: uint32(logical), SID: parts[2]}, true
}

// --- Handshake frames (§6: "PASS <password> TS 6 <sid>" + CAPAB + SERVER) ---

func passFrame(password, sid string) *message.Message {
	return &message.Message{Command: "PASS", Params: []string{password, "TS", "6", sid}}
}

func capabFrame(tokens ...string) *message.Message {
	return &message.Message{Command: "CAPAB", Params: []string{strings.Join(tokens, " ")}}
}

func serverFrame(name string, hopcount int, info string) *message.Message {
	return &message.Message{Command: "SERVER", Params: []string{name, strconv.Itoa(hopcount), info}}
}

// --- Burst frames (§6: UID, SJOIN, TMODE, TB, SID) ---

// uidFrame announces one local user to a peer during burst or on
// registration. params: uid nick hopcount username host cloak account realname.
func uidFrame(sid string, u RemoteUserInfo) *message.Message {
	return &message.Message{
		Prefix:  &message.Prefix{Name: sid},
		Command: "UID",
		Params:  []string{u.UID, u.Nick, "0", u.Username, u.Host, u.Cloak, orStar(u.Account), u.RealName},
	}
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// RemoteUserInfo is the subset of state.User fields replicated in a
// UID burst frame.
type RemoteUserInfo struct {
	UID, Nick, Username, Host, Cloak, Account, RealName string
}

// sjoinFrame bursts one channel's membership. prefixedUIDs is e.g.
// "@1AAAAAAAB +1AAAAAAAC 1AAAAAAAD" (sigil-prefixed UID list).
func sjoinFrame(ts crdt.HLC, channelName, modes string, modeArgs []string, prefixedUIDs string) *message.Message {
	params := append([]string{fmtPhys(ts), channelName, modes}, modeArgs...)
	params = append(params, prefixedUIDs)
	m := &message.Message{Command: "SJOIN", Params: params}
	stampHLC(m, ts)
	return m
}

func tmodeFrame(ts crdt.HLC, channelName, modes string, modeArgs []string) *message.Message {
	params := append([]string{fmtPhys(ts), channelName, modes}, modeArgs...)
	m := &message.Message{Command: "TMODE", Params: params}
	stampHLC(m, ts)
	return m
}

func tbFrame(ts crdt.HLC, channelName, setter, topic string) *message.Message {
	m := &message.Message{Command: "TB", Params: []string{channelName, fmtPhys(ts), setter, topic}}
	stampHLC(m, ts)
	return m
}

func sidFrame(rec ServerRecord) *message.Message {
	return &message.Message{
		Prefix:  &message.Prefix{Name: rec.ParentSID},
		Command: "SID",
		Params:  []string{rec.Name, strconv.Itoa(rec.Hopcount), rec.SID, rec.Info},
	}
}

func squitFrame(sid, reason string) *message.Message {
	return &message.Message{Command: "SQUIT", Params: []string{sid, reason}}
}

func fmtPhys(ts crdt.HLC) string { return strconv.FormatInt(ts.Physical, 10) }

// --- Steady-state mutation frames mirrored after burst ---

func remoteJoinFrame(ts crdt.HLC, uid, channelName string, sigil byte) *message.Message {
	prefix := ""
	if sigil != 0 {
		prefix = string(sigil)
	}
	m := &message.Message{
		Prefix:  &message.Prefix{Name: uid},
		Command: "JOIN",
		Params:  []string{channelName, prefix},
	}
	stampHLC(m, ts)
	return m
}

func remotePartFrame(ts crdt.HLC, uid, channelName, reason string) *message.Message {
	m := &message.Message{Prefix: &message.Prefix{Name: uid}, Command: "PART", Params: []string{channelName, reason}}
	stampHLC(m, ts)
	return m
}

func remoteKickFrame(ts crdt.HLC, kickerUID, channelName, targetUID, reason string) *message.Message {
	m := &message.Message{
		Prefix:  &message.Prefix{Name: kickerUID},
		Command: "KICK",
		Params:  []string{channelName, targetUID, reason},
	}
	stampHLC(m, ts)
	return m
}

func remoteQuitFrame(ts crdt.HLC, uid, reason string) *message.Message {
	m := &message.Message{Prefix: &message.Prefix{Name: uid}, Command: "QUIT", Params: []string{reason}}
	stampHLC(m, ts)
	return m
}

func remoteNickFrame(ts crdt.HLC, uid, newNick string) *message.Message {
	m := &message.Message{Prefix: &message.Prefix{Name: uid}, Command: "NICK", Params: []string{newNick}}
	stampHLC(m, ts)
	return m
}
