package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerion-net/ircd/message"
)

// BatchLines renders a CHATHISTORY reply as the wire-fingerprint batch
// pair from §6: `BATCH +<ref> chathistory <target>`, one message per
// envelope carrying its original msgid/time/account tags, then
// `BATCH -<ref>`.
func BatchLines(ref, target string, envs []Envelope) []*message.Message {
	out := make([]*message.Message, 0, len(envs)+2)
	out = append(out, &message.Message{
		Command: "BATCH",
		Params:  []string{"+" + ref, "chathistory", target},
	})
	for _, env := range envs {
		tags := append([]message.Tag(nil), env.Tags...)
		tags = append(tags,
			message.Tag{Key: "batch", Value: ref},
			message.Tag{Key: "msgid", Value: env.MsgID},
			message.Tag{Key: "time", Value: time.Unix(0, env.Nanos).UTC().Format("2006-01-02T15:04:05.000Z")},
		)
		if env.Account != "" {
			tags = append(tags, message.Tag{Key: "account", Value: env.Account})
		}
		out = append(out, &message.Message{
			Tags:    tags,
			Prefix:  parsePrefixDisplay(env.Prefix, env.Sender),
			Command: env.Command,
			Params:  []string{target, env.Text},
		})
	}
	out = append(out, &message.Message{Command: "BATCH", Params: []string{"-" + ref}})
	return out
}

// parsePrefixDisplay reconstructs a Prefix from its stored "nick!user@host"
// text so replay is byte-identical to the original sender prefix.
func parsePrefixDisplay(full, fallback string) *message.Prefix {
	if full == "" {
		return &message.Prefix{Name: fallback}
	}
	name := full
	var user, host string
	if at := strings.IndexByte(name, '@'); at >= 0 {
		host = name[at+1:]
		name = name[:at]
	}
	if bang := strings.IndexByte(name, '!'); bang >= 0 {
		user = name[bang+1:]
		name = name[:bang]
	}
	return &message.Prefix{Name: name, User: user, Host: host}
}

// NewBatchRef derives a short, collision-resistant batch reference
// from a monotonically increasing counter supplied by the caller (the
// session's own per-connection counter is sufficient; batch refs only
// need to be unique within one connection's lifetime per IRCv3).
func NewBatchRef(counter uint64) string {
	return fmt.Sprintf("hist%d", counter)
}
