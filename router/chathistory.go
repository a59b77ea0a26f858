package router

import (
	"strconv"
	"strings"
	"time"

	"github.com/nerion-net/ircd/channel"
	"github.com/nerion-net/ircd/history"
	"github.com/nerion-net/ircd/message"
)

const DefaultChatHistoryLimit = 100

// HistoryProvider is the subset of *history.Store the router needs;
// kept as an interface so router doesn't force a concrete storage
// engine on callers (§4.6's "the core depends on repository
// interfaces, not a concrete storage format").
type HistoryProvider interface {
	Query(target string, from, to int64, limit int, order history.Order) ([]history.Envelope, error)
	LookupTimestamp(target, msgid string) (int64, error)
	Around(target string, centerNanos int64, limit int) ([]history.Envelope, error)
	QueryTargets(from, to int64, limit int, candidates []string) ([]string, error)
}

// BatchCounter hands out unique-per-connection batch reference
// numbers; the session supplies its own counter instance.
type BatchCounter struct{ n uint64 }

func (b *BatchCounter) Next() string {
	b.n++
	return history.NewBatchRef(b.n)
}

// parseMessageRef resolves a CHATHISTORY reference token
// (timestamp=ISO8601, msgid=<id>, or *) into a nanosecond timestamp.
func parseMessageRef(hp HistoryProvider, target, ref string) (int64, bool) {
	switch {
	case ref == "*" || ref == "":
		return 0, true
	case strings.HasPrefix(ref, "timestamp="):
		t, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(ref, "timestamp="))
		if err != nil {
			return 0, false
		}
		return t.UnixNano(), true
	case strings.HasPrefix(ref, "msgid="):
		ns, err := hp.LookupTimestamp(target, strings.TrimPrefix(ref, "msgid="))
		if err != nil {
			return 0, false
		}
		return ns, true
	default:
		t, err := time.Parse(time.RFC3339Nano, ref)
		if err != nil {
			return 0, false
		}
		return t.UnixNano(), true
	}
}

// HandleCHATHISTORY implements §4.3's CHATHISTORY contract: LATEST,
// BEFORE, AFTER, AROUND, BETWEEN, TARGETS.
func HandleCHATHISTORY(hp HistoryProvider, counter *BatchCounter) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 1 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "CHATHISTORY")
		}
		sub := strings.ToUpper(cmd.Params[0])
		if sub == "TARGETS" {
			return handleChatHistoryTargets(ctx, hp, cmd)
		}
		if len(cmd.Params) < 3 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "CHATHISTORY")
		}
		target := cmd.Params[1]
		limit := DefaultChatHistoryLimit
		if n, err := strconv.Atoi(cmd.Params[len(cmd.Params)-1]); err == nil {
			limit = n
		}

		var envs []history.Envelope
		var err error
		switch sub {
		case "LATEST":
			envs, err = hp.Query(target, 0, 0, limit, history.OrderDescending)
		case "BEFORE":
			to, ok := parseMessageRef(hp, target, cmd.Params[2])
			if !ok {
				return Fail(ErrNeedMoreParams, "Invalid message reference", cmd.Params[2])
			}
			envs, err = hp.Query(target, 0, to, limit, history.OrderDescending)
		case "AFTER":
			from, ok := parseMessageRef(hp, target, cmd.Params[2])
			if !ok {
				return Fail(ErrNeedMoreParams, "Invalid message reference", cmd.Params[2])
			}
			envs, err = hp.Query(target, from, 0, limit, history.OrderAscending)
		case "AROUND":
			center, ok := parseMessageRef(hp, target, cmd.Params[2])
			if !ok {
				return Fail(ErrNeedMoreParams, "Invalid message reference", cmd.Params[2])
			}
			envs, err = hp.Around(target, center, limit)
		case "BETWEEN":
			if len(cmd.Params) < 4 {
				return Fail(ErrNeedMoreParams, "Not enough parameters", "CHATHISTORY")
			}
			from, ok1 := parseMessageRef(hp, target, cmd.Params[2])
			to, ok2 := parseMessageRef(hp, target, cmd.Params[3])
			if !ok1 || !ok2 {
				return Fail(ErrNeedMoreParams, "Invalid message reference")
			}
			envs, err = hp.Query(target, from, to, limit, history.OrderAscending)
		default:
			return Fail(ErrUnknownCommand, "Unknown CHATHISTORY subcommand", sub)
		}
		if err != nil {
			return Fail(ErrNoSuchChannel, "History unavailable", target)
		}
		ref := counter.Next()
		for _, line := range history.BatchLines(ref, target, envs) {
			ctx.Reply(line)
		}
		return nil
	}
}

func handleChatHistoryTargets(ctx *Context, hp HistoryProvider, cmd *message.Message) error {
	candidates := targetCandidatesFor(ctx)
	targets, err := hp.QueryTargets(0, 0, DefaultChatHistoryLimit, candidates)
	if err != nil {
		return Fail(ErrNoSuchChannel, "History unavailable")
	}
	for _, t := range targets {
		ctx.Reply(&message.Message{Command: "CHATHISTORY", Params: []string{"TARGETS", t}})
	}
	return nil
}

// targetCandidatesFor enumerates the targets a user could plausibly
// have history for: the channels they belong to. A fuller
// implementation would also include recent DM partners tracked
// separately; channel membership is the set the state matrix already
// exposes cheaply.
func targetCandidatesFor(ctx *Context) []string {
	var out []string
	for _, h := range ctx.Matrix.AllChannels() {
		if ch, ok := h.(*channel.Channel); ok {
			if _, isMember := ch.MemberFlags(ctx.UID); isMember {
				out = append(out, ch.Name())
			}
		}
	}
	return out
}
