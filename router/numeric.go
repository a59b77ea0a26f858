package router

import "github.com/nerion-net/ircd/message"

// Numeric builds a well-formed `:<server> NNN <target> <params…>
// [:<trailing>]` reply (§4.3, §6). Handlers must go through this (or
// FromHandlerErr) rather than formatting a Message by hand, so every
// numeric has the same shape. The reply is sent as built; no tags are
// added downstream.
func Numeric(serverName, code, targetNick string, params []string, trailing string) *message.Message {
	p := append([]string{targetNick}, params...)
	if trailing != "" || len(p) == 1 {
		p = append(p, trailing)
	}
	return &message.Message{
		Prefix:  &message.Prefix{Name: serverName},
		Command: code,
		Params:  p,
	}
}

// FromHandlerErr renders a *HandlerErr into the matching numeric for
// delivery to targetNick.
func FromHandlerErr(serverName, targetNick string, e *HandlerErr) *message.Message {
	return Numeric(serverName, e.Kind.Numeric(), targetNick, e.LeadingArgs, e.Description)
}
