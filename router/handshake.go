package router

import (
	"encoding/base64"
	"strings"

	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/session"
)

// supportedCaps is the CAP LS 302 advertisement of §6. It carries no
// sts token, and HandleCAP advertises the list as is.
var supportedCaps = []string{
	"multi-prefix", "userhost-in-names", "away-notify", "account-notify",
	"extended-join", "sasl=PLAIN,EXTERNAL", "monitor", "account-tag",
	"echo-message", "server-time", "message-tags", "msgid",
	"labeled-response", "batch", "cap-notify", "chghost", "invite-notify",
	"setname", "standard-replies",
	"draft/chathistory", "draft/multiline", "draft/read-marker", "typing",
	"draft/event-playback", "draft/message-redaction", "extended-monitor",
	"draft/account-registration",
}

// HandleCAP implements CAP LS/LIST/REQ/END (§4.2). LS and REQ suspend
// registration exactly as the typestate machine requires; END resumes
// it (and completes registration immediately if NICK/USER are already
// in hand).
func HandleCAP(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 1 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "CAP")
	}
	sub := strings.ToUpper(cmd.Params[0])
	switch sub {
	case "LS":
		ctx.Sess.BeginCapNegotiation()
		ctx.Reply(capReply(ctx, "LS", strings.Join(supportedCaps, " ")))
	case "LIST":
		var have []string
		for _, c := range supportedCaps {
			name := strings.SplitN(c, "=", 2)[0]
			if ctx.Sess.HasRequestedCap(name) {
				have = append(have, name)
			}
		}
		ctx.Reply(capReply(ctx, "LIST", strings.Join(have, " ")))
	case "REQ":
		ctx.Sess.BeginCapNegotiation()
		requested := strings.Fields(cmd.Trailing())
		for _, name := range requested {
			ctx.Sess.RequestCap(strings.TrimPrefix(name, "-"))
		}
		ctx.Reply(capReply(ctx, "ACK", strings.Join(requested, " ")))
	case "END":
		if ctx.Sess.EndCapNegotiation() {
			finishRegistration(ctx)
		}
	default:
		return Fail(ErrUnknownCommand, "Unknown command", "CAP "+sub)
	}
	return nil
}

func capReply(ctx *Context, sub, trailing string) *message.Message {
	return &message.Message{
		Prefix:  &message.Prefix{Name: ctx.ServerName},
		Command: "CAP",
		Params:  []string{ctx.currentNick(), sub, trailing},
	}
}

// HandlePASS implements the pre-registration PASS command (§4.2). A
// PASS sent after registration is an error per RFC 2812; this handler
// is only ever reachable from the pre-registration table so that case
// cannot occur.
func HandlePASS(ctx *Context, cmd *message.Message) error {
	if len(cmd.Params) < 1 {
		return Fail(ErrNeedMoreParams, "Not enough parameters", "PASS")
	}
	ctx.Sess.SetPass(cmd.Params[0])
	return nil
}

// HandleWEBIRC implements the gateway-trust extension (§4.2: "must
// precede anything else"). Trust is decided by verify alone; the
// connecting address is not checked against any allow-list, neither
// here nor at the listener.
func HandleWEBIRC(verify func(password, gateway string) bool) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 4 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "WEBIRC")
		}
		password, gateway, _, realIP := cmd.Params[0], cmd.Params[1], cmd.Params[2], cmd.Params[3]
		if !verify(password, gateway) {
			return Fail(ErrPasswdMismatch, "Password incorrect")
		}
		ctx.Sess.TrustWebIRC(realIP, gateway)
		return nil
	}
}

// HandleAUTHENTICATE implements the SASL sub-state machine (§4.2):
// "AUTHENTICATE <mech>" begins a mechanism, subsequent
// "AUTHENTICATE <base64-chunk>" lines accumulate into the bounded
// buffer, and "AUTHENTICATE +" with nothing further signals the
// payload is complete. verify is supplied by the wiring layer since it
// needs the account repository and the TLS certificate fingerprint
// off the connection.
func HandleAUTHENTICATE(verifyPlain func(authzid, authcid, password string) bool, verifyExternal func(fingerprint string) (account string, ok bool)) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 1 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "AUTHENTICATE")
		}
		payload := cmd.Params[0]
		if ctx.Sess.SASLState() == session.SASLNone {
			switch strings.ToUpper(payload) {
			case "PLAIN", "EXTERNAL":
				ctx.Sess.BeginSASL(strings.ToUpper(payload))
				ctx.Reply(&message.Message{Command: "AUTHENTICATE", Params: []string{"+"}})
			default:
				ctx.abortSASL904("SASL mechanism not supported")
			}
			return nil
		}

		if payload != "+" {
			chunk, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				ctx.abortSASL904("Invalid base64 payload")
				return nil
			}
			if err := ctx.Sess.AppendSASLChunk(chunk); err != nil {
				ctx.abortSASL904("SASL message too long")
				return nil
			}
			if len(payload) == 400 {
				return nil // full-length chunk: more may follow
			}
		}

		raw := ctx.Sess.TakeSASLPayload()
		switch ctx.Sess.SASLState() {
		case session.SASLWaitingForData:
			parts := strings.SplitN(string(raw), "\x00", 3)
			if verifyPlain == nil || len(parts) != 3 || !verifyPlain(parts[0], parts[1], parts[2]) {
				ctx.abortSASL904("SASL authentication failed")
				return nil
			}
			ctx.Sess.CompleteSASL()
			ctx.SendNumeric("903", nil, "SASL authentication successful")
		case session.SASLWaitingForExternal:
			fp := ""
			if ctx.Fingerprint != nil {
				fp = ctx.Fingerprint()
			}
			if verifyExternal == nil {
				ctx.abortSASL904("SASL authentication failed")
				return nil
			}
			account, ok := verifyExternal(fp)
			if !ok {
				ctx.abortSASL904("SASL authentication failed")
				return nil
			}
			ctx.Sess.CompleteSASL()
			ctx.SendNumeric("903", nil, "SASL authentication successful: "+account)
		}
		return nil
	}
}

func (c *Context) abortSASL904(reason string) {
	c.Sess.AbortSASL()
	c.SendNumeric("904", nil, reason)
}

// HandleSTARTTLS acknowledges STARTTLS on a listener that can upgrade
// in place; a listener bound as plaintext-only rejects it with
// ERR_STARTTLS-equivalent 691, which this handler sends directly as a
// numeric since §7's taxonomy has no dedicated kind for it.
func HandleSTARTTLS(canUpgrade bool) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if !canUpgrade {
			ctx.SendNumeric("691", nil, "STARTTLS failed")
			return nil
		}
		ctx.SendNumeric("670", nil, "STARTTLS successful, proceed with TLS handshake")
		return nil
	}
}

// HandleREGISTER implements the draft/account-registration extension:
// REGISTER <account> <email-or-*> <password>. register is supplied by
// the wiring layer (Argon2id hashing belongs to the auth package, off
// the reactor).
func HandleREGISTER(register func(account, email, password string) error) HandlerFunc {
	return func(ctx *Context, cmd *message.Message) error {
		if len(cmd.Params) < 3 {
			return Fail(ErrNeedMoreParams, "Not enough parameters", "REGISTER")
		}
		account, email, password := cmd.Params[0], cmd.Params[1], cmd.Params[2]
		if register == nil {
			ctx.Reply(&message.Message{
				Prefix:  &message.Prefix{Name: ctx.ServerName},
				Command: "FAIL",
				Params:  []string{"REGISTER", "TEMPORARILY_UNAVAILABLE", account, "Account registration is not enabled"},
			})
			return nil
		}
		if err := register(account, email, password); err != nil {
			ctx.Reply(&message.Message{
				Prefix:  &message.Prefix{Name: ctx.ServerName},
				Command: "FAIL",
				Params:  []string{"REGISTER", "ACCOUNT_EXISTS", account, err.Error()},
			})
			return nil
		}
		ctx.Reply(&message.Message{
			Prefix:  &message.Prefix{Name: ctx.ServerName},
			Command: "REGISTER",
			Params:  []string{"SUCCESS", account, "Account created"},
		})
		return nil
	}
}
