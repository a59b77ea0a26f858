// Package router implements the command dispatch tables and handler
// contracts of spec §4.3: three tables keyed by ConnectionState,
// centralized numeric/tag formatting, and the fixed HandlerError
// taxonomy of §7. The teacher's ingest/muxer.go dispatches inbound
// frames to one of a small set of typed handlers behind a single
// switch keyed on a wire opcode; this package generalizes that same
// "parse, look up in a table, call a typed handler" shape to IRC's
// three state-scoped tables instead of one flat one.
package router

import "fmt"

// ErrorKind is the abstract handler-failure taxonomy from §7. Each
// kind maps to exactly one numeric (or connection action); handlers
// return a Kind, never a formatted numeric string directly.
type ErrorKind int

const (
	ErrNotRegistered ErrorKind = iota
	ErrNeedMoreParams
	ErrNicknameInUse
	ErrErroneousNickname
	ErrNoSuchNick
	ErrNoSuchChannel
	ErrCannotSendToChan
	ErrTooManyChannels
	ErrTooManyTargets
	ErrUnknownCommand
	ErrNoMotd
	ErrAlreadyRegistered
	ErrPasswdMismatch
	ErrYoureBannedCreep
	ErrChannelIsFull
	ErrUnknownMode
	ErrInviteOnlyChan
	ErrBannedFromChan
	ErrBadChannelKey
	ErrNoPrivileges
	ErrChanOpPrivsNeeded
	ErrUModeUnknownFlag
	ErrUsersDontMatch
	ErrInputTooLong
	ErrWasNoSuchNick
)

var numericFor = map[ErrorKind]string{
	ErrNotRegistered:     "451",
	ErrNeedMoreParams:    "461",
	ErrNicknameInUse:     "433",
	ErrErroneousNickname: "432",
	ErrNoSuchNick:        "401",
	ErrNoSuchChannel:     "403",
	ErrCannotSendToChan:  "404",
	ErrTooManyChannels:   "405",
	ErrTooManyTargets:    "407",
	ErrUnknownCommand:    "421",
	ErrNoMotd:            "422",
	ErrAlreadyRegistered: "462",
	ErrPasswdMismatch:    "464",
	ErrYoureBannedCreep:  "465",
	ErrChannelIsFull:     "471",
	ErrUnknownMode:       "472",
	ErrInviteOnlyChan:    "473",
	ErrBannedFromChan:    "474",
	ErrBadChannelKey:     "475",
	ErrNoPrivileges:      "481",
	ErrChanOpPrivsNeeded: "482",
	ErrUModeUnknownFlag:  "501",
	ErrUsersDontMatch:    "502",
	ErrInputTooLong:      "417",
	ErrWasNoSuchNick:     "406",
}

func (k ErrorKind) Numeric() string { return numericFor[k] }

// HandlerErr is what a handler returns on failure (§4.3, §7): a kind
// from the fixed taxonomy, the numeric's leading parameters (e.g. the
// nick or channel name being complained about), and the trailing
// human-readable description.
type HandlerErr struct {
	Kind        ErrorKind
	Description string
	LeadingArgs []string
}

// Fail constructs a *HandlerErr from a kind, the numeric's leading
// parameters, and the trailing colon-text.
func Fail(kind ErrorKind, description string, args ...string) *HandlerErr {
	return &HandlerErr{Kind: kind, Description: description, LeadingArgs: args}
}

func (e *HandlerErr) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind.Numeric(), e.Description, e.LeadingArgs)
}
