package router

import (
	"errors"

	"github.com/nerion-net/ircd/channel"
)

var errUnknownMode = errors.New("router: unknown mode letter")

// takesArgOnSet and takesArgAlways mirror channel.modeKind but are
// duplicated here (rather than exported) since the parser only needs
// to know "does this letter consume an argument", not the full kind
// taxonomy the channel actor uses internally.
var takesArgOnSet = map[byte]bool{'k': true, 'l': true, 'b': true, 'e': true, 'I': true, 'o': true, 'a': true, 'h': true, 'v': true, 'q': true}
var takesArgAlways = map[byte]bool{'b': true, 'e': true, 'I': true, 'o': true, 'a': true, 'h': true, 'v': true, 'q': true, 'k': true}

// ParseModeString parses an RFC 2812 mode string (e.g. "+ov-b") plus
// its trailing arguments into a Delta list (§4.3). List-mode letters
// (ban/except/invex) may be queried with no argument, in which case
// they are dropped from the returned deltas (the caller should reply
// with the list instead of applying anything).
func ParseModeString(modeStr string, args []string) ([]channel.Delta, error) {
	var deltas []channel.Delta
	add := true
	argi := 0
	for i := 0; i < len(modeStr); i++ {
		switch modeStr[i] {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}
		letter := modeStr[i]
		needsArg := (add && takesArgOnSet[letter]) || (!add && takesArgAlways[letter])
		arg := ""
		if needsArg {
			if argi >= len(args) {
				if letter == 'b' || letter == 'e' || letter == 'I' {
					continue // bare query, not a set
				}
				return nil, errUnknownMode
			}
			arg = args[argi]
			argi++
		}
		deltas = append(deltas, channel.Delta{Add: add, Letter: letter, Arg: arg})
	}
	return deltas, nil
}

// parseSimpleModeString parses a user-mode string, which never takes
// per-letter arguments.
func parseSimpleModeString(modeStr string) []channel.Delta {
	var deltas []channel.Delta
	add := true
	for i := 0; i < len(modeStr); i++ {
		switch modeStr[i] {
		case '+':
			add = true
		case '-':
			add = false
		default:
			deltas = append(deltas, channel.Delta{Add: add, Letter: modeStr[i]})
		}
	}
	return deltas
}
