package channel

// Prefix flags (§3, §4.3), ordered highest privilege first. The
// membership payload stored in the OR-Set is a bitmask of these.
const (
	PrefixOwner uint8 = 1 << iota
	PrefixAdmin
	PrefixOp
	PrefixHalfop
	PrefixVoice
)

// prefixLetter maps a status bit to its RFC 2812 mode letter and
// NAMES-reply sigil.
var prefixLetter = []struct {
	bit    uint8
	letter byte
	sigil  byte
}{
	{PrefixOwner, 'q', '~'},
	{PrefixAdmin, 'a', '&'},
	{PrefixOp, 'o', '@'},
	{PrefixHalfop, 'h', '%'},
	{PrefixVoice, 'v', '+'},
}

func letterForBit(bit uint8) (byte, bool) {
	for _, p := range prefixLetter {
		if p.bit == bit {
			return p.letter, true
		}
	}
	return 0, false
}

func bitForLetter(l byte) (uint8, bool) {
	for _, p := range prefixLetter {
		if p.letter == l {
			return p.bit, true
		}
	}
	return 0, false
}

// Sigil returns the highest-privilege prefix sigil for a membership
// bitmask, or 0 if the member holds no status.
func Sigil(flags uint8) byte {
	for _, p := range prefixLetter {
		if flags&p.bit != 0 {
			return p.sigil
		}
	}
	return 0
}

// ListModeKind distinguishes the five classes of channel mode letter
// (§3): list modes can be queried bare, the key carries a parameter
// both when set and when unset, the limit carries one only when being
// set, flag modes never carry a parameter, and membership modes name a
// target nick.
type ListModeKind int

const (
	ModeKindList ListModeKind = iota // ban, except, invex
	ModeKindParamAlways              // key
	ModeKindParamOnSet                // limit
	ModeKindFlag                     // i, m, n, s, t, c, C, R, T, ...
	ModeKindMembership               // q a o h v — require a target nick
)

var modeKind = map[byte]ListModeKind{
	'b': ModeKindList,
	'e': ModeKindList,
	'I': ModeKindList,
	'q': ModeKindMembership,
	'a': ModeKindMembership,
	'o': ModeKindMembership,
	'h': ModeKindMembership,
	'v': ModeKindMembership,
	'k': ModeKindParamAlways,
	'l': ModeKindParamOnSet,
	'i': ModeKindFlag,
	'm': ModeKindFlag,
	'n': ModeKindFlag,
	's': ModeKindFlag,
	't': ModeKindFlag,
	'c': ModeKindFlag,
	'C': ModeKindFlag,
	'R': ModeKindFlag,
	'T': ModeKindFlag,
	'P': ModeKindFlag,
}

// Delta is one applied "+x" or "-x" step, as it lands in a coalesced
// broadcast MODE line.
type Delta struct {
	Add     bool
	Letter  byte
	Arg     string
	Rejected bool // could not be applied (bad limit, unknown or non-member nick, unknown letter); not included in the broadcast
}

// ModeString renders a coalesced delta list into wire form, e.g.
// "+ov-b alice bob *!*@host".
func ModeString(deltas []Delta) (string, []string) {
	var plus, minus []byte
	var args []string
	for _, d := range deltas {
		if d.Rejected {
			continue
		}
		if d.Add {
			plus = append(plus, d.Letter)
		} else {
			minus = append(minus, d.Letter)
		}
		if d.Arg != "" {
			args = append(args, d.Arg)
		}
	}
	s := ""
	if len(plus) > 0 {
		s += "+" + string(plus)
	}
	if len(minus) > 0 {
		s += "-" + string(minus)
	}
	return s, args
}
