package state

import "sync/atomic"

// uidAlphabet is the TS6 base-36 digit set used for both SIDs (after
// the fixed leading digit) and UID suffixes.
const uidAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// UIDGenerator mints 9-character TS6 user identifiers for one server:
// the server's 3-character SID followed by a 6-character counter that
// rolls through uidAlphabet^6 before wrapping (§ Glossary: UID).
type UIDGenerator struct {
	sid     string
	counter uint64
}

func NewUIDGenerator(sid string) *UIDGenerator { return &UIDGenerator{sid: sid} }

func (g *UIDGenerator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	var suffix [6]byte
	for i := 5; i >= 0; i-- {
		suffix[i] = uidAlphabet[n%36]
		n /= 36
	}
	return g.sid + string(suffix[:])
}
