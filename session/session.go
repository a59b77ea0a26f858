// Package session implements the registration handshake state machine
// of spec §4.2: a typestate that rejects privileged commands
// structurally rather than by scattered runtime checks, plus the SASL
// sub-state and the bounded AUTHENTICATE payload buffer. The teacher's
// ingest/muxer.go drives a comparable accept-then-handshake-then-steady-
// state connection lifecycle (PASS/hello before entries flow); this
// package generalizes that shape to IRC's richer, branching
// registration sequence.
package session

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

// ConnectionState is the coarse typestate (§4.2). Dispatch tables in
// the router package are keyed off this so a post-registration verb
// sent by an Unregistered client never reaches its handler.
type ConnectionState int

const (
	StateUnregistered ConnectionState = iota
	StateNegotiating
	StateRegistered
	StateTerminated
)

func (s ConnectionState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateNegotiating:
		return "negotiating"
	case StateRegistered:
		return "registered"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SASLState is the AUTHENTICATE sub-state machine nested inside
// Negotiating (§4.2).
type SASLState int

const (
	SASLNone SASLState = iota
	SASLWaitingForData
	SASLWaitingForExternal
	SASLAuthenticated
)

const (
	DefaultRegistrationTimeout = 10 * time.Second
	MinRegistrationTimeout     = 2 * time.Second
	MaxSASLBufferBytes         = 16384
)

var (
	ErrWrongState       = errors.New("session: command not valid in current state")
	ErrSASLBufferFull   = errors.New("session: SASL payload exceeds maximum size")
	ErrAlreadyNegotiated = errors.New("session: CAP END with no negotiation in progress")
)

// Registration accumulates the pieces of the handshake before the
// session transitions to Registered. Nick/User/WEBIRC can arrive in
// any order; CAP negotiation can suspend the transition even after
// both are present.
type Registration struct {
	Nick     string
	User     string
	RealName string
	Pass     string

	WebIRCTrusted bool
	WebIRCRealIP  string
	WebIRCGateway string
}

func (r Registration) ready() bool { return r.Nick != "" && r.User != "" }

// Session is the per-connection state machine. All mutation happens
// from the single goroutine reading that connection (there is no
// internal locking for State/Registration/SASL — only SASLBuffer,
// which may be cleared by a timeout goroutine, takes a lock).
type Session struct {
	state ConnectionState
	reg   Registration

	negotiating    bool
	capsRequested  map[string]bool
	capNegotiationDone bool

	sasl       SASLState
	saslMech   string

	bufMu     sync.Mutex
	saslBuf   []byte

	registeredAt time.Time
}

func New() *Session {
	return &Session{state: StateUnregistered, capsRequested: make(map[string]bool)}
}

func (s *Session) State() ConnectionState { return s.state }

func (s *Session) Registration() Registration { return s.reg }

// BeginCapNegotiation moves the session into Negotiating, pausing any
// pending transition to Registered until CAP END.
func (s *Session) BeginCapNegotiation() {
	if s.state == StateUnregistered {
		s.state = StateNegotiating
	}
	s.negotiating = true
}

// EndCapNegotiation handles CAP END: it clears the pause and, if NICK
// and USER are already present, completes registration.
func (s *Session) EndCapNegotiation() bool {
	s.negotiating = false
	s.capNegotiationDone = true
	return s.maybeRegister()
}

func (s *Session) RequestCap(name string) { s.capsRequested[name] = true }

func (s *Session) HasRequestedCap(name string) bool { return s.capsRequested[name] }

// SetNick records NICK during registration and attempts the
// transition to Registered.
func (s *Session) SetNick(nick string) bool {
	s.reg.Nick = nick
	return s.maybeRegister()
}

// SetUser records USER during registration and attempts the
// transition to Registered.
func (s *Session) SetUser(user, realname string) bool {
	s.reg.User = user
	s.reg.RealName = realname
	return s.maybeRegister()
}

func (s *Session) SetPass(pass string) { s.reg.Pass = pass }

func (s *Session) TrustWebIRC(realIP, gateway string) {
	s.reg.WebIRCTrusted = true
	s.reg.WebIRCRealIP = realIP
	s.reg.WebIRCGateway = gateway
}

// maybeRegister completes the Unregistered/Negotiating -> Registered
// transition once both NICK and USER are present and no CAP
// negotiation is currently suspending it. Returns true if registration
// just completed.
func (s *Session) maybeRegister() bool {
	if s.state == StateRegistered || s.state == StateTerminated {
		return false
	}
	if s.negotiating {
		return false
	}
	if !s.reg.ready() {
		return false
	}
	s.state = StateRegistered
	s.registeredAt = time.Now()
	return true
}

func (s *Session) Terminate() { s.state = StateTerminated }

// ---- SASL ----

func (s *Session) BeginSASL(mech string) {
	s.saslMech = mech
	switch mech {
	case "PLAIN":
		s.sasl = SASLWaitingForData
	case "EXTERNAL":
		s.sasl = SASLWaitingForExternal
	default:
		s.sasl = SASLNone
	}
	s.bufMu.Lock()
	s.saslBuf = s.saslBuf[:0]
	s.bufMu.Unlock()
}

func (s *Session) SASLState() SASLState { return s.sasl }

// AppendSASLChunk accumulates one AUTHENTICATE line's base64-decoded
// payload into the secure buffer. "+" (empty continuation) sentinel
// handling is the caller's job; this just enforces the size cap.
func (s *Session) AppendSASLChunk(chunk []byte) error {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if len(s.saslBuf)+len(chunk) > MaxSASLBufferBytes {
		return ErrSASLBufferFull
	}
	s.saslBuf = append(s.saslBuf, chunk...)
	return nil
}

// TakeSASLPayload returns the accumulated buffer and clears it
// in-place (zeroing, not just truncating, since it may hold a
// password).
func (s *Session) TakeSASLPayload() []byte {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	out := make([]byte, len(s.saslBuf))
	copy(out, s.saslBuf)
	for i := range s.saslBuf {
		s.saslBuf[i] = 0
	}
	s.saslBuf = s.saslBuf[:0]
	return out
}

func (s *Session) CompleteSASL() { s.sasl = SASLAuthenticated }

func (s *Session) AbortSASL() {
	s.sasl = SASLNone
	s.bufMu.Lock()
	for i := range s.saslBuf {
		s.saslBuf[i] = 0
	}
	s.saslBuf = s.saslBuf[:0]
	s.bufMu.Unlock()
}

// ConstantTimeEqual reports whether a and b are equal, comparing them
// in constant time.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
