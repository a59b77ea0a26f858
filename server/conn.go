package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/nerion-net/ircd/auth"
	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/ratelimit"
	"github.com/nerion-net/ircd/router"
	"github.com/nerion-net/ircd/session"
	"github.com/nerion-net/ircd/state"
)

// connSender adapts a net.Conn plus a bounded SendQ into a state.Sender
// (§4.8): TrySend never blocks the caller, and a writer goroutine
// drains the queue onto the wire. Mirrors the teacher's throttle.go
// wrapping of a connection with a token-bucket limited Writer.
type connSender struct {
	conn net.Conn
	q    *ratelimit.SendQ
}

func newConnSender(conn net.Conn, depth int) *connSender {
	return &connSender{conn: conn, q: ratelimit.NewSendQ(depth)}
}

func (s *connSender) Send(line []byte) state.SendResult {
	switch s.q.TrySend(line) {
	case ratelimit.TrySendOK:
		return state.SendOK
	case ratelimit.TrySendFull:
		return state.SendQueueFull
	default:
		return state.SendClosed
	}
}

// run drains the SendQ onto conn until the queue closes or a write
// fails; it is started in its own goroutine per connection, paired
// with the reader the way every teacher connection task pairs a
// relay-out goroutine with a read loop.
func (s *connSender) run() {
	for line := range s.q.Recv() {
		if _, err := s.conn.Write(line); err != nil {
			return
		}
	}
}

func (s *connSender) close() { s.q.Close() }

// Conn wires one accepted connection through the full registration
// and command-dispatch pipeline: decode, flood-gate, resolve against
// the router's state-scoped tables, reply.
type Conn struct {
	srv  *Server
	conn net.Conn
	uid  string
	sid  string

	sess   *session.Session
	sender *connSender

	msgRate *ratelimit.FloodLimiter
	ctcpRate *ratelimit.FloodLimiter

	realIP string
	webircTrusted bool
}

func (s *Server) newConn(conn net.Conn) *Conn {
	c := &Conn{
		srv:      s,
		conn:     conn,
		uid:      s.uids.Next(),
		sid:      s.SID,
		sess:     session.New(),
		sender:   newConnSender(conn, int(s.Config.Global.SendQBytes)),
		msgRate:  ratelimit.NewFloodLimiter(s.Config.Global.MessageRatePerSec, s.Config.Global.MessageBurst),
		ctcpRate: ratelimit.NewFloodLimiter(s.Config.Global.CTCPRatePerSec, 4),
	}
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		c.realIP = host
	}
	return c
}

// Serve runs one connection to completion: it never returns until the
// connection is done, and removes any registered user before it
// returns. The caller is responsible for closing conn.
func (c *Conn) Serve(ctx context.Context) {
	go c.sender.run()
	defer c.sender.close()
	defer c.cleanup()

	rd := bufio.NewReaderSize(c.conn, 8192)
	var buf []byte
	pinger := ratelimit.NewPingKeeper(c.srv.Config.Global.PingFrequency, c.srv.Config.Global.PingTimeout)
	_ = pinger // unused: no PING is sent; once registered, the read deadline is moved PingTimeout past each read

	deadline := time.Now().Add(c.srv.Config.Global.RegistrationTimeout)
	_ = c.conn.SetReadDeadline(deadline)

	for {
		consumed, ref, err := message.Decode(buf)
		if err == nil {
			msg, merr := ref.Materialize()
			buf = append([]byte(nil), buf[consumed:]...)
			if merr != nil {
				continue
			}
			c.dispatch(msg)
			if c.sess.State() == session.StateTerminated {
				return
			}
			continue
		}
		chunk := make([]byte, 4096)
		n, rerr := rd.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > message.MaxBodyBytes*8 {
				return // excess unparsed input: treat as a flood, drop the connection
			}
		}
		if rerr != nil {
			return
		}
		if c.sess.State() == session.StateRegistered {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.Config.Global.PingTimeout))
		}
	}
}

// isCTCP reports whether text is a CTCP-wrapped message body: it
// begins and ends with the CTCP delimiter 0x01.
func isCTCP(text string) bool {
	return len(text) >= 2 && text[0] == 0x01 && text[len(text)-1] == 0x01
}

func (c *Conn) dispatch(msg *message.Message) {
	if msg.Command == "" {
		return
	}
	upper := strings.ToUpper(msg.Command)
	msg.Command = upper

	if upper != "PING" && upper != "PONG" && !c.msgRate.Allow() {
		if _, shouldKill := c.msgRate.Strike(20); shouldKill {
			c.sess.Terminate()
		}
		return
	}

	// A PRIVMSG/NOTICE whose text is wrapped in \x01...\x01 is CTCP and
	// burns the separate, tighter ctcpRate bucket in addition to the
	// message rate limiter above (§4.8, §4.3).
	if (upper == "PRIVMSG" || upper == "NOTICE") && isCTCP(msg.Trailing()) && !c.ctcpRate.Allow() {
		return
	}

	ctx := &router.Context{
		ServerName: c.srv.Config.Global.ServerName,
		UID:        c.uid,
		Sess:       c.sess,
		Matrix:     c.srv.Matrix,
		Authority:  c.srv.Authority,
		Clock:      c.srv.Clock,
		Replicator: c.srv.replicatorOrNil(),
		Reply: func(m *message.Message) {
			line, err := message.Encode(m)
			if err != nil {
				return
			}
			c.sender.Send(line)
		},
		CompleteRegistration: c.completeRegistration,
		Fingerprint:          c.tlsFingerprint,
	}
	c.srv.Router.Dispatch(ctx, c.sess.State(), msg)
}

// completeRegistration mints the *state.User at the exact Unregistered/
// Negotiating -> Registered edge (§4.2): host is cloaked here, never
// stored as a separate "rewrite later" step, since the real host is
// already known as soon as the TCP connection or a trusted WEBIRC line
// establishes it.
func (c *Conn) completeRegistration(nick, username, realname string) (*state.User, error) {
	host := c.realIP
	if reg := c.sess.Registration(); reg.WebIRCTrusted && reg.WebIRCRealIP != "" {
		host = reg.WebIRCRealIP
	}
	displayHost := host
	if c.srv.Cloaker != nil {
		displayHost = c.srv.Cloaker.Cloak(host)
	}
	u := state.NewUser(c.uid, c.sid, nick, username, realname, host, displayHost, c.sender)
	if err := c.srv.Matrix.RegisterUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

// tlsFingerprint returns the SHA-256 fingerprint of the peer
// certificate presented on this connection, for SASL EXTERNAL; "" on
// a plaintext connection or one that presented no certificate.
func (c *Conn) tlsFingerprint() string {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return ""
	}
	state := tc.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return auth.Fingerprint(state.PeerCertificates[0])
}

func (c *Conn) cleanup() {
	u, ok := c.srv.Matrix.UserByUID(c.uid)
	if !ok {
		return
	}
	for _, ch := range c.srv.Channels.All() {
		if _, isMember := ch.MemberFlags(c.uid); isMember {
			ch.Quit(c.uid, u.Nick(), u.Username, u.Cloak, "Connection closed")
		}
	}
	ts := c.srv.Clock.Tick()
	if rep := c.srv.replicatorOrNil(); rep != nil {
		rep.MirrorQuit(c.uid, "Connection closed", ts)
	}
	u.MarkQuit()
	c.srv.Matrix.RemoveUser(c.uid)
}

// tlsConfigFor builds a *tls.Config for a listener stanza; kept here
// rather than in netio so server owns certificate reloading on REHASH.
func tlsConfigFor(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}
