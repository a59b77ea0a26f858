package s2s

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/ratelimit"
)

var (
	ErrHandshakeFailed = errors.New("s2s: handshake failed")
	ErrLinkClosed       = errors.New("s2s: link closed")
)

// linkState mirrors the three-phase lifecycle of §4.7: a peer link
// handshakes, bursts, then runs steady state until torn down.
type linkState int

const (
	linkHandshaking linkState = iota
	linkBursting
	linkSteady
	linkClosed
)

// PeerLink is one S2S connection, reader and writer halves split and
// supervised together the way ingest/muxer.go's connRoutine/
// writeRelayRoutine pair manage one destination: a reader goroutine
// drains the socket and hands frames to the Replicator, a writer
// goroutine drains a bounded outbound queue onto the socket, and an
// errgroup ties their lifetimes so either one's exit tears down the
// other.
type PeerLink struct {
	SID  string
	Name string

	conn   net.Conn
	rd     *bufio.Reader
	outbox chan *message.Message

	byteRate *ratelimit.FloodLimiter // per-peer throughput cap, §4.7
	cmdRate  *ratelimit.FloodLimiter

	mu    sync.Mutex
	state linkState

	inboundBuf []byte
}

// NewPeerLink wraps an already-dialed-or-accepted connection. Rate
// limits default to the server-wide S2S caps; callers with
// per-link configuration can adjust via SetRateLimits.
func NewPeerLink(conn net.Conn) *PeerLink {
	return &PeerLink{
		conn:     conn,
		rd:       bufio.NewReaderSize(conn, 16*1024),
		outbox:   make(chan *message.Message, 2048),
		byteRate: ratelimit.NewFloodLimiter(0, 0), // exempt until configured
		cmdRate:  ratelimit.NewFloodLimiter(200, 400),
		state:    linkHandshaking,
	}
}

func (p *PeerLink) SetRateLimits(cmdsPerSec float64, cmdBurst int) {
	p.cmdRate = ratelimit.NewFloodLimiter(cmdsPerSec, cmdBurst)
}

func (p *PeerLink) State() linkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PeerLink) setState(s linkState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// HandshakeOutbound performs the client side of the §6 handshake:
// PASS/CAPAB/SERVER, then waits for the peer's matching SERVER line.
func (p *PeerLink) HandshakeOutbound(password, localSID, localName string, hopcount int, info string, caps ...string) error {
	if err := p.writeNow(passFrame(password, localSID)); err != nil {
		return err
	}
	if err := p.writeNow(capabFrame(caps...)); err != nil {
		return err
	}
	if err := p.writeNow(serverFrame(localName, hopcount, info)); err != nil {
		return err
	}
	return p.awaitServer()
}

// HandshakeInbound performs the accepting side: read PASS/CAPAB/SERVER
// from the peer, verify the password, and reply with our own.
func (p *PeerLink) HandshakeInbound(expectPassword, localSID, localName string, hopcount int, info string, caps ...string) error {
	msg, err := p.readNow()
	if err != nil || msg.Command != "PASS" {
		return fmt.Errorf("%w: expected PASS", ErrHandshakeFailed)
	}
	if len(msg.Params) < 1 || msg.Params[0] != expectPassword {
		return fmt.Errorf("%w: bad link password", ErrHandshakeFailed)
	}
	if len(msg.Params) >= 4 {
		p.SID = msg.Params[3]
	}
	if _, err := p.readNow(); err != nil { // CAPAB
		return fmt.Errorf("%w: expected CAPAB", ErrHandshakeFailed)
	}
	srv, err := p.readNow()
	if err != nil || srv.Command != "SERVER" || len(srv.Params) < 3 {
		return fmt.Errorf("%w: expected SERVER", ErrHandshakeFailed)
	}
	p.Name = srv.Params[0]
	if err := p.writeNow(passFrame(expectPassword, localSID)); err != nil {
		return err
	}
	if err := p.writeNow(capabFrame(caps...)); err != nil {
		return err
	}
	return p.writeNow(serverFrame(localName, hopcount, info))
}

// awaitServer consumes the peer's PASS/CAPAB/SERVER reply in the same
// order HandshakeInbound sends it, so the outbound side of the
// handshake stays symmetric with the accepting side.
func (p *PeerLink) awaitServer() error {
	pass, err := p.readNow()
	if err != nil || pass.Command != "PASS" {
		return fmt.Errorf("%w: expected PASS in reply", ErrHandshakeFailed)
	}
	if len(pass.Params) >= 4 {
		p.SID = pass.Params[3]
	}
	if _, err := p.readNow(); err != nil { // CAPAB
		return fmt.Errorf("%w: expected CAPAB in reply", ErrHandshakeFailed)
	}
	msg, err := p.readNow()
	if err != nil || msg.Command != "SERVER" || len(msg.Params) < 3 {
		return fmt.Errorf("%w: peer did not reply with SERVER", ErrHandshakeFailed)
	}
	p.Name = msg.Params[0]
	return nil
}

// writeNow bypasses the outbox for handshake frames, which must be
// sent in strict order before steady state begins.
func (p *PeerLink) writeNow(msg *message.Message) error {
	line, err := message.Encode(msg)
	if err != nil {
		return err
	}
	_, err = p.conn.Write(line)
	return err
}

// readNow blocks for exactly one frame, used only during handshake and
// burst where strict ordering matters more than throughput.
func (p *PeerLink) readNow() (*message.Message, error) {
	for {
		consumed, ref, err := message.Decode(p.inboundBuf)
		if err == nil {
			msg, merr := ref.Materialize()
			p.inboundBuf = append([]byte(nil), p.inboundBuf[consumed:]...)
			return msg, merr
		}
		if !errors.Is(err, message.ErrNoCompleteLine) {
			return nil, err
		}
		chunk := make([]byte, 4096)
		n, rerr := p.rd.Read(chunk)
		if n > 0 {
			p.inboundBuf = append(p.inboundBuf, chunk[:n]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// Send enqueues msg for the writer goroutine; it never blocks the
// caller beyond the bounded send attempt (§8 property 7 applies to
// peer links exactly as it does to client broadcast).
func (p *PeerLink) Send(msg *message.Message) ratelimit.TrySendResult {
	select {
	case p.outbox <- msg:
		return ratelimit.TrySendOK
	default:
		return ratelimit.TrySendFull
	}
}

// Run drives the steady-state reader and writer halves until either
// fails or ctx is cancelled, handing every decoded inbound frame to
// onFrame. Mirrors ingest/muxer.go's pairing of a relay routine with a
// connection routine under one lifetime.
func (p *PeerLink) Run(ctx context.Context, onFrame func(*PeerLink, *message.Message)) error {
	p.setState(linkSteady)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case msg, ok := <-p.outbox:
				if !ok {
					return ErrLinkClosed
				}
				if err := p.byteRate.Wait(gctx); err != nil {
					return err
				}
				if err := p.writeNow(msg); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			msg, err := p.readNow()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return ErrLinkClosed
				}
				return err
			}
			// An over-rate peer is slowed down rather than having frames
			// dropped, so state stays in sync; breaches are not logged or
			// counted.
			if err := p.cmdRate.Wait(gctx); err != nil {
				return err
			}
			onFrame(p, msg)
		}
	})

	err := g.Wait()
	p.setState(linkClosed)
	return err
}

func (p *PeerLink) Close() error {
	p.setState(linkClosed)
	return p.conn.Close()
}

// DialPeer opens a new outbound TCP/TLS connection to addr; callers
// pass an already-configured tls.Dialer-wrapped net.Conn for
// certificate-verified links, or a plain net.Dialer for plaintext.
func DialPeer(ctx context.Context, dial func(ctx context.Context, network, addr string) (net.Conn, error), addr string) (*PeerLink, error) {
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
	return NewPeerLink(conn), nil
}
