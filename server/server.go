package server

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"net"
	"time"

	"github.com/nerion-net/ircd/account"
	"github.com/nerion-net/ircd/auth"
	"github.com/nerion-net/ircd/capability"
	"github.com/nerion-net/ircd/cloak"
	"github.com/nerion-net/ircd/crdt"
	"github.com/nerion-net/ircd/history"
	"github.com/nerion-net/ircd/ircdconfig"
	"github.com/nerion-net/ircd/ircdlog"
	"github.com/nerion-net/ircd/netio"
	"github.com/nerion-net/ircd/router"
	"github.com/nerion-net/ircd/s2s"
	"github.com/nerion-net/ircd/state"
)

// Server is the fully wired ircd: one state matrix, one channel
// registry, one capability authority, one history store, an optional
// replicator, and the dispatch tables every connection resolves
// commands against. cmd/ircd's main does nothing but build one of
// these from loaded config and call Serve.
type Server struct {
	Config   *ircdconfig.ServerConfig
	SID      string
	Matrix   *state.Matrix
	Channels *ChannelRegistry
	Authority *capability.Authority
	Clock    *crdt.Clock
	Cloaker  *cloak.Cloaker
	History  *history.Store
	AuthPool *auth.Pool
	Accounts *account.Store
	Router   *router.Router
	Log      *ircdlog.Logger

	uids *state.UIDGenerator

	replicator *s2s.Replicator
	onRehash   func() error
}

// New builds every collaborator package into one Server from loaded
// configuration, the way the teacher's cmd binaries build an
// IngestMuxer plus its supporting caches from a parsed config file.
func New(cfg *ircdconfig.ServerConfig, log *ircdlog.Logger) (*Server, error) {
	if log == nil {
		log = ircdlog.NewDiscard()
	}
	s := &Server{
		Config: cfg,
		SID:    cfg.Global.ServerID,
		Matrix: state.NewMatrix(),
		Clock:  crdt.NewClock(cfg.Global.ServerID),
		Log:    log,
		uids:   state.NewUIDGenerator(cfg.Global.ServerID),
	}
	s.Channels = NewChannelRegistry(s.Matrix)

	signingKey := sha256.Sum256([]byte(cfg.Global.CloakSecret + ":capability-signing"))
	s.Authority = capability.NewAuthority(signingKey[:])

	if cfg.Global.CloakSecret != "" {
		ck, err := cloak.New([]byte(cfg.Global.CloakSecret), cfg.Global.CloakSuffix)
		if err != nil {
			return nil, err
		}
		s.Cloaker = ck
	}

	if cfg.Global.HistoryDBPath != "" {
		st, err := history.Open(cfg.Global.HistoryDBPath, cfg.Global.HistoryPerTargetCap, cfg.Global.HistoryRetention)
		if err != nil {
			return nil, err
		}
		s.History = st
	}

	s.AuthPool = auth.NewPool(4, 64)

	if cfg.Global.AccountDBPath != "" {
		acct, err := account.Open(cfg.Global.AccountDBPath, s.AuthPool)
		if err != nil {
			return nil, err
		}
		s.Accounts = acct
	}

	deps := router.BuildDeps{
		Dir: s.Channels,
		HP:  s.History,
		VerifyOper: func(name, password string) bool {
			op, ok := cfg.Oper[name]
			if !ok {
				return false
			}
			return s.AuthPool.VerifyPassword(context.Background(), password, op.PasswordHash) == nil
		},
		VerifyWebIRC: func(password, gateway string) bool {
			_, ok := cfg.Listener[gateway]
			return ok // only checks that gateway names a configured listener; the password and connecting address are not checked
		},
		Reload: s.Rehash,
	}
	if s.Accounts != nil {
		deps.VerifySASLPlain = s.Accounts.VerifyPlain
		deps.VerifySASLExternal = s.Accounts.VerifyExternal
		deps.Register = s.Accounts.Register
	}
	s.Router = router.Build(deps)

	return s, nil
}

func (s *Server) replicatorOrNil() *s2s.Replicator { return s.replicator }

// EnableReplication turns on S2S for this server (§4.7): once called,
// local JOIN/PART/KICK/TOPIC/NICK mutations are mirrored to configured
// peers and this server accepts/initiates peer links.
func (s *Server) EnableReplication(password string) {
	s.replicator = s2s.NewReplicator(s.SID, s.Config.Global.ServerName, password, s.Matrix, s.Channels, s.Log)
}

// autoConnectSpecs maps the loaded [link] stanzas with auto-connect
// enabled onto the replicator's dial-target shape.
func (s *Server) autoConnectSpecs() []s2s.LinkSpec {
	var specs []s2s.LinkSpec
	for _, lc := range s.Config.Link {
		if !lc.AutoConnect {
			continue
		}
		specs = append(specs, s2s.LinkSpec{
			Name: lc.Name, Address: lc.Address, Password: lc.Password,
			UseTLS: lc.TLS, TLSVerify: lc.TLSVerify,
		})
	}
	return specs
}

// SetReloader installs the hook REHASH calls to actually re-read
// configuration from disk. cmd/ircd's main is the only holder of the
// *ircdconfig.Watcher (Server itself only ever sees a *ServerConfig
// snapshot), so it wires this in after constructing the Server; a
// Server built without one (e.g. in tests) falls back to re-verifying
// the already-loaded config in place.
func (s *Server) SetReloader(fn func() error) { s.onRehash = fn }

// Rehash reloads configuration in place; listeners already bound are
// left running (§6: "does not restart listeners").
func (s *Server) Rehash() error {
	if s.onRehash != nil {
		return s.onRehash()
	}
	return s.Config.Verify()
}

// ListenAndServe binds every configured listener stanza, dials any
// auto-connect S2S peers, and accepts connections until ctx is
// cancelled. An "s2s" transport stanza is bound as a raw (optionally
// TLS-wrapped) TCP listener and handed to the replicator's inbound
// handshake instead of the client connection pipeline.
func (s *Server) ListenAndServe(ctx context.Context) error {
	for name, lc := range s.Config.Listener {
		if lc.Transport == "s2s" {
			ln, err := s.bindS2SListener(lc)
			if err != nil {
				s.Log.Errorf("s2s listener bind failed", ircdlog.KV("listener", name), ircdlog.ErrField(err))
				continue
			}
			go s.acceptS2SLoop(ctx, ln)
			continue
		}
		ln, err := s.bindListener(lc)
		if err != nil {
			s.Log.Errorf("listener bind failed", ircdlog.KV("listener", name), ircdlog.ErrField(err))
			continue
		}
		go s.acceptLoop(ctx, ln)
	}
	if rep := s.replicatorOrNil(); rep != nil {
		rep.RunAutoConnect(ctx, s.autoConnectSpecs())
	}
	go s.pruneLoop(ctx)
	<-ctx.Done()
	return ctx.Err()
}

// pruneLoop periodically sweeps channels left with no members, the
// way chancacher.go's own compaction pass runs on a ticker rather than
// inline with every mutation.
func (s *Server) pruneLoop(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Channels.PruneEmpty()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) bindListener(lc *ircdconfig.ListenerConfig) (net.Listener, error) {
	var tlsConf *tls.Config
	if lc.Transport == "tls" {
		cfg, err := tlsConfigFor(lc.TLSCert, lc.TLSKey)
		if err != nil {
			return nil, err
		}
		tlsConf = cfg
	}
	return netio.Listen(lc.Transport, lc.Bind, tlsConf, lc.WebIRCAllow)
}

func (s *Server) bindS2SListener(lc *ircdconfig.ListenerConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", lc.Bind)
	if err != nil {
		return nil, err
	}
	if lc.TLSCert != "" && lc.TLSKey != "" {
		tlsConf, err := tlsConfigFor(lc.TLSCert, lc.TLSKey)
		if err != nil {
			ln.Close()
			return nil, err
		}
		ln = tls.NewListener(ln, tlsConf)
	}
	return ln, nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.Log.Warnf("accept error", ircdlog.ErrField(err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		c := s.newConn(conn)
		go func() {
			c.Serve(ctx)
			conn.Close()
		}()
	}
}

// acceptS2SLoop accepts raw peer connections and performs the §6
// inbound handshake before handing the link to the replicator;
// connections arriving while replication is disabled are rejected
// outright.
func (s *Server) acceptS2SLoop(ctx context.Context, ln net.Listener) {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.Log.Warnf("s2s accept error", ircdlog.ErrField(err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		rep := s.replicatorOrNil()
		if rep == nil {
			conn.Close()
			continue
		}
		go s.acceptPeer(ctx, rep, conn)
	}
}

func (s *Server) acceptPeer(ctx context.Context, rep *s2s.Replicator, conn net.Conn) {
	link := s2s.NewPeerLink(conn)
	name := s.Config.Global.ServerName
	if err := link.HandshakeInbound(rep.Password(), s.SID, name, 1, name, "TS6"); err != nil {
		s.Log.Warnf("s2s inbound handshake failed", ircdlog.ErrField(err))
		conn.Close()
		return
	}
	if link.SID == "" {
		s.Log.Warnf("s2s inbound peer presented no SID")
		conn.Close()
		return
	}
	if err := rep.AddPeer(ctx, link, link.SID, 1, link.Name); err != nil {
		s.Log.Warnf("s2s add peer failed", ircdlog.ErrField(err))
		conn.Close()
	}
}
