package s2s

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerion-net/ircd/channel"
	"github.com/nerion-net/ircd/crdt"
	"github.com/nerion-net/ircd/ircdlog"
	"github.com/nerion-net/ircd/message"
	"github.com/nerion-net/ircd/ratelimit"
	"github.com/nerion-net/ircd/state"
)

// ChannelDirectory is the subset of the server's channel registry the
// replicator needs: find-or-create for burst-received SJOIN of a
// channel the local server has no member in yet, plus plain lookup for
// mirroring and netsplit cleanup. Mirrors router.ChannelDirectory —
// duplicated rather than imported to avoid an s2s<->router dependency,
// since router holds a Replicator (router.Replicator), not the reverse.
type ChannelDirectory interface {
	GetOrCreate(name string) *channel.Channel
	Get(name string) (*channel.Channel, bool)
	All() []*channel.Channel
}

const (
	defaultRetryTime = 10 * time.Second
	maxRetryTime     = 5 * time.Minute
)

// backoff doubles curr up to max, starting from defaultRetryTime — the
// same reconnect-delay shape as ingest/muxer.go's backoff().
func backoff(curr, max time.Duration) time.Duration {
	if curr <= 0 {
		return defaultRetryTime
	}
	if curr = curr * 2; curr > max {
		curr = max
	}
	return curr
}

// Replicator is the S2S layer's central coordinator: it owns the
// topology, the server's HLC clock, every live peer link, and the
// glue that turns local mutations into mirrored frames and remote
// frames into CRDT merges. One instance exists per ircd server.
type Replicator struct {
	localSID, localName string
	password             string

	clock *crdt.Clock
	topo  *Topology

	matrix  *state.Matrix
	dir     ChannelDirectory
	log     *ircdlog.Logger

	mu    sync.RWMutex
	peers map[string]*PeerLink // sid -> link

	retryMu sync.Mutex
	retry   map[string]time.Duration // addr -> current backoff
}

func NewReplicator(localSID, localName, password string, matrix *state.Matrix, dir ChannelDirectory, log *ircdlog.Logger) *Replicator {
	if log == nil {
		log = ircdlog.NewDiscard()
	}
	return &Replicator{
		localSID: localSID, localName: localName, password: password,
		clock:  crdt.NewClock(localSID),
		topo:   NewTopology(localSID, localName),
		matrix: matrix,
		dir:    dir,
		log:    log,
		peers:  make(map[string]*PeerLink),
		retry:  make(map[string]time.Duration),
	}
}

func (r *Replicator) Topology() *Topology { return r.topo }
func (r *Replicator) Clock() *crdt.Clock  { return r.clock }

// Password returns the shared link password inbound handshakes are
// checked against; exposed so the listener-accepting side (which owns
// the raw net.Conn, not the replicator) can call PeerLink.HandshakeInbound.
func (r *Replicator) Password() string { return r.password }

// AddPeer registers a freshly-handshaken link as sid, bursts full
// local state to it, then starts its steady-state reader/writer loop
// in the background. On loop exit (link-down, keepalive timeout,
// protocol violation) it runs the §4.7 netsplit cascade.
func (r *Replicator) AddPeer(ctx context.Context, link *PeerLink, sid string, hopcount int, info string) error {
	if err := r.topo.AddServer(ServerRecord{SID: sid, Name: link.Name, Hopcount: hopcount, ParentSID: r.localSID, Info: info}); err != nil {
		return err
	}
	link.SID = sid
	r.mu.Lock()
	r.peers[sid] = link
	r.mu.Unlock()

	r.burstTo(link)

	go func() {
		err := link.Run(ctx, r.handleFrame)
		r.log.Warnf("s2s link down", ircdlog.SID(sid), ircdlog.ErrField(err))
		r.LinkDown(sid, "*.net *.split")
	}()
	return nil
}

// LinkSpec describes one configured outbound peer. Decoupled from
// ircdconfig.LinkConfig so this package doesn't need to import the
// config layer; server.Server maps its loaded link stanzas onto this
// before calling RunAutoConnect.
type LinkSpec struct {
	Name      string
	Address   string
	Password  string
	UseTLS    bool
	TLSVerify bool
}

// ConnectOutbound dials spec.Address, performs the client side of the
// §6 handshake, and wires the resulting link into the replicator. The
// peer's SID is learned from its PASS reply during the handshake
// (see PeerLink.awaitServer), never configured locally, so two
// deployments can never disagree about which SID a link belongs to.
func (r *Replicator) ConnectOutbound(ctx context.Context, spec LinkSpec) error {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if spec.UseTLS {
			tc := tls.Client(conn, &tls.Config{InsecureSkipVerify: !spec.TLSVerify})
			if err := tc.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tc, nil
		}
		return conn, nil
	}
	link, err := DialPeer(ctx, dial, spec.Address)
	if err != nil {
		return err
	}
	if err := link.HandshakeOutbound(spec.Password, r.localSID, r.localName, 1, r.localName, "TS6"); err != nil {
		link.Close()
		return err
	}
	if link.SID == "" {
		link.Close()
		return fmt.Errorf("s2s: peer at %s never presented an SID", spec.Address)
	}
	return r.AddPeer(ctx, link, link.SID, 1, spec.Name)
}

// RunAutoConnect starts one redialing goroutine per spec, each
// retrying with the same doubling backoff as the teacher's
// ingest/muxer.go reconnect loop until ctx is cancelled. Call once
// after EnableReplication; specs with AutoConnect disabled should
// already be filtered out by the caller.
func (r *Replicator) RunAutoConnect(ctx context.Context, specs []LinkSpec) {
	for _, spec := range specs {
		go r.autoConnectLoop(ctx, spec)
	}
}

func (r *Replicator) autoConnectLoop(ctx context.Context, spec LinkSpec) {
	delay := defaultRetryTime
	for ctx.Err() == nil {
		if err := r.ConnectOutbound(ctx, spec); err != nil {
			r.log.Warnf("s2s outbound connect failed", ircdlog.KV("peer", spec.Name), ircdlog.ErrField(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay = backoff(delay, maxRetryTime)
			continue
		}
		delay = defaultRetryTime
		for r.hasPeerNamed(spec.Name) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Replicator) hasPeerNamed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, link := range r.peers {
		if link.Name == name {
			return true
		}
	}
	return false
}

// LinkDown runs the §4.7 netsplit cascade for sid and every server
// reachable only through it: remove each from the topology, synthesize
// QUIT for every locally-visible user that originated there, and drop
// the peer link itself.
func (r *Replicator) LinkDown(sid, reason string) {
	removedServers := r.topo.RemoveServer(sid)

	r.mu.Lock()
	if link, ok := r.peers[sid]; ok {
		_ = link.Close()
		delete(r.peers, sid)
	}
	r.mu.Unlock()

	removedSet := make(map[string]bool, len(removedServers))
	for _, s := range removedServers {
		removedSet[s] = true
	}

	for _, u := range r.matrix.AllUsers() {
		if !removedSet[u.SID] {
			continue
		}
		r.netsplitQuit(u, reason)
	}
}

// netsplitQuit broadcasts a synthetic QUIT to every channel u shares
// with this server, then removes u from the matrix (§4.7).
func (r *Replicator) netsplitQuit(u *state.User, reason string) {
	for _, ch := range r.dir.All() {
		if _, isMember := ch.MemberFlags(u.UID); isMember {
			ch.Quit(u.UID, u.Nick(), u.Username, u.Cloak, reason)
		}
	}
	u.MarkQuit()
	r.matrix.RemoveUser(u.UID)
}

// broadcastExcept sends msg to every peer other than exceptSID ("" to
// send to all), applying each link's per-peer throughput limiter via
// the link's own bounded outbox.
func (r *Replicator) broadcastExcept(exceptSID string, msg *message.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid, link := range r.peers {
		if sid == exceptSID {
			continue
		}
		link.Send(msg)
	}
}

// --- Mirror* — called by the router immediately after a local
// mutation succeeds (router.Replicator interface, §4.7) ---

func (r *Replicator) MirrorJoin(channelName, uid string, sigil byte, ts crdt.HLC) {
	r.broadcastExcept(originSID(uid, r.localSID), remoteJoinFrame(ts, uid, channelName, sigil))
}

func (r *Replicator) MirrorPart(channelName, uid, reason string, ts crdt.HLC) {
	r.broadcastExcept(originSID(uid, r.localSID), remotePartFrame(ts, uid, channelName, reason))
}

func (r *Replicator) MirrorKick(channelName, kickerUID, targetUID, reason string, ts crdt.HLC) {
	r.broadcastExcept(originSID(kickerUID, r.localSID), remoteKickFrame(ts, kickerUID, channelName, targetUID, reason))
}

func (r *Replicator) MirrorQuit(uid, reason string, ts crdt.HLC) {
	r.broadcastExcept(originSID(uid, r.localSID), remoteQuitFrame(ts, uid, reason))
}

func (r *Replicator) MirrorNick(uid, newNick string, ts crdt.HLC) {
	r.broadcastExcept(originSID(uid, r.localSID), remoteNickFrame(ts, uid, newNick))
}

func (r *Replicator) MirrorTopic(channelName, text, setterUID string, ts crdt.HLC) {
	r.broadcastExcept(originSID(setterUID, r.localSID), tbFrame(ts, channelName, setterUID, text))
}

// originSID derives the SID this op originated from (the first 3
// characters of a UID); used so a mirrored op is never echoed back to
// the peer it was relayed from (§4.7: "mirrored to every direct peer
// except the origin").
func originSID(uid, fallback string) string {
	if len(uid) >= 3 {
		return uid[:3]
	}
	return fallback
}

// --- Burst (§4.7, §6) ---

func (r *Replicator) burstTo(link *PeerLink) {
	for _, u := range r.matrix.AllUsers() {
		link.Send(uidFrame(u.SID, RemoteUserInfo{
			UID: u.UID, Nick: u.Nick(), Username: u.Username,
			Host: u.Host, Cloak: u.Cloak, Account: u.Account(), RealName: u.RealName,
		}))
	}
	for _, ch := range r.dir.All() {
		snap := ch.Snapshot()
		var sb strings.Builder
		for i, m := range snap.Members {
			if i > 0 {
				sb.WriteByte(' ')
			}
			u, ok := r.matrix.UserByNick(m.Nick)
			if !ok {
				continue
			}
			if m.Sigil != 0 {
				sb.WriteByte(m.Sigil)
			}
			sb.WriteString(u.UID)
		}
		ts := r.clock.Tick()
		modeStr, args := flagsToModeString(snap)
		link.Send(sjoinFrame(ts, ch.Name(), modeStr, args, sb.String()))
		if text, setter, has := ch.Topic(); has {
			link.Send(tbFrame(r.clock.Tick(), ch.Name(), setter, text))
		}
	}
	for _, rec := range r.topo.Servers() {
		link.Send(sidFrame(rec))
	}
}

func flagsToModeString(snap channel.Snapshot) (string, []string) {
	var letters []byte
	var args []string
	for l, on := range snap.Modes {
		if on {
			letters = append(letters, l)
		}
	}
	if snap.Key != "" {
		letters = append(letters, 'k')
		args = append(args, snap.Key)
	}
	if snap.Limit > 0 {
		letters = append(letters, 'l')
		args = append(args, strconv.Itoa(snap.Limit))
	}
	if len(letters) == 0 {
		return "", nil
	}
	return "+" + string(letters), args
}

// --- Inbound frame handling (steady state) ---

// handleFrame is the PeerLink.Run callback: advance the clock past any
// HLC tag on the frame, then apply by command.
func (r *Replicator) handleFrame(link *PeerLink, msg *message.Message) {
	if ts, ok := readHLC(msg); ok {
		r.clock.Observe(ts)
	}
	switch msg.Command {
	case "UID":
		r.applyUID(link, msg)
	case "SJOIN":
		r.applySJOIN(msg)
	case "TMODE":
		r.applyTMODE(msg)
	case "TB":
		r.applyTB(msg)
	case "SID":
		r.applySID(link, msg)
	case "JOIN":
		r.applyRemoteJoin(msg)
	case "PART":
		r.applyRemotePart(msg)
	case "KICK":
		r.applyRemoteKick(msg)
	case "QUIT":
		r.applyRemoteQuit(msg)
	case "NICK":
		r.applyRemoteNick(msg)
	case "RELAY":
		r.applyRelay(msg)
	case "SQUIT":
		if len(msg.Params) >= 1 {
			r.LinkDown(msg.Params[0], msg.Trailing())
		}
	}
}

func (r *Replicator) applyUID(link *PeerLink, msg *message.Message) {
	if len(msg.Params) < 7 {
		return
	}
	uid, nick, username, host, cloak, account, realname :=
		msg.Params[0], msg.Params[1], msg.Params[3], msg.Params[4], msg.Params[5], msg.Params[6], msg.Trailing()
	sid := uid
	if len(uid) >= 3 {
		sid = uid[:3]
	}
	if account == "*" {
		account = ""
	}
	u := state.NewUser(uid, sid, nick, username, realname, host, cloak, &remoteSender{link: link, uid: uid})
	if account != "" {
		u.SetAccount(account)
	}
	_ = r.matrix.RegisterUser(u) // duplicate burst delivery is a no-op by UID
}

func (r *Replicator) applySID(link *PeerLink, msg *message.Message) {
	if msg.Prefix == nil || len(msg.Params) < 3 {
		return
	}
	hop, _ := strconv.Atoi(msg.Params[1])
	rec := ServerRecord{SID: msg.Params[2], Name: msg.Params[0], Hopcount: hop, ParentSID: msg.Prefix.Name, Info: msg.Trailing()}
	_ = r.topo.AddServer(rec)
}

func (r *Replicator) applySJOIN(msg *message.Message) {
	if len(msg.Params) < 4 {
		return
	}
	name := msg.Params[1]
	ch := r.dir.GetOrCreate(name)
	members := crdt.NewORSet[string, uint8]()
	for _, tok := range strings.Fields(msg.Params[len(msg.Params)-1]) {
		sigil, uid := splitSigil(tok)
		flags := flagsForSigils(sigil)
		members.Add(uid, crdt.Tag(uid+":sjoin:"+msg.Params[0]), flags)
	}
	ch.RemoteSync(members, crdt.NewAWSet())
}

func splitSigil(tok string) (string, string) {
	i := 0
	for i < len(tok) && strings.ContainsRune("~&@%+", rune(tok[i])) {
		i++
	}
	return tok[:i], tok[i:]
}

func flagsForSigils(sigils string) uint8 {
	var f uint8
	for _, c := range sigils {
		switch c {
		case '~':
			f |= channel.PrefixOwner
		case '&':
			f |= channel.PrefixAdmin
		case '@':
			f |= channel.PrefixOp
		case '%':
			f |= channel.PrefixHalfop
		case '+':
			f |= channel.PrefixVoice
		}
	}
	return f
}

func (r *Replicator) applyTMODE(msg *message.Message) {
	if len(msg.Params) < 3 {
		return
	}
	name := msg.Params[1]
	ch, ok := r.dir.Get(name)
	if !ok {
		return
	}
	deltas := parseTModeDeltas(msg.Params[2], msg.Params[3:])
	ch.ApplyModes(deltas, true)
}

func parseTModeDeltas(modeStr string, args []string) []channel.Delta {
	var deltas []channel.Delta
	add := true
	argi := 0
	for i := 0; i < len(modeStr); i++ {
		switch modeStr[i] {
		case '+':
			add = true
		case '-':
			add = false
		default:
			arg := ""
			if argi < len(args) {
				arg = args[argi]
				argi++
			}
			deltas = append(deltas, channel.Delta{Add: add, Letter: modeStr[i], Arg: arg})
		}
	}
	return deltas
}

func (r *Replicator) applyTB(msg *message.Message) {
	if len(msg.Params) < 3 {
		return
	}
	name, setter := msg.Params[0], msg.Params[2]
	ch, ok := r.dir.Get(name)
	if !ok {
		return
	}
	ts, _ := readHLC(msg)
	ch.SetTopic(msg.Trailing(), setter, ts)
}

func (r *Replicator) applyRemoteJoin(msg *message.Message) {
	if msg.Prefix == nil || len(msg.Params) < 1 {
		return
	}
	uid := msg.Prefix.Name
	u, ok := r.matrix.UserByUID(uid)
	if !ok {
		return
	}
	ch := r.dir.GetOrCreate(msg.Params[0])
	ch.Join(u, "")
}

func (r *Replicator) applyRemotePart(msg *message.Message) {
	if msg.Prefix == nil || len(msg.Params) < 1 {
		return
	}
	ch, ok := r.dir.Get(msg.Params[0])
	if !ok {
		return
	}
	reason := ""
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}
	ch.Part(msg.Prefix.Name, reason)
}

func (r *Replicator) applyRemoteKick(msg *message.Message) {
	if msg.Prefix == nil || len(msg.Params) < 2 {
		return
	}
	ch, ok := r.dir.Get(msg.Params[0])
	if !ok {
		return
	}
	kicker, _ := r.matrix.UserByUID(msg.Prefix.Name)
	kickerNick, kickerUser, kickerHost := msg.Prefix.Name, "", ""
	if kicker != nil {
		kickerNick, kickerUser, kickerHost = kicker.Nick(), kicker.Username, kicker.Cloak
	}
	ch.Kick(msg.Prefix.Name, kickerNick, kickerUser, kickerHost, msg.Params[1], msg.Trailing())
}

func (r *Replicator) applyRemoteQuit(msg *message.Message) {
	if msg.Prefix == nil {
		return
	}
	u, ok := r.matrix.UserByUID(msg.Prefix.Name)
	if !ok {
		return
	}
	r.netsplitQuit(u, msg.Trailing())
}

func (r *Replicator) applyRemoteNick(msg *message.Message) {
	if msg.Prefix == nil || len(msg.Params) < 1 {
		return
	}
	_ = r.matrix.RenameUser(msg.Prefix.Name, msg.Params[0])
}

// applyRelay completes the round trip started by remoteSender.Send: a
// peer that holds the real connection for one of our locally-visible
// remote users forwards the already-encoded line here to deliver to
// that user's actual client.
func (r *Replicator) applyRelay(msg *message.Message) {
	if len(msg.Params) < 2 {
		return
	}
	u, ok := r.matrix.UserByUID(msg.Params[0])
	if !ok {
		return
	}
	u.Send([]byte(msg.Trailing() + "\r\n"))
}

// remoteSender implements state.Sender for a user whose session lives
// on a different server: delivering to them means relaying the
// already wire-formatted line back over the peer link that owns them,
// for that server's session writer to hand to the real client.
type remoteSender struct {
	link *PeerLink
	uid  string
}

func (s *remoteSender) Send(line []byte) state.SendResult {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
	res := s.link.Send(&message.Message{Command: "RELAY", Params: []string{s.uid, trimmed}})
	switch res {
	case ratelimit.TrySendFull:
		return state.SendQueueFull
	default:
		return state.SendOK
	}
}
