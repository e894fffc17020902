package p2p

import (
	"bytes"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/dissem-contrib/bmcore/crypto"
	"github.com/dissem-contrib/bmcore/inventory"
	"github.com/dissem-contrib/bmcore/log"
	"github.com/dissem-contrib/bmcore/object"
	"github.com/dissem-contrib/bmcore/pow"
	"github.com/dissem-contrib/bmcore/registry"
	"github.com/dissem-contrib/bmcore/wire"
)

// State is a connection's position in the handshake/activity lifecycle.
type State int

const (
	StateConnecting State = iota
	StateVersionSent
	StateVerified
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateVersionSent:
		return "VERSION_SENT"
	case StateVerified:
		return "VERIFIED"
	case StateActive:
		return "ACTIVE"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ObjectListener receives objects this peer accepted into the inventory,
// so a higher layer (the send/receive pipeline) can dispatch them without
// p2p importing pipeline and creating an import cycle.
type ObjectListener interface {
	OnObjectAccepted(msg *object.Message, iv object.IV)
}

// Config carries the parameters a Peer needs that are not connection-
// specific: our own client nonce (to detect self-connects), the streams we
// are subscribed to, our advertised user agent, and the idle timeout.
type Config struct {
	ClientNonce        uint64
	Streams            []uint64
	UserAgent          string
	ConnectionTTL      time.Duration
	NonceTrialsPerByte uint64
	ExtraBytes         uint64
}

var errNotSubscribed = errors.New("p2p: object stream not subscribed")
var errSelfConnect = errors.New("p2p: peer nonce equals our own")
var errProtocolMismatch = errors.New("p2p: peer protocol version too old")
var errNoSharedStream = errors.New("p2p: no shared stream with peer")
var errClockSkew = errors.New("p2p: peer clock skew exceeds bound")

// Peer is the per-connection actor. One goroutine (readLoop) reads and
// dispatches frames synchronously, exactly as the teacher's
// p2p/peer.go readLoop calls p.handle(msg) inline rather than handing it
// to the select loop; Run's select loop only watches for termination.
type Peer struct {
	conn net.Conn
	cfg  Config
	inv  inventory.Inventory
	reg  registry.Registry
	listener ObjectListener

	outbound bool

	mu             sync.Mutex
	state          State
	peerNonce      uint64
	peerStreams    map[uint64]bool
	verackSent     bool
	verackReceived bool
	lastActivity   time.Time

	advertised   map[object.IV]bool
	advertisedMu sync.Mutex

	closed   chan struct{}
	closeOne sync.Once
}

// NewPeer wraps an established connection. outbound is true if we dialed;
// both sides run the identical handshake regardless.
func NewPeer(conn net.Conn, cfg Config, inv inventory.Inventory, reg registry.Registry, listener ObjectListener, outbound bool) *Peer {
	return &Peer{
		conn:         conn,
		cfg:          cfg,
		inv:          inv,
		reg:          reg,
		listener:     listener,
		outbound:     outbound,
		state:        StateConnecting,
		peerStreams:  make(map[uint64]bool),
		advertised:   make(map[object.IV]bool),
		closed:       make(chan struct{}),
		lastActivity: time.Now(),
	}
}

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run drives the connection until it closes or doneCh is closed: sends our
// version, then reads and dispatches frames until an error, an idle
// timeout, or cancellation.
func (p *Peer) Run(doneCh <-chan struct{}) error {
	if err := p.sendVersion(); err != nil {
		return err
	}
	p.setState(StateVersionSent)

	errc := make(chan error, 1)
	go p.readLoop(errc)

	ttl := p.cfg.ConnectionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	idle := time.NewTimer(ttl)
	defer idle.Stop()

	for {
		select {
		case err := <-errc:
			p.close()
			return err
		case <-doneCh:
			p.close()
			return nil
		case <-idle.C:
			p.mu.Lock()
			quiet := time.Since(p.lastActivity)
			p.mu.Unlock()
			if quiet < ttl {
				idle.Reset(ttl - quiet)
				continue
			}
			p.close()
			return errors.New("p2p: idle connection closed")
		}
	}
}

func (p *Peer) close() {
	p.closeOne.Do(func() {
		p.setState(StateDisconnected)
		close(p.closed)
		p.conn.Close()
	})
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

func (p *Peer) readLoop(errc chan<- error) {
	for {
		frame, err := wire.ReadFrame(p.conn)
		if err != nil {
			errc <- err
			return
		}
		p.touch()
		if err := p.handle(frame); err != nil {
			errc <- err
			return
		}
	}
}

func (p *Peer) handle(f wire.Frame) error {
	switch f.Command {
	case CmdVersion:
		return p.handleVersion(f.Payload)
	case CmdVerack:
		return p.handleVerack()
	case CmdAddr:
		return p.handleAddr(f.Payload)
	case CmdInv:
		return p.handleInv(f.Payload)
	case CmdGetData:
		return p.handleGetData(f.Payload)
	case CmdObject:
		return p.handleObject(f.Payload)
	default:
		log.Debug("p2p: ignoring unknown command", "command", f.Command)
		return nil
	}
}

func (p *Peer) sendVersion() error {
	now := time.Now()
	v := VersionPayload{
		ProtocolVersion: ProtocolVersion,
		Services:        1,
		Timestamp:       now.Unix(),
		AddrRecv:        NetAddr{Stream: 1},
		AddrFrom:        NetAddr{Stream: 1},
		Nonce:           p.cfg.ClientNonce,
		UserAgent:       p.cfg.UserAgent,
		Streams:         p.cfg.Streams,
	}
	return wire.WriteFrame(p.conn, wire.Frame{Command: CmdVersion, Payload: v.encode()})
}

func (p *Peer) sendVerack() error {
	return wire.WriteFrame(p.conn, wire.Frame{Command: CmdVerack, Payload: nil})
}

// handleVersion validates the peer's version per spec.md §4.6: reject
// self-connects, protocol mismatches, disjoint streams, and excessive
// clock skew; otherwise reply verack and move to VERIFIED.
func (p *Peer) handleVersion(payload []byte) error {
	v, err := decodeVersion(payload)
	if err != nil {
		return err
	}
	if v.Nonce == p.cfg.ClientNonce {
		return errSelfConnect
	}
	if v.ProtocolVersion < ProtocolVersion {
		return errProtocolMismatch
	}
	ourStreams := make(map[uint64]bool, len(p.cfg.Streams))
	for _, s := range p.cfg.Streams {
		ourStreams[s] = true
	}
	shared := false
	p.mu.Lock()
	for _, s := range v.Streams {
		p.peerStreams[s] = true
		if ourStreams[s] {
			shared = true
		}
	}
	p.peerNonce = v.Nonce
	p.mu.Unlock()
	if !shared {
		return errNoSharedStream
	}
	skew := time.Since(time.Unix(v.Timestamp, 0))
	if skew > time.Hour || skew < -time.Hour {
		return errClockSkew
	}

	if err := p.sendVerack(); err != nil {
		return err
	}
	p.mu.Lock()
	p.verackSent = true
	p.mu.Unlock()
	p.setState(StateVerified)
	return p.maybeActivate()
}

func (p *Peer) handleVerack() error {
	p.mu.Lock()
	p.verackReceived = true
	p.mu.Unlock()
	return p.maybeActivate()
}

// maybeActivate enters ACTIVE once both sides have exchanged verack, and
// immediately sends addr and inv per spec.md §4.6.
func (p *Peer) maybeActivate() error {
	p.mu.Lock()
	ready := p.verackSent && p.verackReceived && p.state != StateActive
	p.mu.Unlock()
	if !ready {
		return nil
	}
	p.setState(StateActive)
	if err := p.sendAddr(); err != nil {
		return err
	}
	return p.sendInv()
}

func (p *Peer) sendAddr() error {
	known := p.reg.GetKnownAddresses(1000, p.cfg.Streams)
	addrs := make([]NetAddr, 0, len(known))
	for _, a := range known {
		addrs = append(addrs, NetAddr{
			Time:     a.LastSeen.Unix(),
			Services: a.Services,
			IP:       net.ParseIP(a.Host),
			Port:     a.Port,
		})
	}
	return wire.WriteFrame(p.conn, wire.Frame{Command: CmdAddr, Payload: AddrPayload{Addrs: addrs}.encode()})
}

func (p *Peer) sendInv() error {
	ivs := p.inv.GetInventory(p.cfg.Streams)
	return wire.WriteFrame(p.conn, wire.Frame{Command: CmdInv, Payload: encodeIVList(ivs)})
}

func (p *Peer) handleAddr(payload []byte) error {
	a, err := decodeAddr(payload)
	if err != nil {
		return err
	}
	offered := make([]registry.NetworkAddress, 0, len(a.Addrs))
	for _, addr := range a.Addrs {
		offered = append(offered, registry.NetworkAddress{
			Services: addr.Services,
			Host:     addr.IP.String(),
			Port:     addr.Port,
			Streams:  []uint64{addr.Stream},
			LastSeen: time.Unix(addr.Time, 0),
		})
	}
	p.reg.OfferAddresses(offered)
	return nil
}

// handleInv subtracts known IVs and requests the remainder, per spec.md
// §4.6(d).
func (p *Peer) handleInv(payload []byte) error {
	ivs, err := decodeIVList(payload)
	if err != nil {
		return err
	}
	var want []object.IV
	for _, iv := range ivs {
		if _, ok := p.inv.GetObject(iv); !ok {
			want = append(want, iv)
		}
	}
	if len(want) == 0 {
		return nil
	}
	return wire.WriteFrame(p.conn, wire.Frame{Command: CmdGetData, Payload: encodeIVList(want)})
}

// handleGetData serves the requested objects, per spec.md §4.6(c).
func (p *Peer) handleGetData(payload []byte) error {
	ivs, err := decodeIVList(payload)
	if err != nil {
		return err
	}
	for _, iv := range ivs {
		entry, ok := p.inv.GetObject(iv)
		if !ok {
			continue
		}
		if err := wire.WriteFrame(p.conn, wire.Frame{Command: CmdObject, Payload: entry.Raw}); err != nil {
			return err
		}
	}
	return nil
}

// handleObject runs the object acceptance check from spec.md §4.6, stores
// accepted objects, and notifies the listener. A parse failure is returned
// as an error, which ends the connection; every other rejection, including
// a failed PoW check, drops the object silently.
func (p *Peer) handleObject(payload []byte) error {
	msg, err := object.Read(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return err
	}

	now := time.Now()
	if msg.ExpiresTime <= now.Add(-3*time.Hour).Unix() {
		return nil
	}
	if msg.ExpiresTime >= now.Add(300*time.Second).Unix() {
		return nil
	}
	if len(p.cfg.Streams) > 0 {
		subscribed := false
		for _, s := range p.cfg.Streams {
			if s == msg.Stream {
				subscribed = true
				break
			}
		}
		if !subscribed {
			return nil
		}
	}

	target := pow.Target(msg.PowLength(), p.cfg.NonceTrialsPerByte, p.cfg.ExtraBytes, msg.ExpiresTime-now.Unix())
	initialHash := msg.InitialHash()
	if !pow.Valid(initialHash, msg.Nonce, target) {
		return nil
	}

	iv := msg.InventoryVector()
	stored := p.inv.StoreObject(inventory.Entry{
		IV:          iv,
		Stream:      msg.Stream,
		ExpiresTime: msg.ExpiresTime,
		Raw:         payload,
	})
	if !stored {
		return nil
	}

	p.markAdvertised(iv)
	if p.listener != nil {
		p.listener.OnObjectAccepted(msg, iv)
	}
	return nil
}

func (p *Peer) markAdvertised(iv object.IV) {
	p.advertisedMu.Lock()
	p.advertised[iv] = true
	p.advertisedMu.Unlock()
}

// HasAdvertised reports whether iv has already been sent to or received
// from this peer, for the "advertise to up to 8 other random active peers"
// fan-out rule implemented by a higher layer that holds the full peer set.
func (p *Peer) HasAdvertised(iv object.IV) bool {
	p.advertisedMu.Lock()
	defer p.advertisedMu.Unlock()
	return p.advertised[iv]
}

// Offer sends an "inv" announcing iv to this peer, if not already
// advertised to it, and marks it advertised.
func (p *Peer) Offer(iv object.IV) error {
	if p.HasAdvertised(iv) {
		return nil
	}
	p.markAdvertised(iv)
	return wire.WriteFrame(p.conn, wire.Frame{Command: CmdInv, Payload: encodeIVList([]object.IV{iv})})
}

// clientNonce generates a random per-process nonce used to detect
// self-connects, the way Jabit's InternalContext derives one via a crypto
// RNG call at startup.
func clientNonce() uint64 {
	return binaryRandUint64()
}

func binaryRandUint64() uint64 {
	b := crypto.RandomBytes(8)
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// pickRandom returns up to n distinct random elements of peers, for the
// "advertise to up to 8 other random active peers" fan-out.
func pickRandom(peers []*Peer, n int) []*Peer {
	if len(peers) <= n {
		return peers
	}
	idx := rand.Perm(len(peers))[:n]
	out := make([]*Peer, 0, n)
	for _, i := range idx {
		out = append(out, peers[i])
	}
	return out
}
