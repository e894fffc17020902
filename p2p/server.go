package p2p

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/dissem-contrib/bmcore/inventory"
	"github.com/dissem-contrib/bmcore/log"
	"github.com/dissem-contrib/bmcore/object"
	"github.com/dissem-contrib/bmcore/registry"
)

// fanout is how many other active peers learn of a freshly accepted or
// locally sealed object, per spec.md §4.6(e).
const fanout = 8

// Server owns the live peer set for one node: it dials and accepts
// connections, relays each Peer's accepted objects to an upstream listener,
// and re-advertises them to a random subset of the remaining peers. It is
// the thing that satisfies pipeline.Flooder for outbound sends. Grounded on
// the teacher's p2p/server.go peer-map/addPeer/removePeer shape, trimmed of
// discovery/dialing-scheduler machinery this protocol has no use for.
type Server struct {
	cfg      Config
	inv      inventory.Inventory
	reg      registry.Registry
	upstream ObjectListener

	mu    sync.Mutex
	peers map[*Peer]struct{}

	done     chan struct{}
	closeOne sync.Once
}

// NewServer wires a Server over the shared inventory/registry and an
// upstream ObjectListener (typically a pipeline.Pipeline) that receives
// every accepted object after the fan-out bookkeeping.
func NewServer(cfg Config, inv inventory.Inventory, reg registry.Registry, upstream ObjectListener) *Server {
	return &Server{
		cfg:      cfg,
		inv:      inv,
		reg:      reg,
		upstream: upstream,
		peers:    make(map[*Peer]struct{}),
		done:     make(chan struct{}),
	}
}

// OnObjectAccepted implements ObjectListener: it is passed to every Peer in
// place of the application listener so the server can fan the object out to
// the rest of the peer set before (or after) the application sees it.
func (s *Server) OnObjectAccepted(msg *object.Message, iv object.IV) {
	if s.upstream != nil {
		s.upstream.OnObjectAccepted(msg, iv)
	}
	s.advertise(iv, nil)
}

// Flood implements pipeline.Flooder for locally originated objects: there is
// no originating peer to exclude, so every active peer is a candidate.
func (s *Server) Flood(msg *object.Message) {
	s.advertise(msg.InventoryVector(), nil)
}

func (s *Server) advertise(iv object.IV, exclude *Peer) {
	active := s.activePeers(exclude)
	for _, peer := range pickRandom(active, fanout) {
		if err := peer.Offer(iv); err != nil {
			log.Debug("p2p: failed to offer object to peer", "err", err)
		}
	}
}

func (s *Server) activePeers(exclude *Peer) []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for peer := range s.peers {
		if peer == exclude {
			continue
		}
		if peer.State() == StateActive {
			out = append(out, peer)
		}
	}
	return out
}

func (s *Server) addPeer(p *Peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removePeer(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

// Peers returns a snapshot of the peers currently in the ACTIVE state.
func (s *Server) Peers() []*Peer {
	return s.activePeers(nil)
}

// UpdateStreams replaces the stream list newly dialed or accepted peers
// advertise and subscribe to; peers already running keep the set they
// started with.
func (s *Server) UpdateStreams(streams []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Streams = streams
}

func (s *Server) peerConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Dial connects outbound to addr, runs the handshake, and keeps the
// resulting Peer in the set until it disconnects.
func (s *Server) Dial(addr string) (*Peer, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	peer := NewPeer(conn, s.peerConfig(), s.inv, s.reg, s, true)
	s.addPeer(peer)
	go func() {
		defer s.removePeer(peer)
		if err := peer.Run(s.done); err != nil {
			log.Debug("p2p: outbound peer disconnected", "addr", addr, "err", err)
		}
	}()
	return peer, nil
}

// Serve accepts inbound connections on ln until it errors or the server is
// closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		peer := NewPeer(conn, s.peerConfig(), s.inv, s.reg, s, false)
		s.addPeer(peer)
		go func() {
			defer s.removePeer(peer)
			if err := peer.Run(s.done); err != nil {
				log.Debug("p2p: inbound peer disconnected", "err", err)
			}
		}()
	}
}

// Synchronize is the one-shot variant from spec.md §4.6's timeouts
// paragraph: dial a single peer, exchange inv/getdata, then disconnect when
// either timeout elapses or the connection goes idle (inventory exhausted).
// It reuses ConnectionTTL as the idle bound, overridden to timeout for the
// duration of this call.
func (s *Server) Synchronize(host string, port int, timeout time.Duration) error {
	cfg := s.peerConfig()
	cfg.ConnectionTTL = timeout
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 10*time.Second)
	if err != nil {
		return err
	}
	peer := NewPeer(conn, cfg, s.inv, s.reg, s, true)
	s.addPeer(peer)
	defer s.removePeer(peer)
	deadline := time.AfterFunc(timeout, peer.close)
	defer deadline.Stop()
	return peer.Run(s.done)
}

// Close stops accepting new work and disconnects every peer.
func (s *Server) Close() {
	s.closeOne.Do(func() {
		close(s.done)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	for peer := range s.peers {
		peer.close()
	}
}
