// Package bmcontext is the composition root: it wires the inventory,
// node registry, address/message repositories, and send/receive pipeline
// into a running node and exposes the handful of operations a caller
// needs (send, send broadcast, listen, dial). It is
// grounded on the reference's InternalContext, which plays the identical
// role: a single object built once at startup holding every port, computing
// the joined stream set from configured identities and subscriptions, and
// exposing thin send/sendPubkey/requestPubkey wrappers over the pipeline.
package bmcontext

import (
	"crypto/rand"
	"net"
	"strconv"
	"time"

	"github.com/dissem-contrib/bmcore/address"
	"github.com/dissem-contrib/bmcore/inventory"
	"github.com/dissem-contrib/bmcore/log"
	"github.com/dissem-contrib/bmcore/p2p"
	"github.com/dissem-contrib/bmcore/pipeline"
	"github.com/dissem-contrib/bmcore/registry"
)

// Config carries the node-wide settings InternalContext takes from its
// builder: listening port, connection limits/timeouts, user agent, and
// pubkey/message TTLs.
type Config struct {
	Port          int
	UserAgent     string
	ConnectionTTL time.Duration
	MessageTTL    time.Duration
	PubkeyTTL     time.Duration
}

// Context is the running node: every port wired together, plus the derived
// stream set and client nonce a Peer needs to run the handshake.
type Context struct {
	cfg Config

	Inventory inventory.Inventory
	Registry  registry.Registry
	Addresses pipeline.AddressRepository
	Messages  pipeline.MessageRepository
	Pipeline  *pipeline.Pipeline
	Server    *p2p.Server

	clientNonce uint64
	streams     []uint64
}

// New builds a Context over fresh in-memory ports. appListener, if non-nil,
// is notified whenever an inbound MSG or BROADCAST is decrypted.
func New(cfg Config, appListener pipeline.Listener) *Context {
	if cfg.ConnectionTTL <= 0 {
		cfg.ConnectionTTL = 30 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "/bmcore:0.1/"
	}

	inv := inventory.New()
	reg := registry.New()
	addrs := pipeline.NewMemoryAddressRepository()
	msgs := pipeline.NewMemoryMessageRepository()

	pipe := pipeline.New(addrs, msgs, inv, nil, appListener)
	if cfg.MessageTTL > 0 {
		pipe.MessageTTL = cfg.MessageTTL
	}
	if cfg.PubkeyTTL > 0 {
		pipe.PubkeyTTL = cfg.PubkeyTTL
	}

	streams := joinedStreams(addrs)

	peerCfg := p2p.Config{
		ClientNonce:        randomClientNonce(),
		Streams:            streams,
		UserAgent:          cfg.UserAgent,
		ConnectionTTL:      cfg.ConnectionTTL,
		NonceTrialsPerByte: pipe.NonceTrialsPerByte,
		ExtraBytes:         pipe.ExtraBytes,
	}
	server := p2p.NewServer(peerCfg, inv, reg, pipe)
	pipe.Flood = server

	return &Context{
		cfg:         cfg,
		Inventory:   inv,
		Registry:    reg,
		Addresses:   addrs,
		Messages:    msgs,
		Pipeline:    pipe,
		Server:      server,
		clientNonce: peerCfg.ClientNonce,
		streams:     streams,
	}
}

// joinedStreams collects the streams of every configured identity and
// subscription, defaulting to stream 1 if none are configured yet --
// exactly InternalContext's constructor logic. AddIdentity and Subscribe
// call it again so the set follows identities and subscriptions added
// after startup.
func joinedStreams(addrs pipeline.AddressRepository) []uint64 {
	seen := make(map[uint64]bool)
	var streams []uint64
	add := func(s uint64) {
		if !seen[s] {
			seen[s] = true
			streams = append(streams, s)
		}
	}
	for _, id := range addrs.GetIdentities() {
		add(id.Private.Address.Stream)
	}
	for _, c := range addrs.GetSubscriptions() {
		add(c.Addr.Stream)
	}
	if len(streams) == 0 {
		add(1)
	}
	return streams
}

func randomClientNonce() uint64 {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return uint64(time.Now().UnixNano())
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// AddIdentity registers a local identity and recomputes the joined stream
// set (picking it up without a restart, unlike the reference); the new set
// applies to peers connected afterwards.
func (c *Context) AddIdentity(id *pipeline.Identity) {
	c.Addresses.SaveIdentity(id)
	c.streams = joinedStreams(c.Addresses)
	c.Server.UpdateStreams(c.streams)
}

// Subscribe registers a broadcast subscription and recomputes the joined
// stream set.
func (c *Context) Subscribe(contact *pipeline.Contact) {
	c.Addresses.SaveSubscription(contact)
	c.streams = joinedStreams(c.Addresses)
	c.Server.UpdateStreams(c.streams)
}

// Send drives the outbound MSG flow for (from, to, plaintext).
func (c *Context) Send(from *pipeline.Identity, to address.Address, plaintext *pipeline.Plaintext) error {
	return c.Pipeline.Send(from, to, plaintext)
}

// SendBroadcast drives the outbound BROADCAST flow for (from, plaintext).
func (c *Context) SendBroadcast(from *pipeline.Identity, plaintext *pipeline.Plaintext) error {
	return c.Pipeline.SendBroadcast(from, plaintext)
}

// Listen accepts inbound connections on the configured port until the
// listener errs or the Context is closed.
func (c *Context) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(c.cfg.Port)))
	if err != nil {
		return err
	}
	log.Info("bmcontext: listening", "port", c.cfg.Port)
	return c.Server.Serve(ln)
}

// Dial connects outbound to a peer address (host:port).
func (c *Context) Dial(addr string) error {
	_, err := c.Server.Dial(addr)
	return err
}

// Close shuts down the peer set.
func (c *Context) Close() {
	c.Server.Close()
}

// ClientNonce is this node's per-process handshake nonce, used by peers to
// detect self-connects.
func (c *Context) ClientNonce() uint64 { return c.clientNonce }

// Streams is the joined stream set of every configured identity and
// subscription (or just stream 1, if none are configured).
func (c *Context) Streams() []uint64 { return c.streams }
