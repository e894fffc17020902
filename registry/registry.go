// Package registry implements the node registry port: known peer network
// addresses per stream, bounded so a flood of "addr" gossip cannot grow
// memory without limit. The bound is grounded on the teacher's recurring
// lru.Cache idiom (consensus/clique's recents/signatures caches,
// core/state/database's codeCache) -- a fixed-capacity cache that silently
// evicts the least recently used entry rather than ever growing unbounded.
package registry

import (
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// defaultCapacityPerStream bounds how many peer addresses are retained for
// a single stream.
const defaultCapacityPerStream = 4000

// NetworkAddress is a gossiped peer: its last-seen time, services
// bitfield, host and port, valid for the given streams.
type NetworkAddress struct {
	Services uint64
	Host     string
	Port     uint16
	Streams  []uint64
	LastSeen time.Time
}

func (a NetworkAddress) key() string {
	return a.Host + ":" + strconv.Itoa(int(a.Port))
}

// Registry is the getKnownAddresses/offerAddresses port.
type Registry interface {
	GetKnownAddresses(limit int, streams []uint64) []NetworkAddress
	OfferAddresses(addrs []NetworkAddress)
}

type registry struct {
	mu      sync.Mutex
	streams map[uint64]*lru.Cache
}

// New returns an empty node registry, creating one bounded cache per stream
// on first use.
func New() Registry {
	return &registry{streams: make(map[uint64]*lru.Cache)}
}

func (r *registry) cacheFor(stream uint64) *lru.Cache {
	c, ok := r.streams[stream]
	if !ok {
		c, _ = lru.New(defaultCapacityPerStream)
		r.streams[stream] = c
	}
	return c
}

// OfferAddresses merges addrs into the registry, refreshing LastSeen for
// addresses already known and evicting the least recently seen entry per
// stream once its cache is full.
func (r *registry) OfferAddresses(addrs []NetworkAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range addrs {
		for _, stream := range a.Streams {
			r.cacheFor(stream).Add(a.key(), a)
		}
	}
}

// GetKnownAddresses returns up to limit addresses drawn from the given
// streams (or every known stream if streams is empty), per spec.md's
// "up to 1000 known peers from shared streams" ACTIVE-state behavior.
func (r *registry) GetKnownAddresses(limit int, streams []uint64) []NetworkAddress {
	r.mu.Lock()
	defer r.mu.Unlock()

	var targets []uint64
	if len(streams) == 0 {
		for s := range r.streams {
			targets = append(targets, s)
		}
	} else {
		targets = streams
	}

	seen := make(map[string]bool)
	out := make([]NetworkAddress, 0, limit)
	for _, stream := range targets {
		cache, ok := r.streams[stream]
		if !ok {
			continue
		}
		for _, key := range cache.Keys() {
			if len(out) >= limit {
				return out
			}
			ks := key.(string)
			if seen[ks] {
				continue
			}
			seen[ks] = true
			if v, ok := cache.Peek(key); ok {
				out = append(out, v.(NetworkAddress))
			}
		}
	}
	return out
}
