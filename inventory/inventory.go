// Package inventory implements the node's set of unexpired object
// identifiers, indexed by stream with TTL eviction. The bucketed-by-expiry
// design is grounded on whisper/whisperv6/whisper.go's envelope pool:
// envelopes map[hash]*Envelope alongside expirations map[uint32]mapset.Set,
// swept by a periodic expire() that clears whole expiry buckets at once
// instead of scanning every entry.
package inventory

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/dissem-contrib/bmcore/log"
	"github.com/dissem-contrib/bmcore/object"
)

// Entry is a stored object: its identifying vector, the stream it belongs
// to, its expiry, and the raw bytes the network advertises and serves.
type Entry struct {
	IV          object.IV
	Stream      uint64
	ExpiresTime int64
	Raw         []byte
}

// Inventory is the storeObject/getObject/getInventory/cleanup port from the
// external interfaces list. The in-memory implementation below is the only
// implementation in this module; a persistent one is out of scope.
type Inventory interface {
	GetInventory(streams []uint64) []object.IV
	GetObject(iv object.IV) (*Entry, bool)
	StoreObject(e Entry) (stored bool)
	Cleanup()
}

// memory is a mutex-guarded inventory bucketed by expiry second, the same
// shape as whisper's pool: a flat map for lookup, a per-expiry set for O(1)
// bulk eviction instead of a scan over every entry on each sweep.
type memory struct {
	mu          sync.Mutex
	entries     map[object.IV]Entry
	expirations map[int64]mapset.Set
}

// New returns an empty in-memory inventory.
func New() Inventory {
	return &memory{
		entries:     make(map[object.IV]Entry),
		expirations: make(map[int64]mapset.Set),
	}
}

func (m *memory) GetInventory(streams []uint64) []object.IV {
	wanted := make(map[uint64]bool, len(streams))
	for _, s := range streams {
		wanted[s] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]object.IV, 0, len(m.entries))
	for iv, e := range m.entries {
		if len(wanted) == 0 || wanted[e.Stream] {
			out = append(out, iv)
		}
	}
	return out
}

func (m *memory) GetObject(iv object.IV) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[iv]
	if !ok {
		return nil, false
	}
	return &e, true
}

// StoreObject inserts e if its IV is not already present. An IV received
// twice concurrently results in exactly one store; losers get false back
// and must not notify downstream listeners.
func (m *memory) StoreObject(e Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[e.IV]; exists {
		return false
	}
	m.entries[e.IV] = e
	bucket := m.expirations[e.ExpiresTime]
	if bucket == nil {
		bucket = mapset.NewThreadUnsafeSet()
		m.expirations[e.ExpiresTime] = bucket
	}
	bucket.Add(e.IV)
	return true
}

// Cleanup evicts every entry whose expiry has passed.
func (m *memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	cleared := 0
	for expiry, ivs := range m.expirations {
		if expiry >= now {
			continue
		}
		ivs.Each(func(v interface{}) bool {
			delete(m.entries, v.(object.IV))
			cleared++
			return false
		})
		delete(m.expirations, expiry)
	}
	if cleared > 0 {
		log.Debug("inventory cleanup evicted expired objects", "count", cleared)
	}
}
