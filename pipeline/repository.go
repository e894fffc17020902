package pipeline

import (
	"sync"

	"github.com/dissem-contrib/bmcore/address"
	"github.com/dissem-contrib/bmcore/object"
)

// Identity is an address we own the private key for.
type Identity struct {
	Private            *address.PrivateKey
	NonceTrialsPerByte uint64
	ExtraBytes         uint64
}

// Contact is a known remote address, with its pubkey cached once learned.
type Contact struct {
	Addr   address.Address
	Pubkey *object.PubkeyV3
}

// AddressRepository is the identities/contacts/subscriptions port from the
// external interfaces list: `getIdentities()`, `getSubscriptions(version?)`,
// `getContacts()`, `findContact(ripeOrTag)`, `findIdentity(ripeOrTag)`,
// `getAddress(str)`, `save(addr)`, `remove(addr)`. Split into
// Ripe/Tag-keyed lookups here since GetPubkey/EncryptedPubkey route by
// different key widths (20-byte RIPE pre-v4, 32-byte tag from v4 on).
type AddressRepository interface {
	GetIdentities() []*Identity
	FindIdentityByRipe(ripe [20]byte) (*Identity, bool)
	FindIdentityByTag(tag [32]byte) (*Identity, bool)

	GetContacts() []*Contact
	GetSubscriptions() []*Contact
	FindContactByRipe(ripe [20]byte) (*Contact, bool)
	FindContactByTag(tag [32]byte) (*Contact, bool)

	SaveIdentity(id *Identity)
	SaveContact(c *Contact)
	SaveSubscription(c *Contact)
	RemoveContact(addr address.Address)
}

// MessageRepository is the plaintext message store port.
type MessageRepository interface {
	GetLabels(types ...string) []string
	FindMessagesByStatus(status Status) []*Plaintext
	FindMessagesByRecipient(to address.Address) []*Plaintext
	FindMessagesByLabel(label string) []*Plaintext
	Save(msg *Plaintext)
	Remove(msg *Plaintext)
}

// memoryAddressRepository is a simple in-memory AddressRepository; no
// persistence engine is in scope for this module.
type memoryAddressRepository struct {
	mu            sync.Mutex
	identities    map[[20]byte]*Identity
	contacts      map[[20]byte]*Contact
	subscriptions map[[20]byte]*Contact
}

// NewMemoryAddressRepository returns an empty in-memory address book.
func NewMemoryAddressRepository() AddressRepository {
	return &memoryAddressRepository{
		identities:    make(map[[20]byte]*Identity),
		contacts:      make(map[[20]byte]*Contact),
		subscriptions: make(map[[20]byte]*Contact),
	}
}

func (r *memoryAddressRepository) GetIdentities() []*Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Identity, 0, len(r.identities))
	for _, id := range r.identities {
		out = append(out, id)
	}
	return out
}

func (r *memoryAddressRepository) FindIdentityByRipe(ripe [20]byte) (*Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[ripe]
	return id, ok
}

func (r *memoryAddressRepository) FindIdentityByTag(tag [32]byte) (*Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.identities {
		if id.Private.Address.Tag() == tag {
			return id, true
		}
	}
	return nil, false
}

func (r *memoryAddressRepository) GetContacts() []*Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		out = append(out, c)
	}
	return out
}

func (r *memoryAddressRepository) GetSubscriptions() []*Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Contact, 0, len(r.subscriptions))
	for _, c := range r.subscriptions {
		out = append(out, c)
	}
	return out
}

func (r *memoryAddressRepository) FindContactByRipe(ripe [20]byte) (*Contact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[ripe]
	return c, ok
}

func (r *memoryAddressRepository) FindContactByTag(tag [32]byte) (*Contact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.Addr.Tag() == tag {
			return c, true
		}
	}
	for _, c := range r.subscriptions {
		if c.Addr.Tag() == tag {
			return c, true
		}
	}
	return nil, false
}

func (r *memoryAddressRepository) SaveIdentity(id *Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[id.Private.Address.Ripe] = id
}

func (r *memoryAddressRepository) SaveContact(c *Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.Addr.Ripe] = c
}

func (r *memoryAddressRepository) SaveSubscription(c *Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[c.Addr.Ripe] = c
}

func (r *memoryAddressRepository) RemoveContact(addr address.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contacts, addr.Ripe)
}

// memoryMessageRepository is a simple in-memory MessageRepository.
type memoryMessageRepository struct {
	mu       sync.Mutex
	messages []*Plaintext
}

// NewMemoryMessageRepository returns an empty in-memory message store.
func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{}
}

func (r *memoryMessageRepository) GetLabels(types ...string) []string {
	return types
}

func (r *memoryMessageRepository) FindMessagesByStatus(status Status) []*Plaintext {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Plaintext
	for _, m := range r.messages {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

func (r *memoryMessageRepository) FindMessagesByRecipient(to address.Address) []*Plaintext {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Plaintext
	for _, m := range r.messages {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

func (r *memoryMessageRepository) FindMessagesByLabel(label string) []*Plaintext {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Plaintext
	for _, m := range r.messages {
		if m.hasLabel(label) {
			out = append(out, m)
		}
	}
	return out
}

func (r *memoryMessageRepository) Save(msg *Plaintext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m == msg {
			return
		}
	}
	r.messages = append(r.messages, msg)
}

func (r *memoryMessageRepository) Remove(msg *Plaintext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.messages {
		if m == msg {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return
		}
	}
}
