// Package pipeline drives the outbound status machine (DRAFT through
// PUBKEY_REQUESTED, DOING_PROOF_OF_WORK, to SENT/RECEIVED/ACK_RECEIVED) and
// the inbound object dispatch (GET_PUBKEY/PUBKEY/MSG/BROADCAST). It is
// grounded line-for-line on the reference implementation's
// DefaultMessageListener (inbound dispatch, decrypt-then-verify-then-
// deliver sequencing) and InternalContext (outbound send/sendPubkey/
// requestPubkey and their sign-before-encrypt-before-PoW ordering).
package pipeline

import (
	"github.com/dissem-contrib/bmcore/address"
	"github.com/dissem-contrib/bmcore/object"
)

// Status is a plaintext message's position in the send/receive lifecycle.
type Status int

const (
	StatusDraft Status = iota
	StatusPubkeyRequested
	StatusDoingProofOfWork
	StatusSent
	StatusReceived
	StatusAckReceived
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "DRAFT"
	case StatusPubkeyRequested:
		return "PUBKEY_REQUESTED"
	case StatusDoingProofOfWork:
		return "DOING_PROOF_OF_WORK"
	case StatusSent:
		return "SENT"
	case StatusReceived:
		return "RECEIVED"
	case StatusAckReceived:
		return "ACK_RECEIVED"
	default:
		return "UNKNOWN"
	}
}

// Label names, matching the reference's built-in label set.
const (
	LabelInbox     = "inbox"
	LabelUnread    = "unread"
	LabelSent      = "sent"
	LabelDraft     = "draft"
	LabelTrash     = "trash"
	LabelBroadcast = "broadcast"
)

// Plaintext is a decrypted (or not-yet-encrypted) message, either a direct
// MSG or a BROADCAST, tracked through its lifecycle.
type Plaintext struct {
	Kind     object.Type // object.TypeMsg or object.TypeBroadcast
	From     address.Address
	To       address.Address // zero value for a broadcast
	Encoding uint64
	Subject  string
	Body     string
	AckData  [32]byte
	Sig      []byte
	Status   Status
	Labels   []string
	IV       *object.IV
}

func (p *Plaintext) hasLabel(label string) bool {
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func (p *Plaintext) addLabels(labels ...string) {
	for _, l := range labels {
		if !p.hasLabel(l) {
			p.Labels = append(p.Labels, l)
		}
	}
}
