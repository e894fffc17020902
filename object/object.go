// Package object implements the Bitmessage object model: the network-
// flooded ObjectMessage envelope and its typed payloads (getpubkey, pubkey
// v2/v3/v4, msg, broadcast v4/v5), their canonical signing preimages, and
// the encrypted/decrypted type split the reference (Jabit's V4Pubkey,
// V5Broadcast) uses for anything wrapped in a CryptoBox. Framing is
// grounded on go-ethereum whisper's envelope.go (one struct, PoW sealed in
// place, Open returns the decrypted payload); the exact field layout and
// preimage rules come from Jabit's entity/payload classes.
package object

import (
	"bytes"
	"io"

	"github.com/dissem-contrib/bmcore/crypto"
	"github.com/dissem-contrib/bmcore/errs"
	"github.com/dissem-contrib/bmcore/wire"
)

// Type is the numeric object-type code carried on the wire.
type Type uint32

const (
	TypeGetPubkey Type = 0
	TypePubkey    Type = 1
	TypeMsg       Type = 2
	TypeBroadcast Type = 3
)

// Payload is implemented by every parsed object-type-specific body.
type Payload interface {
	Type() Type
	// WriteWire writes the payload's on-wire bytes (including its own
	// signature field, if any).
	WriteWire(w io.Writer) error
	// WriteSigningBody writes the preimage contribution this payload adds
	// after the envelope header (expiresTime/objectType/version/stream):
	// itself minus its signature field, with v4 pubkey/broadcast prefixing
	// their tag as the reference does.
	WriteSigningBody(w io.Writer) error
}

// Signed is implemented by payloads that carry a detachable ECDSA
// signature.
type Signed interface {
	Payload
	Signature() []byte
	SetSignature(sig []byte)
}

// IVLength is the size of an InventoryVector.
const IVLength = 32

// IV identifies a network object for its lifetime.
type IV [IVLength]byte

// Message is the network-flooded unit: nonce || expiresTime || objectType ||
// version || stream || payload bytes.
type Message struct {
	Nonce        uint64
	ExpiresTime  int64
	ObjectType   Type
	Version      uint64
	Stream       uint64
	PayloadBytes []byte

	// Payload is the typed parse of PayloadBytes, populated by ParsePayload.
	// It is nil for unparsed or unknown-type objects; those are still
	// stored and relayed opaquely per the object type registry rule.
	Payload Payload
}

// MaxObjectPayload bounds a single object's payload, derived from the
// maximum frame size minus the fixed envelope header.
const MaxObjectPayload = wire.MaxPayloadLength - 8 - 8 - 4 - 9 - 9

// bytesWithoutNonce serializes everything after the nonce field; this is
// what initialHash hashes for proof of work.
func (m *Message) bytesWithoutNonce() []byte {
	var buf bytes.Buffer
	wire.WriteFixedInt64(&buf, m.ExpiresTime)
	wire.WriteFixedUint32(&buf, uint32(m.ObjectType))
	wire.WriteVarint(&buf, m.Version)
	wire.WriteVarint(&buf, m.Stream)
	buf.Write(m.PayloadBytes)
	return buf.Bytes()
}

// InitialHash is SHA-512 of the object's bytes excluding the nonce -- the
// value the proof-of-work search hashes against.
func (m *Message) InitialHash() [64]byte {
	return crypto.Sha512(m.bytesWithoutNonce())
}

// PowLength is the length, in bytes, of the object excluding its nonce --
// the "payloadLength" term of the proof-of-work target formula.
func (m *Message) PowLength() uint64 {
	return uint64(len(m.bytesWithoutNonce()))
}

// Write serializes the full object (nonce included) to w.
func (m *Message) Write(w io.Writer) error {
	if err := wire.WriteFixedUint64(w, m.Nonce); err != nil {
		return err
	}
	_, err := w.Write(m.bytesWithoutNonce())
	return err
}

// Bytes returns the full serialized object.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	m.Write(&buf)
	return buf.Bytes()
}

// InventoryVector is the first 32 bytes of double-SHA-512 of the full
// object bytes (nonce included); stable across serialize/parse round trips.
func (m *Message) InventoryVector() IV {
	full := crypto.DoubleSha512(m.Bytes())
	var iv IV
	copy(iv[:], full[:IVLength])
	return iv
}

// Read parses an object envelope from r. maxLen bounds the payload read so a
// malicious peer cannot force an unbounded allocation; the caller typically
// passes the frame's declared payload length minus the header already
// consumed.
func Read(r io.Reader, maxLen int64) (*Message, error) {
	nonce, err := wire.ReadFixedUint64(r)
	if err != nil {
		return nil, errs.MalformedWire
	}
	expires, err := wire.ReadFixedInt64(r)
	if err != nil {
		return nil, errs.MalformedWire
	}
	objType, err := wire.ReadFixedUint32(r)
	if err != nil {
		return nil, errs.MalformedWire
	}
	version, err := wire.ReadVarint(r)
	if err != nil {
		return nil, errs.MalformedWire
	}
	stream, err := wire.ReadVarint(r)
	if err != nil {
		return nil, errs.MalformedWire
	}
	bounded := wire.NewBoundedReader(r, maxLen)
	payload, err := io.ReadAll(bounded)
	if err != nil {
		return nil, errs.MalformedWire
	}
	return &Message{
		Nonce:        nonce,
		ExpiresTime:  expires,
		ObjectType:   Type(objType),
		Version:      version,
		Stream:       stream,
		PayloadBytes: payload,
	}, nil
}

// WriteBytesToSign writes the canonical signing preimage: expiresTime ||
// objectType || version || stream || payload-specific body (excluding the
// signature field).
func (m *Message) WriteBytesToSign(w io.Writer, p Payload) error {
	wire.WriteFixedInt64(w, m.ExpiresTime)
	wire.WriteFixedUint32(w, uint32(m.ObjectType))
	wire.WriteVarint(w, m.Version)
	wire.WriteVarint(w, m.Stream)
	return p.WriteSigningBody(w)
}

// Sign computes and attaches a signature to p using priv, then re-encodes
// PayloadBytes from p so the envelope stays consistent.
func (m *Message) Sign(priv []byte, p Signed) error {
	var preimage bytes.Buffer
	if err := m.WriteBytesToSign(&preimage, p); err != nil {
		return err
	}
	digest := crypto.Digest(m.Version, preimage.Bytes())
	key := crypto.PrivateKeyFromBytes(priv)
	sig := crypto.Sign(key, digest)
	p.SetSignature(sig)
	return m.SetPayload(p)
}

// VerifySignature recomputes the preimage and checks p's signature against
// pub (Bitmessage's 64-byte wire point encoding).
func (m *Message) VerifySignature(p Signed, pub [64]byte) (bool, error) {
	pubKey, err := crypto.PublicKeyFromWirePoint(pub[:])
	if err != nil {
		return false, err
	}
	var preimage bytes.Buffer
	if err := m.WriteBytesToSign(&preimage, p); err != nil {
		return false, err
	}
	digest := crypto.Digest(m.Version, preimage.Bytes())
	return crypto.Verify(pubKey, digest, p.Signature()), nil
}

// SetPayload re-encodes PayloadBytes from p and attaches it as the typed
// Payload.
func (m *Message) SetPayload(p Payload) error {
	var buf bytes.Buffer
	if err := p.WriteWire(&buf); err != nil {
		return err
	}
	m.PayloadBytes = buf.Bytes()
	m.Payload = p
	return nil
}
