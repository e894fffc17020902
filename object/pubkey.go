package object

import (
	"bytes"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/dissem-contrib/bmcore/crypto/cryptobox"
	"github.com/dissem-contrib/bmcore/errs"
	"github.com/dissem-contrib/bmcore/wire"
)

// PubkeyV2 is the unsigned, unencrypted version-2 pubkey body: a behavior
// bitfield plus the two public key points. (Version 2 predates the
// signature field introduced in version 3; it is never wrapped in a
// CryptoBox either.)
type PubkeyV2 struct {
	Behavior      uint32
	SigningKey    [64]byte
	EncryptionKey [64]byte
}

func (p *PubkeyV2) Type() Type { return TypePubkey }

func (p *PubkeyV2) WriteWire(w io.Writer) error {
	if err := wire.WriteFixedUint32(w, p.Behavior); err != nil {
		return err
	}
	if _, err := w.Write(p.SigningKey[:]); err != nil {
		return err
	}
	_, err := w.Write(p.EncryptionKey[:])
	return err
}

// WriteSigningBody exists to satisfy Payload; v2 pubkeys carry no signature.
func (p *PubkeyV2) WriteSigningBody(w io.Writer) error { return p.WriteWire(w) }

func ParsePubkeyV2(data []byte) (*PubkeyV2, error) {
	r := bytes.NewReader(data)
	p := &PubkeyV2{}
	behavior, err := wire.ReadFixedUint32(r)
	if err != nil {
		return nil, errs.DecodeError
	}
	p.Behavior = behavior
	if _, err := io.ReadFull(r, p.SigningKey[:]); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, p.EncryptionKey[:]); err != nil {
		return nil, errs.DecodeError
	}
	return p, nil
}

// PubkeyV3 adds the recipient's requested proof-of-work parameters and a
// detached signature to the v2 body. It is also the decrypted form that
// travels inside a version-4 pubkey's CryptoBox.
type PubkeyV3 struct {
	Behavior           uint32
	SigningKey         [64]byte
	EncryptionKey      [64]byte
	NonceTrialsPerByte uint64
	ExtraBytes         uint64
	Sig                []byte
}

func (p *PubkeyV3) Type() Type { return TypePubkey }

func (p *PubkeyV3) bodyWithoutSignature(w io.Writer) error {
	if err := wire.WriteFixedUint32(w, p.Behavior); err != nil {
		return err
	}
	if _, err := w.Write(p.SigningKey[:]); err != nil {
		return err
	}
	if _, err := w.Write(p.EncryptionKey[:]); err != nil {
		return err
	}
	if err := wire.WriteVarint(w, p.NonceTrialsPerByte); err != nil {
		return err
	}
	return wire.WriteVarint(w, p.ExtraBytes)
}

func (p *PubkeyV3) WriteWire(w io.Writer) error {
	if err := p.bodyWithoutSignature(w); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, p.Sig)
}

func (p *PubkeyV3) WriteSigningBody(w io.Writer) error { return p.bodyWithoutSignature(w) }

func (p *PubkeyV3) Signature() []byte      { return p.Sig }
func (p *PubkeyV3) SetSignature(sig []byte) { p.Sig = sig }

func ParsePubkeyV3(data []byte) (*PubkeyV3, error) {
	r := bytes.NewReader(data)
	p := &PubkeyV3{}
	var err error
	if p.Behavior, err = wire.ReadFixedUint32(r); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, p.SigningKey[:]); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, p.EncryptionKey[:]); err != nil {
		return nil, errs.DecodeError
	}
	if p.NonceTrialsPerByte, err = wire.ReadVarint(r); err != nil {
		return nil, errs.DecodeError
	}
	if p.ExtraBytes, err = wire.ReadVarint(r); err != nil {
		return nil, errs.DecodeError
	}
	if p.Sig, err = wire.ReadVarBytes(r, 2000); err != nil {
		return nil, errs.DecodeError
	}
	return p, nil
}

// EncryptedPubkey is a version-4 pubkey in its wire form: a routing tag plus
// a CryptoBox envelope wrapping a signed PubkeyV3. It is a distinct type
// from PubkeyV3 rather than a PubkeyV3 with a nullable "encrypted" field,
// per the encrypted/decrypted design split the reference uses (Jabit's
// V4Pubkey keeps `encrypted CryptoBox` and `decrypted V3Pubkey` as separate
// fields with an explicit decrypt() transition; we make that transition a
// type change instead).
type EncryptedPubkey struct {
	Tag [32]byte
	raw []byte
}

func (p *EncryptedPubkey) Type() Type { return TypePubkey }

func (p *EncryptedPubkey) WriteWire(w io.Writer) error {
	if _, err := w.Write(p.Tag[:]); err != nil {
		return err
	}
	_, err := w.Write(p.raw)
	return err
}

var errEncryptedPubkeyUnsigned = errors.New("object: sign the decrypted v3 pubkey before encrypting it, not the envelope")

func (p *EncryptedPubkey) WriteSigningBody(io.Writer) error { return errEncryptedPubkeyUnsigned }

// Decrypt opens the envelope with the address's ECDH decryption scalar and
// parses the resulting PubkeyV3.
func (p *EncryptedPubkey) Decrypt(scalar [32]byte) (*PubkeyV3, error) {
	box, err := cryptobox.Parse(p.raw)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(scalar[:])
	plain, err := box.Decrypt(priv)
	if err != nil {
		return nil, err
	}
	return ParsePubkeyV3(plain)
}

// EncryptPubkeyV4 seals a signed decrypted PubkeyV3 for the given tag,
// keyed by ECDH to recipientPub (the public key corresponding to the
// target address's decryption scalar).
func EncryptPubkeyV4(tag [32]byte, decrypted *PubkeyV3, recipientPub *btcec.PublicKey) (*EncryptedPubkey, error) {
	var body bytes.Buffer
	if err := decrypted.WriteWire(&body); err != nil {
		return nil, err
	}
	raw, err := cryptobox.Encrypt(body.Bytes(), recipientPub)
	if err != nil {
		return nil, err
	}
	return &EncryptedPubkey{Tag: tag, raw: raw}, nil
}

// WriteV4PubkeySigningBody writes the version-4 signing preimage contribution:
// tag || decrypted-v3-body-without-signature.
func WriteV4PubkeySigningBody(w io.Writer, tag [32]byte, decrypted *PubkeyV3) error {
	if _, err := w.Write(tag[:]); err != nil {
		return err
	}
	return decrypted.bodyWithoutSignature(w)
}

func ParseEncryptedPubkey(data []byte) (*EncryptedPubkey, error) {
	if len(data) < 32 {
		return nil, errs.DecodeError
	}
	p := &EncryptedPubkey{}
	copy(p.Tag[:], data[:32])
	p.raw = data[32:]
	return p, nil
}
