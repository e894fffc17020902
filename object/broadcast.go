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

// DecryptedBroadcast is the plaintext inside a Broadcast's CryptoBox: the
// sender's address material and message content. Unlike Msg it carries no
// destination (everyone subscribed to the sender can decrypt it) and no
// ackData (broadcasts are not acknowledged).
type DecryptedBroadcast struct {
	SenderAddressVersion uint64
	SenderStream         uint64
	SenderBehavior       uint32
	SenderSigningKey     [64]byte
	SenderEncryptionKey  [64]byte
	Encoding             uint64
	Subject              string
	Body                 string
	Sig                  []byte
}

func (b *DecryptedBroadcast) Type() Type { return TypeBroadcast }

func (b *DecryptedBroadcast) bodyWithoutSignature(w io.Writer) error {
	if err := wire.WriteVarint(w, b.SenderAddressVersion); err != nil {
		return err
	}
	if err := wire.WriteVarint(w, b.SenderStream); err != nil {
		return err
	}
	if err := wire.WriteFixedUint32(w, b.SenderBehavior); err != nil {
		return err
	}
	if _, err := w.Write(b.SenderSigningKey[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.SenderEncryptionKey[:]); err != nil {
		return err
	}
	if err := wire.WriteVarint(w, b.Encoding); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, b.Subject); err != nil {
		return err
	}
	return wire.WriteVarString(w, b.Body)
}

func (b *DecryptedBroadcast) WriteWire(w io.Writer) error {
	if err := b.bodyWithoutSignature(w); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, b.Sig)
}

// WriteSigningBody is the version-4 form (no tag prefix); version-5 signing
// uses WriteV5BroadcastSigningBody instead.
func (b *DecryptedBroadcast) WriteSigningBody(w io.Writer) error { return b.bodyWithoutSignature(w) }

func (b *DecryptedBroadcast) Signature() []byte       { return b.Sig }
func (b *DecryptedBroadcast) SetSignature(sig []byte) { b.Sig = sig }

// WriteV5BroadcastSigningBody writes the version-5 signing preimage
// contribution: tag || body-without-signature.
func WriteV5BroadcastSigningBody(w io.Writer, tag [32]byte, decrypted *DecryptedBroadcast) error {
	if _, err := w.Write(tag[:]); err != nil {
		return err
	}
	return decrypted.bodyWithoutSignature(w)
}

func ParseDecryptedBroadcast(data []byte) (*DecryptedBroadcast, error) {
	r := bytes.NewReader(data)
	b := &DecryptedBroadcast{}
	var err error
	if b.SenderAddressVersion, err = wire.ReadVarint(r); err != nil {
		return nil, errs.DecodeError
	}
	if b.SenderStream, err = wire.ReadVarint(r); err != nil {
		return nil, errs.DecodeError
	}
	if b.SenderBehavior, err = wire.ReadFixedUint32(r); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, b.SenderSigningKey[:]); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, b.SenderEncryptionKey[:]); err != nil {
		return nil, errs.DecodeError
	}
	if b.Encoding, err = wire.ReadVarint(r); err != nil {
		return nil, errs.DecodeError
	}
	if b.Subject, err = wire.ReadVarString(r, maxMessageFieldLen); err != nil {
		return nil, errs.DecodeError
	}
	if b.Body, err = wire.ReadVarString(r, maxMessageFieldLen); err != nil {
		return nil, errs.DecodeError
	}
	if b.Sig, err = wire.ReadVarBytes(r, 2000); err != nil {
		return nil, errs.DecodeError
	}
	return b, nil
}

// EncryptedBroadcastV4 is a version-4 broadcast in its wire form: a bare
// CryptoBox envelope keyed by the sender address's broadcast key. Matching
// subscriptions are found by trying every subscribed version-4 address.
type EncryptedBroadcastV4 struct {
	raw []byte
}

func (b *EncryptedBroadcastV4) Type() Type { return TypeBroadcast }

func (b *EncryptedBroadcastV4) WriteWire(w io.Writer) error {
	_, err := w.Write(b.raw)
	return err
}

var errBroadcastMustSignBeforeEncrypt = errors.New("object: sign the decrypted broadcast before encrypting it, not the envelope")

func (b *EncryptedBroadcastV4) WriteSigningBody(io.Writer) error {
	return errBroadcastMustSignBeforeEncrypt
}

func (b *EncryptedBroadcastV4) Decrypt(priv *btcec.PrivateKey) (*DecryptedBroadcast, error) {
	box, err := cryptobox.Parse(b.raw)
	if err != nil {
		return nil, err
	}
	plain, err := box.Decrypt(priv)
	if err != nil {
		return nil, err
	}
	return ParseDecryptedBroadcast(plain)
}

func EncryptBroadcastV4(decrypted *DecryptedBroadcast, key *btcec.PublicKey) (*EncryptedBroadcastV4, error) {
	var body bytes.Buffer
	if err := decrypted.WriteWire(&body); err != nil {
		return nil, err
	}
	raw, err := cryptobox.Encrypt(body.Bytes(), key)
	if err != nil {
		return nil, err
	}
	return &EncryptedBroadcastV4{raw: raw}, nil
}

func ParseEncryptedBroadcastV4(data []byte) *EncryptedBroadcastV4 {
	return &EncryptedBroadcastV4{raw: data}
}

// EncryptedBroadcastV5 additionally carries the sender's tag in the clear so
// subscribers can filter candidates before attempting (and failing) a
// decryption against every non-matching broadcast on the wire.
type EncryptedBroadcastV5 struct {
	Tag [32]byte
	raw []byte
}

func (b *EncryptedBroadcastV5) Type() Type { return TypeBroadcast }

func (b *EncryptedBroadcastV5) WriteWire(w io.Writer) error {
	if _, err := w.Write(b.Tag[:]); err != nil {
		return err
	}
	_, err := w.Write(b.raw)
	return err
}

func (b *EncryptedBroadcastV5) WriteSigningBody(io.Writer) error {
	return errBroadcastMustSignBeforeEncrypt
}

func (b *EncryptedBroadcastV5) Decrypt(priv *btcec.PrivateKey) (*DecryptedBroadcast, error) {
	box, err := cryptobox.Parse(b.raw)
	if err != nil {
		return nil, err
	}
	plain, err := box.Decrypt(priv)
	if err != nil {
		return nil, err
	}
	return ParseDecryptedBroadcast(plain)
}

func EncryptBroadcastV5(tag [32]byte, decrypted *DecryptedBroadcast, key *btcec.PublicKey) (*EncryptedBroadcastV5, error) {
	var body bytes.Buffer
	if err := decrypted.WriteWire(&body); err != nil {
		return nil, err
	}
	raw, err := cryptobox.Encrypt(body.Bytes(), key)
	if err != nil {
		return nil, err
	}
	return &EncryptedBroadcastV5{Tag: tag, raw: raw}, nil
}

func ParseEncryptedBroadcastV5(data []byte) (*EncryptedBroadcastV5, error) {
	if len(data) < 32 {
		return nil, errs.DecodeError
	}
	b := &EncryptedBroadcastV5{}
	copy(b.Tag[:], data[:32])
	b.raw = data[32:]
	return b, nil
}
