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

// maxMessageFieldLen bounds the subject/body varbytes reads inside a
// decrypted Msg/Broadcast body at the network's frame payload ceiling.
const maxMessageFieldLen = wire.MaxPayloadLength

// DecryptedMsg is the plaintext that travels inside a Msg's CryptoBox: the
// sender's address material (piggybacked so the recipient can reply without
// a prior pubkey exchange), the destination RIPE, and the message content.
// It is signed before it is encrypted, per the reference's
// sign-then-encrypt / decrypt-then-verify ordering.
type DecryptedMsg struct {
	SenderAddressVersion uint64
	SenderStream         uint64
	SenderBehavior       uint32
	SenderSigningKey     [64]byte
	SenderEncryptionKey  [64]byte
	DestinationRipe      [20]byte
	Encoding             uint64
	Subject              string
	Body                 string
	AckData              [32]byte
	Sig                  []byte
}

func (m *DecryptedMsg) Type() Type { return TypeMsg }

func (m *DecryptedMsg) bodyWithoutSignature(w io.Writer) error {
	if err := wire.WriteVarint(w, m.SenderAddressVersion); err != nil {
		return err
	}
	if err := wire.WriteVarint(w, m.SenderStream); err != nil {
		return err
	}
	if err := wire.WriteFixedUint32(w, m.SenderBehavior); err != nil {
		return err
	}
	if _, err := w.Write(m.SenderSigningKey[:]); err != nil {
		return err
	}
	if _, err := w.Write(m.SenderEncryptionKey[:]); err != nil {
		return err
	}
	if _, err := w.Write(m.DestinationRipe[:]); err != nil {
		return err
	}
	if err := wire.WriteVarint(w, m.Encoding); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, m.Subject); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, m.Body); err != nil {
		return err
	}
	_, err := w.Write(m.AckData[:])
	return err
}

func (m *DecryptedMsg) WriteWire(w io.Writer) error {
	if err := m.bodyWithoutSignature(w); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, m.Sig)
}

func (m *DecryptedMsg) WriteSigningBody(w io.Writer) error { return m.bodyWithoutSignature(w) }

func (m *DecryptedMsg) Signature() []byte       { return m.Sig }
func (m *DecryptedMsg) SetSignature(sig []byte) { m.Sig = sig }

func ParseDecryptedMsg(data []byte) (*DecryptedMsg, error) {
	r := bytes.NewReader(data)
	m := &DecryptedMsg{}
	var err error
	if m.SenderAddressVersion, err = wire.ReadVarint(r); err != nil {
		return nil, errs.DecodeError
	}
	if m.SenderStream, err = wire.ReadVarint(r); err != nil {
		return nil, errs.DecodeError
	}
	if m.SenderBehavior, err = wire.ReadFixedUint32(r); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, m.SenderSigningKey[:]); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, m.SenderEncryptionKey[:]); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, m.DestinationRipe[:]); err != nil {
		return nil, errs.DecodeError
	}
	if m.Encoding, err = wire.ReadVarint(r); err != nil {
		return nil, errs.DecodeError
	}
	if m.Subject, err = wire.ReadVarString(r, maxMessageFieldLen); err != nil {
		return nil, errs.DecodeError
	}
	if m.Body, err = wire.ReadVarString(r, maxMessageFieldLen); err != nil {
		return nil, errs.DecodeError
	}
	if _, err := io.ReadFull(r, m.AckData[:]); err != nil {
		return nil, errs.DecodeError
	}
	if m.Sig, err = wire.ReadVarBytes(r, 2000); err != nil {
		return nil, errs.DecodeError
	}
	return m, nil
}

// EncryptedMsg is a Msg object in its wire form: an opaque CryptoBox
// envelope. Decryption is attempted against every local identity's
// encryption key, per the pipeline's inbound dispatch rule.
type EncryptedMsg struct {
	raw []byte
}

func (m *EncryptedMsg) Type() Type { return TypeMsg }

func (m *EncryptedMsg) WriteWire(w io.Writer) error {
	_, err := w.Write(m.raw)
	return err
}

var errMsgMustSignBeforeEncrypt = errors.New("object: sign the decrypted msg before encrypting it, not the envelope")

func (m *EncryptedMsg) WriteSigningBody(io.Writer) error { return errMsgMustSignBeforeEncrypt }

func (m *EncryptedMsg) Decrypt(priv *btcec.PrivateKey) (*DecryptedMsg, error) {
	box, err := cryptobox.Parse(m.raw)
	if err != nil {
		return nil, err
	}
	plain, err := box.Decrypt(priv)
	if err != nil {
		return nil, err
	}
	return ParseDecryptedMsg(plain)
}

// EncryptMsg seals a signed DecryptedMsg to the recipient's encryption
// public key.
func EncryptMsg(decrypted *DecryptedMsg, recipientPub *btcec.PublicKey) (*EncryptedMsg, error) {
	var body bytes.Buffer
	if err := decrypted.WriteWire(&body); err != nil {
		return nil, err
	}
	raw, err := cryptobox.Encrypt(body.Bytes(), recipientPub)
	if err != nil {
		return nil, err
	}
	return &EncryptedMsg{raw: raw}, nil
}

func ParseEncryptedMsg(data []byte) *EncryptedMsg {
	return &EncryptedMsg{raw: data}
}
