package pipeline

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/dissem-contrib/bmcore/address"
	"github.com/dissem-contrib/bmcore/crypto"
	"github.com/dissem-contrib/bmcore/inventory"
	"github.com/dissem-contrib/bmcore/log"
	"github.com/dissem-contrib/bmcore/object"
	"github.com/dissem-contrib/bmcore/pow"
	"github.com/dissem-contrib/bmcore/wire"
)

// Default time-to-live values, matching the reference's InternalContext
// (Msg objects are sealed for +2 days; pubkeys for +28 days, the standard
// Bitmessage pubkey refresh interval).
const (
	DefaultMessageTTL = 2 * 24 * time.Hour
	DefaultPubkeyTTL  = 28 * 24 * time.Hour

	// pubkeyResendGuard is the minimum interval between two pubkey sends
	// for the same identity, resolved as an explicit decision (the
	// reference leaves this an open FIXME; this module enforces it).
	pubkeyResendGuard = 28 * 24 * time.Hour
)

// Flooder advertises a freshly sealed object to the network.
type Flooder interface {
	Flood(msg *object.Message)
}

// Listener is notified when an inbound MSG or BROADCAST is accepted and
// decrypted.
type Listener interface {
	OnMessageReceived(p *Plaintext)
}

// Pipeline wires the outbound status machine and inbound dispatch over
// the address/message repositories, an inventory to store sealed objects
// in, and a Flooder to advertise them.
type Pipeline struct {
	Addresses AddressRepository
	Messages  MessageRepository
	Inventory inventory.Inventory
	Flood     Flooder
	Listener  Listener

	NonceTrialsPerByte uint64
	ExtraBytes         uint64
	MessageTTL         time.Duration
	PubkeyTTL          time.Duration

	pubkeySentMu sync.Mutex
	pubkeySentAt map[[20]byte]time.Time
}

// New wires a Pipeline over the given ports, defaulting PoW and TTL
// parameters to the network standard values.
func New(addrs AddressRepository, msgs MessageRepository, inv inventory.Inventory, flood Flooder, listener Listener) *Pipeline {
	return &Pipeline{
		Addresses:          addrs,
		Messages:           msgs,
		Inventory:          inv,
		Flood:              flood,
		Listener:           listener,
		NonceTrialsPerByte: pow.DefaultNonceTrialsPerByte,
		ExtraBytes:         pow.DefaultExtraBytes,
		MessageTTL:         DefaultMessageTTL,
		PubkeyTTL:          DefaultPubkeyTTL,
		pubkeySentAt:       make(map[[20]byte]time.Time),
	}
}

// seal runs proof of work on env in the background and, on success, stores
// it in the inventory and floods it. doneAfterStore is called once the
// object is stored, before it is flooded (a local send never fails the
// dedupe check since its IV is fresh).
func (p *Pipeline) seal(env *object.Message, doneAfterStore func()) {
	target := pow.Target(env.PowLength(), p.NonceTrialsPerByte, p.ExtraBytes, env.ExpiresTime-time.Now().Unix())
	initialHash := env.InitialHash()
	go func() {
		err := pow.Run(context.Background(), initialHash, target, func(nonce uint64) {
			env.Nonce = nonce
			iv := env.InventoryVector()
			p.Inventory.StoreObject(inventory.Entry{
				IV:          iv,
				Stream:      env.Stream,
				ExpiresTime: env.ExpiresTime,
				Raw:         env.Bytes(),
			})
			if doneAfterStore != nil {
				doneAfterStore()
			}
			if p.Flood != nil {
				p.Flood.Flood(env)
			}
		})
		if err != nil {
			log.Warn("proof of work did not complete", "err", err)
		}
	}()
}

// Send drives the outbound MSG flow of spec.md §4.7: if the recipient's
// pubkey is unknown, request it and queue the message; otherwise build,
// sign, encrypt, seal, and flood it immediately.
func (p *Pipeline) Send(from *Identity, to address.Address, plaintext *Plaintext) error {
	plaintext.From = from.Private.Address
	plaintext.To = to
	plaintext.Kind = object.TypeMsg

	contact, ok := p.findContact(to)
	if !ok || contact.Pubkey == nil {
		plaintext.Status = StatusPubkeyRequested
		plaintext.addLabels(LabelDraft)
		p.Messages.Save(plaintext)
		return p.requestPubkey(to)
	}
	return p.doSendMsg(from, to, contact.Pubkey, plaintext)
}

func (p *Pipeline) findContact(to address.Address) (*Contact, bool) {
	if c, ok := p.Addresses.FindContactByRipe(to.Ripe); ok {
		return c, true
	}
	return p.Addresses.FindContactByTag(to.Tag())
}

func (p *Pipeline) doSendMsg(from *Identity, to address.Address, pub *object.PubkeyV3, plaintext *Plaintext) error {
	plaintext.Status = StatusDoingProofOfWork
	p.Messages.Save(plaintext)

	now := time.Now()
	env := &object.Message{
		ExpiresTime: now.Add(p.MessageTTL).Unix(),
		ObjectType:  object.TypeMsg,
		Version:     from.Private.Address.Version,
		Stream:      to.Stream,
	}
	dec := &object.DecryptedMsg{
		SenderAddressVersion: from.Private.Address.Version,
		SenderStream:         from.Private.Address.Stream,
		SenderBehavior:        0,
		SenderSigningKey:     crypto.UncompressedPoint(from.Private.Signing.PubKey()),
		SenderEncryptionKey:  crypto.UncompressedPoint(from.Private.Encryption.PubKey()),
		DestinationRipe:      to.Ripe,
		Encoding:             plaintext.Encoding,
		Subject:              plaintext.Subject,
		Body:                 plaintext.Body,
		AckData:              plaintext.AckData,
	}
	if err := env.Sign(from.Private.Signing.Serialize(), dec); err != nil {
		return err
	}

	recipientPub, err := crypto.PublicKeyFromWirePoint(pub.EncryptionKey[:])
	if err != nil {
		return err
	}
	enc, err := object.EncryptMsg(dec, recipientPub)
	if err != nil {
		return err
	}
	if err := env.SetPayload(enc); err != nil {
		return err
	}

	p.seal(env, func() {
		plaintext.Status = StatusSent
		plaintext.addLabels(LabelSent)
		p.Messages.Save(plaintext)
	})
	return nil
}

// SendBroadcast drives the outbound BROADCAST flow: no pubkey lookup
// needed, sign, encrypt to the sender-derived broadcast key, PoW, flood.
func (p *Pipeline) SendBroadcast(from *Identity, plaintext *Plaintext) error {
	plaintext.From = from.Private.Address
	plaintext.Kind = object.TypeBroadcast
	plaintext.Status = StatusDoingProofOfWork
	p.Messages.Save(plaintext)

	broadcastVersion := uint64(4)
	if from.Private.Address.Version >= 4 {
		broadcastVersion = 5
	}

	now := time.Now()
	env := &object.Message{
		ExpiresTime: now.Add(p.MessageTTL).Unix(),
		ObjectType:  object.TypeBroadcast,
		Version:     broadcastVersion,
		Stream:      from.Private.Address.Stream,
	}
	dec := &object.DecryptedBroadcast{
		SenderAddressVersion: from.Private.Address.Version,
		SenderStream:         from.Private.Address.Stream,
		SenderBehavior:        0,
		SenderSigningKey:     crypto.UncompressedPoint(from.Private.Signing.PubKey()),
		SenderEncryptionKey:  crypto.UncompressedPoint(from.Private.Encryption.PubKey()),
		Encoding:             plaintext.Encoding,
		Subject:              plaintext.Subject,
		Body:                 plaintext.Body,
	}

	scalar := from.Private.Address.DecryptionKeyScalar()
	broadcastPriv := crypto.PrivateKeyFromBytes(scalar[:])
	broadcastPub := broadcastPriv.PubKey()

	var payload object.Payload
	if broadcastVersion >= 5 {
		tag := from.Private.Address.Tag()
		var preimage bytes.Buffer
		if err := object.WriteV5BroadcastSigningBody(&preimage, tag, dec); err != nil {
			return err
		}
		digest := crypto.Digest(env.Version, preimage.Bytes())
		dec.SetSignature(crypto.Sign(from.Private.Signing, digest))
		encB, err := object.EncryptBroadcastV5(tag, dec, broadcastPub)
		if err != nil {
			return err
		}
		payload = encB
	} else {
		if err := env.Sign(from.Private.Signing.Serialize(), dec); err != nil {
			return err
		}
		encB, err := object.EncryptBroadcastV4(dec, broadcastPub)
		if err != nil {
			return err
		}
		payload = encB
	}
	if err := env.SetPayload(payload); err != nil {
		return err
	}

	p.seal(env, func() {
		plaintext.Status = StatusSent
		plaintext.addLabels(LabelSent, LabelBroadcast)
		p.Messages.Save(plaintext)
	})
	return nil
}

// requestPubkey builds, seals, and floods a GetPubkey object for to.
func (p *Pipeline) requestPubkey(to address.Address) error {
	now := time.Now()
	env := &object.Message{
		ExpiresTime: now.Add(p.PubkeyTTL).Unix(),
		ObjectType:  object.TypeGetPubkey,
		Version:     to.Version,
		Stream:      to.Stream,
	}
	gp := &object.GetPubkey{AddressVersion: to.Version, Ripe: to.Ripe, Tag: to.Tag()}
	if err := env.SetPayload(gp); err != nil {
		return err
	}
	p.seal(env, nil)
	return nil
}

// sendPubkey builds, signs, seals, and floods identity's own pubkey on
// targetStream, subject to the 28-day resend guard.
func (p *Pipeline) sendPubkey(identity *Identity, targetStream uint64) error {
	ripe := identity.Private.Address.Ripe
	p.pubkeySentMu.Lock()
	if last, ok := p.pubkeySentAt[ripe]; ok && time.Since(last) < pubkeyResendGuard {
		p.pubkeySentMu.Unlock()
		return nil
	}
	p.pubkeySentAt[ripe] = time.Now()
	p.pubkeySentMu.Unlock()

	v3 := &object.PubkeyV3{
		Behavior:           0,
		SigningKey:         crypto.UncompressedPoint(identity.Private.Signing.PubKey()),
		EncryptionKey:      crypto.UncompressedPoint(identity.Private.Encryption.PubKey()),
		NonceTrialsPerByte: identity.NonceTrialsPerByte,
		ExtraBytes:         identity.ExtraBytes,
	}

	now := time.Now()
	env := &object.Message{
		ExpiresTime: now.Add(p.PubkeyTTL).Unix(),
		ObjectType:  object.TypePubkey,
		Version:     identity.Private.Address.Version,
		Stream:      targetStream,
	}

	if identity.Private.Address.Version < 4 {
		if err := env.Sign(identity.Private.Signing.Serialize(), v3); err != nil {
			return err
		}
	} else {
		tag := identity.Private.Address.Tag()
		var preimage bytes.Buffer
		wire.WriteFixedInt64(&preimage, env.ExpiresTime)
		wire.WriteFixedUint32(&preimage, uint32(env.ObjectType))
		wire.WriteVarint(&preimage, env.Version)
		wire.WriteVarint(&preimage, env.Stream)
		if err := object.WriteV4PubkeySigningBody(&preimage, tag, v3); err != nil {
			return err
		}
		digest := crypto.Digest(env.Version, preimage.Bytes())
		v3.SetSignature(crypto.Sign(identity.Private.Signing, digest))

		scalar := identity.Private.Address.DecryptionKeyScalar()
		recipientPub := crypto.PrivateKeyFromBytes(scalar[:]).PubKey()
		enc, err := object.EncryptPubkeyV4(tag, v3, recipientPub)
		if err != nil {
			return err
		}
		if err := env.SetPayload(enc); err != nil {
			return err
		}
	}

	p.seal(env, nil)
	return nil
}

// OnObjectAccepted implements p2p.ObjectListener: the inbound dispatch
// switch, grounded on DefaultMessageListener.receive.
func (p *Pipeline) OnObjectAccepted(msg *object.Message, iv object.IV) {
	switch msg.ObjectType {
	case object.TypeGetPubkey:
		p.receiveGetPubkey(msg)
	case object.TypePubkey:
		p.receivePubkey(msg)
	case object.TypeMsg:
		p.receiveMsg(msg, iv)
	case object.TypeBroadcast:
		p.receiveBroadcast(msg, iv)
	}
}

func (p *Pipeline) receiveGetPubkey(msg *object.Message) {
	gp, err := object.ParseGetPubkey(msg.Version, msg.PayloadBytes)
	if err != nil {
		return
	}
	var identity *Identity
	var ok bool
	if msg.Version < 4 {
		identity, ok = p.Addresses.FindIdentityByRipe(gp.Ripe)
	} else {
		identity, ok = p.Addresses.FindIdentityByTag(gp.Tag)
	}
	if !ok {
		return
	}
	log.Info("got pubkey request for identity", "ripe", identity.Private.Address.Ripe)
	if err := p.sendPubkey(identity, msg.Stream); err != nil {
		log.Warn("failed to send pubkey", "err", err)
	}
}

func (p *Pipeline) receivePubkey(msg *object.Message) {
	if msg.Version < 4 {
		var v3 *object.PubkeyV3
		if msg.Version == 2 {
			v2, err := object.ParsePubkeyV2(msg.PayloadBytes)
			if err != nil {
				return
			}
			v3 = &object.PubkeyV3{Behavior: v2.Behavior, SigningKey: v2.SigningKey, EncryptionKey: v2.EncryptionKey}
		} else {
			var err error
			v3, err = object.ParsePubkeyV3(msg.PayloadBytes)
			if err != nil {
				return
			}
		}
		ripe := address.RipeOf(v3.SigningKey, v3.EncryptionKey)
		contact, ok := p.Addresses.FindContactByRipe(ripe)
		if !ok {
			return
		}
		p.updatePubkey(contact, v3)
		return
	}

	enc, err := object.ParseEncryptedPubkey(msg.PayloadBytes)
	if err != nil {
		return
	}
	contact, ok := p.Addresses.FindContactByTag(enc.Tag)
	if !ok {
		return
	}
	v3, err := enc.Decrypt(contact.Addr.DecryptionKeyScalar())
	if err != nil {
		return
	}
	p.updatePubkey(contact, v3)
}

// updatePubkey caches the learned pubkey and flushes any messages that
// were waiting on it, per DefaultMessageListener.updatePubkey.
func (p *Pipeline) updatePubkey(contact *Contact, v3 *object.PubkeyV3) {
	contact.Pubkey = v3
	p.Addresses.SaveContact(contact)

	pending := p.Messages.FindMessagesByRecipient(contact.Addr)
	for _, m := range pending {
		if m.Status != StatusPubkeyRequested {
			continue
		}
		identity, ok := p.Addresses.FindIdentityByRipe(m.From.Ripe)
		if !ok {
			continue
		}
		if err := p.doSendMsg(identity, contact.Addr, v3, m); err != nil {
			log.Warn("failed to send queued message", "err", err)
		}
	}
}

func (p *Pipeline) receiveMsg(msg *object.Message, iv object.IV) {
	enc := object.ParseEncryptedMsg(msg.PayloadBytes)
	for _, identity := range p.Addresses.GetIdentities() {
		dec, err := enc.Decrypt(identity.Private.Encryption)
		if err != nil {
			continue
		}
		fromAddr := address.Address{
			Version: dec.SenderAddressVersion,
			Stream:  dec.SenderStream,
			Ripe:    address.RipeOf(dec.SenderSigningKey, dec.SenderEncryptionKey),
		}
		ok, err := msg.VerifySignature(dec, dec.SenderSigningKey)
		if err != nil || !ok {
			log.Warn("msg decrypted but signature check failed, dropping", "iv", iv)
			return
		}
		plaintext := &Plaintext{
			Kind:     object.TypeMsg,
			From:     fromAddr,
			To:       identity.Private.Address,
			Encoding: dec.Encoding,
			Subject:  dec.Subject,
			Body:     dec.Body,
			AckData:  dec.AckData,
			Sig:      dec.Sig,
			Status:   StatusReceived,
			IV:       &iv,
		}
		plaintext.addLabels(LabelInbox, LabelUnread)
		p.Messages.Save(plaintext)
		if p.Listener != nil {
			p.Listener.OnMessageReceived(plaintext)
		}
		p.Addresses.SaveContact(&Contact{
			Addr: fromAddr,
			Pubkey: &object.PubkeyV3{
				Behavior:      dec.SenderBehavior,
				SigningKey:    dec.SenderSigningKey,
				EncryptionKey: dec.SenderEncryptionKey,
			},
		})
		return
	}
}

func (p *Pipeline) receiveBroadcast(msg *object.Message, iv object.IV) {
	var tag *[32]byte
	var v4 *object.EncryptedBroadcastV4
	var v5 *object.EncryptedBroadcastV5
	if msg.Version >= 5 {
		parsed, err := object.ParseEncryptedBroadcastV5(msg.PayloadBytes)
		if err != nil {
			return
		}
		v5 = parsed
		tag = &parsed.Tag
	} else {
		v4 = object.ParseEncryptedBroadcastV4(msg.PayloadBytes)
	}

	for _, sub := range p.Addresses.GetSubscriptions() {
		if tag != nil {
			subTag := sub.Addr.Tag()
			if subTag != *tag {
				continue
			}
		}
		scalar := sub.Addr.DecryptionKeyScalar()
		priv := crypto.PrivateKeyFromBytes(scalar[:])

		var dec *object.DecryptedBroadcast
		var err error
		if v5 != nil {
			dec, err = v5.Decrypt(priv)
		} else {
			dec, err = v4.Decrypt(priv)
		}
		if err != nil {
			continue
		}

		fromAddr := address.Address{
			Version: dec.SenderAddressVersion,
			Stream:  dec.SenderStream,
			Ripe:    address.RipeOf(dec.SenderSigningKey, dec.SenderEncryptionKey),
		}
		ok, err := msg.VerifySignature(dec, dec.SenderSigningKey)
		if err != nil || !ok {
			log.Warn("broadcast decrypted but signature check failed, dropping", "iv", iv)
			continue
		}
		plaintext := &Plaintext{
			Kind:     object.TypeBroadcast,
			From:     fromAddr,
			Encoding: dec.Encoding,
			Subject:  dec.Subject,
			Body:     dec.Body,
			Sig:      dec.Sig,
			Status:   StatusReceived,
			IV:       &iv,
		}
		plaintext.addLabels(LabelInbox, LabelBroadcast, LabelUnread)
		p.Messages.Save(plaintext)
		if p.Listener != nil {
			p.Listener.OnMessageReceived(plaintext)
		}
		p.Addresses.SaveContact(&Contact{
			Addr: fromAddr,
			Pubkey: &object.PubkeyV3{
				Behavior:      dec.SenderBehavior,
				SigningKey:    dec.SenderSigningKey,
				EncryptionKey: dec.SenderEncryptionKey,
			},
		})
	}
}
