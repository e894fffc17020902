package pipeline

import (
	"testing"
	"time"

	"github.com/dissem-contrib/bmcore/address"
	"github.com/dissem-contrib/bmcore/crypto"
	"github.com/dissem-contrib/bmcore/inventory"
	"github.com/dissem-contrib/bmcore/object"
)

type fakeFlooder struct {
	floods []*object.Message
}

func (f *fakeFlooder) Flood(msg *object.Message) { f.floods = append(f.floods, msg) }

type fakeListener struct {
	received []*Plaintext
	ch       chan *Plaintext
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *Plaintext, 4)}
}

func (f *fakeListener) OnMessageReceived(p *Plaintext) {
	f.received = append(f.received, p)
	f.ch <- p
}

func newTestPipeline() (*Pipeline, *fakeFlooder, *fakeListener) {
	flood := &fakeFlooder{}
	listener := newFakeListener()
	pipe := New(NewMemoryAddressRepository(), NewMemoryMessageRepository(), inventory.New(), flood, listener)
	return pipe, flood, listener
}

func contactFromIdentity(id *Identity) *Contact {
	return &Contact{
		Addr: id.Private.Address,
		Pubkey: &object.PubkeyV3{
			Behavior:           0,
			SigningKey:         crypto.UncompressedPoint(id.Private.Signing.PubKey()),
			EncryptionKey:      crypto.UncompressedPoint(id.Private.Encryption.PubKey()),
			NonceTrialsPerByte: id.NonceTrialsPerByte,
			ExtraBytes:         id.ExtraBytes,
		},
	}
}

func mustIdentity(t *testing.T, version, stream uint64) *Identity {
	t.Helper()
	priv, err := address.Generate(version, stream)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	return &Identity{Private: priv, NonceTrialsPerByte: 1000, ExtraBytes: 1000}
}

func TestSendWithUnknownContactRequestsPubkey(t *testing.T) {
	pipe, flood, _ := newTestPipeline()
	from := mustIdentity(t, 4, 1)
	to := mustIdentity(t, 4, 1).Private.Address

	pt := &Plaintext{Body: "hello"}
	if err := pipe.Send(from, to, pt); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if pt.Status != StatusPubkeyRequested {
		t.Errorf("Status = %v, want StatusPubkeyRequested", pt.Status)
	}
	if !pt.hasLabel(LabelDraft) {
		t.Error("Plaintext should be labeled draft while its pubkey is pending")
	}
	if len(pipe.Messages.FindMessagesByStatus(StatusPubkeyRequested)) != 1 {
		t.Error("Send did not persist the queued message")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(flood.floods) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(flood.floods) != 1 {
		t.Fatalf("expected exactly one flooded object (the getpubkey request), got %d", len(flood.floods))
	}
	if flood.floods[0].ObjectType != object.TypeGetPubkey {
		t.Errorf("flooded object type = %v, want TypeGetPubkey", flood.floods[0].ObjectType)
	}
}

func TestSendWithKnownContactSealsAndFlags(t *testing.T) {
	pipe, flood, _ := newTestPipeline()
	pipe.NonceTrialsPerByte = 50
	pipe.ExtraBytes = 1000

	from := mustIdentity(t, 4, 1)
	toIdentity := mustIdentity(t, 4, 1)
	pipe.Addresses.SaveContact(contactFromIdentity(toIdentity))

	pt := &Plaintext{Body: "hello there", Subject: "hi"}
	if err := pipe.Send(from, toIdentity.Private.Address, pt); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if pt.Status != StatusDoingProofOfWork {
		t.Errorf("Status = %v, want StatusDoingProofOfWork immediately after Send", pt.Status)
	}

	deadline := time.Now().Add(10 * time.Second)
	for len(flood.floods) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(flood.floods) != 1 {
		t.Fatalf("expected exactly one flooded object, got %d", len(flood.floods))
	}
	if flood.floods[0].ObjectType != object.TypeMsg {
		t.Errorf("flooded object type = %v, want TypeMsg", flood.floods[0].ObjectType)
	}
	if pt.Status != StatusSent {
		t.Errorf("Status = %v, want StatusSent after PoW completed", pt.Status)
	}
	if !pt.hasLabel(LabelSent) {
		t.Error("Plaintext should be labeled sent once flooded")
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	sender, senderFlood, _ := newTestPipeline()
	sender.NonceTrialsPerByte = 50
	sender.ExtraBytes = 1000

	recipient, _, recipientListener := newTestPipeline()

	fromID := mustIdentity(t, 4, 1)
	toID := mustIdentity(t, 4, 1)

	sender.Addresses.SaveContact(contactFromIdentity(toID))
	recipient.Addresses.SaveIdentity(toID)

	pt := &Plaintext{Body: "a message for a friend", Subject: "greetings"}
	if err := sender.Send(fromID, toID.Private.Address, pt); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	var sealed *object.Message
	deadline := time.Now().Add(10 * time.Second)
	for sealed == nil && time.Now().Before(deadline) {
		if len(senderFlood.floods) > 0 {
			sealed = senderFlood.floods[0]
		} else {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if sealed == nil {
		t.Fatal("sender never sealed and flooded the message")
	}

	recipient.OnObjectAccepted(sealed, sealed.InventoryVector())

	select {
	case got := <-recipientListener.ch:
		if got.Body != pt.Body || got.Subject != pt.Subject {
			t.Errorf("received plaintext = %+v, want body %q subject %q", got, pt.Body, pt.Subject)
		}
		if got.From.Ripe != fromID.Private.Address.Ripe {
			t.Error("received plaintext's From address does not match the sender")
		}
	case <-time.After(time.Second):
		t.Fatal("recipient listener was never notified")
	}
}

func TestSendBroadcastRoundTrip(t *testing.T) {
	sender, senderFlood, _ := newTestPipeline()
	sender.NonceTrialsPerByte = 50
	sender.ExtraBytes = 1000

	subscriber, _, subscriberListener := newTestPipeline()

	fromID := mustIdentity(t, 4, 1)
	subscriber.Addresses.SaveSubscription(&Contact{Addr: fromID.Private.Address})

	pt := &Plaintext{Body: "attention everyone", Subject: "announcement"}
	if err := sender.SendBroadcast(fromID, pt); err != nil {
		t.Fatalf("SendBroadcast returned error: %v", err)
	}

	var sealed *object.Message
	deadline := time.Now().Add(10 * time.Second)
	for sealed == nil && time.Now().Before(deadline) {
		if len(senderFlood.floods) > 0 {
			sealed = senderFlood.floods[0]
		} else {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if sealed == nil {
		t.Fatal("sender never sealed and flooded the broadcast")
	}
	if sealed.Version != 5 {
		t.Errorf("broadcast version = %d, want 5 for a version-4 sender address", sealed.Version)
	}

	subscriber.OnObjectAccepted(sealed, sealed.InventoryVector())

	select {
	case got := <-subscriberListener.ch:
		if got.Body != pt.Body {
			t.Errorf("received body = %q, want %q", got.Body, pt.Body)
		}
		if !got.hasLabel(LabelBroadcast) {
			t.Error("received broadcast plaintext missing the broadcast label")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber listener was never notified")
	}
}

func TestReceiveGetPubkeyRespondsWithOwnPubkey(t *testing.T) {
	pipe, flood, _ := newTestPipeline()
	pipe.NonceTrialsPerByte = 50
	pipe.ExtraBytes = 1000

	id := mustIdentity(t, 4, 1)
	pipe.Addresses.SaveIdentity(id)

	req := &object.Message{
		ExpiresTime: time.Now().Add(time.Hour).Unix(),
		ObjectType:  object.TypeGetPubkey,
		Version:     4,
		Stream:      1,
	}
	gp := &object.GetPubkey{AddressVersion: 4, Tag: id.Private.Address.Tag()}
	if err := req.SetPayload(gp); err != nil {
		t.Fatalf("SetPayload returned error: %v", err)
	}

	pipe.OnObjectAccepted(req, req.InventoryVector())

	deadline := time.Now().Add(10 * time.Second)
	for len(flood.floods) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(flood.floods) != 1 {
		t.Fatalf("expected exactly one flooded pubkey reply, got %d", len(flood.floods))
	}
	if flood.floods[0].ObjectType != object.TypePubkey {
		t.Errorf("flooded object type = %v, want TypePubkey", flood.floods[0].ObjectType)
	}
}
