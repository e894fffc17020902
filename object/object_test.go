package object

import (
	"bytes"
	"testing"

	"github.com/dissem-contrib/bmcore/crypto"
)

func testPubkeyV3() *PubkeyV3 {
	return &PubkeyV3{
		Behavior:           1,
		NonceTrialsPerByte: 1000,
		ExtraBytes:         1000,
	}
}

func TestReadFullMessage(t *testing.T) {
	msg := &Message{
		Nonce:        99,
		ExpiresTime:  1700000001,
		ObjectType:   TypeMsg,
		Version:      1,
		Stream:       1,
		PayloadBytes: []byte("payload"),
	}
	raw := msg.Bytes()
	got, err := Read(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got.Nonce != msg.Nonce {
		t.Errorf("Nonce = %d, want %d", got.Nonce, msg.Nonce)
	}
	if !bytes.Equal(got.PayloadBytes, msg.PayloadBytes) {
		t.Errorf("PayloadBytes = %v, want %v", got.PayloadBytes, msg.PayloadBytes)
	}
}

func TestInventoryVectorStableAcrossRoundTrip(t *testing.T) {
	msg := &Message{
		Nonce:        7,
		ExpiresTime:  1700000002,
		ObjectType:   TypeBroadcast,
		Version:      5,
		Stream:       1,
		PayloadBytes: []byte("broadcast body"),
	}
	iv1 := msg.InventoryVector()

	raw := msg.Bytes()
	got, err := Read(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	got.Nonce = msg.Nonce
	iv2 := got.InventoryVector()
	if iv1 != iv2 {
		t.Errorf("InventoryVector changed across a serialize/parse round trip: %x != %x", iv1, iv2)
	}
}

func TestInventoryVectorChangesWithNonce(t *testing.T) {
	base := &Message{ExpiresTime: 1700000003, ObjectType: TypeMsg, Version: 1, Stream: 1, PayloadBytes: []byte("x")}
	base.Nonce = 1
	a := base.InventoryVector()
	base.Nonce = 2
	b := base.InventoryVector()
	if a == b {
		t.Error("InventoryVector did not change when the nonce changed")
	}
}

func TestPowLengthExcludesNonce(t *testing.T) {
	msg := &Message{Nonce: 42, ExpiresTime: 1, ObjectType: TypeMsg, Version: 1, Stream: 1, PayloadBytes: []byte("abc")}
	if int(msg.PowLength()) != len(msg.bytesWithoutNonce()) {
		t.Errorf("PowLength = %d, want %d", msg.PowLength(), len(msg.bytesWithoutNonce()))
	}
	if int(msg.PowLength()) == len(msg.Bytes()) {
		t.Error("PowLength must exclude the 8-byte nonce field")
	}
}

func TestSignAndVerifySignature(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	pub := crypto.UncompressedPoint(priv.PubKey())

	p3 := testPubkeyV3()
	p3.SigningKey = pub
	p3.EncryptionKey = pub

	msg := &Message{ExpiresTime: 1700000010, ObjectType: TypePubkey, Version: 3, Stream: 1}
	if err := msg.Sign(priv.Serialize(), p3); err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if len(p3.Sig) == 0 {
		t.Fatal("Sign did not populate the signature field")
	}
	if !bytes.Equal(msg.PayloadBytes, func() []byte { var b bytes.Buffer; p3.WriteWire(&b); return b.Bytes() }()) {
		t.Error("Sign did not re-encode PayloadBytes to match the signed payload")
	}

	ok, err := msg.VerifySignature(p3, pub)
	if err != nil {
		t.Fatalf("VerifySignature returned error: %v", err)
	}
	if !ok {
		t.Error("VerifySignature rejected a signature Sign just produced")
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	pub := crypto.UncompressedPoint(priv.PubKey())

	p3 := testPubkeyV3()
	p3.SigningKey = pub
	p3.EncryptionKey = pub

	msg := &Message{ExpiresTime: 1700000011, ObjectType: TypePubkey, Version: 3, Stream: 1}
	if err := msg.Sign(priv.Serialize(), p3); err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	p3.Behavior = p3.Behavior + 1 // tamper after signing
	ok, err := msg.VerifySignature(p3, pub)
	if err != nil {
		t.Fatalf("VerifySignature returned error: %v", err)
	}
	if ok {
		t.Error("VerifySignature accepted a signature over a tampered body")
	}
}

func TestGetPubkeyRoundTripByVersion(t *testing.T) {
	g3 := &GetPubkey{AddressVersion: 3, Ripe: [20]byte{1, 2, 3}}
	var buf bytes.Buffer
	if err := g3.WriteWire(&buf); err != nil {
		t.Fatalf("WriteWire returned error: %v", err)
	}
	got3, err := ParseGetPubkey(3, buf.Bytes())
	if err != nil {
		t.Fatalf("ParseGetPubkey returned error: %v", err)
	}
	if got3.Ripe != g3.Ripe {
		t.Errorf("Ripe = %x, want %x", got3.Ripe, g3.Ripe)
	}

	g4 := &GetPubkey{AddressVersion: 4, Tag: [32]byte{9, 9, 9}}
	buf.Reset()
	if err := g4.WriteWire(&buf); err != nil {
		t.Fatalf("WriteWire returned error: %v", err)
	}
	got4, err := ParseGetPubkey(4, buf.Bytes())
	if err != nil {
		t.Fatalf("ParseGetPubkey returned error: %v", err)
	}
	if got4.Tag != g4.Tag {
		t.Errorf("Tag = %x, want %x", got4.Tag, g4.Tag)
	}
}

func TestPubkeyV2RoundTrip(t *testing.T) {
	p := &PubkeyV2{Behavior: 3, SigningKey: [64]byte{1}, EncryptionKey: [64]byte{2}}
	var buf bytes.Buffer
	if err := p.WriteWire(&buf); err != nil {
		t.Fatalf("WriteWire returned error: %v", err)
	}
	got, err := ParsePubkeyV2(buf.Bytes())
	if err != nil {
		t.Fatalf("ParsePubkeyV2 returned error: %v", err)
	}
	if got.Behavior != p.Behavior || got.SigningKey != p.SigningKey || got.EncryptionKey != p.EncryptionKey {
		t.Error("PubkeyV2 round trip did not reproduce the original value")
	}
}

func TestPubkeyV3RoundTrip(t *testing.T) {
	p := testPubkeyV3()
	p.SigningKey = [64]byte{1}
	p.EncryptionKey = [64]byte{2}
	p.Sig = []byte{0xAA, 0xBB}
	var buf bytes.Buffer
	if err := p.WriteWire(&buf); err != nil {
		t.Fatalf("WriteWire returned error: %v", err)
	}
	got, err := ParsePubkeyV3(buf.Bytes())
	if err != nil {
		t.Fatalf("ParsePubkeyV3 returned error: %v", err)
	}
	if got.NonceTrialsPerByte != p.NonceTrialsPerByte || got.ExtraBytes != p.ExtraBytes {
		t.Error("PubkeyV3 PoW parameters did not round trip")
	}
	if !bytes.Equal(got.Sig, p.Sig) {
		t.Errorf("Sig = %x, want %x", got.Sig, p.Sig)
	}
}

func TestEncryptedPubkeyV4RoundTrip(t *testing.T) {
	recipient, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	decrypted := testPubkeyV3()
	decrypted.SigningKey = [64]byte{7}
	decrypted.EncryptionKey = [64]byte{8}
	decrypted.Sig = []byte{1, 2, 3}

	tag := [32]byte{0xAB}
	enc, err := EncryptPubkeyV4(tag, decrypted, recipient.PubKey())
	if err != nil {
		t.Fatalf("EncryptPubkeyV4 returned error: %v", err)
	}

	var wire bytes.Buffer
	if err := enc.WriteWire(&wire); err != nil {
		t.Fatalf("WriteWire returned error: %v", err)
	}
	parsed, err := ParseEncryptedPubkey(wire.Bytes())
	if err != nil {
		t.Fatalf("ParseEncryptedPubkey returned error: %v", err)
	}
	if parsed.Tag != tag {
		t.Errorf("Tag = %x, want %x", parsed.Tag, tag)
	}

	var scalar [32]byte
	copy(scalar[:], recipient.Serialize())
	got, err := parsed.Decrypt(scalar)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if got.NonceTrialsPerByte != decrypted.NonceTrialsPerByte {
		t.Error("decrypted PubkeyV3 does not match the original")
	}
}

func TestEncryptedMsgRoundTrip(t *testing.T) {
	recipient, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	decrypted := &DecryptedMsg{
		SenderAddressVersion: 3,
		SenderStream:         1,
		Encoding:             2,
		Subject:              "hi",
		Body:                 "hello there",
		Sig:                  []byte{1, 2, 3},
	}
	enc, err := EncryptMsg(decrypted, recipient.PubKey())
	if err != nil {
		t.Fatalf("EncryptMsg returned error: %v", err)
	}

	var wire bytes.Buffer
	if err := enc.WriteWire(&wire); err != nil {
		t.Fatalf("WriteWire returned error: %v", err)
	}
	parsed := ParseEncryptedMsg(wire.Bytes())
	got, err := parsed.Decrypt(recipient)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if got.Body != decrypted.Body || got.Subject != decrypted.Subject {
		t.Error("decrypted DecryptedMsg does not match the original")
	}
}

func TestEncryptedBroadcastV4RoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	decrypted := &DecryptedBroadcast{SenderAddressVersion: 4, SenderStream: 1, Encoding: 2, Body: "broadcast body"}
	enc, err := EncryptBroadcastV4(decrypted, key.PubKey())
	if err != nil {
		t.Fatalf("EncryptBroadcastV4 returned error: %v", err)
	}
	var wire bytes.Buffer
	if err := enc.WriteWire(&wire); err != nil {
		t.Fatalf("WriteWire returned error: %v", err)
	}
	parsed := ParseEncryptedBroadcastV4(wire.Bytes())
	got, err := parsed.Decrypt(key)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if got.Body != decrypted.Body {
		t.Errorf("Body = %q, want %q", got.Body, decrypted.Body)
	}
}

func TestEncryptedBroadcastV5RoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	decrypted := &DecryptedBroadcast{SenderAddressVersion: 5, SenderStream: 1, Encoding: 2, Body: "v5 broadcast"}
	tag := [32]byte{0xCD}
	enc, err := EncryptBroadcastV5(tag, decrypted, key.PubKey())
	if err != nil {
		t.Fatalf("EncryptBroadcastV5 returned error: %v", err)
	}
	var wire bytes.Buffer
	if err := enc.WriteWire(&wire); err != nil {
		t.Fatalf("WriteWire returned error: %v", err)
	}
	parsed, err := ParseEncryptedBroadcastV5(wire.Bytes())
	if err != nil {
		t.Fatalf("ParseEncryptedBroadcastV5 returned error: %v", err)
	}
	if parsed.Tag != tag {
		t.Errorf("Tag = %x, want %x", parsed.Tag, tag)
	}
	got, err := parsed.Decrypt(key)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if got.Body != decrypted.Body {
		t.Errorf("Body = %q, want %q", got.Body, decrypted.Body)
	}
}
