package cryptobox

import (
	"bytes"
	"testing"

	"github.com/dissem-contrib/bmcore/crypto"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	recipient, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	plaintext := []byte("a secret message, long enough to span multiple AES blocks of padding")

	wire, err := Encrypt(plaintext, recipient.PubKey())
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	box, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	got, err := box.Decrypt(recipient)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted plaintext = %q, want %q", got, plaintext)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	recipient, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	other, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}

	wire, err := Encrypt([]byte("payload"), recipient.PubKey())
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	box, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, err := box.Decrypt(other); err == nil {
		t.Error("Decrypt succeeded with the wrong private key")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	recipient, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	wire, err := Encrypt([]byte("payload"), recipient.PubKey())
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	wire[len(wire)-10] ^= 0xFF

	box, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, err := box.Decrypt(recipient); err == nil {
		t.Error("Decrypt succeeded against a tampered envelope")
	}
}

func TestParseRejectsTruncatedInput(t *testing.T) {
	if _, err := Parse(make([]byte, 10)); err == nil {
		t.Error("Parse accepted a 10-byte input")
	}
}

func TestEncryptProducesDistinctEnvelopes(t *testing.T) {
	recipient, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey returned error: %v", err)
	}
	a, err := Encrypt([]byte("same plaintext"), recipient.PubKey())
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	b, err := Encrypt([]byte("same plaintext"), recipient.PubKey())
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical envelopes (ephemeral key/IV reuse)")
	}
}
