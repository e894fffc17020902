package address

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/dissem-contrib/bmcore/crypto"
)

// PrivateKey holds the two secp256k1 scalars (signing, encryption) backing
// an identity, plus the address they derive.
type PrivateKey struct {
	Signing    *btcec.PrivateKey
	Encryption *btcec.PrivateKey
	Address    Address
}

// Generate derives a fresh identity for the given version/stream. For
// version 3/4 it retries with fresh key material, as the reference does,
// until the derived RIPE begins with a zero byte (a shorter address). The
// loop shape follows go-ethereum whisper's NewKeyPair "regenerate until a
// validity property holds" idiom, generalized here to "regenerate until
// short-RIPE."
func Generate(version, stream uint64) (*PrivateKey, error) {
	for {
		signing, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		encryption, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}

		signingPub := crypto.UncompressedPoint(signing.PubKey())
		encryptionPub := crypto.UncompressedPoint(encryption.PubKey())
		ripe := RipeOf(signingPub, encryptionPub)

		if version < 3 || ripe[0] == 0 {
			return &PrivateKey{
				Signing:    signing,
				Encryption: encryption,
				Address:    Address{Version: version, Stream: stream, Ripe: ripe},
			}, nil
		}
	}
}

// FromScalars builds a PrivateKey from known 32-byte signing/encryption
// scalars (e.g. imported via WIF by a persistence port), deriving the
// matching address.
func FromScalars(version, stream uint64, signingScalar, encryptionScalar [32]byte) *PrivateKey {
	signing := crypto.PrivateKeyFromBytes(signingScalar[:])
	encryption := crypto.PrivateKeyFromBytes(encryptionScalar[:])
	ripe := RipeOf(crypto.UncompressedPoint(signing.PubKey()), crypto.UncompressedPoint(encryption.PubKey()))
	return &PrivateKey{
		Signing:    signing,
		Encryption: encryption,
		Address:    Address{Version: version, Stream: stream, Ripe: ripe},
	}
}
