// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package crypto

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Digest picks the preimage hash used for a given address version. Bitmessage
// signs v2-addressed objects over SHA-1 and v3+ over SHA-256; callers must
// match this exactly or signatures will not validate against other
// implementations.
func Digest(version uint64, preimage []byte) []byte {
	if version <= 2 {
		d := Sha1Sum(preimage)
		return d[:]
	}
	d := Sha256Sum(preimage)
	return d[:]
}

// GeneratePrivateKey returns a fresh random secp256k1 scalar.
func GeneratePrivateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// PrivateKeyFromBytes parses a 32-byte scalar.
func PrivateKeyFromBytes(b []byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv
}

// PublicKeyFromBytes parses an uncompressed or compressed secp256k1 point.
func PublicKeyFromBytes(b []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(b)
}

// Sign produces a DER-encoded ECDSA signature of digest (already reduced with
// Digest) using priv, over the secp256k1 curve.
func Sign(priv *btcec.PrivateKey, digest []byte) []byte {
	sig := ecdsa.Sign(priv, digest)
	return sig.Serialize()
}

// Verify checks a DER-encoded ECDSA signature against a public key and
// digest.
func Verify(pub *btcec.PublicKey, digest, sig []byte) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(digest, pub)
}

var errInvalidSigningKey = errors.New("crypto: signing key material is not 64 bytes (32-byte X || 32-byte Y)")

// UncompressedPoint returns the 64-byte X||Y encoding Bitmessage uses on the
// wire for signing/encryption public keys (no 0x04 prefix, unlike the
// standard SEC1 uncompressed form).
func UncompressedPoint(pub *btcec.PublicKey) [64]byte {
	var out [64]byte
	full := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)
	copy(out[:], full[1:])
	return out
}

// PublicKeyFromWirePoint parses Bitmessage's bare 64-byte X||Y point into a
// public key by re-adding the SEC1 uncompressed prefix.
func PublicKeyFromWirePoint(point []byte) (*btcec.PublicKey, error) {
	if len(point) != 64 {
		return nil, errInvalidSigningKey
	}
	full := make([]byte, 65)
	full[0] = 0x04
	copy(full[1:], point)
	return btcec.ParsePubKey(full)
}
