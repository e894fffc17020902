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

// Package crypto adapts the primitives Bitmessage objects are built from:
// SHA-512 (and its double-hash form), RIPEMD-160, HMAC-SHA-256, secp256k1
// ECDSA sign/verify and ECDH, and a CSPRNG. It does not reimplement
// any of these algorithms; it wires the standard library and
// github.com/btcsuite/btcd/btcec/v2 to the exact contracts Bitmessage needs.
package crypto

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"

	"golang.org/x/crypto/ripemd160"
)

// Sha512 returns the 64-byte SHA-512 digest of data.
func Sha512(data ...[]byte) [64]byte {
	h := sha512.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DoubleSha512 returns SHA-512(SHA-512(data)).
func DoubleSha512(data ...[]byte) [64]byte {
	first := Sha512(data...)
	return Sha512(first[:])
}

// Ripemd160 returns the 20-byte RIPEMD-160 digest of data.
func Ripemd160(data []byte) [20]byte {
	h := ripemd160.New()
	h.Write(data)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sha1Sum returns the SHA-1 digest used to sign version-2 addressed objects.
func Sha1Sum(data []byte) [20]byte {
	return sha1.Sum(data)
}

// Sha256Sum returns the SHA-256 digest used to sign version-3+ addressed
// objects.
func Sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// RandomNonce returns a random 64-bit value drawn from the CSPRNG.
func RandomNonce() uint64 {
	return binary.BigEndian.Uint64(RandomBytes(8))
}
