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

import "github.com/btcsuite/btcd/btcec/v2"

// ECDHSharedX computes the X coordinate of priv*pub on secp256k1 -- the raw
// material CryptoBox feeds into SHA-512 to split into an AES key and a MAC
// key. This is a point multiplication, not a KDF; the KDF step belongs to
// the cryptobox package, which is Bitmessage-specific.
func ECDHSharedX(priv *btcec.PrivateKey, pub *btcec.PublicKey) [32]byte {
	var point, result btcec.JacobianPoint
	pub.AsJacobian(&point)

	scalar := priv.Key
	btcec.ScalarMultNonConst(&scalar, &point, &result)
	result.ToAffine()

	return *result.X.Bytes()
}
