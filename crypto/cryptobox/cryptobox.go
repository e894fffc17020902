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

// Package cryptobox implements Bitmessage's ECIES envelope: an ephemeral
// secp256k1 keypair, ECDH against the recipient's public key, a SHA-512 key
// split into an AES key and a MAC key, AES-256-CBC encryption and an
// HMAC-SHA-256 tag. It generalizes github.com/ethereum's crypto/ecies
// envelope shape (ephemeral key + ECDH + symmetric stage + MAC) to
// Bitmessage's fixed wire layout, which -- unlike ecies's own envelope,
// which is free to pick its KDF -- is not negotiable.
package cryptobox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/dissem-contrib/bmcore/crypto"
	"github.com/dissem-contrib/bmcore/errs"
)

// curveType is Bitmessage's fixed identifier for secp256k1 in the CryptoBox
// envelope header.
const curveType uint16 = 0x02CA

// Box is a parsed, still-encrypted CryptoBox envelope.
type Box struct {
	IV         [16]byte
	Rx, Ry     []byte // leading-zero-stripped big-endian coordinates
	Ciphertext []byte
	Mac        [32]byte
}

// Encrypt seals plaintext to the recipient's public key, returning the wire
// bytes of the envelope (iv || curveType || xLen || Rx || yLen || Ry ||
// ciphertext || mac).
func Encrypt(plaintext []byte, recipient *btcec.PublicKey) ([]byte, error) {
	ephemeral, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	shared := crypto.ECDHSharedX(ephemeral, recipient)
	encKey, macKey := splitKeys(shared)

	iv := crypto.RandomBytes(16)
	ct, err := aesCBCEncrypt(encKey, iv, plaintext)
	if err != nil {
		return nil, err
	}

	full := ephemeral.PubKey().SerializeUncompressed() // 0x04 || X || Y
	rx := stripLeadingZeros(full[1:33])
	ry := stripLeadingZeros(full[33:65])

	var buf bytes.Buffer
	buf.Write(iv)
	writeUint16(&buf, curveType)
	writeUint16(&buf, uint16(len(rx)))
	buf.Write(rx)
	writeUint16(&buf, uint16(len(ry)))
	buf.Write(ry)
	buf.Write(ct)

	mac := hmacSha256(macKey, buf.Bytes())
	buf.Write(mac[:])
	return buf.Bytes(), nil
}

// Parse splits the wire bytes of an envelope without decrypting it.
func Parse(data []byte) (*Box, error) {
	if len(data) < 16+2+2+2+32 {
		return nil, errs.MalformedWire
	}
	b := &Box{}
	copy(b.IV[:], data[:16])
	off := 16

	ct := binary.BigEndian.Uint16(data[off:])
	off += 2
	if ct != curveType {
		return nil, errs.MalformedWire
	}

	xLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if off+xLen > len(data) {
		return nil, errs.MalformedWire
	}
	b.Rx = data[off : off+xLen]
	off += xLen

	if off+2 > len(data) {
		return nil, errs.MalformedWire
	}
	yLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if off+yLen > len(data) {
		return nil, errs.MalformedWire
	}
	b.Ry = data[off : off+yLen]
	off += yLen

	if off+32 > len(data) {
		return nil, errs.MalformedWire
	}
	macStart := len(data) - 32
	if macStart < off {
		return nil, errs.MalformedWire
	}
	b.Ciphertext = data[off:macStart]
	copy(b.Mac[:], data[macStart:])
	return b, nil
}

// Decrypt verifies the MAC in constant time and, on success, returns the
// plaintext.
func (b *Box) Decrypt(priv *btcec.PrivateKey) ([]byte, error) {
	pub, err := b.ephemeralPubKey()
	if err != nil {
		return nil, errs.DecryptionFailed
	}
	shared := crypto.ECDHSharedX(priv, pub)
	encKey, macKey := splitKeys(shared)

	macInput := b.macInput()
	expected := hmacSha256(macKey, macInput)
	if !hmac.Equal(expected[:], b.Mac[:]) {
		return nil, errs.DecryptionFailed
	}

	plaintext, err := aesCBCDecrypt(encKey, b.IV[:], b.Ciphertext)
	if err != nil {
		return nil, errs.DecryptionFailed
	}
	return plaintext, nil
}

func (b *Box) ephemeralPubKey() (*btcec.PublicKey, error) {
	x := padTo32(b.Rx)
	y := padTo32(b.Ry)
	full := make([]byte, 65)
	full[0] = 0x04
	copy(full[1:33], x[:])
	copy(full[33:65], y[:])
	return btcec.ParsePubKey(full)
}

func (b *Box) macInput() []byte {
	var buf bytes.Buffer
	buf.Write(b.IV[:])
	writeUint16(&buf, curveType)
	writeUint16(&buf, uint16(len(b.Rx)))
	buf.Write(b.Rx)
	writeUint16(&buf, uint16(len(b.Ry)))
	buf.Write(b.Ry)
	buf.Write(b.Ciphertext)
	return buf.Bytes()
}

func splitKeys(shared [32]byte) (encKey, macKey []byte) {
	h := sha512.Sum512(shared[:])
	encKey = append([]byte(nil), h[:32]...)
	macKey = append([]byte(nil), h[32:]...)
	return
}

func hmacSha256(key, data []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func aesCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ct, padded)
	return ct, nil
}

func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("cryptobox: ciphertext is not a multiple of the block size")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cryptobox: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("cryptobox: invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}

func stripLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

func padTo32(b []byte) [32]byte {
	var out [32]byte
	copy(out[32-len(b):], b)
	return out
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}
