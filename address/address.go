// Package address implements Bitmessage address derivation and parsing:
// the (version, stream, RIPE) tuple, its Base58+checksum string form, and
// the version-4 tag/decryption-key derivations used to route pubkeys and
// broadcasts without revealing the address. Grounded on the Jabit reference
// (BitmessageAddressTest's seed vectors) for exact checksum/strip/tag
// semantics, and on go-ethereum whisper's "retry until a derived property
// holds" idiom for short-RIPE key generation.
package address

import (
	"bytes"
	"errors"
	"strings"

	"github.com/btcsuite/btcutil/base58"

	"github.com/dissem-contrib/bmcore/crypto"
	"github.com/dissem-contrib/bmcore/wire"
)

const Prefix = "BM-"

var (
	ErrBadPrefix   = errors.New("address: missing BM- prefix")
	ErrBadChecksum = errors.New("address: checksum mismatch")
	ErrTruncated   = errors.New("address: truncated payload")
)

// Address is the (version, stream, RIPE) tuple that identifies a Bitmessage
// recipient.
type Address struct {
	Version uint64
	Stream  uint64
	Ripe    [20]byte
}

// String renders "BM-" + Base58(varint(version) || varint(stream) ||
// stripped-RIPE || checksum).
func (a Address) String() string {
	payload := a.encodedPayload()
	checksum := a.checksum(payload)
	full := append(payload, checksum[:]...)
	return Prefix + base58.Encode(full)
}

// Parse decodes a Bitmessage address string, verifying its checksum.
func Parse(s string) (Address, error) {
	if !strings.HasPrefix(s, Prefix) {
		return Address{}, ErrBadPrefix
	}
	decoded := base58.Decode(strings.TrimPrefix(s, Prefix))
	if len(decoded) < 5 {
		return Address{}, ErrTruncated
	}
	payload := decoded[:len(decoded)-4]
	checksum := decoded[len(decoded)-4:]

	r := bytes.NewReader(payload)
	version, err := wire.ReadVarint(r)
	if err != nil {
		return Address{}, ErrTruncated
	}
	stream, err := wire.ReadVarint(r)
	if err != nil {
		return Address{}, ErrTruncated
	}
	strippedRipe := make([]byte, r.Len())
	if _, err := r.Read(strippedRipe); err != nil && len(strippedRipe) > 0 {
		return Address{}, ErrTruncated
	}

	a := Address{Version: version, Stream: stream}
	copy(a.Ripe[20-len(strippedRipe):], strippedRipe)

	want := a.checksum(payload)
	if !bytes.Equal(want[:], checksum) {
		return Address{}, ErrBadChecksum
	}
	return a, nil
}

func (a Address) encodedPayload() []byte {
	var buf bytes.Buffer
	wire.WriteVarint(&buf, a.Version)
	wire.WriteVarint(&buf, a.Stream)
	buf.Write(stripLeadingZeros(a.Ripe[:]))
	return buf.Bytes()
}

func (a Address) checksum(payload []byte) [4]byte {
	h := crypto.DoubleSha512(payload)
	var out [4]byte
	copy(out[:], h[:4])
	return out
}

// Tag is the 32-byte routing identifier for version 4+ pubkeys and version 5
// broadcasts: the second half of double-SHA-512(varint(version) ||
// varint(stream) || RIPE).
func (a Address) Tag() [32]byte {
	payload := a.taggedPreimage()
	h := crypto.DoubleSha512(payload)
	var out [32]byte
	copy(out[:], h[32:])
	return out
}

// DecryptionKeyScalar is the ECDH private scalar derived from the address,
// used to decrypt version-4 pubkeys and version-4 broadcasts addressed to
// it: the first half of double-SHA-512(varint(version) || varint(stream) ||
// RIPE).
func (a Address) DecryptionKeyScalar() [32]byte {
	payload := a.taggedPreimage()
	h := crypto.DoubleSha512(payload)
	var out [32]byte
	copy(out[:], h[:32])
	return out
}

func (a Address) taggedPreimage() []byte {
	var buf bytes.Buffer
	wire.WriteVarint(&buf, a.Version)
	wire.WriteVarint(&buf, a.Stream)
	buf.Write(a.Ripe[:])
	return buf.Bytes()
}

func stripLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// RipeOf derives the RIPE (and thus address, given
// version/stream) from the 64-byte uncompressed signing and encryption
// public key points: RIPEMD160(SHA512(signingPub || encryptionPub)).
func RipeOf(signingPub, encryptionPub [64]byte) [20]byte {
	h := crypto.Sha512(signingPub[:], encryptionPub[:])
	return crypto.Ripemd160(h[:])
}
