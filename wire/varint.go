// Package wire implements Bitmessage's byte-level codec: varints,
// varstrings, varbytes, fixed-width big-endian integers, and the
// length-bounded reader nested object parses use so they cannot read past
// their declared length. Semantics follow the Jabit reference
// implementation's Encode/Decode helpers exactly: the encoder always
// chooses the minimal-length form, the decoder accepts any form (lenient
// read, strict write, per Postel's law).
package wire

import (
	"encoding/binary"
	"io"

	"github.com/dissem-contrib/bmcore/errs"
)

// WriteVarint appends the variable-length encoding of v: a single byte for
// v < 0xFD, 0xFD+u16 for v <= 0xFFFF, 0xFE+u32 for v <= 0xFFFFFFFF, and
// 0xFF+u64 otherwise.
func WriteVarint(w io.Writer, v uint64) error {
	switch {
	case v < 0xfd:
		_, err := w.Write([]byte{byte(v)})
		return err
	case v <= 0xffff:
		var buf [3]byte
		buf[0] = 0xfd
		binary.BigEndian.PutUint16(buf[1:], uint16(v))
		_, err := w.Write(buf[:])
		return err
	case v <= 0xffffffff:
		var buf [5]byte
		buf[0] = 0xfe
		binary.BigEndian.PutUint32(buf[1:], uint32(v))
		_, err := w.Write(buf[:])
		return err
	default:
		var buf [9]byte
		buf[0] = 0xff
		binary.BigEndian.PutUint64(buf[1:], v)
		_, err := w.Write(buf[:])
		return err
	}
}

// ReadVarint reads a variable-length integer. Non-minimal encodings are
// accepted, matching the reference implementation.
func ReadVarint(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	switch prefix[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errs.MalformedWire
		}
		return uint64(binary.BigEndian.Uint16(buf[:])), nil
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errs.MalformedWire
		}
		return uint64(binary.BigEndian.Uint32(buf[:])), nil
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errs.MalformedWire
		}
		return binary.BigEndian.Uint64(buf[:]), nil
	default:
		return uint64(prefix[0]), nil
	}
}

// VarintSize returns the number of bytes WriteVarint would produce for v.
func VarintSize(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// WriteVarBytes writes a varint length prefix followed by data.
func WriteVarBytes(w io.Writer, data []byte) error {
	if err := WriteVarint(w, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadVarBytes reads a varint length prefix followed by that many bytes,
// bounded by maxLen to avoid over-allocating on a malicious length.
func ReadVarBytes(r io.Reader, maxLen uint64) ([]byte, error) {
	n, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, errs.MalformedWire
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errs.MalformedWire
	}
	return buf, nil
}

// WriteVarString writes a UTF-8 string as a varint length prefix plus bytes.
func WriteVarString(w io.Writer, s string) error {
	return WriteVarBytes(w, []byte(s))
}

// ReadVarString reads a varstring bounded by maxLen bytes.
func ReadVarString(r io.Reader, maxLen uint64) (string, error) {
	b, err := ReadVarBytes(r, maxLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteVarIntList writes a varint count followed by that many varints.
func WriteVarIntList(w io.Writer, values []uint64) error {
	if err := WriteVarint(w, uint64(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := WriteVarint(w, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadVarIntList reads a varint count followed by that many varints, bounded
// by maxCount.
func ReadVarIntList(r io.Reader, maxCount uint64) ([]uint64, error) {
	n, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxCount {
		return nil, errs.MalformedWire
	}
	out := make([]uint64, n)
	for i := range out {
		v, err := ReadVarint(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
