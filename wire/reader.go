package wire

import (
	"encoding/binary"
	"io"

	"github.com/dissem-contrib/bmcore/errs"
)

// BoundedReader wraps a reader with a byte budget so a nested object parse
// (whose declared length we already know) cannot read past it. Modeled on
// the teacher's rlp.Stream byte-counted reader, reimplemented here since
// Bitmessage's framing is not RLP.
type BoundedReader struct {
	r         io.Reader
	remaining int64
}

// NewBoundedReader returns a reader that allows at most limit further bytes
// to be read.
func NewBoundedReader(r io.Reader, limit int64) *BoundedReader {
	return &BoundedReader{r: r, remaining: limit}
}

func (b *BoundedReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	return n, err
}

// Remaining reports how many bytes are still readable before the bound is
// hit.
func (b *BoundedReader) Remaining() int64 { return b.remaining }

// ReadFixedUint32 reads a big-endian uint32.
func ReadFixedUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errs.MalformedWire
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadFixedUint64 reads a big-endian uint64.
func ReadFixedUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errs.MalformedWire
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// ReadFixedInt64 reads a big-endian int64 (used for expiresTime).
func ReadFixedInt64(r io.Reader) (int64, error) {
	v, err := ReadFixedUint64(r)
	return int64(v), err
}

// WriteFixedUint32 writes v as big-endian.
func WriteFixedUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// WriteFixedUint64 writes v as big-endian.
func WriteFixedUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// WriteFixedInt64 writes v as big-endian (used for expiresTime).
func WriteFixedInt64(w io.Writer, v int64) error {
	return WriteFixedUint64(w, uint64(v))
}
