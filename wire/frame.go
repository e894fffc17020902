package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/dissem-contrib/bmcore/crypto"
	"github.com/dissem-contrib/bmcore/errs"
)

// Magic is the 4-byte prefix of every frame on the wire.
const Magic uint32 = 0xE9BEB4D9

// MaxPayloadLength bounds a single frame's payload.
const MaxPayloadLength = 1600003

// commandLength is the fixed, NUL-padded width of a frame's command name.
const commandLength = 12

// Frame is one magic/command/length/checksum/payload unit exchanged between
// peers.
type Frame struct {
	Command string
	Payload []byte
}

// WriteFrame serializes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxPayloadLength {
		return errs.MalformedWire
	}
	var header bytes.Buffer
	if err := binary.Write(&header, binary.BigEndian, Magic); err != nil {
		return err
	}
	cmd := make([]byte, commandLength)
	copy(cmd, []byte(f.Command))
	header.Write(cmd)
	if err := binary.Write(&header, binary.BigEndian, uint32(len(f.Payload))); err != nil {
		return err
	}
	checksum := crypto.Sha512(f.Payload)
	header.Write(checksum[:4])
	if _, err := w.Write(header.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame parses one frame from r, rejecting bad magic, oversized
// payloads, and checksum mismatches.
func ReadFrame(r io.Reader) (Frame, error) {
	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return Frame{}, err
	}
	if binary.BigEndian.Uint32(magicBuf[:]) != Magic {
		return Frame{}, errs.MalformedWire
	}

	cmdBuf := make([]byte, commandLength)
	if _, err := io.ReadFull(r, cmdBuf); err != nil {
		return Frame{}, errs.MalformedWire
	}
	command := string(bytes.TrimRight(cmdBuf, "\x00"))

	length, err := ReadFixedUint32(r)
	if err != nil {
		return Frame{}, errs.MalformedWire
	}
	if length > MaxPayloadLength {
		return Frame{}, errs.MalformedWire
	}

	var checksum [4]byte
	if _, err := io.ReadFull(r, checksum[:]); err != nil {
		return Frame{}, errs.MalformedWire
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, errs.MalformedWire
	}

	want := crypto.Sha512(payload)
	if !bytes.Equal(want[:4], checksum[:]) {
		return Frame{}, errs.MalformedWire
	}
	return Frame{Command: command, Payload: payload}, nil
}
