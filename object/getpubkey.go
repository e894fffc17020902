package object

import (
	"bytes"
	"io"

	"github.com/dissem-contrib/bmcore/errs"
)

// GetPubkey requests the pubkey for an address, identified by RIPE for
// version 2/3 addresses or by tag for version 4+.
type GetPubkey struct {
	AddressVersion uint64
	Ripe           [20]byte
	Tag            [32]byte
}

func (g *GetPubkey) Type() Type { return TypeGetPubkey }

func (g *GetPubkey) WriteWire(w io.Writer) error {
	if g.AddressVersion < 4 {
		_, err := w.Write(g.Ripe[:])
		return err
	}
	_, err := w.Write(g.Tag[:])
	return err
}

// WriteSigningBody exists to satisfy Payload; GetPubkey is never signed.
func (g *GetPubkey) WriteSigningBody(w io.Writer) error {
	return g.WriteWire(w)
}

// ParseGetPubkey parses a getpubkey payload for the given address version.
func ParseGetPubkey(version uint64, data []byte) (*GetPubkey, error) {
	g := &GetPubkey{AddressVersion: version}
	r := bytes.NewReader(data)
	if version < 4 {
		if _, err := io.ReadFull(r, g.Ripe[:]); err != nil {
			return nil, errs.DecodeError
		}
	} else {
		if _, err := io.ReadFull(r, g.Tag[:]); err != nil {
			return nil, errs.DecodeError
		}
	}
	return g, nil
}
