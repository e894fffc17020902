// Package p2p implements the per-connection Bitmessage network state
// machine: the version/verack handshake, the addr/inv/getdata/object
// advertise-and-fetch loop, and the object acceptance checks gating what
// gets stored and re-gossiped. The per-connection actor shape -- a
// readLoop goroutine feeding an error channel into a central select loop
// -- is grounded on p2p/peer.go's Peer.run()/readLoop(); the frame
// encode/decode split (a typed payload plus a thin command dispatch) is
// grounded on p2p/message.go's Msg/MsgReadWriter/Send, re-pointed at
// Bitmessage's magic/command/length/checksum frame (wire.Frame) instead of
// devp2p RLPx.
package p2p

import (
	"bytes"
	"io"
	"net"

	"github.com/dissem-contrib/bmcore/errs"
	"github.com/dissem-contrib/bmcore/object"
	"github.com/dissem-contrib/bmcore/wire"
)

// Commands carried in a wire.Frame's Command field.
const (
	CmdVersion = "version"
	CmdVerack  = "verack"
	CmdAddr    = "addr"
	CmdInv     = "inv"
	CmdGetData = "getdata"
	CmdObject  = "object"
)

// ProtocolVersion is the only version this implementation speaks.
const ProtocolVersion = 3

// NetAddr is a network address as carried in version/addr payloads: last
// seen time, the stream it serves, a services bitfield, and the
// host/port.
type NetAddr struct {
	Time     int64
	Stream   uint64
	Services uint64
	IP       net.IP
	Port     uint16
}

func writeNetAddr(w io.Writer, a NetAddr, withTime bool) error {
	if withTime {
		if err := wire.WriteFixedInt64(w, a.Time); err != nil {
			return err
		}
	}
	if err := wire.WriteVarint(w, a.Stream); err != nil {
		return err
	}
	if err := wire.WriteFixedUint64(w, a.Services); err != nil {
		return err
	}
	var ip [16]byte
	copy(ip[:], a.IP.To16())
	if _, err := w.Write(ip[:]); err != nil {
		return err
	}
	return wire.WriteFixedUint32(w, uint32(a.Port))
}

func readNetAddr(r io.Reader, withTime bool) (NetAddr, error) {
	var a NetAddr
	if withTime {
		t, err := wire.ReadFixedInt64(r)
		if err != nil {
			return a, errs.MalformedWire
		}
		a.Time = t
	}
	stream, err := wire.ReadVarint(r)
	if err != nil {
		return a, errs.MalformedWire
	}
	a.Stream = stream
	services, err := wire.ReadFixedUint64(r)
	if err != nil {
		return a, errs.MalformedWire
	}
	a.Services = services
	var ip [16]byte
	if _, err := io.ReadFull(r, ip[:]); err != nil {
		return a, errs.MalformedWire
	}
	a.IP = net.IP(ip[:])
	port, err := wire.ReadFixedUint32(r)
	if err != nil {
		return a, errs.MalformedWire
	}
	a.Port = uint16(port)
	return a, nil
}

// VersionPayload is the body of a "version" frame.
type VersionPayload struct {
	ProtocolVersion uint32
	Services        uint64
	Timestamp       int64
	AddrRecv        NetAddr
	AddrFrom        NetAddr
	Nonce           uint64
	UserAgent       string
	Streams         []uint64
}

func (v VersionPayload) encode() []byte {
	var buf bytes.Buffer
	wire.WriteFixedUint32(&buf, v.ProtocolVersion)
	wire.WriteFixedUint64(&buf, v.Services)
	wire.WriteFixedInt64(&buf, v.Timestamp)
	writeNetAddr(&buf, v.AddrRecv, false)
	writeNetAddr(&buf, v.AddrFrom, false)
	wire.WriteFixedUint64(&buf, v.Nonce)
	wire.WriteVarString(&buf, v.UserAgent)
	wire.WriteVarIntList(&buf, v.Streams)
	return buf.Bytes()
}

func decodeVersion(data []byte) (VersionPayload, error) {
	r := bytes.NewReader(data)
	var v VersionPayload
	var err error
	if v.ProtocolVersion, err = wire.ReadFixedUint32(r); err != nil {
		return v, errs.MalformedWire
	}
	if v.Services, err = wire.ReadFixedUint64(r); err != nil {
		return v, errs.MalformedWire
	}
	if v.Timestamp, err = wire.ReadFixedInt64(r); err != nil {
		return v, errs.MalformedWire
	}
	if v.AddrRecv, err = readNetAddr(r, false); err != nil {
		return v, err
	}
	if v.AddrFrom, err = readNetAddr(r, false); err != nil {
		return v, err
	}
	if v.Nonce, err = wire.ReadFixedUint64(r); err != nil {
		return v, errs.MalformedWire
	}
	if v.UserAgent, err = wire.ReadVarString(r, 400); err != nil {
		return v, errs.MalformedWire
	}
	if v.Streams, err = wire.ReadVarIntList(r, 160000); err != nil {
		return v, errs.MalformedWire
	}
	return v, nil
}

// AddrPayload is the body of an "addr" frame: up to 1000 known peers.
type AddrPayload struct {
	Addrs []NetAddr
}

func (a AddrPayload) encode() []byte {
	var buf bytes.Buffer
	wire.WriteVarint(&buf, uint64(len(a.Addrs)))
	for _, addr := range a.Addrs {
		writeNetAddr(&buf, addr, true)
	}
	return buf.Bytes()
}

func decodeAddr(data []byte) (AddrPayload, error) {
	r := bytes.NewReader(data)
	count, err := wire.ReadVarint(r)
	if err != nil || count > 1000 {
		return AddrPayload{}, errs.MalformedWire
	}
	addrs := make([]NetAddr, 0, count)
	for i := uint64(0); i < count; i++ {
		a, err := readNetAddr(r, true)
		if err != nil {
			return AddrPayload{}, err
		}
		addrs = append(addrs, a)
	}
	return AddrPayload{Addrs: addrs}, nil
}

// InvPayload and GetDataPayload both carry a bare list of inventory
// vectors, with the maximum list sizes the reference implementation
// enforces against memory exhaustion.
type InvPayload struct{ Vectors []object.IV }
type GetDataPayload struct{ Vectors []object.IV }

const maxInvVectors = 50000

func encodeIVList(ivs []object.IV) []byte {
	var buf bytes.Buffer
	wire.WriteVarint(&buf, uint64(len(ivs)))
	for _, iv := range ivs {
		buf.Write(iv[:])
	}
	return buf.Bytes()
}

func decodeIVList(data []byte) ([]object.IV, error) {
	r := bytes.NewReader(data)
	count, err := wire.ReadVarint(r)
	if err != nil || count > maxInvVectors {
		return nil, errs.MalformedWire
	}
	out := make([]object.IV, 0, count)
	for i := uint64(0); i < count; i++ {
		var iv object.IV
		if _, err := io.ReadFull(r, iv[:]); err != nil {
			return nil, errs.MalformedWire
		}
		out = append(out, iv)
	}
	return out, nil
}
