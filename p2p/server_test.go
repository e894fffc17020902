package p2p

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dissem-contrib/bmcore/inventory"
	"github.com/dissem-contrib/bmcore/object"
	"github.com/dissem-contrib/bmcore/pow"
	"github.com/dissem-contrib/bmcore/registry"
)

type recordingListener struct {
	got chan object.IV
}

func newRecordingListener() *recordingListener {
	return &recordingListener{got: make(chan object.IV, 4)}
}

func (l *recordingListener) OnObjectAccepted(msg *object.Message, iv object.IV) {
	l.got <- iv
}

func sealTestObject(t *testing.T, trials, extra uint64) *object.Message {
	t.Helper()
	msg := &object.Message{
		ExpiresTime:  time.Now().Add(time.Hour).Unix(),
		ObjectType:   object.TypeMsg,
		Version:      1,
		Stream:       1,
		PayloadBytes: []byte("server integration test payload"),
	}
	target := pow.Target(msg.PowLength(), trials, extra, msg.ExpiresTime-time.Now().Unix())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pow.Run(ctx, msg.InitialHash(), target, func(nonce uint64) { msg.Nonce = nonce }); err != nil {
		t.Fatalf("pow.Run returned error: %v", err)
	}
	return msg
}

func TestServerFloodsAcceptedObjectToPeers(t *testing.T) {
	const trials, extra = 50, 1000

	invA, invB := inventory.New(), inventory.New()
	listenerA, listenerB := newRecordingListener(), newRecordingListener()

	cfg := Config{Streams: []uint64{1}, ConnectionTTL: time.Minute, NonceTrialsPerByte: trials, ExtraBytes: extra}
	cfgA, cfgB := cfg, cfg
	cfgA.ClientNonce, cfgB.ClientNonce = 1, 2

	serverA := NewServer(cfgA, invA, registry.New(), listenerA)
	serverB := NewServer(cfgB, invB, registry.New(), listenerB)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen returned error: %v", err)
	}
	defer ln.Close()
	go serverA.Serve(ln)

	if _, err := serverB.Dial(ln.Addr().String()); err != nil {
		t.Fatalf("Dial returned error: %v", err)
	}
	defer serverA.Close()
	defer serverB.Close()

	waitForPeers(t, serverA, 1, time.Second)
	waitForPeers(t, serverB, 1, time.Second)

	msg := sealTestObject(t, trials, extra)
	iv := msg.InventoryVector()
	invA.StoreObject(inventory.Entry{IV: iv, Stream: 1, ExpiresTime: msg.ExpiresTime, Raw: msg.Bytes()})

	serverA.Flood(msg)

	select {
	case got := <-listenerB.got:
		if got != iv {
			t.Errorf("listenerB received IV %x, want %x", got, iv)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listenerB did not observe the flooded object in time")
	}
}

func waitForPeers(t *testing.T, s *Server, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(s.Peers()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server did not reach %d active peers within %s (has %d)", n, timeout, len(s.Peers()))
}

func TestUpdateStreamsAffectsOnlyFuturePeers(t *testing.T) {
	s := NewServer(Config{Streams: []uint64{1}}, inventory.New(), registry.New(), nil)
	if got := s.peerConfig().Streams; len(got) != 1 || got[0] != 1 {
		t.Fatalf("initial streams = %v, want [1]", got)
	}
	s.UpdateStreams([]uint64{1, 2, 3})
	if got := s.peerConfig().Streams; len(got) != 3 {
		t.Errorf("streams after UpdateStreams = %v, want length 3", got)
	}
}
