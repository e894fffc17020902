package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/dissem-contrib/bmcore/inventory"
	"github.com/dissem-contrib/bmcore/registry"
)

func waitForState(t *testing.T, p *Peer, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peer did not reach state %s within %s (last state %s)", want, timeout, p.State())
}

func newTestPeerPair(t *testing.T, aliceStreams, bobStreams []uint64) (*Peer, *Peer, chan struct{}) {
	t.Helper()
	aliceConn, bobConn := net.Pipe()

	aliceCfg := Config{ClientNonce: 1, Streams: aliceStreams, UserAgent: "/alice:0.1/", ConnectionTTL: time.Minute}
	bobCfg := Config{ClientNonce: 2, Streams: bobStreams, UserAgent: "/bob:0.1/", ConnectionTTL: time.Minute}

	alice := NewPeer(aliceConn, aliceCfg, inventory.New(), registry.New(), nil, true)
	bob := NewPeer(bobConn, bobCfg, inventory.New(), registry.New(), nil, false)

	done := make(chan struct{})
	go alice.Run(done)
	go bob.Run(done)
	return alice, bob, done
}

func TestHandshakeReachesActiveOnSharedStream(t *testing.T) {
	alice, bob, done := newTestPeerPair(t, []uint64{1}, []uint64{1})
	defer close(done)

	waitForState(t, alice, StateActive, time.Second)
	waitForState(t, bob, StateActive, time.Second)
}

func TestHandshakeFailsWithoutSharedStream(t *testing.T) {
	alice, bob, done := newTestPeerPair(t, []uint64{1}, []uint64{2})
	defer close(done)

	waitForState(t, alice, StateDisconnected, time.Second)
	waitForState(t, bob, StateDisconnected, time.Second)
}

func TestHandshakeRejectsSelfConnect(t *testing.T) {
	aliceConn, bobConn := net.Pipe()
	cfg := Config{ClientNonce: 7, Streams: []uint64{1}, ConnectionTTL: time.Minute}

	alice := NewPeer(aliceConn, cfg, inventory.New(), registry.New(), nil, true)
	bob := NewPeer(bobConn, cfg, inventory.New(), registry.New(), nil, false)

	done := make(chan struct{})
	defer close(done)
	go alice.Run(done)
	go bob.Run(done)

	waitForState(t, alice, StateDisconnected, time.Second)
	waitForState(t, bob, StateDisconnected, time.Second)
}

func TestOfferSkipsAlreadyAdvertisedIV(t *testing.T) {
	alice, bob, done := newTestPeerPair(t, []uint64{1}, []uint64{1})
	defer close(done)
	waitForState(t, alice, StateActive, time.Second)
	waitForState(t, bob, StateActive, time.Second)

	var iv [32]byte
	iv[0] = 0xAB
	if alice.HasAdvertised(iv) {
		t.Fatal("a fresh peer reports an IV as already advertised")
	}
	if err := alice.Offer(iv); err != nil {
		t.Fatalf("Offer returned error: %v", err)
	}
	if !alice.HasAdvertised(iv) {
		t.Error("Offer did not mark the IV as advertised")
	}
	// A second Offer of the same IV must be a no-op, not a second frame
	// write (which, on a synchronous net.Pipe with nothing reading right
	// now, would deadlock this test if it actually tried to write).
	if err := alice.Offer(iv); err != nil {
		t.Fatalf("second Offer returned error: %v", err)
	}
}

func TestPickRandomBounds(t *testing.T) {
	var peers []*Peer
	for i := 0; i < 20; i++ {
		peers = append(peers, &Peer{})
	}
	got := pickRandom(peers, 8)
	if len(got) != 8 {
		t.Errorf("pickRandom returned %d peers, want 8", len(got))
	}
	seen := make(map[*Peer]bool)
	for _, p := range got {
		if seen[p] {
			t.Error("pickRandom returned a duplicate peer")
		}
		seen[p] = true
	}
}

func TestPickRandomReturnsAllWhenFewerThanN(t *testing.T) {
	peers := []*Peer{{}, {}, {}}
	got := pickRandom(peers, 8)
	if len(got) != 3 {
		t.Errorf("pickRandom returned %d peers, want 3 (all of them)", len(got))
	}
}
