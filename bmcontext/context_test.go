package bmcontext

import (
	"testing"

	"github.com/dissem-contrib/bmcore/address"
	"github.com/dissem-contrib/bmcore/pipeline"
)

func TestNewDefaultsToStreamOne(t *testing.T) {
	ctx := New(Config{}, nil)
	defer ctx.Close()

	streams := ctx.Streams()
	if len(streams) != 1 || streams[0] != 1 {
		t.Errorf("Streams() = %v, want [1] for a freshly built context with no identities", streams)
	}
}

func TestAddIdentityUpdatesStreams(t *testing.T) {
	ctx := New(Config{}, nil)
	defer ctx.Close()

	priv, err := address.Generate(4, 7)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	ctx.AddIdentity(&pipeline.Identity{Private: priv, NonceTrialsPerByte: 1000, ExtraBytes: 1000})

	streams := ctx.Streams()
	if len(streams) != 1 || streams[0] != 7 {
		t.Errorf("Streams() after AddIdentity = %v, want [7]", streams)
	}
}

func TestSubscribeUpdatesStreams(t *testing.T) {
	ctx := New(Config{}, nil)
	defer ctx.Close()

	priv, err := address.Generate(4, 3)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	ctx.Subscribe(&pipeline.Contact{Addr: priv.Address})

	streams := ctx.Streams()
	found := false
	for _, s := range streams {
		if s == 3 {
			found = true
		}
	}
	if !found {
		t.Errorf("Streams() after Subscribe = %v, want to include stream 3", streams)
	}
}

func TestClientNonceIsStableAndNonZero(t *testing.T) {
	ctx := New(Config{}, nil)
	defer ctx.Close()
	if ctx.ClientNonce() == 0 {
		t.Error("ClientNonce() returned 0, which is suspiciously unrandom")
	}
	if ctx.ClientNonce() != ctx.ClientNonce() {
		t.Error("ClientNonce() is not stable across calls")
	}
}
