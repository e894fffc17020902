package pow

import (
	"context"
	"testing"
	"time"

	"github.com/dissem-contrib/bmcore/crypto"
)

func TestTargetDecreasesWithPayloadLength(t *testing.T) {
	small := Target(100, DefaultNonceTrialsPerByte, DefaultExtraBytes, 0)
	large := Target(100000, DefaultNonceTrialsPerByte, DefaultExtraBytes, 0)
	if large >= small {
		t.Errorf("target for a larger payload (%d) should be lower than for a smaller one (%d)", large, small)
	}
}

func TestTargetDefaultsZeroParameters(t *testing.T) {
	explicit := Target(1000, DefaultNonceTrialsPerByte, DefaultExtraBytes, 0)
	implicit := Target(1000, 0, 0, 0)
	if explicit != implicit {
		t.Errorf("Target(..., 0, 0, ...) = %d, want default-substituted value %d", implicit, explicit)
	}
}

func TestTargetFallsWithLongTTL(t *testing.T) {
	noTTL := Target(1000, DefaultNonceTrialsPerByte, DefaultExtraBytes, 0)
	// A very long TTL inflates the trials term past nonceTrialsPerByte,
	// which can only raise the denominator and so lower the target -- but
	// a short TTL should leave it unchanged from the no-TTL baseline.
	shortTTL := Target(1000, DefaultNonceTrialsPerByte, DefaultExtraBytes, 60)
	if shortTTL != noTTL {
		t.Errorf("a short TTL should not perturb the target: got %d, want %d", shortTTL, noTTL)
	}
	longTTL := Target(1000, DefaultNonceTrialsPerByte, DefaultExtraBytes, 365*24*3600)
	if longTTL >= noTTL {
		t.Errorf("a long TTL should lower the target: got %d, want < %d", longTTL, noTTL)
	}
}

func TestValidAgreesWithTrialValue(t *testing.T) {
	initialHash := crypto.Sha512([]byte("seal me"))
	target := Target(64, DefaultNonceTrialsPerByte, DefaultExtraBytes, 0)
	var nonce uint64
	for ; nonce < 10_000_000; nonce++ {
		if Valid(initialHash, nonce, target) {
			break
		}
	}
	if !Valid(initialHash, nonce, target) {
		t.Fatal("search loop exited without finding a valid nonce in the search bound")
	}
	if trialValue(initialHash, nonce) > target {
		t.Error("Valid and trialValue disagree on the found nonce")
	}
}

func TestRunFindsValidNonce(t *testing.T) {
	initialHash := crypto.Sha512([]byte("run me"))
	// A loose target (short payload, a hundredth of the default trials per
	// byte) keeps this test
	// fast regardless of the number of cores available.
	target := Target(8, DefaultNonceTrialsPerByte/100, DefaultExtraBytes, 0)

	var result uint64
	var called int
	err := Run(context.Background(), initialHash, target, func(nonce uint64) {
		result = nonce
		called++
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if called != 1 {
		t.Fatalf("callback invoked %d times, want exactly 1", called)
	}
	if !Valid(initialHash, result, target) {
		t.Error("Run returned a nonce that does not satisfy the target")
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	initialHash := crypto.Sha512([]byte("never seals"))
	// target 0 is unsatisfiable (trialValue is never <= 0 for any real
	// hash output), so Run must hang until ctx is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Run(ctx, initialHash, 0, func(uint64) {
		t.Error("callback should not be invoked for an unsatisfiable target")
	})
	if err == nil {
		t.Error("expected Run to return an error when its context is cancelled")
	}
}

func TestRunReleasesAdmissionSlot(t *testing.T) {
	// The admission slot allows only one in-flight search; once a Run call
	// has finished, the slot must be free again so a second call is
	// admitted and completes.
	initialHash := crypto.Sha512([]byte("slot test"))
	target := Target(8, DefaultNonceTrialsPerByte/100, DefaultExtraBytes, 0)

	done := make(chan struct{})
	go func() {
		_ = Run(context.Background(), initialHash, target, func(uint64) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first Run call did not complete in time")
	}

	if err := Run(context.Background(), initialHash, target, func(uint64) {}); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
}
