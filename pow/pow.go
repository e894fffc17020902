// Package pow implements Bitmessage's client proof of work: target
// computation and the nonce search that seals an object for the network.
// The concurrency shape is grounded on two sources: Jabit's
// MultiThreadedPOWEngine.java (global admission semaphore, one worker per
// core each striding by the core count, first-finder-wins with idempotent
// callback delivery) and go-ethereum's consensus/ethash sealer.go (the
// close(abort)-channel cancellation idiom used here instead of Java's
// Thread.interrupt()).
package pow

import (
	"context"
	"encoding/binary"
	"math/big"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dissem-contrib/bmcore/crypto"
	"github.com/dissem-contrib/bmcore/errs"
	"github.com/dissem-contrib/bmcore/log"
)

// Default network proof-of-work parameters, per spec.
const (
	DefaultNonceTrialsPerByte uint64 = 1000
	DefaultExtraBytes         uint64 = 1000
)

// maxWorkers mirrors the reference implementation's hard cap of 255
// concurrent search workers.
const maxWorkers = 255

// admission is the process-wide proof-of-work slot: only one nonce search
// runs at a time, by design (this is the one permitted exception to the
// "no hidden process-wide state" rule -- it's a genuine resource limit, not
// convenience global state).
var admission = make(chan struct{}, 1)

func init() { admission <- struct{}{} }

// two64 is 2^64, the dividend of the target formula. Computed with math/big
// the way the teacher computes difficulty targets (consensus/ethash,
// consensus/misc): no third-party arbitrary-precision library exists in the
// pack, and the standard library's is exactly what go-ethereum itself uses
// for this class of arithmetic.
var two64 = new(big.Int).Lsh(big.NewInt(1), 64)

// Target computes the 8-byte (as uint64) target for an object of the given
// payload length, under the given network parameters and time-to-live (in
// seconds): target = 2^64 / ((len+extraBytes+8) * max(trialsPerByte,
// ttl*(len+extraBytes+8)/2^16)).
func Target(payloadLength uint64, nonceTrialsPerByte, extraBytes uint64, ttlSeconds int64) uint64 {
	if nonceTrialsPerByte == 0 {
		nonceTrialsPerByte = DefaultNonceTrialsPerByte
	}
	if extraBytes == 0 {
		extraBytes = DefaultExtraBytes
	}
	size := new(big.Int).SetUint64(payloadLength + extraBytes + 8)

	trials := new(big.Int).SetUint64(nonceTrialsPerByte)
	if ttlSeconds > 0 {
		ttlTerm := new(big.Int).Mul(size, big.NewInt(ttlSeconds))
		ttlTerm.Rsh(ttlTerm, 16)
		if ttlTerm.Cmp(trials) > 0 {
			trials = ttlTerm
		}
	}

	denominator := new(big.Int).Mul(size, trials)
	if denominator.Sign() == 0 {
		return ^uint64(0)
	}
	target := new(big.Int).Div(two64, denominator)
	if !target.IsUint64() {
		return ^uint64(0)
	}
	return target.Uint64()
}

// Valid reports whether nonce seals initialHash under target, per the
// network's inequality SHA-512(SHA-512(nonce||initialHash))[0:8] <= target.
func Valid(initialHash [64]byte, nonce uint64, target uint64) bool {
	return trialValue(initialHash, nonce) <= target
}

func trialValue(initialHash [64]byte, nonce uint64) uint64 {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	outer := crypto.DoubleSha512(nonceBytes[:], initialHash[:])
	return binary.BigEndian.Uint64(outer[:8])
}

// Callback is invoked exactly once with the nonce that sealed initialHash.
type Callback func(nonce uint64)

// Run blocks until a sealing nonce for initialHash/target is found (or ctx
// is cancelled), using one worker per available CPU core, and invokes
// callback exactly once with the result before returning. It acquires the
// process-wide admission slot for its duration, queueing behind any other
// in-flight search.
func Run(ctx context.Context, initialHash [64]byte, target uint64, callback Callback) error {
	select {
	case <-admission:
	case <-ctx.Done():
		return errs.Cancelled
	}
	defer func() { admission <- struct{}{} }()

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	log.Info("starting proof of work search", "workers", workers)

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(searchCtx)
	found := make(chan uint64, 1)

	for core := 0; core < workers; core++ {
		core := core
		g.Go(func() error {
			return search(gctx, uint64(core), uint64(workers), initialHash, target, found)
		})
	}

	var result uint64
	var ok bool
	select {
	case result = <-found:
		ok = true
		cancel()
	case <-searchCtx.Done():
	}

	_ = g.Wait()

	if !ok {
		return errs.Cancelled
	}
	callback(result)
	return nil
}

// search increments a nonce starting at offset and striding by stride,
// reporting the first value satisfying target on found and returning.
func search(ctx context.Context, offset, stride uint64, initialHash [64]byte, target uint64, found chan<- uint64) error {
	nonce := offset
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if trialValue(initialHash, nonce) <= target {
			select {
			case found <- nonce:
			default:
			}
			return nil
		}
		nonce += stride
	}
}
