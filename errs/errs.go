// Package errs collects the error kinds used across the node. Following the
// teacher's own idiom (plain sentinel values plus fmt.Errorf("%w", ...)
// wrapping, no third-party error library), these are ordinary exported vars
// matched with errors.Is.
package errs

import "errors"

var (
	// MalformedWire: bad framing, bad magic, truncated payload, bad checksum.
	// Disconnect the peer.
	MalformedWire = errors.New("malformed wire frame")

	// DecodeError: well-framed but unparseable object. Drop the object;
	// optionally disconnect.
	DecodeError = errors.New("object could not be decoded")

	// PowInvalid: object's nonce does not meet the target. Drop the object;
	// disconnect repeat offenders.
	PowInvalid = errors.New("proof of work does not meet target")

	// SignatureInvalid: decryption succeeded but the signature check failed.
	// Drop, log.
	SignatureInvalid = errors.New("signature verification failed")

	// DecryptionFailed: MAC mismatch or AES failure. Expected and silent --
	// most objects on the wire are not addressed to us.
	DecryptionFailed = errors.New("decryption failed")

	// Expired: object's expiry window has already passed.
	Expired = errors.New("object has expired")

	// FarFuture: object's expiry time is further out than the network
	// tolerates.
	FarFuture = errors.New("object expiry too far in the future")

	// StorageError: a port (repository) failed. Surfaced to the caller; in
	// background loops, logged and the loop continues.
	StorageError = errors.New("storage port failed")

	// Cancelled: cooperative shutdown. Not an error for callers that
	// requested the cancellation.
	Cancelled = errors.New("operation cancelled")

	// PoWAborted: another search preempted this one, or a shutdown
	// intervened.
	PoWAborted = errors.New("proof of work search aborted")
)
