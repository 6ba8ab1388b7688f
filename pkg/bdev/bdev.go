// Package bdev describes the base block devices a replicated volume fans
// its I/O out to. Device is deliberately a thin interface: in production
// these devices are owned by the host block-device framework and reached
// over NVMe-oF or a local NVMe namespace, neither of which this module
// implements. FileDevice is this rewrite's concrete, testable stand-in —
// a fixed-size local file addressed by block offset — so the round-trip
// write/read property can actually run against real bytes in tests.
package bdev

import (
	"context"
	"errors"
)

// OpType identifies the kind of I/O a Device is asked to perform.
type OpType int

const (
	OpRead OpType = iota
	OpWrite
	OpFlush
	OpUnmap
	OpReset
)

func (o OpType) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFlush:
		return "flush"
	case OpUnmap:
		return "unmap"
	case OpReset:
		return "reset"
	default:
		return "unknown"
	}
}

// ErrRemoved is returned from any Submit call made after removal. The
// remove callback itself takes no arguments.
var ErrRemoved = errors.New("bdev: device removed")

// RemoveFunc is invoked asynchronously by a Device when the underlying
// base device goes away out from under it (the host framework's REMOVE
// event). It is always invoked on the Device's origin thread's terms: the
// caller is responsible for re-posting onto its own thread if it needs to
// touch thread-owned state.
type RemoveFunc func()

// Device is the interface a base replica's concrete storage backend must
// satisfy. All Submit* methods are safe to call concurrently from multiple
// goroutines; ordering between them is the caller's (the channel set's)
// responsibility.
type Device interface {
	// Name identifies the device for logging and dump_info_json-style
	// inspection.
	Name() string

	// Open prepares the device for I/O. It must be called before any
	// Submit* method and before Claim.
	Open(ctx context.Context) error

	// Close releases any resources Open acquired. Close is idempotent.
	Close(ctx context.Context) error

	// Claim exclusively reserves the device for the given owner (a
	// volume name), returning an error if it is already claimed by
	// someone else. Mirrors spdk_bdev_module_claim_bdev.
	Claim(owner string) error

	// Release undoes Claim. Release on an unclaimed device is a no-op.
	Release()

	// BlockSize returns the device's logical block size in bytes.
	BlockSize() uint32

	// NumBlocks returns the device's capacity in blocks.
	NumBlocks() uint64

	SubmitRead(ctx context.Context, offsetBlocks uint64, buf []byte) error
	SubmitWrite(ctx context.Context, offsetBlocks uint64, buf []byte) error
	SubmitFlush(ctx context.Context) error
	SubmitUnmap(ctx context.Context, offsetBlocks, numBlocks uint64) error
	SubmitReset(ctx context.Context) error

	// IOTypeSupported reports whether this device can service the given
	// operation type.
	IOTypeSupported(op OpType) bool

	// OnRemove registers fn to be invoked (at most once) if the device
	// is removed out from under the volume. Registering after the
	// device has already been removed invokes fn immediately.
	OnRemove(fn RemoveFunc)
}
