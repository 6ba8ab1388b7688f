package volume

import (
	"context"
	"fmt"

	"github.com/cuemby/repvol/pkg/bdev"
	"github.com/cuemby/repvol/pkg/threadctx"
)

// ReplicaKind distinguishes a locally-attached base replica from one
// reached over the network.
type ReplicaKind int

const (
	ReplicaLocal ReplicaKind = iota
	ReplicaRemote
)

func (k ReplicaKind) String() string {
	if k == ReplicaRemote {
		return "remote"
	}
	return "local"
}

// BaseReplica is one member of a volume's replicated set, mirroring the
// source's base_bdev_info: the underlying Device, the kind (local disk vs.
// remote NVMe-oF target), the thread that opened it, and whether it has
// been scheduled for removal.
type BaseReplica struct {
	Handle string
	Kind   ReplicaKind
	Addr   string // only meaningful for ReplicaRemote, host:port

	Device bdev.Device

	// OriginThread is the thread that opened Device. Per the source's
	// asymmetric open/close rule, Close is posted back to this thread
	// rather than run inline if the caller is on a different thread.
	OriginThread *threadctx.Thread

	removeScheduled bool
}

// NewBaseReplica wraps dev as a BaseReplica opened on originThread.
func NewBaseReplica(handle string, kind ReplicaKind, addr string, dev bdev.Device, originThread *threadctx.Thread) *BaseReplica {
	return &BaseReplica{
		Handle:       handle,
		Kind:         kind,
		Addr:         addr,
		Device:       dev,
		OriginThread: originThread,
	}
}

// RemoveScheduled reports whether the replica has been marked for removal
// (a remove-replica control call or a base device REMOVE event). The flag
// stays set after the replica has been dropped from its ChannelSets.
func (r *BaseReplica) RemoveScheduled() bool {
	return r.removeScheduled
}

// ScheduleRemove marks the replica for removal. It is idempotent.
func (r *BaseReplica) ScheduleRemove() {
	r.removeScheduled = true
}

// Open claims and opens the underlying device on behalf of owner.
func (r *BaseReplica) Open(ctx context.Context, owner string) error {
	if err := r.Device.Claim(owner); err != nil {
		return WrapError(KindBaseDeviceUnavailable, err, "claim base replica %s", r.Handle)
	}
	if err := r.Device.Open(ctx); err != nil {
		r.Device.Release()
		return WrapError(KindBaseDeviceUnavailable, err, "open base replica %s", r.Handle)
	}
	return nil
}

// Close releases the underlying device. Following the source's
// asymmetric-close rule, if the calling thread differs from OriginThread,
// the close is posted onto OriginThread instead of running inline.
func (r *BaseReplica) Close(ctx context.Context, callingThread *threadctx.Thread) error {
	closeFn := func() error {
		defer r.Device.Release()
		return r.Device.Close(ctx)
	}

	if r.OriginThread == nil || callingThread == r.OriginThread {
		return closeFn()
	}
	return r.OriginThread.Send(ctx, closeFn)
}

// Validate checks that the replica's device geometry is compatible with
// the volume's, per the InvalidGeometry error kind.
func (r *BaseReplica) Validate(blockSize uint32, numBlocks uint64) error {
	if r.Device.BlockSize() != blockSize {
		return NewError(KindInvalidGeometry,
			"replica %s block size %d != volume block size %d",
			r.Handle, r.Device.BlockSize(), blockSize)
	}
	if r.Device.NumBlocks() < numBlocks {
		return NewError(KindInvalidGeometry,
			"replica %s has %d blocks, volume requires %d",
			r.Handle, r.Device.NumBlocks(), numBlocks)
	}
	return nil
}

func (r *BaseReplica) String() string {
	return fmt.Sprintf("BaseReplica{handle=%s kind=%s removeScheduled=%t}", r.Handle, r.Kind, r.removeScheduled)
}
