package volume

import (
	"context"
	"sync"

	"github.com/cuemby/repvol/pkg/bdev"
	"github.com/cuemby/repvol/pkg/metrics"
)

// VolumeIO describes one request submitted to a Volume: a Read is
// dispatched to a single SubChannel (the round-robin read hint); Write,
// Flush, Unmap, and Reset fan out to every SubChannel in the ChannelSet,
// and the aggregate result is the first failure seen, mirroring
// longhorn_bdev_io_complete_part's "a single base I/O failure fails the
// whole volume I/O" rule.
type VolumeIO struct {
	ID           string
	Op           bdev.OpType
	OffsetBlocks uint64
	NumBlocks    uint64
	Buf          []byte
}

// MaxInFlightPerChannel bounds the number of concurrent I/O operations a
// ChannelSet will run at once; further requests are queued and retried in
// FIFO order as capacity frees up, and no error is returned to the caller
// for it — the Go-idiomatic stand-in for SPDK's bdev_io pool
// exhaustion, since this rewrite has no fixed-size I/O buffer pool of its
// own. Zero means unlimited.
const MaxInFlightPerChannel = 256

// waitEntry is a VolumeIO submission parked on a ChannelSet's wait queue
// after an out-of-memory rejection, to be retried in FIFO order as
// capacity frees up — the Go analogue of spdk_bdev_queue_io_wait.
type waitEntry struct {
	ctx    context.Context
	io     *VolumeIO
	submit func(ctx context.Context, io *VolumeIO) error
	result chan<- error
}

// Engine drives I/O submission and completion reduction for a Volume's
// ChannelSets.
type Engine struct {
	volumeName string

	mu        sync.Mutex
	waitQueue map[*ChannelSet][]*waitEntry
}

// NewEngine creates an I/O engine for the named volume.
func NewEngine(volumeName string) *Engine {
	return &Engine{
		volumeName: volumeName,
		waitQueue:  make(map[*ChannelSet][]*waitEntry),
	}
}

// IOTypeSupported reports whether op can be serviced given the current set
// of sub-channels: every surviving replica must support it, matching
// longhorn_bdev_io_type_supported's all-replicas-must-agree rule.
func IOTypeSupported(cs *ChannelSet, op bdev.OpType) bool {
	subs := cs.SubChannels()
	if len(subs) == 0 {
		return false
	}
	for _, sc := range subs {
		if !sc.Device.IOTypeSupported(op) {
			return false
		}
	}
	return true
}

// Submit dispatches req through cs, blocking until the aggregate result is
// known (or ctx is done). It returns KindInvalidArgument when req.Op is not
// supported by every sub-channel, which includes a channel set with no
// sub-channels. A channel set at capacity does not return an error: the
// submission is queued and retried transparently, so past that check
// Submit only returns an error for a failed I/O or ctx expiring while
// queued. A paused
// channel set still accepts submissions; only the completion-side pause
// callbacks hold back until drained.
func (e *Engine) Submit(ctx context.Context, cs *ChannelSet, req *VolumeIO) error {
	if !IOTypeSupported(cs, req.Op) {
		return NewError(KindInvalidArgument, "op %s not supported by volume %s", req.Op, e.volumeName)
	}

	return e.submitOrQueue(ctx, cs, req)
}

func (e *Engine) submitOrQueue(ctx context.Context, cs *ChannelSet, req *VolumeIO) error {
	if MaxInFlightPerChannel > 0 && cs.IOOps() >= MaxInFlightPerChannel {
		metrics.IOSubmitRetryTotal.WithLabelValues(e.volumeName).Inc()
		result := make(chan error, 1)
		e.enqueueWait(cs, &waitEntry{ctx: ctx, io: req, submit: func(ctx context.Context, io *VolumeIO) error {
			return e.dispatch(ctx, cs, io)
		}, result: result})

		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return e.dispatch(ctx, cs, req)
}

func (e *Engine) enqueueWait(cs *ChannelSet, entry *waitEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waitQueue[cs] = append(e.waitQueue[cs], entry)
}

// drainWaitQueue pops and retries at most one queued submission for cs,
// called after every completion frees a slot. It dequeues a single entry
// per call rather than looping until capacity is exhausted: the retried
// submission's own beginIO accounting only lands once its goroutine is
// scheduled, so a tight dequeue loop here would pop and spawn many more
// retries than the freed capacity actually allows before any of them are
// counted. Since a completion triggers exactly one drainWaitQueue call per
// freed slot, one dequeue per call keeps pops and freed slots 1:1.
func (e *Engine) drainWaitQueue(cs *ChannelSet) {
	if MaxInFlightPerChannel > 0 && cs.IOOps() >= MaxInFlightPerChannel {
		return
	}

	e.mu.Lock()
	queue := e.waitQueue[cs]
	if len(queue) == 0 {
		e.mu.Unlock()
		return
	}
	entry := queue[0]
	e.waitQueue[cs] = queue[1:]
	e.mu.Unlock()

	go func(entry *waitEntry) {
		entry.result <- entry.submit(entry.ctx, entry.io)
	}(entry)
}

func (e *Engine) dispatch(ctx context.Context, cs *ChannelSet, req *VolumeIO) error {
	timer := metrics.NewTimer()
	var err error
	switch req.Op {
	case bdev.OpRead:
		err = e.dispatchRead(ctx, cs, req)
	default:
		err = e.dispatchFanOut(ctx, cs, req)
	}
	timer.ObserveDurationVec(metrics.IOCompletionDuration, e.volumeName, req.Op.String())
	return err
}

func (e *Engine) beginIO(cs *ChannelSet) {
	cs.beginIO()
	metrics.IOOpsInFlight.WithLabelValues(e.volumeName).Set(float64(cs.IOOps()))
}

func (e *Engine) endIO(cs *ChannelSet) {
	cs.endIO()
	metrics.IOOpsInFlight.WithLabelValues(e.volumeName).Set(float64(cs.IOOps()))
	e.drainWaitQueue(cs)
}

func (e *Engine) dispatchRead(ctx context.Context, cs *ChannelSet, req *VolumeIO) error {
	sc, ok := cs.NextReadTarget()
	if !ok {
		return NewError(KindBaseDeviceUnavailable, "volume %s has no surviving replicas for read", e.volumeName)
	}

	e.beginIO(cs)
	err := sc.Device.SubmitRead(ctx, req.OffsetBlocks, req.Buf)
	e.endIO(cs)

	e.recordOutcome(req.Op, err)
	if err != nil {
		return WrapError(KindIoFailed, err, "read from replica %s", sc.ReplicaHandle)
	}
	return nil
}

// dispatchFanOut submits req to every sub-channel concurrently and reduces
// completions: the aggregate status is the first failure observed, and
// in-flight bookkeeping is maintained per sub-channel I/O, not per
// VolumeIO, matching longhorn_bdev_io_complete_part's per-base-I/O
// decrement of io_ops.
func (e *Engine) dispatchFanOut(ctx context.Context, cs *ChannelSet, req *VolumeIO) error {
	subs := cs.SubChannels()
	if len(subs) == 0 {
		return NewError(KindBaseDeviceUnavailable, "volume %s has no surviving replicas", e.volumeName)
	}

	type outcome struct {
		handle string
		err    error
	}
	results := make(chan outcome, len(subs))

	for _, sc := range subs {
		sc := sc
		e.beginIO(cs)
		go func() {
			var err error
			switch req.Op {
			case bdev.OpWrite:
				err = sc.Device.SubmitWrite(ctx, req.OffsetBlocks, req.Buf)
			case bdev.OpFlush:
				err = sc.Device.SubmitFlush(ctx)
			case bdev.OpUnmap:
				err = sc.Device.SubmitUnmap(ctx, req.OffsetBlocks, req.NumBlocks)
			case bdev.OpReset:
				err = sc.Device.SubmitReset(ctx)
			}
			e.endIO(cs)
			results <- outcome{handle: sc.ReplicaHandle, err: err}
		}()
	}

	var firstErr error
	for range subs {
		o := <-results
		if o.err != nil && firstErr == nil {
			firstErr = WrapError(KindIoFailed, o.err, "%s failed on replica %s", req.Op, o.handle)
		}
	}

	e.recordOutcome(req.Op, firstErr)
	return firstErr
}

func (e *Engine) recordOutcome(op bdev.OpType, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.IOSubmitTotal.WithLabelValues(e.volumeName, op.String(), outcome).Inc()
}
