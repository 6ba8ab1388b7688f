package volume

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/repvol/pkg/bdev"
	"github.com/cuemby/repvol/pkg/threadctx"
)

// SubChannel is one ChannelSet's handle onto a single BaseReplica's
// Device — exactly one per BaseReplica per ChannelSet, per invariant I2.
type SubChannel struct {
	ReplicaHandle string
	Device        bdev.Device
}

// ChannelSet is a Volume's per-host-thread fan-out point: every I/O
// submitted through a ChannelSet is dispatched to some or all of its
// SubChannels depending on OpType, and the ChannelSet is what the
// quiescence controller pauses and drains. It corresponds to the source's
// longhorn_io_channel.
type ChannelSet struct {
	Thread *threadctx.Thread // owning host thread

	mu          sync.Mutex
	subChannels map[string]*SubChannel
	order       []string // replica handles in stable iteration order
	lastRead    int      // round-robin index into order for reads

	ioOps         atomic.Int64
	paused        atomic.Bool
	pauseComplete atomic.Bool

	onDrain atomic.Pointer[func()] // notified after endIO newly sets pauseComplete; set by the owning QuiesceController
}

// NewChannelSet creates an empty ChannelSet owned by thread.
func NewChannelSet(thread *threadctx.Thread) *ChannelSet {
	return &ChannelSet{
		Thread:      thread,
		subChannels: make(map[string]*SubChannel),
	}
}

// AddSubChannel adds a SubChannel for the given replica. Adding a handle
// that already exists is a no-op, matching the source's idempotent
// longhorn_io_channel_create behavior for a replica already present.
func (c *ChannelSet) AddSubChannel(replicaHandle string, dev bdev.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subChannels[replicaHandle]; exists {
		return
	}
	c.subChannels[replicaHandle] = &SubChannel{ReplicaHandle: replicaHandle, Device: dev}
	c.order = append(c.order, replicaHandle)
}

// RemoveSubChannel drops the SubChannel for replicaHandle. Following the
// source's longhorn_io_channel_remove_bdev, if the removed sub-channel was
// the last-read hint, the hint is cleared so the next read round-robins to
// the next surviving replica instead of reusing a freed index.
func (c *ChannelSet) RemoveSubChannel(replicaHandle string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subChannels[replicaHandle]; !exists {
		return
	}
	delete(c.subChannels, replicaHandle)

	removedIdx := -1
	for i, h := range c.order {
		if h == replicaHandle {
			removedIdx = i
			break
		}
	}
	if removedIdx == -1 {
		return
	}
	c.order = append(c.order[:removedIdx], c.order[removedIdx+1:]...)

	if len(c.order) == 0 {
		c.lastRead = 0
		return
	}
	if c.lastRead > removedIdx {
		c.lastRead--
	}
	c.lastRead = c.lastRead % len(c.order)
}

// SubChannels returns a stable-ordered snapshot of the channel set's
// current sub-channels.
func (c *ChannelSet) SubChannels() []*SubChannel {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*SubChannel, 0, len(c.order))
	for _, h := range c.order {
		out = append(out, c.subChannels[h])
	}
	return out
}

// NextReadTarget returns the next sub-channel to service a read,
// round-robining over the surviving sub-channels. It reports ok=false if
// the channel set has no sub-channels left.
func (c *ChannelSet) NextReadTarget() (*SubChannel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		return nil, false
	}
	idx := c.lastRead % len(c.order)
	c.lastRead = (idx + 1) % len(c.order)
	return c.subChannels[c.order[idx]], true
}

// IOOps returns the number of in-flight I/O operations on this channel
// set.
func (c *ChannelSet) IOOps() int64 {
	return c.ioOps.Load()
}

func (c *ChannelSet) beginIO() {
	c.ioOps.Add(1)
}

// endIO decrements the in-flight counter and, if the channel set is
// paused and has just drained to zero, marks pauseComplete — the
// completion-time half of the pause-drain predicate in quiesce.go — and
// notifies the owning QuiesceController so it can re-evaluate invariant I5
// without waiting for another pause/unpause call.
func (c *ChannelSet) endIO() {
	remaining := c.ioOps.Add(-1)
	if c.paused.Load() && remaining == 0 {
		c.pauseComplete.Store(true)
		if fn := c.onDrain.Load(); fn != nil {
			(*fn)()
		}
	}
}

// setOnDrain installs the callback invoked whenever endIO newly observes
// this channel set drained while paused. Used by QuiesceController.Register
// to wire itself into the completion path.
func (c *ChannelSet) setOnDrain(fn func()) {
	c.onDrain.Store(&fn)
}

// Pause marks the channel set as paused. If it is already drained
// (io_ops==0), pauseComplete is set immediately; otherwise it is left to
// endIO to notice the drain.
func (c *ChannelSet) Pause() {
	c.paused.Store(true)
	if c.ioOps.Load() == 0 {
		c.pauseComplete.Store(true)
	}
}

// Unpause clears paused/pauseComplete. Submissions are accepted whether or
// not the channel set is paused, so this changes only what PauseComplete
// reports.
func (c *ChannelSet) Unpause() {
	c.pauseComplete.Store(false)
	c.paused.Store(false)
}

// Paused reports whether the channel set is currently paused.
func (c *ChannelSet) Paused() bool {
	return c.paused.Load()
}

// PauseComplete reports whether the channel set is paused and fully
// drained — the per-ChannelSet half of invariant I5.
func (c *ChannelSet) PauseComplete() bool {
	return c.paused.Load() && c.pauseComplete.Load()
}

