package volume

import (
	"context"
	"sync"

	"github.com/cuemby/repvol/pkg/log"
	"github.com/cuemby/repvol/pkg/metrics"
)

// PauseCallback is invoked exactly once, in FIFO order relative to other
// queued callbacks, when every ChannelSet on the volume has drained to
// zero in-flight I/O after a pause request — mirroring
// longhorn_check_pause_complete firing bdev_io completions queued behind
// the pause.
type PauseCallback func()

// QuiesceController implements the pause/unpause protocol: it posts a
// pause message to each ChannelSet's owning thread, and once every
// ChannelSet reports PauseComplete it fires every queued callback in the
// order they were requested, exactly once.
type QuiesceController struct {
	volumeName string

	mu          sync.Mutex
	channelSets []*ChannelSet
	callbacks   []PauseCallback
	paused      bool
	timer       *metrics.Timer
}

// NewQuiesceController creates a controller with no channel sets yet
// registered.
func NewQuiesceController(volumeName string) *QuiesceController {
	return &QuiesceController{volumeName: volumeName}
}

// Register adds cs to the set of channel sets this controller pauses and
// drains. It must be called before Pause for cs to participate.
func (q *QuiesceController) Register(cs *ChannelSet) {
	q.mu.Lock()
	q.channelSets = append(q.channelSets, cs)
	q.mu.Unlock()
	cs.setOnDrain(q.evaluate)
}

// Unregister removes cs, used when a ChannelSet is torn down (its host
// thread going away) independent of a pause/unpause cycle.
func (q *QuiesceController) Unregister(cs *ChannelSet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, existing := range q.channelSets {
		if existing == cs {
			q.channelSets = append(q.channelSets[:i], q.channelSets[i+1:]...)
			return
		}
	}
}

// Pause posts a pause message to every registered channel set's thread
// and enqueues cb to fire once all of them report drained. If the volume
// is already fully paused and drained by the time Pause is called, cb
// fires synchronously before Pause returns.
func (q *QuiesceController) Pause(ctx context.Context, cb PauseCallback) error {
	q.mu.Lock()
	channelSets := append([]*ChannelSet(nil), q.channelSets...)
	q.callbacks = append(q.callbacks, cb)
	alreadyPaused := q.paused
	if !alreadyPaused {
		q.paused = true
		q.timer = metrics.NewTimer()
	}
	q.mu.Unlock()

	metrics.PauseRequestsTotal.WithLabelValues(q.volumeName).Inc()
	logger := log.WithVolume(q.volumeName)

	if !alreadyPaused {
		for _, cs := range channelSets {
			cs := cs
			if err := cs.Thread.Post(func() {
				cs.Pause()
				q.evaluate()
			}); err != nil {
				logger.Warn().Err(err).Msg("failed to post pause message, thread may already be stopped")
				cs.Pause()
			}
		}
	}

	q.evaluate()
	return nil
}

// Unpause clears the paused state on every registered channel set and
// drops any pause callbacks that have not fired yet. Channel sets accept
// submissions while paused as well, so I/O acceptance does not change.
func (q *QuiesceController) Unpause(ctx context.Context) error {
	q.mu.Lock()
	channelSets := append([]*ChannelSet(nil), q.channelSets...)
	q.paused = false
	q.callbacks = nil
	q.mu.Unlock()

	for _, cs := range channelSets {
		cs := cs
		if err := cs.Thread.Post(func() { cs.Unpause() }); err != nil {
			cs.Unpause()
		}
	}
	return nil
}

// Paused reports whether the controller currently considers the volume
// paused.
func (q *QuiesceController) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// evaluate checks invariant I5 — every registered ChannelSet reports
// PauseComplete — and, the first time it holds, fires every queued
// callback exactly once in FIFO order.
func (q *QuiesceController) evaluate() {
	q.mu.Lock()
	if !q.paused || len(q.callbacks) == 0 {
		q.mu.Unlock()
		return
	}
	for _, cs := range q.channelSets {
		if !cs.PauseComplete() {
			q.mu.Unlock()
			return
		}
	}
	callbacks := q.callbacks
	q.callbacks = nil
	timer := q.timer
	q.mu.Unlock()

	if timer != nil {
		timer.ObserveDurationVec(metrics.PauseDrainDuration, q.volumeName)
	}

	for _, cb := range callbacks {
		cb()
	}
}
