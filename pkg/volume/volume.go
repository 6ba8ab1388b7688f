package volume

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/repvol/pkg/events"
	"github.com/cuemby/repvol/pkg/log"
	"github.com/cuemby/repvol/pkg/metrics"
	"github.com/cuemby/repvol/pkg/threadctx"
)

// State is a volume's lifecycle state. The numeric values are part of the
// dump_info_json contract: the original dumps state as this raw ordinal,
// and this rewrite keeps the same convention (0/1/2) rather than hiding it
// behind an opaque value.
type State int

const (
	StateConfiguring State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Volume is a replicated block volume: an aggregate of BaseReplicas fanned
// out to through one ChannelSet per host thread that has opened the
// volume. It corresponds to the source's longhorn_bdev / longhorn_volume.
type Volume struct {
	Name           string
	BlockSize      uint32
	NumBlocks      uint64
	TargetReplicas int

	broker *events.Broker
	engine *Engine
	quiesce *QuiesceController

	mu               sync.Mutex
	state            State
	replicas         map[string]*BaseReplica // discovered base replicas, by handle
	channelSets      map[string]*ChannelSet  // by owning thread name
	shutdownStarted  bool
	destroying       bool // a whole-volume Remove is in flight, mirroring destroy_started
	destructCalled   bool // Destruct has run at least once, mirroring destruct_called
	controlBusy      bool
	configureTimer   *metrics.Timer
}

// New creates a Volume in state Configuring with no discovered replicas.
func New(name string, blockSize uint32, numBlocks uint64, targetReplicas int, broker *events.Broker) *Volume {
	return &Volume{
		Name:           name,
		BlockSize:      blockSize,
		NumBlocks:      numBlocks,
		TargetReplicas: targetReplicas,
		broker:         broker,
		engine:         NewEngine(name),
		quiesce:        NewQuiesceController(name),
		replicas:       make(map[string]*BaseReplica),
		channelSets:    make(map[string]*ChannelSet),
		state:          StateConfiguring,
		configureTimer: metrics.NewTimer(),
	}
}

// State returns the volume's current lifecycle state.
func (v *Volume) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// DiscoveredReplicas returns the number of base replicas currently
// discovered (opened and added). Invariant I1: this never exceeds
// TargetReplicas.
func (v *Volume) DiscoveredReplicas() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.replicas)
}

// NumChannelSets returns the number of currently open channel sets,
// mirroring the source's num_io_channels diagnostic counter.
func (v *Volume) NumChannelSets() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.channelSets)
}

func (v *Volume) publish(eventType events.EventType, message string) {
	if v.broker == nil {
		return
	}
	v.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"volume": v.Name},
	})
}

// tryLockControl implements the Busy error kind: the control plane
// serializes structural changes (add/remove replica, configure,
// deconfigure) through a single try-lock per volume rather than
// a blocking mutex, so a caller racing another control op gets KindBusy
// back immediately instead of stalling.
func (v *Volume) tryLockControl() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.controlBusy {
		return false
	}
	v.controlBusy = true
	return true
}

func (v *Volume) unlockControl() {
	v.mu.Lock()
	v.controlBusy = false
	v.mu.Unlock()
}

// AddReplica discovers a new base replica: it validates geometry, opens
// the underlying device, adds a SubChannel for it on every currently open
// ChannelSet, and transitions Configuring -> Online once TargetReplicas
// have been discovered. Invariant I1 (discovered <= target) is enforced
// by rejecting an add once the target is already met.
func (v *Volume) AddReplica(ctx context.Context, r *BaseReplica) error {
	if !v.tryLockControl() {
		metrics.ReplicaAddTotal.WithLabelValues(v.Name, "busy").Inc()
		return NewError(KindBusy, "volume %s: control operation already in progress", v.Name)
	}
	defer v.unlockControl()

	v.mu.Lock()
	if v.destroying {
		v.mu.Unlock()
		metrics.ReplicaAddTotal.WithLabelValues(v.Name, "already_destroying").Inc()
		return NewError(KindAlreadyDestroying, "volume %s is being destroyed", v.Name)
	}
	if _, exists := v.replicas[r.Handle]; exists {
		v.mu.Unlock()
		metrics.ReplicaAddTotal.WithLabelValues(v.Name, "duplicate").Inc()
		return NewError(KindDuplicateName, "replica %s already discovered on volume %s", r.Handle, v.Name)
	}
	if len(v.replicas) >= v.TargetReplicas {
		v.mu.Unlock()
		metrics.ReplicaAddTotal.WithLabelValues(v.Name, "invalid_argument").Inc()
		return NewError(KindInvalidArgument, "volume %s already has target replica count %d", v.Name, v.TargetReplicas)
	}
	v.mu.Unlock()

	if err := r.Validate(v.BlockSize, v.NumBlocks); err != nil {
		metrics.ReplicaAddTotal.WithLabelValues(v.Name, "invalid_geometry").Inc()
		return err
	}
	if err := r.Open(ctx, v.Name); err != nil {
		metrics.ReplicaAddTotal.WithLabelValues(v.Name, "base_device_unavailable").Inc()
		return err
	}

	r.Device.OnRemove(func() {
		_ = v.handleReplicaRemoveEvent(ctx, r.Handle)
	})

	v.mu.Lock()
	v.replicas[r.Handle] = r
	for _, cs := range v.channelSets {
		cs.AddSubChannel(r.Handle, r.Device)
	}
	discovered := len(v.replicas)
	state := v.state
	v.mu.Unlock()

	metrics.ReplicaAddTotal.WithLabelValues(v.Name, "success").Inc()
	metrics.ReplicasDiscovered.WithLabelValues(v.Name).Set(float64(discovered))
	v.publish(events.EventReplicaAdded, "replica "+r.Handle+" added")

	if state == StateConfiguring && discovered == v.TargetReplicas {
		v.transitionOnline()
	}
	return nil
}

func (v *Volume) transitionOnline() {
	v.mu.Lock()
	v.state = StateOnline
	timer := v.configureTimer
	v.mu.Unlock()

	if timer != nil {
		timer.ObserveDuration(metrics.ConfigureDuration)
	}
	metrics.VolumesTotal.WithLabelValues(StateOnline.String()).Inc()
	metrics.VolumesTotal.WithLabelValues(StateConfiguring.String()).Dec()
	log.WithVolume(v.Name).Info().Int("replicas", v.TargetReplicas).Msg("volume online")
	v.publish(events.EventVolumeOnline, "volume online")
}

// RemoveReplica schedules a discovered replica for removal: it is marked
// remove_scheduled and dropped from every ChannelSet, then its device is
// closed. Invariant I2 (exactly one SubChannel per BaseReplica per
// ChannelSet) is maintained by removing the SubChannel before closing.
func (v *Volume) RemoveReplica(ctx context.Context, handle string, callingThread *threadctx.Thread) error {
	if !v.tryLockControl() {
		metrics.ReplicaRemoveTotal.WithLabelValues(v.Name, "busy").Inc()
		return NewError(KindBusy, "volume %s: control operation already in progress", v.Name)
	}
	defer v.unlockControl()

	v.mu.Lock()
	r, ok := v.replicas[handle]
	if !ok {
		v.mu.Unlock()
		metrics.ReplicaRemoveTotal.WithLabelValues(v.Name, "not_found").Inc()
		return NewError(KindNotFound, "replica %s not discovered on volume %s", handle, v.Name)
	}
	r.ScheduleRemove()
	for _, cs := range v.channelSets {
		cs.RemoveSubChannel(handle)
	}
	delete(v.replicas, handle)
	discovered := len(v.replicas)
	v.mu.Unlock()

	err := r.Close(ctx, callingThread)
	if err != nil {
		metrics.ReplicaRemoveTotal.WithLabelValues(v.Name, "io_failed").Inc()
		return WrapError(KindIoFailed, err, "closing replica %s", handle)
	}

	metrics.ReplicaRemoveTotal.WithLabelValues(v.Name, "success").Inc()
	metrics.ReplicasDiscovered.WithLabelValues(v.Name).Set(float64(discovered))
	v.publish(events.EventReplicaRemoved, "replica "+handle+" removed")
	return nil
}

// Remove implements the volume_remove control operation: it schedules
// every discovered replica for removal, deconfigures the volume (Online ->
// Offline) if it is currently online, and destructs it, releasing every
// now-scheduled replica's claim. This mirrors
// longhorn_bdev_remove_base_devices's mark-everything-then-deconfigure
// sequence, which is what lets a volume with live attached replicas
// actually be removed. Once a volume has been through Remove, every later
// call returns KindAlreadyDestroying, whether or not the first one has
// finished.
func (v *Volume) Remove(ctx context.Context) error {
	v.mu.Lock()
	if v.destroying {
		v.mu.Unlock()
		return NewError(KindAlreadyDestroying, "volume %s is already being removed", v.Name)
	}
	v.destroying = true
	for _, r := range v.replicas {
		r.ScheduleRemove()
	}
	v.mu.Unlock()

	if err := v.Deconfigure(ctx); err != nil {
		return err
	}
	return v.Destruct(ctx, false)
}

// handleReplicaRemoveEvent reacts to a base device's asynchronous REMOVE
// event, mirroring longhorn_bdev_remove_base_bdev. The replica is marked
// remove_scheduled; if Destruct has already run, or the volume never left
// Configuring, its claim is released immediately, exactly as a
// control-plane RemoveReplica would. Otherwise, on an online volume losing
// a replica out from under it, the whole volume is deconfigured
// (Online -> Offline) rather than silently shrinking the fan-out and
// staying online, since an unsolicited loss is not the same event as an
// operator-issued remove-replica.
func (v *Volume) handleReplicaRemoveEvent(ctx context.Context, handle string) error {
	v.mu.Lock()
	r, ok := v.replicas[handle]
	if !ok {
		v.mu.Unlock()
		return nil
	}
	r.ScheduleRemove()
	freeImmediately := v.destructCalled || v.state == StateConfiguring
	v.mu.Unlock()

	if freeImmediately {
		log.WithVolume(v.Name).Warn().Str("replica", handle).Msg("base device removed out from under volume, releasing immediately")
		return v.RemoveReplica(ctx, handle, nil)
	}

	log.WithVolume(v.Name).Warn().Str("replica", handle).Msg("base device removed out from under an online volume, deconfiguring")
	if err := v.Deconfigure(ctx); err != nil {
		return err
	}
	return v.Destruct(ctx, false)
}

// OpenChannelSet creates (or returns the existing) ChannelSet for thread,
// pre-populated with a SubChannel for every currently discovered replica —
// the source's longhorn_bdev_create_cb, generalized from a fixed array
// lookup to a per-thread-name map.
func (v *Volume) OpenChannelSet(thread *threadctx.Thread) *ChannelSet {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cs, exists := v.channelSets[thread.Name()]; exists {
		return cs
	}

	cs := NewChannelSet(thread)
	for handle, r := range v.replicas {
		cs.AddSubChannel(handle, r.Device)
	}
	v.channelSets[thread.Name()] = cs
	v.quiesce.Register(cs)
	return cs
}

// CloseChannelSet tears down the ChannelSet for thread, mirroring
// longhorn_bdev_destroy_cb's num_io_channels decrement.
func (v *Volume) CloseChannelSet(thread *threadctx.Thread) {
	v.mu.Lock()
	cs, exists := v.channelSets[thread.Name()]
	if exists {
		delete(v.channelSets, thread.Name())
	}
	v.mu.Unlock()

	if exists {
		v.quiesce.Unregister(cs)
	}
}

// Pause posts a pause request across every open ChannelSet, invoking cb
// once all are drained.
func (v *Volume) Pause(ctx context.Context, cb PauseCallback) error {
	err := v.quiesce.Pause(ctx, cb)
	if err == nil {
		v.publish(events.EventVolumePaused, "volume paused")
	}
	return err
}

// Unpause clears the paused state on every open ChannelSet. Submissions
// are accepted while paused too, so this does not change I/O acceptance.
func (v *Volume) Unpause(ctx context.Context) error {
	err := v.quiesce.Unpause(ctx)
	if err == nil {
		v.publish(events.EventVolumeUnpaused, "volume unpaused")
	}
	return err
}

// Submit dispatches req through the ChannelSet owned by thread.
func (v *Volume) Submit(ctx context.Context, thread *threadctx.Thread, req *VolumeIO) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	v.mu.Lock()
	cs, ok := v.channelSets[thread.Name()]
	v.mu.Unlock()
	if !ok {
		return NewError(KindInvalidArgument, "volume %s: no channel set open on thread %s", v.Name, thread.Name())
	}
	return v.engine.Submit(ctx, cs, req)
}

// Deconfigure transitions an Online volume to Offline without tearing down
// discovered replicas. Only the state changes: open channel sets keep
// accepting I/O, since Submit does not check the state. Called on a volume that is not currently Online, it is a
// no-op success, mirroring longhorn_bdev_deconfigure.
func (v *Volume) Deconfigure(ctx context.Context) error {
	if !v.tryLockControl() {
		return NewError(KindBusy, "volume %s: control operation already in progress", v.Name)
	}
	defer v.unlockControl()

	v.mu.Lock()
	if v.state != StateOnline {
		v.mu.Unlock()
		return nil
	}
	v.state = StateOffline
	v.mu.Unlock()

	log.WithVolume(v.Name).Info().Msg("volume offline")
	v.publish(events.EventVolumeOffline, "volume offline")
	return nil
}

// Destruct releases every remove_scheduled replica's claim (or, under a
// global shutdown, every replica's) and always succeeds, mirroring
// longhorn_bdev_destruct: the original never fails this way, it simply
// leaves any replica not yet scheduled for removal in place for a later
// Destruct call. The volume is only considered fully torn down, and the
// destroyed event fired, once no discovered replicas remain.
func (v *Volume) Destruct(ctx context.Context, globalShutdown bool) error {
	v.mu.Lock()
	v.destructCalled = true
	v.shutdownStarted = v.shutdownStarted || globalShutdown
	replicas := make([]*BaseReplica, 0, len(v.replicas))
	for _, r := range v.replicas {
		if globalShutdown || r.RemoveScheduled() {
			replicas = append(replicas, r)
		}
	}
	v.mu.Unlock()

	for _, r := range replicas {
		if err := r.Close(ctx, nil); err != nil {
			log.WithVolume(v.Name).Warn().Err(err).Str("replica", r.Handle).Msg("error closing replica during destruct")
		}
		v.mu.Lock()
		delete(v.replicas, r.Handle)
		v.mu.Unlock()
	}

	v.mu.Lock()
	remaining := len(v.replicas)
	v.mu.Unlock()
	metrics.ReplicasDiscovered.WithLabelValues(v.Name).Set(float64(remaining))

	if remaining == 0 {
		metrics.VolumesTotal.WithLabelValues(v.State().String()).Dec()
		v.publish(events.EventVolumeDestroyed, "volume destroyed")
	}
	return nil
}

// DumpInfo returns an inspection snapshot matching the source's
// dump_info_json: state as its documented numeric ordinal, target and
// discovered replica counts, and the live channel set count.
type DumpInfo struct {
	Name               string `json:"name"`
	State              State  `json:"state"`
	TargetReplicas     int    `json:"target_replicas"`
	DiscoveredReplicas int    `json:"discovered_replicas"`
	NumChannelSets     int    `json:"num_channel_sets"`
	Paused             bool   `json:"paused"`
}

// DumpInfo produces a DumpInfo snapshot of the volume's current state.
func (v *Volume) DumpInfo() DumpInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	return DumpInfo{
		Name:               v.Name,
		State:              v.state,
		TargetReplicas:     v.TargetReplicas,
		DiscoveredReplicas: len(v.replicas),
		NumChannelSets:     len(v.channelSets),
		Paused:             v.quiesce.Paused(),
	}
}
