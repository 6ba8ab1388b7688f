/*
Package volume implements a replicated block volume: an aggregate of base
replicas fanned out to through one ChannelSet per host thread, modeled on
SPDK's bdev_longhorn module.

# Architecture

	┌────────────────────────── Registry ───────────────────────────┐
	│  name -> *Volume, one entry per volume regardless of state     │
	└────────────────────────────┬────────────────────────────────────┘
	                             │
	            ┌────────────────▼─────────────────┐
	            │               Volume              │
	            │  state: Configuring/Online/Offline │
	            │  replicas: discovered BaseReplicas │
	            │  channelSets: one per host thread   │
	            └──┬──────────────┬──────────────┬──┘
	               │              │              │
	         ┌─────▼────┐   ┌─────▼────┐   ┌─────▼────┐
	         │ChannelSet│   │ChannelSet│   │ChannelSet│
	         │ thread A │   │ thread B │   │ thread C │
	         └─────┬────┘   └─────┬────┘   └─────┬────┘
	               │              │              │
	        one SubChannel per BaseReplica, every ChannelSet

# Lifecycle

 1. Registry.Create(Config) -> Volume in StateConfiguring, zero replicas
 2. AddReplica discovers a base replica; once discovered == target, the
    volume transitions to StateOnline
 3. OpenChannelSet(thread) gives a host thread a fan-out point with a
    SubChannel per currently discovered replica
 4. Submit(thread, VolumeIO) dispatches a read to one SubChannel
    (round-robin) or a write/flush/unmap/reset to every SubChannel,
    reducing to the first failure
 5. Pause/Unpause quiesce every ChannelSet before a control-plane change;
    the queued callback fires once every ChannelSet reports drained
 6. RemoveReplica / the base device's REMOVE event schedule a replica for
    removal. RemoveReplica drops its SubChannel from every ChannelSet before
    closing its Device; on an Online volume the REMOVE event instead
    deconfigures and destructs the volume, which closes the Device without
    first dropping its SubChannels
 7. Deconfigure moves the volume to StateOffline; Destruct releases
    remaining replica claims (all of them, under a global shutdown) and
    frees the volume once discovered reaches zero

# Concurrency

A BaseReplica's Device is opened on the goroutine that calls AddReplica,
and SubChannels are added to and dropped from ChannelSets directly by the
calling goroutine, under the Volume's mutex and each ChannelSet's own
mutex; these mutations are not dispatched to the ChannelSet's thread.
threadctx.Thread is used for two things: pause/unpause is posted to each
ChannelSet's thread, and BaseReplica.Close runs on the replica's origin
thread through Send when called from another thread. On top of the
mutexes, the control-plane try-lock (Volume.tryLockControl) serializes
structural changes like AddReplica/RemoveReplica against each other; a
caller racing an in-progress control op gets KindBusy back immediately
instead of blocking. Destruct does not take the try-lock.

# Error Handling

Every operation returns a *volume.Error wrapping one of a small closed set
of Kind values (see errors.go). Control.go's Controller is the thin
orchestration layer cmd/bdevd drives; it never introduces new error kinds
of its own, only forwards the ones Volume and Registry produce.
*/
package volume
