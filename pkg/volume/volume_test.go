package volume

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/repvol/pkg/bdev"
	"github.com/cuemby/repvol/pkg/threadctx"
)

func newReplica(t *testing.T, handle string, originThread *threadctx.Thread) *BaseReplica {
	t.Helper()
	dev := bdev.NewFileDevice(handle, filepath.Join(t.TempDir(), handle+".img"), bdev.DefaultBlockSize, 16)
	return NewBaseReplica(handle, ReplicaLocal, "", dev, originThread)
}

func TestVolumeTransitionsOnlineOnceTargetReached(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 2, nil)

	if vol.State() != StateConfiguring {
		t.Fatalf("initial state = %v, want Configuring", vol.State())
	}

	th := threadctx.New("disk0", 4)
	defer th.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", th)); err != nil {
		t.Fatalf("add r0: %v", err)
	}
	if vol.State() != StateConfiguring {
		t.Fatalf("state after first replica = %v, want still Configuring", vol.State())
	}

	if err := vol.AddReplica(ctx, newReplica(t, "r1", th)); err != nil {
		t.Fatalf("add r1: %v", err)
	}
	if vol.State() != StateOnline {
		t.Fatalf("state after target replicas = %v, want Online", vol.State())
	}
	if vol.DiscoveredReplicas() != 2 {
		t.Fatalf("discovered = %d, want 2", vol.DiscoveredReplicas())
	}
}

func TestVolumeAddReplicaRejectsDuplicateHandle(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 2, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", th)); err != nil {
		t.Fatalf("add r0: %v", err)
	}
	err := vol.AddReplica(ctx, newReplica(t, "r0", th))
	if err == nil || !kindIs(err, KindDuplicateName) {
		t.Fatalf("got %v, want KindDuplicateName", err)
	}
}

func TestVolumeAddReplicaRejectsPastTarget(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", th)); err != nil {
		t.Fatalf("add r0: %v", err)
	}
	err := vol.AddReplica(ctx, newReplica(t, "r1", th))
	if err == nil || !kindIs(err, KindInvalidArgument) {
		t.Fatalf("got %v, want KindInvalidArgument", err)
	}
}

func TestVolumeAddReplicaRejectsGeometryMismatch(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 64, 1, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	r := newReplica(t, "r0", th) // only 16 blocks, volume wants 64
	err := vol.AddReplica(ctx, r)
	if err == nil || !kindIs(err, KindInvalidGeometry) {
		t.Fatalf("got %v, want KindInvalidGeometry", err)
	}
}

func TestVolumeOpenChannelSetPrePopulatesExistingReplicas(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	diskThread := threadctx.New("disk0", 4)
	defer diskThread.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", diskThread)); err != nil {
		t.Fatalf("add r0: %v", err)
	}

	ioThread := threadctx.New("io0", 4)
	defer ioThread.Stop()

	cs := vol.OpenChannelSet(ioThread)
	if len(cs.SubChannels()) != 1 {
		t.Fatalf("got %d sub-channels, want 1", len(cs.SubChannels()))
	}

	if vol.NumChannelSets() != 1 {
		t.Fatalf("NumChannelSets = %d, want 1", vol.NumChannelSets())
	}
	if vol.OpenChannelSet(ioThread) != cs {
		t.Fatal("OpenChannelSet should return the same ChannelSet for the same thread")
	}
}

func TestVolumeSubmitRoundTrip(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	diskThread := threadctx.New("disk0", 4)
	defer diskThread.Stop()

	r := newReplica(t, "r0", diskThread)
	if err := vol.AddReplica(ctx, r); err != nil {
		t.Fatalf("add r0: %v", err)
	}

	ioThread := threadctx.New("io0", 4)
	defer ioThread.Stop()
	vol.OpenChannelSet(ioThread)

	payload := bytes.Repeat([]byte{0x7}, bdev.DefaultBlockSize)
	if err := vol.Submit(ctx, ioThread, &VolumeIO{Op: bdev.OpWrite, OffsetBlocks: 0, Buf: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, bdev.DefaultBlockSize)
	if err := vol.Submit(ctx, ioThread, &VolumeIO{Op: bdev.OpRead, OffsetBlocks: 0, Buf: buf}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatal("round trip mismatch")
	}
}

func TestVolumeSubmitWithoutChannelSetFails(t *testing.T) {
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	ioThread := threadctx.New("io0", 4)
	defer ioThread.Stop()

	err := vol.Submit(context.Background(), ioThread, &VolumeIO{Op: bdev.OpFlush})
	if err == nil || !kindIs(err, KindInvalidArgument) {
		t.Fatalf("got %v, want KindInvalidArgument", err)
	}
}

func TestVolumeRemoveReplicaDropsSubChannels(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	diskThread := threadctx.New("disk0", 4)
	defer diskThread.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", diskThread)); err != nil {
		t.Fatalf("add r0: %v", err)
	}

	ioThread := threadctx.New("io0", 4)
	defer ioThread.Stop()
	cs := vol.OpenChannelSet(ioThread)

	if err := vol.RemoveReplica(ctx, "r0", ioThread); err != nil {
		t.Fatalf("remove r0: %v", err)
	}
	if vol.DiscoveredReplicas() != 0 {
		t.Fatalf("discovered = %d, want 0", vol.DiscoveredReplicas())
	}
	if len(cs.SubChannels()) != 0 {
		t.Fatalf("sub-channels = %d, want 0", len(cs.SubChannels()))
	}
}

func TestVolumeDestructLeavesUnscheduledReplicas(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", th)); err != nil {
		t.Fatalf("add r0: %v", err)
	}

	if err := vol.Destruct(ctx, false); err != nil {
		t.Fatalf("destruct should never fail, got %v", err)
	}
	if vol.DiscoveredReplicas() != 1 {
		t.Fatalf("discovered = %d, want 1 (r0 was never scheduled for removal)", vol.DiscoveredReplicas())
	}
}

func TestVolumeRemoveTearsDownLiveReplicas(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", th)); err != nil {
		t.Fatalf("add r0: %v", err)
	}
	if vol.State() != StateOnline {
		t.Fatalf("state = %v, want Online", vol.State())
	}

	if err := vol.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if vol.DiscoveredReplicas() != 0 {
		t.Fatalf("discovered = %d, want 0 after Remove", vol.DiscoveredReplicas())
	}
	if vol.State() != StateOffline {
		t.Fatalf("state = %v, want Offline after Remove", vol.State())
	}
}

func TestVolumeRemoveTwiceReturnsAlreadyDestroying(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", th)); err != nil {
		t.Fatalf("add r0: %v", err)
	}
	if err := vol.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}

	err := vol.Remove(ctx)
	if err == nil || !kindIs(err, KindAlreadyDestroying) {
		t.Fatalf("got %v, want KindAlreadyDestroying on a repeat remove", err)
	}
}

// TestVolumeReplicaRemoveEventDeconfiguresOnlineVolume exercises the async
// base-device REMOVE path via Volume.AddReplica's OnRemove registration,
// rather than the Engine/I-O layer: an unsolicited removal on a live
// replica of an Online volume must take the whole volume offline instead
// of quietly shrinking its fan-out.
func TestVolumeReplicaRemoveEventDeconfiguresOnlineVolume(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	r := newReplica(t, "r0", th)
	if err := vol.AddReplica(ctx, r); err != nil {
		t.Fatalf("add r0: %v", err)
	}
	if vol.State() != StateOnline {
		t.Fatalf("state = %v, want Online", vol.State())
	}

	r.Device.(*bdev.FileDevice).SimulateRemove()

	if vol.State() != StateOffline {
		t.Fatalf("state = %v, want Offline after replica r0 was removed out from under it", vol.State())
	}
	if !r.RemoveScheduled() {
		t.Fatal("expected r0 to be marked remove_scheduled")
	}
}

// TestVolumeReplicaRemoveEventWhileConfiguringReleasesImmediately covers
// the other branch of the REMOVE event handler: a replica lost before the
// volume ever reaches Online is released immediately rather than
// deconfiguring a volume that was never up.
func TestVolumeReplicaRemoveEventWhileConfiguringReleasesImmediately(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 2, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	r := newReplica(t, "r0", th)
	if err := vol.AddReplica(ctx, r); err != nil {
		t.Fatalf("add r0: %v", err)
	}
	if vol.State() != StateConfiguring {
		t.Fatalf("state = %v, want Configuring with only 1 of 2 target replicas discovered", vol.State())
	}

	r.Device.(*bdev.FileDevice).SimulateRemove()

	if vol.DiscoveredReplicas() != 0 {
		t.Fatalf("r0 was never released, discovered = %d", vol.DiscoveredReplicas())
	}
	if vol.State() != StateConfiguring {
		t.Fatalf("state = %v, want still Configuring", vol.State())
	}
}

func TestVolumeDestructGlobalShutdownIgnoresScheduling(t *testing.T) {
	ctx := context.Background()
	vol := New("vol0", bdev.DefaultBlockSize, 16, 1, nil)
	th := threadctx.New("disk0", 4)
	defer th.Stop()

	if err := vol.AddReplica(ctx, newReplica(t, "r0", th)); err != nil {
		t.Fatalf("add r0: %v", err)
	}

	if err := vol.Destruct(ctx, true); err != nil {
		t.Fatalf("destruct under global shutdown: %v", err)
	}
	if vol.DiscoveredReplicas() != 0 {
		t.Fatalf("discovered = %d, want 0 after global shutdown destruct", vol.DiscoveredReplicas())
	}
}

func TestVolumeDumpInfo(t *testing.T) {
	vol := New("vol0", bdev.DefaultBlockSize, 16, 3, nil)
	info := vol.DumpInfo()
	if info.Name != "vol0" || info.State != StateConfiguring || info.TargetReplicas != 3 {
		t.Fatalf("unexpected DumpInfo: %+v", info)
	}
}
