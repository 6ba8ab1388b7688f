package volume

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/repvol/pkg/bdev"
)

func newControlTestDevice(t *testing.T, name string) *bdev.FileDevice {
	t.Helper()
	return bdev.NewFileDevice(name, filepath.Join(t.TempDir(), name+".img"), bdev.DefaultBlockSize, 16)
}

func TestControllerCreateAddReplicaLifecycle(t *testing.T) {
	ctx := context.Background()
	ctl := NewController(NewRegistry(nil))
	defer ctl.Shutdown(ctx)

	if _, err := ctl.Create(Config{Name: "vol0", BlockSize: bdev.DefaultBlockSize, NumBlocks: 16, TargetReplicas: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := ctl.AddReplica(ctx, "vol0", "r0", ReplicaLocal, "", newControlTestDevice(t, "r0"))
	if err != nil {
		t.Fatalf("add replica: %v", err)
	}

	info, err := ctl.Inspect("vol0")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.State != StateOnline || info.DiscoveredReplicas != 1 {
		t.Fatalf("unexpected inspect result: %+v", info)
	}
}

func TestControllerListReturnsAllVolumes(t *testing.T) {
	ctx := context.Background()
	ctl := NewController(NewRegistry(nil))
	defer ctl.Shutdown(ctx)

	for _, name := range []string{"a", "b", "c"} {
		if _, err := ctl.Create(Config{Name: name, BlockSize: bdev.DefaultBlockSize, NumBlocks: 16, TargetReplicas: 1}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	if got := len(ctl.List()); got != 3 {
		t.Fatalf("List returned %d entries, want 3", got)
	}
}

func TestControllerRemoveReplicaThenRemoveVolume(t *testing.T) {
	ctx := context.Background()
	ctl := NewController(NewRegistry(nil))
	defer ctl.Shutdown(ctx)

	if _, err := ctl.Create(Config{Name: "vol0", BlockSize: bdev.DefaultBlockSize, NumBlocks: 16, TargetReplicas: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ctl.AddReplica(ctx, "vol0", "r0", ReplicaLocal, "", newControlTestDevice(t, "r0")); err != nil {
		t.Fatalf("add replica: %v", err)
	}

	if err := ctl.RemoveReplica(ctx, "vol0", "r0", ""); err != nil {
		t.Fatalf("remove replica: %v", err)
	}

	if err := ctl.Remove(ctx, "vol0"); err != nil {
		t.Fatalf("remove volume: %v", err)
	}

	if _, err := ctl.Inspect("vol0"); !kindIs(err, KindNotFound) {
		t.Fatalf("got %v, want KindNotFound after Remove", err)
	}
}

func TestControllerPauseUnpause(t *testing.T) {
	ctx := context.Background()
	ctl := NewController(NewRegistry(nil))
	defer ctl.Shutdown(ctx)

	if _, err := ctl.Create(Config{Name: "vol0", BlockSize: bdev.DefaultBlockSize, NumBlocks: 16, TargetReplicas: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}

	done := make(chan struct{})
	if err := ctl.Pause(ctx, "vol0", func() { close(done) }); err != nil {
		t.Fatalf("pause: %v", err)
	}
	<-done

	if err := ctl.Unpause(ctx, "vol0"); err != nil {
		t.Fatalf("unpause: %v", err)
	}
}

func TestControllerOperationsOnMissingVolume(t *testing.T) {
	ctx := context.Background()
	ctl := NewController(NewRegistry(nil))
	defer ctl.Shutdown(ctx)

	if err := ctl.AddReplica(ctx, "nope", "r0", ReplicaLocal, "", newControlTestDevice(t, "r0")); !kindIs(err, KindNotFound) {
		t.Fatalf("add replica on missing volume: got %v, want KindNotFound", err)
	}
	if _, err := ctl.Inspect("nope"); !kindIs(err, KindNotFound) {
		t.Fatalf("inspect missing volume: got %v, want KindNotFound", err)
	}
}
