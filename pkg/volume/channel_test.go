package volume

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/repvol/pkg/bdev"
	"github.com/cuemby/repvol/pkg/threadctx"
)

func newTestThread(t *testing.T) *threadctx.Thread {
	t.Helper()
	return threadctx.New("disk0", 4)
}

func kindIs(err error, want Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == want
}

func newTestDevice(t *testing.T, name string) *bdev.FileDevice {
	t.Helper()
	dev := bdev.NewFileDevice(name, filepath.Join(t.TempDir(), name+".img"), bdev.DefaultBlockSize, 16)
	if err := dev.Open(context.Background()); err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	t.Cleanup(func() { dev.Close(context.Background()) })
	return dev
}

func TestChannelSetReadRoundRobin(t *testing.T) {
	th := threadctx.New("t0", 1)
	defer th.Stop()

	cs := NewChannelSet(th)
	cs.AddSubChannel("r0", newTestDevice(t, "r0"))
	cs.AddSubChannel("r1", newTestDevice(t, "r1"))
	cs.AddSubChannel("r2", newTestDevice(t, "r2"))

	var seen []string
	for i := 0; i < 6; i++ {
		sc, ok := cs.NextReadTarget()
		if !ok {
			t.Fatal("expected a read target")
		}
		seen = append(seen, sc.ReplicaHandle)
	}

	want := []string{"r0", "r1", "r2", "r0", "r1", "r2"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("read order = %v, want %v", seen, want)
		}
	}
}

func TestChannelSetRemoveClearsHint(t *testing.T) {
	th := threadctx.New("t0", 1)
	defer th.Stop()

	cs := NewChannelSet(th)
	cs.AddSubChannel("r0", newTestDevice(t, "r0"))
	cs.AddSubChannel("r1", newTestDevice(t, "r1"))

	// Advance the hint so it points at r1.
	if _, ok := cs.NextReadTarget(); !ok {
		t.Fatal("expected a read target")
	}

	cs.RemoveSubChannel("r1")

	sc, ok := cs.NextReadTarget()
	if !ok {
		t.Fatal("expected a surviving read target")
	}
	if sc.ReplicaHandle != "r0" {
		t.Fatalf("got %s, want r0 after removing the hinted replica", sc.ReplicaHandle)
	}
}

// TestChannelSetRemoveShiftsHintPastRemoval covers the case where the
// round-robin read hint points past the removed replica rather than at it:
// removing an earlier replica must shift the hint left by one so the next
// read still lands on the same surviving replica it was about to, instead
// of skipping one.
func TestChannelSetRemoveShiftsHintPastRemoval(t *testing.T) {
	th := threadctx.New("t0", 1)
	defer th.Stop()

	cs := NewChannelSet(th)
	for _, handle := range []string{"a", "b", "c", "d", "e"} {
		cs.AddSubChannel(handle, newTestDevice(t, handle))
	}

	// Advance the hint three times so it next targets "d".
	for i := 0; i < 3; i++ {
		if _, ok := cs.NextReadTarget(); !ok {
			t.Fatal("expected a read target")
		}
	}

	cs.RemoveSubChannel("b")

	sc, ok := cs.NextReadTarget()
	if !ok {
		t.Fatal("expected a surviving read target")
	}
	if sc.ReplicaHandle != "d" {
		t.Fatalf("got %s, want d after removing an earlier replica", sc.ReplicaHandle)
	}
}

func TestChannelSetNoSubChannelsRejectsRead(t *testing.T) {
	th := threadctx.New("t0", 1)
	defer th.Stop()

	cs := NewChannelSet(th)
	if _, ok := cs.NextReadTarget(); ok {
		t.Fatal("expected no read target on an empty channel set")
	}
}

func TestChannelSetPauseDrainsImmediatelyWhenIdle(t *testing.T) {
	th := threadctx.New("t0", 1)
	defer th.Stop()

	cs := NewChannelSet(th)
	cs.Pause()

	if !cs.PauseComplete() {
		t.Fatal("expected pause to complete immediately on an idle channel set")
	}
}

func TestChannelSetPauseWaitsForInFlightIO(t *testing.T) {
	th := threadctx.New("t0", 1)
	defer th.Stop()

	cs := NewChannelSet(th)
	cs.beginIO()
	cs.Pause()

	if cs.PauseComplete() {
		t.Fatal("pause should not complete while an I/O is in flight")
	}

	cs.endIO()

	if !cs.PauseComplete() {
		t.Fatal("pause should complete once the in-flight I/O finishes")
	}
}
