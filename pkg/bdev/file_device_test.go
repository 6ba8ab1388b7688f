package bdev

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func TestFileDeviceWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replica-0.img")
	dev := NewFileDevice("replica-0", path, DefaultBlockSize, 16)

	if err := dev.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close(ctx)

	want := bytes.Repeat([]byte{0xAB}, DefaultBlockSize*2)
	if err := dev.SubmitWrite(ctx, 3, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make([]byte, DefaultBlockSize*2)
	if err := dev.SubmitRead(ctx, 3, got); err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(want, got) {
		t.Fatalf("read back %x, want %x", got, want)
	}
}

func TestFileDeviceOutOfBoundsRejected(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replica-0.img")
	dev := NewFileDevice("replica-0", path, DefaultBlockSize, 4)
	if err := dev.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close(ctx)

	buf := make([]byte, DefaultBlockSize*2)
	if err := dev.SubmitRead(ctx, 3, buf); err == nil {
		t.Fatal("expected out-of-bounds read to fail")
	}
}

func TestFileDeviceClaimExclusive(t *testing.T) {
	dev := NewFileDevice("replica-0", filepath.Join(t.TempDir(), "r.img"), DefaultBlockSize, 4)

	if err := dev.Claim("vol-a"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := dev.Claim("vol-b"); err == nil {
		t.Fatal("expected second claim by a different owner to fail")
	}
	if err := dev.Claim("vol-a"); err != nil {
		t.Fatalf("re-claim by same owner should succeed: %v", err)
	}

	dev.Release()
	if err := dev.Claim("vol-b"); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestFileDeviceSimulateRemoveFiresCallback(t *testing.T) {
	ctx := context.Background()
	dev := NewFileDevice("replica-0", filepath.Join(t.TempDir(), "r.img"), DefaultBlockSize, 4)
	if err := dev.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	fired := make(chan struct{}, 1)
	dev.OnRemove(func() { fired <- struct{}{} })

	dev.SimulateRemove()

	select {
	case <-fired:
	default:
		t.Fatal("remove callback did not fire")
	}

	buf := make([]byte, DefaultBlockSize)
	if err := dev.SubmitRead(ctx, 0, buf); err != ErrRemoved {
		t.Fatalf("got %v, want ErrRemoved", err)
	}
}

func TestFileDeviceOnRemoveAfterRemovalFiresImmediately(t *testing.T) {
	dev := NewFileDevice("replica-0", filepath.Join(t.TempDir(), "r.img"), DefaultBlockSize, 4)
	dev.SimulateRemove()

	fired := false
	dev.OnRemove(func() { fired = true })
	if !fired {
		t.Fatal("expected late OnRemove registration to fire immediately")
	}
}
