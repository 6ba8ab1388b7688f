package volume

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/repvol/pkg/threadctx"
)

func TestQuiesceControllerFiresCallbackWhenIdle(t *testing.T) {
	th := threadctx.New("t0", 4)
	defer th.Stop()

	cs := NewChannelSet(th)
	qc := NewQuiesceController("vol0")
	qc.Register(cs)

	done := make(chan struct{})
	if err := qc.Pause(context.Background(), func() { close(done) }); err != nil {
		t.Fatalf("pause: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired for an idle channel set")
	}

	if !qc.Paused() {
		t.Fatal("expected controller to report paused")
	}
}

func TestQuiesceControllerWaitsForDrain(t *testing.T) {
	th := threadctx.New("t0", 4)
	defer th.Stop()

	cs := NewChannelSet(th)
	cs.beginIO()

	qc := NewQuiesceController("vol0")
	qc.Register(cs)

	done := make(chan struct{})
	if err := qc.Pause(context.Background(), func() { close(done) }); err != nil {
		t.Fatalf("pause: %v", err)
	}

	select {
	case <-done:
		t.Fatal("callback fired before the in-flight I/O drained")
	case <-time.After(50 * time.Millisecond):
	}

	cs.endIO()
	qc.evaluate()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired after the channel set drained")
	}
}

func TestQuiesceControllerFIFOOrder(t *testing.T) {
	th := threadctx.New("t0", 4)
	defer th.Stop()

	cs := NewChannelSet(th)
	cs.beginIO()

	qc := NewQuiesceController("vol0")
	qc.Register(cs)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if err := qc.Pause(context.Background(), func() { order = append(order, i) }); err != nil {
			t.Fatalf("pause %d: %v", i, err)
		}
	}

	cs.endIO()
	qc.evaluate()

	if len(order) != 3 {
		t.Fatalf("got %d callbacks, want 3", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("callback order = %v, want [0 1 2]", order)
		}
	}
}

func TestQuiesceControllerUnpauseClearsState(t *testing.T) {
	th := threadctx.New("t0", 4)
	defer th.Stop()

	cs := NewChannelSet(th)
	qc := NewQuiesceController("vol0")
	qc.Register(cs)

	if err := qc.Pause(context.Background(), func() {}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !qc.Paused() {
		t.Fatal("expected paused")
	}

	if err := qc.Unpause(context.Background()); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if qc.Paused() {
		t.Fatal("expected unpaused after Unpause")
	}
}
