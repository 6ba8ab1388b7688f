package threadctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPostRunsInOrder(t *testing.T) {
	th := New("test-order", 16)
	defer th.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		if err := th.Post(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("out-of-order execution: %v", order)
		}
	}
}

func TestSendPropagatesError(t *testing.T) {
	th := New("test-send", 4)
	defer th.Stop()

	wantErr := errors.New("boom")
	err := th.Send(context.Background(), func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestPostAfterStopFails(t *testing.T) {
	th := New("test-stop", 4)
	th.Stop()

	if err := th.Post(func() {}); err == nil {
		t.Fatal("expected error posting to a stopped thread")
	}
}

func TestSendRespectsContextDeadline(t *testing.T) {
	th := New("test-deadline", 0)
	defer th.Stop()

	// Occupy the thread with a closure that blocks past the deadline.
	block := make(chan struct{})
	if err := th.Post(func() {
		<-block
	}); err != nil {
		t.Fatalf("post: %v", err)
	}
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := th.Send(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}
