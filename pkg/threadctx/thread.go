// Package threadctx realizes the "host thread" concurrency model used by
// the volume module: a single goroutine owns a piece of state, and every
// other goroutine that wants to touch it does so by posting a closure onto
// that goroutine's mailbox instead of taking a lock. The pattern is a
// generalization of the broadcast run-loop in pkg/events.Broker: instead of
// one fixed kind of message (an *events.Event broadcast to subscribers), a
// Thread's mailbox carries arbitrary closures, which gives callers the same
// single-writer discipline the volume state machine's invariants depend on.
package threadctx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Thread is a named goroutine with a mailbox of closures. Code that must
// run with exclusive access to some piece of per-thread state posts a
// closure via Post or Send; the Thread's run loop executes posted closures
// one at a time, in the order they arrived.
type Thread struct {
	name    string
	mailbox chan func()
	done    chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// New starts a new Thread with the given name and mailbox depth. A depth
// of 0 makes every Post a synchronous handoff to the run loop.
func New(name string, depth int) *Thread {
	t := &Thread{
		name:    name,
		mailbox: make(chan func(), depth),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Name returns the thread's name, used for log.WithThread and dump_info_json
// style inspection output.
func (t *Thread) Name() string {
	return t.name
}

func (t *Thread) run() {
	defer t.wg.Done()
	for {
		select {
		case fn := <-t.mailbox:
			fn()
		case <-t.done:
			// Drain whatever is already queued before exiting so a Stop
			// racing with in-flight Posts never silently drops work.
			for {
				select {
				case fn := <-t.mailbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post enqueues fn to run on the thread and returns immediately without
// waiting for it to execute. It returns an error if the thread has already
// been stopped.
func (t *Thread) Post(fn func()) error {
	if t.closed.Load() {
		return fmt.Errorf("thread %s: post after stop", t.name)
	}
	select {
	case t.mailbox <- fn:
		return nil
	case <-t.done:
		return fmt.Errorf("thread %s: post after stop", t.name)
	}
}

// Send enqueues fn and blocks until it has run (or ctx is done), mirroring
// a synchronous cross-thread call. Errors returned by fn are propagated to
// the caller. Unlike Post, Send also honors ctx while the mailbox itself is
// full or the thread is busy, so a caller can bound how long it waits to
// even hand off the closure.
func (t *Thread) Send(ctx context.Context, fn func() error) error {
	if t.closed.Load() {
		return fmt.Errorf("thread %s: send after stop", t.name)
	}

	resultCh := make(chan error, 1)
	wrapped := func() { resultCh <- fn() }

	select {
	case t.mailbox <- wrapped:
	case <-t.done:
		return fmt.Errorf("thread %s: send after stop", t.name)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the run loop to drain its mailbox and exit, then blocks
// until it has done so. Stop is idempotent.
func (t *Thread) Stop() {
	if t.closed.CompareAndSwap(false, true) {
		close(t.done)
	}
	t.wg.Wait()
}
