package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Dispatcher runs send tasks on their own goroutines with a cap on how many
// are in flight. A task that cannot get a slot within the queue timeout is
// rejected with ErrOverloaded.
type Dispatcher struct {
	sem          *semaphore.Weighted
	queueTimeout time.Duration
	inFlight     atomic.Int64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(maxInFlight int, queueTimeout time.Duration) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Dispatcher{
		sem:          semaphore.NewWeighted(int64(maxInFlight)),
		queueTimeout: queueTimeout,
	}
}

// Submit blocks until a slot is free, then runs task asynchronously.
func (d *Dispatcher) Submit(ctx context.Context, task func()) error {
	acquireCtx := ctx
	if d.queueTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, d.queueTimeout)
		defer cancel()
	}

	if err := d.sem.Acquire(acquireCtx, 1); err != nil {
		return ErrOverloaded
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.sem.Release(1)
		return ErrOverloaded
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.inFlight.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer d.inFlight.Add(-1)
		task()
	}()
	return nil
}

func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Shutdown stops accepting tasks and waits for running ones to finish or ctx
// to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
