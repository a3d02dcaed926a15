package taskq

import (
	"context"
	"sync"
	"sync/atomic"
)

// Latch is a counting rendezvous: goroutines calling Wait block until the counter drops to zero.
// Tasks that must complete before the waiter proceeds each call Down once.
//
// Once the counter reaches zero every current and future waiter is released, until the counter
// is raised again with Up, Add or Reset. A counter driven below zero by extra calls to Down
// also reads as released.
type Latch struct {
	mu    sync.Mutex
	count atomic.Int64

	// Closed while count <= 0
	released chan struct{}
}

// NewLatch creates a latch expecting count calls to Down. A count of zero creates a released latch.
func NewLatch(count int) *Latch {
	l := &Latch{
		released: make(chan struct{}),
	}
	l.count.Store(int64(count))
	l.settle()

	return l
}

// Down decrements the counter by one and releases all waiters if it reaches zero
func (l *Latch) Down() {
	l.Add(-1)
}

// Up increments the counter by one. It lets a producer fan out more tasks than it announced upfront.
func (l *Latch) Up() {
	l.Add(1)
}

// Add adds delta, which may be negative, to the counter
func (l *Latch) Add(delta int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count.Add(int64(delta))
	l.settle()
}

// Reset sets the counter to count. It must not be called while other goroutines
// are waiting on or decrementing the latch.
func (l *Latch) Reset(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count.Store(int64(count))
	l.settle()
}

// Count returns the current value of the counter
func (l *Latch) Count() int {
	return int(l.count.Load())
}

// Done returns a channel that is closed once the counter has reached zero
func (l *Latch) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.released
}

// Wait blocks until the counter reaches zero. It returns immediately if it already has.
func (l *Latch) Wait() {
	<-l.Done()
}

// WaitContext blocks until the counter reaches zero or ctx is done, whichever happens first.
func (l *Latch) WaitContext(ctx context.Context) error {
	done := l.Done()

	// A released latch wins over a cancelled context
	select {
	case <-done:
		return nil
	default:
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle opens or closes the released channel to match the counter.
//
// LOCKS_REQUIRED(l.mu)
func (l *Latch) settle() {
	count := l.count.Load()

	select {
	case <-l.released:
		if count > 0 {
			// Re-arm for waiters arriving from now on
			l.released = make(chan struct{})
		}
	default:
		if count <= 0 {
			close(l.released)
		}
	}
}
