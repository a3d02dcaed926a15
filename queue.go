package taskq

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/jacobsa/syncutil"
)

var (
	// ErrQueueFull is returned by Push when a bounded queue already holds as many items as its capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueEmpty is returned by TryPop when there is no item to take
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrPopTimeout is returned by Pop when no item arrived before the timeout elapsed
	ErrPopTimeout = errors.New("timed out waiting for an item")
)

// popper is a goroutine blocked in Pop. Items are handed to it through ready.
type popper[T any] struct {
	ready chan T
}

// Queue is a FIFO queue that can be written to and read from concurrently.
// A positive capacity bounds the number of items it holds, pushes beyond that bound
// are rejected rather than blocked.
// A Queue must not be copied after first use.
type Queue[T any] struct {
	capacity int

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// INVARIANT: capacity <= 0 || items.Len() <= capacity
	// INVARIANT: items.Len() == length.Load()
	items *deque.Deque[T]

	// Goroutines blocked in Pop, oldest first.
	//
	// INVARIANT: Each element is of type *popper[T]
	// INVARIANT: waiters.Len() == 0 || items.Len() == 0
	waiters list.List

	length        atomic.Int64
	pushedCount   atomic.Uint64
	poppedCount   atomic.Uint64
	rejectedCount atomic.Uint64
}

// NewQueue creates a queue that holds at most capacity items.
// A capacity of zero or less means the queue is unbounded.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}

	q := &Queue[T]{
		capacity: capacity,
		items:    deque.New[T](),
	}
	q.mu = syncutil.NewInvariantMutex(q.checkInvariants)

	return q
}

// Push appends an item to the tail of the queue. If a goroutine is blocked in Pop,
// the item is handed to the one that has been waiting the longest.
// It returns ErrQueueFull if the queue is bounded and full, in which case the item is not enqueued.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Waiters only exist while the queue is empty, so this item is the oldest one
	if front := q.waiters.Front(); front != nil {
		waiter := q.waiters.Remove(front).(*popper[T])
		waiter.ready <- item
		q.pushedCount.Add(1)
		q.poppedCount.Add(1)
		return nil
	}

	if q.capacity > 0 && q.items.Len() >= q.capacity {
		q.rejectedCount.Add(1)
		return ErrQueueFull
	}

	q.items.PushBack(item)
	q.length.Add(1)
	q.pushedCount.Add(1)

	return nil
}

// Pop removes and returns the item at the head of the queue, waiting for one to be pushed if the queue is empty.
// A timeout of zero or less waits indefinitely. Otherwise ErrPopTimeout is returned if no item arrived in time.
func (q *Queue[T]) Pop(timeout time.Duration) (T, error) {
	return q.PopContext(context.Background(), timeout)
}

// PopContext behaves like Pop but also gives up, returning the context's error, when ctx is done.
func (q *Queue[T]) PopContext(ctx context.Context, timeout time.Duration) (item T, err error) {
	done := ctx.Done()

	// Prioritize context cancellation
	select {
	case <-done:
		return item, ctx.Err()
	default:
	}

	q.mu.Lock()

	if q.items.Len() > 0 {
		item = q.popFront()
		q.mu.Unlock()
		return item, nil
	}

	waiter := &popper[T]{
		ready: make(chan T, 1),
	}
	elem := q.waiters.PushBack(waiter)
	q.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case item = <-waiter.ready:
		return item, nil
	case <-expired:
		err = ErrPopTimeout
	case <-done:
		err = ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case item = <-waiter.ready:
		// An item was handed over after we gave up. Take it rather than drop it.
		return item, nil
	default:
	}

	q.waiters.Remove(elem)

	return item, err
}

// TryPop removes and returns the item at the head of the queue without waiting.
// It returns ErrQueueEmpty if there is no item.
func (q *Queue[T]) TryPop() (item T, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return item, ErrQueueEmpty
	}

	return q.popFront(), nil
}

// Len returns the number of items currently in the queue.
// The value is a snapshot and may be stale by the time it is used.
func (q *Queue[T]) Len() int {
	return int(q.length.Load())
}

// Empty reports whether the queue currently holds no items. Like Len, it is advisory.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Cap returns the capacity of the queue, or 0 if it is unbounded
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// PushedCount returns the number of items pushed to the queue since it was created
func (q *Queue[T]) PushedCount() uint64 {
	return q.pushedCount.Load()
}

// PoppedCount returns the number of items popped from the queue since it was created
func (q *Queue[T]) PoppedCount() uint64 {
	return q.poppedCount.Load()
}

// RejectedCount returns the number of pushes rejected with ErrQueueFull since the queue was created
func (q *Queue[T]) RejectedCount() uint64 {
	return q.rejectedCount.Load()
}

// LOCKS_REQUIRED(q.mu)
func (q *Queue[T]) popFront() T {
	item := q.items.PopFront()
	q.length.Add(-1)
	q.poppedCount.Add(1)
	return item
}

// LOCKS_REQUIRED(q.mu)
func (q *Queue[T]) checkInvariants() {
	if q.capacity > 0 && q.items.Len() > q.capacity {
		panic(fmt.Sprintf("queue holds %d items, capacity is %d", q.items.Len(), q.capacity))
	}

	if int64(q.items.Len()) != q.length.Load() {
		panic(fmt.Sprintf("queue length mismatch: %d vs %d", q.items.Len(), q.length.Load()))
	}

	if q.waiters.Len() > 0 && q.items.Len() > 0 {
		panic(fmt.Sprintf("%d poppers waiting on a queue holding %d items", q.waiters.Len(), q.items.Len()))
	}
}
