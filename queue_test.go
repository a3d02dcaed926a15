package taskq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	syncutil.EnableInvariantChecking()
}

func TestQueuePushPopIsFIFO(t *testing.T) {
	queue := NewQueue[int](0)

	for i := 0; i < 100; i++ {
		require.NoError(t, queue.Push(i))
	}
	assert.Equal(t, 100, queue.Len())

	for i := 0; i < 100; i++ {
		item, err := queue.Pop(time.Second)
		require.NoError(t, err)
		assert.Equal(t, i, item)
	}

	assert.True(t, queue.Empty())
	assert.Equal(t, uint64(100), queue.PushedCount())
	assert.Equal(t, uint64(100), queue.PoppedCount())
}

func TestQueueRejectsPushBeyondCapacity(t *testing.T) {
	queue := NewQueue[string](2)

	require.NoError(t, queue.Push("a"))
	require.NoError(t, queue.Push("b"))

	err := queue.Push("c")

	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, queue.Len())
	assert.Equal(t, uint64(1), queue.RejectedCount())
	assert.Equal(t, uint64(2), queue.PushedCount())

	// Room frees up once an item is taken
	item, err := queue.TryPop()
	require.NoError(t, err)
	assert.Equal(t, "a", item)
	assert.NoError(t, queue.Push("c"))
}

func TestQueueWithNonPositiveCapacityIsUnbounded(t *testing.T) {
	for _, capacity := range []int{0, -1, -100} {
		queue := NewQueue[int](capacity)

		for i := 0; i < 1000; i++ {
			require.NoError(t, queue.Push(i))
		}

		assert.Equal(t, 0, queue.Cap())
		assert.Equal(t, 1000, queue.Len())
	}
}

func TestQueuePopTimesOutOnEmptyQueue(t *testing.T) {
	queue := NewQueue[int](0)

	start := time.Now()
	_, err := queue.Pop(20 * time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrPopTimeout)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.True(t, queue.Empty())

	// The timed out popper must not be left behind as a waiter
	require.NoError(t, queue.Push(1))
	assert.Equal(t, 1, queue.Len())
}

func TestQueuePopReceivesItemPushedWhileWaiting(t *testing.T) {
	queue := NewQueue[int](0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		queue.Push(42)
	}()

	item, err := queue.Pop(time.Second)

	require.NoError(t, err)
	assert.Equal(t, 42, item)
	assert.Equal(t, 0, queue.Len())
}

func TestQueuePopWithoutTimeoutBlocksUntilPush(t *testing.T) {
	queue := NewQueue[int](0)
	received := make(chan int, 1)

	go func() {
		item, err := queue.Pop(0)
		if err == nil {
			received <- item
		}
	}()

	// Still blocked well after any reasonable poll
	select {
	case <-received:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, queue.Push(7))

	select {
	case item := <-received:
		assert.Equal(t, 7, item)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after push")
	}
}

func TestQueuePopContextCancelled(t *testing.T) {
	queue := NewQueue[int](0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := queue.PopContext(ctx, 0)

	assert.ErrorIs(t, err, context.Canceled)

	// Cancellation takes priority even when an item is available
	require.NoError(t, queue.Push(1))
	_, err = queue.PopContext(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, queue.Len())
}

func TestQueueTryPopNeverWaits(t *testing.T) {
	queue := NewQueue[int](0)

	start := time.Now()
	_, err := queue.TryPop()

	assert.ErrorIs(t, err, ErrQueueEmpty)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestQueuePushWakesOneWaiterPerItem(t *testing.T) {
	queue := NewQueue[int](0)

	waiters := 5
	var received atomic.Int64
	var timedOut atomic.Int64
	wg := sync.WaitGroup{}
	wg.Add(waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			if _, err := queue.Pop(100 * time.Millisecond); err != nil {
				timedOut.Add(1)
			} else {
				received.Add(1)
			}
		}()
	}

	// Let every popper block before pushing
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, queue.Push(1))
	require.NoError(t, queue.Push(2))

	wg.Wait()

	assert.Equal(t, int64(2), received.Load())
	assert.Equal(t, int64(3), timedOut.Load())
	assert.True(t, queue.Empty())
}

func TestQueueConcurrentProducersAndConsumers(t *testing.T) {
	queue := NewQueue[int](64)

	producers := 8
	itemsPerProducer := 1000
	consumers := 4

	var consumed sync.Map
	var consumedCount atomic.Int64

	producerWg := sync.WaitGroup{}
	producerWg.Add(producers)
	for p := 0; p < producers; p++ {
		base := p * itemsPerProducer
		go func() {
			defer producerWg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				for queue.Push(base+i) == ErrQueueFull {
					time.Sleep(10 * time.Microsecond)
				}
			}
		}()
	}

	total := int64(producers * itemsPerProducer)
	consumerWg := sync.WaitGroup{}
	consumerWg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer consumerWg.Done()
			for consumedCount.Load() < total {
				item, err := queue.Pop(5 * time.Millisecond)
				if err != nil {
					continue
				}
				if _, loaded := consumed.LoadOrStore(item, true); loaded {
					t.Errorf("item %d was popped twice", item)
				}
				consumedCount.Add(1)
			}
		}()
	}

	producerWg.Wait()
	consumerWg.Wait()

	assert.Equal(t, total, consumedCount.Load())
	assert.Equal(t, uint64(total), queue.PoppedCount())
	assert.True(t, queue.Empty())
}

func TestQueuePerProducerOrderIsPreserved(t *testing.T) {
	queue := NewQueue[[2]int](0)

	producers := 4
	items := 500

	wg := sync.WaitGroup{}
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		producer := p
		go func() {
			defer wg.Done()
			for i := 0; i < items; i++ {
				queue.Push([2]int{producer, i})
			}
		}()
	}
	wg.Wait()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for !queue.Empty() {
		item, err := queue.TryPop()
		require.NoError(t, err)
		assert.Greater(t, item[1], last[item[0]])
		last[item[0]] = item[1]
	}
}

func TestQueueItemsHandedOverDuringTimeoutAreNotLost(t *testing.T) {
	queue := NewQueue[int](0)

	poppers := 16
	items := 20000

	var received atomic.Int64
	var receivedSum atomic.Int64
	stop := make(chan struct{})

	wg := sync.WaitGroup{}
	wg.Add(poppers)
	for i := 0; i < poppers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// Timeouts this short keep pushes racing expiring poppers
				item, err := queue.Pop(time.Microsecond)
				if err != nil {
					continue
				}
				received.Add(1)
				receivedSum.Add(int64(item))
			}
		}()
	}

	for i := 1; i <= items; i++ {
		require.NoError(t, queue.Push(i))
	}
	close(stop)
	wg.Wait()

	remainingSum := 0
	remaining := queue.Len()
	for !queue.Empty() {
		item, err := queue.TryPop()
		require.NoError(t, err)
		remainingSum += item
	}

	assert.Equal(t, int64(items), received.Load()+int64(remaining))
	assert.Equal(t, int64(items*(items+1)/2), receivedSum.Load()+int64(remainingSum))
	assert.Equal(t, uint64(items), queue.PushedCount())
	assert.Equal(t, uint64(items), queue.PoppedCount())
}
