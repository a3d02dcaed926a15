package taskq

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// defaultPollInterval is how long an idle worker waits for a task before checking
	// whether the pool is stopping, when not set via WithPollInterval
	defaultPollInterval = 100 * time.Millisecond
)

var (
	// ErrPoolStopped is returned when submitting a task to a pool that has been stopped
	ErrPoolStopped = errors.New("worker pool has been stopped and is no longer accepting tasks")
)

// WorkerPool runs a fixed number of worker goroutines that pop tasks from a shared queue
// and execute them one at a time. Stopping the pool is cooperative: workers drain
// whatever is still queued before exiting.
type WorkerPool struct {
	// Configurable settings
	ctx           context.Context
	cancel        context.CancelFunc
	queue         *Queue[Task]
	queueCapacity int
	workers       int
	pollInterval  time.Duration
	panicHandler  func(any)
	logger        *slog.Logger
	// Atomic counters
	runningWorkerCount  atomic.Int64
	busyWorkerCount     atomic.Int64
	successfulTaskCount atomic.Uint64
	failedTaskCount     atomic.Uint64
	abandonedTaskCount  atomic.Uint64
	// Private properties
	stopping    atomic.Bool
	submitMutex sync.RWMutex
	workerGroup errgroup.Group
	joinOnce    sync.Once
	joined      chan struct{}
	joinErr     error
}

// NewPool creates a worker pool and starts its workers right away, before any task can be submitted.
// The options parameter can take a list of functions to customize configuration values on this worker pool.
func NewPool(workers int, options ...Option) *WorkerPool {

	pool := &WorkerPool{
		ctx:          context.Background(),
		workers:      workers,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		joined:       make(chan struct{}),
	}

	// Apply all options
	for _, opt := range options {
		opt(pool)
	}

	// Make sure options are consistent
	if pool.ctx == nil {
		pool.ctx = context.Background()
	}
	if pool.workers <= 0 {
		pool.workers = 1
	}
	if pool.pollInterval <= 0 {
		pool.pollInterval = defaultPollInterval
	}
	if pool.logger == nil {
		pool.logger = slog.Default()
	}
	if pool.panicHandler == nil {
		pool.panicHandler = pool.defaultPanicHandler
	}
	if pool.queue == nil {
		pool.queue = NewQueue[Task](pool.queueCapacity)
	}

	pool.ctx, pool.cancel = context.WithCancel(pool.ctx)

	for i := 0; i < pool.workers; i++ {
		id := i
		pool.workerGroup.Go(func() error {
			return pool.worker(id)
		})
	}

	pool.logger.Debug("worker pool started", "workers", pool.workers, "queueCapacity", pool.queue.Cap(), "pollInterval", pool.pollInterval)

	return pool
}

// Context returns the context of the pool. It is passed to every task and is cancelled once the pool has been joined.
func (p *WorkerPool) Context() context.Context {
	return p.ctx
}

// Queue returns the queue the workers of this pool read from
func (p *WorkerPool) Queue() *Queue[Task] {
	return p.queue
}

// Workers returns the number of workers the pool was started with
func (p *WorkerPool) Workers() int {
	return p.workers
}

// PollInterval returns how long idle workers wait before checking whether the pool is stopping
func (p *WorkerPool) PollInterval() time.Duration {
	return p.pollInterval
}

// RunningWorkers returns the current number of running workers
func (p *WorkerPool) RunningWorkers() int64 {
	return p.runningWorkerCount.Load()
}

// BusyWorkers returns the number of workers currently executing a task
func (p *WorkerPool) BusyWorkers() int64 {
	return p.busyWorkerCount.Load()
}

// SuccessfulTasks returns the total number of tasks that have completed without error since the pool was created
func (p *WorkerPool) SuccessfulTasks() uint64 {
	return p.successfulTaskCount.Load()
}

// FailedTasks returns the total number of tasks that returned an error or panicked since the pool was created
func (p *WorkerPool) FailedTasks() uint64 {
	return p.failedTaskCount.Load()
}

// CompletedTasks returns the total number of tasks that have completed their execution either successfully
// or with an error since the pool was created
func (p *WorkerPool) CompletedTasks() uint64 {
	return p.SuccessfulTasks() + p.FailedTasks()
}

// AbandonedTasks returns the number of queued tasks that were never executed because the pool context was cancelled
func (p *WorkerPool) AbandonedTasks() uint64 {
	return p.abandonedTaskCount.Load()
}

// Stopped returns true if the pool has been stopped and is no longer accepting tasks, and false otherwise.
func (p *WorkerPool) Stopped() bool {
	return p.stopping.Load() || p.ctx.Err() != nil
}

// Submit pushes a task onto the queue of this pool. It returns ErrPoolStopped if the pool has been stopped
// and ErrQueueFull if the queue is bounded and full.
func (p *WorkerPool) Submit(task Task) error {
	p.submitMutex.RLock()
	defer p.submitMutex.RUnlock()

	if p.Stopped() {
		return ErrPoolStopped
	}

	return p.queue.Push(task)
}

// Go submits a function that is not tied to any latch
func (p *WorkerPool) Go(run func(ctx context.Context) error) error {
	return p.Submit(NewTask(run, nil))
}

// Stop causes this pool to stop accepting new tasks and signals all workers to exit once the queue is drained.
// It does not wait for them.
func (p *WorkerPool) Stop() {
	p.submitMutex.Lock()
	defer p.submitMutex.Unlock()

	if !p.stopping.Swap(true) {
		p.logger.Debug("worker pool stopping", "queued", p.queue.Len())
	}
}

// StopAndWait causes this pool to stop accepting new tasks and then waits for all workers to drain the queue and exit.
// It returns the pool context's error if workers were cancelled rather than drained.
func (p *WorkerPool) StopAndWait() error {
	p.Stop()
	return p.join()
}

// StopAndWaitFor stops this pool and waits until either all queued tasks are completed
// or the given deadline is reached, whichever comes first. When the deadline is reached
// the pool context is cancelled and tasks still in the queue are abandoned.
func (p *WorkerPool) StopAndWaitFor(deadline time.Duration) error {
	p.Stop()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	go p.join()

	select {
	case <-p.joined:
	case <-timer.C:
		p.cancel()
	}

	return p.join()
}

// join waits for every worker to exit. Concurrent callers all get the same result.
func (p *WorkerPool) join() error {
	p.joinOnce.Do(func() {
		go func() {
			p.joinErr = p.workerGroup.Wait()

			// Release the context now that no task can be running
			p.cancel()

			p.logger.Debug("worker pool stopped", "successful", p.SuccessfulTasks(), "failed", p.FailedTasks(), "abandoned", p.AbandonedTasks())
			close(p.joined)
		}()
	})

	<-p.joined
	return p.joinErr
}

// executeTask executes the given task and updates task-related counters
func (p *WorkerPool) executeTask(task Task, logger *slog.Logger) {

	p.busyWorkerCount.Add(1)

	defer func() {
		if panic := recover(); panic != nil {
			// Increment failed task count
			p.failedTaskCount.Add(1)

			// Invoke panic handler
			p.panicHandler(panic)
		}

		task.signal()
		p.busyWorkerCount.Add(-1)
	}()

	if err := task.run(p.ctx); err != nil {
		p.failedTaskCount.Add(1)
		logger.Debug("task failed", "task", task.ID, "error", err)
		return
	}

	// Increment successful task count
	p.successfulTaskCount.Add(1)
}

// abandonQueued empties the queue without running its tasks, signalling their latches so
// that no waiter blocks forever on work that will never execute
func (p *WorkerPool) abandonQueued() {
	for {
		task, err := p.queue.TryPop()
		if err != nil {
			return
		}

		p.abandonedTaskCount.Add(1)
		task.signal()
	}
}

// defaultPanicHandler logs the panic together with the stack trace of the panicking task
func (p *WorkerPool) defaultPanicHandler(panic any) {
	p.logger.Error("task panicked", "panic", panic, "stack", string(debug.Stack()))
}
