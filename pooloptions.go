package taskq

import (
	"context"
	"log/slog"
	"time"
)

type Option func(*WorkerPool)

// WithContext sets the parent context of the pool. Cancelling it makes workers exit
// without draining the queue.
func WithContext(ctx context.Context) Option {
	return func(p *WorkerPool) {
		p.ctx = ctx
	}
}

// WithQueue makes the pool's workers read from the given queue instead of creating their own.
func WithQueue(queue *Queue[Task]) Option {
	return func(p *WorkerPool) {
		p.queue = queue
	}
}

// WithQueueCapacity sets the capacity of the queue created by the pool. Zero means unbounded.
// It has no effect when combined with WithQueue.
func WithQueueCapacity(capacity int) Option {
	return func(p *WorkerPool) {
		p.queueCapacity = capacity
	}
}

// WithPollInterval sets how long an idle worker waits for a task before checking again
// whether the pool is stopping. Shorter intervals stop the pool faster at the cost of more wakeups.
func WithPollInterval(interval time.Duration) Option {
	return func(p *WorkerPool) {
		p.pollInterval = interval
	}
}

// WithPanicHandler sets the function invoked with the recovered value when a task panics
func WithPanicHandler(panicHandler func(any)) Option {
	return func(p *WorkerPool) {
		p.panicHandler = panicHandler
	}
}

// WithLogger sets the logger used by the pool and its workers
func WithLogger(logger *slog.Logger) Option {
	return func(p *WorkerPool) {
		p.logger = logger
	}
}
