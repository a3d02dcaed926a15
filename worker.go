package taskq

import (
	"errors"
)

// worker is the loop run by each worker goroutine. It executes tasks until the pool is stopped
// and the queue reads empty, or until the pool context is cancelled.
func (p *WorkerPool) worker(id int) error {

	p.runningWorkerCount.Add(1)
	defer p.runningWorkerCount.Add(-1)

	logger := p.logger.With("worker", id)
	logger.Debug("worker started")

	for {
		// Prioritize context cancellation over draining
		if err := p.ctx.Err(); err != nil {
			// Wait for in-flight submissions so that none lands after the queue was emptied
			p.submitMutex.Lock()
			p.abandonQueued()
			p.submitMutex.Unlock()

			logger.Debug("worker cancelled", "error", err)
			return err
		}

		var task Task
		var err error

		if p.stopping.Load() {
			// Pool is stopping, drain without waiting and exit once the queue is empty
			if task, err = p.queue.TryPop(); err != nil {
				logger.Debug("worker stopped")
				return nil
			}
		} else {
			task, err = p.queue.PopContext(p.ctx, p.pollInterval)
			if errors.Is(err, ErrPopTimeout) {
				// Nothing to do, check the shutdown flag again
				continue
			}
			if err != nil {
				// Context was cancelled while waiting
				continue
			}
		}

		p.executeTask(task, logger)
	}
}
