package taskq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/googleapis/gax-go/v2"
)

var (
	// ErrNotDispatched is wrapped by the error stored in the result of a task that could not be submitted
	ErrNotDispatched = errors.New("task was not dispatched")

	// ErrTaskAbandoned is the error stored in the result of a task that was queued but never executed
	ErrTaskAbandoned = errors.New("task was abandoned before it ran")
)

// Submitter accepts tasks for asynchronous execution. *WorkerPool implements it.
type Submitter interface {
	Submit(task Task) error
}

// Result holds the outcome of one task dispatched by Dispatch
type Result[O any] struct {
	ID     uuid.UUID
	Output O
	Err    error
}

// dispatchBackoff paces the retries of a submission rejected with ErrQueueFull
func dispatchBackoff() *gax.Backoff {
	return &gax.Backoff{
		Initial:    time.Millisecond,
		Max:        100 * time.Millisecond,
		Multiplier: 2,
	}
}

// Dispatch submits every task, each carrying a reference to a shared latch, then waits on the latch
// until all of them have completed. The i-th result holds the output of the i-th task.
//
// Submissions rejected with ErrQueueFull are retried with exponential backoff until ctx is done.
// If a task cannot be submitted, it and every task after it are marked with an error wrapping
// ErrNotDispatched, and the returned error explains why. Dispatch still waits for the tasks that
// were submitted before returning, so the results are safe to read without further synchronization.
//
// A task that panics gets an error wrapping ErrPanic in its result, and the panic is then re-raised
// so that a WorkerPool reports it to its panic handler. Custom submitters must recover it themselves.
func Dispatch[O any](ctx context.Context, submitter Submitter, tasks ...func(context.Context) (O, error)) ([]Result[O], error) {

	latch := NewLatch(len(tasks))
	results := make([]Result[O], len(tasks))

	var dispatchErr error

	for i, task := range tasks {
		result := &results[i]
		result.ID = uuid.New()
		result.Err = ErrTaskAbandoned

		run := task
		err := submit(ctx, submitter, Task{
			ID:    result.ID,
			Latch: latch,
			Run: func(ctx context.Context) error {
				defer func() {
					if p := recover(); p != nil {
						result.Err = panicError(p)
						// Let the submitter's panic handling see it too
						panic(p)
					}
				}()

				result.Output, result.Err = run(ctx)
				return result.Err
			},
		})

		if err != nil {
			dispatchErr = fmt.Errorf("dispatching task %d of %d: %w", i+1, len(tasks), err)

			// Give back the latch slots of every task that will never run
			for j := i; j < len(tasks); j++ {
				results[j].Err = fmt.Errorf("%w: %w", ErrNotDispatched, err)
			}
			latch.Add(-(len(tasks) - i))
			break
		}
	}

	latch.Wait()

	return results, dispatchErr
}

// submit submits the task, retrying while the queue is full
func submit(ctx context.Context, submitter Submitter, task Task) error {
	var backoff *gax.Backoff

	for {
		err := submitter.Submit(task)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}

		if backoff == nil {
			backoff = dispatchBackoff()
		}

		if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
			return fmt.Errorf("%w: %w", ErrQueueFull, err)
		}
	}
}
