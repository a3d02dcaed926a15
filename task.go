package taskq

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrPanic is wrapped by the error reported for a task that panicked
var ErrPanic = errors.New("task panicked")

// Task is a unit of work handed to a worker through the queue.
// It is a small value and is copied freely between goroutines.
type Task struct {
	// ID correlates the task with the caller's bookkeeping
	ID uuid.UUID

	// Run is executed synchronously by the worker that popped the task
	Run func(ctx context.Context) error

	// Latch, if set, is counted down exactly once after Run returns or panics,
	// or when the task is abandoned by a cancelled pool
	Latch *Latch
}

// NewTask creates a task with a fresh ID
func NewTask(run func(ctx context.Context) error, latch *Latch) Task {
	return Task{
		ID:    uuid.New(),
		Run:   run,
		Latch: latch,
	}
}

func (t Task) run(ctx context.Context) error {
	if t.Run == nil {
		return nil
	}
	return t.Run(ctx)
}

// signal counts down the task's latch, if any
func (t Task) signal() {
	if t.Latch != nil {
		t.Latch.Down()
	}
}

// panicError turns a value recovered from a panicking task into an error wrapping ErrPanic
func panicError(p any) error {
	return fmt.Errorf("%w: %v", ErrPanic, p)
}
