package taskq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {

	pool := NewPool(3, WithPollInterval(10*time.Millisecond))

	var executions atomic.Int64
	tasks := make([]func(context.Context) (int, error), 5)
	for i := range tasks {
		n := i
		tasks[i] = func(ctx context.Context) (int, error) {
			executions.Add(1)
			time.Sleep(time.Duration(5-n) * time.Millisecond)
			return n * n, nil
		}
	}

	results, err := Dispatch(context.Background(), pool, tasks...)

	require.NoError(t, err)
	require.Len(t, results, 5)
	seen := make(map[uuid.UUID]bool)
	for i, result := range results {
		assert.NoError(t, result.Err)
		assert.Equal(t, i*i, result.Output)
		assert.NotEqual(t, uuid.Nil, result.ID)
		assert.False(t, seen[result.ID])
		seen[result.ID] = true
	}

	require.NoError(t, pool.StopAndWait())
	assert.Equal(t, int64(5), executions.Load())
	assert.Equal(t, uint64(5), pool.SuccessfulTasks())
}

func TestDispatchWithoutTasks(t *testing.T) {

	pool := NewPool(1)
	defer pool.StopAndWait()

	results, err := Dispatch[string](context.Background(), pool)

	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestDispatchCollectsTaskErrorsAndPanics(t *testing.T) {

	pool := NewPool(2)
	defer pool.StopAndWait()

	results, err := Dispatch(context.Background(), pool,
		func(ctx context.Context) (string, error) {
			return "ok", nil
		},
		func(ctx context.Context) (string, error) {
			return "", errors.New("sample error")
		},
		func(ctx context.Context) (string, error) {
			panic("dummy panic")
		},
	)

	require.NoError(t, err)
	assert.Equal(t, "ok", results[0].Output)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "sample error")
	assert.ErrorIs(t, results[2].Err, ErrPanic)
	assert.Equal(t, "task panicked: dummy panic", results[2].Err.Error())
}

func TestDispatchReportsPanicsToPoolPanicHandler(t *testing.T) {

	var recovered atomic.Value
	pool := NewPool(1, WithPanicHandler(func(p any) {
		recovered.Store(p)
	}))
	defer pool.StopAndWait()

	results, err := Dispatch(context.Background(), pool,
		func(ctx context.Context) (int, error) {
			panic("dummy panic")
		},
		func(ctx context.Context) (int, error) {
			return 2, nil
		},
	)

	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrPanic)
	assert.Equal(t, 2, results[1].Output)
	assert.Equal(t, "dummy panic", recovered.Load())
	assert.Equal(t, uint64(1), pool.FailedTasks())
	assert.Equal(t, uint64(1), pool.SuccessfulTasks())
}

func TestDispatchRetriesWhenQueueIsFull(t *testing.T) {

	pool := NewPool(1, WithQueueCapacity(1), WithPollInterval(5*time.Millisecond))
	defer pool.StopAndWait()

	tasks := make([]func(context.Context) (int, error), 20)
	for i := range tasks {
		n := i
		tasks[i] = func(ctx context.Context) (int, error) {
			time.Sleep(time.Millisecond)
			return n, nil
		}
	}

	results, err := Dispatch(context.Background(), pool, tasks...)

	require.NoError(t, err)
	for i, result := range results {
		assert.NoError(t, result.Err)
		assert.Equal(t, i, result.Output)
	}
	assert.Greater(t, pool.Queue().RejectedCount(), uint64(0))
}

func TestDispatchGivesUpWhenContextExpires(t *testing.T) {

	pool := NewPool(1, WithQueueCapacity(1), WithPollInterval(5*time.Millisecond))
	defer pool.StopAndWait()

	release := make(chan struct{})
	tasks := make([]func(context.Context) (int, error), 5)
	for i := range tasks {
		n := i
		tasks[i] = func(ctx context.Context) (int, error) {
			<-release
			return n, nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// Unblock the dispatched tasks once the dispatcher has given up
	go func() {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		close(release)
	}()

	results, err := Dispatch(ctx, pool, tasks...)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// One task running and one queued made it in, the rest did not
	dispatched := 0
	for i, result := range results {
		if errors.Is(result.Err, ErrNotDispatched) {
			continue
		}
		dispatched++
		assert.NoError(t, result.Err)
		assert.Equal(t, i, result.Output)
	}
	assert.Equal(t, 2, dispatched)
}

func TestDispatchOnStoppedPool(t *testing.T) {

	pool := NewPool(1)
	require.NoError(t, pool.StopAndWait())

	results, err := Dispatch(context.Background(), pool, func(ctx context.Context) (int, error) {
		return 1, nil
	})

	assert.ErrorIs(t, err, ErrPoolStopped)
	assert.ErrorIs(t, results[0].Err, ErrNotDispatched)
	assert.ErrorIs(t, results[0].Err, ErrPoolStopped)
}

func TestDispatchMarksAbandonedTasks(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, WithContext(ctx), WithPollInterval(5*time.Millisecond))

	started := make(chan struct{})
	tasks := []func(context.Context) (int, error){
		func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		},
		func(ctx context.Context) (int, error) {
			return 1, nil
		},
	}

	// Cancel once the first task runs and the second one is queued behind it
	go func() {
		<-started
		for pool.Queue().Len() < 1 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	results, err := Dispatch(context.Background(), pool, tasks...)

	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.ErrorIs(t, results[1].Err, ErrTaskAbandoned)
	assert.ErrorIs(t, pool.StopAndWait(), context.Canceled)
}

type recordingSubmitter struct {
	submitted []Task
}

func (s *recordingSubmitter) Submit(task Task) error {
	s.submitted = append(s.submitted, task)
	go func() {
		defer task.signal()
		task.run(context.Background())
	}()
	return nil
}

func TestDispatchWithCustomSubmitter(t *testing.T) {

	submitter := &recordingSubmitter{}

	results, err := Dispatch(context.Background(), submitter,
		func(ctx context.Context) (int, error) { return 1, nil },
		func(ctx context.Context) (int, error) { return 2, nil },
	)

	require.NoError(t, err)
	require.Len(t, submitter.submitted, 2)
	for i, task := range submitter.submitted {
		assert.Equal(t, results[i].ID, task.ID)
		assert.Equal(t, i+1, results[i].Output)
	}
}
