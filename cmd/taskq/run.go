package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/alitto/taskq"
	"github.com/alitto/taskq/internal/config"
	"github.com/alitto/taskq/internal/logger"
	"github.com/alitto/taskq/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sleepUnits is the number of distinct durations a task can pick, from 0 to max-task-duration*9/10
const sleepUnits = 10

func run(ctx context.Context, c config.Config, out io.Writer) error {
	pool := taskq.NewPool(c.Workers,
		taskq.WithContext(ctx),
		taskq.WithQueueCapacity(c.QueueCapacity),
		taskq.WithPollInterval(c.PollInterval),
		taskq.WithLogger(logger.Default()))

	if c.Metrics.Address != "" {
		shutdown, err := serveMetrics(c.Metrics.Address, pool)
		if err != nil {
			pool.StopAndWait()
			return err
		}
		defer func() {
			if err := shutdown(); err != nil {
				logger.Warnf("metrics server did not shut down cleanly: %v", err)
			}
		}()
	}

	seed := c.Seed
	if seed == 0 {
		seed = rand.Int64()
	}
	logger.Infof("dispatching %d tasks to %d workers (seed %d)", c.Tasks, c.Workers, seed)

	results, dispatchErr := taskq.Dispatch(ctx, pool, sleepTasks(c.Tasks, c.MaxTaskDuration, seed)...)

	for i, result := range results {
		if result.Err != nil {
			fmt.Fprintf(out, "taskid=%d, error=%v\n", i, result.Err)
			continue
		}
		fmt.Fprintf(out, "taskid=%d, result=%d\n", i, result.Output)
	}

	if err := pool.StopAndWait(); err != nil {
		logger.Warnf("worker pool did not drain: %v", err)
	}
	logger.Infof("completed %d tasks, %d failed, %d abandoned", pool.CompletedTasks(), pool.FailedTasks(), pool.AbandonedTasks())

	return dispatchErr
}

// sleepTasks builds count tasks that each draw a number n in [0, sleepUnits) from their own
// generator, sleep n/sleepUnits of maxDuration and return n.
func sleepTasks(count int, maxDuration time.Duration, seed int64) []func(context.Context) (int, error) {
	unit := maxDuration / sleepUnits
	tasks := make([]func(context.Context) (int, error), count)

	for i := range tasks {
		id := i
		rng := rand.New(rand.NewPCG(uint64(seed), uint64(id)))

		tasks[i] = func(ctx context.Context) (int, error) {
			n := rng.IntN(sleepUnits)
			logger.Debugf("task:%d, sleep:%d", id, n)

			timer := time.NewTimer(time.Duration(n) * unit)
			defer timer.Stop()

			select {
			case <-timer.C:
			case <-ctx.Done():
				return n, ctx.Err()
			}

			logger.Debugf("task:%d, sleep end", id)
			return n, nil
		}
	}

	return tasks
}

func metricsHandler(pool *taskq.WorkerPool) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg, "taskq", pool, pool.Queue()); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux, nil
}

// serveMetrics exposes the pool metrics on addr until the returned function is called
func serveMetrics(addr string, pool *taskq.WorkerPool) (func() error, error) {
	handler, err := metricsHandler(pool)
	if err != nil {
		return nil, fmt.Errorf("error while registering metrics: %w", err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server failed: %v", err)
		}
	}()
	logger.Infof("serving metrics on %s/metrics", addr)

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}, nil
}
