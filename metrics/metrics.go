// Package metrics exports the counters of a worker pool and its queue as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is implemented by *taskq.WorkerPool
type PoolStats interface {
	RunningWorkers() int64
	BusyWorkers() int64
	SuccessfulTasks() uint64
	FailedTasks() uint64
	CompletedTasks() uint64
	AbandonedTasks() uint64
}

// QueueStats is implemented by *taskq.Queue
type QueueStats interface {
	Len() int
	Cap() int
	PushedCount() uint64
	PoppedCount() uint64
	RejectedCount() uint64
}

// Register registers gauges and counters that read the given pool and queue on every scrape.
// Metric names are prefixed with namespace.
func Register(reg prometheus.Registerer, namespace string, pool PoolStats, queue QueueStats) error {

	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running_workers",
				Help:      "Number of running worker goroutines",
			},
			func() float64 {
				return float64(pool.RunningWorkers())
			}),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "busy_workers",
				Help:      "Number of worker goroutines executing a task",
			},
			func() float64 {
				return float64(pool.BusyWorkers())
			}),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "successful_tasks_total",
				Help:      "Number of tasks that completed without error",
			},
			func() float64 {
				return float64(pool.SuccessfulTasks())
			}),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failed_tasks_total",
				Help:      "Number of tasks that returned an error or panicked",
			},
			func() float64 {
				return float64(pool.FailedTasks())
			}),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "completed_tasks_total",
				Help:      "Number of tasks that completed either successfully or with an error",
			},
			func() float64 {
				return float64(pool.CompletedTasks())
			}),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "abandoned_tasks_total",
				Help:      "Number of queued tasks dropped because the pool was cancelled",
			},
			func() float64 {
				return float64(pool.AbandonedTasks())
			}),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_length",
				Help:      "Number of tasks waiting in the queue",
			},
			func() float64 {
				return float64(queue.Len())
			}),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_capacity",
				Help:      "Maximum number of tasks the queue can hold, 0 when unbounded",
			},
			func() float64 {
				return float64(queue.Cap())
			}),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_pushed_total",
				Help:      "Number of tasks pushed to the queue",
			},
			func() float64 {
				return float64(queue.PushedCount())
			}),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_popped_total",
				Help:      "Number of tasks popped from the queue",
			},
			func() float64 {
				return float64(queue.PoppedCount())
			}),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_rejected_total",
				Help:      "Number of pushes rejected because the queue was full",
			},
			func() float64 {
				return float64(queue.RejectedCount())
			}),
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("registering pool metrics: %w", err)
		}
	}

	return nil
}
