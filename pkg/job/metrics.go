package job

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for scheduler runs.
var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ckp_tasks_total",
		Help: "Total finished tasks by category and terminal state",
	}, []string{"category", "state"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ckp_task_duration_seconds",
		Help:    "Task run time in seconds by category",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"category"})

	tasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ckp_tasks_running",
		Help: "Number of tasks currently holding a running slot",
	})

	tasksWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ckp_tasks_waiting",
		Help: "Number of queued tasks waiting for a running slot",
	})

	runTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ckp_run_timeouts_total",
		Help: "Total number of runs aborted by a task timeout",
	})
)
