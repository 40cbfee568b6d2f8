// Package metrics exports worker activity to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/extask/pkg/api"
)

const namespace = "extask"

// Observer is an api.Observer that records Prometheus metrics.
type Observer struct {
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	tasksFetched  prometheus.Counter
	tasksStarted  *prometheus.CounterVec
	tasksDone     *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	inFlight      *prometheus.GaugeVec
}

// Ensure Observer implements api.Observer.
var _ api.Observer = (*Observer)(nil)

// NewObserver creates the worker metrics and registers them with reg. A
// nil reg leaves them unregistered.
func NewObserver(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Fetch-and-lock calls by result (ok or error).",
		}, []string{"result"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetch-and-lock calls, including long-poll waits.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		tasksFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_fetched_total",
			Help:      "Tasks locked by fetch-and-lock calls.",
		}),
		tasksStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Handler invocations by topic.",
		}, []string{"topic"}),
		tasksDone: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Finished tasks by topic, outcome and whether the report succeeded.",
		}, []string{"topic", "outcome", "report"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from handler start to the end of reporting.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Tasks whose handler started and whose outcome is not reported yet.",
		}, []string{"topic"}),
	}
}

func (o *Observer) OnFetch(ctx context.Context, topics, tasks int, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.fetches.WithLabelValues(result).Inc()
	o.fetchDuration.Observe(d.Seconds())
	o.tasksFetched.Add(float64(tasks))
}

func (o *Observer) OnTaskStart(ctx context.Context, task *api.ExternalTask) {
	o.tasksStarted.WithLabelValues(task.TopicName).Inc()
	o.inFlight.WithLabelValues(task.TopicName).Inc()
}

func (o *Observer) OnTaskCompleted(ctx context.Context, task *api.ExternalTask, outcome api.Outcome, err error, d time.Duration) {
	report := "ok"
	if err != nil {
		report = "error"
	}
	o.tasksDone.WithLabelValues(task.TopicName, string(outcome), report).Inc()
	o.taskDuration.WithLabelValues(task.TopicName).Observe(d.Seconds())
	o.inFlight.WithLabelValues(task.TopicName).Dec()
}
