// Package metrics exposes Prometheus collectors for triggers and the workflow engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowline"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	webRequests       *prometheus.CounterVec
	triggersFired     *prometheus.CounterVec
	tasksDispatched   prometheus.Counter
	saveConflicts     prometheus.Counter
	updatesDropped    prometheus.Counter
	instancesEnded    *prometheus.CounterVec
	instanceDurations prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		webRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "web_requests_total",
			Help:      "Webhook calls by outcome status.",
		}, []string{"status"}),
		triggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_fired_total",
			Help:      "Accepted trigger events by trigger type.",
		}, []string{"type"}),
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Task instances handed to the executor, retries included.",
		}),
		saveConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_save_conflicts_total",
			Help:      "Optimistic concurrency conflicts while saving workflow instances.",
		}),
		updatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_updates_dropped_total",
			Help:      "Instance updates abandoned after exhausting save attempts.",
		}),
		instancesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_ended_total",
			Help:      "Workflow instances reaching a terminal status.",
		}, []string{"status"}),
		instanceDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_duration_seconds",
			Help:      "Wall time from start to finish of successful instances.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		gatherer: registry,
	}

	registry.MustRegister(
		m.webRequests,
		m.triggersFired,
		m.tasksDispatched,
		m.saveConflicts,
		m.updatesDropped,
		m.instancesEnded,
		m.instanceDurations,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) WebRequest(status string) {
	if m == nil {
		return
	}

	m.webRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) TriggerFired(triggerType string) {
	if m == nil {
		return
	}

	m.triggersFired.WithLabelValues(triggerType).Inc()
}

func (m *Metrics) TaskDispatched() {
	if m == nil {
		return
	}

	m.tasksDispatched.Inc()
}

func (m *Metrics) SaveConflict() {
	if m == nil {
		return
	}

	m.saveConflicts.Inc()
}

func (m *Metrics) UpdateDropped() {
	if m == nil {
		return
	}

	m.updatesDropped.Inc()
}

func (m *Metrics) InstanceEnded(status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.instancesEnded.WithLabelValues(status).Inc()

	if duration > 0 {
		m.instanceDurations.Observe(duration.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
