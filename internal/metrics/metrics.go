// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the Prometheus instrumentation for the
// orchestrator. Collectors register on the default registry; the daemon
// exposes them on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// executionsQueued tracks executions accepted into the queue.
	executionsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_executions_queued_total",
			Help: "Total executions accepted into the queue",
		},
	)

	// executionsCompleted tracks executions reaching a terminal status.
	executionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_executions_terminal_total",
			Help: "Total executions reaching a terminal status, by status",
		},
		[]string{"status"},
	)

	// dispatches tracks dispatch attempts by backend type and outcome.
	dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_dispatches_total",
			Help: "Total dispatch attempts by backend type and outcome",
		},
		[]string{"backend", "outcome"},
	)

	// dispatchDuration tracks dispatch latency by backend type.
	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_dispatch_duration_seconds",
			Help:    "Dispatch latency by backend type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// queueDepth tracks active executions per status.
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_executions_active",
			Help: "Active executions by status",
		},
		[]string{"status"},
	)

	// healthChecks tracks health probe outcomes per runner.
	healthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_health_checks_total",
			Help: "Total health probes by runner and outcome",
		},
		[]string{"runner", "outcome"},
	)

	// healthCheckLatency tracks probe latency per runner.
	healthCheckLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_health_check_duration_seconds",
			Help:    "Health probe latency by runner",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"runner"},
	)

	// runnerJobs tracks current job count per runner.
	runnerJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_runner_jobs",
			Help: "Current job count by runner",
		},
		[]string{"runner"},
	)

	// eventsDropped tracks lifecycle events dropped on full subscriber buffers.
	eventsDropped = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_events_dropped_total",
			Help: "Lifecycle events dropped due to full subscriber buffers",
		},
	)
)

// RecordQueued increments the queued-executions counter.
func RecordQueued() {
	executionsQueued.Inc()
}

// RecordTerminal increments the terminal-status counter.
func RecordTerminal(status string) {
	executionsCompleted.WithLabelValues(status).Inc()
}

// RecordDispatch records a dispatch attempt and its latency.
func RecordDispatch(backend string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	dispatches.WithLabelValues(backend, outcome).Inc()
	dispatchDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// SetQueueDepth sets the active-execution gauge for a status.
func SetQueueDepth(status string, count int) {
	queueDepth.WithLabelValues(status).Set(float64(count))
}

// RecordHealthCheck records a health probe outcome and latency.
func RecordHealthCheck(runner string, healthy bool, duration time.Duration) {
	outcome := "healthy"
	if !healthy {
		outcome = "unhealthy"
	}
	healthChecks.WithLabelValues(runner, outcome).Inc()
	healthCheckLatency.WithLabelValues(runner).Observe(duration.Seconds())
}

// SetRunnerJobs sets the current job count gauge for a runner.
func SetRunnerJobs(runner string, jobs int) {
	runnerJobs.WithLabelValues(runner).Set(float64(jobs))
}

// SetEventsDropped sets the dropped-events gauge.
func SetEventsDropped(dropped uint64) {
	eventsDropped.Set(float64(dropped))
}
