// Package metrics exposes Prometheus collectors for the coordinator.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	signalsTotal          *prometheus.CounterVec
	signalErrorsTotal     *prometheus.CounterVec
	analyzedEntriesTotal  prometheus.Counter
	broadcastEntriesTotal prometheus.Counter
	statusChangesTotal    prometheus.Counter
	trimmedEntriesTotal   prometheus.Counter
	lostEntriesTotal      prometheus.Counter
	recordedJobsTotal     *prometheus.CounterVec
	reapedJobsTotal       prometheus.Counter
	failedJobsTotal       prometheus.Counter
	relayClients          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		signalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_signals_total",
				Help: "Log-update signals consumed, labeled by engine.",
			},
			[]string{"engine"},
		)

		signalErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_signal_errors_total",
				Help: "Signal handler failures, labeled by engine.",
			},
			[]string{"engine"},
		)

		analyzedEntriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_analyzed_entries_total",
				Help: "Log entries consumed by the analysis engine.",
			},
		)

		broadcastEntriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_broadcast_entries_total",
				Help: "Log entries packaged into download-update messages.",
			},
		)

		statusChangesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_status_changes_total",
				Help: "Status-change messages published.",
			},
		)

		trimmedEntriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_trimmed_entries_total",
				Help: "Log entries removed by the trimmer.",
			},
		)

		lostEntriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_lost_entries_total",
				Help: "Log entries dropped because they failed to parse.",
			},
		)

		recordedJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_recorded_jobs_total",
				Help: "Finished jobs written to cold storage, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		reapedJobsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_reaped_jobs_total",
				Help: "Jobs failed by the heartbeat reaper.",
			},
		)

		failedJobsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_failed_jobs_total",
				Help: "Jobs that ended in the failed state.",
			},
		)

		relayClients = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_relay_clients",
				Help: "Connected dashboard relay clients.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSignal counts one consumed signal for the named engine.
func ObserveSignal(engine string) {
	if signalsTotal != nil {
		signalsTotal.WithLabelValues(engine).Inc()
	}
}

// ObserveSignalError counts one failed signal for the named engine.
func ObserveSignalError(engine string) {
	if signalErrorsTotal != nil {
		signalErrorsTotal.WithLabelValues(engine).Inc()
	}
}

// ObserveAnalyzedEntries counts entries consumed by the analysis engine.
func ObserveAnalyzedEntries(n int) {
	if analyzedEntriesTotal != nil {
		analyzedEntriesTotal.Add(float64(n))
	}
}

// ObserveBroadcastEntries counts entries packaged for broadcast.
func ObserveBroadcastEntries(n int) {
	if broadcastEntriesTotal != nil {
		broadcastEntriesTotal.Add(float64(n))
	}
}

// ObserveStatusChange counts one published status-change message.
func ObserveStatusChange() {
	if statusChangesTotal != nil {
		statusChangesTotal.Inc()
	}
}

// ObserveTrimmedEntries counts entries removed by the trimmer.
func ObserveTrimmedEntries(n int) {
	if trimmedEntriesTotal != nil {
		trimmedEntriesTotal.Add(float64(n))
	}
}

// ObserveLostEntry counts one unparseable log entry.
func ObserveLostEntry() {
	if lostEntriesTotal != nil {
		lostEntriesTotal.Inc()
	}
}

// ObserveRecordedJob counts one cold-storage write with its outcome
// ("stored", "conflict", or "error").
func ObserveRecordedJob(outcome string) {
	if recordedJobsTotal != nil {
		recordedJobsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveReapedJob counts one job failed by the reaper.
func ObserveReapedJob() {
	if reapedJobsTotal != nil {
		reapedJobsTotal.Inc()
	}
}

// ObserveFailedJob counts one job that ended failed.
func ObserveFailedJob() {
	if failedJobsTotal != nil {
		failedJobsTotal.Inc()
	}
}

// IncRelayClients increments the connected relay gauge.
func IncRelayClients() {
	if relayClients != nil {
		relayClients.Inc()
	}
}

// DecRelayClients decrements the connected relay gauge.
func DecRelayClients() {
	if relayClients != nil {
		relayClients.Dec()
	}
}
