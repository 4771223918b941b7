// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Consumer outcomes.
const (
	OutcomeAcked  = "acked"
	OutcomeNacked = "nacked"
	OutcomeParked = "parked"
)

var (
	fetchAttemptsTotal           *prometheus.CounterVec
	retriesTotal                 *prometheus.CounterVec
	recordsPublishedTotal        *prometheus.CounterVec
	governorWaitSeconds          prometheus.Histogram
	checkpointWriteFailuresTotal *prometheus.CounterVec
	consumerMessagesTotal        *prometheus.CounterVec
	crawlRunsTotal               *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Total number of catalog fetch attempts, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_retries_total",
				Help: "Total number of fetch retries, labeled by failure class.",
			},
			[]string{"class"},
		)

		recordsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_published_total",
				Help: "Total number of records accepted by the publish channel.",
			},
			[]string{"category"},
		)

		governorWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_governor_wait_seconds",
				Help:    "Histogram of admission wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		checkpointWriteFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_checkpoint_write_failures_total",
				Help: "Total number of checkpoint writes that failed.",
			},
			[]string{"category"},
		)

		consumerMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_consumer_messages_total",
				Help: "Total number of queue messages handled by the consumer, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_crawl_runs_total",
				Help: "Total number of crawl runs, labeled by final state.",
			},
			[]string{"state"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(category, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveRetry records a retry decision for the given failure class.
func ObserveRetry(class string) {
	Init()
	retriesTotal.WithLabelValues(class).Inc()
}

// ObservePublished adds n records accepted by the publish channel.
func ObservePublished(category string, n int) {
	Init()
	recordsPublishedTotal.WithLabelValues(category).Add(float64(n))
}

// ObserveGovernorWait records how long a caller waited for admission.
func ObserveGovernorWait(d time.Duration) {
	Init()
	governorWaitSeconds.Observe(d.Seconds())
}

// ObserveCheckpointWriteFailure increments the checkpoint failure counter.
func ObserveCheckpointWriteFailure(category string) {
	Init()
	checkpointWriteFailuresTotal.WithLabelValues(category).Inc()
}

// ObserveConsumerMessage increments the consumer counter for the given outcome.
func ObserveConsumerMessage(outcome string) {
	Init()
	consumerMessagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCrawlRun records the final state of a crawl run.
func ObserveCrawlRun(state string) {
	Init()
	crawlRunsTotal.WithLabelValues(state).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
