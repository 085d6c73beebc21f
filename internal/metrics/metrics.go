// Package metrics exposes Prometheus metrics for the intercept proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Proxy request metrics
var (
	// ProxyRequestsTotal counts proxied requests by provider and status.
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokencost_proxy_requests_total",
			Help: "Total number of proxied requests by provider and status code",
		},
		[]string{"provider", "status"},
	)

	// ProxyUpstreamErrors counts upstream connection failures.
	ProxyUpstreamErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokencost_proxy_upstream_errors_total",
			Help: "Total number of failed upstream connections",
		},
	)

	// ProxyForwardDuration tracks upstream round-trip latency.
	ProxyForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tokencost_proxy_forward_duration_seconds",
			Help:    "Duration of upstream round trips by provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)

// Metering pipeline metrics
var (
	// MeterQueueDepth tracks the current metering queue backlog.
	MeterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokencost_meter_queue_depth",
			Help: "Number of captured exchanges waiting to be metered",
		},
	)

	// MeterDrops counts exchanges dropped because the queue was full.
	MeterDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokencost_meter_drops_total",
			Help: "Total number of exchanges dropped because the metering queue was full",
		},
	)

	// MeterRecords counts successfully metered exchanges by outcome.
	MeterRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokencost_meter_records_total",
			Help: "Total number of metering outcomes by result",
		},
		[]string{"outcome"},
	)

	// LedgerWriteFailures counts failed ledger appends.
	LedgerWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokencost_ledger_write_failures_total",
			Help: "Total number of failed ledger writes",
		},
	)
)
