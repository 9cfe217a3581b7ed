package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	EndpointDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "endpoint_duration_seconds",
		Help:    "Time spent serving each endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// Handle pool metrics
	HandlePoolCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handle_pool_created_total",
		Help: "Total number of library handles created by each pool",
	}, []string{"pool"})

	HandlePoolBorrows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handle_pool_borrows_total",
		Help: "Total number of successful handle borrows",
	}, []string{"pool"})

	HandlePoolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handle_pool_errors_total",
		Help: "Total number of failed borrows by stage",
	}, []string{"pool", "stage"})

	HandlePoolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "handle_pool_idle",
		Help: "Number of idle handles held by each pool",
	}, []string{"pool"})

	// Custom call metrics
	KernelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_calls_total",
		Help: "Total number of custom calls by target and result",
	}, []string{"target", "result"})

	KernelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernel_call_duration_ms",
		Help:    "Host-side duration of custom calls in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 20), // 10us to ~5s
	}, []string{"target"})

	KernelCallBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernel_call_batch_size",
		Help:    "Batch count of custom calls",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"target"})

	DeviceCopies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_copies_total",
		Help: "Total number of device copies issued by kind",
	}, []string{"kind"})
)
