package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ncmb_client",
			Name:      "requests_total",
			Help:      "REST calls by method and HTTP status (\"network\" for transport failures).",
		},
		[]string{"method", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ncmb_client",
			Name:      "request_duration_seconds",
			Help:      "Round-trip latency of REST calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)
