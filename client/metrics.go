package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ncmb_client",
			Name:      "tasks_submitted_total",
			Help:      "Background tasks accepted into the shard executor.",
		},
		[]string{"shard"},
	)

	tasksFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ncmb_client",
			Name:      "tasks_failed_total",
			Help:      "Background tasks that finished with an error or panic.",
		},
		[]string{"shard"},
	)
)
