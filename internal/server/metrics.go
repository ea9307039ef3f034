package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eval_server_connections_total",
		Help: "Connections handled, by final outcome",
	}, []string{"outcome"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eval_server_active_workers",
		Help: "Connection workers currently running",
	})

	rowsInferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_server_rows_inferred_total",
		Help: "Feature rows run through the model executor",
	})

	inferenceSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eval_server_inference_seconds",
		Help:    "Per-row model executor latency",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	forwardFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_server_forward_failures_total",
		Help: "Prediction batches that could not be delivered to the controller",
	})
)
