package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danielpatrickdp/inference-eval/internal/eval"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eval_controller_batches_total",
		Help: "Prediction batches received, by result",
	}, []string{"result"})

	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eval_controller_samples_total",
		Help: "Samples in evaluated batches, by whether they were counted",
	}, []string{"status"})

	alertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_controller_alerts_total",
		Help: "Threshold alerts raised",
	})

	lastAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eval_controller_last_accuracy",
		Help: "Overall accuracy of the most recent batch with at least one counted sample",
	})
)

func observe(r eval.EvalResult) {
	result := "failed"
	if r.Passed {
		result = "passed"
	}
	batchesTotal.WithLabelValues(result).Inc()
	samplesTotal.WithLabelValues("counted").Add(float64(r.Overall.N))
	samplesTotal.WithLabelValues("skipped").Add(float64(r.Skipped))
	alertsTotal.Add(float64(len(r.Alerts)))
	if r.Overall.Accuracy.Defined {
		lastAccuracy.Set(r.Overall.Accuracy.Value)
	}
}
