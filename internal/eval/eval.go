package eval

import (
	"fmt"
)

// #region eval-harness
// EvalHarness turns prediction batches into confusion matrices, metrics and
// threshold alerts.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Config returns the harness configuration.
func (h *EvalHarness) Config() EvalConfig { return h.config }

// Run evaluates predicted against index-aligned ground truth.
func (h *EvalHarness) Run(truth, predicted []int) (EvalResult, error) {
	m, skipped, err := BuildMatrix(h.config.Classes, truth, predicted)
	if err != nil {
		return EvalResult{}, err
	}
	return h.Evaluate(m, skipped), nil
}

// Evaluate derives metrics and alerts from an existing matrix.
func (h *EvalHarness) Evaluate(m *ConfusionMatrix, skipped int) EvalResult {
	classes, overall := ComputeMetrics(m)
	alerts := h.checkThresholds(classes, overall)

	reason := "all checks passed"
	switch {
	case overall.N == 0:
		reason = "no samples counted"
	case len(alerts) == 1:
		reason = fmt.Sprintf("alert: %s", alerts[0])
	case len(alerts) > 1:
		reason = fmt.Sprintf("%d alerts: %s", len(alerts), alerts[0])
	}

	return EvalResult{
		Matrix:  m,
		Classes: classes,
		Overall: overall,
		Skipped: skipped,
		Alerts:  alerts,
		Passed:  len(alerts) == 0 && overall.N > 0,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region compute
// ComputeMetrics derives per-class and overall metrics from m.
//
// Per class i: TP = M[i][i], FN = row i off-diagonal, FP = column i
// off-diagonal, TN = N - TP - FN - FP. Error rate is (FP+FN) over the
// class's support. Overall metrics use the summed counts; the overall error
// rate is the share of misclassified samples, ΣFN / N.
func ComputeMetrics(m *ConfusionMatrix) ([]ClassMetrics, OverallMetrics) {
	c := m.Classes()
	n := m.Total()

	classes := make([]ClassMetrics, c)
	var sum Counts
	for i := 0; i < c; i++ {
		cm := ClassMetrics{Class: i}
		cm.TP = m.At(i, i)
		for j := 0; j < c; j++ {
			cm.Support += m.At(i, j)
			if j != i {
				cm.FN += m.At(i, j)
				cm.FP += m.At(j, i)
			}
		}
		cm.TN = n - cm.TP - cm.FN - cm.FP

		cm.Precision = ratio(float64(cm.TP), float64(cm.TP+cm.FP))
		cm.Recall = ratio(float64(cm.TP), float64(cm.TP+cm.FN))
		cm.F1 = f1(cm.Precision, cm.Recall)
		cm.ErrorRate = ratio(float64(cm.FP+cm.FN), float64(cm.Support))
		cm.Accuracy = complement(cm.ErrorRate)
		classes[i] = cm

		sum.TP += cm.TP
		sum.FP += cm.FP
		sum.FN += cm.FN
		sum.TN += cm.TN
	}

	overall := OverallMetrics{Counts: sum, N: n}
	overall.Precision = ratio(float64(sum.TP), float64(sum.TP+sum.FP))
	overall.Recall = ratio(float64(sum.TP), float64(sum.TP+sum.FN))
	overall.F1 = f1(overall.Precision, overall.Recall)
	overall.ErrorRate = ratio(float64(sum.FP+sum.FN), float64(n))
	overall.Accuracy = complement(overall.ErrorRate)

	return classes, overall
}

// #endregion compute

// #region helpers
func f1(p, r Ratio) Ratio {
	if !p.Defined || !r.Defined {
		return Ratio{}
	}
	return ratio(2*p.Value*r.Value, p.Value+r.Value)
}

func complement(r Ratio) Ratio {
	if !r.Defined {
		return Ratio{}
	}
	return Ratio{Value: 1 - r.Value, Defined: true}
}

func (a Alert) String() string {
	op := "below"
	if a.Metric == "error_rate" {
		op = "above"
	}
	return fmt.Sprintf("%s %s %.4f %s %.2f", a.Scope, a.Metric, a.Value, op, a.Limit)
}

// checkThresholds flags defined metrics that cross the configured limits.
// Undefined metrics never alert. Per-class checks only apply to classes with
// samples.
func (h *EvalHarness) checkThresholds(classes []ClassMetrics, overall OverallMetrics) []Alert {
	var alerts []Alert
	check := func(scope string, precision, recall, f1, accuracy, errorRate Ratio) {
		floors := []struct {
			name string
			r    Ratio
		}{
			{"precision", precision},
			{"recall", recall},
			{"f1", f1},
			{"accuracy", accuracy},
		}
		for _, f := range floors {
			if f.r.Defined && f.r.Value < h.config.MinScore {
				alerts = append(alerts, Alert{Scope: scope, Metric: f.name, Value: f.r.Value, Limit: h.config.MinScore})
			}
		}
		if errorRate.Defined && errorRate.Value > h.config.MaxErrorRate {
			alerts = append(alerts, Alert{Scope: scope, Metric: "error_rate", Value: errorRate.Value, Limit: h.config.MaxErrorRate})
		}
	}

	if overall.N > 0 {
		check("overall", overall.Precision, overall.Recall, overall.F1, overall.Accuracy, overall.ErrorRate)
	}
	for _, c := range classes {
		if c.Support == 0 && c.FP == 0 {
			continue
		}
		check(fmt.Sprintf("class %d", c.Class), c.Precision, c.Recall, c.F1, c.Accuracy, c.ErrorRate)
	}
	return alerts
}

// #endregion helpers
