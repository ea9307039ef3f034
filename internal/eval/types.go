package eval

import "strconv"

// #region eval-config
// EvalConfig holds the class count and the alert thresholds.
type EvalConfig struct {
	Classes      int     // C, size of the confusion matrix
	MinScore     float64 // alert if precision, recall, F1 or accuracy falls below
	MaxErrorRate float64 // alert if error rate rises above
}

// DefaultEvalConfig returns the ten-class defaults with 80% score floors.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Classes:      10,
		MinScore:     0.8,
		MaxErrorRate: 0.2,
	}
}

// #endregion eval-config

// #region ratio
// Ratio is a metric value that may be undefined because its denominator is
// zero. Undefined ratios carry Value 0 and never NaN.
type Ratio struct {
	Value   float64
	Defined bool
}

func ratio(num, den float64) Ratio {
	if den == 0 {
		return Ratio{}
	}
	return Ratio{Value: num / den, Defined: true}
}

// String renders the value with four decimals, or "0 (undefined)".
func (r Ratio) String() string {
	if !r.Defined {
		return "0 (undefined)"
	}
	return strconv.FormatFloat(r.Value, 'f', 4, 64)
}

// MarshalJSON encodes an undefined ratio as null.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, r.Value, 'g', -1, 64), nil
}

// #endregion ratio

// #region class-metrics
// Counts are the one-vs-rest tallies of a class (or their sums).
type Counts struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TN int `json:"tn"`
}

// ClassMetrics are the derived metrics of one class.
type ClassMetrics struct {
	Class int `json:"class"`
	Counts
	Support   int   `json:"support"` // samples whose true label is Class
	Precision Ratio `json:"precision"`
	Recall    Ratio `json:"recall"`
	F1        Ratio `json:"f1"`
	ErrorRate Ratio `json:"error_rate"`
	Accuracy  Ratio `json:"accuracy"`
}

// OverallMetrics aggregate TP/FP/FN/TN across classes.
type OverallMetrics struct {
	Counts
	N         int   `json:"n"`
	Precision Ratio `json:"precision"`
	Recall    Ratio `json:"recall"`
	F1        Ratio `json:"f1"`
	ErrorRate Ratio `json:"error_rate"`
	Accuracy  Ratio `json:"accuracy"`
}

// #endregion class-metrics

// #region eval-result
// Alert is a threshold violation.
type Alert struct {
	Scope  string // "overall" or "class 3"
	Metric string
	Value  float64
	Limit  float64
}

// EvalResult is the full evaluation of one prediction batch.
type EvalResult struct {
	Matrix  *ConfusionMatrix
	Classes []ClassMetrics
	Overall OverallMetrics
	Skipped int // samples ignored because a label was out of range
	Alerts  []Alert
	Passed  bool
	Reason  string
}

// #endregion eval-result
