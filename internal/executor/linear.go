package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// #region linear-model
// LinearModel is an affine classifier: scores = Weights·x + Bias. It is
// stored as JSON and is mainly used for tests, benchmarks of the transport
// path, and deployments without an ML runtime.
type LinearModel struct {
	Weights [][]float32 `json:"weights"` // C rows of D columns
	Bias    []float32   `json:"bias"`    // C entries, optional
}

// Validate checks that the matrix is rectangular and the bias matches.
func (m *LinearModel) Validate() error {
	if len(m.Weights) == 0 {
		return fmt.Errorf("no weight rows")
	}
	d := len(m.Weights[0])
	if d == 0 {
		return fmt.Errorf("weight rows are empty")
	}
	for i, row := range m.Weights {
		if len(row) != d {
			return fmt.Errorf("weight row %d has %d columns, want %d", i, len(row), d)
		}
	}
	if m.Bias != nil && len(m.Bias) != len(m.Weights) {
		return fmt.Errorf("bias has %d entries, want %d", len(m.Bias), len(m.Weights))
	}
	return nil
}

// #endregion linear-model

// #region linear-loader
// LinearLoader loads a LinearModel from a JSON file on every Load call so
// each worker owns an independent copy.
type LinearLoader struct {
	Path string
}

// Load reads and validates the weights file.
func (l LinearLoader) Load(_ context.Context) (Executor, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, &ModelLoadError{Path: l.Path, Err: err}
	}
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ModelLoadError{Path: l.Path, Err: fmt.Errorf("parse weights: %w", err)}
	}
	return NewLinear(m, l.Path)
}

// NewLinear wraps an in-memory model. source is only used in error messages.
func NewLinear(m LinearModel, source string) (*Linear, error) {
	if err := m.Validate(); err != nil {
		return nil, &ModelLoadError{Path: source, Err: err}
	}
	return &Linear{model: m}, nil
}

// #endregion linear-loader

// #region linear-executor
// Linear runs a LinearModel.
type Linear struct {
	model  LinearModel
	closed bool
}

// Infer computes the affine scores for input.
func (l *Linear) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if l.closed {
		return nil, &InferenceError{Err: fmt.Errorf("executor closed")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Err: err}
	}
	d := len(l.model.Weights[0])
	if len(input) != d {
		return nil, &InferenceError{Err: fmt.Errorf("input has %d features, model expects %d", len(input), d)}
	}

	out := make([]float32, len(l.model.Weights))
	for c, row := range l.model.Weights {
		var sum float32
		for i, w := range row {
			sum += w * input[i]
		}
		if l.model.Bias != nil {
			sum += l.model.Bias[c]
		}
		out[c] = sum
	}
	return out, nil
}

// Close marks the executor unusable.
func (l *Linear) Close() error {
	l.closed = true
	return nil
}

// #endregion linear-executor
