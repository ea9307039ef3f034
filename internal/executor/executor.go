// Package executor defines the Model Executor boundary: load a model, run a
// forward pass on one feature vector, release the handle. Backends live in
// this package; the inference server only sees Loader and Executor.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// #region interfaces
// Executor is a loaded model handle. An Executor is owned by a single
// connection worker and is not safe for concurrent use.
type Executor interface {
	// Infer runs one forward pass and returns the raw output scores.
	Infer(ctx context.Context, input []float32) ([]float32, error)
	// Close releases the handle. It is safe to call more than once.
	Close() error
}

// Loader produces a fresh Executor for the configured model.
type Loader interface {
	Load(ctx context.Context) (Executor, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Executor, error)

// Load calls f(ctx).
func (f LoaderFunc) Load(ctx context.Context) (Executor, error) { return f(ctx) }

// #endregion interfaces

// #region errors
// ModelLoadError reports that a model could not be loaded.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError reports a failed forward pass.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ErrEmptyOutput is returned when a model yields no scores.
var ErrEmptyOutput = errors.New("model produced an empty output vector")

// #endregion errors

// #region argmax
// Argmax returns the index of the largest score. Ties resolve to the lowest
// index. NaN scores never win against a number.
func Argmax(scores []float32) (int, error) {
	if len(scores) == 0 {
		return 0, ErrEmptyOutput
	}
	best := 0
	for i := 1; i < len(scores); i++ {
		cur, top := float64(scores[i]), float64(scores[best])
		if cur > top || (math.IsNaN(top) && !math.IsNaN(cur)) {
			best = i
		}
	}
	return best, nil
}

// #endregion argmax
