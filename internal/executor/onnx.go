package executor

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// #region onnx-environment
var (
	ortOnce sync.Once
	ortErr  error
)

// initONNX initializes the process-wide ONNX Runtime environment exactly once.
// Sessions are per worker; the environment is shared.
func initONNX(sharedLibrary string) error {
	ortOnce.Do(func() {
		if sharedLibrary != "" {
			ort.SetSharedLibraryPath(sharedLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("initialize ONNX environment: %w", err)
		}
	})
	return ortErr
}

// ShutdownONNX tears the environment down. Call it once, after every ONNX
// executor has been closed.
func ShutdownONNX() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// #endregion onnx-environment

// #region onnx-loader
// ONNXLoader creates one ONNX Runtime session per Load call.
type ONNXLoader struct {
	ModelPath     string
	SharedLibrary string
	InputName     string
	OutputName    string
	InputShape    []int64
	OutputShape   []int64
}

// Load builds the input/output tensors and the session bound to them.
func (l ONNXLoader) Load(_ context.Context) (Executor, error) {
	if err := initONNX(l.SharedLibrary); err != nil {
		return nil, &ModelLoadError{Path: l.ModelPath, Err: err}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(l.InputShape...))
	if err != nil {
		return nil, &ModelLoadError{Path: l.ModelPath, Err: fmt.Errorf("create input tensor: %w", err)}
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(l.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, &ModelLoadError{Path: l.ModelPath, Err: fmt.Errorf("create output tensor: %w", err)}
	}

	session, err := ort.NewAdvancedSession(l.ModelPath,
		[]string{l.InputName}, []string{l.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, &ModelLoadError{Path: l.ModelPath, Err: fmt.Errorf("create session: %w", err)}
	}

	return &ONNX{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// #endregion onnx-loader

// #region onnx-executor
// ONNX runs a model through an ONNX Runtime session.
type ONNX struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// Infer copies input into the bound input tensor, runs the session and
// returns a copy of the output tensor.
func (o *ONNX) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if o.session == nil {
		return nil, &InferenceError{Err: fmt.Errorf("executor closed")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Err: err}
	}

	dst := o.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, &InferenceError{Err: fmt.Errorf("input has %d features, model expects %d", len(input), len(dst))}
	}
	copy(dst, input)

	if err := o.session.Run(); err != nil {
		return nil, &InferenceError{Err: err}
	}

	out := o.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

// Close destroys the session and its tensors.
func (o *ONNX) Close() error {
	if o.inputTensor != nil {
		o.inputTensor.Destroy()
		o.inputTensor = nil
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
		o.outputTensor = nil
	}
	if o.session != nil {
		err := o.session.Destroy()
		o.session = nil
		return err
	}
	return nil
}

// #endregion onnx-executor
