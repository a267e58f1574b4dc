// Package inference - ONNX Runtime classifier sessions.
package inference

import (
	"math"
	"os"
	"sync"

	"github.com/nvr-ai/go-emotion/inference/providers"
	"github.com/nvr-ai/go-emotion/logger"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// Classifier maps a preprocessed face tensor to one raw score per class.
//
// Implementations are not required to be safe for concurrent use.
type Classifier interface {
	// InputShape returns the declared input dimensions; dynamic dimensions are <= 0.
	InputShape() []int64
	// Predict runs the model on a batch of one and returns the first output row.
	Predict(input *tensor.Dense) ([]float32, error)
	// Close releases the native session.
	Close() error
}

// Session is a Classifier backed by an ONNX Runtime dynamic session.
//
// Tensors are created per call, so inputs of any shape the model accepts can be fed
// without preallocating buffers. Predict and Close are serialized so the native session
// is never destroyed under a running call.
type Session struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	input   ort.InputOutputInfo
	output  ort.InputOutputInfo
	path    string
}

var _ Classifier = (*Session)(nil)

// NewSession loads an ONNX classifier.
//
// Order of operations:
//  1. Model path check.
//  2. Runtime initialization (once per process).
//  3. Input/output discovery from the model file.
//  4. Session options for the configured execution provider.
//  5. Session creation.
//
// Arguments:
//   - modelPath: The path to the .onnx file.
//   - config: The execution provider configuration.
//   - log: Optional logger.
//
// Returns:
//   - *Session: The loaded session.
//   - error: An error if any step fails.
func NewSession(modelPath string, config providers.Config, log *zap.Logger) (*Session, error) {
	log = logger.OrDefault(log)

	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrapf(err, "model not found: %s", modelPath)
	}

	if err := providers.InitializeRuntime(config, log); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading model inputs and outputs: %s", modelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("model declares %d inputs and %d outputs, need at least one of each",
			len(inputs), len(outputs))
	}

	input, output := inputs[0], outputs[0]
	switch input.DataType {
	case ort.TensorElementDataTypeFloat, ort.TensorElementDataTypeUint8:
	default:
		return nil, errors.Errorf("unsupported input element type %s for %q", input.DataType, input.Name)
	}
	if output.DataType != ort.TensorElementDataTypeFloat {
		return nil, errors.Errorf("unsupported output element type %s for %q", output.DataType, output.Name)
	}

	options, err := providers.NewSessionOptions(config)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{input.Name},
		[]string{output.Name},
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	log.Info("emotion classifier loaded",
		zap.String("path", modelPath),
		zap.String("backend", string(config.Backend)),
		zap.String("input", input.String()),
		zap.String("output", output.String()))

	return &Session{
		session: session,
		input:   input,
		output:  output,
		path:    modelPath,
	}, nil
}

// InputShape returns a copy of the model's declared input dimensions.
func (s *Session) InputShape() []int64 {
	return append([]int64(nil), s.input.Dimensions...)
}

// Predict runs the classifier on a float32 tensor.
//
// When the model declares a uint8 input the values are rounded and clamped to 0-255.
//
// Arguments:
//   - input: The preprocessed tensor, batch dimension included.
//
// Returns:
//   - []float32: The raw output scores, flattened.
//   - error: An error if the tensor cannot be built or the run fails.
func (s *Session) Predict(input *tensor.Dense) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session is closed")
	}
	if input == nil {
		return nil, errors.New("nil input tensor")
	}

	data, ok := input.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("input tensor must be float32, got %v", input.Dtype())
	}
	shape := toShape(input.Shape())

	value, err := s.newInput(shape, data)
	if err != nil {
		return nil, err
	}
	defer value.Destroy()

	// A nil output is allocated by the runtime with the shape it computes.
	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{value}, outputs); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}
	if outputs[0] == nil {
		return nil, errors.New("session produced no output")
	}
	defer outputs[0].Destroy()

	result, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("unexpected output value type %T", outputs[0])
	}

	return append([]float32(nil), result.GetData()...), nil
}

func (s *Session) newInput(shape ort.Shape, data []float32) (ort.Value, error) {
	if s.input.DataType == ort.TensorElementDataTypeUint8 {
		value, err := ort.NewTensor(shape, toUint8(data))
		if err != nil {
			return nil, errors.Wrap(err, "error creating uint8 input tensor")
		}
		return value, nil
	}

	value, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	return value, nil
}

// Close releases the native session. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "error destroying ORT session")
	}
	return nil
}

// String describes the session for logs.
func (s *Session) String() string {
	return s.path + " " + s.input.String() + " -> " + s.output.String()
}

func toShape(dims tensor.Shape) ort.Shape {
	shape := make(ort.Shape, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	return shape
}

func toUint8(data []float32) []uint8 {
	out := make([]uint8, len(data))
	for i, v := range data {
		out[i] = uint8(math.Max(0, math.Min(255, math.Round(float64(v)))))
	}
	return out
}
