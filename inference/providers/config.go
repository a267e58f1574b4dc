// Package providers - Execution provider selection and ONNX Runtime session options.
package providers

import (
	"runtime"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

const (
	// CPUProviderBackend runs the model on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// CUDAProviderBackend uses NVIDIA CUDA for GPU acceleration.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// ParseBackend maps a configuration string to a backend; the empty string means CPU.
func ParseBackend(s string) (ProviderBackend, error) {
	switch backend := ProviderBackend(strings.ToLower(strings.TrimSpace(s))); backend {
	case "":
		return CPUProviderBackend, nil
	case CPUProviderBackend, CoreMLProviderBackend, CUDAProviderBackend:
		return backend, nil
	default:
		return "", errors.Errorf("unsupported execution provider backend: %q", s)
	}
}

// Config holds the ONNX Runtime settings for the emotion classifier.
type Config struct {
	// Backend specifies the execution provider to use.
	Backend ProviderBackend `json:"backend" yaml:"backend"`

	// SharedLibraryPath overrides the platform default location of the onnxruntime library.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`

	// IntraOpNumThreads sets threads for parallelizing ops; 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`

	// InterOpNumThreads sets threads for parallelizing independent ops; 0 lets the runtime decide.
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`

	// GraphOptimizationLevel controls the level of graph optimization.
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graph_optimization_level" yaml:"graph_optimization_level"`

	// CUDA options, used when Backend is cuda.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`

	// CoreML options, used when Backend is coreml.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`
}

// DefaultConfig returns a CPU configuration sized for a single small classifier.
//
// The classifier is called under a process-wide lock, so a couple of intra-op threads
// is enough; the remaining cores stay free for decoding and face detection.
//
// Returns:
//   - Config: The default configuration.
//
// @example
// config := DefaultConfig()
// config.Backend = CUDAProviderBackend
// options, err := NewSessionOptions(config)
func DefaultConfig() Config {
	return Config{
		Backend:                CPUProviderBackend,
		IntraOpNumThreads:      maxInt(1, runtime.NumCPU()/2),
		InterOpNumThreads:      1,
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableExtended,
		CUDA:                   DefaultCUDAOptions(),
	}
}

// Validate checks the configuration for values the runtime would reject.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.IntraOpNumThreads < 0 {
		return errors.Errorf("intra_op_num_threads must be >= 0, got %d", c.IntraOpNumThreads)
	}
	if c.InterOpNumThreads < 0 {
		return errors.Errorf("inter_op_num_threads must be >= 0, got %d", c.InterOpNumThreads)
	}
	return nil
}

// maxInt returns the maximum of two integers
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
