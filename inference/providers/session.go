package providers

import (
	"os"
	"sync"

	"github.com/nvr-ai/go-emotion/logger"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var environmentMu sync.Mutex

// InitializeRuntime loads the onnxruntime shared library and prepares the environment.
//
// Required once per process; later calls are no-ops. A failed initialization is not
// remembered, so the next call tries again.
//
// Arguments:
//   - config: The provider configuration; only SharedLibraryPath is read.
//   - log: Optional logger.
//
// Returns:
//   - error: An error if the library is missing or the environment cannot be created.
func InitializeRuntime(config Config, log *zap.Logger) error {
	environmentMu.Lock()
	defer environmentMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath := GetSharedLibPath(config.SharedLibraryPath)
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}

	// Point ONNX Runtime to the exact shared library path (overrides default search).
	ort.SetSharedLibraryPath(libPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}

	logger.OrDefault(log).Info("onnxruntime initialized",
		zap.String("library", libPath),
		zap.String("version", ort.GetVersion()))
	return nil
}

// NewSessionOptions creates session options for the configured backend.
//
// **The caller must Destroy the returned options.**
//
// Arguments:
//   - config: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: An error if an option or the execution provider is rejected.
func NewSessionOptions(config Config) (*ort.SessionOptions, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := applyOptions(options, config); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func applyOptions(options *ort.SessionOptions, config Config) error {
	if err := options.SetIntraOpNumThreads(config.IntraOpNumThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(config.InterOpNumThreads); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(config.GraphOptimizationLevel); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch config.Backend {
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(config.CoreML.Flags()); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case CUDAProviderBackend:
		cuda, err := config.CUDA.ToNativeProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	}

	return nil
}
