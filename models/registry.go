package models

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/nvr-ai/go-emotion/faces"
	"github.com/nvr-ai/go-emotion/inference"
	"github.com/nvr-ai/go-emotion/inference/providers"
	"github.com/nvr-ai/go-emotion/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Bundle pairs the emotion classifier with the face cascade.
//
// Both members are always present and neither is reentrant. A Bundle is shared by every
// caller, so all use of the members goes through Do, which runs one caller at a time.
type Bundle struct {
	// Classifier is the loaded emotion model.
	Classifier inference.Classifier
	// Cascade is the loaded face detector.
	Cascade faces.Detector
	// ModelPath is where the classifier was loaded from.
	ModelPath string
	// CascadePath is where the cascade was loaded from.
	CascadePath string

	mu     sync.Mutex
	closed bool
}

// Do runs fn with exclusive use of the classifier and the cascade.
//
// The lock is released even when fn panics.
//
// Arguments:
//   - fn: The work that touches Classifier or Cascade.
//
// Returns:
//   - error: The error of fn, or common.ErrUnavailable once the bundle is closed.
func (b *Bundle) Do(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.Wrap(common.ErrUnavailable, "emotion model was released")
	}
	return fn()
}

// Close waits for a running Do to finish and releases the native handles.
// Safe to call more than once.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	if err := b.Classifier.Close(); err != nil {
		firstErr = errors.Wrap(err, "error closing classifier")
	}
	if err := b.Cascade.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "error closing cascade")
	}
	return firstErr
}

// ClassifierOpener loads a classifier from a model file.
type ClassifierOpener func(path string) (inference.Classifier, error)

// RegistryConfig holds the model and cascade locations.
type RegistryConfig struct {
	// ModelPath is the path of the ONNX emotion model.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// CascadePath is an optional custom Haar cascade.
	CascadePath string `json:"cascade_path" yaml:"cascade_path"`
	// CascadeFallbacks are candidate locations of the default frontal face cascade.
	CascadeFallbacks []string `json:"cascade_fallbacks" yaml:"cascade_fallbacks"`
	// Provider configures the ONNX Runtime session.
	Provider providers.Config `json:"provider" yaml:"provider"`
}

// Registry loads the Bundle on first use and hands out the same Bundle afterwards.
//
// The published bundle is read without locking; loading is serialized by a mutex and
// re-checks the bundle after acquiring it, so concurrent first callers trigger a single
// load. A failed load is not remembered and the next call tries again.
type Registry struct {
	config         RegistryConfig
	log            *zap.Logger
	openClassifier ClassifierOpener
	openCascade    faces.Opener

	bundle atomic.Pointer[Bundle]
	mu     sync.Mutex
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClassifierOpener replaces the ONNX session loader.
func WithClassifierOpener(open ClassifierOpener) RegistryOption {
	return func(r *Registry) {
		r.openClassifier = open
	}
}

// WithCascadeOpener replaces the gocv cascade loader.
func WithCascadeOpener(open faces.Opener) RegistryOption {
	return func(r *Registry) {
		r.openCascade = open
	}
}

// NewRegistry creates a registry; nothing is loaded until Bundle is called.
//
// Arguments:
//   - config: Model and cascade locations.
//   - log: Optional logger.
//   - opts: Loader overrides.
//
// Returns:
//   - *Registry: The registry.
func NewRegistry(config RegistryConfig, log *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		config: config,
		log:    logger.OrDefault(log),
	}
	r.openClassifier = func(path string) (inference.Classifier, error) {
		return inference.NewSession(path, r.config.Provider, r.log)
	}
	r.openCascade = faces.OpenCascade
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bundle returns the loaded classifier bundle, loading it on first use.
//
// Returns:
//   - *Bundle: The shared bundle.
//   - error: common.ErrUnavailable wrapped with the cause.
func (r *Registry) Bundle() (*Bundle, error) {
	if b := r.bundle.Load(); b != nil {
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b := r.bundle.Load(); b != nil {
		return b, nil
	}

	b, err := r.load()
	if err != nil {
		return nil, err
	}
	r.bundle.Store(b)
	return b, nil
}

// Loaded reports whether a bundle has been published.
func (r *Registry) Loaded() bool {
	return r.bundle.Load() != nil
}

// Close releases the native handles of a loaded bundle.
//
// An inference running inside Bundle.Do finishes first; later Do calls on the old
// bundle fail with common.ErrUnavailable. A later Bundle call loads a fresh one.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bundle.Swap(nil)
	if b == nil {
		return nil
	}
	return b.Close()
}

func (r *Registry) load() (bundle *Bundle, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("model loading panicked", zap.Any("panic", p))
			bundle, err = nil, errors.Wrapf(common.ErrUnavailable, "model loading panicked: %v", p)
		}
	}()

	modelPath := r.config.ModelPath
	if modelPath == "" {
		r.log.Warn("emotion model path is not configured")
		return nil, errors.Wrap(common.ErrUnavailable, "emotion model path is not configured")
	}
	if _, statErr := os.Stat(modelPath); statErr != nil {
		r.log.Warn("emotion model not found", zap.String("path", modelPath), zap.Error(statErr))
		return nil, errors.Wrapf(common.ErrUnavailable, "emotion model not found: %s", modelPath)
	}

	classifier, err := r.openClassifier(modelPath)
	if err != nil {
		r.log.Error("failed to load emotion model", zap.String("path", modelPath), zap.Error(err))
		return nil, errors.Wrapf(common.ErrUnavailable, "failed to load emotion model: %v", err)
	}

	cascade, cascadePath, err := faces.ResolveCascade(
		r.config.CascadePath, r.config.CascadeFallbacks, r.openCascade, r.log)
	if err != nil {
		if closeErr := classifier.Close(); closeErr != nil {
			r.log.Warn("failed to close classifier", zap.Error(closeErr))
		}
		return nil, errors.Wrapf(common.ErrUnavailable, "failed to load face cascade: %v", err)
	}

	r.log.Info("emotion models loaded",
		zap.String("model", modelPath),
		zap.String("cascade", cascadePath),
		zap.Int64s("input_shape", classifier.InputShape()))

	return &Bundle{
		Classifier:  classifier,
		Cascade:     cascade,
		ModelPath:   modelPath,
		CascadePath: cascadePath,
	}, nil
}
