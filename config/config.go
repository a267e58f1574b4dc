// Package config - Process configuration for the emotion service.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nvr-ai/go-emotion/common"
	"github.com/nvr-ai/go-emotion/faces"
	"github.com/nvr-ai/go-emotion/inference/providers"
	"github.com/nvr-ai/go-emotion/logger"
	"github.com/nvr-ai/go-emotion/models"
	"github.com/nvr-ai/go-emotion/models/preprocess"
	"github.com/nvr-ai/go-emotion/profiler"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvModelPath        = "EMOTION_MODEL_PATH"
	EnvCascadePath      = "HAAR_CASCADE_PATH"
	EnvCascadeFallbacks = "HAAR_CASCADE_FALLBACK_PATHS"
	EnvPreprocessMode   = "EMOTION_PREPROCESS_MODE"
	EnvFaceMargin       = "EMOTION_FACE_MARGIN"
	EnvRuntimeLibrary   = providers.SharedLibraryEnv
	EnvRuntimeBackend   = "ONNXRUNTIME_BACKEND"
	EnvHTTPAddr         = "EMOTION_HTTP_ADDR"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
)

// PreprocessConfig controls how faces are prepared for the classifier.
type PreprocessConfig struct {
	// Mode is rgb01 or raw_bgr.
	Mode preprocess.Mode `json:"mode" yaml:"mode"`
	// FaceMargin is the growth applied to a detected face before cropping.
	FaceMargin float64 `json:"face_margin" yaml:"face_margin"`
}

// HTTPConfig controls the HTTP adapter.
type HTTPConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr" yaml:"addr"`
	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxBodyBytes limits the request size.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// Config is the complete process configuration.
type Config struct {
	Model      models.RegistryConfig `json:"model"      yaml:"model"`
	Preprocess PreprocessConfig      `json:"preprocess" yaml:"preprocess"`
	HTTP       HTTPConfig            `json:"http"       yaml:"http"`
	Log        logger.Config         `json:"log"        yaml:"log"`
	Profiler   profiler.Options      `json:"profiler"   yaml:"profiler"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
//
// Returns:
//   - Config: The default configuration.
func DefaultConfig() Config {
	return Config{
		Model: models.RegistryConfig{
			ModelPath:        filepath.Join("models", "emotion.onnx"),
			CascadePath:      filepath.Join("models", faces.FrontalFaceCascade),
			CascadeFallbacks: faces.DefaultFallbackPaths(),
			Provider:         providers.DefaultConfig(),
		},
		Preprocess: PreprocessConfig{
			Mode:       preprocess.ModeRGB01,
			FaceMargin: common.DefaultFaceMargin,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    16 << 20,
		},
		Log:      logger.DefaultConfig(),
		Profiler: profiler.DefaultOptions(),
	}
}

// Load builds the configuration.
//
// Order of precedence, lowest first:
//  1. DefaultConfig.
//  2. The YAML file at path, when path is not empty.
//  3. The dotenv files; missing files are skipped.
//  4. The process environment.
//
// Arguments:
//   - path: Optional YAML file.
//   - dotenv: Dotenv files, ".env" is the usual choice.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if a file cannot be parsed or a value is invalid.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	fileEnv, err := readDotenv(dotenv)
	if err != nil {
		return nil, err
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readDotenv(files []string) (map[string]string, error) {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return map[string]string{}, nil
	}

	values, err := godotenv.Read(present...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read dotenv file")
	}
	return values, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvModelPath, &c.Model.ModelPath)
	set(EnvCascadePath, &c.Model.CascadePath)
	set(EnvRuntimeLibrary, &c.Model.Provider.SharedLibraryPath)
	set(EnvHTTPAddr, &c.HTTP.Addr)
	set(EnvLogLevel, &c.Log.Level)
	set(EnvLogFormat, &c.Log.Format)

	if v, ok := lookup(EnvCascadeFallbacks); ok && v != "" {
		c.Model.CascadeFallbacks = filepath.SplitList(v)
	}
	if v, ok := lookup(EnvPreprocessMode); ok && v != "" {
		c.Preprocess.Mode = preprocess.Mode(v)
	}
	if v, ok := lookup(EnvRuntimeBackend); ok && v != "" {
		c.Model.Provider.Backend = providers.ProviderBackend(v)
	}
	if v, ok := lookup(EnvFaceMargin); ok && v != "" {
		margin, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvFaceMargin)
		}
		c.Preprocess.FaceMargin = margin
	}
	return nil
}

// Validate normalizes enumerations and rejects unusable values.
func (c *Config) Validate() error {
	mode, err := preprocess.ParseMode(string(c.Preprocess.Mode))
	if err != nil {
		return err
	}
	c.Preprocess.Mode = mode

	backend, err := providers.ParseBackend(string(c.Model.Provider.Backend))
	if err != nil {
		return err
	}
	c.Model.Provider.Backend = backend

	if err := c.Model.Provider.Validate(); err != nil {
		return err
	}
	if c.Model.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.Preprocess.FaceMargin < 0 {
		return errors.Errorf("face margin must be >= 0, got %v", c.Preprocess.FaceMargin)
	}
	if c.HTTP.ShutdownTimeout < 0 {
		return errors.Errorf("shutdown timeout must be >= 0, got %v", c.HTTP.ShutdownTimeout)
	}
	return nil
}
