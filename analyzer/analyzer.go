// Package analyzer - Runs the frame to emotion pipeline.
package analyzer

import (
	"context"
	"math"
	"time"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/nvr-ai/go-emotion/faces"
	"github.com/nvr-ai/go-emotion/images"
	"github.com/nvr-ai/go-emotion/logger"
	"github.com/nvr-ai/go-emotion/models"
	"github.com/nvr-ai/go-emotion/models/postprocess"
	"github.com/nvr-ai/go-emotion/models/preprocess"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Result is the outcome of analyzing one frame.
type Result struct {
	// Emotion is the label with the highest probability.
	Emotion models.Emotion `json:"emotion"`
	// Probabilities has one entry per label.
	Probabilities models.Probabilities `json:"probs"`
	// InferenceMs is the wall-clock time of the whole call, one decimal.
	InferenceMs float64 `json:"inferenceMs"`
	// BBox is the expanded face region, nil when no face was found.
	BBox *common.BoundingBox `json:"bbox"`
}

// BundleProvider hands out the loaded classifier and cascade.
type BundleProvider interface {
	Bundle() (*models.Bundle, error)
}

// Options configures an Analyzer.
type Options struct {
	// Mode is the preprocessing convention of the classifier.
	Mode preprocess.Mode
	// FaceMargin is the growth applied to the detected face before cropping.
	FaceMargin float64
	// Logger is optional.
	Logger *zap.Logger
}

// DefaultOptions returns rgb01 preprocessing with a 25% face margin.
func DefaultOptions() Options {
	return Options{
		Mode:       preprocess.ModeRGB01,
		FaceMargin: common.DefaultFaceMargin,
	}
}

// Analyzer runs face detection and emotion classification on encoded frames.
//
// It is safe for concurrent use. Decoding and normalization run in parallel; face
// detection, preprocessing and inference run inside models.Bundle.Do, so every Analyzer
// sharing a bundle takes turns on the cascade and the classifier.
type Analyzer struct {
	registry BundleProvider
	mode     preprocess.Mode
	margin   float64
	log      *zap.Logger
}

// New creates an Analyzer.
//
// Arguments:
//   - registry: Source of the classifier bundle.
//   - opts: Pipeline options.
//
// Returns:
//   - *Analyzer: The analyzer.
func New(registry BundleProvider, opts Options) *Analyzer {
	if opts.Mode == "" {
		opts.Mode = preprocess.ModeRGB01
	}
	if opts.FaceMargin < 0 || math.IsNaN(opts.FaceMargin) {
		opts.FaceMargin = common.DefaultFaceMargin
	}
	return &Analyzer{
		registry: registry,
		mode:     opts.Mode,
		margin:   opts.FaceMargin,
		log:      logger.OrDefault(opts.Logger),
	}
}

// AnalyzeFrame analyzes a data URL and returns nil when analysis is unavailable.
func (a *Analyzer) AnalyzeFrame(dataURL string) *Result {
	result, err := a.Analyze(context.Background(), dataURL)
	if err != nil {
		return nil
	}
	return result
}

// Analyze decodes a data URL (or bare base64 image) and estimates the driver's emotion.
//
// Arguments:
//   - ctx: Checked once before the pipeline starts; a running analysis is not interrupted.
//   - dataURL: The encoded frame.
//
// Returns:
//   - *Result: The analysis; a neutral result without a box when no face is visible.
//   - error: common.ErrUnavailable wrapped with the cause.
func (a *Analyzer) Analyze(ctx context.Context, dataURL string) (*Result, error) {
	return a.analyze(ctx, func() (*images.Image, error) {
		return images.ParseDataURL(dataURL)
	})
}

// AnalyzeImage runs the same pipeline as Analyze on raw encoded image bytes.
func (a *Analyzer) AnalyzeImage(ctx context.Context, data []byte) (*Result, error) {
	return a.analyze(ctx, func() (*images.Image, error) {
		return &images.Image{Format: images.FormatUnknown, Data: data}, nil
	})
}

func (a *Analyzer) analyze(ctx context.Context, source func() (*images.Image, error)) (result *Result, err error) {
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			a.log.Error("emotion analysis panicked", zap.Any("panic", p))
			result, err = nil, errors.Wrapf(common.ErrUnavailable, "analysis panicked: %v", p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(common.ErrUnavailable, err.Error())
	}

	bundle, err := a.registry.Bundle()
	if err != nil {
		return nil, unavailable(err)
	}

	encoded, err := source()
	if err != nil {
		a.log.Warn("failed to parse frame", zap.Error(err))
		return nil, unavailable(err)
	}

	frame, err := images.Decode(encoded.Data)
	defer frame.Close()
	if err != nil {
		a.log.Warn("failed to decode frame",
			zap.String("format", string(encoded.Format)),
			zap.Int("bytes", len(encoded.Data)),
			zap.Error(err))
		return nil, unavailable(err)
	}
	if ce := a.log.Check(zap.DebugLevel, "frame decoded"); ce != nil {
		ce.Write(
			zap.String("format", string(encoded.Format)),
			zap.Int("width", frame.Cols()),
			zap.Int("height", frame.Rows()),
			zap.String("fingerprint", images.Fingerprint(frame)))
	}

	raw, box, found, err := a.infer(bundle, frame)
	if err != nil {
		a.log.Error("emotion inference failed", zap.Error(err))
		return nil, unavailable(err)
	}
	if !found {
		return &Result{
			Emotion:       models.Neutral,
			Probabilities: models.NeutralProbabilities(),
			InferenceMs:   elapsedMs(start),
		}, nil
	}

	normalized, err := postprocess.Normalize(raw)
	if err != nil {
		a.log.Error("failed to normalize classifier output", zap.Error(err))
		return nil, unavailable(err)
	}

	probs, err := models.NewProbabilities(normalized)
	if err != nil {
		a.log.Error("unexpected classifier output", zap.Int("length", len(normalized)), zap.Error(err))
		return nil, unavailable(err)
	}

	return &Result{
		Emotion:       probs.Dominant(),
		Probabilities: probs,
		InferenceMs:   elapsedMs(start),
		BBox:          &box,
	}, nil
}

// infer locates the face and runs the classifier while holding the bundle lock.
func (a *Analyzer) infer(bundle *models.Bundle, frame gocv.Mat) (raw []float32, box common.BoundingBox, found bool, err error) {
	err = bundle.Do(func() error {
		var face common.BoundingBox
		face, found = faces.FindLargestFace(frame, bundle.Cascade, a.log)
		if !found {
			return nil
		}

		box = common.Expand(images.Size(frame), face, a.margin, true)
		layout := preprocess.ParseInputShape(bundle.Classifier.InputShape())

		input, err := preprocess.Prepare(frame, box, layout, a.mode)
		if err != nil {
			return errors.Wrap(err, "failed to preprocess face")
		}

		raw, err = bundle.Classifier.Predict(input)
		if err != nil {
			return errors.Wrap(err, "classifier failed")
		}
		return nil
	})
	return raw, box, found, err
}

// unavailable wraps err with common.ErrUnavailable unless it already carries it.
func unavailable(err error) error {
	if errors.Is(err, common.ErrUnavailable) {
		return err
	}
	return errors.Wrap(common.ErrUnavailable, err.Error())
}

func elapsedMs(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	return math.Round(ms*10) / 10
}
