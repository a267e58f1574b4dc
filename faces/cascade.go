package faces

import (
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-emotion/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FrontalFaceCascade is the file name of OpenCV's default frontal face cascade.
const FrontalFaceCascade = "haarcascade_frontalface_default.xml"

// ErrNoCascade is returned when neither the custom nor any fallback cascade loads.
var ErrNoCascade = errors.New("no usable haar cascade")

// Opener loads a cascade from a file.
type Opener func(path string) (Detector, error)

// OpenCascade loads a gocv cascade classifier from path.
//
// Returns:
//   - Detector: The loaded cascade.
//   - error: An error if the file is missing or loads to an empty classifier.
func OpenCascade(path string) (Detector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "cascade not found: %s", path)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, errors.Errorf("cascade is empty: %s", path)
	}

	return &classifier, nil
}

// DefaultFallbackPaths lists where OpenCV installations keep the bundled frontal face cascade.
//
// $OPENCV_HAARCASCADES, when set, is searched first.
func DefaultFallbackPaths() []string {
	var paths []string
	if dir := os.Getenv("OPENCV_HAARCASCADES"); dir != "" {
		paths = append(paths, filepath.Join(dir, FrontalFaceCascade))
	}
	for _, dir := range []string{
		"/usr/local/share/opencv4/haarcascades",
		"/usr/share/opencv4/haarcascades",
		"/opt/homebrew/share/opencv4/haarcascades",
		"/usr/local/share/OpenCV/haarcascades",
		"/usr/share/opencv/haarcascades",
	} {
		paths = append(paths, filepath.Join(dir, FrontalFaceCascade))
	}
	return paths
}

// ResolveCascade loads the custom cascade, falling back to the bundled default cascade.
//
// Order of resolution:
//  1. The custom path, when it exists and loads to a non-empty classifier.
//  2. Each fallback path in order.
//
// Arguments:
//   - custom: The configured cascade path; may be empty.
//   - fallbacks: Candidate locations of the default frontal face cascade.
//   - open: The loader, OpenCascade when nil.
//   - log: Optional logger.
//
// Returns:
//   - Detector: The first cascade that loaded.
//   - string: The path it was loaded from.
//   - error: ErrNoCascade when nothing loaded.
func ResolveCascade(custom string, fallbacks []string, open Opener, log *zap.Logger) (Detector, string, error) {
	log = logger.OrDefault(log)
	if open == nil {
		open = OpenCascade
	}

	if custom != "" {
		log.Info("loading custom haar cascade", zap.String("path", custom))
		detector, err := open(custom)
		if err == nil {
			return detector, custom, nil
		}
		log.Warn("custom haar cascade unusable, trying fallback", zap.String("path", custom), zap.Error(err))
	}

	for _, path := range fallbacks {
		if path == "" || path == custom {
			continue
		}
		detector, err := open(path)
		if err != nil {
			log.Debug("fallback haar cascade unusable", zap.String("path", path), zap.Error(err))
			continue
		}
		log.Info("loaded fallback haar cascade", zap.String("path", path))
		return detector, path, nil
	}

	log.Error("no haar cascade could be loaded", zap.String("custom", custom), zap.Strings("fallbacks", fallbacks))
	return nil, "", ErrNoCascade
}
