// Package faces - Haar cascade face localization.
package faces

import (
	"image"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/nvr-ai/go-emotion/logger"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	// ScaleFactor is the image pyramid step between detection scales.
	ScaleFactor = 1.1
	// MinNeighbors is the number of overlapping candidates a detection needs to be kept.
	MinNeighbors = 5
	// MinFaceSize is the smallest region, in pixels, the cascade reports.
	MinFaceSize = 30
)

// Detector is the subset of gocv.CascadeClassifier used by the locator.
//
// Implementations are not required to be safe for concurrent use.
type Detector interface {
	DetectMultiScaleWithParams(img gocv.Mat, scale float64, minNeighbors, flags int,
		minSize, maxSize image.Point) []image.Rectangle
	Close() error
}

// FindLargestFace returns the largest face found by the cascade.
//
// The frame is converted to grayscale and scanned at multiple scales. Among the detected
// regions the one with the greatest area wins; ties keep the first region reported. Any
// detection failure, including a panic in the native layer, is reported as no face.
//
// Arguments:
//   - img: The BGR (or already grayscale) frame.
//   - detector: The loaded cascade.
//   - log: Optional logger; nil falls back to the console.
//
// Returns:
//   - common.BoundingBox: The largest face.
//   - bool: False when no face was found.
func FindLargestFace(img gocv.Mat, detector Detector, log *zap.Logger) (box common.BoundingBox, found bool) {
	log = logger.OrDefault(log)

	defer func() {
		if r := recover(); r != nil {
			log.Error("face detection panicked", zap.Any("panic", r))
			box, found = common.BoundingBox{}, false
		}
	}()

	if detector == nil || img.Empty() {
		log.Warn("face detection skipped",
			zap.Bool("detector", detector != nil),
			zap.Bool("empty_frame", img.Empty()))
		return common.BoundingBox{}, false
	}

	gray := gocv.NewMat()
	defer gray.Close()

	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	rects := detector.DetectMultiScaleWithParams(
		gray,
		ScaleFactor,
		MinNeighbors,
		0,
		image.Pt(MinFaceSize, MinFaceSize),
		image.Pt(0, 0),
	)

	return Largest(rects)
}

// Largest picks the rectangle with the greatest area, keeping the first one on ties.
func Largest(rects []image.Rectangle) (common.BoundingBox, bool) {
	best := -1
	bestArea := 0
	for i, r := range rects {
		r = r.Canon()
		area := r.Dx() * r.Dy()
		if area <= 0 {
			continue
		}
		if best < 0 || area > bestArea {
			best = i
			bestArea = area
		}
	}
	if best < 0 {
		return common.BoundingBox{}, false
	}
	return common.FromRect(rects[best]), true
}
