// Package preprocess - Turns a detected face into the classifier's input tensor.
package preprocess

import (
	"image"
	"strings"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// Mode defines the color order and value range of the input tensor.
type Mode string

const (
	// ModeRGB01 converts to RGB and scales pixel values to [0, 1].
	ModeRGB01 Mode = "rgb01"
	// ModeRawBGR keeps OpenCV's BGR order and pixel values in 0-255.
	ModeRawBGR Mode = "raw_bgr"
)

// ParseMode validates a mode string; the empty string means ModeRGB01.
func ParseMode(s string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return ModeRGB01, nil
	case ModeRGB01, ModeRawBGR:
		return mode, nil
	default:
		return "", errors.Wrapf(common.ErrInvalid, "unknown preprocess mode %q, want %q or %q", s, ModeRGB01, ModeRawBGR)
	}
}

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC ChannelOrder = iota
	// ChannelOrderCHW is Channel-Height-Width ordering.
	ChannelOrderCHW
)

// Layout is the input geometry the classifier expects.
type Layout struct {
	// Height of the input in pixels.
	Height int
	// Width of the input in pixels.
	Width int
	// Channels is 1 for grayscale or 3 for color.
	Channels int
	// Order of the channel dimension.
	Order ChannelOrder
}

// DefaultLayout is used when the model does not declare a usable input shape.
var DefaultLayout = Layout{Height: 224, Width: 224, Channels: 3, Order: ChannelOrderHWC}

// Shape returns the tensor shape including the leading batch dimension.
func (l Layout) Shape() tensor.Shape {
	if l.Order == ChannelOrderCHW {
		return tensor.Shape{1, l.Channels, l.Height, l.Width}
	}
	return tensor.Shape{1, l.Height, l.Width, l.Channels}
}

// ParseInputShape reads the layout from a model's declared input dimensions.
//
// Accepted forms:
//   - (H, W, C)
//   - (N, H, W, C), where N is a batch placeholder and may be dynamic.
//   - (N, C, H, W), recognized when dim 1 is 1 or 3 and dim 3 is not.
//
// Anything else, including non-positive H, W or C, yields DefaultLayout.
//
// Arguments:
//   - dims: The declared input dimensions.
//
// Returns:
//   - Layout: The parsed or default layout.
func ParseInputShape(dims []int64) Layout {
	var layout Layout
	switch len(dims) {
	case 3:
		layout = Layout{Height: int(dims[0]), Width: int(dims[1]), Channels: int(dims[2])}
	case 4:
		if isChannelCount(dims[1]) && !isChannelCount(dims[3]) {
			layout = Layout{Channels: int(dims[1]), Height: int(dims[2]), Width: int(dims[3]), Order: ChannelOrderCHW}
		} else {
			layout = Layout{Height: int(dims[1]), Width: int(dims[2]), Channels: int(dims[3])}
		}
	default:
		return DefaultLayout
	}

	if layout.Height <= 0 || layout.Width <= 0 || !isChannelCount(int64(layout.Channels)) {
		return DefaultLayout
	}
	return layout
}

func isChannelCount(d int64) bool {
	return d == 1 || d == 3
}

// Prepare crops the face, resizes it to the layout and converts it to a float32 tensor.
//
// Grayscale layouts get the luminance of the crop. Color layouts keep BGR in
// ModeRawBGR and are converted to RGB otherwise. ModeRawBGR keeps values in 0-255;
// every other mode scales to [0, 1]. Resizing is bilinear.
//
// Arguments:
//   - img: The decoded BGR frame.
//   - box: The face region; must be non-empty and inside the frame.
//   - layout: The classifier input layout.
//   - mode: The color and value range convention.
//
// Returns:
//   - *tensor.Dense: A tensor of layout.Shape().
//   - error: common.ErrInvalid for an empty frame or a box outside it.
func Prepare(img gocv.Mat, box common.BoundingBox, layout Layout, mode Mode) (*tensor.Dense, error) {
	if img.Empty() {
		return nil, errors.Wrap(common.ErrInvalid, "empty frame")
	}
	size := image.Pt(img.Cols(), img.Rows())
	if box.Empty() || !box.Within(size) {
		return nil, errors.Wrapf(common.ErrInvalid, "face box %s outside %dx%d frame", box, size.X, size.Y)
	}
	if layout.Height <= 0 || layout.Width <= 0 || !isChannelCount(int64(layout.Channels)) {
		layout = DefaultLayout
	}

	face := img.Region(box.ToRect())
	defer face.Close()

	converted := gocv.NewMat()
	defer converted.Close()
	if err := convertColor(face, &converted, layout.Channels, mode); err != nil {
		return nil, err
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(converted, &resized, image.Pt(layout.Width, layout.Height), 0, 0, gocv.InterpolationLinear)
	if resized.Empty() {
		return nil, errors.Wrap(common.ErrInvalid, "resize produced an empty face")
	}

	pixels, err := resized.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrapf(common.ErrInvalid, "failed to read face pixels: %v", err)
	}

	scale := float32(1.0 / 255.0)
	if mode == ModeRawBGR {
		scale = 1
	}

	data := toFloat32(pixels, layout, scale)
	return tensor.New(tensor.WithShape(layout.Shape()...), tensor.WithBacking(data)), nil
}

// convertColor writes the crop in the channel count and color order the layout expects.
func convertColor(face gocv.Mat, dst *gocv.Mat, channels int, mode Mode) error {
	switch {
	case channels == 1 && face.Channels() == 1:
		face.CopyTo(dst)
	case channels == 1 && face.Channels() == 4:
		gocv.CvtColor(face, dst, gocv.ColorBGRAToGray)
	case channels == 1:
		gocv.CvtColor(face, dst, gocv.ColorBGRToGray)
	case face.Channels() == 1:
		// Replicated gray is the same in either color order.
		gocv.CvtColor(face, dst, gocv.ColorGrayToBGR)
	case face.Channels() == 4 && mode == ModeRawBGR:
		gocv.CvtColor(face, dst, gocv.ColorBGRAToBGR)
	case face.Channels() == 4:
		gocv.CvtColor(face, dst, gocv.ColorBGRAToRGB)
	case mode == ModeRawBGR:
		face.CopyTo(dst)
	default:
		gocv.CvtColor(face, dst, gocv.ColorBGRToRGB)
	}
	if dst.Empty() {
		return errors.Wrap(common.ErrInvalid, "color conversion produced an empty face")
	}
	return nil
}

// toFloat32 converts interleaved HWC bytes into the layout's channel order.
func toFloat32(pixels []uint8, layout Layout, scale float32) []float32 {
	h, w, c := layout.Height, layout.Width, layout.Channels
	data := make([]float32, h*w*c)

	if layout.Order == ChannelOrderHWC {
		for i, p := range pixels[:len(data)] {
			data[i] = float32(p) * scale
		}
		return data
	}

	plane := h * w
	for i := 0; i < plane; i++ {
		for ch := 0; ch < c; ch++ {
			data[ch*plane+i] = float32(pixels[i*c+ch]) * scale
		}
	}
	return data
}
