package preprocess

import (
	"image"
	"testing"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

const (
	blue  = 30
	green = 60
	red   = 90
)

// solidFrame returns a BGR frame filled with a single color.
func solidFrame(t *testing.T, width, height int) gocv.Mat {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(blue, green, red, 0), height, width, gocv.MatTypeCV8UC3)
	require.False(t, mat.Empty())
	return mat
}

func values(t *testing.T, dense *tensor.Dense) []float32 {
	t.Helper()
	data, ok := dense.Data().([]float32)
	require.True(t, ok)
	return data
}

func TestParseInputShape(t *testing.T) {
	tests := []struct {
		name     string
		dims     []int64
		expected Layout
	}{
		{name: "HWC", dims: []int64{48, 48, 1}, expected: Layout{Height: 48, Width: 48, Channels: 1}},
		{name: "NHWC dynamic batch", dims: []int64{-1, 96, 64, 3}, expected: Layout{Height: 96, Width: 64, Channels: 3}},
		{name: "NHWC fixed batch", dims: []int64{1, 224, 224, 3}, expected: Layout{Height: 224, Width: 224, Channels: 3}},
		{
			name:     "NCHW",
			dims:     []int64{1, 3, 112, 112},
			expected: Layout{Height: 112, Width: 112, Channels: 3, Order: ChannelOrderCHW},
		},
		{
			name:     "NCHW grayscale",
			dims:     []int64{-1, 1, 64, 64},
			expected: Layout{Height: 64, Width: 64, Channels: 1, Order: ChannelOrderCHW},
		},
		{name: "ambiguous tiny input stays NHWC", dims: []int64{1, 3, 3, 3}, expected: Layout{Height: 3, Width: 3, Channels: 3}},
		{name: "dynamic spatial dims", dims: []int64{-1, -1, -1, 3}, expected: DefaultLayout},
		{name: "unsupported channels", dims: []int64{1, 48, 48, 4}, expected: DefaultLayout},
		{name: "rank 2", dims: []int64{48, 48}, expected: DefaultLayout},
		{name: "empty", dims: nil, expected: DefaultLayout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseInputShape(tt.dims))
		})
	}
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeRGB01, mode)

	mode, err = ParseMode(" RAW_BGR ")
	require.NoError(t, err)
	assert.Equal(t, ModeRawBGR, mode)

	_, err = ParseMode("hsv")
	assert.True(t, errors.Is(err, common.ErrInvalid))
}

func TestPrepare_Color(t *testing.T) {
	frame := solidFrame(t, 120, 100)
	defer frame.Close()
	box := common.BoundingBox{X: 10, Y: 20, W: 50, H: 40}
	layout := Layout{Height: 24, Width: 32, Channels: 3}

	t.Run("rgb01", func(t *testing.T) {
		dense, err := Prepare(frame, box, layout, ModeRGB01)
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{1, 24, 32, 3}, dense.Shape())

		data := values(t, dense)
		require.Len(t, data, 24*32*3)
		for i := 0; i < len(data); i += 3 {
			assert.InDelta(t, red/255.0, data[i], 1e-6)
			assert.InDelta(t, green/255.0, data[i+1], 1e-6)
			assert.InDelta(t, blue/255.0, data[i+2], 1e-6)
		}
	})

	t.Run("raw_bgr", func(t *testing.T) {
		dense, err := Prepare(frame, box, layout, ModeRawBGR)
		require.NoError(t, err)

		data := values(t, dense)
		assert.Equal(t, float32(blue), data[0])
		assert.Equal(t, float32(green), data[1])
		assert.Equal(t, float32(red), data[2])
	})

	t.Run("unknown mode behaves as rgb01", func(t *testing.T) {
		dense, err := Prepare(frame, box, layout, Mode("sepia"))
		require.NoError(t, err)
		assert.InDelta(t, red/255.0, values(t, dense)[0], 1e-6)
	})

	t.Run("channel first", func(t *testing.T) {
		chw := Layout{Height: 8, Width: 8, Channels: 3, Order: ChannelOrderCHW}
		dense, err := Prepare(frame, box, chw, ModeRGB01)
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{1, 3, 8, 8}, dense.Shape())

		data := values(t, dense)
		plane := 8 * 8
		assert.InDelta(t, red/255.0, data[0], 1e-6)
		assert.InDelta(t, red/255.0, data[plane-1], 1e-6)
		assert.InDelta(t, green/255.0, data[plane], 1e-6)
		assert.InDelta(t, blue/255.0, data[2*plane], 1e-6)
	})
}

func TestPrepare_Grayscale(t *testing.T) {
	frame := solidFrame(t, 64, 64)
	defer frame.Close()
	box := common.BoundingBox{X: 0, Y: 0, W: 64, H: 64}
	layout := Layout{Height: 48, Width: 48, Channels: 1}

	luminance := 0.299*red + 0.587*green + 0.114*blue

	dense, err := Prepare(frame, box, layout, ModeRGB01)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 48, 48, 1}, dense.Shape())
	data := values(t, dense)
	require.Len(t, data, 48*48)
	assert.InDelta(t, luminance/255.0, data[0], 1.0/255.0)

	dense, err = Prepare(frame, box, layout, ModeRawBGR)
	require.NoError(t, err)
	assert.InDelta(t, luminance, values(t, dense)[100], 1.0)
}

func TestPrepare_CropsTheBox(t *testing.T) {
	// Left half black, right half white.
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 40, 80, gocv.MatTypeCV8UC3)
	defer frame.Close()
	right := frame.Region(image.Rect(40, 0, 80, 40))
	right.SetTo(gocv.NewScalar(255, 255, 255, 0))
	right.Close()

	dense, err := Prepare(frame, common.BoundingBox{X: 45, Y: 5, W: 30, H: 30}, Layout{Height: 10, Width: 10, Channels: 3}, ModeRGB01)
	require.NoError(t, err)
	for _, v := range values(t, dense) {
		assert.InDelta(t, 1.0, v, 1e-6)
	}

	dense, err = Prepare(frame, common.BoundingBox{X: 0, Y: 0, W: 30, H: 30}, Layout{Height: 10, Width: 10, Channels: 3}, ModeRGB01)
	require.NoError(t, err)
	for _, v := range values(t, dense) {
		assert.InDelta(t, 0.0, v, 1e-6)
	}
}

func TestPrepare_Invalid(t *testing.T) {
	frame := solidFrame(t, 50, 50)
	defer frame.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	tests := []struct {
		name string
		img  gocv.Mat
		box  common.BoundingBox
	}{
		{name: "empty frame", img: empty, box: common.BoundingBox{W: 10, H: 10}},
		{name: "empty box", img: frame, box: common.BoundingBox{X: 5, Y: 5}},
		{name: "box past right edge", img: frame, box: common.BoundingBox{X: 45, Y: 0, W: 10, H: 10}},
		{name: "negative origin", img: frame, box: common.BoundingBox{X: -1, Y: 0, W: 10, H: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dense, err := Prepare(tt.img, tt.box, DefaultLayout, ModeRGB01)
			assert.Nil(t, dense)
			assert.True(t, errors.Is(err, common.ErrInvalid), "got %v", err)
		})
	}
}

func TestPrepare_InvalidLayoutFallsBack(t *testing.T) {
	frame := solidFrame(t, 30, 30)
	defer frame.Close()

	dense, err := Prepare(frame, common.BoundingBox{W: 30, H: 30}, Layout{}, ModeRGB01)
	require.NoError(t, err)
	assert.Equal(t, DefaultLayout.Shape(), dense.Shape())
}
