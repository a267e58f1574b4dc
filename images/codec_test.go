package images

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// patternImage draws a deterministic gradient so every pixel differs from its neighbours.
func patternImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 7),
				G: uint8(y * 13),
				B: uint8((x + y) * 3),
				A: 255,
			})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// TestDecodeDataURL_RoundTrip encodes a synthetic frame as a PNG data URL and checks the
// decoded pixel buffer matches the original exactly.
func TestDecodeDataURL_RoundTrip(t *testing.T) {
	src := patternImage(64, 48)
	url := EncodeDataURL(FormatPNG, pngBytes(t, src))
	require.Contains(t, url, "data:image/png;base64,")

	mat, err := DecodeDataURL(url)
	defer mat.Close()
	require.NoError(t, err)

	assert.Equal(t, 48, mat.Rows())
	assert.Equal(t, 64, mat.Cols())
	assert.Equal(t, 3, mat.Channels())

	expected, err := gocv.ImageToMatRGB(src)
	require.NoError(t, err)
	defer expected.Close()

	assert.Equal(t, Fingerprint(expected), Fingerprint(mat))

	// Spot-check channel order: OpenCV keeps BGR.
	vec := mat.GetVecbAt(5, 9)
	assert.Equal(t, uint8((9+5)*3), vec[0], "blue")
	assert.Equal(t, uint8(5*13), vec[1], "green")
	assert.Equal(t, uint8(9*7), vec[2], "red")
}

func TestDecodeDataURL_BareBase64(t *testing.T) {
	data := pngBytes(t, patternImage(16, 16))

	for name, payload := range map[string]string{
		"std":      base64.StdEncoding.EncodeToString(data),
		"raw std":  base64.RawStdEncoding.EncodeToString(data),
		"url safe": base64.URLEncoding.EncodeToString(data),
	} {
		t.Run(name, func(t *testing.T) {
			mat, err := DecodeDataURL(payload)
			defer mat.Close()
			require.NoError(t, err)
			assert.Equal(t, 16, mat.Cols())
		})
	}
}

func TestDecodeDataURL_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "malformed base64", input: "data:image/png;base64,@@@not-base64@@@"},
		{name: "header without payload", input: "data:image/png;base64"},
		{name: "empty payload", input: "data:image/png;base64,"},
		{name: "not an image", input: base64.StdEncoding.EncodeToString([]byte("definitely not an image"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mat gocv.Mat
			var err error
			assert.NotPanics(t, func() {
				mat, err = DecodeDataURL(tt.input)
			})
			defer mat.Close()

			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalid), "got %v", err)
		})
	}
}

func TestParseDataURL_Format(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})

	tests := []struct {
		input    string
		expected ImageFormat
	}{
		{input: "data:image/png;base64," + payload, expected: FormatPNG},
		{input: "data:image/jpeg;base64," + payload, expected: FormatJPEG},
		{input: "data:image/jpg;base64," + payload, expected: FormatJPEG},
		{input: "data:image/webp;base64," + payload, expected: FormatWebP},
		{input: payload, expected: FormatUnknown},
	}

	for _, tt := range tests {
		img, err := ParseDataURL(tt.input)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, img.Format)
		assert.Equal(t, []byte{1, 2, 3}, img.Data)
	}
}

func TestFingerprint(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	assert.Equal(t, "empty", Fingerprint(empty))

	mat, err := gocv.ImageToMatRGB(patternImage(20, 20))
	require.NoError(t, err)
	defer mat.Close()

	region := mat.Region(image.Rect(2, 2, 10, 10))
	defer region.Close()

	clone := region.Clone()
	defer clone.Close()

	assert.Equal(t, Fingerprint(clone), Fingerprint(region))
	assert.Equal(t, image.Pt(8, 8), Size(region))
}
