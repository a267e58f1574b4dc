package images

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-emotion/common"
	"github.com/pkg/errors"
)

// DownscaleQuality is the JPEG quality used when re-encoding a downscaled image.
const DownscaleQuality = 90

// Downscale shrinks an encoded JPEG or PNG so that its longest side is at most maxSide.
//
// Images already within bounds are returned untouched. Downscaled images are re-encoded
// as JPEG, keeping the aspect ratio.
//
// Arguments:
//   - data: The encoded image.
//   - maxSide: The longest allowed side in pixels; <= 0 disables downscaling.
//
// Returns:
//   - []byte: The original or re-encoded bytes.
//   - bool: Whether the image was downscaled.
//   - error: common.ErrInvalid wrapped with the cause.
//
// @example
//
//	data, resized, err := images.Downscale(raw, 1280)
func Downscale(data []byte, maxSide int) ([]byte, bool, error) {
	if maxSide <= 0 {
		return data, false, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, false, errors.Wrapf(common.ErrInvalid, "failed to read image header: %v", err)
	}
	if cfg.Width <= maxSide && cfg.Height <= maxSide {
		return data, false, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, errors.Wrapf(common.ErrInvalid, "failed to decode image: %v", err)
	}

	thumb := resize.Thumbnail(uint(maxSide), uint(maxSide), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: DownscaleQuality}); err != nil {
		return nil, false, errors.Wrap(err, "failed to encode downscaled image")
	}
	return buf.Bytes(), true, nil
}
