// Package images - Decoding of embedded frames into OpenCV matrices.
package images

import (
	"encoding/base64"
	"strings"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ImageFormat is the subtype declared by a data URL, e.g. "png" for image/png.
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatUnknown is used for bare base64 payloads without a header.
	FormatUnknown ImageFormat = ""
)

const dataURLPrefix = "data:image"

// Image is an encoded frame as sent by a browser capture.
type Image struct {
	// The format declared by the data URL header, if any.
	Format ImageFormat `json:"format" yaml:"format"`
	// The encoded image bytes (PNG, JPEG, ...).
	Data []byte `json:"data" yaml:"data"`
}

// ParseDataURL splits an optional "data:image/...;base64," header from the payload and
// decodes the base64 body.
//
// A string without the header is treated entirely as base64. Standard, URL-safe, padded
// and unpadded encodings are accepted.
//
// Arguments:
//   - encoded: The data URL or bare base64 string.
//
// Returns:
//   - *Image: The declared format and the raw encoded bytes.
//   - error: common.ErrInvalid wrapped with the cause.
func ParseDataURL(encoded string) (*Image, error) {
	encoded = strings.TrimSpace(encoded)

	format := FormatUnknown
	payload := encoded
	if strings.HasPrefix(encoded, dataURLPrefix) {
		header, body, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, errors.Wrap(common.ErrInvalid, "data URL has no payload")
		}
		format = parseFormat(header)
		payload = body
	}

	if payload == "" {
		return nil, errors.Wrap(common.ErrInvalid, "empty image payload")
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, errors.Wrapf(common.ErrInvalid, "malformed base64: %v", err)
	}

	return &Image{Format: format, Data: data}, nil
}

// Decode decodes encoded image bytes into a 3-channel BGR matrix.
//
// **The caller owns the returned Mat and must Close it, on error too.**
//
// Arguments:
//   - data: PNG, JPEG, BMP, WebP or any other format OpenCV can read.
//
// Returns:
//   - gocv.Mat: The decoded image in BGR channel order, origin top-left.
//   - error: common.ErrInvalid wrapped with the cause.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), errors.Wrap(common.ErrInvalid, "empty image data")
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), errors.Wrapf(common.ErrInvalid, "failed to decode image: %v", err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errors.Wrap(common.ErrInvalid, "unrecognized image bytes")
	}

	return mat, nil
}

// DecodeDataURL decodes a data URL (or bare base64 string) into a BGR matrix.
//
// **The caller owns the returned Mat and must Close it, on error too.**
func DecodeDataURL(encoded string) (gocv.Mat, error) {
	img, err := ParseDataURL(encoded)
	if err != nil {
		return gocv.NewMat(), err
	}
	return Decode(img.Data)
}

// EncodeDataURL renders encoded image bytes as a base64 data URL.
func EncodeDataURL(format ImageFormat, data []byte) string {
	if format == FormatUnknown {
		format = FormatPNG
	}
	return dataURLPrefix + "/" + string(format) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// parseFormat extracts "png" from "data:image/png;base64".
func parseFormat(header string) ImageFormat {
	rest := strings.TrimPrefix(header, dataURLPrefix)
	rest = strings.TrimPrefix(rest, "/")
	if i := strings.IndexAny(rest, ";,"); i >= 0 {
		rest = rest[:i]
	}
	switch strings.ToLower(rest) {
	case "jpg", "jpeg", "pjpeg":
		return FormatJPEG
	default:
		return ImageFormat(strings.ToLower(rest))
	}
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
