package images

import (
	"crypto/md5"
	"encoding/hex"
	"image"

	"gocv.io/x/gocv"
)

// Fingerprint hashes the pixels of a Mat so identical frames can be spotted in debug logs.
//
// Regions of a larger Mat are hashed by their own pixels only.
//
// Arguments:
//   - mat: The frame.
//
// Returns:
//   - string: Hex MD5 of the pixel buffer, "empty" for an empty Mat.
func Fingerprint(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	src := mat
	if !mat.IsContinuous() {
		src = mat.Clone()
		defer src.Close()
	}

	data, err := src.DataPtrUint8()
	if err != nil {
		return "unreadable"
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Size returns the dimensions of a Mat as a point (X = columns, Y = rows).
func Size(mat gocv.Mat) image.Point {
	return image.Pt(mat.Cols(), mat.Rows())
}
