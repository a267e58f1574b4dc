package common

import (
	"fmt"
	"image"
	"math"
)

const (
	// DefaultFaceMargin is the fraction by which a detected face grows before cropping.
	DefaultFaceMargin = 0.25
)

// BoundingBox is an integer pixel rectangle anchored at its top-left corner.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// FromRect converts an image.Rectangle to a BoundingBox.
func FromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// ToRect converts the bounding box to an image.Rectangle.
//
// Returns:
//   - image.Rectangle: The rectangle spanning [X, X+W) x [Y, Y+H).
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Area returns W*H.
func (b BoundingBox) Area() int {
	return b.W * b.H
}

// Empty reports whether the box has no pixels.
func (b BoundingBox) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Within reports whether the box is non-empty and lies fully inside an image of the given size.
func (b BoundingBox) Within(size image.Point) bool {
	return !b.Empty() && b.X >= 0 && b.Y >= 0 && b.X+b.W <= size.X && b.Y+b.H <= size.Y
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d, %d) %dx%d", b.X, b.Y, b.W, b.H)
}

// Expand grows a face region by a margin around its center, optionally squares it, and
// clamps the result to the image.
//
// The left and top edges are clipped to zero without extending the opposite edge, and the
// width and height shrink when the region runs past the right or bottom edge. Coordinates
// are rounded half to even.
//
// Arguments:
//   - size: The image dimensions (X = width, Y = height).
//   - box: The detected region.
//   - margin: The growth fraction (0.25 grows each side length by 25%).
//   - square: Whether to replace width and height by their maximum.
//
// Returns:
//   - BoundingBox: The expanded region, inside the image whenever the image is non-empty.
//
// @example
// face := BoundingBox{X: 100, Y: 80, W: 40, H: 60}
// crop := Expand(image.Pt(640, 480), face, DefaultFaceMargin, true) // (82, 72) 75x75
func Expand(size image.Point, box BoundingBox, margin float64, square bool) BoundingBox {
	cx := float64(box.X) + float64(box.W)/2.0
	cy := float64(box.Y) + float64(box.H)/2.0

	w := float64(box.W) * (1.0 + margin)
	h := float64(box.H) * (1.0 + margin)
	if square {
		side := math.Max(w, h)
		w, h = side, side
	}

	out := BoundingBox{
		X: int(math.RoundToEven(cx - w/2.0)),
		Y: int(math.RoundToEven(cy - h/2.0)),
		W: int(math.RoundToEven(w)),
		H: int(math.RoundToEven(h)),
	}

	out.X = max(0, out.X)
	out.Y = max(0, out.Y)
	// A region starting past the far edge keeps at least its last pixel.
	if size.X > 0 && out.X >= size.X {
		out.X = size.X - 1
	}
	if size.Y > 0 && out.Y >= size.Y {
		out.Y = size.Y - 1
	}
	if out.X+out.W > size.X {
		out.W = size.X - out.X
	}
	if out.Y+out.H > size.Y {
		out.H = size.Y - out.Y
	}

	return out
}
