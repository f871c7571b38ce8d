// Package geometry maps points between image pixels, the scaled display
// surface and normalized label coordinates.
package geometry

import (
	"errors"
	"math"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// ErrNotReady is returned while the canvas has not been laid out yet.
var ErrNotReady = errors.New("canvas not ready")

// Transform is the scale and centering offset of the displayed image
type Transform struct {
	Scale   float64
	OffsetX int
	OffsetY int
}

// Identity is the transform of an unscaled image drawn at the origin
var Identity = Transform{Scale: 1}

// ComputeTransform fits an image into the canvas without ever upscaling it and
// centers the result. Canvas sizes of 1px or less mean the widget has not been
// laid out and yield ErrNotReady.
func ComputeTransform(canvasWidth, canvasHeight, imgWidth, imgHeight int) (Transform, error) {
	if canvasWidth <= 1 || canvasHeight <= 1 {
		return Transform{}, ErrNotReady
	}
	if imgWidth <= 0 || imgHeight <= 0 {
		return Transform{}, types.InvalidInputf("image size %dx%d", imgWidth, imgHeight)
	}

	scaleX := float64(canvasWidth) / float64(imgWidth)
	scaleY := float64(canvasHeight) / float64(imgHeight)
	scale := math.Min(math.Min(scaleX, scaleY), 1.0)

	displayWidth, displayHeight := DisplaySize(imgWidth, imgHeight, scale)

	return Transform{
		Scale:   scale,
		OffsetX: floorDiv(canvasWidth-displayWidth, 2),
		OffsetY: floorDiv(canvasHeight-displayHeight, 2),
	}, nil
}

// DisplaySize returns the truncated size of the image drawn at scale
func DisplaySize(imgWidth, imgHeight int, scale float64) (int, int) {
	return int(float64(imgWidth) * scale), int(float64(imgHeight) * scale)
}

// ToImageSpace converts a canvas point into image pixels. The result is not
// clamped; callers decide what to do with points outside the image.
func ToImageSpace(canvasX, canvasY float64, t Transform) (float64, float64) {
	return (canvasX - float64(t.OffsetX)) / t.Scale, (canvasY - float64(t.OffsetY)) / t.Scale
}

// ToDisplaySpace converts image pixels into integer canvas coordinates for drawing.
func ToDisplaySpace(imgX, imgY float64, t Transform) (int, int) {
	return int(imgX*t.Scale) + t.OffsetX, int(imgY*t.Scale) + t.OffsetY
}

// ImageThreshold converts a threshold in screen pixels into image pixels so hit
// regions keep a constant on-screen size.
func ImageThreshold(pixelThreshold, scale float64) float64 {
	if scale <= 0 {
		return pixelThreshold
	}
	return pixelThreshold / scale
}

// Normalize converts an image-space coordinate into [0,1] label space
func Normalize(v float64, extent int) float64 {
	return v / float64(extent)
}

// Denormalize converts a [0,1] label-space coordinate into image pixels
func Denormalize(v float64, extent int) float64 {
	return v * float64(extent)
}

// InImage reports whether a point lies inside an image of the given size.
// The far edges are exclusive.
func InImage(x, y float64, width, height int) bool {
	return x >= 0 && y >= 0 && x < float64(width) && y < float64(height)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
