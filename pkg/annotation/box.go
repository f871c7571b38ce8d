// Package annotation holds the boxes and keypoints drawn on the currently
// loaded image.
package annotation

import (
	"math"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// MinBoxSize is the side length, in image pixels, a box must exceed to be kept.
// Anything smaller is treated as an accidental click.
const MinBoxSize = 5.0

// Keypoint is a labeled point that belongs to a Box
type Keypoint struct {
	ClassID int     `json:"class_id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

// Box is an axis-aligned rectangle in image pixels with X1 < X2 and Y1 < Y2.
type Box struct {
	ClassID   int        `json:"class_id"`
	X1        float64    `json:"x1"`
	Y1        float64    `json:"y1"`
	X2        float64    `json:"x2"`
	Y2        float64    `json:"y2"`
	Keypoints []Keypoint `json:"keypoints"`
}

// NewBox builds a normalized box from two arbitrary corners. It rejects
// negative class ids, non-finite corners and boxes at or below MinBoxSize on
// either side.
func NewBox(classID int, x1, y1, x2, y2 float64) (Box, error) {
	if classID < 0 {
		return Box{}, types.InvalidInputf("class id %d is negative", classID)
	}
	if !finite(x1, y1, x2, y2) {
		return Box{}, types.InvalidInputf("corners (%v,%v)-(%v,%v) are not finite", x1, y1, x2, y2)
	}
	b := Box{ClassID: classID, X1: x1, Y1: y1, X2: x2, Y2: y2}
	b.normalize()
	if b.Width() <= MinBoxSize || b.Height() <= MinBoxSize {
		return Box{}, types.ErrSubThreshold
	}
	return b, nil
}

// Width of the box in image pixels
func (b Box) Width() float64 {
	return b.X2 - b.X1
}

// Height of the box in image pixels
func (b Box) Height() float64 {
	return b.Y2 - b.Y1
}

// Contains reports whether the point lies inside the box, edges included
func (b Box) Contains(x, y float64) bool {
	return b.X1 <= x && x <= b.X2 && b.Y1 <= y && y <= b.Y2
}

// Clone returns a deep copy of the box
func (b Box) Clone() Box {
	c := b
	if b.Keypoints != nil {
		c.Keypoints = make([]Keypoint, len(b.Keypoints))
		copy(c.Keypoints, b.Keypoints)
	}
	return c
}

// KeypointsByClass indexes the keypoints by class id. A later keypoint with the
// same class id replaces an earlier one.
func (b Box) KeypointsByClass() map[int]Keypoint {
	m := make(map[int]Keypoint, len(b.Keypoints))
	for _, kp := range b.Keypoints {
		m[kp.ClassID] = kp
	}
	return m
}

// normalize swaps corners so that X1 <= X2 and Y1 <= Y2.
func (b *Box) normalize() {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
}

// degenerate reports whether the box has collapsed to a line or a point
func (b Box) degenerate() bool {
	return b.X1 == b.X2 || b.Y1 == b.Y2
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// moveHandle sets the coordinates controlled by h and re-normalizes, so a
// handle dragged past the opposite edge flips the box.
func (b *Box) moveHandle(h types.Handle, x, y float64) {
	switch h {
	case types.HandleTopLeft:
		b.X1, b.Y1 = x, y
	case types.HandleTopRight:
		b.X2, b.Y1 = x, y
	case types.HandleBottomLeft:
		b.X1, b.Y2 = x, y
	case types.HandleBottomRight:
		b.X2, b.Y2 = x, y
	case types.HandleLeft:
		b.X1 = x
	case types.HandleRight:
		b.X2 = x
	case types.HandleTop:
		b.Y1 = y
	case types.HandleBottom:
		b.Y2 = y
	}
	b.normalize()
}
