// Package hittest resolves which box, handle or keypoint sits under an
// image-space point.
package hittest

import (
	"math"

	"github.com/menta2k/keypoint-labeler/pkg/annotation"
	"github.com/menta2k/keypoint-labeler/pkg/geometry"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// DefaultPixelThreshold is the on-screen hit radius for handles and keypoints
const DefaultPixelThreshold = 10.0

// BoxSource is the read access hit testing needs. *annotation.Store satisfies it.
type BoxSource interface {
	Len() int
	Box(i int) (annotation.Box, error)
}

// FindBoxAt returns the topmost box containing (x, y), edges inclusive.
func FindBoxAt(x, y float64, boxes BoxSource) (int, bool) {
	for i := boxes.Len() - 1; i >= 0; i-- {
		b, err := boxes.Box(i)
		if err != nil {
			continue
		}
		if b.Contains(x, y) {
			return i, true
		}
	}
	return -1, false
}

// FindHandleAt returns the handle of box i under (x, y). The threshold is
// given in screen pixels and converted with the display scale. Corners win
// over edges, and an edge only counts while the point lies along its segment.
func FindHandleAt(x, y float64, i int, boxes BoxSource, pixelThreshold, scale float64) (types.Handle, bool) {
	b, err := boxes.Box(i)
	if err != nil {
		return types.HandleNone, false
	}
	h := HandleOf(b, x, y, geometry.ImageThreshold(pixelThreshold, scale))
	return h, h != types.HandleNone
}

// HandleOf classifies (x, y) against the handles of b using an image-space
// threshold. It returns HandleNone when no handle is hit.
func HandleOf(b annotation.Box, x, y, threshold float64) types.Handle {
	near := func(a, v float64) bool { return math.Abs(a-v) < threshold }

	for _, h := range types.Corners {
		cx, cy := corner(b, h)
		if near(x, cx) && near(y, cy) {
			return h
		}
	}

	withinY := b.Y1 <= y && y <= b.Y2
	withinX := b.X1 <= x && x <= b.X2
	for _, h := range types.Edges {
		var hit bool
		switch h {
		case types.HandleLeft:
			hit = near(x, b.X1) && withinY
		case types.HandleRight:
			hit = near(x, b.X2) && withinY
		case types.HandleTop:
			hit = near(y, b.Y1) && withinX
		case types.HandleBottom:
			hit = near(y, b.Y2) && withinX
		}
		if hit {
			return h
		}
	}
	return types.HandleNone
}

// corner returns the position of corner handle h of b
func corner(b annotation.Box, h types.Handle) (float64, float64) {
	switch h {
	case types.HandleTopRight:
		return b.X2, b.Y1
	case types.HandleBottomLeft:
		return b.X1, b.Y2
	case types.HandleBottomRight:
		return b.X2, b.Y2
	}
	return b.X1, b.Y1
}

// FindKeypointAt returns the index of the keypoint of box i nearest to (x, y)
// whose distance is below the scaled threshold. Ties go to the lowest index.
func FindKeypointAt(x, y float64, i int, boxes BoxSource, pixelThreshold, scale float64) (int, bool) {
	b, err := boxes.Box(i)
	if err != nil {
		return -1, false
	}
	threshold := geometry.ImageThreshold(pixelThreshold, scale)

	best, bestDist := -1, math.Inf(1)
	for k, kp := range b.Keypoints {
		d := math.Hypot(x-kp.X, y-kp.Y)
		if d < threshold && d < bestDist {
			best, bestDist = k, d
		}
	}
	return best, best >= 0
}

// Cursor names the pointer shape a UI shows while hovering a handle
func Cursor(h types.Handle) string {
	switch h {
	case types.HandleTopLeft, types.HandleBottomRight:
		return "top_left_corner"
	case types.HandleTopRight, types.HandleBottomLeft:
		return "top_right_corner"
	case types.HandleLeft, types.HandleRight:
		return "sb_h_double_arrow"
	case types.HandleTop, types.HandleBottom:
		return "sb_v_double_arrow"
	}
	return "cross"
}
