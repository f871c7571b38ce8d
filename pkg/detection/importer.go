package detection

import (
	"math"

	"github.com/menta2k/keypoint-labeler/pkg/annotation"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// ImportDetections converts raw detector output into boxes ready to be added
// to an annotation store. Box corners are copied as-is. Keypoint k is kept
// only when its confidence is strictly above visibilityThreshold and becomes a
// visible keypoint of class k; the others are dropped entirely.
//
// Detections with zero width or height are skipped. Nothing is produced when
// any input is invalid, including non-finite coordinates.
func ImportDetections(raw []types.Detection, visibilityThreshold float64) ([]annotation.Box, error) {
	if visibilityThreshold < 0 || visibilityThreshold > 1 || visibilityThreshold != visibilityThreshold {
		return nil, types.InvalidInputf("visibility threshold %v is outside [0,1]", visibilityThreshold)
	}
	for i, d := range raw {
		if d.ClassID < 0 {
			return nil, types.InvalidInputf("detection %d has negative class id %d", i, d.ClassID)
		}
		if !finite(d.Box[:]...) {
			return nil, types.InvalidInputf("detection %d has non-finite box %v", i, d.Box)
		}
		for k, kp := range d.Keypoints {
			if !finite(kp.X, kp.Y) {
				return nil, types.InvalidInputf("detection %d keypoint %d is not finite", i, k)
			}
		}
	}

	boxes := make([]annotation.Box, 0, len(raw))
	for _, d := range raw {
		x1, y1, x2, y2 := d.Box[0], d.Box[1], d.Box[2], d.Box[3]
		if x1 > x2 {
			x1, x2 = x2, x1
		}
		if y1 > y2 {
			y1, y2 = y2, y1
		}
		if x1 == x2 || y1 == y2 {
			continue
		}

		b := annotation.Box{ClassID: d.ClassID, X1: x1, Y1: y1, X2: x2, Y2: y2}
		for k, kp := range d.Keypoints {
			if kp.Confidence > visibilityThreshold {
				b.Keypoints = append(b.Keypoints, annotation.Keypoint{
					ClassID: k,
					X:       kp.X,
					Y:       kp.Y,
					Visible: true,
				})
			}
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
