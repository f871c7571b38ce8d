package detection

import (
	"sort"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// IoU is the intersection over union of two x1,y1,x2,y2 boxes
func IoU(a, b [4]float64) float64 {
	ix1, iy1 := max(a[0], b[0]), max(a[1], b[1])
	ix2, iy2 := min(a[2], b[2]), min(a[3], b[3])
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := area(a) + area(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func area(b [4]float64) float64 {
	return (b[2] - b[0]) * (b[3] - b[1])
}

// FilterByConfidence keeps detections whose confidence is strictly above threshold
func FilterByConfidence(dets []types.Detection, threshold float64) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence > threshold {
			out = append(out, d)
		}
	}
	return out
}

// NonMaxSuppression performs greedy per-class NMS. Detections are visited in
// descending confidence; any later detection of the same class whose IoU with
// a kept one exceeds iouThreshold is dropped.
func NonMaxSuppression(dets []types.Detection, iouThreshold float64) []types.Detection {
	if len(dets) <= 1 {
		return dets
	}

	sorted := make([]types.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]types.Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
