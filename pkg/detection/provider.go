// Package detection turns detector predictions into annotations. It defines
// the Provider boundary every detector backend satisfies, the importer that
// converts raw predictions into boxes, and a detector built on a vision
// language model.
package detection

import (
	"context"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// Provider runs a detector on an image file. conf and iou are the detector's
// confidence and NMS thresholds. Boxes and keypoints are in absolute image
// pixels.
type Provider interface {
	Detect(ctx context.Context, imagePath string, conf, iou float64) (*types.DetectionResult, error)
}

// ProviderFunc adapts a plain function to Provider
type ProviderFunc func(ctx context.Context, imagePath string, conf, iou float64) (*types.DetectionResult, error)

// Detect calls f
func (f ProviderFunc) Detect(ctx context.Context, imagePath string, conf, iou float64) (*types.DetectionResult, error) {
	return f(ctx, imagePath, conf, iou)
}
