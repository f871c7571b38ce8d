// Package vision proposes boxes without a model: pixels that stand out from
// their neighbours and from the image's mean color are grouped into connected
// regions, and every region large enough becomes a box proposal.
package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/keypoint-labeler/pkg/detection"
	"github.com/menta2k/keypoint-labeler/pkg/processing"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// SubjectDetector finds salient regions in images
type SubjectDetector struct {
	config    DetectionConfig
	processor *processing.Processor
	logger    *zap.SugaredLogger
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	// EdgeThreshold is the normalized saliency above which a pixel belongs to a region
	EdgeThreshold   float64
	ContrastWeight  float64
	ColorWeight     float64
	MinSubjectRatio float64
	// MaxDim bounds the working resolution, 0 keeps the full image
	MaxDim     int
	MaxRegions int
	// ClassID is assigned to every proposal
	ClassID   int
	ClassName string
}

// DefaultConfig returns the configuration used by New
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.25,
		ContrastWeight:  0.5,
		ColorWeight:     0.5,
		MinSubjectRatio: 0.002,
		MaxDim:          256,
		MaxRegions:      10,
		ClassName:       "object",
	}
}

// New creates a new SubjectDetector with default configuration
func New(logger *zap.SugaredLogger) *SubjectDetector {
	return NewWithConfig(DefaultConfig(), logger)
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig, logger *zap.SugaredLogger) *SubjectDetector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SubjectDetector{config: config, processor: processing.NewProcessor(), logger: logger}
}

// Region represents a rectangular region of interest
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Detect implements detection.Provider. Proposals carry the configured class
// and the mean saliency of their region as confidence, and have no keypoints.
func (d *SubjectDetector) Detect(ctx context.Context, imagePath string, conf, iou float64) (*types.DetectionResult, error) {
	img, err := d.processor.LoadImage(imagePath)
	if err != nil {
		return nil, types.ExternalFailure("load image", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	work := img
	if d.config.MaxDim > 0 && (b.Dx() > d.config.MaxDim || b.Dy() > d.config.MaxDim) {
		work = imaging.Fit(img, d.config.MaxDim, d.config.MaxDim, imaging.Box)
	}
	sx := float64(b.Dx()) / float64(work.Bounds().Dx())
	sy := float64(b.Dy()) / float64(work.Bounds().Dy())

	regions, err := d.DetectSubjects(work)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dets := make([]types.Detection, 0, len(regions))
	for _, r := range regions {
		dets = append(dets, types.Detection{
			ClassID: d.config.ClassID,
			Box: [4]float64{
				float64(r.X) * sx,
				float64(r.Y) * sy,
				float64(r.X+r.Width) * sx,
				float64(r.Y+r.Height) * sy,
			},
			Confidence: r.Score,
		})
	}
	kept := detection.NonMaxSuppression(detection.FilterByConfidence(dets, conf), iou)
	d.logger.Debugw("saliency proposals", "image", imagePath, "regions", len(regions), "kept", len(kept))

	return &types.DetectionResult{
		Detections: kept,
		Names:      map[int]string{d.config.ClassID: d.config.ClassName},
	}, nil
}

// DetectSubjects analyzes an image and returns regions of interest, best first
func (d *SubjectDetector) DetectSubjects(img image.Image) ([]Region, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, types.InvalidInputf("empty image")
	}

	saliencyMap := d.calculateSaliencyMap(img)
	regions := d.findImportantRegions(saliencyMap, width, height)
	regions = d.filterAndScoreRegions(regions, width, height)

	if d.config.MaxRegions > 0 && len(regions) > d.config.MaxRegions {
		regions = regions[:d.config.MaxRegions]
	}
	return regions, nil
}

// calculateSaliencyMap scores every pixel by its difference to its eight
// neighbours and to the image's mean color, normalized so the maximum is 1.
// Border pixels score 0.
func (d *SubjectDetector) calculateSaliencyMap(img image.Image) [][]float64 {
	src := imaging.Clone(img)
	width, height := src.Bounds().Dx(), src.Bounds().Dy()

	saliencyMap := make([][]float64, height)
	for i := range saliencyMap {
		saliencyMap[i] = make([]float64, width)
	}

	var mr, mg, mb float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := src.NRGBAAt(x, y)
			mr += float64(c.R)
			mg += float64(c.G)
			mb += float64(c.B)
		}
	}
	n := float64(width * height)
	mean := [3]float64{mr / n, mg / n, mb / n}

	maxDiff := math.Sqrt(3) * 255
	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

	peak := 0.0
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			c := src.NRGBAAt(x, y)
			cur := [3]float64{float64(c.R), float64(c.G), float64(c.B)}

			var edgeStrength float64
			for _, off := range neighbors {
				nc := src.NRGBAAt(x+off[0], y+off[1])
				edgeStrength += colorDistance(cur, [3]float64{float64(nc.R), float64(nc.G), float64(nc.B)})
			}
			edgeStrength /= 8 * maxDiff

			contrast := colorDistance(cur, mean) / maxDiff

			s := d.config.ContrastWeight*edgeStrength + d.config.ColorWeight*contrast
			saliencyMap[y][x] = s
			peak = max(peak, s)
		}
	}

	if peak > 0 {
		for y := range saliencyMap {
			for x := range saliencyMap[y] {
				saliencyMap[y][x] /= peak
			}
		}
	}
	return saliencyMap
}

func colorDistance(a, b [3]float64) float64 {
	dr, dg, db := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// findImportantRegions labels 4-connected components of pixels above the
// edge threshold and returns their bounding rectangles scored by the mean
// saliency of the component.
func (d *SubjectDetector) findImportantRegions(saliencyMap [][]float64, width, height int) []Region {
	var regions []Region
	visited := make([]bool, width*height)
	var stack []int

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if visited[y*width+x] || saliencyMap[y][x] <= d.config.EdgeThreshold {
				continue
			}

			minX, minY, maxX, maxY := x, y, x, y
			var total float64
			count := 0

			visited[y*width+x] = true
			stack = append(stack[:0], y*width+x)
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				px, py := p%width, p/width

				total += saliencyMap[py][px]
				count++
				minX, maxX = min(minX, px), max(maxX, px)
				minY, maxY = min(minY, py), max(maxY, py)

				for _, q := range [4][2]int{{px - 1, py}, {px + 1, py}, {px, py - 1}, {px, py + 1}} {
					qx, qy := q[0], q[1]
					if qx < 0 || qy < 0 || qx >= width || qy >= height {
						continue
					}
					idx := qy*width + qx
					if visited[idx] || saliencyMap[qy][qx] <= d.config.EdgeThreshold {
						continue
					}
					visited[idx] = true
					stack = append(stack, idx)
				}
			}

			regions = append(regions, Region{
				X:      minX,
				Y:      minY,
				Width:  maxX - minX + 1,
				Height: maxY - minY + 1,
				Score:  total / float64(count),
			})
		}
	}
	return regions
}

func (d *SubjectDetector) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	var filtered []Region

	imageArea := imageWidth * imageHeight
	minArea := int(float64(imageArea) * d.config.MinSubjectRatio)

	for _, region := range regions {
		if region.Area() >= minArea && region.Width > 1 && region.Height > 1 {
			filtered = append(filtered, region)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	return filtered
}
