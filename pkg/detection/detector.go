package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/menta2k/keypoint-labeler/pkg/client"
	"github.com/menta2k/keypoint-labeler/pkg/processing"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks a vision model for boxes and keypoints. The class list
// and keypoint count are filled in by BuildPrompt.
const DefaultPrompt = `You are an object detector for a labeling tool.

Detect every instance of these classes (class_id: name):
%s

Return JSON only:
{
  "detections": [
    {
      "class_id": 0,
      "label": "string",
      "confidence": 0.0,
      "box": [0.0, 0.0, 0.0, 0.0],
      "keypoints": [[0.0, 0.0, 0.0]]
    }
  ]
}

HARD RULES
- "box" is [x1, y1, x2, y2] with all coordinates normalized to [0,1] (NOT pixels), x1 < x2, y1 < y2.
- "keypoints" has exactly %d entries [x, y, confidence], normalized like the box, in keypoint class order. Use [0.0, 0.0, 0.0] for a keypoint you cannot see.
- "confidence" is in [0,1].
- If nothing is found, return {"detections": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// VisionOptions configures a VisionDetector
type VisionOptions struct {
	Model        string
	Classes      []string
	NumKeypoints int
	MaxSize      int
	Quality      int
	Prompt       string
}

// VisionDetector detects objects by prompting a vision language model
type VisionDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      VisionOptions
	logger    *zap.SugaredLogger
}

// NewVisionDetector creates a detector backed by a vision client
func NewVisionDetector(c client.VisionClient, opts VisionOptions, logger *zap.SugaredLogger) *VisionDetector {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1024
	}
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &VisionDetector{client: c, processor: processing.NewProcessor(), opts: opts, logger: logger}
}

// BuildPrompt renders the detection prompt for the configured classes
func (d *VisionDetector) BuildPrompt() string {
	if d.opts.Prompt != "" {
		return d.opts.Prompt
	}
	var classes strings.Builder
	if len(d.opts.Classes) == 0 {
		classes.WriteString("0: object\n")
	}
	for i, name := range d.opts.Classes {
		fmt.Fprintf(&classes, "%d: %s\n", i, name)
	}
	return fmt.Sprintf(DefaultPrompt, strings.TrimRight(classes.String(), "\n"), d.opts.NumKeypoints)
}

// Detect implements Provider
func (d *VisionDetector) Detect(ctx context.Context, imagePath string, conf, iou float64) (*types.DetectionResult, error) {
	img, err := d.processor.LoadImage(imagePath)
	if err != nil {
		return nil, types.ExternalFailure("load image", err)
	}
	b := img.Bounds()

	imgB64, err := d.processor.PrepareImageForModel(img, "jpeg", d.opts.MaxSize, d.opts.Quality)
	if err != nil {
		return nil, types.ExternalFailure("encode image", err)
	}

	reply, err := d.client.Query(ctx, d.opts.Model, d.BuildPrompt(), imgB64)
	if err != nil {
		return nil, types.ExternalFailure("vision model", err)
	}

	result, err := ParseReply(reply, b.Dx(), b.Dy())
	if err != nil {
		return nil, types.ExternalFailure("parse model reply", err)
	}

	before := len(result.Detections)
	result.Detections = NonMaxSuppression(FilterByConfidence(result.Detections, conf), iou)
	d.logger.Debugw("vision detections", "image", imagePath, "raw", before, "kept", len(result.Detections))

	for i, name := range d.opts.Classes {
		if _, ok := result.Names[i]; !ok {
			result.Names[i] = name
		}
	}
	return result, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *VisionDetector) TestVision(ctx context.Context, imagePath string) (string, error) {
	img, err := d.processor.LoadImage(imagePath)
	if err != nil {
		return "", types.ExternalFailure("load image", err)
	}
	imgB64, err := d.processor.PrepareImageForModel(img, "jpeg", d.opts.MaxSize, d.opts.Quality)
	if err != nil {
		return "", types.ExternalFailure("encode image", err)
	}
	return d.client.Query(ctx, d.opts.Model, SimpleTestPrompt, imgB64)
}

type visionReply struct {
	Detections []struct {
		ClassID    int         `json:"class_id"`
		Label      string      `json:"label"`
		Confidence float64     `json:"confidence"`
		Box        []float64   `json:"box"`
		Keypoints  [][]float64 `json:"keypoints"`
	} `json:"detections"`
}

// ParseReply decodes a model reply and converts its normalized coordinates to
// pixels of an imgW x imgH image. A box or keypoint with a coordinate above 1
// is taken as pixels already; the box and each keypoint are judged on their
// own. Entries with a malformed box are skipped.
func ParseReply(raw string, imgW, imgH int) (*types.DetectionResult, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var reply visionReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	result := &types.DetectionResult{Names: map[int]string{}}
	for _, rd := range reply.Detections {
		if len(rd.Box) != 4 || rd.ClassID < 0 {
			continue
		}
		pixels := isPixels(rd.Box)
		det := types.Detection{
			ClassID:    rd.ClassID,
			Confidence: clamp(rd.Confidence, 0, 1),
			Box: [4]float64{
				toPixels(rd.Box[0], imgW, pixels),
				toPixels(rd.Box[1], imgH, pixels),
				toPixels(rd.Box[2], imgW, pixels),
				toPixels(rd.Box[3], imgH, pixels),
			},
		}
		for _, kp := range rd.Keypoints {
			if len(kp) < 3 {
				det.Keypoints = append(det.Keypoints, types.RawKeypoint{})
				continue
			}
			kpPixels := isPixels(kp[:2])
			det.Keypoints = append(det.Keypoints, types.RawKeypoint{
				X:          toPixels(kp[0], imgW, kpPixels),
				Y:          toPixels(kp[1], imgH, kpPixels),
				Confidence: clamp(kp[2], 0, 1),
			})
		}
		result.Detections = append(result.Detections, det)

		if label := strings.TrimSpace(rd.Label); label != "" {
			if _, ok := result.Names[rd.ClassID]; !ok {
				result.Names[rd.ClassID] = label
			}
		}
	}
	return result, nil
}

func isPixels(coords []float64) bool {
	for _, v := range coords {
		if v > 1 {
			return true
		}
	}
	return false
}

func toPixels(v float64, extent int, pixels bool) float64 {
	if pixels {
		return clamp(v, 0, float64(extent))
	}
	return clamp(v, 0, 1) * float64(extent)
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
