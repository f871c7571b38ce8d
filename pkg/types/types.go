package types

// RawKeypoint is a detector keypoint in absolute image pixels. Its position in
// Detection.Keypoints is the keypoint class id.
type RawKeypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Detection is a single raw prediction of a detector
type Detection struct {
	ClassID    int           `json:"class_id"`
	Box        [4]float64    `json:"box"` // absolute x1, y1, x2, y2
	Confidence float64       `json:"confidence"`
	Keypoints  []RawKeypoint `json:"keypoints,omitempty"`
}

// DetectionResult is the full result set of one inference call
type DetectionResult struct {
	Detections []Detection    `json:"detections"`
	Names      map[int]string `json:"names,omitempty"` // display only, never persisted
}

// InferenceParams configures a detector call and the import of its output
type InferenceParams struct {
	Confidence float64 `json:"conf"`
	IoU        float64 `json:"iou"`
	Visibility float64 `json:"visibility"`
}

// DefaultInferenceParams returns the thresholds the labeler starts with
func DefaultInferenceParams() InferenceParams {
	return InferenceParams{Confidence: 0.5, IoU: 0.4, Visibility: 0.5}
}

// Validate checks that all thresholds lie in [0,1]
func (p InferenceParams) Validate() error {
	check := func(name string, v float64) error {
		if v < 0 || v > 1 || v != v {
			return InvalidInputf("%s must be between 0 and 1, got %v", name, v)
		}
		return nil
	}
	if err := check("confidence", p.Confidence); err != nil {
		return err
	}
	if err := check("iou", p.IoU); err != nil {
		return err
	}
	return check("visibility", p.Visibility)
}

// Handle identifies one of the eight resize handles of a box
type Handle string

const (
	HandleNone        Handle = ""
	HandleTopLeft     Handle = "tl"
	HandleTopRight    Handle = "tr"
	HandleBottomLeft  Handle = "bl"
	HandleBottomRight Handle = "br"
	HandleLeft        Handle = "l"
	HandleRight       Handle = "r"
	HandleTop         Handle = "t"
	HandleBottom      Handle = "b"
)

// Corners lists the corner handles in hit-test priority order.
var Corners = []Handle{HandleTopLeft, HandleTopRight, HandleBottomLeft, HandleBottomRight}

// Edges lists the edge handles in hit-test priority order.
var Edges = []Handle{HandleLeft, HandleRight, HandleTop, HandleBottom}

// Valid reports whether h is one of the eight known handles
func (h Handle) Valid() bool {
	switch h {
	case HandleTopLeft, HandleTopRight, HandleBottomLeft, HandleBottomRight,
		HandleLeft, HandleRight, HandleTop, HandleBottom:
		return true
	}
	return false
}

// ImageExtensions are the file extensions picked up by a directory scan
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
