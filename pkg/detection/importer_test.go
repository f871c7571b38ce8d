package detection

import (
	"errors"
	"math"
	"testing"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

func TestImportDetectionsStrictThreshold(t *testing.T) {
	raw := []types.Detection{{
		ClassID: 1,
		Box:     [4]float64{10, 20, 110, 220},
		Keypoints: []types.RawKeypoint{
			{X: 30, Y: 40, Confidence: 0.9},
			{X: 50, Y: 60, Confidence: 0.5},
			{X: 70, Y: 80, Confidence: 0.2},
			{X: 90, Y: 100, Confidence: 0.51},
		},
	}}

	boxes, err := ImportDetections(raw, 0.5)
	if err != nil {
		t.Fatalf("ImportDetections failed: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("Expected 1 box, got %d", len(boxes))
	}

	b := boxes[0]
	if b.ClassID != 1 || b.X1 != 10 || b.Y1 != 20 || b.X2 != 110 || b.Y2 != 220 {
		t.Errorf("Unexpected box %+v", b)
	}

	// confidence 0.5 is not strictly above 0.5 and is dropped
	if len(b.Keypoints) != 2 {
		t.Fatalf("Expected 2 keypoints, got %d: %+v", len(b.Keypoints), b.Keypoints)
	}
	if b.Keypoints[0].ClassID != 0 || b.Keypoints[1].ClassID != 3 {
		t.Errorf("Expected keypoint classes 0 and 3, got %d and %d", b.Keypoints[0].ClassID, b.Keypoints[1].ClassID)
	}
	for _, kp := range b.Keypoints {
		if !kp.Visible {
			t.Errorf("Expected imported keypoint %d to be visible", kp.ClassID)
		}
	}
	if b.Keypoints[1].X != 90 || b.Keypoints[1].Y != 100 {
		t.Errorf("Expected keypoint coordinates copied as-is, got (%f,%f)", b.Keypoints[1].X, b.Keypoints[1].Y)
	}
}

func TestImportDetectionsNormalizesCorners(t *testing.T) {
	boxes, err := ImportDetections([]types.Detection{{Box: [4]float64{200, 150, 50, 20}}}, 0.5)
	if err != nil {
		t.Fatalf("ImportDetections failed: %v", err)
	}
	b := boxes[0]
	if b.X1 != 50 || b.Y1 != 20 || b.X2 != 200 || b.Y2 != 150 {
		t.Errorf("Expected normalized corners, got %+v", b)
	}
}

func TestImportDetectionsInvalidInput(t *testing.T) {
	good := types.Detection{Box: [4]float64{0, 0, 10, 10}}

	for _, thr := range []float64{-0.1, 1.5} {
		boxes, err := ImportDetections([]types.Detection{good}, thr)
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for threshold %v, got %v", thr, err)
		}
		if boxes != nil {
			t.Errorf("Expected no boxes for threshold %v", thr)
		}
	}

	boxes, err := ImportDetections([]types.Detection{good, {ClassID: -3}}, 0.5)
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for negative class, got %v", err)
	}
	if boxes != nil {
		t.Error("Expected nothing produced when one detection is invalid")
	}
}

func TestImportDetectionsNonFinite(t *testing.T) {
	tests := []types.Detection{
		{Box: [4]float64{math.NaN(), 0, 10, 10}},
		{Box: [4]float64{0, 0, math.Inf(1), 10}},
		{Box: [4]float64{0, 0, 10, 10}, Keypoints: []types.RawKeypoint{{X: math.NaN(), Y: 1, Confidence: 0.9}}},
	}
	for _, d := range tests {
		boxes, err := ImportDetections([]types.Detection{d}, 0.5)
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %+v, got %v", d, err)
		}
		if boxes != nil {
			t.Errorf("Expected no boxes for %+v", d)
		}
	}
}

func TestImportDetectionsSkipsDegenerate(t *testing.T) {
	boxes, err := ImportDetections([]types.Detection{
		{Box: [4]float64{10, 10, 10, 50}},
		{ClassID: 1, Box: [4]float64{0, 0, 40, 40}},
		{Box: [4]float64{10, 30, 50, 30}},
	}, 0.5)
	if err != nil {
		t.Fatalf("ImportDetections failed: %v", err)
	}
	if len(boxes) != 1 || boxes[0].ClassID != 1 {
		t.Errorf("Expected only the class 1 box, got %+v", boxes)
	}
}

func TestImportDetectionsEmpty(t *testing.T) {
	boxes, err := ImportDetections(nil, 0.5)
	if err != nil {
		t.Fatalf("ImportDetections failed: %v", err)
	}
	if len(boxes) != 0 {
		t.Errorf("Expected no boxes, got %d", len(boxes))
	}
}
