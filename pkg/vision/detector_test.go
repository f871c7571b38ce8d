package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// createTestImage creates a simple test image with some patterns
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Create a simple pattern with high contrast areas (simulate subjects)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/4 && x < width/2 && y > height/4 && y < 3*height/4 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255}) // White square
			} else if x > 3*width/4 && y > height/4 && y < 3*height/4 {
				img.Set(x, y, color.RGBA{0, 0, 0, 255}) // Black square
			} else {
				r := uint8((x * 128) / width)
				g := uint8((y * 128) / height)
				img.Set(x, y, color.RGBA{r, g, 64, 255})
			}
		}
	}

	return img
}

// createSquareImage draws a white square on a flat gray background
func createSquareImage(size, x0, x1 int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x >= x0 && x < x1 && y >= x0 && y < x1 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestNew(t *testing.T) {
	detector := New(nil)
	if detector == nil {
		t.Fatal("New() returned nil")
	}

	if detector.config.EdgeThreshold != 0.25 {
		t.Errorf("Expected edge threshold 0.25, got %f", detector.config.EdgeThreshold)
	}
}

func TestNewWithConfig(t *testing.T) {
	cfg := DetectionConfig{
		EdgeThreshold:   0.2,
		ContrastWeight:  0.4,
		ColorWeight:     0.3,
		MinSubjectRatio: 0.2,
	}

	detector := NewWithConfig(cfg, zaptest.NewLogger(t).Sugar())
	if detector == nil {
		t.Fatal("NewWithConfig() returned nil")
	}

	if detector.config.EdgeThreshold != 0.2 {
		t.Errorf("Expected edge threshold 0.2, got %f", detector.config.EdgeThreshold)
	}
}

func TestRegionCenter(t *testing.T) {
	region := Region{X: 10, Y: 20, Width: 100, Height: 80}

	centerX, centerY := region.Center()
	if centerX != 60 || centerY != 60 {
		t.Errorf("Expected center (60, 60), got (%d, %d)", centerX, centerY)
	}
}

func TestRegionArea(t *testing.T) {
	region := Region{X: 10, Y: 20, Width: 100, Height: 80}
	if region.Area() != 8000 {
		t.Errorf("Expected area 8000, got %d", region.Area())
	}
}

func TestDetectSubjects(t *testing.T) {
	detector := New(nil)
	img := createTestImage(400, 300)

	regions, err := detector.DetectSubjects(img)
	if err != nil {
		t.Fatalf("DetectSubjects failed: %v", err)
	}

	if len(regions) == 0 {
		t.Fatal("Expected to detect at least one region")
	}

	for i, region := range regions {
		if region.Width <= 0 || region.Height <= 0 {
			t.Errorf("Region %d has invalid dimensions: %dx%d", i, region.Width, region.Height)
		}
		if region.Score <= 0 || region.Score > 1 {
			t.Errorf("Region %d has score outside (0, 1]: %f", i, region.Score)
		}
		if i > 0 && regions[i-1].Score < region.Score {
			t.Errorf("Expected regions sorted by score, %d before %d", i-1, i)
		}
	}
}

func TestDetectSubjectsUniformImage(t *testing.T) {
	detector := New(nil)
	img := createSquareImage(50, 0, 0)

	regions, err := detector.DetectSubjects(img)
	if err != nil {
		t.Fatalf("DetectSubjects failed: %v", err)
	}
	if len(regions) != 0 {
		t.Errorf("Expected no regions on a flat image, got %v", regions)
	}
}

func TestCalculateSaliencyMap(t *testing.T) {
	detector := New(nil)
	img := createTestImage(100, 100)

	saliencyMap := detector.calculateSaliencyMap(img)

	if len(saliencyMap) != 100 {
		t.Errorf("Expected saliency map height 100, got %d", len(saliencyMap))
	}
	if len(saliencyMap[0]) != 100 {
		t.Errorf("Expected saliency map width 100, got %d", len(saliencyMap[0]))
	}

	peak := 0.0
	for _, row := range saliencyMap {
		for _, v := range row {
			peak = max(peak, v)
		}
	}
	if peak != 1 {
		t.Errorf("Expected the map to be normalized to 1, got peak %f", peak)
	}
}

func TestDetect(t *testing.T) {
	detector := New(zaptest.NewLogger(t).Sugar())
	path := writePNG(t, createSquareImage(90, 30, 60))

	result, err := detector.Detect(context.Background(), path, 0.1, 0.5)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(result.Detections) != 1 {
		t.Fatalf("Expected 1 proposal, got %d", len(result.Detections))
	}

	d := result.Detections[0]
	want := [4]float64{30, 30, 60, 60}
	for i := range want {
		if d.Box[i] < want[i]-2 || d.Box[i] > want[i]+2 {
			t.Errorf("Expected box near %v, got %v", want, d.Box)
			break
		}
	}
	if len(d.Keypoints) != 0 {
		t.Errorf("Expected no keypoints, got %v", d.Keypoints)
	}
	if result.Names[0] != "object" {
		t.Errorf("Expected class name 'object', got %q", result.Names[0])
	}
}

func TestDetectScalesBackToImagePixels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDim = 45
	detector := NewWithConfig(cfg, nil)
	path := writePNG(t, createSquareImage(90, 30, 60))

	result, err := detector.Detect(context.Background(), path, 0.1, 0.5)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(result.Detections) != 1 {
		t.Fatalf("Expected 1 proposal, got %d", len(result.Detections))
	}
	box := result.Detections[0].Box
	if box[0] < 24 || box[0] > 32 || box[2] < 58 || box[2] > 66 {
		t.Errorf("Expected box in full-resolution pixels, got %v", box)
	}
}

func TestDetectConfidenceFilter(t *testing.T) {
	detector := New(nil)
	path := writePNG(t, createSquareImage(90, 30, 60))

	result, err := detector.Detect(context.Background(), path, 1.0, 0.5)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(result.Detections) != 0 {
		t.Errorf("Expected no proposals above confidence 1.0, got %d", len(result.Detections))
	}
}

func TestDetectErrors(t *testing.T) {
	detector := New(nil)

	_, err := detector.Detect(context.Background(), filepath.Join(t.TempDir(), "missing.png"), 0.5, 0.5)
	if !errors.Is(err, types.ErrExternalFailure) {
		t.Errorf("Expected ErrExternalFailure, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := writePNG(t, createSquareImage(20, 5, 15))
	if _, err := detector.Detect(ctx, path, 0.5, 0.5); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func BenchmarkDetectSubjects(b *testing.B) {
	detector := New(nil)
	img := createTestImage(400, 300)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		detector.DetectSubjects(img)
	}
}
