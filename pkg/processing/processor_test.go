package processing

import (
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/menta2k/keypoint-labeler/pkg/annotation"
	"github.com/menta2k/keypoint-labeler/pkg/geometry"
)

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 64, 255})
		}
	}
	return img
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(64, 48)

	for _, ext := range []string{".png", ".jpg", ".jpeg", ".bmp", ".webp", ".PNG"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "img"+ext)
			if err := p.SaveImage(img, path, 90); err != nil {
				t.Fatalf("SaveImage failed: %v", err)
			}

			loaded, err := p.LoadImage(path)
			if err != nil {
				t.Fatalf("LoadImage failed: %v", err)
			}
			if loaded.Bounds().Dx() != 64 || loaded.Bounds().Dy() != 48 {
				t.Errorf("Expected 64x48, got %v", loaded.Bounds())
			}
		})
	}
}

func TestLoadImageErrors(t *testing.T) {
	p := NewProcessor()
	if _, err := p.LoadImage(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("Expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "garbage.jpg")
	os.WriteFile(path, []byte("not an image"), 0o644)
	if _, err := p.LoadImage(path); err == nil {
		t.Error("Expected error for an undecodable file")
	}
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(400, 200)

	b64, err := p.PrepareImageForModel(img, "jpeg", 100, 80)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("Expected valid base64: %v", err)
	}
	decoded, err := jpeg.Decode(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("Expected a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 100 || decoded.Bounds().Dy() != 50 {
		t.Errorf("Expected 100x50 after downscale, got %v", decoded.Bounds())
	}
}

func TestRenderOverlay(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(200, 100)
	tr, err := geometry.ComputeTransform(400, 300, 200, 100)
	if err != nil {
		t.Fatalf("ComputeTransform failed: %v", err)
	}

	boxes := []annotation.Box{{
		ClassID: 0, X1: 20, Y1: 20, X2: 120, Y2: 80,
		Keypoints: []annotation.Keypoint{{ClassID: 1, X: 60, Y: 50, Visible: true}},
	}}
	out := p.RenderOverlay(img, boxes, tr, 400, 300, OverlayOptions{Selected: 0})

	if out.Bounds().Dx() != 400 || out.Bounds().Dy() != 300 {
		t.Fatalf("Expected 400x300 canvas, got %v", out.Bounds())
	}

	// canvas outside the image keeps the background
	if got := out.NRGBAAt(5, 5); got != background {
		t.Errorf("Expected background at (5,5), got %v", got)
	}

	// left edge of the box, away from the handles and the class label
	x, y := geometry.ToDisplaySpace(20, 70, tr)
	if got := out.NRGBAAt(x, y); got != ClassColor(0) {
		t.Errorf("Expected box outline at (%d,%d), got %v", x, y, got)
	}

	// visible keypoint is a filled square
	kx, ky := geometry.ToDisplaySpace(60, 50, tr)
	if got := out.NRGBAAt(kx+1, ky+1); got != ClassColor(1) {
		t.Errorf("Expected keypoint fill at (%d,%d), got %v", kx+1, ky+1, got)
	}

	// handle of the selected box at the bottom-right corner
	hx, hy := geometry.ToDisplaySpace(120, 80, tr)
	if got := out.NRGBAAt(hx-1, hy-1); got != handleFill {
		t.Errorf("Expected handle fill at (%d,%d), got %v", hx-1, hy-1, got)
	}
}

func TestRenderOverlayHiddenKeypointAndLive(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(100, 100)
	boxes := []annotation.Box{{
		ClassID: 2, X1: 10, Y1: 10, X2: 90, Y2: 90,
		Keypoints: []annotation.Keypoint{{ClassID: 0, X: 50, Y: 50, Visible: false}},
	}}
	live := &annotation.Box{X1: 5, Y1: 5, X2: 30, Y2: 30}
	out := p.RenderOverlay(img, boxes, geometry.Identity, 100, 100, OverlayOptions{Selected: -1, Live: live})

	// a hidden keypoint is a cross: the center is drawn, the square corner is not
	if got := out.NRGBAAt(50, 50); got != ClassColor(0) {
		t.Errorf("Expected cross center, got %v", got)
	}
	if got := out.NRGBAAt(52, 49); got == ClassColor(0) {
		t.Error("Expected hidden keypoint not to be filled")
	}
	if got := out.NRGBAAt(30, 20); got != liveColor {
		t.Errorf("Expected live rectangle edge, got %v", got)
	}
}

func TestClassColor(t *testing.T) {
	if ClassColor(0) != ClassColor(len(classPalette)) {
		t.Error("Expected the palette to wrap around")
	}
	if ClassColor(-1) != ClassColor(1) {
		t.Error("Expected negative ids to map into the palette")
	}
}
