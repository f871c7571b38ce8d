package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/menta2k/keypoint-labeler/pkg/types"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if r.FormValue("conf") != "0.25" || r.FormValue("iou") != "0.45" {
			t.Errorf("Unexpected thresholds conf=%s iou=%s", r.FormValue("conf"), r.FormValue("iou"))
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "frame.jpg" || string(data) != "jpeg bytes" {
			t.Errorf("Unexpected upload %s %q", hdr.Filename, data)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"detections": [
				{"class_id": 1, "box": [300, 500, 100, 100], "confidence": 0.9, "keypoints": [[150, 200, 0.8], [0, 0]]},
				{"class_id": 0, "box": [10, 10, 50, 50], "confidence": 0.1}
			],
			"names": {"0": "person", "1": "dog"}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	result, err := c.Detect(context.Background(), writeImage(t), 0.25, 0.45)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// the 0.1 detection is below the confidence threshold
	if len(result.Detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(result.Detections))
	}
	d := result.Detections[0]
	if d.Box != [4]float64{100, 100, 300, 500} {
		t.Errorf("Expected normalized corners, got %v", d.Box)
	}
	if len(d.Keypoints) != 2 || d.Keypoints[0].Confidence != 0.8 || d.Keypoints[1].Confidence != 1 {
		t.Errorf("Unexpected keypoints %+v", d.Keypoints)
	}
	if result.Names[1] != "dog" {
		t.Errorf("Expected names to be decoded, got %v", result.Names)
	}
}

func TestDetectErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "model not loaded"},
		{"bad json", http.StatusOK, "not json"},
		{"short box", http.StatusOK, `{"detections":[{"class_id":0,"box":[1,2,3],"confidence":0.9}]}`},
		{"bad keypoint", http.StatusOK, `{"detections":[{"class_id":0,"box":[1,2,3,4],"confidence":0.9,"keypoints":[[1]]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := NewClient(srv.URL, nil)
			_, err := c.Detect(context.Background(), writeImage(t), 0.5, 0.5)
			if !errors.Is(err, types.ErrExternalFailure) {
				t.Errorf("Expected ErrExternalFailure, got %v", err)
			}
		})
	}
}

func TestDetectMissingImage(t *testing.T) {
	c, _ := NewClient("http://localhost:1", nil)
	_, err := c.Detect(context.Background(), filepath.Join(t.TempDir(), "none.jpg"), 0.5, 0.5)
	if !errors.Is(err, types.ErrExternalFailure) {
		t.Errorf("Expected ErrExternalFailure, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected /health, got %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, nil)
	if err := c.CheckHealth(context.Background()); err != nil {
		t.Errorf("Expected healthy service, got %v", err)
	}

	healthy = false
	if err := c.CheckHealth(context.Background()); !errors.Is(err, types.ErrResourceUnavailable) {
		t.Errorf("Expected ErrResourceUnavailable, got %v", err)
	}
}

func TestNewClientInvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8000", "://bad"} {
		if _, err := NewClient(u, nil); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %q, got %v", u, err)
		}
	}
}
